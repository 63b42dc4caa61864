/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package proxy_test

import (
	"net"
	"testing"

	"github.com/ryantm/sozu/internal/proxy"
)

func TestSpacePartitionsRanges(t *testing.T) {
	sp, err := proxy.NewSpace(proxy.Limits{MaxListeners: 4, MaxSessions: 10})
	if err != nil {
		t.Fatal(err)
	}

	l := sp.ListenerHandle(2)
	if sp.Kind(l) != proxy.KindListener {
		t.Fatalf("expected listener kind for handle %d", l)
	}

	f := sp.FrontHandle(3)
	if sp.Kind(f) != proxy.KindFront {
		t.Fatalf("expected front kind for handle %d", f)
	}
	slot, ok := sp.SessionSlot(f)
	if !ok || slot != 3 {
		t.Fatalf("expected front handle to resolve to slot 3, got %d ok=%v", slot, ok)
	}

	b := sp.BackHandle(3)
	if sp.Kind(b) != proxy.KindBack {
		t.Fatalf("expected back kind for handle %d", b)
	}
	bslot, ok := sp.SessionSlot(b)
	if !ok || bslot != 3 {
		t.Fatalf("expected back handle to resolve to the same slot 3, got %d ok=%v", bslot, ok)
	}
}

func TestSpaceRejectsNonPositiveLimits(t *testing.T) {
	if _, err := proxy.NewSpace(proxy.Limits{MaxListeners: 0, MaxSessions: 10}); err == nil {
		t.Fatal("expected an error for a zero listener limit")
	}
}

func TestSpaceInvalidHandle(t *testing.T) {
	sp, err := proxy.NewSpace(proxy.Limits{MaxListeners: 2, MaxSessions: 2})
	if err != nil {
		t.Fatal(err)
	}
	if sp.Kind(proxy.Handle(999)) != proxy.KindInvalid {
		t.Fatal("expected an out-of-range handle to resolve as invalid")
	}
}

func TestSpaceCloseAllClosesTrackedConns(t *testing.T) {
	sp, err := proxy.NewSpace(proxy.Limits{MaxListeners: 2, MaxSessions: 2})
	if err != nil {
		t.Fatal(err)
	}

	a, b := net.Pipe()
	defer b.Close()
	sp.TrackConn(a)

	sp.CloseAll()

	if _, err := a.Write([]byte("x")); err == nil {
		t.Fatal("expected the tracked connection to be closed by CloseAll")
	}
}

func TestSpaceUntrackConnExcludesFromCloseAll(t *testing.T) {
	sp, err := proxy.NewSpace(proxy.Limits{MaxListeners: 2, MaxSessions: 2})
	if err != nil {
		t.Fatal(err)
	}

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	sp.TrackConn(a)
	sp.UntrackConn(a)

	sp.CloseAll()

	done := make(chan struct{})
	go func() {
		a.Write([]byte("x"))
		close(done)
	}()
	go func() {
		buf := make([]byte, 1)
		b.Read(buf)
	}()
	<-done
}
