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

// Package proxy implements the core, per-protocol proxy engine: the
// handle slab, routing tables, application/instance table, buffer
// model and session state machines for TCP, HTTP/1.x and TLS
// front-ends.
package proxy

import (
	"fmt"
	"net"
	"sync"
)

// Handle is a small-integer identifier partitioned into three
// contiguous ranges at startup: listeners, front sessions, back
// sessions. An event's owner is inferred purely from which range its
// Handle falls in — no map lookup on the hot path.
type Handle int

// Kind classifies a Handle by the range it falls in.
type Kind int

const (
	KindInvalid Kind = iota
	KindListener
	KindFront
	KindBack
)

// Limits fixes the slab's three range sizes, chosen at engine
// construction.
type Limits struct {
	MaxListeners int
	MaxSessions  int
}

// Space computes the three contiguous Handle ranges from Limits, and
// resolves which range (and which owning session slot) a Handle
// belongs to.
type Space struct {
	limits Limits

	mu    sync.Mutex
	live  int
	conns map[net.Conn]struct{}
}

// NewSpace validates and wraps Limits into a Space.
func NewSpace(l Limits) (*Space, error) {
	if l.MaxListeners <= 0 || l.MaxSessions <= 0 {
		return nil, fmt.Errorf("proxy: MaxListeners and MaxSessions must both be positive, got %+v", l)
	}
	return &Space{limits: l, conns: make(map[net.Conn]struct{})}, nil
}

// ReserveSession admits one more live session if the slab has room.
// A listener accepts and immediately closes a connection when the
// session range is full, counting it as accept_rejected rather than
// blocking.
func (s *Space) ReserveSession() (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live >= s.limits.MaxSessions {
		return 0, false
	}
	slot := s.live
	s.live++
	return s.FrontHandle(slot), true
}

// ReleaseSession returns one session slot to the slab.
func (s *Space) ReleaseSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live > 0 {
		s.live--
	}
}

// LiveSessions reports the number of sessions currently occupying the
// slab, for status reporting.
func (s *Space) LiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// TrackConn registers an accepted front connection so HardStop can
// reach it later. Called once per accepted session, alongside
// ReserveSession.
func (s *Space) TrackConn(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

// UntrackConn removes a front connection from the registry once its
// session has torn down naturally.
func (s *Space) UntrackConn(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

// CloseAll closes every currently tracked front connection, the
// HARD_STOP cancellation path: any buffered bytes are discarded. Back
// connections are not tracked here: each session goroutine closes its
// own back connection through its defer chain once its next read from
// or write to the closed front fails, so a session blocked reading its
// back keeps that connection open until the read returns.
func (s *Space) CloseAll() {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (s *Space) listenerBase() int { return 0 }
func (s *Space) frontBase() int    { return s.limits.MaxListeners }
func (s *Space) backBase() int     { return s.limits.MaxListeners + s.limits.MaxSessions }
func (s *Space) backEnd() int      { return s.limits.MaxListeners + 2*s.limits.MaxSessions }

// Kind classifies h by which of the three ranges it falls in.
func (s *Space) Kind(h Handle) Kind {
	i := int(h)
	switch {
	case i >= s.listenerBase() && i < s.frontBase():
		return KindListener
	case i >= s.frontBase() && i < s.backBase():
		return KindFront
	case i >= s.backBase() && i < s.backEnd():
		return KindBack
	default:
		return KindInvalid
	}
}

// ListenerHandle returns the Handle for listener slot i.
func (s *Space) ListenerHandle(i int) Handle { return Handle(s.listenerBase() + i) }

// FrontHandle returns the Handle for session slot i's front side.
func (s *Space) FrontHandle(i int) Handle { return Handle(s.frontBase() + i) }

// BackHandle returns the Handle for session slot i's back side —
// always frontBase+MaxSessions+i, a fixed offset from the front
// handle of the same session, so both identifiers resolve to one
// session record.
func (s *Space) BackHandle(i int) Handle { return Handle(s.backBase() + i) }

// SessionSlot returns the session slot index a front or back Handle
// belongs to, and ok=false if h is not a session handle.
func (s *Space) SessionSlot(h Handle) (slot int, ok bool) {
	switch s.Kind(h) {
	case KindFront:
		return int(h) - s.frontBase(), true
	case KindBack:
		return int(h) - s.backBase(), true
	default:
		return 0, false
	}
}

// ListenerSlot returns the listener slot index, and ok=false if h is
// not a listener handle.
func (s *Space) ListenerSlot(h Handle) (slot int, ok bool) {
	if s.Kind(h) != KindListener {
		return 0, false
	}
	return int(h), true
}
