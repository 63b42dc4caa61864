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

package proxy

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	liberr "github.com/ryantm/sozu/internal/errors"
)

// InstanceStatus is a back-end instance's lifecycle state: Normal,
// Closing (draining, no new sessions), Closed (removed once
// active_connections reaches zero).
type InstanceStatus int

const (
	StatusNormal InstanceStatus = iota
	StatusClosing
	StatusClosed
)

// Instance is one back-end address serving an application.
type Instance struct {
	App     string
	Addr    string
	Status  InstanceStatus
	Active  int64
	Failures int
}

// unpickable reports whether the instance cannot be chosen for a new
// session: no longer Normal, or at the failure threshold.
func (i *Instance) unpickable(maxFailures int) bool {
	return i.Status != StatusNormal || i.Failures >= maxFailures
}

// AppTable maps application id -> ordered instance list, with
// random-among-healthy selection and bounded retry on connect
// failure.
type AppTable struct {
	mu          sync.Mutex
	instances   map[string][]*Instance
	maxFailures int
	maxRetries  int
	dial        func(ctx context.Context, addr string) (net.Conn, error)
	rng         *rand.Rand
}

// NewAppTable builds an application table. maxFailures and maxRetries
// default to sensible values; dial defaults to net.Dialer.DialContext
// over TCP.
func NewAppTable(maxFailures, maxRetries int) *AppTable {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &AppTable{
		instances:   make(map[string][]*Instance),
		maxFailures: maxFailures,
		maxRetries:  maxRetries,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// AddInstance appends a back-end instance to app. The application is
// created implicitly if this is its first reference.
func (t *AppTable) AddInstance(app, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, inst := range t.instances[app] {
		if inst.Addr == addr {
			inst.Status = StatusNormal
			inst.Failures = 0
			return
		}
	}
	t.instances[app] = append(t.instances[app], &Instance{App: app, Addr: addr, Status: StatusNormal})
}

// RemoveInstance marks the matching instance Closing: it stops being
// selectable for new sessions but existing sessions drain naturally.
// It is dropped from the table immediately if it already has zero
// active connections.
func (t *AppTable) RemoveInstance(app, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.instances[app]
	for i, inst := range list {
		if inst.Addr != addr {
			continue
		}
		if inst.Active <= 0 {
			t.instances[app] = append(list[:i], list[i+1:]...)
			t.pruneLocked(app)
			return
		}
		inst.Status = StatusClosing
		return
	}
}

func (t *AppTable) pruneLocked(app string) {
	if len(t.instances[app]) == 0 {
		delete(t.instances, app)
	}
}

// Instances returns a snapshot of app's instance records, for status
// reporting.
func (t *AppTable) Instances(app string) []Instance {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.instances[app]
	out := make([]Instance, len(list))
	for i, inst := range list {
		out[i] = *inst
	}
	return out
}

// Apps returns the set of application ids currently known to the
// table, for status reporting.
func (t *AppTable) Apps() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.instances))
	for app := range t.instances {
		out = append(out, app)
	}
	return out
}

// candidatesLocked returns the instances currently eligible for
// selection: Normal and under the failure threshold.
func (t *AppTable) candidatesLocked(app string) []*Instance {
	var out []*Instance
	for _, inst := range t.instances[app] {
		if !inst.unpickable(t.maxFailures) {
			out = append(out, inst)
		}
	}
	return out
}

// Reachable reports whether app currently has at least one Normal
// instance under the failure threshold, i.e. whether a route bound to
// it can still be served.
func (t *AppTable) Reachable(app string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.candidatesLocked(app)) > 0
}

// Connect picks a back-end instance for app uniformly at random among
// healthy candidates and dials it, retrying a bounded number of
// distinct candidates on failure. It returns ErrNoBackendAvailable
// once candidates are exhausted.
func (t *AppTable) Connect(ctx context.Context, app string) (net.Conn, *Instance, liberr.Error) {
	b := &backoff.Backoff{Min: 5 * time.Millisecond, Max: 200 * time.Millisecond, Factor: 2}

	tried := make(map[string]bool)
	for attempt := 0; attempt < t.maxRetries; attempt++ {
		t.mu.Lock()
		cands := t.candidatesLocked(app)
		var fresh []*Instance
		for _, c := range cands {
			if !tried[c.Addr] {
				fresh = append(fresh, c)
			}
		}
		if len(fresh) == 0 {
			t.mu.Unlock()
			return nil, nil, liberr.Newf(liberr.ErrNoBackendAvailable, "no healthy instance left for application %q after %d attempt(s)", app, attempt)
		}
		inst := fresh[t.rng.Intn(len(fresh))]
		t.mu.Unlock()

		tried[inst.Addr] = true

		conn, err := t.dial(ctx, inst.Addr)
		if err == nil {
			t.mu.Lock()
			inst.Active++
			t.mu.Unlock()
			return conn, inst, nil
		}

		t.mu.Lock()
		inst.Failures++
		t.mu.Unlock()

		if attempt+1 < t.maxRetries {
			time.Sleep(b.Duration())
		}
	}

	return nil, nil, liberr.Newf(liberr.ErrNoBackendAvailable, "no backend available for application %q after %d attempts", app, t.maxRetries)
}

// Release decrements an instance's active connection count on
// session teardown, transitioning Closing -> Closed and dropping the
// record once it reaches zero.
func (t *AppTable) Release(inst *Instance) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if inst.Active > 0 {
		inst.Active--
	}
	if inst.Active == 0 && inst.Status == StatusClosing {
		inst.Status = StatusClosed
		list := t.instances[inst.App]
		for i, v := range list {
			if v == inst {
				t.instances[inst.App] = append(list[:i], list[i+1:]...)
				break
			}
		}
		t.pruneLocked(inst.App)
	}
}

// TotalActive sums active connections across every instance of every
// application, for the "sum over instances of active_connections"
// testable invariant.
func (t *AppTable) TotalActive() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total int64
	for _, list := range t.instances {
		for _, inst := range list {
			total += inst.Active
		}
	}
	return total
}
