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
	"crypto/tls"
	"net"
	"sync"

	"github.com/ryantm/sozu/internal/admin"
	"github.com/ryantm/sozu/internal/certificates"
	liberr "github.com/ryantm/sozu/internal/errors"
	"github.com/ryantm/sozu/internal/logger"
	"github.com/ryantm/sozu/internal/metrics"
)

// Engine is one protocol family's event loop, run on its own
// goroutine. It owns the routing tables, the application/instance
// table and the listener set for its protocol. Every table mutation
// requested by a control order runs as a closure posted to ops rather
// than on the caller's goroutine. Session and accept goroutines do not
// go through ops: they read the routing tables, update instance
// counters in the application table and reserve slab slots directly,
// each table guarding itself with its own mutex.
type Engine struct {
	Protocol Protocol

	Space     *Space
	HTTP      *HTTPTable
	TLS       *TLSTable
	TCP       *TCPTable
	Apps      *AppTable
	Listeners *ListenerSet

	tlsConfig *tls.Config

	optionsTCP  TCPSessionOptions
	optionsHTTP HTTPSessionOptions
	optionsTLS  TLSSessionOptions

	log logger.Logger
	mx  *metrics.Sink

	ops     chan func(*Engine)
	quit    chan struct{}
	stopped sync.Once
}

// EngineOptions bounds one Engine's resource limits and session
// defaults.
type EngineOptions struct {
	Limits      Limits
	MaxFailures int
	MaxRetries  int
	TCP         TCPSessionOptions
	HTTP        HTTPSessionOptions
	TLSOpts     TLSSessionOptions
}

// DefaultEngineOptions returns sensible defaults for every protocol.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		Limits:      Limits{MaxListeners: 64, MaxSessions: 4096},
		MaxFailures: 3,
		MaxRetries:  5,
		TCP:         DefaultTCPSessionOptions(),
		HTTP:        DefaultHTTPSessionOptions(),
		TLSOpts:     DefaultTLSSessionOptions(),
	}
}

// NewEngine builds an Engine for proto, wiring every core component
// behind the owner goroutine's ops channel.
func NewEngine(proto Protocol, opts EngineOptions, log logger.Logger, mx *metrics.Sink) (*Engine, error) {
	if log == nil {
		log = logger.Noop()
	}
	space, err := NewSpace(opts.Limits)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		Protocol: proto,
		Space:    space,
		HTTP:     NewHTTPTable(),
		TLS:      NewTLSTable(),
		TCP:      NewTCPTable(),
		Apps:     NewAppTable(opts.MaxFailures, opts.MaxRetries),
		log:      log,
		mx:       mx,
		ops:      make(chan func(*Engine)),
		quit:     make(chan struct{}),
	}
	e.Listeners = NewListenerSet(space, log, mx)
	e.tlsConfig = certificates.BuildTLSConfig(e.TLS.Certs, certificates.DefaultOptions())

	e.optionsTCP, e.optionsHTTP, e.optionsTLS = opts.TCP, opts.HTTP, opts.TLSOpts
	return e, nil
}

// Run starts the owner goroutine that drains ops until Stop is
// called. Control-order handlers and listener bind/unbind requests
// post their table mutations here; sessions post nothing.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case fn := <-e.ops:
			fn(e)
		case <-ctx.Done():
			return
		case <-e.quit:
			return
		}
	}
}

// Stop signals the owner goroutine to exit Run. Safe to call more than
// once (HardStop and a draining SoftStop can both reach it).
func (e *Engine) Stop() {
	e.stopped.Do(func() {
		close(e.quit)
	})
}

// Post submits fn to run on the owner goroutine, blocking until it is
// accepted. Control-order handlers and listener-bind/unbind requests
// go through Post so table mutation never races with Run's loop.
func (e *Engine) Post(fn func(*Engine)) {
	e.ops <- fn
}

// ListenTCP binds port to app and starts serving ServeTCPSession for
// each accepted connection.
func (e *Engine) ListenTCP(ctx context.Context, port int, app string) liberr.Error {
	done := make(chan liberr.Error, 1)
	e.Post(func(eng *Engine) {
		eng.TCP.Add(port, app)
		err := eng.Listeners.AddFront(port, ProtoTCP, func(conn net.Conn, front *Front) {
			ServeTCPSession(ctx, conn, front.Port, eng.TCP, eng.Apps, eng.optionsTCP, eng.log, eng.mx)
		})
		done <- err
	})
	return <-done
}

// ListenHTTP binds port and starts serving ServeHTTPSession for each
// accepted connection.
func (e *Engine) ListenHTTP(ctx context.Context, port int) liberr.Error {
	done := make(chan liberr.Error, 1)
	e.Post(func(eng *Engine) {
		err := eng.Listeners.AddFront(port, ProtoHTTP, func(conn net.Conn, front *Front) {
			ServeHTTPSession(ctx, conn, eng.HTTP, eng.Apps, eng.optionsHTTP, eng.log, eng.mx)
		})
		done <- err
	})
	return <-done
}

// ListenTLS binds port and starts serving ServeTLSSession for each
// accepted connection.
func (e *Engine) ListenTLS(ctx context.Context, port int) liberr.Error {
	done := make(chan liberr.Error, 1)
	e.Post(func(eng *Engine) {
		err := eng.Listeners.AddFront(port, ProtoTLS, func(conn net.Conn, front *Front) {
			ServeTLSSession(ctx, conn, eng.TLS, eng.tlsConfig, eng.Apps, eng.optionsTLS, eng.log, eng.mx)
		})
		done <- err
	})
	return <-done
}

// RemoveFront unbinds port.
func (e *Engine) RemoveFront(port int) liberr.Error {
	done := make(chan liberr.Error, 1)
	e.Post(func(eng *Engine) {
		done <- eng.Listeners.RemoveFront(port)
	})
	return <-done
}

// InstanceStatuses implements admin.StatusSource: a snapshot of every
// known application's instances with their per-instance load.
func (e *Engine) InstanceStatuses() []admin.InstanceStatus {
	var out []admin.InstanceStatus
	for _, app := range e.Apps.Apps() {
		for _, inst := range e.Apps.Instances(app) {
			out = append(out, admin.InstanceStatus{
				App:      inst.App,
				Addr:     inst.Addr,
				Status:   instanceStatusName(inst.Status),
				Active:   inst.Active,
				Failures: inst.Failures,
			})
		}
	}
	return out
}

func instanceStatusName(s InstanceStatus) string {
	switch s {
	case StatusNormal:
		return "normal"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}
