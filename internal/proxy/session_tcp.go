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
	"net"
	"sync"
	"time"

	"github.com/ryantm/sozu/internal/logger"
	"github.com/ryantm/sozu/internal/metrics"
)

// TCPSessionOptions bounds one TCP pass-through session.
type TCPSessionOptions struct {
	BufferSize     int
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
}

// DefaultTCPSessionOptions returns the defaults every TCP front
// starts with until reconfigured.
func DefaultTCPSessionOptions() TCPSessionOptions {
	return TCPSessionOptions{
		BufferSize:     16 * 1024,
		ConnectTimeout: 3 * time.Second,
		IdleTimeout:    2 * time.Minute,
	}
}

type halfCloseWriter interface {
	CloseWrite() error
}

// ServeTCPSession connects to a back-end instance eagerly, at session
// creation, rather than waiting for the first byte. Once connected,
// the session is a pure byte pipe in both directions until either
// side closes.
//
// front is already accepted; port identifies which TCPTable entry
// named the application. The back-end connection and both directions
// of the pipe are torn down before ServeTCPSession returns.
func ServeTCPSession(ctx context.Context, front net.Conn, port int, table *TCPTable, apps *AppTable, opts TCPSessionOptions, log logger.Logger, mx *metrics.Sink) {
	defer front.Close()
	if log == nil {
		log = logger.Noop()
	}

	app, ok := table.Lookup(port)
	if !ok {
		log.WithField("port", port).Warn("tcp session: no application bound to this port")
		return
	}

	connectCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	back, inst, cerr := apps.Connect(connectCtx, app)
	cancel()
	if cerr != nil {
		if mx != nil {
			mx.BackendFailures.WithLabelValues(app).Inc()
			mx.BackendConnectTotal.WithLabelValues(app, "failure").Inc()
		}
		log.WithField("app", app).Warnf("tcp session: no backend available: %v", cerr)
		return
	}
	defer back.Close()
	defer apps.Release(inst)
	if mx != nil {
		mx.BackendConnectTotal.WithLabelValues(app, "success").Inc()
	}

	if mx != nil {
		mx.SessionsActive.WithLabelValues("tcp").Inc()
		defer mx.SessionsActive.WithLabelValues("tcp").Dec()
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		pumpHalfDuplex(front, back, opts.BufferSize, opts.IdleTimeout)
	}()
	go func() {
		defer wg.Done()
		pumpHalfDuplex(back, front, opts.BufferSize, opts.IdleTimeout)
	}()
	wg.Wait()

	if mx != nil {
		mx.SessionsClosedTotal.WithLabelValues("tcp", "eof").Inc()
	}
}

// pumpHalfDuplex copies src into dst through a PipeBuffer,
// half-closing dst's write side once src reaches EOF so the peer
// direction can keep draining in-flight bytes.
func pumpHalfDuplex(dst net.Conn, src net.Conn, bufSize int, idle time.Duration) {
	buf := NewPipeBuffer(bufSize)
	for {
		if idle > 0 {
			src.SetReadDeadline(time.Now().Add(idle))
		}
		n, err := src.Read(buf.FillSlice())
		if n > 0 {
			buf.CommitFill(n)
			for buf.Drainable() {
				if idle > 0 {
					dst.SetWriteDeadline(time.Now().Add(idle))
				}
				w, werr := dst.Write(buf.DrainSlice())
				if w > 0 {
					buf.CommitDrain(w)
				}
				if werr != nil {
					return
				}
			}
		}
		if err != nil {
			if hc, ok := dst.(halfCloseWriter); ok {
				hc.CloseWrite()
			} else {
				dst.Close()
			}
			return
		}
	}
}
