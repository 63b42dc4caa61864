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
	"fmt"
	"net"
	"sync"

	liberr "github.com/ryantm/sozu/internal/errors"
	"github.com/ryantm/sozu/internal/logger"
	"github.com/ryantm/sozu/internal/metrics"
)

// Protocol names a listener's wire protocol.
type Protocol int

const (
	ProtoTCP Protocol = iota
	ProtoHTTP
	ProtoTLS
)

func (p Protocol) String() string {
	switch p {
	case ProtoTCP:
		return "tcp"
	case ProtoHTTP:
		return "http"
	case ProtoTLS:
		return "tls"
	default:
		return "unknown"
	}
}

// Front is one bound, listening socket, created by AddFront and torn
// down by RemoveFront.
type Front struct {
	Port     int
	Protocol Protocol
	ln       net.Listener
}

// ListenerSet owns every bound socket for one engine. Listeners never
// write and never close except via RemoveFront.
type ListenerSet struct {
	mu     sync.Mutex
	fronts map[int]*Front
	space  *Space
	log    logger.Logger
	mx     *metrics.Sink
}

// NewListenerSet builds an empty listener set bound to a handle space
// and metrics sink, so accept-time slab exhaustion can be counted and
// rejected.
func NewListenerSet(space *Space, log logger.Logger, mx *metrics.Sink) *ListenerSet {
	if log == nil {
		log = logger.Noop()
	}
	return &ListenerSet{fronts: make(map[int]*Front), space: space, log: log, mx: mx}
}

// AddFront binds port and starts accepting connections, handing each
// accepted net.Conn to handle. Accepting continues until RemoveFront
// closes the underlying listener.
func (s *ListenerSet) AddFront(port int, proto Protocol, handle func(net.Conn, *Front)) liberr.Error {
	s.mu.Lock()
	if _, exists := s.fronts[port]; exists {
		s.mu.Unlock()
		return liberr.Newf(liberr.ErrConfig, "a front is already bound on port %d", port)
	}
	s.mu.Unlock()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return liberr.New(liberr.ErrConfig, fmt.Sprintf("binding front on port %d", port), err)
	}

	front := &Front{Port: port, Protocol: proto, ln: ln}

	s.mu.Lock()
	s.fronts[port] = front
	s.mu.Unlock()

	go s.acceptLoop(front, handle)
	return nil
}

func (s *ListenerSet) acceptLoop(front *Front, handle func(net.Conn, *Front)) {
	for {
		conn, err := front.ln.Accept()
		if err != nil {
			return
		}

		if _, ok := s.space.ReserveSession(); !ok {
			if s.mx != nil {
				s.mx.AcceptRejectedTotal.WithLabelValues(front.Protocol.String()).Inc()
			}
			s.log.WithField("port", front.Port).Warn("rejecting accepted connection: session slab exhausted")
			conn.Close()
			continue
		}

		if s.mx != nil {
			s.mx.AcceptTotal.WithLabelValues(front.Protocol.String()).Inc()
		}
		s.space.TrackConn(conn)
		go func(c net.Conn) {
			defer s.space.ReleaseSession()
			defer s.space.UntrackConn(c)
			handle(c, front)
		}(conn)
	}
}

// RemoveFront deregisters and closes the listener bound to port.
func (s *ListenerSet) RemoveFront(port int) liberr.Error {
	s.mu.Lock()
	front, ok := s.fronts[port]
	if ok {
		delete(s.fronts, port)
	}
	s.mu.Unlock()

	if !ok {
		return liberr.Newf(liberr.ErrConfig, "no front bound on port %d", port)
	}
	if err := front.ln.Close(); err != nil {
		return liberr.New(liberr.ErrTransport, "closing front listener", err)
	}
	return nil
}

// Ports returns the set of currently bound ports, for status
// reporting.
func (s *ListenerSet) Ports() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.fronts))
	for p := range s.fronts {
		out = append(out, p)
	}
	return out
}
