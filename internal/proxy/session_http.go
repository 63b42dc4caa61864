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
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"time"

	liberr "github.com/ryantm/sozu/internal/errors"
	"github.com/ryantm/sozu/internal/logger"
	"github.com/ryantm/sozu/internal/metrics"
)

// HTTPSessionOptions bounds one HTTP/1.x session.
type HTTPSessionOptions struct {
	MaxHeadSize    int
	ConnectTimeout time.Duration

	// FrontTimeout and BackTimeout are the per-side read deadlines of
	// CONFIGURE_HTTP_PROXY's front_timeout and back_timeout: a session
	// whose front (resp. back) sends nothing within the window is
	// closed. Writes carry no deadline.
	FrontTimeout time.Duration
	BackTimeout  time.Duration

	// Answer404 and Answer503 are the raw response bytes configured by
	// CONFIGURE_HTTP_PROXY / CONFIGURE_TLS_PROXY; they default to a
	// bare-bones canned response when left unset.
	Answer404 []byte
	Answer503 []byte
}

// DefaultHTTPSessionOptions returns the defaults every HTTP front
// starts with until reconfigured.
func DefaultHTTPSessionOptions() HTTPSessionOptions {
	return HTTPSessionOptions{
		MaxHeadSize:    16 * 1024,
		ConnectTimeout: 3 * time.Second,
		FrontTimeout:   30 * time.Second,
		BackTimeout:    30 * time.Second,
		Answer404:      []byte(answer404),
		Answer503:      []byte(answer503),
	}
}

// ServeHTTPSession incrementally parses the request head, routes on
// (host, path_begin), forwards to the selected back-end, relays the
// response, and — when both sides allow keep-alive — reads the next
// pipelined request off the same front connection. Requests are
// served one at a time per connection, so responses are never
// reordered.
func ServeHTTPSession(ctx context.Context, front net.Conn, table *HTTPTable, apps *AppTable, opts HTTPSessionOptions, log logger.Logger, mx *metrics.Sink) {
	defer front.Close()
	if log == nil {
		log = logger.Noop()
	}

	clientIP, _, _ := net.SplitHostPort(front.RemoteAddr().String())

	var back net.Conn
	var backInst *Instance
	var curApp string
	var frontPending []byte

	defer func() {
		if back != nil {
			apps.Release(backInst)
			back.Close()
		}
	}()

	for {
		headBuf, err := readHeadBlock(front, frontPending, opts.MaxHeadSize, opts.FrontTimeout)
		frontPending = nil
		if err != nil {
			return
		}

		head, ok, perr := ParseRequestHead(headBuf)
		if perr != nil {
			// NoHostGiven and NoRequestLineGiven are routing errors:
			// answer with the canned 404 before closing, same as an
			// unmatched route.
			front.Write(opts.Answer404)
			if mx != nil {
				mx.HTTPResponses.WithLabelValues("4xx").Inc()
			}
			return
		}
		if !ok {
			return
		}

		app, found := table.Lookup(hostOnly(head.Host), head.Target)
		if !found {
			front.Write(opts.Answer404)
			if mx != nil {
				mx.HTTPResponses.WithLabelValues("4xx").Inc()
			}
			return
		}

		if !apps.Reachable(app) {
			front.Write(opts.Answer503)
			if mx != nil {
				mx.HTTPResponses.WithLabelValues("5xx").Inc()
			}
			return
		}

		if back == nil || app != curApp {
			if back != nil {
				apps.Release(backInst)
				back.Close()
			}
			connectCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
			b, inst, cerr := apps.Connect(connectCtx, app)
			cancel()
			if cerr != nil {
				if mx != nil {
					mx.BackendFailures.WithLabelValues(app).Inc()
					mx.BackendConnectTotal.WithLabelValues(app, "failure").Inc()
				}
				front.Write(opts.Answer503)
				return
			}
			if mx != nil {
				mx.BackendConnectTotal.WithLabelValues(app, "success").Inc()
			}
			back, backInst, curApp = b, inst, app
		}

		if mx != nil {
			mx.SessionsActive.WithLabelValues("http").Inc()
		}

		clientIPForHeader := clientIP
		if clientIPForHeader == "" {
			clientIPForHeader = front.RemoteAddr().String()
		}
		rewritten := WithForwardedFor(headBuf[:head.HeadLen], clientIPForHeader)
		if _, err := back.Write(rewritten); err != nil {
			if mx != nil {
				mx.SessionsActive.WithLabelValues("http").Dec()
			}
			return
		}

		// Bytes read ahead of the head boundary may extend past this
		// request's body into the next pipelined request; only the body
		// portion is forwarded, the rest is replayed to the parser on
		// the next iteration.
		bodyLeftover := append([]byte(nil), headBuf[head.HeadLen:]...)
		if !head.Chunked && int64(len(bodyLeftover)) > head.ContentLength {
			frontPending = append([]byte(nil), bodyLeftover[head.ContentLength:]...)
			bodyLeftover = bodyLeftover[:head.ContentLength]
		}
		if err := relayBody(back, front, bodyLeftover, head.ContentLength, head.Chunked, opts.FrontTimeout); err != nil {
			if mx != nil {
				mx.SessionsActive.WithLabelValues("http").Dec()
			}
			return
		}

		respBuf, err := readHeadBlock(back, nil, opts.MaxHeadSize, opts.BackTimeout)
		if err != nil {
			if mx != nil {
				mx.SessionsActive.WithLabelValues("http").Dec()
			}
			return
		}

		respHead, ok, perr := ParseResponseHead(respBuf, head.Method)
		if !ok || perr != nil {
			if mx != nil {
				mx.SessionsActive.WithLabelValues("http").Dec()
			}
			return
		}

		if _, err := front.Write(respBuf[:respHead.HeadLen]); err != nil {
			if mx != nil {
				mx.SessionsActive.WithLabelValues("http").Dec()
			}
			return
		}
		if mx != nil {
			mx.HTTPResponses.WithLabelValues(statusClass(respHead.StatusCode)).Inc()
		}

		if !respHead.NoBody {
			respLeftover := append([]byte(nil), respBuf[respHead.HeadLen:]...)
			contentLength := respHead.ContentLength
			if respHead.Chunked || !respHead.HasContentLength {
				// chunked, or framed by connection close: relay until EOF.
				contentLength = -1
			}
			if err := relayBody(front, back, respLeftover, contentLength, respHead.Chunked, opts.BackTimeout); err != nil {
				if mx != nil {
					mx.SessionsActive.WithLabelValues("http").Dec()
				}
				return
			}
		}

		if mx != nil {
			mx.SessionsActive.WithLabelValues("http").Dec()
			mx.SessionsClosedTotal.WithLabelValues("http", "request_complete").Inc()
		}

		if !head.KeepAlive || !respHead.KeepAlive {
			return
		}
	}
}

// hostOnly strips an optional :port suffix from a Host header value so
// "example.com:8080" matches the route registered for "example.com".
func hostOnly(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

// readHeadBlock reads from conn (after first consuming pending, bytes
// already buffered from a previous read) until a full CRLFCRLF
// terminated head is present, and returns the full buffer including
// any body bytes read ahead of that boundary.
func readHeadBlock(conn net.Conn, pending []byte, maxSize int, idle time.Duration) ([]byte, error) {
	buf := append([]byte(nil), pending...)
	tmp := make([]byte, 4096)
	for {
		if bytes.Contains(buf, []byte("\r\n\r\n")) {
			return buf, nil
		}
		if len(buf) >= maxSize {
			return nil, liberr.Newf(liberr.ErrResourceExhausted, "request head exceeds %d bytes", maxSize)
		}
		if idle > 0 {
			conn.SetReadDeadline(time.Now().Add(idle))
		}
		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			if bytes.Contains(buf, []byte("\r\n\r\n")) {
				return buf, nil
			}
			return nil, err
		}
	}
}

// relayBody forwards a request or response body from src to dst.
// leftover holds body bytes already read alongside the head.
// contentLength < 0 means "relay until EOF" (connection-close framed
// responses); chunked means the data is in chunked transfer-coding and
// is relayed byte-for-byte, watching for the terminating zero-length
// chunk (trailers, if any, are not inspected).
func relayBody(dst io.Writer, src net.Conn, leftover []byte, contentLength int64, chunked bool, idle time.Duration) error {
	if len(leftover) > 0 {
		if _, err := dst.Write(leftover); err != nil {
			return liberr.New(liberr.ErrTransport, "relaying buffered body bytes", err)
		}
	}

	switch {
	case chunked:
		return relayChunked(dst, src, leftover, idle)
	case contentLength < 0:
		return relayUntilEOF(dst, src, idle)
	default:
		remaining := contentLength - int64(len(leftover))
		return relayExact(dst, src, remaining, idle)
	}
}

func relayExact(dst io.Writer, src net.Conn, remaining int64, idle time.Duration) error {
	buf := make([]byte, 16*1024)
	for remaining > 0 {
		if idle > 0 {
			src.SetReadDeadline(time.Now().Add(idle))
		}
		chunkLen := int64(len(buf))
		if remaining < chunkLen {
			chunkLen = remaining
		}
		n, err := src.Read(buf[:chunkLen])
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return liberr.New(liberr.ErrTransport, "relaying body", werr)
			}
			remaining -= int64(n)
		}
		if err != nil {
			if remaining > 0 {
				return liberr.New(liberr.ErrTransport, "body ended before Content-Length", err)
			}
			return nil
		}
	}
	return nil
}

func relayUntilEOF(dst io.Writer, src net.Conn, idle time.Duration) error {
	buf := make([]byte, 16*1024)
	for {
		if idle > 0 {
			src.SetReadDeadline(time.Now().Add(idle))
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return liberr.New(liberr.ErrTransport, "relaying body", werr)
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return liberr.New(liberr.ErrTransport, "reading connection-close framed body", err)
		}
	}
}

// relayChunked relays chunked-encoded body bytes as-is, scanning for
// the terminating "0\r\n\r\n" marker across read boundaries.
func relayChunked(dst io.Writer, src net.Conn, leftover []byte, idle time.Duration) error {
	window := append([]byte(nil), leftover...)
	if terminatedChunked(window) {
		return nil
	}

	buf := make([]byte, 4096)
	for {
		if idle > 0 {
			src.SetReadDeadline(time.Now().Add(idle))
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return liberr.New(liberr.ErrTransport, "relaying chunked body", werr)
			}
			window = append(window, buf[:n]...)
			if len(window) > 16 {
				window = window[len(window)-16:]
			}
			if terminatedChunked(window) {
				return nil
			}
		}
		if err != nil {
			return liberr.New(liberr.ErrTransport, "reading chunked body", err)
		}
	}
}

func terminatedChunked(window []byte) bool {
	return strings.HasSuffix(string(window), "0\r\n\r\n")
}
