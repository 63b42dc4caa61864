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
	"time"

	"github.com/ryantm/sozu/internal/logger"
	"github.com/ryantm/sozu/internal/metrics"
)

// TLSSessionOptions bounds the handshake phase of a TLS front-end
// session; the post-handshake phase reuses HTTPSessionOptions.
type TLSSessionOptions struct {
	HandshakeTimeout time.Duration
	HTTP             HTTPSessionOptions
}

// DefaultTLSSessionOptions returns the defaults every TLS front
// starts with until reconfigured.
func DefaultTLSSessionOptions() TLSSessionOptions {
	return TLSSessionOptions{
		HandshakeTimeout: 5 * time.Second,
		HTTP:             DefaultHTTPSessionOptions(),
	}
}

// ServeTLSSession selects the certificate by SNI (via
// cfg.GetCertificate, already wired to the route's certificate
// store), completes the handshake, then runs the same
// request/response loop as an HTTP session over the decrypted
// stream. A failed handshake counts against TLSHandshakeFailures and
// the raw connection is closed — crypto/tls already sends the
// corresponding alert before returning the error.
func ServeTLSSession(ctx context.Context, raw net.Conn, table *TLSTable, cfg *tls.Config, apps *AppTable, opts TLSSessionOptions, log logger.Logger, mx *metrics.Sink) {
	if log == nil {
		log = logger.Noop()
	}

	tlsConn := tls.Server(raw, cfg)

	hctx, cancel := context.WithTimeout(ctx, opts.HandshakeTimeout)
	defer cancel()

	if err := tlsConn.HandshakeContext(hctx); err != nil {
		if mx != nil {
			mx.TLSHandshakeFailures.WithLabelValues(classifyHandshakeError(err)).Inc()
		}
		log.Warnf("tls handshake failed: %v", err)
		tlsConn.Close()
		return
	}

	ServeHTTPSession(ctx, tlsConn, table.Paths, apps, opts.HTTP, log, mx)
}

func classifyHandshakeError(err error) string {
	switch err.(type) {
	case tls.RecordHeaderError:
		return "bad_record_header"
	default:
		return "handshake_error"
	}
}
