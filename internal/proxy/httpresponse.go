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
	"bufio"
	"bytes"
	"net/textproto"
	"strconv"
	"strings"

	liberr "github.com/ryantm/sozu/internal/errors"
)

// ResponseHead is the back-end's status line and header block, parsed
// the same incremental way as RequestHead so the session can decide
// framing (Content-Length vs chunked) and keep-alive eligibility
// before relaying bytes to the front.
type ResponseHead struct {
	Version          string
	StatusCode       int
	Reason           string
	Header           textproto.MIMEHeader
	ContentLength    int64
	HasContentLength bool
	NoBody           bool // no body is framed at all (e.g. 204, 304, HEAD)
	Chunked          bool
	KeepAlive        bool
	HeadLen          int
}

// ParseResponseHead mirrors ParseRequestHead for the response side of
// a session. ok=false (no error) means the header block is not yet
// complete in buf.
func ParseResponseHead(buf []byte, requestMethod string) (head ResponseHead, ok bool, err liberr.Error) {
	idx := bytes.Index(buf, []byte("\r\n\r\n"))
	if idx == -1 {
		return ResponseHead{}, false, nil
	}

	r := bufio.NewReader(bytes.NewReader(buf[:idx+4]))
	tp := textproto.NewReader(r)

	line, e := tp.ReadLine()
	if e != nil {
		return ResponseHead{}, false, liberr.New(liberr.ErrProtocol, "reading status line", e)
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return ResponseHead{}, false, liberr.Newf(liberr.ErrProtocol, "malformed status line %q", line)
	}
	head.Version = parts[0]
	code, perr := strconv.Atoi(parts[1])
	if perr != nil {
		return ResponseHead{}, false, liberr.Newf(liberr.ErrProtocol, "invalid status code %q", parts[1])
	}
	head.StatusCode = code
	if len(parts) == 3 {
		head.Reason = parts[2]
	}
	head.HeadLen = idx + 4

	hdr, e := tp.ReadMIMEHeader()
	if e != nil && len(hdr) == 0 {
		return ResponseHead{}, false, liberr.New(liberr.ErrProtocol, "reading response headers", e)
	}
	head.Header = hdr

	if strings.EqualFold(hdr.Get("Transfer-Encoding"), "chunked") {
		head.Chunked = true
	} else if cl := hdr.Get("Content-Length"); cl != "" {
		n, cerr := strconv.ParseInt(cl, 10, 64)
		if cerr != nil {
			return ResponseHead{}, false, liberr.Newf(liberr.ErrProtocol, "invalid Content-Length %q", cl)
		}
		head.ContentLength = n
		head.HasContentLength = true
	}

	switch {
	case requestMethod == "HEAD":
		head.NoBody = true
	case code == 204 || code == 304 || (code >= 100 && code < 200):
		head.NoBody = true
	}

	head.KeepAlive = isKeepAlive(head.Version, hdr.Get("Connection"))
	if !head.NoBody && !head.Chunked && !head.HasContentLength {
		head.KeepAlive = false
	}
	return head, true, nil
}

// answer404 is the canned response served when no route matches a
// request's (host, path).
const answer404 = "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\nConnection: close\r\n\r\n"

// answer503 is the canned response for a matched but unreachable
// application (every instance closing or over its failure threshold).
const answer503 = "HTTP/1.1 503 Service Unavailable\r\nContent-Length: 0\r\nConnection: close\r\n\r\n"
