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
	"fmt"
	"net/textproto"
	"strconv"
	"strings"

	liberr "github.com/ryantm/sozu/internal/errors"
)

// RequestHead is the result of incrementally parsing an HTTP/1.x
// request line and header block: headers until CRLFCRLF, with Host,
// Content-Length and Transfer-Encoding: chunked extracted for routing
// and framing.
type RequestHead struct {
	Method        string
	Target        string
	Version       string
	Header        textproto.MIMEHeader
	Host          string
	ContentLength int64
	Chunked       bool
	KeepAlive     bool
	HeadLen       int // bytes consumed from the buffer for the request line + headers
}

// ParseRequestHead scans buf for a complete request line and header
// block terminated by CRLFCRLF. It returns ok=false (not an error) if
// the buffer does not yet hold a complete head — the caller should
// wait for more bytes.
func ParseRequestHead(buf []byte) (head RequestHead, ok bool, err liberr.Error) {
	idx := bytes.Index(buf, []byte("\r\n\r\n"))
	if idx == -1 {
		return RequestHead{}, false, nil
	}

	r := bufio.NewReader(bytes.NewReader(buf[:idx+4]))
	tp := textproto.NewReader(r)

	line, e := tp.ReadLine()
	if e != nil {
		return RequestHead{}, false, liberr.New(liberr.ErrNoRequestLineGiven, "reading request line", e)
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return RequestHead{}, false, liberr.Newf(liberr.ErrNoRequestLineGiven, "malformed request line %q", line)
	}

	head.Method, head.Target, head.Version = parts[0], parts[1], parts[2]
	head.HeadLen = idx + 4

	hdr, e := tp.ReadMIMEHeader()
	if e != nil && len(hdr) == 0 {
		return RequestHead{}, false, liberr.New(liberr.ErrProtocol, "reading headers", e)
	}
	head.Header = hdr

	if host := hdr.Get("Host"); host != "" {
		head.Host = host
	} else {
		return head, true, liberr.New(liberr.ErrNoHostGiven, "request has no Host header")
	}

	if cl := hdr.Get("Content-Length"); cl != "" {
		n, perr := strconv.ParseInt(cl, 10, 64)
		if perr != nil {
			return RequestHead{}, false, liberr.Newf(liberr.ErrProtocol, "invalid Content-Length %q", cl)
		}
		head.ContentLength = n
	}

	if strings.EqualFold(hdr.Get("Transfer-Encoding"), "chunked") {
		head.Chunked = true
	}

	head.KeepAlive = isKeepAlive(head.Version, hdr.Get("Connection"))

	return head, true, nil
}

func isKeepAlive(version, connection string) bool {
	connection = strings.ToLower(connection)
	switch {
	case strings.Contains(connection, "close"):
		return false
	case strings.Contains(connection, "keep-alive"):
		return true
	case version == "HTTP/1.1":
		return true
	default:
		return false
	}
}

// WithForwardedFor returns a copy of raw (the exact bytes of a parsed
// request head, request line included) with an X-Forwarded-For
// header appended.
func WithForwardedFor(raw []byte, clientIP string) []byte {
	crlfcrlf := []byte("\r\n\r\n")
	idx := bytes.Index(raw, crlfcrlf)
	if idx == -1 {
		return raw
	}
	out := make([]byte, 0, len(raw)+32)
	out = append(out, raw[:idx]...)
	out = append(out, []byte(fmt.Sprintf("\r\nX-Forwarded-For: %s", clientIP))...)
	out = append(out, crlfcrlf...)
	out = append(out, raw[idx+4:]...)
	return out
}
