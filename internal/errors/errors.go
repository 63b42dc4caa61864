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

// Package errors provides the proxy's coded error type: every error
// raised by the engine carries a CodeError classifying it
// (configuration, routing, backend, transport, protocol,
// resource-exhaustion), plus a parent chain and the call site that
// created it.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// CodeError classifies an error: one numeric tag per error family.
type CodeError uint16

const (
	UnknownError CodeError = iota
	ErrConfig
	ErrNoHostGiven
	ErrNoRequestLineGiven
	ErrHostNotFound
	ErrNoBackendAvailable
	ErrConnectTimeout
	ErrBackendFailure
	ErrTransport
	ErrProtocol
	ErrResourceExhausted
	ErrTimeout
)

var codeNames = map[CodeError]string{
	UnknownError:          "unknown",
	ErrConfig:             "config",
	ErrNoHostGiven:        "no_host_given",
	ErrNoRequestLineGiven: "no_request_line_given",
	ErrHostNotFound:       "host_not_found",
	ErrNoBackendAvailable: "no_backend_available",
	ErrConnectTimeout:     "connect_timeout",
	ErrBackendFailure:     "backend_failure",
	ErrTransport:          "transport",
	ErrProtocol:           "protocol",
	ErrResourceExhausted:  "resource_exhausted",
	ErrTimeout:            "timeout",
}

// String renders the code's symbolic name, falling back to the
// numeric value for codes outside the known catalog.
func (c CodeError) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("code(%d)", uint16(c))
}

// Error is the coded error interface. It extends the standard error
// with a CodeError classification, a parent chain (so a session close
// can carry both the transport failure and the routing decision that
// led to it), and the call site that created it.
type Error interface {
	error

	Code() CodeError
	HasCode(code CodeError) bool
	Add(parent ...error)
	Unwrap() []error
	Trace() string
}

type ers struct {
	code CodeError
	msg  string
	p    []Error
	file string
	line int
}

// New creates a coded error at the call site of New.
func New(code CodeError, msg string, parent ...error) Error {
	e := &ers{code: code, msg: msg}
	if _, file, line, ok := runtime.Caller(1); ok {
		e.file, e.line = file, line
	}
	e.Add(parent...)
	return e
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(code CodeError, pattern string, args ...any) Error {
	e := &ers{code: code, msg: fmt.Sprintf(pattern, args...)}
	if _, file, line, ok := runtime.Caller(1); ok {
		e.file, e.line = file, line
	}
	return e
}

// Make wraps a plain error into Error, or returns it unchanged if it
// already satisfies the interface.
func Make(err error) Error {
	if err == nil {
		return nil
	}
	var e Error
	if errors.As(err, &e) {
		return e
	}
	return &ers{code: UnknownError, msg: err.Error()}
}

// Is reports whether err (or any of its ancestors) carries code.
func Is(err error, code CodeError) bool {
	e := Make(err)
	if e == nil {
		return false
	}
	return e.HasCode(code)
}

func (e *ers) Error() string {
	if e.file != "" {
		return fmt.Sprintf("[%s] %s (%s:%d)", e.code, e.msg, shortPath(e.file), e.line)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.msg)
}

func (e *ers) Code() CodeError { return e.code }

func (e *ers) HasCode(code CodeError) bool {
	if e.code == code {
		return true
	}
	for _, p := range e.p {
		if p.HasCode(code) {
			return true
		}
	}
	return false
}

func (e *ers) Add(parent ...error) {
	for _, v := range parent {
		if v == nil {
			continue
		}
		e.p = append(e.p, Make(v))
	}
}

func (e *ers) Unwrap() []error {
	if len(e.p) == 0 {
		return nil
	}
	r := make([]error, len(e.p))
	for i, p := range e.p {
		r[i] = p
	}
	return r
}

func (e *ers) Trace() string {
	if e.file == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", shortPath(e.file), e.line)
}

func shortPath(p string) string {
	if i := strings.LastIndex(p, "/"); i != -1 {
		if j := strings.LastIndex(p[:i], "/"); j != -1 {
			return p[j+1:]
		}
	}
	return p
}
