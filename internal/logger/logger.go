/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
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

// Package logger wraps logrus behind a small Logger interface so the
// engine's components depend on a field-scoped logging contract
// instead of the concrete logging library. Every session and
// component receives its Logger through its constructor; there is no
// package-level global.
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Level mirrors logrus' level set so call sites never import logrus
// directly.
type Level uint32

const (
	PanicLevel Level = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
)

func (l Level) toLogrus() logrus.Level { return logrus.Level(l) }

// Logger is the logging contract used across the proxy: leveled,
// field-scoped, safe to pass down to a session or a protocol engine.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger

	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	SetLevel(lvl Level)
}

type entry struct {
	e *logrus.Entry
}

// New builds a Logger writing to w (os.Stdout for production, a
// bytes.Buffer in tests) with timestamped text formatting; color is
// disabled so file sinks stay plain.
func New(w io.Writer, lvl Level) Logger {
	if w == nil {
		w = os.Stdout
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(lvl.toLogrus())
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		DisableColors:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	return &entry{e: logrus.NewEntry(l)}
}

func (l *entry) WithField(key string, value interface{}) Logger {
	return &entry{e: l.e.WithField(key, value)}
}

func (l *entry) WithFields(fields map[string]interface{}) Logger {
	return &entry{e: l.e.WithFields(fields)}
}

func (l *entry) Debug(args ...interface{}) { l.e.Debug(args...) }
func (l *entry) Info(args ...interface{})  { l.e.Info(args...) }
func (l *entry) Warn(args ...interface{})  { l.e.Warn(args...) }
func (l *entry) Error(args ...interface{}) { l.e.Error(args...) }

func (l *entry) Debugf(format string, args ...interface{}) { l.e.Debugf(format, args...) }
func (l *entry) Infof(format string, args ...interface{})  { l.e.Infof(format, args...) }
func (l *entry) Warnf(format string, args ...interface{})  { l.e.Warnf(format, args...) }
func (l *entry) Errorf(format string, args ...interface{}) { l.e.Errorf(format, args...) }

func (l *entry) SetLevel(lvl Level) { l.e.Logger.SetLevel(lvl.toLogrus()) }

// Noop returns a Logger that discards every entry, used by tests and
// any component run without a configured sink.
func Noop() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &entry{e: logrus.NewEntry(l)}
}
