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
	"strconv"
	"time"

	"github.com/ryantm/sozu/internal/certificates"
	"github.com/ryantm/sozu/internal/control"
	liberr "github.com/ryantm/sozu/internal/errors"
)

// Topic reports the control.Topic this Engine answers for, so
// cmd/sozu can register exactly one Handler per protocol loop on the
// shared control.Router.
func (e *Engine) Topic() control.Topic {
	switch e.Protocol {
	case ProtoHTTP:
		return control.TopicHTTP
	case ProtoTLS:
		return control.TopicTLS
	case ProtoTCP:
		return control.TopicTCP
	default:
		return control.TopicNone
	}
}

// Handler builds the control.Handler this Engine registers for its
// topic: every order reaching it is applied on the owner goroutine via
// Post, so control-plane mutation and data-plane sessions never race
// over the tables.
func (e *Engine) Handler(ctx context.Context) control.Handler {
	return func(o control.Order) control.ServerMessage {
		switch o.Tag {
		case control.AddHTTPFront:
			return e.handleAddHTTPFront(o)
		case control.RemoveHTTPFront:
			return e.handleRemoveHTTPFront(o)
		case control.AddTLSFront:
			return e.handleAddTLSFront(o)
		case control.RemoveTLSFront:
			return e.handleRemoveTLSFront(o)
		case control.AddCertificate:
			return e.handleAddCertificate(o)
		case control.RemoveCertificate:
			return e.handleRemoveCertificate(o)
		case control.AddTCPFront:
			return e.handleAddTCPFront(ctx, o)
		case control.RemoveTCPFront:
			return e.handleRemoveTCPFront(o)
		case control.AddInstance:
			return e.handleAddInstance(o)
		case control.RemoveInstance:
			return e.handleRemoveInstance(o)
		case control.ConfigureHTTPProxy:
			return e.handleConfigureHTTPProxy(ctx, o)
		case control.ConfigureTLSProxy:
			return e.handleConfigureTLSProxy(ctx, o)
		case control.SoftStop:
			return e.handleSoftStop(o)
		case control.HardStop:
			return e.handleHardStop(o)
		case control.StatusTag:
			return e.handleStatus(o)
		default:
			return control.ServerMessage{ID: o.ID, Status: control.StatusError, Message: "unhandled order tag"}
		}
	}
}

func badPayload(id string) control.ServerMessage {
	return control.ServerMessage{ID: id, Status: control.StatusError, Message: "payload does not match order tag"}
}

func (e *Engine) handleAddHTTPFront(o control.Order) control.ServerMessage {
	p, ok := o.Data.(*control.HTTPFrontPayload)
	if !ok {
		return badPayload(o.ID)
	}
	done := make(chan struct{})
	e.Post(func(eng *Engine) {
		eng.HTTP.Add(p.Hostname, p.PathBegin, p.AppID)
		close(done)
	})
	<-done
	return control.Ok(o.ID)
}

func (e *Engine) handleRemoveHTTPFront(o control.Order) control.ServerMessage {
	p, ok := o.Data.(*control.HTTPFrontPayload)
	if !ok {
		return badPayload(o.ID)
	}
	done := make(chan struct{})
	e.Post(func(eng *Engine) {
		eng.HTTP.Remove(p.Hostname, p.PathBegin)
		close(done)
	})
	<-done
	return control.Ok(o.ID)
}

func (e *Engine) handleAddTLSFront(o control.Order) control.ServerMessage {
	p, ok := o.Data.(*control.TLSFrontPayload)
	if !ok {
		return badPayload(o.ID)
	}
	result := make(chan liberr.Error, 1)
	e.Post(func(eng *Engine) {
		if err := eng.TLS.Certs.Bind(p.Hostname, p.Fingerprint); err != nil {
			result <- err
			return
		}
		eng.TLS.Paths.Add(p.Hostname, p.PathBegin, p.AppID)
		result <- nil
	})
	if err := <-result; err != nil {
		return control.ErrorMessage(o.ID, err)
	}
	return control.Ok(o.ID)
}

func (e *Engine) handleRemoveTLSFront(o control.Order) control.ServerMessage {
	p, ok := o.Data.(*control.TLSFrontPayload)
	if !ok {
		return badPayload(o.ID)
	}
	done := make(chan struct{})
	e.Post(func(eng *Engine) {
		eng.TLS.Paths.Remove(p.Hostname, p.PathBegin)
		close(done)
	})
	<-done
	return control.Ok(o.ID)
}

func (e *Engine) handleAddCertificate(o control.Order) control.ServerMessage {
	p, ok := o.Data.(*control.CertificatePayload)
	if !ok {
		return badPayload(o.ID)
	}
	rec, perr := certificates.ParsePEM(p.Certificate, p.CertificateChain, p.Key)
	if perr != nil {
		return control.ErrorMessage(o.ID, perr)
	}
	done := make(chan struct{})
	e.Post(func(eng *Engine) {
		eng.TLS.Certs.Add(rec)
		close(done)
	})
	<-done
	return control.Ok(o.ID)
}

func (e *Engine) handleRemoveCertificate(o control.Order) control.ServerMessage {
	p, ok := o.Data.(*control.RemoveCertificatePayload)
	if !ok {
		return badPayload(o.ID)
	}
	done := make(chan struct{})
	e.Post(func(eng *Engine) {
		eng.TLS.Certs.Remove(p.Fingerprint)
		close(done)
	})
	<-done
	return control.Ok(o.ID)
}

func (e *Engine) handleAddTCPFront(ctx context.Context, o control.Order) control.ServerMessage {
	p, ok := o.Data.(*control.TCPFrontPayload)
	if !ok {
		return badPayload(o.ID)
	}
	if err := e.ListenTCP(ctx, p.Port, p.AppID); err != nil {
		return control.ErrorMessage(o.ID, err)
	}
	return control.Ok(o.ID)
}

func (e *Engine) handleRemoveTCPFront(o control.Order) control.ServerMessage {
	p, ok := o.Data.(*control.TCPFrontPayload)
	if !ok {
		return badPayload(o.ID)
	}
	if err := e.RemoveFront(p.Port); err != nil {
		return control.ErrorMessage(o.ID, err)
	}
	done := make(chan struct{})
	e.Post(func(eng *Engine) {
		eng.TCP.Remove(p.Port)
		close(done)
	})
	<-done
	return control.Ok(o.ID)
}

func (e *Engine) handleAddInstance(o control.Order) control.ServerMessage {
	p, ok := o.Data.(*control.InstancePayload)
	if !ok {
		return badPayload(o.ID)
	}
	done := make(chan struct{})
	e.Post(func(eng *Engine) {
		eng.Apps.AddInstance(p.AppID, p.Addr())
		close(done)
	})
	<-done
	return control.Ok(o.ID)
}

func (e *Engine) handleRemoveInstance(o control.Order) control.ServerMessage {
	p, ok := o.Data.(*control.InstancePayload)
	if !ok {
		return badPayload(o.ID)
	}
	done := make(chan struct{})
	e.Post(func(eng *Engine) {
		eng.Apps.RemoveInstance(p.AppID, p.Addr())
		close(done)
	})
	<-done
	return control.Ok(o.ID)
}

// applyHTTPProxyConfig copies a CONFIGURE_HTTP_PROXY/CONFIGURE_TLS_PROXY
// payload's shared fields (front_timeout, back_timeout, buffer_size,
// answer_404, answer_503) onto the owner goroutine's session
// options.
func applyHTTPProxyConfig(opts *HTTPSessionOptions, cfg control.HTTPProxyConfig) {
	if cfg.BufferSize > 0 {
		opts.MaxHeadSize = cfg.BufferSize
	}
	if cfg.FrontTimeoutMs > 0 {
		opts.FrontTimeout = time.Duration(cfg.FrontTimeoutMs) * time.Millisecond
	}
	if cfg.BackTimeoutMs > 0 {
		opts.BackTimeout = time.Duration(cfg.BackTimeoutMs) * time.Millisecond
	}
	if len(cfg.Answer404) > 0 {
		opts.Answer404 = cfg.Answer404
	}
	if len(cfg.Answer503) > 0 {
		opts.Answer503 = cfg.Answer503
	}
}

func (e *Engine) handleConfigureHTTPProxy(ctx context.Context, o control.Order) control.ServerMessage {
	cfg, ok := o.Data.(*control.HTTPProxyConfig)
	if !ok {
		return badPayload(o.ID)
	}
	done := make(chan struct{})
	e.Post(func(eng *Engine) {
		applyHTTPProxyConfig(&eng.optionsHTTP, *cfg)
		close(done)
	})
	<-done
	if err := e.ListenHTTP(ctx, cfg.Port); err != nil {
		return control.ErrorMessage(o.ID, err)
	}
	return control.Ok(o.ID)
}

func (e *Engine) handleConfigureTLSProxy(ctx context.Context, o control.Order) control.ServerMessage {
	cfg, ok := o.Data.(*control.TLSProxyConfig)
	if !ok {
		return badPayload(o.ID)
	}

	result := make(chan liberr.Error, 1)
	e.Post(func(eng *Engine) {
		applyHTTPProxyConfig(&eng.optionsTLS.HTTP, cfg.HTTPProxyConfig)

		if cfg.DefaultCertificate != "" {
			rec, perr := certificates.ParsePEM(cfg.DefaultCertificate, cfg.DefaultCertificateChain, cfg.DefaultKey)
			if perr != nil {
				result <- perr
				return
			}
			eng.TLS.Certs.Add(rec)
			if err := eng.TLS.Certs.SetDefault(rec.Fingerprint); err != nil {
				result <- err
				return
			}
			if cfg.DefaultName != "" && cfg.DefaultAppID != "" {
				if err := eng.TLS.Certs.Bind(cfg.DefaultName, rec.Fingerprint); err != nil {
					result <- err
					return
				}
				eng.TLS.Paths.Add(cfg.DefaultName, "/", cfg.DefaultAppID)
			}
		}

		base := certificates.DefaultOptions()
		opt := certificates.Options{
			CipherServerPreference: cfg.CipherServerPreference,
			SessionTicketsDisabled: cfg.SessionTicketsDisabled,
			CipherSuites:           base.CipherSuites,
			CurvePreferences:       base.CurvePreferences,
			MinVersion:             certificates.ParseVersion(cfg.MinVersion, base.MinVersion),
			MaxVersion:             certificates.ParseVersion(cfg.MaxVersion, base.MaxVersion),
		}
		if parsed := certificates.ParseCipherSuites(cfg.CipherSuites); len(parsed) > 0 {
			opt.CipherSuites = parsed
		}
		eng.tlsConfig = certificates.BuildTLSConfig(eng.TLS.Certs, opt)

		result <- nil
	})
	if err := <-result; err != nil {
		return control.ErrorMessage(o.ID, err)
	}

	if err := e.ListenTLS(ctx, cfg.Port); err != nil {
		return control.ErrorMessage(o.ID, err)
	}
	return control.Ok(o.ID)
}

// handleSoftStop drains: every bound front is unbound so no new
// session is accepted, but in-flight sessions (already holding a slab
// handle and a backend connection) run to completion undisturbed. A
// background watcher then polls the slab and stops the owner goroutine
// once the last session has torn down.
func (e *Engine) handleSoftStop(o control.Order) control.ServerMessage {
	done := make(chan struct{})
	e.Post(func(eng *Engine) {
		for _, port := range eng.Listeners.Ports() {
			_ = eng.Listeners.RemoveFront(port)
		}
		close(done)
	})
	<-done
	go e.watchDrain()
	return control.Processing(o.ID)
}

// watchDrain polls the slab's live-session count and stops the owner
// goroutine once it reaches zero, completing SOFT_STOP's graceful
// termination.
func (e *Engine) watchDrain() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if e.Space.LiveSessions() == 0 {
			e.Stop()
			return
		}
	}
}

// handleHardStop deregisters and closes every listener, then closes
// every tracked front connection immediately, discarding any buffered
// bytes, before tearing down the engine's owner goroutine.
func (e *Engine) handleHardStop(o control.Order) control.ServerMessage {
	done := make(chan struct{})
	e.Post(func(eng *Engine) {
		for _, port := range eng.Listeners.Ports() {
			_ = eng.Listeners.RemoveFront(port)
		}
		eng.Space.CloseAll()
		close(done)
	})
	<-done
	e.Stop()
	return control.Ok(o.ID)
}

func (e *Engine) handleStatus(o control.Order) control.ServerMessage {
	result := make(chan int64, 1)
	e.Post(func(eng *Engine) {
		result <- eng.Apps.TotalActive()
	})
	active := <-result
	return control.ServerMessage{
		ID:      o.ID,
		Status:  control.StatusOk,
		Message: statusMessage(e.Protocol, active),
	}
}

func statusMessage(p Protocol, active int64) string {
	return p.String() + ": " + strconv.FormatInt(active, 10)
}
