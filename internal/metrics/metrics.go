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

// Package metrics exposes the engine's counters and gauges — fed
// from parsers and state transitions — as a Prometheus registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Sink is the set of counters/gauges each protocol engine feeds.
// Components take a *Sink through their constructor rather than
// reaching for package-level metrics, so tests can assert against an
// isolated registry.
type Sink struct {
	AcceptTotal          *prometheus.CounterVec
	AcceptRejectedTotal  *prometheus.CounterVec
	SessionsActive       *prometheus.GaugeVec
	SessionsClosedTotal  *prometheus.CounterVec
	BackendFailures      *prometheus.CounterVec
	BackendConnectTotal  *prometheus.CounterVec
	HTTPResponses        *prometheus.CounterVec
	TLSHandshakeFailures *prometheus.CounterVec
}

// NewSink registers and returns a fresh metrics Sink on reg. Passing
// a prometheus.NewRegistry() keeps test suites isolated from the
// default global registry.
func NewSink(reg prometheus.Registerer) *Sink {
	s := &Sink{
		AcceptTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sozu_accept_total",
			Help: "Accepted front-end connections, by protocol.",
		}, []string{"protocol"}),
		AcceptRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sozu_accept_rejected_total",
			Help: "Accepted sockets immediately closed because the session slab was full.",
		}, []string{"protocol"}),
		SessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sozu_sessions_active",
			Help: "Live sessions in the slab, by protocol.",
		}, []string{"protocol"}),
		SessionsClosedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sozu_sessions_closed_total",
			Help: "Sessions that reached the Closed phase, by protocol and reason.",
		}, []string{"protocol", "reason"}),
		BackendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sozu_backend_failures_total",
			Help: "Back-end connect failures, by application.",
		}, []string{"app"}),
		BackendConnectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sozu_backend_connect_total",
			Help: "Back-end connect attempts, by application and outcome.",
		}, []string{"app", "outcome"}),
		HTTPResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sozu_http_responses_total",
			Help: "HTTP responses emitted to the front, by status class.",
		}, []string{"class"}),
		TLSHandshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sozu_tls_handshake_failures_total",
			Help: "TLS handshake failures, by reason.",
		}, []string{"reason"}),
	}

	for _, c := range []prometheus.Collector{
		s.AcceptTotal, s.AcceptRejectedTotal, s.SessionsActive, s.SessionsClosedTotal,
		s.BackendFailures, s.BackendConnectTotal, s.HTTPResponses, s.TLSHandshakeFailures,
	} {
		reg.MustRegister(c)
	}

	return s
}
