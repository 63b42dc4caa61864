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

// Package admin exposes a small read-only HTTP surface — health,
// status and Prometheus metrics — distinct from the data-plane HTTP
// session engine.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// InstanceStatus is one back-end instance's status row, including its
// per-instance load.
type InstanceStatus struct {
	App      string `json:"app"`
	Addr     string `json:"addr"`
	Status   string `json:"status"`
	Active   int64  `json:"active_connections"`
	Failures int    `json:"failures"`
}

// StatusSource is implemented by the engine(s) the admin server
// reports on.
type StatusSource interface {
	InstanceStatuses() []InstanceStatus
}

// NewEngine builds the gin engine serving /health, /status and
// /metrics. reg gathers from the same registry that was passed to
// internal/metrics.NewSink so the admin surface and the engine's own
// counters share one registry.
func NewEngine(reg prometheus.Gatherer, sources ...StatusSource) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())

	e.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	e.GET("/status", func(c *gin.Context) {
		var all []InstanceStatus
		for _, s := range sources {
			all = append(all, s.InstanceStatuses()...)
		}
		c.JSON(http.StatusOK, all)
	})

	e.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return e
}
