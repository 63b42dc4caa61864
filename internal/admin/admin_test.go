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

package admin_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ryantm/sozu/internal/admin"
)

type fakeSource struct{ rows []admin.InstanceStatus }

func (f fakeSource) InstanceStatuses() []admin.InstanceStatus { return f.rows }

func TestHealthEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := admin.NewEngine(reg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	e.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

// TestStatusEndpointReportsPerInstanceLoad checks that /status
// surfaces each instance's active_connections and failures.
func TestStatusEndpointReportsPerInstanceLoad(t *testing.T) {
	reg := prometheus.NewRegistry()
	source := fakeSource{rows: []admin.InstanceStatus{
		{App: "app", Addr: "127.0.0.1:9000", Status: "normal", Active: 3, Failures: 0},
	}}
	e := admin.NewEngine(reg, source)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	e.ServeHTTP(w, req)

	var rows []admin.InstanceStatus
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Active != 3 {
		t.Fatalf("expected the fake source's row to be surfaced, got %+v", rows)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "sozu_test_total"})
	counter.Inc()
	reg.MustRegister(counter)

	e := admin.NewEngine(reg)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	e.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "sozu_test_total") {
		t.Fatal("expected the registered counter to appear in the /metrics output")
	}
}
