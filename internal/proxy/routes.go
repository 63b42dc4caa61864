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
	"sort"
	"strings"
	"sync"

	"github.com/ryantm/sozu/internal/certificates"
	"github.com/ryantm/sozu/internal/hostmatch"
)

// pathEntry is one (path_prefix, application_id) binding within a
// hostname's entry, ordered by descending prefix length with
// insertion order breaking ties.
type pathEntry struct {
	prefix string
	app    string
	order  int
}

// HTTPTable is the HTTP front-end routing table: keyed by hostname,
// each entry holds path prefixes sorted longest-first.
type HTTPTable struct {
	mu      sync.RWMutex
	byHost  map[string][]pathEntry
	inserts int
}

// NewHTTPTable builds an empty HTTP routing table.
func NewHTTPTable() *HTTPTable {
	return &HTTPTable{byHost: make(map[string][]pathEntry)}
}

// Add registers (hostname, path_prefix) -> app, replacing any
// existing binding at the same (hostname, path_prefix) key.
func (t *HTTPTable) Add(hostname, pathPrefix, app string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	host := hostmatch.Normalize(hostname)
	entries := t.byHost[host]

	for i, e := range entries {
		if e.prefix == pathPrefix {
			entries[i].app = app
			t.byHost[host] = entries
			return
		}
	}

	t.inserts++
	entries = append(entries, pathEntry{prefix: pathPrefix, app: app, order: t.inserts})
	sort.SliceStable(entries, func(i, j int) bool {
		if len(entries[i].prefix) != len(entries[j].prefix) {
			return len(entries[i].prefix) > len(entries[j].prefix)
		}
		return entries[i].order < entries[j].order
	})
	t.byHost[host] = entries
}

// Remove deletes the (hostname, path_prefix) binding, if present.
func (t *HTTPTable) Remove(hostname, pathPrefix string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	host := hostmatch.Normalize(hostname)
	entries := t.byHost[host]
	for i, e := range entries {
		if e.prefix == pathPrefix {
			t.byHost[host] = append(entries[:i], entries[i+1:]...)
			if len(t.byHost[host]) == 0 {
				delete(t.byHost, host)
			}
			return
		}
	}
}

// Lookup returns the application bound to the longest path prefix of
// path among the entries registered for host.
func (t *HTTPTable) Lookup(host, path string) (app string, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, e := range t.byHost[hostmatch.Normalize(host)] {
		if strings.HasPrefix(path, e.prefix) {
			return e.app, true
		}
	}
	return "", false
}

// TLSTable is the two-layer TLS routing table: an SNI map to a
// certificate store, then an HTTP-shaped path table selecting the
// application once the handshake has completed.
type TLSTable struct {
	Certs *certificates.Store
	Paths *HTTPTable
}

// NewTLSTable builds an empty TLS routing table.
func NewTLSTable() *TLSTable {
	return &TLSTable{Certs: certificates.NewStore(), Paths: NewHTTPTable()}
}

// TCPTable is the trivial TCP routing table: the listener itself
// carries the application id, keyed by port.
type TCPTable struct {
	mu     sync.RWMutex
	byPort map[int]string
}

// NewTCPTable builds an empty TCP routing table.
func NewTCPTable() *TCPTable {
	return &TCPTable{byPort: make(map[int]string)}
}

// Add binds a listening port to an application.
func (t *TCPTable) Add(port int, app string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byPort[port] = app
}

// Remove unbinds a listening port.
func (t *TCPTable) Remove(port int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byPort, port)
}

// Lookup returns the application bound to port.
func (t *TCPTable) Lookup(port int) (app string, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	app, ok = t.byPort[port]
	return
}
