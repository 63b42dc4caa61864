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

package proxy_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/ryantm/sozu/internal/proxy"
)

func startEchoBackend(t *testing.T, body string) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				r := bufio.NewReader(conn)
				for {
					req, err := http.ReadRequest(r)
					if err != nil {
						return
					}
					req.Body.Close()
					resp := "HTTP/1.1 200 OK\r\nContent-Length: " +
						strconv.Itoa(len(body)) + "\r\n\r\n" + body
					if _, err := io.WriteString(conn, resp); err != nil {
						return
					}
				}
			}(c)
		}
	}()
	return ln
}

// TestHTTPSessionRoutesAndForwards checks that a request for a
// registered (host, path) is forwarded to the bound application's
// instance and its response relayed back to the client unchanged.
func TestHTTPSessionRoutesAndForwards(t *testing.T) {
	backend := startEchoBackend(t, "hello from backend")
	defer backend.Close()

	table := proxy.NewHTTPTable()
	table.Add("example.com", "/", "app")
	apps := proxy.NewAppTable(3, 5)
	apps.AddInstance("app", backend.Addr().String())

	frontLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer frontLn.Close()

	go func() {
		front, err := frontLn.Accept()
		if err != nil {
			return
		}
		proxy.ServeHTTPSession(context.Background(), front, table, apps, proxy.DefaultHTTPSessionOptions(), nil, nil)
	}()

	client, err := net.Dial("tcp", frontLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	client.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello from backend" {
		t.Fatalf("expected backend body to be relayed, got %q", string(body))
	}
}

// TestHTTPSessionUnknownHostReturns404 exercises the canned-response
// path for a request whose (host, path) matches no registered front.
func TestHTTPSessionUnknownHostReturns404(t *testing.T) {
	table := proxy.NewHTTPTable()
	apps := proxy.NewAppTable(3, 5)

	frontLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer frontLn.Close()

	go func() {
		front, err := frontLn.Accept()
		if err != nil {
			return
		}
		proxy.ServeHTTPSession(context.Background(), front, table, apps, proxy.DefaultHTTPSessionOptions(), nil, nil)
	}()

	client, err := net.Dial("tcp", frontLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	client.Write([]byte("GET / HTTP/1.1\r\nHost: nowhere.example\r\n\r\n"))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

// TestHTTPSessionMissingHostReturns404: a request with no Host header
// produces the canned 404 the same as an unmatched route, rather than
// silently dropping the connection.
func TestHTTPSessionMissingHostReturns404(t *testing.T) {
	table := proxy.NewHTTPTable()
	apps := proxy.NewAppTable(3, 5)

	frontLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer frontLn.Close()

	go func() {
		front, err := frontLn.Accept()
		if err != nil {
			return
		}
		proxy.ServeHTTPSession(context.Background(), front, table, apps, proxy.DefaultHTTPSessionOptions(), nil, nil)
	}()

	client, err := net.Dial("tcp", frontLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	client.Write([]byte("GET / HTTP/1.0\r\n\r\n"))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404 for a request with no Host header, got %d", resp.StatusCode)
	}
}

// TestHTTPSessionPipelinedRequestsAnswerInOrder: two requests written
// back-to-back on one connection each get a complete response, in
// arrival order, even though both arrive in a single read.
func TestHTTPSessionPipelinedRequestsAnswerInOrder(t *testing.T) {
	backend := startEchoBackend(t, "pipelined")
	defer backend.Close()

	table := proxy.NewHTTPTable()
	table.Add("example.com", "/", "app")
	apps := proxy.NewAppTable(3, 5)
	apps.AddInstance("app", backend.Addr().String())

	frontLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer frontLn.Close()

	go func() {
		front, err := frontLn.Accept()
		if err != nil {
			return
		}
		proxy.ServeHTTPSession(context.Background(), front, table, apps, proxy.DefaultHTTPSessionOptions(), nil, nil)
	}()

	client, err := net.Dial("tcp", frontLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	client.Write([]byte(
		"GET /first HTTP/1.1\r\nHost: example.com\r\n\r\n" +
			"GET /second HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	r := bufio.NewReader(client)
	for i := 0; i < 2; i++ {
		resp, err := http.ReadResponse(r, nil)
		if err != nil {
			t.Fatalf("reading pipelined response %d: %v", i+1, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if string(body) != "pipelined" {
			t.Fatalf("pipelined response %d: expected backend body, got %q", i+1, body)
		}
	}
}

// TestHTTPSessionHostWithPortMatchesRoute covers Host header values
// carrying an explicit port: "example.com:8080" must match the front
// registered for "example.com".
func TestHTTPSessionHostWithPortMatchesRoute(t *testing.T) {
	backend := startEchoBackend(t, "ported")
	defer backend.Close()

	table := proxy.NewHTTPTable()
	table.Add("example.com", "/", "app")
	apps := proxy.NewAppTable(3, 5)
	apps.AddInstance("app", backend.Addr().String())

	frontLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer frontLn.Close()

	go func() {
		front, err := frontLn.Accept()
		if err != nil {
			return
		}
		proxy.ServeHTTPSession(context.Background(), front, table, apps, proxy.DefaultHTTPSessionOptions(), nil, nil)
	}()

	client, err := net.Dial("tcp", frontLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	client.Write([]byte("GET / HTTP/1.1\r\nHost: example.com:8080\r\nConnection: close\r\n\r\n"))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected the ported Host to match the route, got %d", resp.StatusCode)
	}
}

// TestHTTPSessionUnreachableAppReturns503 exercises the canned
// 503 path when every instance of the matched application is
// unreachable.
func TestHTTPSessionUnreachableAppReturns503(t *testing.T) {
	table := proxy.NewHTTPTable()
	table.Add("example.com", "/", "app")
	apps := proxy.NewAppTable(1, 1)
	apps.AddInstance("app", "127.0.0.1:1")
	apps.Connect(context.Background(), "app")

	frontLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer frontLn.Close()

	go func() {
		front, err := frontLn.Accept()
		if err != nil {
			return
		}
		proxy.ServeHTTPSession(context.Background(), front, table, apps, proxy.DefaultHTTPSessionOptions(), nil, nil)
	}()

	client, err := net.Dial("tcp", frontLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	client.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}
