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
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"net/http"
	"testing"
	"time"

	libcrt "github.com/ryantm/sozu/internal/certificates"
	"github.com/ryantm/sozu/internal/proxy"
)

func genTLSCertPair(t *testing.T, cn string) (certPEM, keyPEM string) {
	t.Helper()

	prv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	ser, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		t.Fatal(err)
	}
	tpl := x509.Certificate{
		SerialNumber:          ser,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{cn},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tpl, &tpl, &prv.PublicKey, prv)
	if err != nil {
		t.Fatal(err)
	}
	cb := &bytes.Buffer{}
	pem.Encode(cb, &pem.Block{Type: "CERTIFICATE", Bytes: der})
	kd, err := x509.MarshalECPrivateKey(prv)
	if err != nil {
		t.Fatal(err)
	}
	kb := &bytes.Buffer{}
	pem.Encode(kb, &pem.Block{Type: "EC PRIVATE KEY", Bytes: kd})
	return cb.String(), kb.String()
}

// TestTLSSessionSelectsCertificateBySNIAndForwards: a TLS client
// presenting SNI "secure.example" completes the handshake against the
// certificate bound to that name, then its request is routed and
// forwarded exactly as an HTTP session would.
func TestTLSSessionSelectsCertificateBySNIAndForwards(t *testing.T) {
	certPEM, keyPEM := genTLSCertPair(t, "secure.example")
	rec, err := libcrt.ParsePEM(certPEM, nil, keyPEM)
	if err != nil {
		t.Fatal(err)
	}

	backend := startEchoBackend(t, "tls backend body")
	defer backend.Close()

	tlsTable := proxy.NewTLSTable()
	tlsTable.Certs.Add(rec)
	if err := tlsTable.Certs.Bind("secure.example", rec.Fingerprint); err != nil {
		t.Fatal(err)
	}
	tlsTable.Paths.Add("secure.example", "/", "app")

	apps := proxy.NewAppTable(3, 5)
	apps.AddInstance("app", backend.Addr().String())

	cfg := libcrt.BuildTLSConfig(tlsTable.Certs, libcrt.DefaultOptions())

	frontLn, listenErr := net.Listen("tcp", "127.0.0.1:0")
	if listenErr != nil {
		t.Fatal(listenErr)
	}
	defer frontLn.Close()

	go func() {
		raw, acceptErr := frontLn.Accept()
		if acceptErr != nil {
			return
		}
		proxy.ServeTLSSession(context.Background(), raw, tlsTable, cfg, apps, proxy.DefaultTLSSessionOptions(), nil, nil)
	}()

	conn, dialErr := tls.Dial("tcp", frontLn.Addr().String(), &tls.Config{
		ServerName:         "secure.example",
		InsecureSkipVerify: true,
	})
	if dialErr != nil {
		t.Fatal(dialErr)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("GET / HTTP/1.1\r\nHost: secure.example\r\nConnection: close\r\n\r\n")); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	resp, respErr := http.ReadResponse(bufio.NewReader(conn), nil)
	if respErr != nil {
		t.Fatal(respErr)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "tls backend body" {
		t.Fatalf("expected tls backend body to be relayed, got %q", string(body))
	}
}
