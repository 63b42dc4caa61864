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

package certificates_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"bytes"
	"encoding/pem"

	libcrt "github.com/ryantm/sozu/internal/certificates"
	liberr "github.com/ryantm/sozu/internal/errors"
)

func genCertPair(t *testing.T, cn string) (certPEM, keyPEM string) {
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
	if err := pem.Encode(cb, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		t.Fatal(err)
	}
	kd, err := x509.MarshalECPrivateKey(prv)
	if err != nil {
		t.Fatal(err)
	}
	kb := &bytes.Buffer{}
	if err := pem.Encode(kb, &pem.Block{Type: "EC PRIVATE KEY", Bytes: kd}); err != nil {
		t.Fatal(err)
	}
	return cb.String(), kb.String()
}

func TestParsePEMFingerprintStable(t *testing.T) {
	certPEM, keyPEM := genCertPair(t, "a.example")

	r1, err := libcrt.ParsePEM(certPEM, nil, keyPEM)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := libcrt.ParsePEM(certPEM, nil, keyPEM)
	if err != nil {
		t.Fatal(err)
	}
	if r1.Fingerprint != r2.Fingerprint {
		t.Fatal("fingerprint of the same leaf must be stable")
	}
}

func TestStoreBindUnknownFingerprintRejected(t *testing.T) {
	s := libcrt.NewStore()
	err := s.Bind("a.example", "deadbeef")
	if err == nil {
		t.Fatal("expected Bind to reject an unknown fingerprint")
	}
	if !liberr.Is(err, liberr.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err.Code())
	}
}

func TestStoreSNISelectsBoundCertificate(t *testing.T) {
	aCert, aKey := genCertPair(t, "a.example")
	bCert, bKey := genCertPair(t, "b.example")

	ra, err := libcrt.ParsePEM(aCert, nil, aKey)
	if err != nil {
		t.Fatal(err)
	}
	rb, err := libcrt.ParsePEM(bCert, nil, bKey)
	if err != nil {
		t.Fatal(err)
	}

	s := libcrt.NewStore()
	s.Add(ra)
	s.Add(rb)

	if err := s.Bind("a.example", ra.Fingerprint); err != nil {
		t.Fatal(err)
	}
	if err := s.Bind("B.Example.", rb.Fingerprint); err != nil {
		t.Fatal(err)
	}

	got, getErr := s.GetCertificate(&tls.ClientHelloInfo{ServerName: "b.example"})
	if getErr != nil {
		t.Fatal(getErr)
	}
	if got.Leaf == nil {
		t.Fatal("expected a parsed leaf on the selected certificate")
	}
	if libcrt.FingerprintOf(got.Leaf) != rb.Fingerprint {
		t.Fatal("SNI b.example must select the b certificate, case/trailing-dot insensitively")
	}
}

func TestStoreRemoveDetachesSNI(t *testing.T) {
	certPEM, keyPEM := genCertPair(t, "a.example")
	r, err := libcrt.ParsePEM(certPEM, nil, keyPEM)
	if err != nil {
		t.Fatal(err)
	}

	s := libcrt.NewStore()
	s.Add(r)
	if err := s.Bind("a.example", r.Fingerprint); err != nil {
		t.Fatal(err)
	}

	s.Remove(r.Fingerprint)

	if _, err := s.GetCertificate(&tls.ClientHelloInfo{ServerName: "a.example"}); err == nil {
		t.Fatal("expected no certificate after removal")
	}
}

func TestStoreDefaultCertificateServesUnmatchedSNI(t *testing.T) {
	certPEM, keyPEM := genCertPair(t, "default.example")
	r, err := libcrt.ParsePEM(certPEM, nil, keyPEM)
	if err != nil {
		t.Fatal(err)
	}

	s := libcrt.NewStore()
	s.Add(r)
	if err := s.SetDefault(r.Fingerprint); err != nil {
		t.Fatal(err)
	}

	got, getErr := s.GetCertificate(&tls.ClientHelloInfo{ServerName: "unknown.example"})
	if getErr != nil {
		t.Fatal(getErr)
	}
	if libcrt.FingerprintOf(got.Leaf) != r.Fingerprint {
		t.Fatal("expected the default certificate when no SNI binding matches")
	}
}

func TestStoreSetDefaultRejectsUnknownFingerprint(t *testing.T) {
	s := libcrt.NewStore()
	if err := s.SetDefault("deadbeef"); err == nil {
		t.Fatal("expected an error for an unregistered fingerprint")
	}
}
