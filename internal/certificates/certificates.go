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

// Package certificates manages the TLS front's certificate records:
// parsing a PEM leaf+chain+key into a Record, computing the
// fingerprint that serves as its removal key, and assembling the
// crypto/tls.Config the TLS session engine installs per-handshake
// based on the SNI match.
package certificates

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"sync"

	liberr "github.com/ryantm/sozu/internal/errors"
	"github.com/ryantm/sozu/internal/hostmatch"
)

// Fingerprint is a hash of a certificate's leaf DER, used as its
// removal key.
type Fingerprint string

// Record is a certificate/chain/key triple keyed by its leaf
// fingerprint.
type Record struct {
	Fingerprint Fingerprint
	Leaf        *x509.Certificate
	Chain       []*x509.Certificate
	pair        tls.Certificate
}

// ParsePEM builds a Record from PEM-encoded cert, chain and key
// strings, the same shape as the ADD_CERTIFICATE order payload.
func ParsePEM(certPEM string, chainPEM []string, keyPEM string) (Record, liberr.Error) {
	full := certPEM
	for _, c := range chainPEM {
		full += "\n" + c
	}

	pair, err := tls.X509KeyPair([]byte(full), []byte(keyPEM))
	if err != nil {
		return Record{}, liberr.New(liberr.ErrConfig, "parsing certificate/key pair", err)
	}

	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return Record{}, liberr.New(liberr.ErrConfig, "parsing leaf certificate", err)
	}

	chain := make([]*x509.Certificate, 0, len(pair.Certificate)-1)
	for _, der := range pair.Certificate[1:] {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return Record{}, liberr.New(liberr.ErrConfig, "parsing chain certificate", err)
		}
		chain = append(chain, c)
	}

	pair.Leaf = leaf

	return Record{
		Fingerprint: FingerprintOf(leaf),
		Leaf:        leaf,
		Chain:       chain,
		pair:        pair,
	}, nil
}

// FingerprintOf hashes a leaf certificate's DER encoding with
// SHA-256.
func FingerprintOf(leaf *x509.Certificate) Fingerprint {
	sum := sha256.Sum256(leaf.Raw)
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// Store holds the certificate records known to a TLS front-end
// engine, keyed by fingerprint, and resolves SNI hostnames to
// fingerprints for handshake-time certificate selection.
type Store struct {
	mu   sync.RWMutex
	recs map[Fingerprint]Record
	sni  map[string]Fingerprint // normalized hostname -> fingerprint
	dflt *Fingerprint
}

// NewStore builds an empty certificate store.
func NewStore() *Store {
	return &Store{
		recs: make(map[Fingerprint]Record),
		sni:  make(map[string]Fingerprint),
	}
}

// Add registers a certificate record, replacing any prior record at
// the same fingerprint.
func (s *Store) Add(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[r.Fingerprint] = r
}

// Remove deletes a certificate by fingerprint and detaches any SNI
// binding pointing at it.
func (s *Store) Remove(fp Fingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, fp)
	for host, f := range s.sni {
		if f == fp {
			delete(s.sni, host)
		}
	}
}

// Bind maps hostname to fingerprint for SNI selection. Returns an
// ErrConfig error if the fingerprint is unknown, rejecting the front
// that referenced it.
func (s *Store) Bind(hostname string, fp Fingerprint) liberr.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[fp]; !ok {
		return liberr.Newf(liberr.ErrConfig, "unknown certificate fingerprint %q", fp)
	}
	s.sni[normalizeHost(hostname)] = fp
	return nil
}

// Unbind removes a hostname's SNI binding.
func (s *Store) Unbind(hostname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sni, normalizeHost(hostname))
}

// SetDefault installs fp as the fallback certificate GetCertificate
// serves when a ClientHello's SNI matches no bound front, the
// default_certificate/default_key pair of CONFIGURE_TLS_PROXY.
func (s *Store) SetDefault(fp Fingerprint) liberr.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[fp]; !ok {
		return liberr.Newf(liberr.ErrConfig, "unknown certificate fingerprint %q", fp)
	}
	s.dflt = &fp
	return nil
}

// GetCertificate implements the crypto/tls.Config.GetCertificate
// hook: it resolves the ClientHello's SNI to a bound fingerprint and
// returns that certificate pair, or an error (failing the handshake)
// if no SNI front matches and no default is installed.
func (s *Store) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	host := normalizeHost(hello.ServerName)
	fp, ok := s.sni[host]
	if !ok {
		if s.dflt == nil {
			return nil, liberr.Newf(liberr.ErrProtocol, "no certificate bound for SNI %q", hello.ServerName)
		}
		fp = *s.dflt
	}

	rec, ok := s.recs[fp]
	if !ok {
		return nil, liberr.Newf(liberr.ErrConfig, "SNI %q bound to missing fingerprint %q", hello.ServerName, fp)
	}

	return &rec.pair, nil
}

func normalizeHost(h string) string {
	return hostmatch.Normalize(h)
}
