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

package certificates

import "crypto/tls"

// Options holds the TLS front's handshake settings: server cipher
// preference, session tickets, cipher suites, curves and the protocol
// version range. CONFIGURE_TLS_PROXY sets them through separate
// fields; there is no options bitmask, and no compression setting
// (crypto/tls never offers TLS compression).
type Options struct {
	CipherServerPreference bool
	SessionTicketsDisabled bool
	CipherSuites           []uint16
	CurvePreferences       []tls.CurveID
	MinVersion             uint16
	MaxVersion             uint16
}

// DefaultOptions disables deprecated protocols and prefers ECDHE
// suites.
func DefaultOptions() Options {
	return Options{
		CipherServerPreference: true,
		SessionTicketsDisabled: false,
		MinVersion:             tls.VersionTLS12,
		MaxVersion:             tls.VersionTLS13,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_CHACHA20_POLY1305_SHA256,
		},
		CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256, tls.CurveP384},
	}
}

// versionsByName maps the CONFIGURE_TLS_PROXY min_version/max_version
// wire names to crypto/tls version constants. SSLv2/SSLv3/TLSv1/
// TLSv1.1 are deliberately absent: crypto/tls cannot negotiate them
// at all.
var versionsByName = map[string]uint16{
	"TLS1.2": tls.VersionTLS12,
	"TLS1.3": tls.VersionTLS13,
}

// ParseVersion resolves a CONFIGURE_TLS_PROXY version name, falling
// back to def when name is empty or unrecognized.
func ParseVersion(name string, def uint16) uint16 {
	if v, ok := versionsByName[name]; ok {
		return v
	}
	return def
}

// ParseCipherSuites resolves a CONFIGURE_TLS_PROXY cipher_list entry
// against the Go names of every supported, non-insecure cipher suite,
// ignoring unrecognized names rather than failing the whole order.
func ParseCipherSuites(names []string) []uint16 {
	if len(names) == 0 {
		return nil
	}
	byName := make(map[string]uint16, len(tls.CipherSuites()))
	for _, c := range tls.CipherSuites() {
		byName[c.Name] = c.ID
	}
	out := make([]uint16, 0, len(names))
	for _, n := range names {
		if id, ok := byName[n]; ok {
			out = append(out, id)
		}
	}
	return out
}

// BuildTLSConfig assembles the crypto/tls.Config the TLS session
// engine uses: certificate selection is delegated to
// store.GetCertificate so the handshake picks the record bound to the
// ClientHello's SNI. Renegotiation is disabled.
func BuildTLSConfig(store *Store, opt Options) *tls.Config {
	cfg := &tls.Config{
		GetCertificate:           store.GetCertificate,
		PreferServerCipherSuites: opt.CipherServerPreference, //nolint:staticcheck // kept so the control-plane flag stays visible
		SessionTicketsDisabled:   opt.SessionTicketsDisabled,
		MinVersion:               opt.MinVersion,
		MaxVersion:               opt.MaxVersion,
		Renegotiation:            tls.RenegotiateNever,
	}
	if len(opt.CipherSuites) > 0 {
		cfg.CipherSuites = opt.CipherSuites
	}
	if len(opt.CurvePreferences) > 0 {
		cfg.CurvePreferences = opt.CurvePreferences
	}
	return cfg
}
