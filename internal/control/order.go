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

// Package control implements the proxy's control channel: a
// tagged-union Order keyed by its `type` field, the ServerMessage
// reply every order eventually produces, and the JSON codec that
// carries both over the supervisor's socket.
package control

import (
	"net"
	"strconv"

	"github.com/ryantm/sozu/internal/certificates"
)

// Tag identifies an Order's variant, the wire `type` field.
type Tag string

const (
	AddHTTPFront       Tag = "ADD_HTTP_FRONT"
	RemoveHTTPFront    Tag = "REMOVE_HTTP_FRONT"
	AddTLSFront        Tag = "ADD_TLS_FRONT"
	RemoveTLSFront     Tag = "REMOVE_TLS_FRONT"
	AddCertificate     Tag = "ADD_CERTIFICATE"
	RemoveCertificate  Tag = "REMOVE_CERTIFICATE"
	AddTCPFront        Tag = "ADD_TCP_FRONT"
	RemoveTCPFront     Tag = "REMOVE_TCP_FRONT"
	AddInstance        Tag = "ADD_INSTANCE"
	RemoveInstance     Tag = "REMOVE_INSTANCE"
	ConfigureHTTPProxy Tag = "CONFIGURE_HTTP_PROXY"
	ConfigureTLSProxy  Tag = "CONFIGURE_TLS_PROXY"
	SoftStop           Tag = "SOFT_STOP"
	HardStop           Tag = "HARD_STOP"
	StatusTag          Tag = "STATUS"
)

// Topic names which protocol loop(s) an order's tag is dispatched
// to; an order only ever reaches the loops whose topic it targets.
type Topic int

const (
	TopicNone Topic = iota
	TopicHTTP
	TopicTLS
	TopicTCP
	TopicAll
)

// Topics returns the set of topics tag affects. ADD_INSTANCE,
// REMOVE_INSTANCE, SOFT_STOP, HARD_STOP and STATUS affect every loop;
// front/config orders affect only their own protocol.
func (t Tag) Topics() []Topic {
	switch t {
	case AddHTTPFront, RemoveHTTPFront, ConfigureHTTPProxy:
		return []Topic{TopicHTTP}
	case AddTLSFront, RemoveTLSFront, AddCertificate, RemoveCertificate, ConfigureTLSProxy:
		return []Topic{TopicTLS}
	case AddTCPFront, RemoveTCPFront:
		return []Topic{TopicTCP}
	case AddInstance, RemoveInstance, SoftStop, HardStop, StatusTag:
		return []Topic{TopicHTTP, TopicTLS, TopicTCP}
	default:
		return nil
	}
}

// HTTPFrontPayload is the {app_id, hostname, path_begin} payload of
// ADD_HTTP_FRONT/REMOVE_HTTP_FRONT.
type HTTPFrontPayload struct {
	AppID     string `json:"app_id"`
	Hostname  string `json:"hostname"`
	PathBegin string `json:"path_begin"`
}

// TLSFrontPayload is ADD_TLS_FRONT/REMOVE_TLS_FRONT's payload: an HTTP
// front plus the bound certificate's fingerprint.
type TLSFrontPayload struct {
	AppID       string                   `json:"app_id"`
	Hostname    string                   `json:"hostname"`
	PathBegin   string                   `json:"path_begin"`
	Fingerprint certificates.Fingerprint `json:"fingerprint"`
}

// CertificatePayload is ADD_CERTIFICATE's payload: PEM cert, chain and
// key.
type CertificatePayload struct {
	Certificate      string   `json:"certificate"`
	CertificateChain []string `json:"certificate_chain"`
	Key              string   `json:"key"`
}

// RemoveCertificatePayload is REMOVE_CERTIFICATE's payload.
type RemoveCertificatePayload struct {
	Fingerprint certificates.Fingerprint `json:"fingerprint"`
}

// TCPFrontPayload is ADD_TCP_FRONT/REMOVE_TCP_FRONT's payload.
type TCPFrontPayload struct {
	AppID     string `json:"app_id"`
	IPAddress string `json:"ip_address"`
	Port      int    `json:"port"`
}

// InstancePayload is ADD_INSTANCE/REMOVE_INSTANCE's payload.
type InstancePayload struct {
	AppID     string `json:"app_id"`
	IPAddress string `json:"ip_address"`
	Port      int    `json:"port"`
}

// Addr renders the instance payload's address as a net.JoinHostPort
// pair, the shape AppTable.AddInstance expects.
func (p InstancePayload) Addr() string {
	return net.JoinHostPort(p.IPAddress, strconv.Itoa(p.Port))
}

// HTTPProxyConfig is CONFIGURE_HTTP_PROXY's payload: the listener
// bootstrap parameters for the HTTP engine, plus the buffer size and
// canned error responses.
type HTTPProxyConfig struct {
	Port           int    `json:"port" validate:"required,min=1,max=65535"`
	MaxConnections int    `json:"max_connections" validate:"required,min=1"`
	FrontTimeoutMs int    `json:"front_timeout_ms" validate:"min=0"`
	BackTimeoutMs  int    `json:"back_timeout_ms" validate:"min=0"`
	BufferSize     int    `json:"buffer_size"`
	PublicAddress  string `json:"public_address"`
	DefaultApp     string `json:"default_app"`
	Answer404      []byte `json:"answer_404"`
	Answer503      []byte `json:"answer_503"`
}

// TLSProxyConfig is CONFIGURE_TLS_PROXY's payload: HTTPProxyConfig
// plus the cipher preference, session ticket, cipher suite and version
// options and the default-certificate fields.
type TLSProxyConfig struct {
	HTTPProxyConfig
	CipherServerPreference  bool     `json:"cipher_server_preference"`
	SessionTicketsDisabled  bool     `json:"session_tickets_disabled"`
	CipherSuites            []string `json:"cipher_suites"`
	MinVersion              string   `json:"min_version"`
	MaxVersion              string   `json:"max_version"`
	DefaultName             string   `json:"default_name"`
	DefaultAppID            string   `json:"default_app_id"`
	DefaultCertificate      string   `json:"default_certificate"`
	DefaultKey              string   `json:"default_key"`
	DefaultCertificateChain []string `json:"default_certificate_chain"`
}

// Order is a decoded control-channel message: a correlation id plus a
// tagged-union payload.
type Order struct {
	ID   string
	Tag  Tag
	Data any
}
