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

package control

import (
	"encoding/json"
	"fmt"
	"strings"

	liberr "github.com/ryantm/sozu/internal/errors"
)

// envelope is the control message's wire shape: {id, order: {type,
// data}}.
type envelope struct {
	ID    string          `json:"id"`
	Order json.RawMessage `json:"order"`
}

type rawOrder struct {
	Type Tag             `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// payloadFor centralizes the tag -> payload-type mapping in one
// place so Encode and Decode stay inverses of one another.
func payloadFor(tag Tag) any {
	switch tag {
	case AddHTTPFront, RemoveHTTPFront:
		return &HTTPFrontPayload{}
	case AddTLSFront, RemoveTLSFront:
		return &TLSFrontPayload{}
	case AddCertificate:
		return &CertificatePayload{}
	case RemoveCertificate:
		return &RemoveCertificatePayload{}
	case AddTCPFront, RemoveTCPFront:
		return &TCPFrontPayload{}
	case AddInstance, RemoveInstance:
		return &InstancePayload{}
	case ConfigureHTTPProxy:
		return &HTTPProxyConfig{}
	case ConfigureTLSProxy:
		return &TLSProxyConfig{}
	case SoftStop, HardStop, StatusTag:
		return nil
	default:
		return nil
	}
}

// Decode parses a control-channel message. Decoding an encoded Order
// yields it back, identically modulo case of the type field.
func Decode(raw []byte) (Order, liberr.Error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Order{}, liberr.New(liberr.ErrProtocol, "decoding control envelope", err)
	}

	var ro rawOrder
	if err := json.Unmarshal(env.Order, &ro); err != nil {
		return Order{}, liberr.New(liberr.ErrProtocol, "decoding order", err)
	}

	tag := Tag(normalizeTag(string(ro.Type)))
	payload := payloadFor(tag)
	if payload == nil && len(ro.Data) > 0 {
		return Order{}, liberr.Newf(liberr.ErrProtocol, "order %q takes no data", tag)
	}
	if payload != nil && len(ro.Data) > 0 {
		if err := json.Unmarshal(ro.Data, payload); err != nil {
			return Order{}, liberr.New(liberr.ErrProtocol, fmt.Sprintf("decoding %q payload", tag), err)
		}
	}

	return Order{ID: env.ID, Tag: tag, Data: payload}, nil
}

// Encode renders an Order back to the wire envelope shape.
func Encode(o Order) ([]byte, liberr.Error) {
	ro := rawOrder{Type: o.Tag}
	if o.Data != nil {
		data, err := json.Marshal(o.Data)
		if err != nil {
			return nil, liberr.New(liberr.ErrProtocol, "encoding order payload", err)
		}
		ro.Data = data
	}
	orderJSON, err := json.Marshal(ro)
	if err != nil {
		return nil, liberr.New(liberr.ErrProtocol, "encoding order", err)
	}
	out, err := json.Marshal(envelope{ID: o.ID, Order: orderJSON})
	if err != nil {
		return nil, liberr.New(liberr.ErrProtocol, "encoding envelope", err)
	}
	return out, nil
}

// normalizeTag upper-cases the tag so decoding is resilient to
// case.
func normalizeTag(s string) string {
	return strings.ToUpper(s)
}
