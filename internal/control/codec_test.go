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

package control_test

import (
	"testing"

	"github.com/ryantm/sozu/internal/control"
)

// TestEncodeDecodeRoundTrip checks that encoding and decoding an
// Order is identity modulo case of the type field.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	orig := control.Order{
		ID:  "req-1",
		Tag: control.AddHTTPFront,
		Data: &control.HTTPFrontPayload{
			AppID:     "app",
			Hostname:  "example.com",
			PathBegin: "/api",
		},
	}

	wire, err := control.Encode(orig)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := control.Decode(wire)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.ID != orig.ID || decoded.Tag != orig.Tag {
		t.Fatalf("expected round trip to preserve id/tag, got %+v", decoded)
	}
	payload, ok := decoded.Data.(*control.HTTPFrontPayload)
	if !ok || *payload != *orig.Data.(*control.HTTPFrontPayload) {
		t.Fatalf("expected round trip to preserve payload, got %+v", decoded.Data)
	}
}

func TestDecodeTagIsCaseInsensitive(t *testing.T) {
	raw := []byte(`{"id":"x","order":{"type":"soft_stop"}}`)
	decoded, err := control.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Tag != control.SoftStop {
		t.Fatalf("expected lowercase tag to decode to SoftStop, got %q", decoded.Tag)
	}
}

func TestNoDataOrderRejectsPayload(t *testing.T) {
	raw := []byte(`{"id":"x","order":{"type":"STATUS","data":{"oops":true}}}`)
	if _, err := control.Decode(raw); err == nil {
		t.Fatal("expected an error decoding a no-data order with a data payload")
	}
}
