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

// Package config loads the proxy's bootstrap configuration through
// viper: one struct per concern, mapstructure-tagged, validated with
// go-playground/validator. A top-level ProxyConfig aggregates one
// listener config per protocol plus the control-channel settings.
package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	liberr "github.com/ryantm/sozu/internal/errors"
)

// ListenerConfig is one CONFIGURE_HTTP_PROXY-shaped entry: the
// bootstrap parameters for a single protocol engine.
type ListenerConfig struct {
	Port           int    `mapstructure:"port" json:"port" yaml:"port" validate:"required,min=1,max=65535"`
	MaxConnections int    `mapstructure:"max_connections" json:"max_connections" yaml:"max_connections" validate:"required,min=1"`
	FrontTimeoutMs int    `mapstructure:"front_timeout_ms" json:"front_timeout_ms" yaml:"front_timeout_ms" validate:"min=0"`
	BackTimeoutMs  int    `mapstructure:"back_timeout_ms" json:"back_timeout_ms" yaml:"back_timeout_ms" validate:"min=0"`
	DefaultApp     string `mapstructure:"default_app" json:"default_app" yaml:"default_app"`
}

// TLSListenerConfig is ListenerConfig plus CONFIGURE_TLS_PROXY's
// cipher preference, session ticket, cipher suite and version options.
type TLSListenerConfig struct {
	ListenerConfig         `mapstructure:",squash"`
	CipherServerPreference bool     `mapstructure:"cipher_server_preference" json:"cipher_server_preference" yaml:"cipher_server_preference"`
	SessionTicketsDisabled bool     `mapstructure:"session_tickets_disabled" json:"session_tickets_disabled" yaml:"session_tickets_disabled"`
	CipherSuites           []string `mapstructure:"cipher_suites" json:"cipher_suites" yaml:"cipher_suites"`
	MinVersion             string   `mapstructure:"min_version" json:"min_version" yaml:"min_version"`
	MaxVersion             string   `mapstructure:"max_version" json:"max_version" yaml:"max_version"`
}

// ProxyConfig aggregates everything the supervisor needs to bootstrap
// the control channel and the three protocol engines before any
// control order arrives.
type ProxyConfig struct {
	ControlSocket string             `mapstructure:"control_socket" json:"control_socket" yaml:"control_socket" validate:"required"`
	AdminListen   string             `mapstructure:"admin_listen" json:"admin_listen" yaml:"admin_listen"`
	LogLevel      string             `mapstructure:"log_level" json:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	HTTP          *ListenerConfig    `mapstructure:"http" json:"http" yaml:"http"`
	TLS           *TLSListenerConfig `mapstructure:"tls" json:"tls" yaml:"tls"`
	TCP           []ListenerConfig   `mapstructure:"tcp" json:"tcp" yaml:"tcp"`
}

var validate = validator.New()

// Load reads path through viper (format inferred from its extension)
// and validates the result with go-playground/validator.
func Load(path string) (*ProxyConfig, liberr.Error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SOZU")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, liberr.New(liberr.ErrConfig, "reading configuration file", err)
	}

	var cfg ProxyConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, liberr.New(liberr.ErrConfig, "decoding configuration", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, liberr.New(liberr.ErrConfig, "validating configuration", err)
	}

	return &cfg, nil
}
