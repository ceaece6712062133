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

package httpengine

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"

	libtls "github.com/ncbi-psg/gateway-core/internal/tlscfg"
	liberr "github.com/ncbi-psg/gateway-core/internal/xerror"
)

// Config is the per-worker engine configuration: there is exactly one
// listener and one Engine per gateway worker, so unlike the pooled,
// multi-named-server configuration this descends from, Config carries no
// collection type of its own — the worker count (spec.md §4.2) is what
// multiplies it.
type Config struct {
	getTLSDefault    func() libtls.TLSConfig
	getParentContext func() context.Context

	/*** http options ***/

	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body.
	ReadTimeout time.Duration `mapstructure:"read_timeout" json:"read_timeout" yaml:"read_timeout" toml:"read_timeout"`

	// ReadHeaderTimeout is the amount of time allowed to read request
	// headers before the connection is dropped.
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" json:"read_header_timeout" yaml:"read_header_timeout" toml:"read_header_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of
	// the response.
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout" yaml:"write_timeout" toml:"write_timeout"`

	// MaxHeaderBytes controls the maximum size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes" json:"max_header_bytes" yaml:"max_header_bytes" toml:"max_header_bytes"`

	/*** http2 options ***/

	// MaxConcurrentStreams optionally specifies the number of concurrent
	// streams each client may have open at a time.
	MaxConcurrentStreams uint32 `mapstructure:"max_concurrent_streams" json:"max_concurrent_streams" yaml:"max_concurrent_streams" toml:"max_concurrent_streams"`

	// IdleTimeout specifies how long until idle clients are closed with a
	// GOAWAY frame (HTTP/2) or connection close (HTTP/1).
	IdleTimeout time.Duration `mapstructure:"idle_timeout" json:"idle_timeout" yaml:"idle_timeout" toml:"idle_timeout"`

	// MaxUploadBufferPerConnection is the HTTP/2 initial flow-control
	// window per connection.
	MaxUploadBufferPerConnection int32 `mapstructure:"max_upload_buffer_per_connection" json:"max_upload_buffer_per_connection" yaml:"max_upload_buffer_per_connection" toml:"max_upload_buffer_per_connection"`

	// MaxUploadBufferPerStream is the HTTP/2 initial flow-control window
	// per stream.
	MaxUploadBufferPerStream int32 `mapstructure:"max_upload_buffer_per_stream" json:"max_upload_buffer_per_stream" yaml:"max_upload_buffer_per_stream" toml:"max_upload_buffer_per_stream"`

	// Name identifies this gateway listener in logs and metrics.
	Name string `mapstructure:"name" json:"name" yaml:"name" toml:"name" validate:"required"`

	// Listen is the local bind address (host:port).
	Listen string `mapstructure:"listen" json:"listen" yaml:"listen" toml:"listen" validate:"required,hostname_port"`

	// Expose is the externally reachable address of this listener. The
	// readyz/healthz self-probe does not use it; it probes 127.0.0.1:<port>.
	Expose string `mapstructure:"expose" json:"expose" yaml:"expose" toml:"expose" validate:"omitempty,url"`

	// TLSMandatory requires a valid TLS config before the engine starts.
	TLSMandatory bool `mapstructure:"tls_mandatory" json:"tls_mandatory" yaml:"tls_mandatory" toml:"tls_mandatory"`

	// TLS is the tls configuration for this listener. Omit to run plain
	// HTTP/1.1; HTTP/2 is only served over TLS (no h2c).
	TLS libtls.Config `mapstructure:"tls" json:"tls" yaml:"tls" toml:"tls"`
}

func (c *Config) Clone() Config {
	return Config{
		getTLSDefault:                c.getTLSDefault,
		getParentContext:             c.getParentContext,
		ReadTimeout:                  c.ReadTimeout,
		ReadHeaderTimeout:            c.ReadHeaderTimeout,
		WriteTimeout:                 c.WriteTimeout,
		MaxHeaderBytes:               c.MaxHeaderBytes,
		MaxConcurrentStreams:         c.MaxConcurrentStreams,
		IdleTimeout:                  c.IdleTimeout,
		MaxUploadBufferPerConnection: c.MaxUploadBufferPerConnection,
		MaxUploadBufferPerStream:     c.MaxUploadBufferPerStream,
		Name:                         c.Name,
		Listen:                       c.Listen,
		Expose:                       c.Expose,
		TLSMandatory:                 c.TLSMandatory,
		TLS:                         c.TLS,
	}
}

func (c *Config) SetDefaultTLS(f func() libtls.TLSConfig) {
	c.getTLSDefault = f
}

func (c *Config) SetParentContext(f func() context.Context) {
	c.getParentContext = f
}

func (c *Config) GetTLS() libtls.TLSConfig {
	var def libtls.TLSConfig

	if c.getTLSDefault != nil {
		def = c.getTLSDefault()
	}

	return c.TLS.NewFrom(def)
}

func (c *Config) IsTLS() bool {
	ssl := c.GetTLS()
	return ssl != nil && ssl.LenCertificatePair() > 0
}

func (c *Config) getContext() context.Context {
	if c.getParentContext != nil {
		if ctx := c.getParentContext(); ctx != nil {
			return ctx
		}
	}

	return context.Background()
}

func (c *Config) GetListen() *url.URL {
	if c.Listen == "" {
		return nil
	}

	if host, prt, err := net.SplitHostPort(c.Listen); err == nil {
		return &url.URL{Host: fmt.Sprintf("%s:%s", host, prt)}
	}

	add, err := url.Parse(c.Listen)
	if err != nil {
		return nil
	}

	return add
}

func (c *Config) GetExpose() *url.URL {
	if c.Expose != "" {
		if add, err := url.Parse(c.Expose); err == nil {
			return add
		}
	}

	add := c.GetListen()
	if add == nil {
		return nil
	}

	if c.IsTLS() {
		add.Scheme = "https"
	} else {
		add.Scheme = "http"
	}

	return add
}

func (c *Config) Validate() liberr.Error {
	val := validator.New()
	err := val.Struct(c)
	if err == nil {
		return nil
	}

	if e, ok := err.(*validator.InvalidValidationError); ok {
		return ErrorServerValidate.Error(e)
	}

	out := ErrorServerValidate.Error(nil)

	for _, e := range err.(validator.ValidationErrors) {
		//nolint goerr113
		out.Add(fmt.Errorf("config field '%s' is not validated by constraint '%s'", e.Field(), e.ActualTag()))
	}

	if out.HasParent() {
		return out
	}

	return nil
}
