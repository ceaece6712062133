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

package gwconfig

import (
	"encoding/json"
	"time"

	"github.com/ncbi-psg/gateway-core/internal/connlimits"
	libtls "github.com/ncbi-psg/gateway-core/internal/tlscfg"
	tlscrt "github.com/ncbi-psg/gateway-core/internal/tlscfg/certs"
	tlscpr "github.com/ncbi-psg/gateway-core/internal/tlscfg/cipher"
	"github.com/ncbi-psg/gateway-core/internal/throttle"
	"github.com/ncbi-psg/gateway-core/internal/zhealth"
)

// Limits builds the internal/connlimits.Limits this configuration implies.
func (c ConnLimitsConfig) Limits() connlimits.Limits {
	return connlimits.Limits{
		Alert: c.AlertLimit,
		Soft:  c.SoftLimit,
		Hard:  c.HardLimit,
	}
}

// ThrottleConfig builds the internal/throttle.Config this configuration
// implies.
func (c ConnLimitsConfig) ThrottleConfig() throttle.Config {
	return throttle.Config{
		ValidFor:         c.ValidFor(),
		IdleTimeout:      c.IdleTimeout(),
		ByHostLimit:      c.ThrottleByHost,
		BySiteLimit:      c.ThrottleBySite,
		ByProcessLimit:   c.ThrottleByProcess,
		ByUserAgentLimit: c.ThrottleByUserAgent,
	}
}

// Ciphers parses the configured ssl_ciphers string list into
// internal/tlscfg/cipher.Cipher values, using the same Parse helper its
// own (un)marshalers call.
func (t TLSConfig) Ciphers() []tlscpr.Cipher {
	out := make([]tlscpr.Cipher, 0, len(t.Ciphers))
	for _, s := range t.Ciphers {
		out = append(out, tlscpr.Parse(s))
	}
	return out
}

// TLSCertConfig builds the libtls.Config this TLS group implies, ready
// for (*libtls.Config).New(): the cert/key file pair decoded the same
// way tlscfg/certs.Certif does from a JSON document, and the parsed
// cipher list. Returns nil, nil when TLS is not enabled.
func (t TLSConfig) TLSCertConfig() (*libtls.Config, error) {
	if !t.Enable {
		return nil, nil
	}

	pair, err := json.Marshal(tlscrt.ConfigPair{Key: t.KeyFile, Pub: t.CertFile})
	if err != nil {
		return nil, err
	}

	var certif tlscrt.Certif
	if err = certif.UnmarshalJSON(pair); err != nil {
		return nil, err
	}

	return &libtls.Config{
		CipherList: t.Ciphers(),
		Certs:      []tlscrt.Certif{certif},
	}, nil
}

// ZHealthConfig builds the internal/zhealth.Config this configuration
// implies, for the gateway's own listening port.
func (h HealthConfig) ZHealthConfig(port int) zhealth.Config {
	checks := make(map[zhealth.CheckID]zhealth.CheckConfig, len(h.Checks))
	for id, cc := range h.Checks {
		checks[zhealth.CheckID(id)] = zhealth.CheckConfig{
			Name:        cc.Name,
			Description: cc.Description,
			Command:     cc.Command,
			Timeout:     time.Duration(cc.TimeoutMS) * time.Millisecond,
		}
	}

	critical := make(map[zhealth.CheckID]bool, len(h.CriticalDataSources))
	for _, id := range h.CriticalDataSources {
		critical[zhealth.CheckID(id)] = true
	}

	return zhealth.Config{
		Port:            port,
		Checks:          checks,
		CriticalSources: critical,
	}
}
