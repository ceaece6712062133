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

package tlscfg

import (
	"crypto/tls"
	"io"

	tlsaut "github.com/ncbi-psg/gateway-core/internal/tlscfg/auth"
	tlscas "github.com/ncbi-psg/gateway-core/internal/tlscfg/ca"
	tlscrt "github.com/ncbi-psg/gateway-core/internal/tlscfg/certs"
	tlscpr "github.com/ncbi-psg/gateway-core/internal/tlscfg/cipher"
	tlscrv "github.com/ncbi-psg/gateway-core/internal/tlscfg/curves"
	tlsvrs "github.com/ncbi-psg/gateway-core/internal/tlscfg/tlsversion"
)

// config is the runtime, in-memory form of a TLSConfig: the one every
// internal/acceptor worker hands to crypto/tls once a listener accepts a
// connection. internal/tlscfg.Config is its serializable twin, built from
// gwconfig's ssl_* knobs and turned into a config by (*Config).New/NewFrom.
type config struct {
	rand                  io.Reader
	cert                  []tlscrt.Cert
	cipherList            []tlscpr.Cipher
	curveList             []tlscrv.Curves
	caRoot                []tlscas.Cert
	clientAuth            tlsaut.ClientAuth
	clientCA              []tlscas.Cert
	tlsMinVersion         tlsvrs.Version
	tlsMaxVersion         tlsvrs.Version
	dynSizingDisabled     bool
	ticketSessionDisabled bool
}

func (o *config) RegisterRand(rand io.Reader) {
	o.rand = rand
}

func (o *config) SetVersionMin(v tlsvrs.Version) {
	o.tlsMinVersion = v
}

func (o *config) GetVersionMin() tlsvrs.Version {
	return o.tlsMinVersion
}

func (o *config) SetVersionMax(v tlsvrs.Version) {
	o.tlsMaxVersion = v
}

func (o *config) GetVersionMax() tlsvrs.Version {
	return o.tlsMaxVersion
}

func (o *config) SetCipherList(c []tlscpr.Cipher) {
	o.cipherList = make([]tlscpr.Cipher, 0)
	o.AddCiphers(c...)
}

func (o *config) AddCiphers(c ...tlscpr.Cipher) {
	o.cipherList = append(o.cipherList, c...)
}

func (o *config) GetCiphers() []tlscpr.Cipher {
	var res = make([]tlscpr.Cipher, 0)

	for _, c := range o.cipherList {
		if c.Check() {
			res = append(res, c)
		}
	}

	return res
}

func (o *config) SetDynamicSizingDisabled(flag bool) {
	o.dynSizingDisabled = flag
}

func (o *config) SetSessionTicketDisabled(flag bool) {
	o.ticketSessionDisabled = flag
}

// Clone deep-copies every slice so the returned TLSConfig can be handed to a
// reloading worker (e.g. a SIGHUP cert rotation) while the original keeps
// serving connections accepted before the swap.
func (o *config) Clone() TLSConfig {
	return &config{
		rand:                  o.rand,
		cert:                  append(make([]tlscrt.Cert, 0, len(o.cert)), o.cert...),
		cipherList:            append(make([]tlscpr.Cipher, 0, len(o.cipherList)), o.cipherList...),
		curveList:             append(make([]tlscrv.Curves, 0, len(o.curveList)), o.curveList...),
		caRoot:                append(make([]tlscas.Cert, 0, len(o.caRoot)), o.caRoot...),
		clientAuth:            o.clientAuth,
		clientCA:              append(make([]tlscas.Cert, 0, len(o.clientCA)), o.clientCA...),
		tlsMinVersion:         o.tlsMinVersion,
		tlsMaxVersion:         o.tlsMaxVersion,
		dynSizingDisabled:     o.dynSizingDisabled,
		ticketSessionDisabled: o.ticketSessionDisabled,
	}
}

func (o *config) TlsConfig(serverName string) *tls.Config {
	return o.TLS(serverName)
}

// TLS builds the *tls.Config an internal/httpengine.Engine passes to its
// http.Server/http2.Server whenever TLSMandatory is set. serverName seeds
// ServerName for outbound dialers built off the same config (worker-to-worker
// health probes); inbound servers ignore it since SNI comes from the client
// hello.
func (o *config) TLS(serverName string) *tls.Config {
	var curves = make([]tls.CurveID, 0, len(o.curveList))
	for _, c := range o.GetCurves() {
		curves = append(curves, c.TLS())
	}

	var suites = make([]uint16, 0, len(o.cipherList))
	for _, c := range o.GetCiphers() {
		suites = append(suites, c.TLS())
	}

	cfg := &tls.Config{
		Rand:                        o.rand,
		ServerName:                  serverName,
		RootCAs:                     o.GetRootCAPool(),
		Certificates:                o.GetCertificatePair(),
		ClientAuth:                  o.clientAuth.TLS(),
		ClientCAs:                   o.GetClientCAPool(),
		MinVersion:                  o.tlsMinVersion.TLS(),
		MaxVersion:                  o.tlsMaxVersion.TLS(),
		CurvePreferences:            curves,
		CipherSuites:                suites,
		DynamicRecordSizingDisabled: o.dynSizingDisabled,
		SessionTicketsDisabled:      o.ticketSessionDisabled,
	}

	return cfg
}

// Config reverses (*Config).NewFrom, projecting the live runtime state back
// into the serializable shape so a running engine's TLS state can be
// inspected or re-persisted (e.g. by an admin endpoint dumping the effective
// configuration).
func (o *config) Config() *Config {
	res := &Config{
		CurveList:            append(make([]tlscrv.Curves, 0, len(o.curveList)), o.curveList...),
		CipherList:           append(make([]tlscpr.Cipher, 0, len(o.cipherList)), o.cipherList...),
		RootCA:               append(make([]tlscas.Cert, 0, len(o.caRoot)), o.caRoot...),
		ClientCA:             append(make([]tlscas.Cert, 0, len(o.clientCA)), o.clientCA...),
		VersionMin:           o.tlsMinVersion,
		VersionMax:           o.tlsMaxVersion,
		AuthClient:           o.clientAuth,
		DynamicSizingDisable: o.dynSizingDisabled,
		SessionTicketDisable: o.ticketSessionDisabled,
	}

	for _, c := range o.cert {
		res.Certs = append(res.Certs, c.Model())
	}

	return res
}
