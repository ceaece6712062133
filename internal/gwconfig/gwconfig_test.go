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

package gwconfig_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ncbi-psg/gateway-core/internal/gwconfig"
	"github.com/ncbi-psg/gateway-core/internal/zhealth"
)

var _ = Describe("Config", func() {
	It("rejects a port outside the valid range", func() {
		c := &gwconfig.Config{
			Network: gwconfig.NetworkConfig{Port: 0, Workers: 1},
		}
		Expect(c.Validate()).ToNot(BeNil())
	})

	It("accepts a fully populated config", func() {
		c := &gwconfig.Config{
			Network: gwconfig.NetworkConfig{Port: 8080, Workers: 4, Backlog: 128},
		}
		Expect(c.Validate()).To(BeNil())
	})

	It("requires cert and key files when TLS is enabled", func() {
		c := &gwconfig.Config{
			Network: gwconfig.NetworkConfig{Port: 8443, Workers: 1},
			TLS:     gwconfig.TLSConfig{Enable: true},
		}
		Expect(c.Validate()).ToNot(BeNil())
	})

	Describe("AdminConfig.Names", func() {
		It("splits on semicolons and commas and trims whitespace", func() {
			a := gwconfig.AdminConfig{ClientNames: " nst-client ; other-client,third "}
			Expect(a.Names()).To(Equal([]string{"nst-client", "other-client", "third"}))
		})

		It("returns an empty slice for an empty value", func() {
			a := gwconfig.AdminConfig{}
			Expect(a.Names()).To(BeEmpty())
		})
	})

	Describe("ConnLimitsConfig durations", func() {
		cl := gwconfig.ConnLimitsConfig{
			ThrottleIdleTimeoutMS:  1500,
			ThrottleCloseIdleSec:  30,
			ThrottlingDataValidSec: 60,
			ForceCloseWaitSec:      5,
		}

		It("converts millisecond and second fields to time.Duration", func() {
			Expect(cl.IdleTimeout()).To(Equal(1500 * time.Millisecond))
			Expect(cl.CloseIdleAfter()).To(Equal(30 * time.Second))
			Expect(cl.ValidFor()).To(Equal(60 * time.Second))
			Expect(cl.ForceCloseWait()).To(Equal(5 * time.Second))
		})
	})

	Describe("adapters", func() {
		It("builds connlimits.Limits from the configured thresholds", func() {
			cl := gwconfig.ConnLimitsConfig{AlertLimit: 100, SoftLimit: 200, HardLimit: 300}
			l := cl.Limits()
			Expect(l.Alert).To(Equal(int64(100)))
			Expect(l.Soft).To(Equal(int64(200)))
			Expect(l.Hard).To(Equal(int64(300)))
		})

		It("builds a throttle.Config carrying the per-dimension limits", func() {
			cl := gwconfig.ConnLimitsConfig{
				ThrottleByHost:      1,
				ThrottleBySite:      2,
				ThrottleByProcess:   3,
				ThrottleByUserAgent: 4,
			}
			tc := cl.ThrottleConfig()
			Expect(tc.ByHostLimit).To(Equal(1))
			Expect(tc.BySiteLimit).To(Equal(2))
			Expect(tc.ByProcessLimit).To(Equal(3))
			Expect(tc.ByUserAgentLimit).To(Equal(4))
		})

		It("parses configured cipher names", func() {
			t := gwconfig.TLSConfig{Ciphers: []string{"TLS_AES_128_GCM_SHA256"}}
			Expect(t.Ciphers()).To(HaveLen(1))
		})

		It("builds a zhealth.Config from the health table", func() {
			h := gwconfig.HealthConfig{
				Checks: map[string]gwconfig.HealthCheckConfig{
					"cassandra": {Name: "Cassandra", Command: "/probe/cassandra", TimeoutMS: 2000},
				},
				CriticalDataSources: []string{"cassandra"},
			}
			zc := h.ZHealthConfig(8080)
			Expect(zc.Port).To(Equal(8080))
			Expect(zc.Checks).To(HaveKey(zhealth.CheckID("cassandra")))
			Expect(zc.CriticalSources[zhealth.CheckID("cassandra")]).To(BeTrue())
		})
	})

	Describe("Load", func() {
		It("reads a JSON document, merges a standalone YAML health table, and validates", func() {
			dir := GinkgoT().TempDir()

			cfgPath := filepath.Join(dir, "gateway.json")
			healthPath := filepath.Join(dir, "health.yaml")

			Expect(os.WriteFile(cfgPath, []byte(`{
				"network": {"port": 8080, "workers": 2, "backlog": 64},
				"conn_limits": {"conn_alert_limit": 100, "conn_soft_limit": 200, "conn_hard_limit": 300},
				"admin": {"admin_client_names": "nst-client"}
			}`), 0o600)).To(Succeed())

			Expect(os.WriteFile(healthPath, []byte(`
checks:
  cassandra:
    name: Cassandra
    command: /probe/cassandra
    timeout_ms: 2000
critical_data_sources:
  - cassandra
`), 0o600)).To(Succeed())

			cfg, err := gwconfig.Load(cfgPath, healthPath)
			Expect(err).To(BeNil())
			Expect(cfg.Network.Port).To(Equal(8080))
			Expect(cfg.Admin.Names()).To(Equal([]string{"nst-client"}))
			Expect(cfg.Health.Checks).To(HaveKey("cassandra"))
			Expect(cfg.Health.CriticalDataSources).To(ContainElement("cassandra"))
		})

		It("wraps a missing config file in ErrorConfigLoad", func() {
			_, err := gwconfig.Load("/nonexistent/gateway.json", "")
			Expect(err).ToNot(BeNil())
		})
	})
})
