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
	"os"

	spfvpr "github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	liberr "github.com/ncbi-psg/gateway-core/internal/xerror"
)

// Load reads the main configuration document (json/yaml/toml, anything
// viper can sniff from configFile's extension) into a Config, overlays
// environment variables using the same key convention as the
// mapstructure tags above, and validates the result.
//
// If healthFile is non-empty, the per-source health-check table is
// loaded from that separate document via gopkg.in/yaml.v3 directly
// instead of through viper's own decoder, and merged into the returned
// Config's Health field. This mirrors how the health table is operated
// independently of the rest of the configuration: it is reasonable to
// edit the probe commands without touching network or TLS settings.
func Load(configFile, healthFile string) (*Config, liberr.Error) {
	v := spfvpr.New()
	v.SetConfigFile(configFile)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		e := ErrorConfigLoad.Error(err)
		return nil, e
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		e := ErrorConfigLoad.Error(err)
		return nil, e
	}

	if healthFile != "" {
		h, err := loadHealth(healthFile)
		if err != nil {
			e := ErrorConfigLoad.Error(err)
			return nil, e
		}
		cfg.Health = *h
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadHealth decodes a standalone YAML document holding the
// per-data-source health check table, independently of viper.
func loadHealth(healthFile string) (*HealthConfig, error) {
	raw, err := os.ReadFile(healthFile)
	if err != nil {
		return nil, err
	}

	var h HealthConfig
	if err = yaml.Unmarshal(raw, &h); err != nil {
		return nil, err
	}

	return &h, nil
}
