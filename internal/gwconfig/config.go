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

// Package gwconfig is the complete configuration surface of the gateway
// (spec.md §6): network, connection limits, TLS, shutdown, per-data-source
// health checks and logging/admin toggles, following
// _examples/nabbar-golib's component-registration idiom (one Config
// struct per concern, mapstructure/json/yaml/toml tags, a Validate method
// built on go-playground/validator) the way internal/tlscfg and
// internal/httpengine already do for their own slices of this surface.
package gwconfig

import (
	"strings"
	"time"

	liberr "github.com/ncbi-psg/gateway-core/internal/xerror"
)

// NetworkConfig is spec.md §6's Network group.
type NetworkConfig struct {
	Port    int    `mapstructure:"port" json:"port" yaml:"port" toml:"port" validate:"required,min=1,max=65535"`
	Address string `mapstructure:"address" json:"address" yaml:"address" toml:"address"`
	// ManagementPort serves /livez, /readyz, /ADMIN/connections_status
	// and /metrics over plain HTTP+gin, kept off the data-plane workers'
	// listener since those speak raw PSG framing, not JSON. Defaults to
	// Port+1 when left at zero.
	ManagementPort int `mapstructure:"management_port" json:"management_port" yaml:"management_port" toml:"management_port" validate:"min=0,max=65535"`
	Workers        int `mapstructure:"workers" json:"workers" yaml:"workers" toml:"workers" validate:"min=1"`
	Backlog        int `mapstructure:"backlog" json:"backlog" yaml:"backlog" toml:"backlog" validate:"min=0"`
	HTTPMaxBacklog int    `mapstructure:"http_max_backlog" json:"http_max_backlog" yaml:"http_max_backlog" toml:"http_max_backlog" validate:"min=0"`
	HTTPMaxRunning int    `mapstructure:"http_max_running" json:"http_max_running" yaml:"http_max_running" toml:"http_max_running" validate:"min=0"`
}

// ConnLimitsConfig is spec.md §6's Connection limits group.
type ConnLimitsConfig struct {
	AlertLimit             int64 `mapstructure:"conn_alert_limit" json:"conn_alert_limit" yaml:"conn_alert_limit" toml:"conn_alert_limit"`
	SoftLimit              int64 `mapstructure:"conn_soft_limit" json:"conn_soft_limit" yaml:"conn_soft_limit" toml:"conn_soft_limit"`
	HardLimit              int64 `mapstructure:"conn_hard_limit" json:"conn_hard_limit" yaml:"conn_hard_limit" toml:"conn_hard_limit"`
	ThrottleThreshold      int64 `mapstructure:"conn_throttle_threshold" json:"conn_throttle_threshold" yaml:"conn_throttle_threshold" toml:"conn_throttle_threshold"`
	ThrottleByHost         int   `mapstructure:"conn_throttle_by_host" json:"conn_throttle_by_host" yaml:"conn_throttle_by_host" toml:"conn_throttle_by_host"`
	ThrottleBySite         int   `mapstructure:"conn_throttle_by_site" json:"conn_throttle_by_site" yaml:"conn_throttle_by_site" toml:"conn_throttle_by_site"`
	ThrottleByProcess      int   `mapstructure:"conn_throttle_by_process" json:"conn_throttle_by_process" yaml:"conn_throttle_by_process" toml:"conn_throttle_by_process"`
	ThrottleByUserAgent    int   `mapstructure:"conn_throttle_by_user_agent" json:"conn_throttle_by_user_agent" yaml:"conn_throttle_by_user_agent" toml:"conn_throttle_by_user_agent"`
	ThrottleIdleTimeoutMS  int64 `mapstructure:"conn_throttle_idle_timeout_ms" json:"conn_throttle_idle_timeout_ms" yaml:"conn_throttle_idle_timeout_ms" toml:"conn_throttle_idle_timeout_ms"`
	ThrottleCloseIdleSec   int64 `mapstructure:"conn_throttle_close_idle_sec" json:"conn_throttle_close_idle_sec" yaml:"conn_throttle_close_idle_sec" toml:"conn_throttle_close_idle_sec"`
	ThrottlingDataValidSec int64 `mapstructure:"throttling_data_valid_sec" json:"throttling_data_valid_sec" yaml:"throttling_data_valid_sec" toml:"throttling_data_valid_sec"`
	ForceCloseWaitSec      int64 `mapstructure:"conn_force_close_wait_sec" json:"conn_force_close_wait_sec" yaml:"conn_force_close_wait_sec" toml:"conn_force_close_wait_sec"`
}

// TLSConfig is spec.md §6's TLS group: the enable flag and file paths
// spec.md names, plus the cipher list fed into internal/tlscfg's own
// Config for the actual crypto/tls wiring.
type TLSConfig struct {
	Enable   bool     `mapstructure:"ssl_enable" json:"ssl_enable" yaml:"ssl_enable" toml:"ssl_enable"`
	CertFile string   `mapstructure:"ssl_cert_file" json:"ssl_cert_file" yaml:"ssl_cert_file" toml:"ssl_cert_file" validate:"required_if=Enable true"`
	KeyFile  string   `mapstructure:"ssl_key_file" json:"ssl_key_file" yaml:"ssl_key_file" toml:"ssl_key_file" validate:"required_if=Enable true"`
	// Ciphers names the allowed cipher suites by internal/tlscfg/cipher's
	// string form; each entry is validated against that package's own
	// Parse/Check pair (see gwconfig's registered "ciphername" tag) so a
	// misspelled name fails config load instead of silently running with
	// one fewer cipher than configured.
	Ciphers []string `mapstructure:"ssl_ciphers" json:"ssl_ciphers" yaml:"ssl_ciphers" toml:"ssl_ciphers" validate:"dive,ciphername"`
}

// ShutdownConfig is spec.md §6's Shutdown group.
type ShutdownConfig struct {
	IfTooManyOpenFD         bool  `mapstructure:"shutdown_if_too_many_open_fd" json:"shutdown_if_too_many_open_fd" yaml:"shutdown_if_too_many_open_fd" toml:"shutdown_if_too_many_open_fd"`
	ImmediateCloseTimeoutMS int64 `mapstructure:"immediate_conn_close_timeout_ms" json:"immediate_conn_close_timeout_ms" yaml:"immediate_conn_close_timeout_ms" toml:"immediate_conn_close_timeout_ms"`
}

// HealthCheckConfig binds one fixed-table entry (cassandra, lmdb, wgs,
// cdd, snp) to its probe command and timeout.
type HealthCheckConfig struct {
	Name        string `mapstructure:"name" json:"name" yaml:"name" toml:"name"`
	Description string `mapstructure:"description" json:"description" yaml:"description" toml:"description"`
	Command     string `mapstructure:"command" json:"command" yaml:"command" toml:"command"`
	TimeoutMS   int64  `mapstructure:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms" toml:"timeout_ms"`
}

// HealthConfig is spec.md §6's Health group: the per-source table plus
// the critical_data_sources selection list. Loaded from its own YAML
// document via gopkg.in/yaml.v3 rather than viper's decoder — see
// load.go.
type HealthConfig struct {
	Checks             map[string]HealthCheckConfig `mapstructure:"checks" json:"checks" yaml:"checks" toml:"checks"`
	CriticalDataSources []string                    `mapstructure:"critical_data_sources" json:"critical_data_sources" yaml:"critical_data_sources" toml:"critical_data_sources"`
}

// LoggingConfig is spec.md §6's Logging group.
type LoggingConfig struct {
	Log                   bool `mapstructure:"log" json:"log" yaml:"log" toml:"log"`
	LogTiming             bool `mapstructure:"log_timing" json:"log_timing" yaml:"log_timing" toml:"log_timing"`
	LogTimingNSTAPI       bool `mapstructure:"log_timing_nst_api" json:"log_timing_nst_api" yaml:"log_timing_nst_api" toml:"log_timing_nst_api"`
	LogTimingClientSocket bool `mapstructure:"log_timing_client_socket" json:"log_timing_client_socket" yaml:"log_timing_client_socket" toml:"log_timing_client_socket"`
}

// AdminConfig is spec.md §6's Admin group: a semicolon/comma-separated
// client-name list, which may arrive pre-encrypted — decryption, if any,
// happens before this struct is populated; this package only ever splits
// and trims plaintext names.
type AdminConfig struct {
	ClientNames string `mapstructure:"admin_client_names" json:"admin_client_names" yaml:"admin_client_names" toml:"admin_client_names"`
}

// Names splits the configured admin_client_names value on ';' and ',',
// trimming whitespace and dropping empty entries.
func (a AdminConfig) Names() []string {
	fields := strings.FieldsFunc(a.ClientNames, func(r rune) bool {
		return r == ';' || r == ','
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Config is the complete gateway configuration surface (spec.md §6).
type Config struct {
	Network   NetworkConfig    `mapstructure:"network" json:"network" yaml:"network" toml:"network"`
	ConnLimit ConnLimitsConfig `mapstructure:"conn_limits" json:"conn_limits" yaml:"conn_limits" toml:"conn_limits"`
	TLS       TLSConfig        `mapstructure:"tls" json:"tls" yaml:"tls" toml:"tls"`
	Shutdown  ShutdownConfig   `mapstructure:"shutdown" json:"shutdown" yaml:"shutdown" toml:"shutdown"`
	Health    HealthConfig     `mapstructure:"health" json:"health" yaml:"health" toml:"health"`
	Logging   LoggingConfig    `mapstructure:"logging" json:"logging" yaml:"logging" toml:"logging"`
	Admin     AdminConfig      `mapstructure:"admin" json:"admin" yaml:"admin" toml:"admin"`
}

// Validate runs the struct tags above through go-playground/validator,
// following internal/tlscfg.Config.Validate's pattern exactly.
func (c *Config) Validate() liberr.Error {
	return validate(c)
}

// IdleTimeout returns the idle-timeout knob as a time.Duration.
func (c ConnLimitsConfig) IdleTimeout() time.Duration {
	return time.Duration(c.ThrottleIdleTimeoutMS) * time.Millisecond
}

// CloseIdleAfter returns the close-idle knob as a time.Duration.
func (c ConnLimitsConfig) CloseIdleAfter() time.Duration {
	return time.Duration(c.ThrottleCloseIdleSec) * time.Second
}

// ValidFor returns the throttling-snapshot validity window as a
// time.Duration.
func (c ConnLimitsConfig) ValidFor() time.Duration {
	return time.Duration(c.ThrottlingDataValidSec) * time.Second
}

// ForceCloseWait returns the force-close grace period as a
// time.Duration.
func (c ConnLimitsConfig) ForceCloseWait() time.Duration {
	return time.Duration(c.ForceCloseWaitSec) * time.Second
}
