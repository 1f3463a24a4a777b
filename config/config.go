// Package config defines the QueryGate application configuration: HTTP
// server settings, security (network allow-list and credentials), admission
// control, hot-reload behavior, the execution backend, and error disclosure
// switches. Endpoint definitions live in a separate file owned by the
// endpoint package; this package only records where that file is.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Clickin/querygate/errors"
)

// Config represents the complete gateway configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Security      SecurityConfig      `yaml:"security"`
	Admission     AdmissionConfig     `yaml:"admission"`
	Reload        ReloadConfig        `yaml:"reload"`
	Executor      ExecutorConfig      `yaml:"executor"`
	ErrorHandling ErrorHandlingConfig `yaml:"error_handling"`

	// EndpointConfigPath locates the endpoint definition file consumed by
	// the endpoint registry.
	EndpointConfigPath string `yaml:"endpoint_config_path"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	BasePath       string `yaml:"base_path"`
	MaxRequestSize int64  `yaml:"max_request_size"`
	MetricsPath    string `yaml:"metrics_path"`
}

// SecurityConfig holds network ACL and credential settings
type SecurityConfig struct {
	Enabled bool `yaml:"enabled"`

	// CredentialHeader names the header carrying the API credential.
	// When it is an Authorization-style header the SchemePrefix is
	// required and stripped before comparison.
	CredentialHeader string   `yaml:"credential_header"`
	SchemePrefix     string   `yaml:"scheme_prefix"`
	Credentials      []string `yaml:"credentials"`

	// AllowedNetworks lists single addresses or CIDR ranges. Empty means
	// allow all; restricting is an explicit opt-in.
	AllowedNetworks []string `yaml:"allowed_networks"`
}

// AdmissionConfig bounds concurrent backend execution
type AdmissionConfig struct {
	Enabled          bool  `yaml:"enabled"`
	MaxConcurrent    int   `yaml:"max_concurrent"`
	AcquireTimeoutMs int64 `yaml:"acquire_timeout_ms"`
	RequestTimeoutMs int64 `yaml:"request_timeout_ms"`
}

// AcquireTimeout returns the permit acquisition timeout as a duration.
func (a AdmissionConfig) AcquireTimeout() time.Duration {
	return time.Duration(a.AcquireTimeoutMs) * time.Millisecond
}

// RequestTimeout returns the per-request deadline as a duration.
func (a AdmissionConfig) RequestTimeout() time.Duration {
	return time.Duration(a.RequestTimeoutMs) * time.Millisecond
}

// ReloadConfig controls hot reload of the endpoint configuration
type ReloadConfig struct {
	Enabled    bool  `yaml:"enabled"`
	DebounceMs int64 `yaml:"debounce_ms"`
}

// Debounce returns the reload debounce window as a duration.
func (r ReloadConfig) Debounce() time.Duration {
	return time.Duration(r.DebounceMs) * time.Millisecond
}

// ExecutorConfig holds execution-backend settings
type ExecutorConfig struct {
	// Driver is a database/sql driver name (e.g. "pgx", "sqlite").
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	// StatementsPath locates the statement definition file (statement id
	// to SQL text) consumed by the sqlexec registry.
	StatementsPath string `yaml:"statements_path"`

	MaxOpenConns         int   `yaml:"max_open_conns"`
	SlowQueryThresholdMs int64 `yaml:"slow_query_threshold_ms"`
}

// SlowQueryThreshold returns the slow statement log threshold as a duration.
func (e ExecutorConfig) SlowQueryThreshold() time.Duration {
	return time.Duration(e.SlowQueryThresholdMs) * time.Millisecond
}

// ErrorHandlingConfig gates client-facing error disclosure. Both switches
// default to off: clients get generic messages and no stack traces.
type ErrorHandlingConfig struct {
	ExposeDetails    bool `yaml:"expose_details"`
	ExposeStackTrace bool `yaml:"expose_stack_trace"`
}

// Default returns a configuration with production-safe defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			BasePath:       "/api",
			MaxRequestSize: 1 << 20, // 1 MiB
			MetricsPath:    "/metrics",
		},
		Security: SecurityConfig{
			Enabled:          true,
			CredentialHeader: "X-API-Key",
			SchemePrefix:     "Key ",
			AllowedNetworks:  []string{"127.0.0.1", "::1"},
		},
		Admission: AdmissionConfig{
			Enabled:          true,
			MaxConcurrent:    100,
			AcquireTimeoutMs: 100,
			RequestTimeoutMs: 30000,
		},
		Reload: ReloadConfig{
			Enabled:    true,
			DebounceMs: 100,
		},
		Executor: ExecutorConfig{
			Driver:               "pgx",
			MaxOpenConns:         100,
			SlowQueryThresholdMs: 1000,
		},
		EndpointConfigPath: "./configs/endpoints.yml",
	}
}

// Load reads a YAML configuration file, layering it over Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "Config", "Load", "read file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapKind(errors.Internal, err, "Config", "Load", "parse YAML")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration consistency and fills derived defaults.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", errors.ErrInvalidConfig, c.Server.Port)
	}
	if c.Server.MaxRequestSize <= 0 {
		c.Server.MaxRequestSize = 1 << 20
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = "/metrics"
	}
	if c.Admission.MaxConcurrent <= 0 {
		return fmt.Errorf("%w: admission.max_concurrent must be positive", errors.ErrInvalidConfig)
	}
	if c.Admission.AcquireTimeoutMs <= 0 {
		c.Admission.AcquireTimeoutMs = 100
	}
	if c.Admission.RequestTimeoutMs <= 0 {
		c.Admission.RequestTimeoutMs = 30000
	}
	if c.Reload.DebounceMs <= 0 {
		c.Reload.DebounceMs = 100
	}
	if c.Security.Enabled {
		if c.Security.CredentialHeader == "" {
			return fmt.Errorf("%w: security.credential_header required when security is enabled", errors.ErrInvalidConfig)
		}
		if len(c.Security.Credentials) == 0 {
			return fmt.Errorf("%w: security.credentials required when security is enabled", errors.ErrInvalidConfig)
		}
	}
	if c.EndpointConfigPath == "" {
		return fmt.Errorf("%w: endpoint_config_path is required", errors.ErrInvalidConfig)
	}
	if c.Executor.Driver == "" {
		return fmt.Errorf("%w: executor.driver is required", errors.ErrInvalidConfig)
	}
	return nil
}
