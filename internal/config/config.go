// Package config loads and validates the runtime's YAML configuration,
// grounded on the teacher's internal/domain/config.go (LoadConfig,
// Validate, the accumulate-all-errors style), generalized from a table of
// Atlassian tool configs to the runtime's own transport/robustness/session
// surface.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure loaded from a YAML file.
type Config struct {
	Transport   TransportConfig   `yaml:"transport"`
	Robustness  RobustnessConfig  `yaml:"robustness"`
	Session     SessionConfig     `yaml:"session"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Auth        AuthConfig        `yaml:"auth"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// TransportConfig selects and configures the transport this server binds.
type TransportConfig struct {
	// Type is one of "stdio", "tcp", "unix", "childprocess", "http".
	Type string `yaml:"type"`

	TCP          TCPConfig          `yaml:"tcp,omitempty"`
	Unix         UnixConfig         `yaml:"unix,omitempty"`
	ChildProcess ChildProcessConfig `yaml:"childprocess,omitempty"`
	HTTP         HTTPConfig         `yaml:"http,omitempty"`
}

// TCPConfig is used when Transport.Type is "tcp".
type TCPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// UnixConfig is used when Transport.Type is "unix".
type UnixConfig struct {
	SocketPath string `yaml:"socket_path"`
}

// ChildProcessConfig is used when Transport.Type is "childprocess".
type ChildProcessConfig struct {
	Command         string        `yaml:"command"`
	Args            []string      `yaml:"args,omitempty"`
	StartupTimeout  time.Duration `yaml:"startup_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// HTTPConfig is used when Transport.Type is "http".
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// RobustnessConfig configures the circuit breaker, retry policy, and
// health checker shared by every transport the server drives outbound
// calls through.
type RobustnessConfig struct {
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
	HealthCheck    HealthCheckConfig    `yaml:"health_check"`
	Dedup          DedupConfig          `yaml:"dedup"`
}

// CircuitBreakerConfig mirrors circuitbreaker.Config.
type CircuitBreakerConfig struct {
	FailureThreshold       int           `yaml:"failure_threshold"`
	WindowSize             int           `yaml:"window_size"`
	OpenTimeout            time.Duration `yaml:"open_timeout"`
	HalfOpenMaxCalls       int           `yaml:"half_open_max_calls"`
	MinThroughputThreshold int           `yaml:"min_throughput_threshold"`
}

// RetryConfig mirrors retry.Policy: an attempt cap plus the exponential
// backoff curve's delay parameters.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Jitter            bool          `yaml:"jitter"`
}

// HealthCheckConfig mirrors healthcheck.Config.
type HealthCheckConfig struct {
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

// DedupConfig configures the request-fingerprint dedup cache.
type DedupConfig struct {
	Capacity int64         `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

// SessionConfig mirrors session.Config.
type SessionConfig struct {
	Capacity    int64         `yaml:"capacity"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// RateLimitConfig configures the middleware token-bucket limiter.
type RateLimitConfig struct {
	Enabled           bool   `yaml:"enabled"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	BurstSize         int    `yaml:"burst_size"`
	Key               string `yaml:"key"` // "global", "client_id", or "method"
}

// AuthConfig configures inbound request authentication.
type AuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Type     string `yaml:"type"` // "basic" or "bearer"
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Token    string `yaml:"token,omitempty"`
}

// MetricsConfig configures the optional Prometheus exporter.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// LoggingConfig configures the structured JSON logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// LoadConfig reads and validates configuration from a YAML file, applying
// environment overrides before validation — TRANSPORT, PORT, SOCKET_PATH,
// and MCP_LOG_LEVEL, when set, replace the corresponding file value.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML syntax in configuration file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns a Config with every sub-component's documented defaults,
// used as the base that LoadConfig unmarshals the YAML file on top of, so
// an omitted section keeps sane values rather than zeroing out.
func Default() Config {
	return Config{
		Transport: TransportConfig{Type: "stdio"},
		Robustness: RobustnessConfig{
			CircuitBreaker: CircuitBreakerConfig{FailureThreshold: 5, WindowSize: 10, OpenTimeout: 30 * time.Second, HalfOpenMaxCalls: 1, MinThroughputThreshold: 5},
			Retry:          RetryConfig{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second, BackoffMultiplier: 2.0, Jitter: true},
			HealthCheck:    HealthCheckConfig{Interval: 10 * time.Second, Timeout: 5 * time.Second, FailureThreshold: 3, SuccessThreshold: 2},
			Dedup:          DedupConfig{Capacity: 10_000, TTL: time.Minute},
		},
		Session:   SessionConfig{Capacity: 10_000, IdleTimeout: 30 * time.Minute},
		RateLimit: RateLimitConfig{Enabled: false, RequestsPerMinute: 60, BurstSize: 10, Key: "global"},
		Metrics:   MetricsConfig{Enabled: false, Namespace: "mcpcore"},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// applyEnvOverrides applies the environment overrides: each of TRANSPORT,
// PORT, SOCKET_PATH, and MCP_LOG_LEVEL that is set (non-empty) replaces the
// corresponding field, whatever the file put there.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TRANSPORT"); v != "" {
		c.Transport.Type = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := parsePort(v); err == nil {
			c.Transport.HTTP.Port = port
			c.Transport.TCP.Port = port
		}
	}
	if v := os.Getenv("SOCKET_PATH"); v != "" {
		c.Transport.Unix.SocketPath = v
	}
	if v := os.Getenv("MCP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func parsePort(s string) (int, error) {
	var port int
	_, err := fmt.Sscanf(s, "%d", &port)
	return port, err
}

// Validate checks the configuration for completeness and correctness,
// accumulating every problem it finds into one joined error rather than
// failing on the first.
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateTransport(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateRobustness(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateSession(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateRateLimit(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateAuth(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateLogging(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateTransport() error {
	var errs []string

	switch c.Transport.Type {
	case "":
		errs = append(errs, "transport type is required")
	case "stdio":
		// no further configuration required
	case "tcp":
		if c.Transport.TCP.Host == "" {
			errs = append(errs, "tcp host is required when transport type is 'tcp'")
		}
		if c.Transport.TCP.Port <= 0 || c.Transport.TCP.Port > 65535 {
			errs = append(errs, fmt.Sprintf("invalid tcp port %d: must be between 1 and 65535", c.Transport.TCP.Port))
		}
	case "unix":
		if c.Transport.Unix.SocketPath == "" {
			errs = append(errs, "unix socket_path is required when transport type is 'unix'")
		}
	case "childprocess":
		if c.Transport.ChildProcess.Command == "" {
			errs = append(errs, "childprocess command is required when transport type is 'childprocess'")
		}
	case "http":
		if c.Transport.HTTP.Host == "" {
			errs = append(errs, "http host is required when transport type is 'http'")
		}
		if c.Transport.HTTP.Port <= 0 || c.Transport.HTTP.Port > 65535 {
			errs = append(errs, fmt.Sprintf("invalid http port %d: must be between 1 and 65535", c.Transport.HTTP.Port))
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid transport type '%s': must be one of stdio, tcp, unix, childprocess, http", c.Transport.Type))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateRobustness() error {
	var errs []string

	cb := c.Robustness.CircuitBreaker
	if cb.FailureThreshold <= 0 {
		errs = append(errs, "circuit_breaker.failure_threshold must be positive")
	}
	if cb.WindowSize <= 0 {
		errs = append(errs, "circuit_breaker.window_size must be positive")
	}
	if cb.HalfOpenMaxCalls <= 0 {
		errs = append(errs, "circuit_breaker.half_open_max_calls must be positive")
	}
	if cb.MinThroughputThreshold <= 0 {
		errs = append(errs, "circuit_breaker.min_throughput_threshold must be positive")
	}

	retry := c.Robustness.Retry
	if retry.MaxAttempts <= 0 {
		errs = append(errs, "retry.max_attempts must be positive")
	}
	if retry.InitialDelay <= 0 {
		errs = append(errs, "retry.initial_delay must be positive")
	}
	if retry.MaxDelay <= 0 {
		errs = append(errs, "retry.max_delay must be positive")
	}
	if retry.BackoffMultiplier <= 1 {
		errs = append(errs, "retry.backoff_multiplier must be greater than 1")
	}

	hc := c.Robustness.HealthCheck
	if hc.FailureThreshold <= 0 {
		errs = append(errs, "health_check.failure_threshold must be positive")
	}
	if hc.SuccessThreshold <= 0 {
		errs = append(errs, "health_check.success_threshold must be positive")
	}

	if c.Robustness.Dedup.Capacity <= 0 {
		errs = append(errs, "dedup.capacity must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateSession() error {
	if c.Session.Capacity <= 0 {
		return errors.New("session.capacity must be positive")
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if !c.RateLimit.Enabled {
		return nil
	}
	var errs []string
	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, "rate_limit.requests_per_minute must be positive")
	}
	if c.RateLimit.BurstSize <= 0 {
		errs = append(errs, "rate_limit.burst_size must be positive")
	}
	switch c.RateLimit.Key {
	case "global", "client_id", "method":
	default:
		errs = append(errs, fmt.Sprintf("rate_limit.key '%s' is invalid: must be 'global', 'client_id', or 'method'", c.RateLimit.Key))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateAuth() error {
	if !c.Auth.Enabled {
		return nil
	}
	var errs []string
	switch c.Auth.Type {
	case "basic":
		if c.Auth.Username == "" {
			errs = append(errs, "auth.username is required for basic auth")
		}
		if c.Auth.Password == "" {
			errs = append(errs, "auth.password is required for basic auth")
		}
	case "bearer":
		if c.Auth.Token == "" {
			errs = append(errs, "auth.token is required for bearer auth")
		}
	default:
		errs = append(errs, fmt.Sprintf("auth.type '%s' is invalid: must be 'basic' or 'bearer'", c.Auth.Type))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level '%s' is invalid: must be one of debug, info, warn, error", c.Logging.Level)
	}
}
