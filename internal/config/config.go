// Package config provides configuration management for the Outlook bridge
// server.
package config

import (
	"errors"
	"fmt"
	"time"
)

// FileConfig is the top-level wrapper for the configuration file.
type FileConfig struct {
	Server Config `toml:"server"`
}

// Config holds the bridge server configuration.
type Config struct {
	ServerHost string `toml:"server_host"`
	ServerPort int    `toml:"server_port"`
	LogLevel   string `toml:"log_level"`

	// StrictStartup makes startup fail when the first store probe fails.
	StrictStartup bool `toml:"strict_startup"`

	MaxConcurrentRequests    int    `toml:"max_concurrent_requests"`
	RequestTimeout           string `toml:"request_timeout"`
	OutlookConnectionTimeout string `toml:"outlook_connection_timeout"`
	ShutdownGrace            string `toml:"shutdown_grace"`

	Transports TransportsConfig `toml:"transports"`
	Pool       PoolConfig       `toml:"pool"`
	RateLimit  RateLimitConfig  `toml:"rate_limit"`
	Cache      CacheConfig      `toml:"cache"`
	Security   SecurityConfig   `toml:"security"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Mail       MailConfig       `toml:"mail"`
}

// MailConfig holds the account the IMAP-backed store connects to.
type MailConfig struct {
	IMAPAddress string `toml:"imap_address"`
	SMTPAddress string `toml:"smtp_address"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	FromAddress string `toml:"from_address"`
}

// TransportsConfig selects which transports to serve.
type TransportsConfig struct {
	Stdio bool `toml:"stdio"`
	HTTP  bool `toml:"http"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MinConnections int    `toml:"min"`
	MaxConnections int    `toml:"max"`
	MaxIdle        string `toml:"max_idle"`
	MaxAge         string `toml:"max_age"`
	ProbeInterval  string `toml:"probe_interval"`
}

// RateLimitConfig holds token bucket settings.
type RateLimitConfig struct {
	RPS       float64 `toml:"rps"`
	Burst     int     `toml:"burst"`
	PerMinute int     `toml:"per_minute"`
	PerHour   int     `toml:"per_hour"`
}

// CacheConfig holds cache budget and TTL settings.
type CacheConfig struct {
	MaxBytes        int64  `toml:"max_bytes"`
	EmailTTL        string `toml:"email_ttl"`
	FolderTTL       string `toml:"folder_ttl"`
	CleanupInterval string `toml:"cleanup_interval"`
}

// SecurityConfig holds folder access policy and size caps.
type SecurityConfig struct {
	AllowedFolders    []string `toml:"allowed_folders"`
	BlockedFolders    []string `toml:"blocked_folders"`
	MaxEmailSizeBytes int64    `toml:"max_email_size_bytes"`
	SanitizeHTML      bool     `toml:"sanitize_html"`
}

// MetricsConfig holds configuration for Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// Default returns a Config with sensible default values.
func Default() Config {
	return Config{
		ServerHost:               "127.0.0.1",
		ServerPort:               8735,
		LogLevel:                 "info",
		StrictStartup:            false,
		MaxConcurrentRequests:    32,
		RequestTimeout:           "30s",
		OutlookConnectionTimeout: "10s",
		ShutdownGrace:            "15s",
		Transports: TransportsConfig{
			Stdio: true,
			HTTP:  false,
		},
		Pool: PoolConfig{
			MinConnections: 1,
			MaxConnections: 4,
			MaxIdle:        "5m",
			MaxAge:         "30m",
			ProbeInterval:  "30s",
		},
		RateLimit: RateLimitConfig{
			RPS:       10,
			Burst:     20,
			PerMinute: 300,
			PerHour:   1000,
		},
		Cache: CacheConfig{
			MaxBytes:        64 << 20,
			EmailTTL:        "5m",
			FolderTTL:       "10m",
			CleanupInterval: "1m",
		},
		Security: SecurityConfig{
			MaxEmailSizeBytes: 25 << 20,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9102",
			Path:    "/metrics",
		},
	}
}

// Validate checks that the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Transports.HTTP {
		if c.ServerHost == "" {
			return errors.New("server_host is required when the HTTP transport is enabled")
		}
		if c.ServerPort <= 0 || c.ServerPort > 65535 {
			return fmt.Errorf("invalid server_port %d", c.ServerPort)
		}
	}
	if !c.Transports.Stdio && !c.Transports.HTTP {
		return errors.New("at least one transport must be enabled")
	}

	if c.MaxConcurrentRequests <= 0 {
		return errors.New("max_concurrent_requests must be positive")
	}

	for name, value := range map[string]string{
		"request_timeout":            c.RequestTimeout,
		"outlook_connection_timeout": c.OutlookConnectionTimeout,
		"shutdown_grace":             c.ShutdownGrace,
		"pool.max_idle":              c.Pool.MaxIdle,
		"pool.max_age":               c.Pool.MaxAge,
		"pool.probe_interval":        c.Pool.ProbeInterval,
		"cache.email_ttl":            c.Cache.EmailTTL,
		"cache.folder_ttl":           c.Cache.FolderTTL,
		"cache.cleanup_interval":     c.Cache.CleanupInterval,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if c.Pool.MinConnections < 0 {
		return errors.New("pool.min must not be negative")
	}
	if c.Pool.MaxConnections <= 0 {
		return errors.New("pool.max must be positive")
	}
	if c.Pool.MinConnections > c.Pool.MaxConnections {
		return errors.New("pool.min must not exceed pool.max")
	}

	if c.RateLimit.RPS <= 0 {
		return errors.New("rate_limit.rps must be positive")
	}
	if c.RateLimit.Burst <= 0 {
		return errors.New("rate_limit.burst must be positive")
	}
	if c.RateLimit.PerMinute < 0 || c.RateLimit.PerHour < 0 {
		return errors.New("rate_limit windows must not be negative")
	}

	if c.Cache.MaxBytes <= 0 {
		return errors.New("cache.max_bytes must be positive")
	}

	if c.Security.MaxEmailSizeBytes < 0 {
		return errors.New("security.max_email_size_bytes must not be negative")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path is required when metrics are enabled")
		}
	}

	return nil
}

func duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// RequestTimeoutDuration returns the per-request deadline.
func (c *Config) RequestTimeoutDuration() time.Duration {
	return duration(c.RequestTimeout, 30*time.Second)
}

// ConnectionTimeoutDuration returns the store connection deadline.
func (c *Config) ConnectionTimeoutDuration() time.Duration {
	return duration(c.OutlookConnectionTimeout, 10*time.Second)
}

// ShutdownGraceDuration returns the drain window for outstanding requests.
func (c *Config) ShutdownGraceDuration() time.Duration {
	return duration(c.ShutdownGrace, 15*time.Second)
}

// MaxIdleDuration returns how long an idle pool handle survives.
func (p *PoolConfig) MaxIdleDuration() time.Duration {
	return duration(p.MaxIdle, 5*time.Minute)
}

// MaxAgeDuration returns the maximum lifetime of a pool handle.
func (p *PoolConfig) MaxAgeDuration() time.Duration {
	return duration(p.MaxAge, 30*time.Minute)
}

// ProbeIntervalDuration returns the pool maintenance cadence.
func (p *PoolConfig) ProbeIntervalDuration() time.Duration {
	return duration(p.ProbeInterval, 30*time.Second)
}

// EmailTTLDuration returns the TTL for email summary and body entries.
func (cc *CacheConfig) EmailTTLDuration() time.Duration {
	return duration(cc.EmailTTL, 5*time.Minute)
}

// FolderTTLDuration returns the TTL for the folder list entry.
func (cc *CacheConfig) FolderTTLDuration() time.Duration {
	return duration(cc.FolderTTL, 10*time.Minute)
}

// CleanupIntervalDuration returns the cache maintenance cadence.
func (cc *CacheConfig) CleanupIntervalDuration() time.Duration {
	return duration(cc.CleanupInterval, time.Minute)
}

// ListenAddress returns the host:port the HTTP transport binds to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}
