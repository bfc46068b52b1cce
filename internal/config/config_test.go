package config

import (
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.ServerHost != "127.0.0.1" {
		t.Errorf("expected server_host '127.0.0.1', got %q", cfg.ServerHost)
	}

	if cfg.ServerPort != 8735 {
		t.Errorf("expected server_port 8735, got %d", cfg.ServerPort)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected log_level 'info', got %q", cfg.LogLevel)
	}

	if !cfg.Transports.Stdio || cfg.Transports.HTTP {
		t.Errorf("expected stdio on and http off by default, got %+v", cfg.Transports)
	}

	if cfg.MaxConcurrentRequests != 32 {
		t.Errorf("expected max_concurrent_requests 32, got %d", cfg.MaxConcurrentRequests)
	}

	if cfg.Pool.MinConnections != 1 || cfg.Pool.MaxConnections != 4 {
		t.Errorf("expected pool 1..4, got %d..%d", cfg.Pool.MinConnections, cfg.Pool.MaxConnections)
	}

	if cfg.RateLimit.RPS != 10 || cfg.RateLimit.Burst != 20 {
		t.Errorf("expected rate limit 10/20, got %v/%d", cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	if cfg.Cache.MaxBytes != 64<<20 {
		t.Errorf("expected cache.max_bytes 64MiB, got %d", cfg.Cache.MaxBytes)
	}

	if cfg.Security.MaxEmailSizeBytes != 25<<20 {
		t.Errorf("expected max_email_size_bytes 25MiB, got %d", cfg.Security.MaxEmailSizeBytes)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "no transports",
			modify: func(c *Config) {
				c.Transports.Stdio = false
				c.Transports.HTTP = false
			},
			wantErr: true,
		},
		{
			name: "http without host",
			modify: func(c *Config) {
				c.Transports.HTTP = true
				c.ServerHost = ""
			},
			wantErr: true,
		},
		{
			name: "invalid port",
			modify: func(c *Config) {
				c.Transports.HTTP = true
				c.ServerPort = 70000
			},
			wantErr: true,
		},
		{
			name: "zero max concurrent",
			modify: func(c *Config) {
				c.MaxConcurrentRequests = 0
			},
			wantErr: true,
		},
		{
			name: "bad duration string",
			modify: func(c *Config) {
				c.RequestTimeout = "thirty seconds"
			},
			wantErr: true,
		},
		{
			name: "pool min above max",
			modify: func(c *Config) {
				c.Pool.MinConnections = 5
				c.Pool.MaxConnections = 2
			},
			wantErr: true,
		},
		{
			name: "zero rps",
			modify: func(c *Config) {
				c.RateLimit.RPS = 0
			},
			wantErr: true,
		},
		{
			name: "zero cache budget",
			modify: func(c *Config) {
				c.Cache.MaxBytes = 0
			},
			wantErr: true,
		},
		{
			name: "metrics enabled without address",
			modify: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Address = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()

	if got := cfg.RequestTimeoutDuration(); got != 30*time.Second {
		t.Errorf("RequestTimeoutDuration() = %v, want 30s", got)
	}
	if got := cfg.ConnectionTimeoutDuration(); got != 10*time.Second {
		t.Errorf("ConnectionTimeoutDuration() = %v, want 10s", got)
	}
	if got := cfg.ShutdownGraceDuration(); got != 15*time.Second {
		t.Errorf("ShutdownGraceDuration() = %v, want 15s", got)
	}
	if got := cfg.Pool.MaxAgeDuration(); got != 30*time.Minute {
		t.Errorf("MaxAgeDuration() = %v, want 30m", got)
	}
	if got := cfg.Cache.EmailTTLDuration(); got != 5*time.Minute {
		t.Errorf("EmailTTLDuration() = %v, want 5m", got)
	}

	// Unparseable values fall back to defaults.
	cfg.RequestTimeout = "garbage"
	if got := cfg.RequestTimeoutDuration(); got != 30*time.Second {
		t.Errorf("RequestTimeoutDuration() fallback = %v, want 30s", got)
	}
}

func TestListenAddress(t *testing.T) {
	cfg := Default()
	cfg.ServerHost = "0.0.0.0"
	cfg.ServerPort = 9000
	if got := cfg.ListenAddress(); got != "0.0.0.0:9000" {
		t.Errorf("ListenAddress() = %q, want 0.0.0.0:9000", got)
	}
}
