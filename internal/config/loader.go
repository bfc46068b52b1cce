package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// EnvPrefix is the prefix shared by all environment overrides.
const EnvPrefix = "OUTLOOK_MCP_"

// Flags holds command-line flag values.
type Flags struct {
	ConfigPath    string
	Host          string
	Port          int
	LogLevel      string
	Stdio         bool
	HTTP          bool
	MaxConcurrent int
	StrictStartup bool
}

// ParseFlags parses command-line flags and returns a Flags struct.
func ParseFlags() *Flags {
	f := &Flags{}

	flag.StringVar(&f.ConfigPath, "config", "./outlook-mcp.toml", "Path to configuration file")
	flag.StringVar(&f.Host, "host", "", "HTTP listen host")
	flag.IntVar(&f.Port, "port", 0, "HTTP listen port")
	flag.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&f.Stdio, "stdio", false, "Serve the stdio transport (overrides config when set)")
	flag.BoolVar(&f.HTTP, "http", false, "Serve the HTTP transport (overrides config when set)")
	flag.IntVar(&f.MaxConcurrent, "max-concurrent", 0, "Maximum concurrent in-flight requests")
	flag.BoolVar(&f.StrictStartup, "strict-startup", false, "Fail startup when the first store probe fails")

	flag.Parse()
	return f
}

// Load parses a TOML configuration file and returns the Config.
// If the file does not exist, returns the default configuration.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig FileConfig
	if err := toml.Unmarshal(data, &fileConfig); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	return mergeConfig(cfg, fileConfig.Server), nil
}

// ApplyEnv merges OUTLOOK_MCP_* environment variables into the config.
// Environment values override file values.
func ApplyEnv(cfg Config) Config {
	return applyEnv(cfg, os.LookupEnv)
}

// applyEnv is the testable core of ApplyEnv.
func applyEnv(cfg Config, lookup func(string) (string, bool)) Config {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	number := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	number64 := func(name string, dst *int64) {
		if v, ok := lookup(EnvPrefix + name); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookup(EnvPrefix + name); ok {
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = n
			}
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			parts := strings.Split(v, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			*dst = out
		}
	}

	str("SERVER_HOST", &cfg.ServerHost)
	number("SERVER_PORT", &cfg.ServerPort)
	str("LOG_LEVEL", &cfg.LogLevel)
	boolean("STRICT_STARTUP", &cfg.StrictStartup)
	number("MAX_CONCURRENT_REQUESTS", &cfg.MaxConcurrentRequests)
	str("REQUEST_TIMEOUT", &cfg.RequestTimeout)
	str("OUTLOOK_CONNECTION_TIMEOUT", &cfg.OutlookConnectionTimeout)
	str("SHUTDOWN_GRACE", &cfg.ShutdownGrace)

	boolean("TRANSPORT_STDIO", &cfg.Transports.Stdio)
	boolean("TRANSPORT_HTTP", &cfg.Transports.HTTP)

	number("POOL_MIN", &cfg.Pool.MinConnections)
	number("POOL_MAX", &cfg.Pool.MaxConnections)
	str("POOL_MAX_IDLE", &cfg.Pool.MaxIdle)
	str("POOL_MAX_AGE", &cfg.Pool.MaxAge)
	str("POOL_PROBE_INTERVAL", &cfg.Pool.ProbeInterval)

	float("RATE_LIMIT_RPS", &cfg.RateLimit.RPS)
	number("RATE_LIMIT_BURST", &cfg.RateLimit.Burst)
	number("RATE_LIMIT_PER_MINUTE", &cfg.RateLimit.PerMinute)
	number("RATE_LIMIT_PER_HOUR", &cfg.RateLimit.PerHour)

	number64("CACHE_MAX_BYTES", &cfg.Cache.MaxBytes)
	str("CACHE_EMAIL_TTL", &cfg.Cache.EmailTTL)
	str("CACHE_FOLDER_TTL", &cfg.Cache.FolderTTL)
	str("CACHE_CLEANUP_INTERVAL", &cfg.Cache.CleanupInterval)

	list("SECURITY_ALLOWED_FOLDERS", &cfg.Security.AllowedFolders)
	list("SECURITY_BLOCKED_FOLDERS", &cfg.Security.BlockedFolders)
	number64("SECURITY_MAX_EMAIL_SIZE_BYTES", &cfg.Security.MaxEmailSizeBytes)
	boolean("SECURITY_SANITIZE_HTML", &cfg.Security.SanitizeHTML)

	boolean("METRICS_ENABLED", &cfg.Metrics.Enabled)
	str("METRICS_ADDRESS", &cfg.Metrics.Address)
	str("METRICS_PATH", &cfg.Metrics.Path)

	str("MAIL_IMAP_ADDRESS", &cfg.Mail.IMAPAddress)
	str("MAIL_SMTP_ADDRESS", &cfg.Mail.SMTPAddress)
	str("MAIL_USERNAME", &cfg.Mail.Username)
	str("MAIL_PASSWORD", &cfg.Mail.Password)
	str("MAIL_FROM_ADDRESS", &cfg.Mail.FromAddress)

	return cfg
}

// ApplyFlags merges command-line flag values into the config.
// Non-zero/non-empty flag values override config and env values.
func ApplyFlags(cfg Config, f *Flags) Config {
	if f.Host != "" {
		cfg.ServerHost = f.Host
	}
	if f.Port > 0 {
		cfg.ServerPort = f.Port
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.MaxConcurrent > 0 {
		cfg.MaxConcurrentRequests = f.MaxConcurrent
	}
	if f.StrictStartup {
		cfg.StrictStartup = true
	}
	// Transport flags are additive: enabling one on the command line does
	// not disable the other.
	if f.Stdio {
		cfg.Transports.Stdio = true
	}
	if f.HTTP {
		cfg.Transports.HTTP = true
	}

	return cfg
}

// LoadWithFlags loads configuration from the path specified in flags,
// applies environment overrides, then applies flag overrides.
func LoadWithFlags(f *Flags) (Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	cfg = ApplyEnv(cfg)
	return ApplyFlags(cfg, f), nil
}

// mergeConfig merges non-zero values from src into dst.
func mergeConfig(dst, src Config) Config {
	if src.ServerHost != "" {
		dst.ServerHost = src.ServerHost
	}
	if src.ServerPort > 0 {
		dst.ServerPort = src.ServerPort
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.StrictStartup {
		dst.StrictStartup = true
	}
	if src.MaxConcurrentRequests > 0 {
		dst.MaxConcurrentRequests = src.MaxConcurrentRequests
	}
	if src.RequestTimeout != "" {
		dst.RequestTimeout = src.RequestTimeout
	}
	if src.OutlookConnectionTimeout != "" {
		dst.OutlookConnectionTimeout = src.OutlookConnectionTimeout
	}
	if src.ShutdownGrace != "" {
		dst.ShutdownGrace = src.ShutdownGrace
	}

	// Transport booleans are taken as written when either is set; a file
	// that names the table chooses the full transport set.
	if src.Transports.Stdio || src.Transports.HTTP {
		dst.Transports = src.Transports
	}

	if src.Pool.MinConnections > 0 {
		dst.Pool.MinConnections = src.Pool.MinConnections
	}
	if src.Pool.MaxConnections > 0 {
		dst.Pool.MaxConnections = src.Pool.MaxConnections
	}
	if src.Pool.MaxIdle != "" {
		dst.Pool.MaxIdle = src.Pool.MaxIdle
	}
	if src.Pool.MaxAge != "" {
		dst.Pool.MaxAge = src.Pool.MaxAge
	}
	if src.Pool.ProbeInterval != "" {
		dst.Pool.ProbeInterval = src.Pool.ProbeInterval
	}

	if src.RateLimit.RPS > 0 {
		dst.RateLimit.RPS = src.RateLimit.RPS
	}
	if src.RateLimit.Burst > 0 {
		dst.RateLimit.Burst = src.RateLimit.Burst
	}
	if src.RateLimit.PerMinute > 0 {
		dst.RateLimit.PerMinute = src.RateLimit.PerMinute
	}
	if src.RateLimit.PerHour > 0 {
		dst.RateLimit.PerHour = src.RateLimit.PerHour
	}

	if src.Cache.MaxBytes > 0 {
		dst.Cache.MaxBytes = src.Cache.MaxBytes
	}
	if src.Cache.EmailTTL != "" {
		dst.Cache.EmailTTL = src.Cache.EmailTTL
	}
	if src.Cache.FolderTTL != "" {
		dst.Cache.FolderTTL = src.Cache.FolderTTL
	}
	if src.Cache.CleanupInterval != "" {
		dst.Cache.CleanupInterval = src.Cache.CleanupInterval
	}

	if len(src.Security.AllowedFolders) > 0 {
		dst.Security.AllowedFolders = src.Security.AllowedFolders
	}
	if len(src.Security.BlockedFolders) > 0 {
		dst.Security.BlockedFolders = src.Security.BlockedFolders
	}
	if src.Security.MaxEmailSizeBytes > 0 {
		dst.Security.MaxEmailSizeBytes = src.Security.MaxEmailSizeBytes
	}
	if src.Security.SanitizeHTML {
		dst.Security.SanitizeHTML = true
	}

	if src.Metrics.Enabled {
		dst.Metrics.Enabled = true
	}
	if src.Metrics.Address != "" {
		dst.Metrics.Address = src.Metrics.Address
	}
	if src.Metrics.Path != "" {
		dst.Metrics.Path = src.Metrics.Path
	}

	if src.Mail.IMAPAddress != "" {
		dst.Mail.IMAPAddress = src.Mail.IMAPAddress
	}
	if src.Mail.SMTPAddress != "" {
		dst.Mail.SMTPAddress = src.Mail.SMTPAddress
	}
	if src.Mail.Username != "" {
		dst.Mail.Username = src.Mail.Username
	}
	if src.Mail.Password != "" {
		dst.Mail.Password = src.Mail.Password
	}
	if src.Mail.FromAddress != "" {
		dst.Mail.FromAddress = src.Mail.FromAddress
	}

	return dst
}
