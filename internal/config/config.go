package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all lnm configuration.
type Config struct {
	Name string `yaml:"name"`

	// Read-only forum archive (API + pages)
	Archive ArchiveConfig `yaml:"archive"`

	// Accounts and sessions
	Platform PlatformConfig `yaml:"platform"`

	// Battle solver HTTP service
	Gateway GatewayConfig `yaml:"gateway"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the HTTP listener settings shared by every service.
type ServerConfig struct {
	Address         string `yaml:"address"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	IdleTimeout     string `yaml:"idle_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	MaxConnections  int    `yaml:"max_connections"` // 0 = unlimited
	MaxBodyBytes    int64  `yaml:"max_body_bytes"`
}

// ArchiveConfig configures the archive service and importer.
type ArchiveConfig struct {
	Server       ServerConfig `yaml:"server"`
	DatabasePath string       `yaml:"database_path"`
	DumpDir      string       `yaml:"dump_dir"`
	CacheMaxAge  string       `yaml:"cache_max_age"`
	FlushEvery   int          `yaml:"flush_every"` // rows between flushes of streamed responses

	// Importer
	ImportWorkers  int      `yaml:"import_workers"`
	WatchDebounce  string   `yaml:"watch_debounce"`
	PrintDumpGlobs []string `yaml:"print_dump_globs"`
}

// PlatformConfig configures user accounts and the login service.
type PlatformConfig struct {
	Server         ServerConfig `yaml:"server"`
	DatabaseURL    string       `yaml:"database_url"`
	SessionTTL     string       `yaml:"session_ttl"`
	CookieName     string       `yaml:"cookie_name"`
	CookieDomain   string       `yaml:"cookie_domain"`
	CookieSecure   bool         `yaml:"cookie_secure"`
	AllowedOrigins []string     `yaml:"allowed_origins"`
	ConnectRetries int          `yaml:"connect_retries"`
	ConnectBackoff string       `yaml:"connect_backoff"`

	// Password hashing (argon2id)
	Argon2Memory      uint32 `yaml:"argon2_memory_kib"`
	Argon2Iterations  uint32 `yaml:"argon2_iterations"`
	Argon2Parallelism uint8  `yaml:"argon2_parallelism"`
}

// GatewayConfig configures the battle gateway.
type GatewayConfig struct {
	Server ServerConfig `yaml:"server"`
}

func defaultServer(addr string) ServerConfig {
	return ServerConfig{
		Address:         addr,
		ReadTimeout:     "15s",
		WriteTimeout:    "5m", // database download and large streamed lists
		IdleTimeout:     "60s",
		ShutdownTimeout: "10s",
		MaxConnections:  512,
		MaxBodyBytes:    1 << 20,
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "lnm",

		Archive: ArchiveConfig{
			Server:         defaultServer("127.0.0.1:8090"),
			DatabasePath:   "data/lnm_archive.db",
			DumpDir:        "data",
			CacheMaxAge:    "4320h", // six months of 30 days
			FlushEvery:     100,
			ImportWorkers:  4,
			WatchDebounce:  "500ms",
			PrintDumpGlobs: []string{"*_print.json"},
		},

		Platform: PlatformConfig{
			Server:            defaultServer("127.0.0.1:4000"),
			DatabaseURL:       "data/platform.db",
			SessionTTL:        "2880h", // 120 days
			CookieName:        "session_token",
			CookieSecure:      false,
			AllowedOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			ConnectRetries:    5,
			ConnectBackoff:    "4s",
			Argon2Memory:      64 * 1024,
			Argon2Iterations:  4,
			Argon2Parallelism: 1,
		},

		Gateway: GatewayConfig{
			Server: defaultServer("127.0.0.1:8000"),
		},

		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			DebugMode: false,
			Dir:       ".lnm/logs",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("LNM_ARCHIVE_DB"); path != "" {
		c.Archive.DatabasePath = path
	}
	if addr := os.Getenv("LNM_ARCHIVE_ADDR"); addr != "" {
		c.Archive.Server.Address = addr
	}
	if dir := os.Getenv("LNM_DUMP_DIR"); dir != "" {
		c.Archive.DumpDir = dir
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Platform.DatabaseURL = dsn
	}
	if addr := os.Getenv("LNM_PLATFORM_ADDR"); addr != "" {
		c.Platform.Server.Address = addr
	}
	if v := os.Getenv("LNM_COOKIE_SECURE"); v != "" {
		if secure, err := strconv.ParseBool(v); err == nil {
			c.Platform.CookieSecure = secure
		}
	}
	if origins := os.Getenv("LNM_ALLOWED_ORIGINS"); origins != "" {
		c.Platform.AllowedOrigins = splitList(origins)
	}

	if addr := os.Getenv("LNM_GATEWAY_ADDR"); addr != "" {
		c.Gateway.Server.Address = addr
	}

	if level := os.Getenv("LNM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if v := os.Getenv("LNM_DEBUG"); v != "" {
		if debug, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = debug
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetReadTimeout returns the read timeout as a duration.
func (s ServerConfig) GetReadTimeout() time.Duration {
	return parseDuration(s.ReadTimeout, 15*time.Second)
}

// GetWriteTimeout returns the write timeout as a duration.
func (s ServerConfig) GetWriteTimeout() time.Duration {
	return parseDuration(s.WriteTimeout, 5*time.Minute)
}

// GetIdleTimeout returns the idle timeout as a duration.
func (s ServerConfig) GetIdleTimeout() time.Duration {
	return parseDuration(s.IdleTimeout, 60*time.Second)
}

// GetShutdownTimeout returns the graceful shutdown budget as a duration.
func (s ServerConfig) GetShutdownTimeout() time.Duration {
	return parseDuration(s.ShutdownTimeout, 10*time.Second)
}

// GetCacheMaxAge returns the public cache lifetime of archive responses.
func (a ArchiveConfig) GetCacheMaxAge() time.Duration {
	return parseDuration(a.CacheMaxAge, 4320*time.Hour)
}

// GetWatchDebounce returns the importer watch debounce as a duration.
func (a ArchiveConfig) GetWatchDebounce() time.Duration {
	return parseDuration(a.WatchDebounce, 500*time.Millisecond)
}

// GetSessionTTL returns the session TTL as a duration.
func (p PlatformConfig) GetSessionTTL() time.Duration {
	return parseDuration(p.SessionTTL, 2880*time.Hour)
}

// GetConnectBackoff returns the delay between database connection attempts.
func (p PlatformConfig) GetConnectBackoff() time.Duration {
	return parseDuration(p.ConnectBackoff, 4*time.Second)
}

// ValidLogLevels lists the accepted logging levels.
var ValidLogLevels = []string{"debug", "info", "warn", "warning", "error"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Archive.DatabasePath == "" {
		return fmt.Errorf("archive database path not configured (set archive.database_path or LNM_ARCHIVE_DB)")
	}
	if c.Platform.DatabaseURL == "" {
		return fmt.Errorf("platform database not configured (set platform.database_url or DATABASE_URL)")
	}
	if c.Platform.CookieName == "" {
		return fmt.Errorf("platform cookie name must not be empty")
	}
	if c.Archive.FlushEvery < 0 {
		return fmt.Errorf("archive flush_every must not be negative: %d", c.Archive.FlushEvery)
	}
	if c.Platform.Argon2Iterations == 0 || c.Platform.Argon2Parallelism == 0 || c.Platform.Argon2Memory < 8*uint32(c.Platform.Argon2Parallelism) {
		return fmt.Errorf("invalid argon2 parameters: m=%d t=%d p=%d",
			c.Platform.Argon2Memory, c.Platform.Argon2Iterations, c.Platform.Argon2Parallelism)
	}

	validLevel := false
	for _, l := range ValidLogLevels {
		if c.Logging.Level == l {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, ValidLogLevels)
	}

	for name, srv := range map[string]ServerConfig{
		"archive":  c.Archive.Server,
		"platform": c.Platform.Server,
		"gateway":  c.Gateway.Server,
	} {
		if srv.Address == "" {
			return fmt.Errorf("%s server address not configured", name)
		}
		if srv.MaxConnections < 0 {
			return fmt.Errorf("%s max_connections must not be negative", name)
		}
	}

	return nil
}
