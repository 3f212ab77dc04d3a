package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LogConfig        `yaml:"logging"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Store      StoreConfig      `yaml:"store"`
	Redis      RedisConfig      `yaml:"redis"`
	Terminal   TerminalConfig   `yaml:"terminal"`
	Session    SessionConfig    `yaml:"session"`
	Connection ConnectionConfig `yaml:"connection"`
	Auth       AuthConfig       `yaml:"auth"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000" yaml:"port"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0" yaml:"host"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" yaml:"shutdown_timeout"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*" yaml:"cors_origins"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled"`
	// Per-connection limit on inbound command messages
	CommandsPerSecond int `envconfig:"WS_COMMAND_RPS" default:"20" yaml:"commands_per_second"`
	CommandBurst      int `envconfig:"WS_COMMAND_BURST" default:"40" yaml:"command_burst"`
}

// StoreConfig selects and configures the virtual filesystem backend.
type StoreConfig struct {
	Driver      string `envconfig:"VFS_DRIVER" default:"sqlite" yaml:"driver"`
	SQLitePath  string `envconfig:"VFS_SQLITE_PATH" default:"webterm.db" yaml:"sqlite_path"`
	PostgresURL string `envconfig:"VFS_POSTGRES_URL" yaml:"postgres_url"`
	Checksum    string `envconfig:"VFS_CHECKSUM" default:"sha256" yaml:"checksum"`
}

// RedisConfig configures the optional session snapshot repository.
type RedisConfig struct {
	Enabled  bool          `envconfig:"REDIS_ENABLED" default:"false" yaml:"enabled"`
	Addr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379" yaml:"addr"`
	Password string        `envconfig:"REDIS_PASSWORD" yaml:"password"`
	DB       int           `envconfig:"REDIS_DB" default:"0" yaml:"db"`
	Prefix   string        `envconfig:"REDIS_PREFIX" default:"webterm:session:" yaml:"prefix"`
	TTL      time.Duration `envconfig:"REDIS_TTL" default:"168h" yaml:"ttl"`
}

// TerminalConfig holds command execution settings.
type TerminalConfig struct {
	CommandTimeout    time.Duration `envconfig:"TERMINAL_COMMAND_TIMEOUT" default:"30s" yaml:"command_timeout"`
	HistorySize       int           `envconfig:"TERMINAL_HISTORY_SIZE" default:"100" yaml:"history_size"`
	WorkspaceRoot     string        `envconfig:"TERMINAL_WORKSPACE_ROOT" yaml:"workspace_root"`
	PythonBin         string        `envconfig:"TERMINAL_PYTHON_BIN" default:"python3" yaml:"python_bin"`
	MaxOutputBytes    int           `envconfig:"TERMINAL_MAX_OUTPUT_BYTES" default:"1048576" yaml:"max_output_bytes"`
	SyncBack          bool          `envconfig:"TERMINAL_SYNC_BACK" default:"true" yaml:"sync_back"`
	AllowedExecRoots  []string      `envconfig:"TERMINAL_ALLOWED_EXEC_ROOTS" yaml:"allowed_exec_roots"`
	JavaScriptTimeout time.Duration `envconfig:"TERMINAL_JS_TIMEOUT" default:"5s" yaml:"js_timeout"`
	PipSelfUpgrade    bool          `envconfig:"TERMINAL_PIP_SELF_UPGRADE" default:"true" yaml:"pip_self_upgrade"`
}

// SessionConfig controls idle session cleanup.
type SessionConfig struct {
	IdleTimeout   time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"30m" yaml:"idle_timeout"`
	SweepSchedule string        `envconfig:"SESSION_SWEEP_SCHEDULE" default:"@every 1m" yaml:"sweep_schedule"`
}

// ConnectionConfig bounds per-connection buffering.
type ConnectionConfig struct {
	PendingLimit    int   `envconfig:"CONNECTION_PENDING_LIMIT" default:"1000" yaml:"pending_limit"`
	MaxMessageBytes int64 `envconfig:"CONNECTION_MAX_MESSAGE_BYTES" default:"4194304" yaml:"max_message_bytes"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Required bool   `envconfig:"AUTH_REQUIRED" default:"false" yaml:"required"`
	Secret   string `envconfig:"JWT_SECRET" yaml:"secret"`
	Issuer   string `envconfig:"JWT_ISSUER" default:"webterm" yaml:"issuer"`
}

// Load loads configuration from environment variables, then applies the
// file named by CONFIG_FILE on top when it is set.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := ApplyFile(&cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("VFS_POSTGRES_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown VFS_DRIVER %q", c.Store.Driver)
	}
	if c.Auth.Required && c.Auth.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required when AUTH_REQUIRED is set")
	}
	if c.Terminal.CommandTimeout <= 0 {
		return fmt.Errorf("TERMINAL_COMMAND_TIMEOUT must be positive")
	}
	if c.Terminal.HistorySize <= 0 {
		return fmt.Errorf("TERMINAL_HISTORY_SIZE must be positive")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
			CommandsPerSecond: 20,
			CommandBurst:      40,
		},
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "webterm.db",
			Checksum:   "sha256",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			Prefix:  "webterm:session:",
			TTL:     168 * time.Hour,
		},
		Terminal: TerminalConfig{
			CommandTimeout:    30 * time.Second,
			HistorySize:       100,
			PythonBin:         "python3",
			MaxOutputBytes:    1 << 20,
			SyncBack:          true,
			JavaScriptTimeout: 5 * time.Second,
			PipSelfUpgrade:    true,
		},
		Session: SessionConfig{
			IdleTimeout:   30 * time.Minute,
			SweepSchedule: "@every 1m",
		},
		Connection: ConnectionConfig{
			PendingLimit:    1000,
			MaxMessageBytes: 4 << 20,
		},
		Auth: AuthConfig{
			Issuer: "webterm",
		},
	}
}
