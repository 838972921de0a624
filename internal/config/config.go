// Package config loads and validates reparto-go configuration.
// Configuration is resolved through a three-layer override chain:
// defaults -> TOML config file -> environment variables. CLI flags are
// applied by the command layer on top of the resolved result.
package config

import "time"

// Session store backend identifiers.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config is the on-disk TOML configuration shape. Duration-valued fields are
// strings ("10s", "5m") and are parsed during Resolve so that a typo produces
// a clear error naming the field instead of a silent zero value.
type Config struct {
	API     APIConfig     `toml:"api"`
	Session SessionConfig `toml:"session"`
	Network NetworkConfig `toml:"network"`
	Logging LoggingConfig `toml:"logging"`
}

// APIConfig identifies the Reparto API endpoint and the static API key sent
// with every request.
type APIConfig struct {
	BaseURL string `toml:"base_url" validate:"required,url"`
	Key     string `toml:"key" validate:"required"`
}

// SessionConfig selects where the persisted session lives.
type SessionConfig struct {
	Backend string `toml:"backend" validate:"oneof=file sqlite"`
	Path    string `toml:"path"`
}

// NetworkConfig holds the tunables for the request executor, the refresh
// coordinator, and the multipart uploader.
type NetworkConfig struct {
	ConnectTimeout      string `toml:"connect_timeout"`
	ReceiveTimeout      string `toml:"receive_timeout"`
	MaxRetries          int    `toml:"max_retries" validate:"min=0,max=10"`
	RetryBaseDelay      string `toml:"retry_base_delay"`
	TokenLifetime       string `toml:"token_lifetime"`
	RefreshMargin       string `toml:"refresh_margin"`
	UploadTimeoutFactor int    `toml:"upload_timeout_factor" validate:"min=1,max=10"`
}

// LoggingConfig controls log verbosity and output format.
type LoggingConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=auto text json"`
}

// Resolved is the fully parsed configuration handed to the rest of the
// program. All durations are concrete time.Duration values.
type Resolved struct {
	BaseURL        string
	APIKey         string
	SessionBackend string
	SessionPath    string

	ConnectTimeout      time.Duration
	ReceiveTimeout      time.Duration
	MaxRetries          int
	RetryBaseDelay      time.Duration
	TokenLifetime       time.Duration
	RefreshMargin       time.Duration
	UploadTimeoutFactor int

	LogLevel  string
	LogFormat string
}
