package config

import "os"

// Environment variable names for overrides. The API key is deliberately
// env-overridable so CI and containers never need a config file on disk.
const (
	EnvConfig  = "REPARTO_GO_CONFIG"
	EnvBaseURL = "REPARTO_GO_BASE_URL"
	EnvAPIKey  = "REPARTO_GO_API_KEY"
	EnvSession = "REPARTO_GO_SESSION_PATH"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath  string // REPARTO_GO_CONFIG: override config file path
	BaseURL     string // REPARTO_GO_BASE_URL: API endpoint override
	APIKey      string // REPARTO_GO_API_KEY: static API key
	SessionPath string // REPARTO_GO_SESSION_PATH: session store location
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:  os.Getenv(EnvConfig),
		BaseURL:     os.Getenv(EnvBaseURL),
		APIKey:      os.Getenv(EnvAPIKey),
		SessionPath: os.Getenv(EnvSession),
	}
}
