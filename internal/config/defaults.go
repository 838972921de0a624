package config

// Default values for configuration options. These are "layer 0" of the
// override chain and match the production mobile client's behavior: a 12 hour
// access token lifetime, a 5 minute preemptive refresh margin, and three
// retries with a one second base delay.
const (
	defaultBaseURL             = "https://api.reparto.app/v1"
	defaultSessionBackend      = BackendFile
	defaultConnectTimeout      = "10s"
	defaultReceiveTimeout      = "30s"
	defaultMaxRetries          = 3
	defaultRetryBaseDelay      = "1s"
	defaultTokenLifetime       = "12h"
	defaultRefreshMargin       = "5m"
	defaultUploadTimeoutFactor = 3
	defaultLogLevel            = "info"
	defaultLogFormat           = "auto"
)

// DefaultConfig returns a Config populated with all default values.
// Used both as the starting point for TOML decoding (so unset fields retain
// defaults) and as the fallback when no config file exists. The API key has
// no default: it must come from the config file or environment.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: defaultBaseURL,
		},
		Session: SessionConfig{
			Backend: defaultSessionBackend,
		},
		Network: NetworkConfig{
			ConnectTimeout:      defaultConnectTimeout,
			ReceiveTimeout:      defaultReceiveTimeout,
			MaxRetries:          defaultMaxRetries,
			RetryBaseDelay:      defaultRetryBaseDelay,
			TokenLifetime:       defaultTokenLifetime,
			RefreshMargin:       defaultRefreshMargin,
			UploadTimeoutFactor: defaultUploadTimeoutFactor,
		},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
