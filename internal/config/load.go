package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance. Struct-tag validation runs after
// TOML decoding so a config file cannot smuggle an out-of-range retry count
// or an unknown backend past the loader.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and parses a TOML config file and validates it. Unknown keys are
// fatal: silently ignoring a typo in a config file leads to hard-to-debug
// behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}

		return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values. This supports the zero-config
// first-run experience (everything but the API key has a usable default).
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables. The returned Resolved
// carries parsed durations ready for the client layer.
func Resolve(env EnvOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.BaseURL != "" {
		cfg.API.BaseURL = env.BaseURL
	}

	if env.APIKey != "" {
		cfg.API.Key = env.APIKey
	}

	sessionPath := cfg.Session.Path
	if env.SessionPath != "" {
		sessionPath = env.SessionPath
	}

	if sessionPath == "" {
		sessionPath = DefaultSessionPath(cfg.Session.Backend)
	}

	return resolveParsed(cfg, sessionPath)
}

// resolveParsed converts the validated Config into a Resolved, parsing every
// duration-valued string.
func resolveParsed(cfg *Config, sessionPath string) (*Resolved, error) {
	r := &Resolved{
		BaseURL:             strings.TrimRight(cfg.API.BaseURL, "/"),
		APIKey:              cfg.API.Key,
		SessionBackend:      cfg.Session.Backend,
		SessionPath:         sessionPath,
		MaxRetries:          cfg.Network.MaxRetries,
		UploadTimeoutFactor: cfg.Network.UploadTimeoutFactor,
		LogLevel:            cfg.Logging.Level,
		LogFormat:           cfg.Logging.Format,
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"network.connect_timeout", cfg.Network.ConnectTimeout, &r.ConnectTimeout},
		{"network.receive_timeout", cfg.Network.ReceiveTimeout, &r.ReceiveTimeout},
		{"network.retry_base_delay", cfg.Network.RetryBaseDelay, &r.RetryBaseDelay},
		{"network.token_lifetime", cfg.Network.TokenLifetime, &r.TokenLifetime},
		{"network.refresh_margin", cfg.Network.RefreshMargin, &r.RefreshMargin},
	}

	for _, d := range durations {
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("config: invalid duration for %s: %q", d.name, d.raw)
		}

		if parsed < 0 {
			return nil, fmt.Errorf("config: negative duration for %s: %q", d.name, d.raw)
		}

		*d.dst = parsed
	}

	return r, nil
}
