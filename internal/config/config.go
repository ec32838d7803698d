// Package config loads the loupe command configuration from a TOML file,
// environment variables, and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Environment variables overriding file values.
const (
	EnvURL           = "LOUPE_URL"
	EnvDebounce      = "LOUPE_DEBOUNCE"
	EnvRetries       = "LOUPE_RETRIES"
	EnvRetryDelay    = "LOUPE_RETRY_DELAY"
	EnvTimeout       = "LOUPE_TIMEOUT"
	EnvLive          = "LOUPE_LIVE"
	EnvMaxReconnects = "LOUPE_MAX_RECONNECTS"
	EnvAddr          = "LOUPE_ADDR"
	EnvTitle         = "LOUPE_TITLE"
)

// Duration is a time.Duration decoded from strings such as "300ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete command configuration.
type Config struct {
	Backend BackendConfig `toml:"backend"`
	Render  RenderConfig  `toml:"render"`
	Live    LiveConfig    `toml:"live"`
	Serve   ServeConfig   `toml:"serve"`
}

// BackendConfig locates the rendering service.
type BackendConfig struct {
	URL string `toml:"url" validate:"required,url"`
}

// RenderConfig tunes the preview engine and client.
type RenderConfig struct {
	Debounce   Duration `toml:"debounce" validate:"gte=0"`
	Retries    int      `toml:"retries" validate:"gte=0,lte=20"`
	RetryDelay Duration `toml:"retry_delay" validate:"gte=0"`
	Timeout    Duration `toml:"timeout" validate:"gte=0"`
	QueryLimit int      `toml:"query_limit" validate:"gte=1"`
}

// LiveConfig tunes the push channel.
type LiveConfig struct {
	Enabled        bool     `toml:"enabled"`
	ConnectTimeout Duration `toml:"connect_timeout" validate:"gt=0"`
	BackoffBase    Duration `toml:"backoff_base" validate:"gt=0"`
	BackoffMax     Duration `toml:"backoff_max" validate:"gtefield=BackoffBase"`
	MaxReconnects  int      `toml:"max_reconnects" validate:"gte=0"`
}

// ServeConfig configures the reference backend.
type ServeConfig struct {
	Addr  string `toml:"addr" validate:"required,hostname_port"`
	Title string `toml:"title" validate:"required"`
	Watch string `toml:"watch"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{URL: "http://localhost:8080"},
		Render: RenderConfig{
			Debounce:   Duration(300 * time.Millisecond),
			Retries:    5,
			RetryDelay: Duration(500 * time.Millisecond),
			QueryLimit: 1024,
		},
		Live: LiveConfig{
			Enabled:        true,
			ConnectTimeout: Duration(5 * time.Second),
			BackoffBase:    Duration(500 * time.Millisecond),
			BackoffMax:     Duration(30 * time.Second),
		},
		Serve: ServeConfig{
			Addr:  "localhost:8080",
			Title: "Preview",
		},
	}
}

// Load reads path over the defaults, applies a .env file from the working
// directory and environment overrides, and validates the result. An empty
// path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	}

	// A missing .env is not an error.
	_ = godotenv.Load()

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from LOUPE_* environment variables.
func (c *Config) ApplyEnv() error {
	var errs []error

	if v := os.Getenv(EnvURL); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv(EnvAddr); v != "" {
		c.Serve.Addr = v
	}
	if v := os.Getenv(EnvTitle); v != "" {
		c.Serve.Title = v
	}

	durations := map[string]*Duration{
		EnvDebounce:   &c.Render.Debounce,
		EnvRetryDelay: &c.Render.RetryDelay,
		EnvTimeout:    &c.Render.Timeout,
	}
	for env, dst := range durations {
		if v := os.Getenv(env); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", env, err))
			}
		}
	}

	ints := map[string]*int{
		EnvRetries:       &c.Render.Retries,
		EnvMaxReconnects: &c.Live.MaxReconnects,
	}
	for env, dst := range ints {
		if v := os.Getenv(env); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", env, err))
				continue
			}
			*dst = n
		}
	}

	if v := os.Getenv(EnvLive); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvLive, err))
		} else {
			c.Live.Enabled = b
		}
	}

	return errors.Join(errs...)
}

var validate = validator.New()

// Validate checks every field constraint.
func (c *Config) Validate() error {
	return validate.Struct(c)
}
