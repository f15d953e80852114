// Package config loads bodega's configuration.
//
// Sources are applied in order, later ones winning: defaults, the YAML file
// (~/.bodega/config.yaml), BODEGA_* environment variables, then command-line
// flags applied by the caller. The result is validated before use.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/bodega/internal/credential"
	"github.com/felixgeelhaar/bodega/internal/errors"
	"github.com/felixgeelhaar/bodega/internal/log"
	"github.com/felixgeelhaar/bodega/internal/telemetry"
)

// Config is the complete client configuration
type Config struct {
	APIURL         string        `yaml:"api_url" json:"api_url" envconfig:"BODEGA_API_URL" validate:"required,url"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" envconfig:"BODEGA_REQUEST_TIMEOUT" validate:"min=1s"`
	PollInterval   time.Duration `yaml:"poll_interval" json:"poll_interval" envconfig:"BODEGA_POLL_INTERVAL" validate:"min=5s,max=30s"`

	// CheckExpiry drops credentials whose exp claim has passed at mount
	CheckExpiry  bool          `yaml:"check_expiry" json:"check_expiry" envconfig:"BODEGA_CHECK_EXPIRY"`
	ExpiryLeeway time.Duration `yaml:"expiry_leeway" json:"expiry_leeway" envconfig:"BODEGA_EXPIRY_LEEWAY" validate:"min=0s"`

	Credentials CredentialConfig `yaml:"credentials" json:"credentials" ignored:"true"`
	Log         LogConfig        `yaml:"log" json:"log" ignored:"true"`
	Telemetry   TelemetryConfig  `yaml:"telemetry" json:"telemetry" ignored:"true"`

	// MetricsAddr exposes Prometheus metrics when set (e.g. 127.0.0.1:9464)
	MetricsAddr string `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty" envconfig:"BODEGA_METRICS_ADDR" validate:"omitempty,hostname_port"`
}

// CredentialConfig selects where the credential is kept
type CredentialConfig struct {
	Backend string `yaml:"backend" json:"backend" envconfig:"BODEGA_CREDENTIAL_BACKEND" validate:"oneof=memory file sealed redis"`
	Path    string `yaml:"path" json:"path" envconfig:"BODEGA_CREDENTIAL_PATH" validate:"required_if=Backend file,required_if=Backend sealed"`

	// Key is the passphrase for the sealed backend. Environment only.
	Key string `yaml:"-" json:"-" envconfig:"BODEGA_CREDENTIAL_KEY" validate:"required_if=Backend sealed"`

	RedisAddr string        `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty" envconfig:"BODEGA_REDIS_ADDR" validate:"required_if=Backend redis"`
	RedisKey  string        `yaml:"redis_key,omitempty" json:"redis_key,omitempty" envconfig:"BODEGA_REDIS_KEY"`
	RedisTTL  time.Duration `yaml:"redis_ttl,omitempty" json:"redis_ttl,omitempty" envconfig:"BODEGA_REDIS_TTL" validate:"min=0s"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level  string `yaml:"level" json:"level" envconfig:"BODEGA_LOG_LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" envconfig:"BODEGA_LOG_FORMAT" validate:"oneof=text json"`
	// File receives logs while the terminal UI owns the screen
	File string `yaml:"file" json:"file" envconfig:"BODEGA_LOG_FILE"`
}

// TelemetryConfig configures tracing
type TelemetryConfig struct {
	Enabled    bool    `yaml:"enabled" json:"enabled" envconfig:"BODEGA_OTEL_ENABLED"`
	Endpoint   string  `yaml:"endpoint,omitempty" json:"endpoint,omitempty" envconfig:"BODEGA_OTEL_ENDPOINT" validate:"omitempty,hostname_port"`
	Insecure   bool    `yaml:"insecure,omitempty" json:"insecure,omitempty" envconfig:"BODEGA_OTEL_INSECURE"`
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate" envconfig:"BODEGA_OTEL_SAMPLE_RATE" validate:"gte=0,lte=1"`
}

// Dir returns bodega's state directory, ~/.bodega
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bodega"
	}
	return filepath.Join(home, ".bodega")
}

// DefaultPath returns the default configuration file path
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the built-in configuration
func Default() *Config {
	dir := Dir()
	return &Config{
		APIURL:         "http://localhost:5000",
		RequestTimeout: 30 * time.Second,
		PollInterval:   30 * time.Second,
		ExpiryLeeway:   30 * time.Second,
		Credentials: CredentialConfig{
			Backend:  "file",
			Path:     filepath.Join(dir, "credentials.json"),
			RedisKey: "bodega:credential",
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
			File:   filepath.Join(dir, "bodega.log"),
		},
		Telemetry: TelemetryConfig{
			SampleRate: 1.0,
		},
	}
}

// Load builds the configuration from defaults, the file at path (a missing
// file is fine) and the BODEGA_* environment, then validates it. An empty path
// means DefaultPath.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}

	if err := cfg.mergeEnv(); err != nil {
		return nil, err
	}

	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(errors.ErrCodeConfigLoad, fmt.Sprintf("failed to read %s", path), err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, fmt.Sprintf("failed to parse %s", path), err).
			WithSuggestion("Run 'bodega config view' to see the expected layout")
	}
	return nil
}

// mergeEnv applies BODEGA_* overrides. Sections are processed one by one
// with full variable names so envconfig never falls back to unprefixed
// names such as PATH.
func (c *Config) mergeEnv() error {
	for _, section := range []any{c, &c.Credentials, &c.Log, &c.Telemetry} {
		if err := envconfig.Process("", section); err != nil {
			return errors.Wrap(errors.ErrCodeConfigLoad, "failed to read environment", err).
				WithSuggestion("Check the BODEGA_* environment variables")
		}
	}
	return nil
}

func (c *Config) expandPaths() {
	c.Credentials.Path = expandHome(c.Credentials.Path)
	c.Log.File = expandHome(c.Log.File)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report yaml names, which is what users write
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Tag.Get("envconfig")
		}
		return name
	})
	return v
}

// Validate checks every field constraint
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.NewConfigInvalidError(err.Error())
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return errors.NewConfigInvalidError(strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "url":
		return fmt.Sprintf("%s must be an absolute URL, got %q", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port, got %q", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// Save writes the configuration as YAML with owner-only permissions
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to create config directory", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, fmt.Sprintf("failed to write %s", path), err)
	}
	return nil
}

// CredentialOptions maps the credential section onto credential.Open's options
func (c *Config) CredentialOptions() credential.Options {
	return credential.Options{
		Backend:    c.Credentials.Backend,
		Path:       c.Credentials.Path,
		Passphrase: c.Credentials.Key,
		RedisAddr:  c.Credentials.RedisAddr,
		RedisKey:   c.Credentials.RedisKey,
		RedisTTL:   c.Credentials.RedisTTL,
	}
}

// TelemetryConfig maps the telemetry section for telemetry.InitProvider
func (c *Config) TelemetryConfig(serviceVersion string) telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = serviceVersion
	tc.Enabled = c.Telemetry.Enabled
	tc.Endpoint = c.Telemetry.Endpoint
	tc.Insecure = c.Telemetry.Insecure
	tc.SampleRate = c.Telemetry.SampleRate
	return tc
}

// LogConfig maps the log section, writing to out
func (c *Config) LogConfig(out io.Writer) log.Config {
	lc := log.DefaultConfig()
	lc.Level = log.ParseLevel(c.Log.Level)
	lc.Format = log.ParseFormat(c.Log.Format)
	if out != nil {
		lc.Output = out
	}
	return lc
}
