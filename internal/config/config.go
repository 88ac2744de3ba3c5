package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the prefix of every environment override, e.g.
// FREDCAST_DATABASE_DSN.
const EnvPrefix = "FREDCAST"

// Config represents the complete application configuration
type Config struct {
	Fred     FredConfig     `yaml:"fred" envconfig:"FRED"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Tracing  TracingConfig  `yaml:"tracing" envconfig:"TRACING"`
	Pipeline PipelineConfig `yaml:"pipeline" ignored:"true"`
}

// FredConfig contains the retrieval client configuration
type FredConfig struct {
	BaseURL           string        `yaml:"base_url" envconfig:"BASE_URL" validate:"required,url"`
	APIKey            string        `yaml:"api_key" envconfig:"API_KEY"`
	ObservationStart  string        `yaml:"observation_start" envconfig:"OBSERVATION_START" validate:"omitempty,datetime=2006-01-02"`
	Timeout           time.Duration `yaml:"timeout" envconfig:"TIMEOUT" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" envconfig:"REQUESTS_PER_SECOND" validate:"gte=0"`
}

// DatabaseConfig selects the persistence backend
type DatabaseConfig struct {
	Driver string `yaml:"driver" envconfig:"DRIVER" validate:"oneof=sqlite postgres"`
	DSN    string `yaml:"dsn" envconfig:"DSN" validate:"required"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TracingConfig toggles the OpenTelemetry stdout exporter
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" envconfig:"ENABLED"`
	SampleRatio float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" validate:"gte=0,lte=1"`
}

// Default returns the configuration used when neither a file nor the
// environment override a value.
func Default() *Config {
	return &Config{
		Fred: FredConfig{
			BaseURL:          "https://api.stlouisfed.org/fred",
			ObservationStart: "2014-12-01",
			Timeout:          30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "data/fredcast.db",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/fredcast.log",
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
		Pipeline: DefaultPipeline(),
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is not empty), then environment variables, which take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	if cfg.Fred.APIKey == "" {
		cfg.Fred.APIKey = os.Getenv("FRED_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFromFile overlays the YAML file on cfg. Keys absent from the file keep
// their current value.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the cross-field rules of the
// pipeline section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	return c.Pipeline.validateGroups()
}

// ErrNoAPIKey is returned by RequireAPIKey when retrieval is attempted
// without credentials.
var ErrNoAPIKey = errors.New("FRED api key not configured (set FREDCAST_FRED_API_KEY or FRED_API_KEY)")

// RequireAPIKey fails when no FRED API key is configured.
func (c *Config) RequireAPIKey() error {
	if c.Fred.APIKey == "" {
		return ErrNoAPIKey
	}
	return nil
}
