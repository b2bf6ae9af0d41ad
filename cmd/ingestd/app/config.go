package app

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/sensor-ingest/internal/sensor"
)

// Config represents the main application configuration
type Config struct {
	Settings   Settings         `yaml:"settings"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Validation ValidationConfig `yaml:"validation"`
	Retry      RetryConfig      `yaml:"retry"`
	Storage    StorageConfig    `yaml:"storage"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// Level parses the configured log level, defaulting to info when the level
// is empty or unrecognized.
func (s Settings) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// IngestConfig represents file discovery and routing settings
type IngestConfig struct {
	DropDir     string   `yaml:"dropDir"`
	ArchiveDir  string   `yaml:"archiveDir"`
	InvalidDir  string   `yaml:"invalidDir"`
	CorruptDir  string   `yaml:"corruptDir"`
	Workers     int      `yaml:"workers"`
	SettleDelay Duration `yaml:"settleDelay"`
}

// ValidationConfig represents row validation settings. Sensors absent from
// Ranges fall back to the built-in defaults.
type ValidationConfig struct {
	Ranges      map[sensor.Type]sensor.Range `yaml:"ranges"`
	TimeLayouts []string                     `yaml:"timeLayouts"`
}

// RetryConfig represents storage retry settings
type RetryConfig struct {
	MaxAttempts    int      `yaml:"maxAttempts"`
	BaseDelay      Duration `yaml:"baseDelay"`
	MaxDelay       Duration `yaml:"maxDelay"`
	Jitter         float64  `yaml:"jitter"`
	AttemptTimeout Duration `yaml:"attemptTimeout"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	DBPath string `yaml:"dbPath"`
}

// Duration is a time.Duration that unmarshals from YAML strings such as
// "500ms" or "1m30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LoadConfig reads and parses the YAML configuration file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing configuration file: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

func (c *Config) validate() error {
	if c.Ingest.DropDir == "" {
		return fmt.Errorf("ingest.dropDir must be set")
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.dbPath must be set")
	}
	for name, r := range c.Validation.Ranges {
		if r.Min > r.Max {
			return fmt.Errorf("validation.ranges.%s: min %v is greater than max %v", name, r.Min, r.Max)
		}
	}
	return nil
}
