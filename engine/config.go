package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ConfigFile is the name FindConfig looks for.
const ConfigFile = "flywheel.yaml"

// AtomicMode selects the default of the Atomic and Overwrite options.
type AtomicMode string

const (
	// AtomicUpdate makes Sync atomic while Save overwrites and Delete is
	// unconditional.
	AtomicUpdate AtomicMode = "update"
	AtomicAlways AtomicMode = "true"
	AtomicNever  AtomicMode = "false"
)

// UnmarshalYAML accepts the bare booleans true and false as well as
// "update".
func (m *AtomicMode) UnmarshalYAML(n *yaml.Node) error {
	*m = AtomicMode(n.Value)
	return nil
}

func (m AtomicMode) valid() bool {
	switch m {
	case AtomicUpdate, AtomicAlways, AtomicNever:
		return true
	}
	return false
}

func (m AtomicMode) syncAtomic() bool   { return m != AtomicNever }
func (m AtomicMode) saveOverwrite() bool { return m != AtomicAlways }
func (m AtomicMode) deleteAtomic() bool { return m == AtomicAlways }

// Config configures an engine and the store it opens.
type Config struct {
	// Namespace is prepended to every table name.
	Namespace     []string   `yaml:"namespace"`
	DefaultAtomic AtomicMode `yaml:"default_atomic"`
	// PageSize bounds the items requested per Query or Scan page. Zero lets
	// the store decide.
	PageSize int    `yaml:"page_size"`
	Region   string `yaml:"region"`
	// Endpoint overrides the DynamoDB endpoint, e.g. for DynamoDB Local.
	Endpoint string        `yaml:"endpoint"`
	Store    StoreConfig   `yaml:"store"`
	Retry    RetryConfig   `yaml:"retry"`
	Logging  LoggingConfig `yaml:"logging"`
}

// StoreConfig selects the embedded store instead of AWS.
type StoreConfig struct {
	// Path persists the embedded store on disk.
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// Format is json or console.
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used for unset values.
func DefaultConfig() Config {
	return Config{
		DefaultAtomic: AtomicUpdate,
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   50 * time.Millisecond,
			MaxDelay:    5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// FindConfig searches for flywheel.yaml starting from dir and walking up to
// the filesystem root. It returns an empty path when there is none.
func FindConfig(dir string) string {
	for {
		path := filepath.Join(dir, ConfigFile)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func (c Config) Validate() error {
	var errs []error
	if !c.DefaultAtomic.valid() {
		errs = append(errs, fmt.Errorf("default_atomic must be update, true or false, got %q", c.DefaultAtomic))
	}
	if c.PageSize < 0 {
		errs = append(errs, fmt.Errorf("page_size must not be negative"))
	}
	if c.Store.InMemory && c.Store.Path != "" {
		errs = append(errs, fmt.Errorf("store: path and in_memory are exclusive"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1"))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, fmt.Errorf("retry: need 0 <= base_delay <= max_delay"))
	}
	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}
	for _, part := range c.Namespace {
		if part == "" {
			errs = append(errs, fmt.Errorf("namespace parts must not be empty"))
			break
		}
	}
	return errors.Join(errs...)
}

// Logger builds the logger described by the logging section.
func (c LoggingConfig) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var l zerolog.Logger
	if c.Format == "console" {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		l = zerolog.New(os.Stderr)
	}
	return l.Level(level).With().Timestamp().Logger()
}
