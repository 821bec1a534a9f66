package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/burrowd/burrow/pkg/errdefs"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML fields written in Go duration
// syntax ("30s", "2m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// LogConfig controls the daemon's structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches from human-readable console output to JSON lines.
	JSON bool `yaml:"json"`
}

// CompletionConfig controls the asynchronous completion registry and its
// model worker.
type CompletionConfig struct {
	// MaxOutstanding caps jobs in queued or in_progress state.
	MaxOutstanding int `yaml:"max_outstanding"`

	// Concurrency bounds simultaneous worker invocations.
	Concurrency int `yaml:"concurrency"`

	// JobTimeout bounds a single completion; zero means no limit.
	JobTimeout Duration `yaml:"job_timeout"`

	// Model is the default model identifier. Individual submissions may
	// override it.
	Model string `yaml:"model"`

	// MaxTokens is the default output token cap.
	MaxTokens int64 `yaml:"max_tokens"`

	// Temperature is the default sampling temperature.
	Temperature float64 `yaml:"temperature"`
}

// Config is the daemon's full configuration tree.
type Config struct {
	// SocketPath is the unix-domain socket clients connect to.
	SocketPath string `yaml:"socket_path"`

	// DataDir holds the bbolt database with persisted events and jobs.
	// Empty disables persistence.
	DataDir string `yaml:"data_dir"`

	// MetricsAddr is the listen address of the metrics and health HTTP
	// endpoint. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	Log        LogConfig        `yaml:"log"`
	Completion CompletionConfig `yaml:"completion"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		SocketPath:  "/var/run/burrowd.sock",
		DataDir:     "/var/lib/burrow",
		MetricsAddr: "127.0.0.1:9410",
		Log: LogConfig{
			Level: "info",
			JSON:  true,
		},
		Completion: CompletionConfig{
			MaxOutstanding: 256,
			Concurrency:    8,
			JobTimeout:     Duration(5 * time.Minute),
			Model:          "claude-sonnet-4-20250514",
			MaxTokens:      4096,
			Temperature:    1.0,
		},
	}
}

// Load reads a YAML configuration file over the defaults. An empty path
// returns the defaults unchanged. Unknown keys are rejected so typos fail
// loudly instead of silently reverting to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the daemon relies on.
func (c *Config) Validate() error {
	if c.SocketPath == "" {
		return errdefs.Validationf("socket_path is empty")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errdefs.Validationf("unknown log level %q", c.Log.Level)
	}
	if c.Completion.MaxOutstanding <= 0 {
		return errdefs.Validationf("completion.max_outstanding must be positive")
	}
	if c.Completion.Concurrency <= 0 {
		return errdefs.Validationf("completion.concurrency must be positive")
	}
	if c.Completion.JobTimeout < 0 {
		return errdefs.Validationf("completion.job_timeout must not be negative")
	}
	if c.Completion.Temperature < 0 || c.Completion.Temperature > 2 {
		return errdefs.Validationf("completion.temperature must be between 0 and 2")
	}
	return nil
}
