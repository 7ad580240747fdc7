package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ChuLiYu/dq-sim/internal/agent"
	"github.com/ChuLiYu/dq-sim/internal/command"
	"github.com/ChuLiYu/dq-sim/internal/simulator"
	"github.com/ChuLiYu/dq-sim/internal/snapshot"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "configs/default.yaml"

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config represents the complete simulator configuration.
// Maps config file fields through YAML tags.
type Config struct {
	Shell struct {
		Interval   time.Duration `yaml:"interval"`
		SleepTicks int           `yaml:"sleep_ticks"`
		Commands   []string      `yaml:"commands"`
	} `yaml:"shell"`

	Monitor struct {
		Interval time.Duration `yaml:"interval"`
		Linger   time.Duration `yaml:"linger"`
	} `yaml:"monitor"`

	Output struct {
		Format        string `yaml:"format"`
		FinalSnapshot bool   `yaml:"final_snapshot"`
		Exec          string `yaml:"exec"`
	} `yaml:"output"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// DefaultConfig returns the built-in configuration: a 5s shell, a 10s
// monitor and text snapshots.
func DefaultConfig() Config {
	var cfg Config
	cfg.Shell.Interval = 5 * time.Second
	cfg.Shell.Commands = append([]string(nil), agent.DefaultCommands...)
	cfg.Monitor.Interval = 10 * time.Second
	cfg.Output.Format = "text"
	cfg.Output.Exec = command.DefaultLine
	cfg.Metrics.Port = 9090
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return cfg
}

// Validate reports the first problem found in c.
func (c Config) Validate() error {
	if c.Shell.Interval <= 0 {
		return fmt.Errorf("%w: shell.interval must be positive", ErrInvalidConfig)
	}
	if c.Shell.SleepTicks < 0 {
		return fmt.Errorf("%w: shell.sleep_ticks must not be negative", ErrInvalidConfig)
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("%w: monitor.interval must be positive", ErrInvalidConfig)
	}
	if c.Monitor.Linger < 0 {
		return fmt.Errorf("%w: monitor.linger must not be negative", ErrInvalidConfig)
	}
	if _, err := snapshot.ByName(c.Output.Format); err != nil {
		return fmt.Errorf("%w: output.format: %w", ErrInvalidConfig, err)
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("%w: metrics.port %d out of range", ErrInvalidConfig, c.Metrics.Port)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level: %w", ErrInvalidConfig, err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: logging.format %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

// simulatorConfig maps c onto the runtime configuration.
func (c Config) simulatorConfig() simulator.Config {
	return simulator.Config{
		Shell: agent.ShellConfig{
			Interval:   c.Shell.Interval,
			SleepTicks: c.Shell.SleepTicks,
			Commands:   c.Shell.Commands,
		},
		Monitor:       agent.MonitorConfig{Interval: c.Monitor.Interval},
		Linger:        c.Monitor.Linger,
		Format:        c.Output.Format,
		FinalSnapshot: c.Output.FinalSnapshot,
		ExecLine:      c.Output.Exec,
	}
}

// loadConfig reads path on top of DefaultConfig, so keys missing from the
// file keep their defaults.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	return &cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return level, nil
}

// newLogger builds the process logger. Logs go to w (stderr in production)
// so stdout carries snapshots only.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return slog.New(handler), nil
}
