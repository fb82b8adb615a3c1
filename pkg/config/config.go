// Package config handles cyclone.toml project configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/akhildatla/cyclone/pkg/vm"
)

// FileName is the name of the configuration file.
const FileName = "cyclone.toml"

var (
	ErrInvalidLevel  = errors.New("invalid log level")
	ErrInvalidFormat = errors.New("invalid log format")
)

// Config represents a cyclone.toml file.
type Config struct {
	VM       VMConfig       `toml:"vm"`
	Log      LogConfig      `toml:"log"`
	Trace    TraceConfig    `toml:"trace"`
	Codegen  CodegenConfig  `toml:"codegen"`
	Optimize OptimizeConfig `toml:"optimize"`

	// Dir is the directory containing the cyclone.toml file (set at load
	// time, empty for Default).
	Dir string `toml:"-"`
}

// VMConfig limits execution.
type VMConfig struct {
	MaxSteps int64  `toml:"max_steps"` // 0 = unlimited
	Timeout  string `toml:"timeout"`   // Go duration, "0s" = none
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `toml:"level"`  // trace|debug|info|warn|error
	Format string `toml:"format"` // text|json
}

// TraceConfig controls execution trace recording.
type TraceConfig struct {
	Enabled bool   `toml:"enabled"`
	Output  string `toml:"output"`
}

// CodegenConfig configures the assembly emitter.
type CodegenConfig struct {
	Target   string `toml:"target"`
	Prologue bool   `toml:"prologue"`
	Output   string `toml:"output"`
}

// OptimizeConfig toggles the optimizer.
type OptimizeConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns the configuration used when no cyclone.toml exists.
func Default() *Config {
	return &Config{
		VM:      VMConfig{Timeout: "0s"},
		Log:     LogConfig{Level: "info", Format: "text"},
		Trace:   TraceConfig{Output: "trace.csv"},
		Codegen: CodegenConfig{Target: "win-x86_64", Prologue: true, Output: "out.asm"},
	}
}

// Load parses a cyclone.toml file from the given directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the configuration file at path. Dir is set to the
// directory holding it.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	// Keys absent from the file keep their defaults.
	c := Default()
	if _, err := toml.Decode(string(data), c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a cyclone.toml file. When
// none is found it returns Default.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks values toml cannot check by type.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFormat, c.Log.Format)
	}
	if c.VM.MaxSteps < 0 {
		return fmt.Errorf("vm.max_steps must not be negative, got %d", c.VM.MaxSteps)
	}
	if _, err := c.Timeout(); err != nil {
		return err
	}
	return nil
}

// Timeout returns vm.timeout as a duration. An empty value is zero.
func (c *Config) Timeout() (time.Duration, error) {
	if c.VM.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.VM.Timeout)
	if err != nil {
		return 0, fmt.Errorf("vm.timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("vm.timeout must not be negative, got %s", d)
	}
	return d, nil
}

// Resolve makes a relative output path relative to the config directory.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.Dir == "" {
		return path
	}
	return filepath.Join(c.Dir, path)
}

// ParseLevel maps a level name to a slog level. "trace" is vm.LevelTrace.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "trace":
		return vm.LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, name)
	}
}

// Logger builds a logger writing to w according to the [log] section.
func (c *Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevel}

	switch strings.ToLower(c.Log.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, c.Log.Format)
	}
}

// replaceLevel prints vm.LevelTrace as TRACE instead of DEBUG-4.
func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level == vm.LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}
