// Package config loads the simulator's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/simkernel/internal/core/clock"
	"github.com/zeusync/simkernel/internal/core/observability/log"
	"github.com/zeusync/simkernel/internal/scenario"
)

var ErrInvalid = errors.New("config: invalid")

const (
	ClockFixed    = "fixed"
	ClockRealtime = "realtime"
)

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Clock     ClockConfig     `yaml:"clock"`
	Scenario  scenario.Config `yaml:"scenario"`
	Spectator SpectatorConfig `yaml:"spectator"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// ClockConfig picks the frame source. Fixed clocks step Rate frames per
// simulated second as fast as possible; realtime clocks follow the wall clock.
type ClockConfig struct {
	Mode   string  `yaml:"mode"`
	Rate   float64 `yaml:"rate"`
	MaxDT  float64 `yaml:"max_dt"`
	Frames int     `yaml:"frames"`
}

// SpectatorConfig controls the websocket snapshot feed. A snapshot is
// broadcast every Every frames; a non-empty Token guards the feed.
type SpectatorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Every   int    `yaml:"every"`
	Token   string `yaml:"token"`
}

func Default() Config {
	return Config{
		Log:      LogConfig{Level: "info"},
		Clock:    ClockConfig{Mode: ClockFixed, Rate: 60, MaxDT: 0.25},
		Scenario: scenario.DefaultConfig(),
		Spectator: SpectatorConfig{
			Addr:  ":8089",
			Every: 2,
		},
	}
}

// Load reads path. Keys missing from the file keep their defaults.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := LoadYAML(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadYAML decodes r over the defaults and validates the result. Unknown
// keys are rejected.
func LoadYAML(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("%w: log.level: %v", ErrInvalid, err))
	}
	switch c.Clock.Mode {
	case ClockFixed, ClockRealtime:
	default:
		errs = append(errs, fmt.Errorf("%w: clock.mode must be %q or %q, got %q", ErrInvalid, ClockFixed, ClockRealtime, c.Clock.Mode))
	}
	if c.Clock.Rate <= 0 {
		errs = append(errs, fmt.Errorf("%w: clock.rate must be positive", ErrInvalid))
	}
	if c.Clock.Frames < 0 {
		errs = append(errs, fmt.Errorf("%w: clock.frames must not be negative", ErrInvalid))
	}
	if c.Spectator.Enabled && c.Spectator.Addr == "" {
		errs = append(errs, fmt.Errorf("%w: spectator.addr is required when the spectator is enabled", ErrInvalid))
	}
	if c.Spectator.Every < 1 {
		errs = append(errs, fmt.Errorf("%w: spectator.every must be at least 1", ErrInvalid))
	}
	if err := c.Scenario.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// LogLevel is the parsed log level; Validate has already rejected bad values.
func (c LogConfig) LogLevel() log.Level {
	l, _ := log.ParseLevel(c.Level)
	return l
}

// Source builds the configured frame source. Frames limits fixed clocks only;
// zero means unlimited.
func (c ClockConfig) Source() clock.Source {
	if c.Mode == ClockRealtime {
		return clock.NewRealtime(c.Rate, c.MaxDT)
	}
	return clock.NewFixed(1/c.Rate, c.Frames)
}
