// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/adrg/xdg"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml"
	"github.com/sirupsen/logrus"
)

type StartType int

const (
	// Tells way2gay to start a repl in parallel for interacting with it
	START_REPL = StartType(iota)
	// Tells way2gay to execute a specific command on startup
	START_SINGLE_COMMAND
	// Tells way2gay to start without any specific targets
	// Note: Good luck interacting with it :3
	START_NONE
)

// Prefix of the environment variables overriding the config file
const EnvPrefix = "W2G"

// Where the config file is searched for in the xdg config dirs
const RelativeConfigPath = "way2gay/config.toml"

var ErrInvalid = errors.New("invalid config")

type Config struct {
	StartType StartType `envconfig:"START_TYPE" toml:"start_type,omitempty"`
	// What command to execute on start. Only matters if StartType is set to START_SINGLE_COMMAND
	StartCommand *string `envconfig:"START_COMMAND" toml:"start_command,omitempty"`

	// Name of the listening socket in XDG_RUNTIME_DIR. Empty picks the first free wayland-N
	SocketName string `envconfig:"SOCKET" toml:"socket_name,omitempty"`
	// One of logrus' levels
	LogLevel string `envconfig:"LOG_LEVEL" toml:"log_level,omitempty"`

	SeatName string `envconfig:"SEAT" toml:"seat_name,omitempty"`
	// Path to an xkb keymap in text format. Empty uses the rules default
	KeymapFile string `envconfig:"KEYMAP_FILE" toml:"keymap_file,omitempty"`
	// Keys per second
	RepeatRate int32 `envconfig:"REPEAT_RATE" toml:"repeat_rate,omitempty"`
	// Milliseconds before repeat starts
	RepeatDelay int32 `envconfig:"REPEAT_DELAY" toml:"repeat_delay,omitempty"`

	// Log a warning when a surface holds more buffer wrappers than this
	BufferPoolWarn int `envconfig:"BUFFER_POOL_WARN" toml:"buffer_pool_warn,omitempty"`
	// How far a maximized window has to be dragged before it gets restored
	MoveThreshold float64 `envconfig:"MOVE_THRESHOLD" toml:"move_threshold,omitempty"`

	// Run without a host backend, rendering into memory
	Headless bool `envconfig:"HEADLESS" toml:"headless,omitempty"`
	// Frame interval of the headless output in milliseconds
	FrameIntervalMs int `envconfig:"FRAME_INTERVAL_MS" toml:"frame_interval_ms,omitempty"`
	HeadlessWidth   int `envconfig:"HEADLESS_WIDTH" toml:"headless_width,omitempty"`
	HeadlessHeight  int `envconfig:"HEADLESS_HEIGHT" toml:"headless_height,omitempty"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		StartType:       START_REPL,
		LogLevel:        "info",
		SeatName:        "seat0",
		RepeatRate:      25,
		RepeatDelay:     600,
		BufferPoolWarn:  3,
		MoveThreshold:   20,
		FrameIntervalMs: 16,
		HeadlessWidth:   1280,
		HeadlessHeight:  720,
	}
}

// Load reads the config file at path on top of the defaults, then applies
// W2G_* environment overrides.
// If path is empty, the xdg config dirs are searched. Not finding a file there is fine,
// an explicitly given path has to exist
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		found, err := xdg.SearchConfigFile(RelativeConfigPath)
		if err == nil {
			path = found
		} else {
			logrus.WithError(err).Debugln("No config file found, using defaults")
		}
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	logrus.WithField("path", path).Debugln("Loaded config file")
	return nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %v", ErrInvalid, err)
	}
	if c.StartType < START_REPL || c.StartType > START_NONE {
		return fmt.Errorf("%w: start_type %d", ErrInvalid, c.StartType)
	}
	if c.StartType == START_SINGLE_COMMAND && (c.StartCommand == nil || *c.StartCommand == "") {
		return fmt.Errorf("%w: start_type is single command but start_command is empty", ErrInvalid)
	}
	if c.RepeatRate < 0 || c.RepeatDelay < 0 {
		return fmt.Errorf("%w: negative key repeat", ErrInvalid)
	}
	if c.MoveThreshold < 0 {
		return fmt.Errorf("%w: negative move_threshold", ErrInvalid)
	}
	if c.HeadlessWidth <= 0 || c.HeadlessHeight <= 0 || c.FrameIntervalMs <= 0 {
		return fmt.Errorf("%w: headless output needs a size and frame interval", ErrInvalid)
	}
	return nil
}

// Level returns the parsed log level. Only valid after Validate
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.FrameIntervalMs) * time.Millisecond
}

// Keymap returns the content of the keymap file, or "" if none is configured
func (c *Config) Keymap() (string, error) {
	if c.KeymapFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.KeymapFile)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("keymap file %s does not exist", c.KeymapFile)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read keymap: %w", err)
	}
	return string(data), nil
}

// Marshal renders the config as toml, for writing an initial config file
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(*c)
}
