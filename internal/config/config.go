// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package config defines the settings file of the rxctl command.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/creachadair/rxctl"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

// Config is the contents of a settings file. Durations are written as
// strings accepted by time.ParseDuration, such as "250ms".
type Config struct {
	// Address is the server address, as host:port, a Unix socket path, or a
	// ws:// URL.
	Address string `yaml:"address"`

	// If set, serve and accept websocket connections at Address.
	WebSocket bool `yaml:"websocket,omitempty"`

	StallCeiling   time.Duration `yaml:"stall_ceiling"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	ResubscribeMin time.Duration `yaml:"resubscribe_min"`
	ResubscribeMax time.Duration `yaml:"resubscribe_max"`

	Log Log `yaml:"log"`
}

// Log configures diagnostic logging.
type Log struct {
	Level   string `yaml:"level"`             // debug, info, warn, or error
	File    string `yaml:"file,omitempty"`    // if empty, log to stderr
	MaxSize int    `yaml:"max_size,omitempty"` // megabytes before a log file rotates
	Packets bool   `yaml:"packets,omitempty"` // log every packet at debug level
}

// Default returns the default settings.
func Default() *Config {
	return &Config{
		Address:        "localhost:7356",
		StallCeiling:   2 * time.Second,
		PollInterval:   250 * time.Millisecond,
		CallTimeout:    10 * time.Second,
		ResubscribeMin: 250 * time.Millisecond,
		ResubscribeMax: 30 * time.Second,
		Log:            Log{Level: "info", MaxSize: 10},
	}
}

// Load reads the settings file at path. Fields the file does not set keep
// their default values. Unknown fields are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// Parse parses and validates settings from data.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports an error if c is not usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Address == "" {
		errs = append(errs, errors.New("address is empty"))
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"stall_ceiling", c.StallCeiling},
		{"poll_interval", c.PollInterval},
		{"call_timeout", c.CallTimeout},
		{"resubscribe_min", c.ResubscribeMin},
		{"resubscribe_max", c.ResubscribeMax},
	} {
		if d.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", d.name, d.v))
		}
	}
	if c.ResubscribeMax < c.ResubscribeMin {
		errs = append(errs, fmt.Errorf("resubscribe_max %v is below resubscribe_min %v",
			c.ResubscribeMax, c.ResubscribeMin))
	}
	if _, err := c.Log.level(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("log max_size must not be negative, got %d", c.Log.MaxSize))
	}
	return errors.Join(errs...)
}

// Write encodes c as YAML to w.
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}

func (l Log) level() (slog.Level, error) {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return lv, nil
}

// Logger returns a text logger configured by l, and a function to close its
// output. A log file is rotated when it reaches MaxSize megabytes.
func (l Log) Logger() (*slog.Logger, func() error, error) {
	lv, err := l.level()
	if err != nil {
		return nil, nil, err
	}
	var out io.Writer = os.Stderr
	closer := func() error { return nil }
	if l.File != "" {
		lj := &lumberjack.Logger{Filename: l.File, MaxSize: l.MaxSize, MaxBackups: 3}
		out, closer = lj, lj.Close
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: lv})), closer, nil
}

// DialOptions returns receiver connection settings from c, logging to log.
func (c *Config) DialOptions(log *slog.Logger) *rxctl.DialOptions {
	return &rxctl.DialOptions{
		Options: rxctl.Options{
			StallCeiling:   c.StallCeiling,
			PollInterval:   c.PollInterval,
			ResubscribeMin: c.ResubscribeMin,
			ResubscribeMax: c.ResubscribeMax,
			Logger:         log,
		},
		CallTimeout: c.CallTimeout,
		LogPackets:  c.Log.Packets,
	}
}
