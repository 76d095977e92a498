// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/creachadair/rxctl/internal/config"
	"github.com/google/go-cmp/cmp"
)

func TestDefault(t *testing.T) {
	if err := config.Default().Validate(); err != nil {
		t.Errorf("Default is not valid: %v", err)
	}
}

func TestParse(t *testing.T) {
	cfg, err := config.Parse([]byte(`
address: ws://radio.local:8080/rx
websocket: true
stall_ceiling: 5s
resubscribe_max: 1m
log:
  level: debug
  file: /tmp/rxctl.log
`))
	if err != nil {
		t.Fatalf("Parse: unexpected error: %v", err)
	}
	want := config.Default()
	want.Address = "ws://radio.local:8080/rx"
	want.WebSocket = true
	want.StallCeiling = 5 * time.Second
	want.ResubscribeMax = time.Minute
	want.Log.Level = "debug"
	want.Log.File = "/tmp/rxctl.log"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Parse (-want, +got):\n%s", diff)
	}

	opts := cfg.DialOptions(nil)
	if opts.StallCeiling != 5*time.Second || opts.CallTimeout != 10*time.Second {
		t.Errorf("DialOptions: got %+v", opts)
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := config.Parse(nil)
	if err != nil {
		t.Fatalf("Parse: unexpected error: %v", err)
	}
	if diff := cmp.Diff(config.Default(), cfg); diff != "" {
		t.Errorf("Parse (-want, +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"nonesuch: 1", "not found"},
		{"address: ''", "address is empty"},
		{"stall_ceiling: -1s", "stall_ceiling must be positive"},
		{"call_timeout: soon", "parsing config"},
		{"resubscribe_min: 1m\nresubscribe_max: 1s", "below resubscribe_min"},
		{"log: {level: loud}", "log level"},
		{"log: {max_size: -3}", "max_size"},
	}
	for _, tc := range tests {
		_, err := config.Parse([]byte(tc.input))
		if err == nil {
			t.Errorf("Parse(%q): got nil, want error", tc.input)
		} else if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("Parse(%q): got %v, want %q", tc.input, err, tc.want)
		}
	}
}

func TestLoadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rxctl.yaml")
	cfg := config.Default()
	cfg.Address = "/run/rxctl.sock"
	cfg.PollInterval = 100 * time.Millisecond

	var buf bytes.Buffer
	if err := cfg.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: unexpected error: %v", err)
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("Load (-want, +got):\n%s", diff)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing): got nil, want error")
	}
}

func TestLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rxctl.log")
	log, closeLog, err := config.Log{Level: "warn", File: path, MaxSize: 1}.Logger()
	if err != nil {
		t.Fatalf("Logger: %v", err)
	}
	log.Info("hidden")
	log.Warn("shown", "freq", 7074000)
	if err := closeLog(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if s := string(data); strings.Contains(s, "hidden") || !strings.Contains(s, "msg=shown freq=7074000") {
		t.Errorf("Log file: got %q", s)
	}
}
