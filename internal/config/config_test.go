package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("Expected default log level %s, got %s", DefaultLogLevel, cfg.LogLevel)
	}
	if cfg.Sandbox.NamePrefix != DefaultSandboxNamePrefix {
		t.Errorf("Expected default name prefix %s, got %s", DefaultSandboxNamePrefix, cfg.Sandbox.NamePrefix)
	}
	if cfg.Sandbox.BaseDir == "" {
		t.Error("Expected sandbox base dir to default to the system temp dir")
	}
	if cfg.Datastore.PoolSize != DefaultDatastorePoolSize {
		t.Errorf("Expected default pool size %d, got %d", DefaultDatastorePoolSize, cfg.Datastore.PoolSize)
	}
	if cfg.Readiness.MarkerPrefix != DefaultReadinessMarkerPrefix {
		t.Errorf("Expected default marker prefix %s, got %s", DefaultReadinessMarkerPrefix, cfg.Readiness.MarkerPrefix)
	}
	if len(cfg.Services.Commands) != 6 {
		t.Fatalf("Expected 6 default service commands, got %d", len(cfg.Services.Commands))
	}
	for name, command := range DefaultServiceCommands() {
		if cfg.Services.Commands[name] != command {
			t.Errorf("Expected command %q for %s, got %q", command, name, cfg.Services.Commands[name])
		}
	}
	if len(cfg.Tools) == 0 {
		t.Error("Expected default prerequisite tools")
	}
	if cfg.Tests.Command != DefaultTestsCommand {
		t.Errorf("Expected default tests command %s, got %s", DefaultTestsCommand, cfg.Tests.Command)
	}
}

func TestLoadWithConfigFlag(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := []byte(`
log_level: debug
readiness:
  marker_prefix: custom
  timeout: 90s
services:
  commands:
    api: ./bin/api serve
`)
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "config file path")
	if err := cmd.Flags().Set("config", configPath); err != nil {
		t.Fatalf("failed to set config flag: %v", err)
	}

	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("failed to load config with --config: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level debug, got %s", cfg.LogLevel)
	}
	if cfg.Readiness.MarkerPrefix != "custom" {
		t.Fatalf("expected marker prefix custom, got %s", cfg.Readiness.MarkerPrefix)
	}
	if cfg.Services.Commands["api"] != "./bin/api serve" {
		t.Fatalf("expected overridden api command, got %q", cfg.Services.Commands["api"])
	}
	if cfg.Services.Commands["worker"] != DefaultServiceCommands()["worker"] {
		t.Fatalf("expected default worker command to survive the merge, got %q", cfg.Services.Commands["worker"])
	}
	timeout, err := cfg.Readiness.TimeoutDuration()
	if err != nil {
		t.Fatalf("TimeoutDuration() error = %v", err)
	}
	if timeout != 90*time.Second {
		t.Fatalf("expected timeout 90s, got %v", timeout)
	}
}

func TestLoadWithMissingConfigFlagReturnsError(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "config file path")
	if err := cmd.Flags().Set("config", filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		t.Fatalf("failed to set config flag: %v", err)
	}

	if _, err := Load(cmd); err == nil {
		t.Fatal("expected error when --config points to missing file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TESTBED_LOG_LEVEL", "warn")
	t.Setenv("TESTBED_READINESS__POLL_INTERVAL", "250ms")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("expected log level warn from env, got %s", cfg.LogLevel)
	}
	interval, err := cfg.Readiness.PollIntervalDuration()
	if err != nil {
		t.Fatalf("PollIntervalDuration() error = %v", err)
	}
	if interval != 250*time.Millisecond {
		t.Errorf("expected poll interval 250ms, got %v", interval)
	}
}

func TestLoadFlagOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "config file path")
	cmd.Flags().String("log_level", DefaultLogLevel, "log level")
	if err := cmd.Flags().Set("log_level", "error"); err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}

	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("expected log level error from flag, got %s", cfg.LogLevel)
	}
}

func TestLoad_ExpandsConfiguredPaths(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	configPath := filepath.Join(tmpDir, "config.yaml")
	content := []byte(`
sandbox:
  base_dir: ~/sandboxes
tests:
  dir: ~/builder/test/builder-api
`)
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "config file path")
	if err := cmd.Flags().Set("config", configPath); err != nil {
		t.Fatalf("set config flag: %v", err)
	}

	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if want := filepath.Join(tmpDir, "sandboxes"); cfg.Sandbox.BaseDir != want {
		t.Errorf("sandbox.base_dir = %q, want %q", cfg.Sandbox.BaseDir, want)
	}
	if want := filepath.Join(tmpDir, "builder", "test", "builder-api"); cfg.Tests.Dir != want {
		t.Errorf("tests.dir = %q, want %q", cfg.Tests.Dir, want)
	}
}

func TestDurationOrDefault(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		fallback string
		want     time.Duration
		wantErr  bool
	}{
		{name: "explicit value", value: "2s", fallback: "1s", want: 2 * time.Second},
		{name: "empty uses fallback", value: "", fallback: "1s", want: time.Second},
		{name: "both empty", value: " ", fallback: "", wantErr: true},
		{name: "invalid", value: "soon", fallback: "1s", wantErr: true},
		{name: "negative", value: "-1s", fallback: "1s", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DurationOrDefault(tt.value, tt.fallback)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DurationOrDefault() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Fatalf("DurationOrDefault() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadinessPollIntervalMustBePositive(t *testing.T) {
	if _, err := (ReadinessConfig{PollInterval: "0s"}).PollIntervalDuration(); err == nil {
		t.Fatal("expected error for zero poll interval")
	}
}
