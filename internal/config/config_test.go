package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEngineSection(t *testing.T) {
	content := `
[engine]
addr = ":9000"
db_path = "/tmp/range.db"
scenario_path = "scenario.toml"
round_duration_minutes = 45
poll_interval_ms = 2000
event_buffer_size = 128
`
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Engine.Addr != ":9000" {
		t.Fatalf("addr=%s want=:9000", cfg.Engine.Addr)
	}
	if cfg.Engine.DBPath != "/tmp/range.db" || cfg.Engine.ScenarioPath != "scenario.toml" {
		t.Fatalf("paths=%+v", cfg.Engine)
	}
	if cfg.Engine.RoundDurationMinutes != 45 || cfg.Engine.PollIntervalMS != 2000 || cfg.Engine.EventBufferSize != 128 {
		t.Fatalf("runtime values=%+v", cfg.Engine)
	}
	if cfg.Path != path {
		t.Fatalf("path=%s want=%s", cfg.Path, path)
	}
	if _, ok := cfg.Raw["engine"]; !ok {
		t.Fatalf("raw config missing engine table: %v", cfg.Raw)
	}
}

func TestLoadMissingExplicitPathFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for explicit missing config path")
	}
}

func TestLoadMalformedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[engine\naddr = 1"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected decode error")
	}
}
