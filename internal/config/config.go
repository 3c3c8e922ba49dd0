package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Engine EngineRuntimeConfig `toml:"engine"`
	Raw    map[string]any      `toml:"-"`
	Path   string              `toml:"-"`
}

type EngineRuntimeConfig struct {
	Addr                 string `toml:"addr"`
	DBPath               string `toml:"db_path"`
	ScenarioPath         string `toml:"scenario_path"`
	RoundDurationMinutes int    `toml:"round_duration_minutes"`
	PollIntervalMS       int    `toml:"poll_interval_ms"`
	EventBufferSize      int    `toml:"event_buffer_size"`
}

// Load reads the range configuration. An empty path resolves to the default
// location under the user's home directory; a missing file at the default
// location is not an error and yields a zero config.
func Load(path string) (Config, error) {
	resolved := path
	useDefault := resolved == ""
	if useDefault {
		resolved = defaultConfigPath()
	}
	if strings.HasPrefix(resolved, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed := strings.TrimPrefix(resolved, "~")
		trimmed = strings.TrimPrefix(trimmed, "\\")
		trimmed = strings.TrimPrefix(trimmed, "/")
		resolved = filepath.Join(home, trimmed)
	}
	resolved = filepath.Clean(resolved)

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		if useDefault && errors.Is(err, fs.ErrNotExist) {
			return Config{Path: resolved}, nil
		}
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(bytes), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	var raw map[string]any
	if _, err := toml.Decode(string(bytes), &raw); err != nil {
		return Config{}, fmt.Errorf("decode raw config: %w", err)
	}
	cfg.Raw = raw
	cfg.Path = resolved
	return cfg, nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cyber_range/config.toml"
	}
	return filepath.Join(home, ".cyber_range", "config.toml")
}
