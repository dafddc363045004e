package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// ProjectConfig represents a test project's bench.toml, read from the
// application tree at the commit under test.
type ProjectConfig struct {
	Version string       `toml:"version"`
	Build   BuildConfig  `toml:"build"`
	Server  ServerConfig `toml:"server"`
	Tests   []TestConfig `toml:"test"`
}

// BuildConfig lists the ordered build commands and the artifact they are
// expected to leave under BENCH_OUTPUT_DIR.
type BuildConfig struct {
	Commands [][]string `toml:"commands"`
	Output   string     `toml:"output"`
}

// ServerConfig describes the server process a benchmark runs against.
type ServerConfig struct {
	Command   []string `toml:"command"`
	WarmupSec float64  `toml:"warmup_sec"` // default: 2.0
}

// TestConfig names one benchmark and its ordered load-generator commands.
type TestConfig struct {
	Name string     `toml:"name"`
	Load [][]string `toml:"load"`
}

// DefaultProjectConfig returns a ProjectConfig with default values.
func DefaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: "1.0",
		Server: ServerConfig{
			WarmupSec: 2.0,
		},
	}
}

// ParseProject parses bench.toml contents.
func ParseProject(data []byte) (ProjectConfig, error) {
	cfg := DefaultProjectConfig()

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return cfg, fmt.Errorf("parsing bench.toml: %w", err)
	}

	if len(cfg.Build.Commands) == 0 {
		return cfg, fmt.Errorf("bench.toml: build.commands must list at least one command")
	}
	if cfg.Build.Output == "" {
		return cfg, fmt.Errorf("bench.toml: build.output is required")
	}
	if len(cfg.Server.Command) == 0 {
		return cfg, fmt.Errorf("bench.toml: server.command is required")
	}

	return cfg, nil
}

// Test returns the named test entry, or false when the project does not
// define it.
func (p ProjectConfig) Test(name string) (TestConfig, bool) {
	for _, t := range p.Tests {
		if t.Name == name {
			return t, true
		}
	}
	return TestConfig{}, false
}
