package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the parsed bench.yaml configuration.
type Config struct {
	InstanceID  string            `yaml:"instance_id" json:"instance_id"`
	StoreDir    string            `yaml:"store_dir" json:"store_dir"`
	WorkDir     string            `yaml:"work_dir" json:"work_dir"`
	MaxRuns     int               `yaml:"max_runs" json:"max_runs"`
	SkipFetch   bool              `yaml:"skip_fetch" json:"skip_fetch"`
	LogLevel    string            `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	Toolchain   ToolchainConfig   `yaml:"toolchain" json:"toolchain"`
	Framework   FrameworkConfig   `yaml:"framework" json:"framework"`
	Application ApplicationConfig `yaml:"application" json:"application"`
	Matrix      []MatrixSpec      `yaml:"matrix" json:"matrix"`
}

// ToolchainConfig describes the command whose output fingerprints the
// toolchain. The captured bytes are compared byte-for-byte on every stage.
type ToolchainConfig struct {
	Program string   `yaml:"program" json:"program"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`
}

// FrameworkConfig describes the framework repository and how to build it.
type FrameworkConfig struct {
	Remote string     `yaml:"remote" json:"remote"`
	Dir    string     `yaml:"dir,omitempty" json:"dir,omitempty"`
	Build  [][]string `yaml:"build" json:"build"`
	Output string     `yaml:"output" json:"output"`
}

// ApplicationConfig describes the test-application repository. Per-project
// build and benchmark commands live in each project's bench.toml inside it.
type ApplicationConfig struct {
	Remote string `yaml:"remote" json:"remote"`
	Dir    string `yaml:"dir,omitempty" json:"dir,omitempty"`
}

// MatrixSpec pairs a framework commit range with an application revision and
// a set of test names. Every retained framework commit is crossed with every
// test name.
type MatrixSpec struct {
	FrameworkBranch   string   `yaml:"framework_branch" json:"framework_branch"`
	Start             string   `yaml:"start,omitempty" json:"start,omitempty"`
	End               string   `yaml:"end" json:"end"`
	ApplicationBranch string   `yaml:"application_branch" json:"application_branch"`
	ApplicationRev    string   `yaml:"application_rev" json:"application_rev"`
	Application       string   `yaml:"application" json:"application"`
	Tests             []string `yaml:"tests" json:"tests"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		StoreDir: "store",
		WorkDir:  "work",
		Toolchain: ToolchainConfig{
			Program: "go",
			Args:    []string{"version"},
		},
	}
}

// Load loads and parses a bench.yaml file.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	// Apply defaults for missing values
	if cfg.StoreDir == "" {
		cfg.StoreDir = "store"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "work"
	}
	if cfg.Toolchain.Program == "" {
		cfg.Toolchain.Program = "go"
		cfg.Toolchain.Args = []string{"version"}
	}
	for i := range cfg.Matrix {
		if cfg.Matrix[i].End == "" {
			cfg.Matrix[i].End = "HEAD"
		}
		if cfg.Matrix[i].ApplicationRev == "" {
			cfg.Matrix[i].ApplicationRev = "HEAD"
		}
		if cfg.Matrix[i].ApplicationBranch == "" {
			cfg.Matrix[i].ApplicationBranch = cfg.Matrix[i].FrameworkBranch
		}
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if c.Framework.Remote == "" {
		return fmt.Errorf("framework.remote is required")
	}
	if c.Framework.Output == "" {
		return fmt.Errorf("framework.output is required")
	}
	if len(c.Framework.Build) == 0 {
		return fmt.Errorf("framework.build must list at least one command")
	}
	if c.Application.Remote == "" {
		return fmt.Errorf("application.remote is required")
	}
	for i, spec := range c.Matrix {
		if spec.FrameworkBranch == "" {
			return fmt.Errorf("matrix[%d]: framework_branch is required", i)
		}
		if spec.Application == "" {
			return fmt.Errorf("matrix[%d]: application is required", i)
		}
		if len(spec.Tests) == 0 {
			return fmt.Errorf("matrix[%d]: must list at least one test", i)
		}
	}
	return nil
}

// FrameworkDir returns the framework checkout directory.
func (c Config) FrameworkDir() string {
	if c.Framework.Dir != "" {
		return c.Framework.Dir
	}
	return filepath.Join(c.WorkDir, "framework")
}

// ApplicationDir returns the test-application checkout directory.
func (c Config) ApplicationDir() string {
	if c.Application.Dir != "" {
		return c.Application.Dir
	}
	return filepath.Join(c.WorkDir, "application")
}

// FrameworkOutput returns the expected framework build artifact path.
func (c Config) FrameworkOutput() string {
	return filepath.Join(c.FrameworkDir(), c.Framework.Output)
}

// BuildDir returns the artifact directory handed to a project's build and
// server commands through BENCH_OUTPUT_DIR.
func (c Config) BuildDir(project string) string {
	return filepath.Join(c.WorkDir, "builds", project)
}
