// Package config loads detbox.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"

	"github.com/detbox-dev/detbox/internal/analysis"
	"github.com/detbox-dev/detbox/internal/execution"
)

// FileName is looked up in the working directory when no path is given.
const FileName = "detbox.toml"

// Config is the parsed detbox.toml.
//
//	prefix = "sandbox/"
//	visible = ["com/example/**"]
//	hidden = ["com/example/internal/**"]
//	min_version = "45.0"
//	max_version = "61.0"
//	tracing = true
//	profile = "tight"
//
//	[profiles.tight]
//	invocations = 10000
//
//	[log]
//	level = "debug"
//	format = "json"
type Config struct {
	Prefix     string   `toml:"prefix"`
	Visible    []string `toml:"visible"`
	Hidden     []string `toml:"hidden"`
	MinVersion string   `toml:"min_version"`
	MaxVersion string   `toml:"max_version"`
	Tracing    bool     `toml:"tracing"`
	Profile    string   `toml:"profile"`

	Profiles map[string]ProfileConfig `toml:"profiles"`
	Log      LogConfig                `toml:"log"`
}

// ProfileConfig overrides thresholds of the default execution profile.
// Unset thresholds keep their default; zero is a valid threshold.
type ProfileConfig struct {
	Allocations *int64 `toml:"allocations"`
	Invocations *int64 `toml:"invocations"`
	Jumps       *int64 `toml:"jumps"`
	Throws      *int64 `toml:"throws"`
}

// LogConfig selects the log level and encoding.
type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // console, json
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Prefix:     analysis.DefaultPrefix,
		MinVersion: "45.0",
		MaxVersion: "61.0",
		Tracing:    true,
		Profile:    execution.DefaultProfile.Name,
		Log:        LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads a config file over the defaults. An empty path means
// FileName in the working directory, which may be absent.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = FileName
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("load %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks versions and the selected profile.
func (c *Config) Validate() error {
	lo, err := semver.NewVersion(c.MinVersion)
	if err != nil {
		return fmt.Errorf("min_version %q: %w", c.MinVersion, err)
	}
	hi, err := semver.NewVersion(c.MaxVersion)
	if err != nil {
		return fmt.Errorf("max_version %q: %w", c.MaxVersion, err)
	}
	if hi.LessThan(lo) {
		return fmt.Errorf("max_version %s is below min_version %s", c.MaxVersion, c.MinVersion)
	}
	if _, err := c.ExecutionProfile(); err != nil {
		return err
	}
	return nil
}

// SupportedVersions renders the version range as a semver constraint.
func (c *Config) SupportedVersions() string {
	return fmt.Sprintf(">= %s, <= %s", c.MinVersion, c.MaxVersion)
}

// AnalysisOptions builds root analysis options over sources.
func (c *Config) AnalysisOptions(sources ...analysis.Source) analysis.Options {
	return analysis.Options{
		Prefix:            c.Prefix,
		Visible:           c.Visible,
		Hidden:            c.Hidden,
		SupportedVersions: c.SupportedVersions(),
		Sources:           sources,
	}
}

// CustomProfiles returns the profiles defined in the file, sorted by name.
func (c *Config) CustomProfiles() []execution.Profile {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	profiles := make([]execution.Profile, 0, len(names))
	for _, name := range names {
		pc := c.Profiles[name]
		p := execution.DefaultProfile
		p.Name = name
		if pc.Allocations != nil {
			p.AllocationCostThreshold = *pc.Allocations
		}
		if pc.Invocations != nil {
			p.InvocationCostThreshold = *pc.Invocations
		}
		if pc.Jumps != nil {
			p.JumpCostThreshold = *pc.Jumps
		}
		if pc.Throws != nil {
			p.ThrowCostThreshold = *pc.Throws
		}
		profiles = append(profiles, p)
	}
	return profiles
}

// ExecutionProfile resolves the selected profile by name.
func (c *Config) ExecutionProfile() (execution.Profile, error) {
	return c.ProfileNamed(c.Profile)
}

// ProfileNamed resolves a built-in or file-defined profile.
func (c *Config) ProfileNamed(name string) (execution.Profile, error) {
	p, err := execution.ProfileByName(name, c.CustomProfiles()...)
	if err != nil {
		return execution.Profile{}, err
	}
	if err := p.Validate(); err != nil {
		return execution.Profile{}, err
	}
	return p, nil
}
