// Package config handles the TOML configuration file.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"dotkeep/internal/keep"
)

// Config represents the main configuration for dotkeep.
type Config struct {
	DataDir    string           `toml:"data_dir,omitempty"`
	GitEnabled bool             `toml:"git_enabled"`
	BackupMode string           `toml:"backup_mode"`
	Tracked    []TrackedPattern `toml:"tracked"`
	Exclude    []string         `toml:"exclude"`
}

// TrackedPattern is one tracked glob with an optional per-pattern backup
// mode override. In TOML it may be written either as a bare string or as
// a table with pattern and mode keys.
type TrackedPattern struct {
	Pattern string
	Mode    string
}

// UnmarshalTOML accepts both the string and the table form.
func (t *TrackedPattern) UnmarshalTOML(v any) error {
	switch val := v.(type) {
	case string:
		t.Pattern = val
		return nil
	case map[string]any:
		pattern, ok := val["pattern"].(string)
		if !ok || pattern == "" {
			return fmt.Errorf("tracked entry is missing a pattern")
		}
		t.Pattern = pattern
		if mode, ok := val["mode"].(string); ok {
			t.Mode = mode
		}
		return nil
	}
	return fmt.Errorf("tracked entry must be a string or a table, got %T", v)
}

// NewConfig creates a Config with sensible defaults for a new workspace.
func NewConfig() *Config {
	return &Config{
		GitEnabled: true,
		BackupMode: string(keep.ModeIncremental),
		Tracked: []TrackedPattern{
			{Pattern: "~/.bashrc"},
			{Pattern: "~/.zshrc"},
			{Pattern: "~/.gitconfig"},
			{Pattern: "~/.config/dotkeep/*"},
		},
		Exclude: []string{
			"**/*.log",
			"**/.DS_Store",
			"**/node_modules/**",
		},
	}
}

// Validate checks the config for problems that would break every
// subsequent operation.
func (c *Config) Validate() error {
	if _, err := keep.ParseBackupMode(c.BackupMode); c.BackupMode != "" && err != nil {
		return fmt.Errorf("backup_mode: %w", err)
	}
	for _, t := range c.Tracked {
		if t.Pattern == "" {
			return fmt.Errorf("tracked entry has an empty pattern")
		}
		if t.Mode != "" {
			if _, err := keep.ParseBackupMode(t.Mode); err != nil {
				return fmt.Errorf("tracked %q: %w", t.Pattern, err)
			}
		}
	}
	return nil
}

// DefaultMode returns the workspace-wide backup mode, incremental when
// unset.
func (c *Config) DefaultMode() keep.BackupMode {
	if c.BackupMode == "" {
		return keep.ModeIncremental
	}
	mode, err := keep.ParseBackupMode(c.BackupMode)
	if err != nil {
		return keep.ModeIncremental
	}
	return mode
}

// Patterns converts the tracked entries to resolved patterns.
func (c *Config) Patterns() []keep.Pattern {
	patterns := make([]keep.Pattern, 0, len(c.Tracked))
	for _, t := range c.Tracked {
		p := keep.Pattern{Glob: t.Pattern}
		if t.Mode != "" {
			if mode, err := keep.ParseBackupMode(t.Mode); err == nil {
				p.Mode = mode
			}
		}
		patterns = append(patterns, p)
	}
	return patterns
}

// Track appends a pattern unless it is already tracked. Reports whether
// the pattern was added.
func (c *Config) Track(pattern, mode string) bool {
	for _, t := range c.Tracked {
		if t.Pattern == pattern {
			return false
		}
	}
	c.Tracked = append(c.Tracked, TrackedPattern{Pattern: pattern, Mode: mode})
	return true
}

// Untrack removes a pattern. Reports whether the pattern was present.
func (c *Config) Untrack(pattern string) bool {
	for i, t := range c.Tracked {
		if t.Pattern == pattern {
			c.Tracked = append(c.Tracked[:i], c.Tracked[i+1:]...)
			return true
		}
	}
	return false
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer. Tracked entries are
// always emitted in the table form so that per-pattern modes survive a
// read-modify-write cycle.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	type trackedTable struct {
		Pattern string `toml:"pattern"`
		Mode    string `toml:"mode,omitempty"`
	}
	type fileConfig struct {
		DataDir    string         `toml:"data_dir,omitempty"`
		GitEnabled bool           `toml:"git_enabled"`
		BackupMode string         `toml:"backup_mode"`
		Exclude    []string       `toml:"exclude"`
		Tracked    []trackedTable `toml:"tracked"`
	}
	out := fileConfig{
		DataDir:    cfg.DataDir,
		GitEnabled: cfg.GitEnabled,
		BackupMode: cfg.BackupMode,
		Exclude:    cfg.Exclude,
	}
	for _, t := range cfg.Tracked {
		out.Tracked = append(out.Tracked, trackedTable{Pattern: t.Pattern, Mode: t.Mode})
	}
	if err := toml.NewEncoder(w).Encode(out); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// WriteToFile writes a Config to the specified file path.
func WriteToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the
// provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := WriteToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
