// Package config handles pbipkit configuration.
//
// Settings come from the global file (~/.config/pbipkit/config.toml) and
// are overlaid by the project's own .pbipkit/config.toml. Keys set in the
// project file win; reserved_words from both files are combined.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the config file name in both locations.
const FileName = "config.toml"

// Config represents the effective pbipkit configuration.
type Config struct {
	// BackupDir is where rename backups go. Relative paths are resolved
	// against the project root. Empty means .pbipkit/backups.
	BackupDir string `toml:"backup_dir" json:"backup_dir"`

	// Workers bounds parallel parsing and rewriting. Zero means GOMAXPROCS.
	Workers int `toml:"workers" json:"workers"`

	// MaxErrors is the bounded validation budget. Zero means the default.
	MaxErrors int `toml:"max_errors" json:"max_errors"`

	// ReservedWords extends the built-in DAX reserved word list.
	ReservedWords []string `toml:"reserved_words" json:"reserved_words"`

	// UI controls optional CLI theming preferences.
	UI UIConfig `toml:"ui" json:"ui"`
}

// UIConfig represents optional CLI theming preferences.
type UIConfig struct {
	// Accent is an optional accent color for CLI output and markdown rendering.
	// Supported values are ANSI color codes ("0" to "255") or hex colors ("#RRGGBB").
	Accent string `toml:"accent" json:"accent"`

	// CodeTheme sets the Glamour/Chroma theme used for rename previews.
	CodeTheme string `toml:"code_theme" json:"code_theme"`
}

// Load reads the global config and overlays the project config of root.
// A missing global file is fine unless globalPath was given explicitly.
func Load(globalPath, root string) (*Config, error) {
	explicit := strings.TrimSpace(globalPath) != ""
	if !explicit {
		globalPath = DefaultPath()
	}

	cfg := &Config{}
	if _, err := os.Stat(globalPath); err == nil || explicit {
		if err := cfg.overlay(globalPath); err != nil {
			return nil, err
		}
	}

	if root != "" {
		projectPath := ProjectPath(root)
		if _, err := os.Stat(projectPath); err == nil {
			if err := cfg.overlay(projectPath); err != nil {
				return nil, err
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFrom loads the configuration from a specific path.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{}
	if err := cfg.overlay(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlay decodes path and copies every key it defines onto c.
func (c *Config) overlay(path string) error {
	var file Config
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if meta.IsDefined("backup_dir") {
		c.BackupDir = file.BackupDir
	}
	if meta.IsDefined("workers") {
		c.Workers = file.Workers
	}
	if meta.IsDefined("max_errors") {
		c.MaxErrors = file.MaxErrors
	}
	c.ReservedWords = append(c.ReservedWords, file.ReservedWords...)
	if meta.IsDefined("ui", "accent") {
		c.UI.Accent = file.UI.Accent
	}
	if meta.IsDefined("ui", "code_theme") {
		c.UI.CodeTheme = file.UI.CodeTheme
	}
	return nil
}

// Validate rejects values no component can honor.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.MaxErrors < 0 {
		errs = append(errs, fmt.Errorf("max_errors must not be negative, got %d", c.MaxErrors))
	}
	for _, w := range c.ReservedWords {
		if strings.TrimSpace(w) == "" {
			errs = append(errs, errors.New("reserved_words must not contain empty entries"))
			break
		}
	}
	return errors.Join(errs...)
}

// BackupPath resolves BackupDir against root. It returns "" when no backup
// directory is configured.
func (c *Config) BackupPath(root string) string {
	dir := strings.TrimSpace(c.BackupDir)
	if dir == "" {
		return ""
	}
	if strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, dir[2:])
		}
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(root, filepath.FromSlash(dir))
}

// ProjectPath returns the project config path of root.
func ProjectPath(root string) string {
	return filepath.Join(root, ".pbipkit", FileName)
}

// DefaultPath returns the global config file path.
// Checks ~/.config/pbipkit/config.toml first (XDG style),
// then falls back to OS-specific location.
func DefaultPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		xdgPath := filepath.Join(home, ".config", "pbipkit", FileName)
		if _, err := os.Stat(xdgPath); err == nil {
			return xdgPath
		}
	}

	if configDir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(configDir, "pbipkit", FileName)
	}

	return filepath.Join(".", FileName)
}

const defaultConfig = `# pbipkit configuration
#
# Settings in <project>/.pbipkit/config.toml override the global file
# (~/.config/pbipkit/config.toml). reserved_words from both are combined.

# Where rename backups are written. Relative to the project root.
# backup_dir = ".pbipkit/backups"

# Parallel workers for parsing and rewriting (0 = number of CPUs).
# workers = 0

# Findings reported by a bounded validate run.
# max_errors = 50

# Extra names that must always be quoted in DAX.
# reserved_words = ["FISCAL", "PERIOD"]

# Optional UI accent color for headers in terminal output.
# Supports ANSI color codes (0-255) or hex (#RRGGBB).
# [ui]
# accent = "39"
# code_theme = "monokai"
`

// CreateDefault writes a commented default config to path unless a file
// already exists there. It returns true when a file was written.
func CreateDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}
	return true, nil
}
