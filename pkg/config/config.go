// Package config handles loading and saving treeline configuration.
//
// Configuration follows the XDG Base Directory specification:
//   - Config:  ~/.config/treeline/config.yaml
//   - Data:    ~/.local/share/treeline/ (themes)
//   - State:   ~/.local/state/treeline/ (saved tree view state)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Root represents a registered tree root in the config. Driver selects the
// children source: "fs" for a directory tree (the default), "sqlite" for an
// adjacency table in a SQLite database.
type Root struct {
	Name   string `yaml:"name"`
	Path   string `yaml:"path"`
	Driver string `yaml:"driver,omitempty"`
}

// UIConfig holds UI preference settings.
type UIConfig struct {
	Theme       string  `yaml:"theme,omitempty"`        // dark, light
	IndentWidth int     `yaml:"indent_width,omitempty"` // Columns per tree depth level (default 2)
	SplitRatio  float64 `yaml:"split_ratio,omitempty"`  // Tree/preview split ratio (0.2-0.8)
	ShowHidden  bool    `yaml:"show_hidden,omitempty"`  // Show dotfiles in fs trees
}

// WatchConfig controls filesystem watching for fs roots.
type WatchConfig struct {
	Disabled   bool `yaml:"disabled,omitempty"`
	DebounceMs int  `yaml:"debounce_ms,omitempty"` // Event debounce window (default 200)
	PollSec    int  `yaml:"poll_sec,omitempty"`    // Poll fallback interval (default 5)
}

// Debounce returns the configured debounce window as a duration.
func (w WatchConfig) Debounce() time.Duration {
	if w.DebounceMs <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(w.DebounceMs) * time.Millisecond
}

// Poll returns the configured poll fallback interval as a duration.
func (w WatchConfig) Poll() time.Duration {
	if w.PollSec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(w.PollSec) * time.Second
}

// ExperimentalConfig holds experimental feature flags.
type ExperimentalConfig struct {
	RecursiveExpand *bool `yaml:"recursive_expand,omitempty"`
}

// RecursiveExpandEnabled reports whether recursive expansion is switched
// on. It defaults to off.
func (e ExperimentalConfig) RecursiveExpandEnabled() bool {
	return e.RecursiveExpand != nil && *e.RecursiveExpand
}

// Config is the top-level configuration for treeline.
type Config struct {
	Roots        []Root             `yaml:"roots,omitempty"`
	Favorites    map[int]string     `yaml:"favorites,omitempty"` // Number key (1-9) -> root name
	UI           UIConfig           `yaml:"ui,omitempty"`
	Watch        WatchConfig        `yaml:"watch,omitempty"`
	Experimental ExperimentalConfig `yaml:"experimental,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Favorites: make(map[int]string),
		UI: UIConfig{
			Theme:       "dark",
			IndentWidth: 2,
			SplitRatio:  0.6,
		},
		Watch: WatchConfig{
			DebounceMs: 200,
			PollSec:    5,
		},
	}
}

// ConfigDir returns the XDG config directory for treeline.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "treeline")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "treeline")
}

// DataDir returns the XDG data directory for treeline.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "treeline")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "treeline")
}

// StateDir returns the XDG state directory for treeline.
func StateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "treeline")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "state", "treeline")
}

// ConfigPath returns the full path to config.yaml.
func ConfigPath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Load reads the config file from the XDG config directory.
// Returns DefaultConfig if the file doesn't exist.
func Load() (Config, error) {
	path := ConfigPath()
	if path == "" {
		return DefaultConfig(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads config from a specific path.
// Returns DefaultConfig if the file doesn't exist.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	// Ensure favorites map is initialized
	if cfg.Favorites == nil {
		cfg.Favorites = make(map[int]string)
	}

	// Expand ~ in root paths
	for i := range cfg.Roots {
		cfg.Roots[i].Path = expandHome(cfg.Roots[i].Path)
	}

	return cfg, nil
}

// Save writes the config to the XDG config directory.
func Save(cfg Config) error {
	path := ConfigPath()
	if path == "" {
		return fmt.Errorf("cannot determine config directory")
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the config to a specific path.
func SaveTo(cfg Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// FindRoot returns the root with the given name, or nil.
func (c Config) FindRoot(name string) *Root {
	for i := range c.Roots {
		if strings.EqualFold(c.Roots[i].Name, name) {
			return &c.Roots[i]
		}
	}
	return nil
}

// FavoriteRoot returns the root assigned to number key n (1-9), or nil.
func (c Config) FavoriteRoot(n int) *Root {
	name, ok := c.Favorites[n]
	if !ok {
		return nil
	}
	return c.FindRoot(name)
}

// SetFavorite assigns a root name to a number key (1-9).
func (c *Config) SetFavorite(n int, rootName string) {
	if c.Favorites == nil {
		c.Favorites = make(map[int]string)
	}
	if rootName == "" {
		delete(c.Favorites, n)
	} else {
		c.Favorites[n] = rootName
	}
}

// RootFavoriteNumber returns the favorite number (1-9) for a root name, or 0 if not favorited.
func (c Config) RootFavoriteNumber(name string) int {
	for n, rname := range c.Favorites {
		if strings.EqualFold(rname, name) {
			return n
		}
	}
	return 0
}

// ResolvedPath returns the root path with ~ expanded.
func (r Root) ResolvedPath() string {
	return expandHome(r.Path)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
