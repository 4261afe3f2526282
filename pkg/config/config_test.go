package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.UI.Theme != "dark" {
		t.Errorf("expected default theme 'dark', got %q", cfg.UI.Theme)
	}
	if cfg.UI.SplitRatio != 0.6 {
		t.Errorf("expected split ratio 0.6, got %f", cfg.UI.SplitRatio)
	}
	if cfg.UI.IndentWidth != 2 {
		t.Errorf("expected indent width 2, got %d", cfg.UI.IndentWidth)
	}
	if cfg.Watch.DebounceMs != 200 {
		t.Errorf("expected debounce 200ms, got %d", cfg.Watch.DebounceMs)
	}
	if cfg.Favorites == nil {
		t.Error("expected favorites map to be initialized")
	}
}

func TestLoadFrom_NonExistent(t *testing.T) {
	cfg, err := LoadFrom("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.UI.Theme != "dark" {
		t.Errorf("expected default config, got theme %q", cfg.UI.Theme)
	}
}

func TestLoadFrom_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
roots:
  - name: src
    path: ~/src
  - name: db
    path: /data/tree.db
    driver: sqlite

favorites:
  1: src
  2: db

ui:
  theme: light
  split_ratio: 0.5
  show_hidden: true

watch:
  debounce_ms: 500
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Roots) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(cfg.Roots))
	}
	if cfg.Roots[0].Name != "src" {
		t.Errorf("expected root name 'src', got %q", cfg.Roots[0].Name)
	}
	// Path should have ~ expanded
	home, _ := os.UserHomeDir()
	expectedPath := filepath.Join(home, "src")
	if cfg.Roots[0].Path != expectedPath {
		t.Errorf("expected expanded path %q, got %q", expectedPath, cfg.Roots[0].Path)
	}
	if cfg.Roots[1].Path != "/data/tree.db" {
		t.Errorf("expected absolute path preserved, got %q", cfg.Roots[1].Path)
	}
	if cfg.Roots[1].Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %q", cfg.Roots[1].Driver)
	}

	if cfg.Favorites[1] != "src" {
		t.Errorf("expected favorite 1 = 'src', got %q", cfg.Favorites[1])
	}

	if cfg.UI.Theme != "light" {
		t.Errorf("expected theme 'light', got %q", cfg.UI.Theme)
	}
	if cfg.UI.SplitRatio != 0.5 {
		t.Errorf("expected split_ratio 0.5, got %f", cfg.UI.SplitRatio)
	}
	if !cfg.UI.ShowHidden {
		t.Error("expected show_hidden true")
	}
	if cfg.Watch.DebounceMs != 500 {
		t.Errorf("expected debounce_ms 500, got %d", cfg.Watch.DebounceMs)
	}
}

func TestLoadFrom_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadFrom(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Config{
		Roots: []Root{
			{Name: "src", Path: "/path/to/src"},
			{Name: "docs", Path: "/path/to/docs"},
		},
		Favorites: map[int]string{
			1: "src",
			3: "docs",
		},
		UI: UIConfig{
			Theme:      "light",
			SplitRatio: 0.4,
		},
	}

	if err := SaveTo(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("Load after save failed: %v", err)
	}

	if len(loaded.Roots) != 2 {
		t.Errorf("expected 2 roots, got %d", len(loaded.Roots))
	}
	if loaded.Roots[0].Name != "src" {
		t.Errorf("expected 'src', got %q", loaded.Roots[0].Name)
	}
	if loaded.Favorites[1] != "src" {
		t.Errorf("expected favorite 1 = 'src', got %q", loaded.Favorites[1])
	}
	if loaded.Favorites[3] != "docs" {
		t.Errorf("expected favorite 3 = 'docs', got %q", loaded.Favorites[3])
	}
	if loaded.UI.Theme != "light" {
		t.Errorf("expected 'light', got %q", loaded.UI.Theme)
	}
}

func TestFindRoot(t *testing.T) {
	cfg := Config{
		Roots: []Root{
			{Name: "alpha", Path: "/a"},
			{Name: "Beta", Path: "/b"},
		},
	}

	r := cfg.FindRoot("alpha")
	if r == nil || r.Name != "alpha" {
		t.Error("expected to find 'alpha'")
	}

	// Case-insensitive
	r = cfg.FindRoot("BETA")
	if r == nil || r.Name != "Beta" {
		t.Error("expected to find 'Beta' case-insensitively")
	}

	r = cfg.FindRoot("nonexistent")
	if r != nil {
		t.Error("expected nil for nonexistent root")
	}
}

func TestFavoriteRoot(t *testing.T) {
	cfg := Config{
		Roots: []Root{
			{Name: "src", Path: "/src"},
		},
		Favorites: map[int]string{
			1: "src",
		},
	}

	r := cfg.FavoriteRoot(1)
	if r == nil || r.Name != "src" {
		t.Error("expected favorite 1 to return src")
	}

	r = cfg.FavoriteRoot(5)
	if r != nil {
		t.Error("expected nil for unset favorite")
	}
}

func TestSetFavorite(t *testing.T) {
	cfg := Config{Favorites: make(map[int]string)}

	cfg.SetFavorite(1, "src")
	if cfg.Favorites[1] != "src" {
		t.Error("expected favorite 1 set to 'src'")
	}

	// Clear favorite
	cfg.SetFavorite(1, "")
	if _, ok := cfg.Favorites[1]; ok {
		t.Error("expected favorite 1 to be cleared")
	}
}

func TestRootFavoriteNumber(t *testing.T) {
	cfg := Config{
		Favorites: map[int]string{
			2: "src",
			5: "docs",
		},
	}

	if n := cfg.RootFavoriteNumber("src"); n != 2 {
		t.Errorf("expected 2, got %d", n)
	}
	if n := cfg.RootFavoriteNumber("docs"); n != 5 {
		t.Errorf("expected 5, got %d", n)
	}
	if n := cfg.RootFavoriteNumber("unknown"); n != 0 {
		t.Errorf("expected 0 for unknown, got %d", n)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home dir")
	}

	tests := []struct {
		input    string
		expected string
	}{
		{"~/foo", filepath.Join(home, "foo")},
		{"~/", filepath.Join(home, "")},
		{"/absolute", "/absolute"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := expandHome(tt.input)
		if got != tt.expected {
			t.Errorf("expandHome(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestConfigDir_XDGOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	got := ConfigDir()
	expected := filepath.Join(dir, "treeline")
	if got != expected {
		t.Errorf("expected %q, got %q", expected, got)
	}
}

func TestDataDir_XDGOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	got := DataDir()
	expected := filepath.Join(dir, "treeline")
	if got != expected {
		t.Errorf("expected %q, got %q", expected, got)
	}
}

func TestStateDir_XDGOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)

	got := StateDir()
	expected := filepath.Join(dir, "treeline")
	if got != expected {
		t.Errorf("expected %q, got %q", expected, got)
	}
}

func TestLoadFrom_EmptyFavorites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
roots:
  - name: solo
    path: /solo
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Favorites == nil {
		t.Error("expected favorites map to be initialized even when empty in config")
	}
}

func TestExperimentalConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
experimental:
  recursive_expand: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Experimental.RecursiveExpand == nil {
		t.Fatal("expected recursive_expand to be set")
	}
	if !*cfg.Experimental.RecursiveExpand {
		t.Error("expected recursive_expand to be true")
	}
}
