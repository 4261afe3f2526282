// Package treestate persists which tree nodes the user expanded or
// collapsed, so a root reopens the way it was left. Only explicit
// deviations are stored; nodes absent from the state follow the tree's
// collapse-by-default behavior.
package treestate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/vanderheijden86/treeline/pkg/config"
	"github.com/vanderheijden86/treeline/pkg/debug"
	"github.com/vanderheijden86/treeline/pkg/metrics"
)

// Version is bumped when the on-disk format changes incompatibly. Files
// with a different version are discarded rather than migrated.
const Version = 1

// State records per-node expansion, keyed by entry identity.
type State struct {
	Version  int             `json:"version"`
	Expanded map[string]bool `json:"expanded"`

	mu sync.Mutex
}

// New returns an empty state at the current version.
func New() *State {
	return &State{
		Version:  Version,
		Expanded: make(map[string]bool),
	}
}

// Set records an explicit expansion decision for key.
func (s *State) Set(key string, expanded bool) {
	s.mu.Lock()
	s.Expanded[key] = expanded
	s.mu.Unlock()
}

// Get reports the recorded decision for key, and whether one exists.
func (s *State) Get(key string) (expanded, ok bool) {
	s.mu.Lock()
	expanded, ok = s.Expanded[key]
	s.mu.Unlock()
	return expanded, ok
}

// Forget drops the recorded decision for key, usually because the node
// disappeared from the tree.
func (s *State) Forget(key string) {
	s.mu.Lock()
	delete(s.Expanded, key)
	s.mu.Unlock()
}

// Path returns the state file for the named root.
func Path(rootName string) (string, error) {
	dir := config.StateDir()
	if dir == "" {
		return "", errors.New("no state directory available")
	}
	return filepath.Join(dir, sanitize(rootName)+".json"), nil
}

// Load reads the state for the named root. A missing, unreadable or
// incompatible file yields a fresh state, never an error: expansion state
// is a convenience, losing it must not block startup.
func Load(rootName string) *State {
	defer metrics.Timer(metrics.StateLoad)()

	path, err := Path(rootName)
	if err != nil {
		debug.Log("state path for %s: %v", rootName, err)
		return New()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return New()
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		debug.Log("discarding corrupt state %s: %v", path, err)
		return New()
	}
	if s.Version != Version {
		debug.Log("discarding state %s with version %d", path, s.Version)
		return New()
	}
	if s.Expanded == nil {
		s.Expanded = make(map[string]bool)
	}
	return &s
}

// Save writes the state for the named root, creating the state directory
// if needed.
func Save(rootName string, s *State) error {
	defer metrics.Timer(metrics.StateSave)()

	path, err := Path(rootName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	s.mu.Lock()
	data, err := json.MarshalIndent(s, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing state %s: %w", path, err)
	}
	return nil
}

func sanitize(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", string(os.PathSeparator), "_")
	return r.Replace(name)
}
