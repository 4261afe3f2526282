package datasource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vanderheijden86/treeline/pkg/debug"
)

// FSProvider serves directory listings as tree children. Directories sort
// before files, both alphabetically, matching what a file manager shows.
//
// The provider remembers the modification time it saw for every directory
// it listed and uses that to answer ShouldRefreshChildren, so re-expanding
// a directory only hits the disk when the directory actually changed.
type FSProvider struct {
	root       string
	showHidden bool

	mu     sync.Mutex
	mtimes map[string]time.Time
}

// FSOption configures an FSProvider.
type FSOption func(*FSProvider)

// WithShowHidden includes dot-prefixed entries in listings.
func WithShowHidden(show bool) FSOption {
	return func(p *FSProvider) {
		p.showHidden = show
	}
}

// NewFSProvider creates a provider rooted at dir. dir must exist and be a
// directory.
func NewFSProvider(dir string, opts ...FSOption) (*FSProvider, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving root %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}
	p := &FSProvider{
		root:   abs,
		mtimes: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Root returns the entry for the provider's root directory.
func (p *FSProvider) Root() Entry {
	info, err := os.Stat(p.root)
	e := Entry{ID: p.root, Name: filepath.Base(p.root), IsBranch: true}
	if err == nil {
		e.ModTime = info.ModTime()
	}
	return e
}

// HasChildren reports whether the entry is a directory. Directories are
// treated as expandable without listing them first; an empty directory
// simply yields no children when fetched.
func (p *FSProvider) HasChildren(e Entry) bool { return e.IsBranch }

// GetChildren lists the directory behind e.
func (p *FSProvider) GetChildren(ctx context.Context, e Entry) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, statErr := os.Stat(e.ID)
	entries, err := os.ReadDir(e.ID)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", e.ID, err)
	}

	out := make([]Entry, 0, len(entries))
	for _, de := range entries {
		name := de.Name()
		if !p.showHidden && strings.HasPrefix(name, ".") {
			continue
		}
		child := Entry{
			ID:       filepath.Join(e.ID, name),
			Name:     name,
			IsBranch: de.IsDir(),
		}
		if fi, err := de.Info(); err == nil {
			child.Size = fi.Size()
			child.ModTime = fi.ModTime()
		}
		out = append(out, child)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsBranch != out[j].IsBranch {
			return out[i].IsBranch
		}
		return out[i].Name < out[j].Name
	})

	if statErr == nil {
		p.mu.Lock()
		p.mtimes[e.ID] = info.ModTime()
		p.mu.Unlock()
	}
	return out, nil
}

// ShouldRefreshChildren reports whether the directory changed since it was
// last listed. Unknown directories and stat failures report true so the
// tree falls back to fetching.
func (p *FSProvider) ShouldRefreshChildren(e Entry) bool {
	p.mu.Lock()
	seen, ok := p.mtimes[e.ID]
	p.mu.Unlock()
	if !ok {
		return true
	}
	info, err := os.Stat(e.ID)
	if err != nil {
		debug.Log("stat %s failed, forcing refresh: %v", e.ID, err)
		return true
	}
	return !info.ModTime().Equal(seen)
}
