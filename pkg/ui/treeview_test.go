package ui

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vanderheijden86/treeline/internal/datasource"
	"github.com/vanderheijden86/treeline/pkg/asynctree"
)

// staticProvider serves a fixed hierarchy keyed by entry ID.
type staticProvider struct {
	children map[string][]datasource.Entry
}

func (p *staticProvider) HasChildren(e datasource.Entry) bool {
	return e.IsBranch
}

func (p *staticProvider) GetChildren(ctx context.Context, e datasource.Entry) ([]datasource.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kids := p.children[e.ID]
	out := make([]datasource.Entry, len(kids))
	copy(out, kids)
	return out, nil
}

func branch(id, name string) datasource.Entry {
	return datasource.Entry{ID: id, Name: name, IsBranch: true}
}

func leaf(id, name string, size int64) datasource.Entry {
	return datasource.Entry{ID: id, Name: name, Size: size, ModTime: time.Now()}
}

// newTestView builds a view over a three-level fixture:
//
//	docs/       (branch)
//	  guides/   (branch)
//	    a.md
//	  intro.md
//	notes.txt
func newTestView(t *testing.T) *TreeView {
	t.Helper()
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	p := &staticProvider{children: map[string][]datasource.Entry{
		"/root": {branch("/root/docs", "docs"), leaf("/root/notes.txt", "notes.txt", 100)},
		"/root/docs": {
			branch("/root/docs/guides", "guides"),
			leaf("/root/docs/intro.md", "intro.md", 200),
		},
		"/root/docs/guides": {leaf("/root/docs/guides/a.md", "a.md", 300)},
	}}

	v := NewTreeView(TestTheme(), "fixture", "fs")
	v.SetSize(60, 20)
	tr := asynctree.New[datasource.Entry](v, branch("/root", "root"), p, datasource.IdentityOf)
	v.Attach(tr)

	if err := v.RefreshAll(context.Background()); err != nil {
		t.Fatalf("initial refresh: %v", err)
	}
	return v
}

func rowNames(v *TreeView) []string {
	rows := v.Rows()
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Data.Name
	}
	return out
}

func assertNames(t *testing.T, v *TreeView, want ...string) {
	t.Helper()
	got := rowNames(v)
	if len(got) != len(want) {
		t.Fatalf("rows = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rows = %v, want %v", got, want)
		}
	}
}

func TestInitialRowsCollapsed(t *testing.T) {
	v := newTestView(t)
	assertNames(t, v, "docs", "notes.txt")

	rows := v.Rows()
	if !rows[0].Collapsible() || !rows[0].Collapsed {
		t.Error("docs should start collapsed")
	}
	if rows[1].Collapsible() {
		t.Error("notes.txt should not be collapsible")
	}
}

func TestToggleExpandsSelection(t *testing.T) {
	v := newTestView(t)
	if err := v.Toggle(context.Background()); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	assertNames(t, v, "docs", "guides", "intro.md", "notes.txt")

	if err := v.Toggle(context.Background()); err != nil {
		t.Fatalf("toggle back: %v", err)
	}
	assertNames(t, v, "docs", "notes.txt")
}

func TestToggleOnLeafIsNoop(t *testing.T) {
	v := newTestView(t)
	v.MoveDown() // notes.txt
	if err := v.Toggle(context.Background()); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	assertNames(t, v, "docs", "notes.txt")
}

func TestNavigationBounds(t *testing.T) {
	v := newTestView(t)
	v.MoveUp()
	if v.Cursor() != 0 {
		t.Errorf("cursor moved above top: %d", v.Cursor())
	}
	v.JumpToBottom()
	if v.Cursor() != 1 {
		t.Errorf("cursor = %d after JumpToBottom", v.Cursor())
	}
	v.MoveDown()
	if v.Cursor() != 1 {
		t.Errorf("cursor moved past bottom: %d", v.Cursor())
	}
	v.JumpToTop()
	if v.Cursor() != 0 {
		t.Errorf("cursor = %d after JumpToTop", v.Cursor())
	}
}

func TestExpandOrMoveToChild(t *testing.T) {
	v := newTestView(t)
	ctx := context.Background()

	// First press expands, second descends.
	if err := v.ExpandOrMoveToChild(ctx); err != nil {
		t.Fatalf("expand: %v", err)
	}
	if v.Cursor() != 0 {
		t.Errorf("cursor should stay on docs, got %d", v.Cursor())
	}
	if err := v.ExpandOrMoveToChild(ctx); err != nil {
		t.Fatalf("descend: %v", err)
	}
	if e, _ := v.Selected(); e.Name != "guides" {
		t.Errorf("selected %s, want guides", e.Name)
	}
}

func TestCollapseOrJumpToParent(t *testing.T) {
	v := newTestView(t)
	ctx := context.Background()

	if err := v.Expand(ctx, false); err != nil {
		t.Fatalf("expand: %v", err)
	}
	v.MoveDown() // guides
	v.MoveDown() // intro.md

	// Leaf: jumps to parent.
	if err := v.CollapseOrJumpToParent(ctx); err != nil {
		t.Fatalf("jump: %v", err)
	}
	if e, _ := v.Selected(); e.Name != "docs" {
		t.Errorf("selected %s, want docs", e.Name)
	}

	// Open branch: collapses.
	if err := v.CollapseOrJumpToParent(ctx); err != nil {
		t.Fatalf("collapse: %v", err)
	}
	assertNames(t, v, "docs", "notes.txt")
}

func TestSiblingNavigation(t *testing.T) {
	v := newTestView(t)
	ctx := context.Background()
	if err := v.Expand(ctx, false); err != nil {
		t.Fatalf("expand: %v", err)
	}
	// docs, guides, intro.md, notes.txt
	v.MoveDown() // guides
	v.NextSibling()
	if e, _ := v.Selected(); e.Name != "intro.md" {
		t.Errorf("NextSibling selected %s, want intro.md", e.Name)
	}
	// intro.md has no following sibling inside docs; notes.txt is outside.
	v.NextSibling()
	if e, _ := v.Selected(); e.Name != "intro.md" {
		t.Errorf("NextSibling left parent, selected %s", e.Name)
	}
	v.PrevSibling()
	if e, _ := v.Selected(); e.Name != "guides" {
		t.Errorf("PrevSibling selected %s, want guides", e.Name)
	}
}

func TestExpandedBranches(t *testing.T) {
	v := newTestView(t)
	ctx := context.Background()

	if got := v.ExpandedBranches(); len(got) != 0 {
		t.Fatalf("expanded branches before expand: %v", got)
	}
	if err := v.Expand(ctx, false); err != nil {
		t.Fatalf("expand: %v", err)
	}
	got := v.ExpandedBranches()
	if len(got) != 1 || got[0] != "/root/docs" {
		t.Fatalf("expanded branches = %v", got)
	}
}

func TestStateRoundTripReexpands(t *testing.T) {
	stateHome := t.TempDir()
	t.Setenv("XDG_STATE_HOME", stateHome)
	ctx := context.Background()

	p := &staticProvider{children: map[string][]datasource.Entry{
		"/root":      {branch("/root/docs", "docs")},
		"/root/docs": {leaf("/root/docs/intro.md", "intro.md", 1)},
	}}

	build := func() *TreeView {
		v := NewTreeView(TestTheme(), "roundtrip", "fs")
		v.SetSize(60, 20)
		tr := asynctree.New[datasource.Entry](v, branch("/root", "root"), p, datasource.IdentityOf)
		v.Attach(tr)
		if err := v.RefreshAll(ctx); err != nil {
			t.Fatalf("refresh: %v", err)
		}
		return v
	}

	v := build()
	if err := v.Expand(ctx, false); err != nil {
		t.Fatalf("expand: %v", err)
	}
	if err := v.SaveState(); err != nil {
		t.Fatalf("save state: %v", err)
	}

	fresh := build()
	assertNames(t, fresh, "docs")
	if err := fresh.ApplyState(ctx); err != nil {
		t.Fatalf("apply state: %v", err)
	}
	assertNames(t, fresh, "docs", "intro.md")
}

func TestSearchFindsCollapsedNodes(t *testing.T) {
	v := newTestView(t)
	ctx := context.Background()

	// Discover the subtree once, then collapse it again so a.md is no
	// longer rendered but stays in the registry.
	if err := v.Expand(ctx, false); err != nil {
		t.Fatalf("expand docs: %v", err)
	}
	v.MoveDown()
	if err := v.Expand(ctx, false); err != nil {
		t.Fatalf("expand guides: %v", err)
	}
	if err := v.Collapse(ctx, false); err != nil {
		t.Fatalf("collapse guides: %v", err)
	}

	v.StartSearch()
	v.SetSearchQuery("a.md")
	if v.MatchCount() != 1 {
		t.Fatalf("match count = %d, want 1", v.MatchCount())
	}
	v.AcceptSearch()

	if err := v.NextMatch(ctx); err != nil {
		t.Fatalf("next match: %v", err)
	}
	if e, _ := v.Selected(); e.Name != "a.md" {
		t.Errorf("selected %s, want a.md", e.Name)
	}
}

func TestSearchCaseInsensitive(t *testing.T) {
	v := newTestView(t)
	v.StartSearch()
	v.SetSearchQuery("DOCS")
	if v.MatchCount() != 1 {
		t.Errorf("match count = %d, want 1", v.MatchCount())
	}
	v.CancelSearch()
	if v.SearchQuery() != "" {
		t.Error("cancel should clear the query")
	}
}

func TestViewRendersWindow(t *testing.T) {
	v := newTestView(t)
	out := v.View()

	if !strings.Contains(out, "fixture") {
		t.Error("header should name the root")
	}
	if !strings.Contains(out, "docs") || !strings.Contains(out, "notes.txt") {
		t.Error("rows missing from view")
	}
	if !strings.Contains(out, "▸") {
		t.Error("collapsed branch indicator missing")
	}
	if !strings.Contains(out, "Page 1/1 (1-2 of 2)") {
		t.Errorf("position indicator missing:\n%s", out)
	}
}

func TestViewShowsBranchGuides(t *testing.T) {
	v := newTestView(t)
	if err := v.Expand(context.Background(), false); err != nil {
		t.Fatalf("expand: %v", err)
	}
	out := v.View()
	if !strings.Contains(out, "├── ") || !strings.Contains(out, "└── ") {
		t.Errorf("tree connectors missing:\n%s", out)
	}
}

func TestRefreshDirIgnoresUnknown(t *testing.T) {
	v := newTestView(t)
	if err := v.RefreshDir(context.Background(), "/nowhere"); err != nil {
		t.Fatalf("unknown dir should be a no-op, got %v", err)
	}
}
