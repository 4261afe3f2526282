package asynctree

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeProvider serves children out of a mutable adjacency map keyed by the
// item itself and records every fetch, so tests can assert exactly when the
// provider was consulted. A per-item gate lets a test hold a fetch open.
type fakeProvider struct {
	mu       sync.Mutex
	children map[string][]string
	errs     map[string]error
	fetches  map[string]int
	gates    map[string]chan struct{}
	starts   chan string
}

func newFakeProvider(children map[string][]string) *fakeProvider {
	return &fakeProvider{
		children: children,
		errs:     make(map[string]error),
		fetches:  make(map[string]int),
		gates:    make(map[string]chan struct{}),
		starts:   make(chan string, 64),
	}
}

func (p *fakeProvider) HasChildren(item string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.children[item]) > 0 || p.errs[item] != nil
}

func (p *fakeProvider) GetChildren(ctx context.Context, item string) ([]string, error) {
	p.mu.Lock()
	p.fetches[item]++
	kids := append([]string(nil), p.children[item]...)
	err := p.errs[item]
	gate := p.gates[item]
	p.mu.Unlock()

	select {
	case p.starts <- item:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return kids, nil
}

func (p *fakeProvider) setChildren(item string, kids ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.children[item] = kids
}

func (p *fakeProvider) failWith(item string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errs, item)
	} else {
		p.errs[item] = err
	}
}

// gate installs a channel the next fetches for item will block on until it
// is closed.
func (p *fakeProvider) gate(item string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan struct{})
	p.gates[item] = ch
	return ch
}

func (p *fakeProvider) ungate(item string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.gates, item)
}

func (p *fakeProvider) fetchCount(item string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches[item]
}

// drainStarts discards start notifications already queued, so a later
// awaitStart observes only fetches begun after this point.
func (p *fakeProvider) drainStarts() {
	for {
		select {
		case <-p.starts:
		default:
			return
		}
	}
}

// awaitStart blocks until a fetch for item begins.
func (p *fakeProvider) awaitStart(t *testing.T, item string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-p.starts:
			if got == item {
				return
			}
		case <-deadline:
			t.Fatalf("no fetch started for %q", item)
		}
	}
}

func ident(s string) string { return s }

func refreshed(t *testing.T, p *fakeProvider) *Model[string] {
	t.Helper()
	m := NewModel("root", p, ident)
	if err := m.Refresh(context.Background(), m.Root()); err != nil {
		t.Fatalf("refresh root: %v", err)
	}
	return m
}

func mustNode(t *testing.T, m *Model[string], data string) *Node[string] {
	t.Helper()
	n, ok := m.GetNode(data)
	if !ok {
		t.Fatalf("node %q not in registry", data)
	}
	return n
}

func TestRefreshDiscoversOneLevel(t *testing.T) {
	p := newFakeProvider(map[string][]string{
		"root": {"a", "b"},
		"a":    {"a1"},
	})
	m := refreshed(t, p)

	if !m.Has("a") || !m.Has("b") {
		t.Fatalf("expected a and b in registry")
	}
	if m.Has("a1") {
		t.Fatalf("a1 fetched eagerly; children of unloaded nodes must stay unknown")
	}
	if got := p.fetchCount("a"); got != 0 {
		t.Fatalf("a fetched %d times before being loaded", got)
	}
	if !m.Root().Loaded() {
		t.Fatalf("root not marked loaded")
	}
	if mustNode(t, m, "a").Loaded() {
		t.Fatalf("a marked loaded without a fetch")
	}
}

func TestRefreshRecursesIntoLoadedChildren(t *testing.T) {
	p := newFakeProvider(map[string][]string{
		"root": {"a", "b"},
		"a":    {"a1"},
	})
	m := refreshed(t, p)
	if err := m.Refresh(context.Background(), mustNode(t, m, "a")); err != nil {
		t.Fatalf("refresh a: %v", err)
	}
	if !m.Has("a1") {
		t.Fatalf("a1 missing after loading a")
	}

	p.setChildren("a", "a2")
	if err := m.Refresh(context.Background(), m.Root()); err != nil {
		t.Fatalf("refresh root: %v", err)
	}
	if m.Has("a1") {
		t.Fatalf("a1 survived a refresh that dropped it")
	}
	if !m.Has("a2") {
		t.Fatalf("a2 not discovered by recursive refresh")
	}
	if got := p.fetchCount("a"); got != 2 {
		t.Fatalf("a fetched %d times, want 2", got)
	}
	if got := p.fetchCount("b"); got != 0 {
		t.Fatalf("unloaded b fetched %d times during root refresh", got)
	}
}

func TestRefreshDestroysMissingSubtrees(t *testing.T) {
	p := newFakeProvider(map[string][]string{
		"root": {"a", "b"},
		"a":    {"a1"},
	})
	m := refreshed(t, p)
	a := mustNode(t, m, "a")
	if err := m.Refresh(context.Background(), a); err != nil {
		t.Fatalf("refresh a: %v", err)
	}

	p.setChildren("root", "b")
	if err := m.Refresh(context.Background(), m.Root()); err != nil {
		t.Fatalf("refresh root: %v", err)
	}
	if m.Has("a") || m.Has("a1") {
		t.Fatalf("dropped subtree still in registry")
	}
	if !m.Has("b") {
		t.Fatalf("retained child b lost")
	}
	if a.Parent() != nil {
		t.Fatalf("destroyed node still linked to its parent")
	}
}

func TestRefreshDuplicateIdentityKeepsFirst(t *testing.T) {
	p := newFakeProvider(map[string][]string{
		"root": {"x", "x", "y"},
	})
	m := refreshed(t, p)
	kids := m.Root().Children()
	if len(kids) != 2 {
		t.Fatalf("got %d children, want duplicate collapsed to 2", len(kids))
	}
	if kids[0].Data() != "x" || kids[1].Data() != "y" {
		t.Fatalf("got children %q, %q", kids[0].Data(), kids[1].Data())
	}
}

func TestRefreshSkipsFetchWithoutChildren(t *testing.T) {
	p := newFakeProvider(map[string][]string{
		"root": {"leaf"},
	})
	m := refreshed(t, p)
	leaf := mustNode(t, m, "leaf")
	if err := m.Refresh(context.Background(), leaf); err != nil {
		t.Fatalf("refresh leaf: %v", err)
	}
	if got := p.fetchCount("leaf"); got != 0 {
		t.Fatalf("leaf fetched %d times, want 0", got)
	}
	if !leaf.Loaded() {
		t.Fatalf("leaf not marked loaded")
	}
}

func TestConcurrentRefreshSameNodeSingleFetch(t *testing.T) {
	p := newFakeProvider(map[string][]string{
		"root": {"a", "b"},
	})
	m := NewModel("root", p, ident)
	gate := p.gate("root")

	errs := make(chan error, 2)
	go func() { errs <- m.Refresh(context.Background(), m.Root()) }()
	p.awaitStart(t, "root")
	go func() { errs <- m.Refresh(context.Background(), m.Root()) }()

	// Neither caller may return while the single fetch is held open.
	select {
	case err := <-errs:
		t.Fatalf("refresh returned before the fetch completed: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("refresh: %v", err)
		}
	}
	if got := p.fetchCount("root"); got != 1 {
		t.Fatalf("root fetched %d times, want 1", got)
	}
	if !m.Has("a") || !m.Has("b") {
		t.Fatalf("children missing after coalesced refresh")
	}
}

func TestRefreshDescendantWaitsForAncestor(t *testing.T) {
	p := newFakeProvider(map[string][]string{
		"root": {"a"},
		"a":    {"a1"},
	})
	m := refreshed(t, p)
	a := mustNode(t, m, "a")
	if err := m.Refresh(context.Background(), a); err != nil {
		t.Fatalf("refresh a: %v", err)
	}

	p.drainStarts()
	gate := p.gate("root")
	rootErr := make(chan error, 1)
	go func() { rootErr <- m.Refresh(context.Background(), m.Root()) }()
	p.awaitStart(t, "root")

	childErr := make(chan error, 1)
	go func() { childErr <- m.Refresh(context.Background(), a) }()

	// The descendant refresh must block behind the ancestor's.
	select {
	case err := <-childErr:
		t.Fatalf("descendant refresh ran during ancestor refresh: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	p.ungate("root")
	close(gate)
	if err := <-rootErr; err != nil {
		t.Fatalf("root refresh: %v", err)
	}
	if err := <-childErr; err != nil {
		t.Fatalf("descendant refresh: %v", err)
	}
	if !m.Has("a1") {
		t.Fatalf("a1 missing after refreshes settled")
	}
}

func TestRefreshQueuedBehindDestroyingAncestorStaysDead(t *testing.T) {
	p := newFakeProvider(map[string][]string{
		"root": {"a"},
		"a":    {"a1"},
	})
	m := refreshed(t, p)
	a := mustNode(t, m, "a")
	if err := m.Refresh(context.Background(), a); err != nil {
		t.Fatalf("refresh a: %v", err)
	}

	// The ancestor refresh held open here will drop a from root's children.
	p.setChildren("root", "b")
	p.drainStarts()
	gate := p.gate("root")
	rootErr := make(chan error, 1)
	go func() { rootErr <- m.Refresh(context.Background(), m.Root()) }()
	p.awaitStart(t, "root")

	childErr := make(chan error, 1)
	go func() { childErr <- m.Refresh(context.Background(), a) }()
	select {
	case err := <-childErr:
		t.Fatalf("descendant refresh ran during ancestor refresh: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	p.ungate("root")
	close(gate)
	if err := <-rootErr; err != nil {
		t.Fatalf("root refresh: %v", err)
	}
	if err := <-childErr; err != nil {
		t.Fatalf("queued refresh of destroyed node: %v", err)
	}

	// The queued refresh must notice its target died and not resurrect it.
	if m.Has("a") || m.Has("a1") {
		t.Fatalf("destroyed subtree re-registered by queued refresh")
	}
	if got := p.fetchCount("a"); got != 1 {
		t.Fatalf("destroyed a fetched %d times, want only the initial load", got)
	}
}

func TestRefreshErrorClearsRefreshing(t *testing.T) {
	p := newFakeProvider(map[string][]string{
		"root": {"a"},
	})
	m := refreshed(t, p)

	boom := errors.New("provider down")
	p.failWith("root", boom)
	if err := m.Refresh(context.Background(), m.Root()); !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}

	// A failed refresh must not leave the node stuck refreshing.
	if err := m.WaitRefresh(context.Background(), m.Root()); err != nil {
		t.Fatalf("wait after failure: %v", err)
	}
	p.failWith("root", nil)
	if err := m.Refresh(context.Background(), m.Root()); err != nil {
		t.Fatalf("refresh after recovery: %v", err)
	}
	if !m.Has("a") {
		t.Fatalf("a missing after recovery")
	}
}

func TestGetNodeUnknown(t *testing.T) {
	p := newFakeProvider(map[string][]string{"root": {"a"}})
	m := refreshed(t, p)
	if m.Has("ghost") {
		t.Fatalf("unknown item reported present")
	}
	if _, ok := m.GetNode("ghost"); ok {
		t.Fatalf("unknown item resolved to a node")
	}
}

func TestWaitRefreshIdle(t *testing.T) {
	p := newFakeProvider(map[string][]string{"root": {"a"}})
	m := refreshed(t, p)
	if err := m.WaitRefresh(context.Background(), m.Root()); err != nil {
		t.Fatalf("wait with no refresh in flight: %v", err)
	}
	if err := m.WaitRefresh(context.Background(), nil); err != nil {
		t.Fatalf("wait on nil node: %v", err)
	}
}
