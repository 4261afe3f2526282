package asynctree

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vanderheijden86/treeline/pkg/debug"
	"github.com/vanderheijden86/treeline/pkg/metrics"
)

// collapseDelegate maps a registry key to a collapse toggle on the
// renderer-facing tree. Implemented by Tree. A nil collapsed means toggle.
type collapseDelegate interface {
	setCollapsedByKey(key string, collapsed *bool, recursive bool) bool
}

// Model owns the async node registry and coordinates structural refreshes
// against the children provider. It is safe for concurrent use.
type Model[T any] struct {
	provider ChildrenProvider[T]
	identity Identity[T]
	delegate collapseDelegate

	mu       sync.Mutex
	root     *Node[T]
	registry map[string]*Node[T]
	inflight map[*Node[T]]*future
	fetches  map[*Node[T]]*fetchState[T]
}

// fetchState coalesces concurrent GetChildren calls for one node onto a
// single in-flight fetch.
type fetchState[T any] struct {
	f     *future
	items []T
}

// NewModel creates a model rooted at input. identity must not be nil.
func NewModel[T any](input T, provider ChildrenProvider[T], identity Identity[T]) *Model[T] {
	if provider == nil {
		panic("asynctree: nil children provider")
	}
	if identity == nil {
		panic("asynctree: nil identity")
	}
	root := &Node[T]{data: input, key: rootKey}
	return &Model[T]{
		provider: provider,
		identity: identity,
		root:     root,
		registry: map[string]*Node[T]{rootKey: root},
		inflight: make(map[*Node[T]]*future),
		fetches:  make(map[*Node[T]]*fetchState[T]),
	}
}

// Root returns the registry's root node.
func (m *Model[T]) Root() *Node[T] { return m.root }

// GetNode looks up the async node for a data item. The root is addressed
// through Root, not through its raw data.
func (m *Model[T]) GetNode(data T) (*Node[T], bool) {
	return m.nodeByKey(m.identity(data))
}

// Has reports whether data is known to the registry. It never panics for
// unknown data.
func (m *Model[T]) Has(data T) bool {
	_, ok := m.GetNode(data)
	return ok
}

func (m *Model[T]) nodeByKey(key string) (*Node[T], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.registry[key]
	return n, ok
}

// Walk visits every discovered node in depth-first pre-order, skipping the
// synthetic root. fn runs under the model lock and must not call back into
// the model; returning false stops the walk.
func (m *Model[T]) Walk(fn func(n *Node[T]) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var visit func(n *Node[T]) bool
	visit = func(n *Node[T]) bool {
		for _, c := range n.children {
			if !fn(c) || !visit(c) {
				return false
			}
		}
		return true
	}
	visit(m.root)
}

// SetCollapsed toggles (or, with collapsed non-nil, sets) the collapse state
// of the data item's rendered node, delegating to the renderer-facing tree
// through the node's mapped location. Panics if data is not in the registry
// or the model is not attached to a Tree.
func (m *Model[T]) SetCollapsed(data T, collapsed *bool, recursive bool) bool {
	n, ok := m.GetNode(data)
	if !ok {
		panic(fmt.Sprintf("asynctree: unknown data item %v", data))
	}
	if m.delegate == nil {
		panic("asynctree: model is not attached to a tree")
	}
	return m.delegate.setCollapsedByKey(n.key, collapsed, recursive)
}

// Refresh re-discovers the structure under n. If any in-flight refresh
// targets the same node, an ancestor or a descendant, it waits for that
// refresh to settle and retries from scratch, since the tree shape may have
// changed underneath it. A conflicting ancestor refresh may have dropped n
// entirely; the retry detects that and returns without touching the
// provider, so a destroyed subtree is never re-registered.
// Once clear of conflicts it fetches n's children,
// diffs them against the registry by identity, destroys subtrees that
// disappeared, and recurses into the retained children whose own children
// are materialized: all siblings in parallel, levels in sequence.
//
// The node's refreshing marker is resolved and cleared on every exit path,
// so a failed provider fetch never leaves a node stuck refreshing.
func (m *Model[T]) Refresh(ctx context.Context, n *Node[T]) error {
	for {
		m.mu.Lock()
		if n != m.root && m.registry[n.key] != n {
			// A conflicting refresh destroyed this node while we waited.
			m.mu.Unlock()
			return nil
		}
		var conflict *future
		for other, f := range m.inflight {
			if other == n {
				// Same node: join the in-flight refresh instead of
				// duplicating the fetch; its result is our result.
				m.mu.Unlock()
				return f.wait(ctx)
			}
			if isAncestor(other, n) || isAncestor(n, other) {
				conflict = f
				break
			}
		}
		if conflict == nil {
			f := newFuture()
			n.refreshing = f
			m.inflight[n] = f
			m.mu.Unlock()
			return m.refreshSubtree(ctx, n, f)
		}
		m.mu.Unlock()
		if err := conflict.settle(ctx); err != nil {
			return err
		}
	}
}

// WaitRefresh blocks until the node's in-flight refresh, if any, settles.
func (m *Model[T]) WaitRefresh(ctx context.Context, n *Node[T]) error {
	if n == nil {
		return nil
	}
	m.mu.Lock()
	f := n.refreshing
	m.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.settle(ctx)
}

// refreshSubtree runs one level of refresh for n and recurses. The caller
// must have registered f as n's in-flight refresh.
func (m *Model[T]) refreshSubtree(ctx context.Context, n *Node[T], f *future) (err error) {
	defer metrics.Timer(metrics.RefreshSubtree)()
	defer func() {
		m.mu.Lock()
		delete(m.inflight, n)
		if n.refreshing == f {
			n.refreshing = nil
		}
		m.mu.Unlock()
		f.resolve(err)
	}()

	children, err := m.refreshChildren(ctx, n)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for _, c := range children {
		g.Go(func() error {
			m.mu.Lock()
			cf := newFuture()
			c.refreshing = cf
			m.inflight[c] = cf
			m.mu.Unlock()
			return m.refreshSubtree(ctx, c, cf)
		})
	}
	return g.Wait()
}

// refreshChildren fetches and diffs one node's children. It returns the
// retained children to recurse into.
func (m *Model[T]) refreshChildren(ctx context.Context, n *Node[T]) ([]*Node[T], error) {
	var items []T
	if m.provider.HasChildren(n.data) {
		var err error
		items, err = m.fetchChildren(ctx, n)
		if err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := make(map[string]*Node[T], len(n.children))
	for _, c := range n.children {
		existing[c.key] = c
	}

	children := make([]*Node[T], 0, len(items))
	seen := make(map[string]bool, len(items))
	var recurse []*Node[T]
	for _, item := range items {
		key := m.identity(item)
		if seen[key] {
			// Duplicate identity within one sibling set is ambiguous;
			// keep the first occurrence.
			continue
		}
		seen[key] = true
		if c, ok := existing[key]; ok {
			c.data = item
			children = append(children, c)
			if c.loaded {
				recurse = append(recurse, c)
			}
		} else {
			children = append(children, &Node[T]{data: item, key: key, parent: n})
			m.registry[key] = children[len(children)-1]
		}
	}
	for _, c := range n.children {
		if !seen[c.key] {
			m.destroyLocked(c)
		}
	}
	n.children = children
	n.loaded = true
	return recurse, nil
}

// fetchChildren calls the provider once per node at a time: concurrent
// callers for the same node share the in-flight fetch and its result.
func (m *Model[T]) fetchChildren(ctx context.Context, n *Node[T]) ([]T, error) {
	m.mu.Lock()
	if st, ok := m.fetches[n]; ok {
		m.mu.Unlock()
		if err := st.f.wait(ctx); err != nil {
			return nil, err
		}
		return st.items, nil
	}
	st := &fetchState[T]{f: newFuture()}
	m.fetches[n] = st
	m.mu.Unlock()

	done := metrics.Timer(metrics.ProviderFetch)
	items, err := m.provider.GetChildren(ctx, n.data)
	done()
	debug.Log("fetched %d children for %s (err=%v)", len(items), n.key, err)

	m.mu.Lock()
	delete(m.fetches, n)
	m.mu.Unlock()
	st.items = items
	st.f.resolve(err)
	return items, err
}

// destroyLocked removes a node and all its descendants from the registry.
// Caller holds m.mu.
func (m *Model[T]) destroyLocked(n *Node[T]) {
	stack := []*Node[T]{n}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if m.registry[c.key] == c {
			delete(m.registry, c.key)
		}
		stack = append(stack, c.children...)
		c.children = nil
		c.parent = nil
	}
}
