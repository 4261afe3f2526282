package asynctree

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/vanderheijden86/treeline/pkg/tree"
)

// TreeOption configures a Tree.
type TreeOption[T any] func(*treeOptions[T])

type treeOptions[T any] struct {
	filter  tree.Filter[T]
	onError func(error)
}

// WithTreeFilter installs a filter provider on the underlying index tree.
func WithTreeFilter[T any](f tree.Filter[T]) TreeOption[T] {
	return func(o *treeOptions[T]) {
		o.filter = f
	}
}

// WithErrorHandler replaces the sink for refresh failures that surface on
// the collapse-event path, where no caller is there to receive them. The
// default logs through the log package.
func WithErrorHandler[T any](fn func(error)) TreeOption[T] {
	return func(o *treeOptions[T]) {
		o.onError = fn
	}
}

// Tree glues the async model to a renderer-facing index tree. Expanding a
// node triggers a structural refresh of its subtree; those refreshes are
// serialized tree-wide, so at most one collapse-driven refresh mutates the
// rendered flattened list at any moment.
type Tree[T any] struct {
	model    *tree.Model[T]
	async    *Model[T]
	provider ChildrenProvider[T]
	identity Identity[T]
	onError  func(error)

	// modelMu serializes mutations of the index tree model, which is not
	// safe for concurrent use. Lock order: modelMu before mu.
	modelMu sync.Mutex

	mu        sync.Mutex
	treeNodes map[string]*tree.Node[T]
	flight    *future
	pending   map[string]*future
}

// New creates a lazy tree over input, publishing the rendered flattened
// list to sink.
func New[T any](sink tree.Sink[T], input T, provider ChildrenProvider[T], identity Identity[T], opts ...TreeOption[T]) *Tree[T] {
	o := treeOptions[T]{
		onError: func(err error) { log.Printf("asynctree: refresh failed: %v", err) },
	}
	for _, opt := range opts {
		opt(&o)
	}

	treeOpts := []tree.Option[T]{tree.WithCollapseByDefault[T]()}
	if o.filter != nil {
		treeOpts = append(treeOpts, tree.WithFilter[T](o.filter))
	}

	t := &Tree[T]{
		model:     tree.New[T](sink, treeOpts...),
		async:     NewModel[T](input, provider, identity),
		provider:  provider,
		identity:  identity,
		onError:   o.onError,
		treeNodes: make(map[string]*tree.Node[T]),
		pending:   make(map[string]*future),
	}
	t.async.delegate = t
	t.model.OnDidSplice(t.onSplice)
	t.model.OnDidChangeCollapseState(t.onCollapseChange)
	return t
}

// Model returns the async node model, for registry lookups.
func (t *Tree[T]) Model() *Model[T] { return t.async }

// IndexTree returns the renderer-facing index tree model. Callers must not
// splice it directly; structural changes flow through refreshes.
func (t *Tree[T]) IndexTree() *tree.Model[T] { return t.model }

// Has reports whether data has been discovered by a refresh.
func (t *Tree[T]) Has(data T) bool { return t.async.Has(data) }

// Refresh re-discovers the whole structure from the input and renders it.
// This is the initial population call and the programmatic full reload.
func (t *Tree[T]) Refresh(ctx context.Context) error {
	return t.refreshAndRender(ctx, t.async.root)
}

// RefreshData re-discovers the structure under one data item and renders
// the refreshed subtree. Panics if data is not in the registry.
func (t *Tree[T]) RefreshData(ctx context.Context, data T) error {
	n, ok := t.async.GetNode(data)
	if !ok {
		panic(fmt.Sprintf("asynctree: unknown data item %v", data))
	}
	return t.refreshAndRender(ctx, n)
}

// Expand expands the node for data, waits for any refresh the expansion
// triggered, and returns once the tree has settled. With recursive set, the
// expansion applies to all rendered descendants as well. Refresh failures on
// this path go to the error handler, not the caller; only context failures
// are returned. Panics if data is not in the registry.
func (t *Tree[T]) Expand(ctx context.Context, data T, recursive bool) (bool, error) {
	collapsed := false
	return t.settleAndSet(ctx, data, &collapsed, recursive)
}

// Collapse collapses the node for data. No refresh is needed while children
// are hidden. Panics if data is not in the registry.
func (t *Tree[T]) Collapse(ctx context.Context, data T, recursive bool) (bool, error) {
	collapsed := true
	return t.settleAndSet(ctx, data, &collapsed, recursive)
}

// ToggleCollapseOrExpand flips the collapse state of the node for data,
// settling in-flight refreshes the same way Expand does.
func (t *Tree[T]) ToggleCollapseOrExpand(ctx context.Context, data T, recursive bool) (bool, error) {
	return t.settleAndSet(ctx, data, nil, recursive)
}

func (t *Tree[T]) settleAndSet(ctx context.Context, data T, collapsed *bool, recursive bool) (bool, error) {
	// Settle refreshes that could still reshape the target's rendered
	// location: the root's and the target's own.
	if err := t.async.WaitRefresh(ctx, t.async.root); err != nil {
		return false, err
	}
	n, ok := t.async.GetNode(data)
	if !ok {
		panic(fmt.Sprintf("asynctree: unknown data item %v", data))
	}
	if err := t.async.WaitRefresh(ctx, n); err != nil {
		return false, err
	}

	changed := t.setCollapsedByKey(n.key, collapsed, recursive)

	// If the toggle kicked off a refresh, wait for it so the caller
	// observes settled tree state, not a mid-refresh snapshot.
	t.mu.Lock()
	f := t.pending[n.key]
	t.mu.Unlock()
	if f != nil {
		if err := f.settle(ctx); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

// setCollapsedByKey implements collapseDelegate.
func (t *Tree[T]) setCollapsedByKey(key string, collapsed *bool, recursive bool) bool {
	t.modelMu.Lock()
	defer t.modelMu.Unlock()
	t.mu.Lock()
	tn := t.treeNodes[key]
	t.mu.Unlock()
	if tn == nil {
		// Known to the registry but not rendered yet; nothing to toggle.
		return false
	}
	loc := t.model.GetNodeLocation(tn)
	if collapsed == nil {
		return t.model.ToggleCollapsed(loc, recursive)
	}
	return t.model.SetCollapsed(loc, *collapsed, recursive)
}

// onSplice keeps the identity-to-rendered-node table in sync with the index
// tree.
func (t *Tree[T]) onSplice(ev tree.SpliceEvent[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range ev.Deleted {
		key := t.identity(n.Data)
		if t.treeNodes[key] == n {
			delete(t.treeNodes, key)
		}
	}
	for _, n := range ev.Inserted {
		t.treeNodes[t.identity(n.Data)] = n
	}
}

// onCollapseChange is the collapse-driven refresh entry point. It runs
// synchronously inside the index tree's event dispatch, so it only records
// the pending refresh and hands the work to a goroutine.
func (t *Tree[T]) onCollapseChange(ev tree.CollapseEvent[T]) {
	if ev.Collapsed {
		// Children need not be known while hidden.
		return
	}
	key := t.identity(ev.Node.Data)
	n, ok := t.async.nodeByKey(key)
	if !ok {
		return
	}
	t.async.mu.Lock()
	loaded, data := n.loaded, n.data
	t.async.mu.Unlock()
	if loaded {
		if d, ok := t.provider.(RefreshDecider[T]); ok && !d.ShouldRefreshChildren(data) {
			return
		}
	}

	f := newFuture()
	t.mu.Lock()
	t.pending[key] = f
	t.mu.Unlock()

	go func() {
		err := t.refreshAndRender(context.Background(), n)
		if err != nil {
			t.onError(err)
		}
		t.mu.Lock()
		if t.pending[key] == f {
			delete(t.pending, key)
		}
		t.mu.Unlock()
		f.resolve(err)
	}()
}

// refreshAndRender acquires the tree-wide single-flight lock, refreshes the
// node and splices the refreshed subtree's children into the index tree.
// The lock is released on every exit path.
func (t *Tree[T]) refreshAndRender(ctx context.Context, n *Node[T]) error {
	t.mu.Lock()
	for t.flight != nil {
		f := t.flight
		t.mu.Unlock()
		if err := f.settle(ctx); err != nil {
			return err
		}
		t.mu.Lock()
	}
	f := newFuture()
	t.flight = f
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.flight = nil
		t.mu.Unlock()
		f.resolve(nil)
	}()

	if err := t.async.Refresh(ctx, n); err != nil {
		return err
	}
	t.render(n)
	return nil
}

// render replaces the rendered children of n with the registry's current
// children for n, as one atomic splice of the affected range.
func (t *Tree[T]) render(n *Node[T]) {
	t.modelMu.Lock()
	defer t.modelMu.Unlock()
	var loc tree.Location
	if n != t.async.root {
		t.mu.Lock()
		tn := t.treeNodes[n.key]
		t.mu.Unlock()
		if tn == nil {
			return
		}
		loc = t.model.GetNodeLocation(tn)
	}
	items := t.renderItems(n)
	count := t.model.ChildCount(loc)
	t.model.Splice(append(loc, 0), count, items)
}

// renderItems converts the registry subtree under n into splice items,
// preserving the collapse state of nodes that are already rendered.
func (t *Tree[T]) renderItems(n *Node[T]) []tree.Item[T] {
	t.async.mu.Lock()
	defer t.async.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.asItems(n.children)
}

func (t *Tree[T]) asItems(nodes []*Node[T]) []tree.Item[T] {
	items := make([]tree.Item[T], 0, len(nodes))
	for _, c := range nodes {
		hasChildren := t.provider.HasChildren(c.data)
		it := tree.Item[T]{
			Data:        c.data,
			Children:    t.asItems(c.children),
			Collapsible: &hasChildren,
		}
		if tn := t.treeNodes[c.key]; tn != nil {
			collapsed := tn.Collapsed
			it.Collapsed = &collapsed
		}
		items = append(items, it)
	}
	return items
}
