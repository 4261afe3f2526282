// Package asynctree layers lazy, provider-driven child discovery on top of
// the tree package's index tree model.
//
// The Model keeps a side registry of async nodes mirroring the shape the
// index tree will eventually render, one fetched level ahead of what is on
// screen, and coordinates concurrent structural refreshes so that no two
// refreshes touching overlapping tree regions ever run at the same time.
// The Tree wrapper drives refreshes from collapse-state changes and
// serializes them tree-wide.
package asynctree

import (
	"context"
)

// ChildrenProvider reports and fetches the children of external data items.
// HasChildren must be synchronous and cheap; GetChildren may block.
type ChildrenProvider[T any] interface {
	HasChildren(item T) bool
	GetChildren(ctx context.Context, item T) ([]T, error)
}

// RefreshDecider is an optional extension of ChildrenProvider. When a
// provider implements it and reports false for an item whose children have
// already been fetched, expanding that item skips the structural refresh.
type RefreshDecider[T any] interface {
	ShouldRefreshChildren(item T) bool
}

// Identity derives a stable registry key from a data item.
//
// Because T may be a primitive or value type without usable reference
// identity, lookup is only as unambiguous as the keys this function
// produces: two distinct items mapping to the same key are treated as the
// same node.
type Identity[T any] func(item T) string

// rootKey is the sentinel registry key for the input element, which may be
// a primitive that Identity cannot distinguish from child data.
const rootKey = "\x00root"

// future is a one-shot completion handle that any number of waiters can
// await.
type future struct {
	done chan struct{}
	err  error
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

// resolve completes the future. Must be called exactly once.
func (f *future) resolve(err error) {
	f.err = err
	close(f.done)
}

// wait blocks until resolution and adopts the future's error.
func (f *future) wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settle blocks until resolution but leaves the future's error to whoever
// owns it; only the context can fail a settle.
func (f *future) settle(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Node is an entry of the async registry. The parent link is a plain
// non-owning back-reference; ownership flows strictly root to children.
type Node[T any] struct {
	data     T
	key      string
	parent   *Node[T]
	children []*Node[T]

	// loaded is set once the node's children have been fetched at least
	// once; refresh recursion only descends into loaded children so that
	// unvisited branches stay lazy.
	loaded bool

	// refreshing is the shared completion handle of the node's in-flight
	// structural refresh, nil when idle.
	refreshing *future
}

// Data returns the external data item the node wraps.
func (n *Node[T]) Data() T { return n.data }

// Parent returns the node's parent, or nil for the root.
func (n *Node[T]) Parent() *Node[T] { return n.parent }

// Children returns the node's currently known children. The returned slice
// is owned by the model and must not be mutated.
func (n *Node[T]) Children() []*Node[T] { return n.children }

// Loaded reports whether the node's children have been fetched yet.
func (n *Node[T]) Loaded() bool { return n.loaded }

// isAncestor reports whether a is a proper ancestor of b.
func isAncestor[T any](a, b *Node[T]) bool {
	for p := b.parent; p != nil; p = p.parent {
		if p == a {
			return true
		}
	}
	return false
}
