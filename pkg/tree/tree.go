// Package tree implements the flattened tree model behind a collapsible,
// virtualized tree widget.
//
// The model keeps every node (visible or not) in a single pre-order list and
// publishes the currently rendered projection of that list to a Sink as
// replace-ranges, so a renderer only ever repaints the range that actually
// changed. Mutation happens exclusively through Splice, SetCollapsed,
// SetCollapsible and Refilter; callers must treat the published nodes as
// read-only.
package tree

// Location addresses a node by its path of child indices from the root.
// Location{2, 0} is the first child of the root's third child. The empty
// Location denotes the root's children as a group (valid for ChildCount,
// not for node lookup). Locations are transient addressing values: they are
// never stored on nodes and become stale as soon as siblings are spliced.
type Location []int

// Item is the transient input to Splice. Children are flattened into the
// model's internal list immediately; the Item tree is not retained.
type Item[T any] struct {
	Data     T
	Children []Item[T]

	// Collapsed sets the initial collapse flag. nil means the model
	// default (expanded, unless WithCollapseByDefault is set and the item
	// has children).
	Collapsed *bool

	// Collapsible pins the node's collapsible flag, as if SetCollapsible
	// were called right after the splice. nil keeps the automatic
	// has-children derivation. Lazy trees pin true on nodes whose
	// children exist but have not been fetched yet.
	Collapsible *bool
}

// Collapsed is a convenience for building Item literals.
func Collapsed(b bool) *bool { return &b }

// FilterResult is the outcome of filtering a single data item.
type FilterResult struct {
	Visible bool
	// Metadata is opaque per-node filter state (match positions, scores)
	// kept on the node for the renderer to use.
	Metadata any
}

// Filter decides the visibility of data items. An item reported invisible
// hides its entire subtree.
type Filter[T any] interface {
	Filter(data T) FilterResult
}

// Sink receives ordered replace-ranges over the rendered (visible, pre-order)
// node list. It is owned by the rendering layer; the model calls Replace
// exactly once per Splice, collapse transition or Refilter pass.
type Sink[T any] interface {
	Replace(start, deleteCount int, inserted []*Node[T])
}

// SpliceEvent carries the flattened node lists removed and added by one
// Splice call, including nodes that are not currently rendered.
type SpliceEvent[T any] struct {
	Inserted []*Node[T]
	Deleted  []*Node[T]
}

// CollapseEvent is fired once per node whose collapse flag actually
// transitioned.
type CollapseEvent[T any] struct {
	Node      *Node[T]
	Collapsed bool
}

// Node is one entry of the model's flattened list. Exported fields are
// maintained by the model and must be treated as read-only by callers.
type Node[T any] struct {
	Data T

	// Depth of the node; the root's children are depth 1.
	Depth int

	// Collapsed reports whether the node's children are currently hidden.
	Collapsed bool

	// VisibleNodeCount is 1 plus the visible-node counts of all visible
	// children, or exactly 1 when the node is collapsed.
	VisibleNodeCount int

	// Metadata is the opaque filter metadata from the last evaluation.
	Metadata any

	collapsible       bool
	collapsiblePinned bool
	visible           bool
}

// Collapsible reports whether the node may be collapsed. It tracks "has at
// least one child" automatically unless pinned via SetCollapsible.
func (n *Node[T]) Collapsible() bool { return n.collapsible }

// Visible reports the node's filter visibility. A node hidden only because
// an ancestor is collapsed still reports true here.
func (n *Node[T]) Visible() bool { return n.visible }

// Option configures a Model.
type Option[T any] func(*options[T])

type options[T any] struct {
	filter            Filter[T]
	collapseByDefault bool
}

// WithFilter installs a filter provider consulted on Splice and Refilter.
func WithFilter[T any](f Filter[T]) Option[T] {
	return func(o *options[T]) {
		o.filter = f
	}
}

// WithCollapseByDefault makes newly spliced items with children start
// collapsed unless the Item says otherwise.
func WithCollapseByDefault[T any]() Option[T] {
	return func(o *options[T]) {
		o.collapseByDefault = true
	}
}
