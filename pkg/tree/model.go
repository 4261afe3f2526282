package tree

import (
	"fmt"
	"math"

	"github.com/vanderheijden86/treeline/pkg/metrics"
)

// Model is the index tree model: an index-addressable nested tree flattened
// into one pre-order list. It is not safe for concurrent use; callers that
// mutate it from multiple goroutines must serialize access themselves.
type Model[T any] struct {
	// nodes is the full pre-order list of every node, rendered or not.
	// This is the model's only persistent representation of the tree;
	// child relationships are recovered from Depth neighborhoods.
	nodes []*Node[T]

	sink              Sink[T]
	filter            Filter[T]
	collapseByDefault bool

	spliceHandlers   []func(SpliceEvent[T])
	collapseHandlers []func(CollapseEvent[T])
}

// New creates an empty model publishing to sink. A nil sink is allowed and
// simply drops replace-ranges, which is useful when only the events or the
// node state itself are of interest.
func New[T any](sink Sink[T], opts ...Option[T]) *Model[T] {
	var o options[T]
	for _, opt := range opts {
		opt(&o)
	}
	return &Model[T]{
		sink:              sink,
		filter:            o.filter,
		collapseByDefault: o.collapseByDefault,
	}
}

// OnDidSplice registers a handler fired once per Splice call. The returned
// function unregisters it.
func (m *Model[T]) OnDidSplice(fn func(SpliceEvent[T])) func() {
	m.spliceHandlers = append(m.spliceHandlers, fn)
	i := len(m.spliceHandlers) - 1
	return func() { m.spliceHandlers[i] = nil }
}

// OnDidChangeCollapseState registers a handler fired once per node whose
// collapse flag actually transitioned. The returned function unregisters it.
func (m *Model[T]) OnDidChangeCollapseState(fn func(CollapseEvent[T])) func() {
	m.collapseHandlers = append(m.collapseHandlers, fn)
	i := len(m.collapseHandlers) - 1
	return func() { m.collapseHandlers[i] = nil }
}

// ── Flat-list geometry ──

// subtreeEnd returns the exclusive end index of the subtree rooted at i.
func (m *Model[T]) subtreeEnd(i int) int {
	j := i + 1
	for j < len(m.nodes) && m.nodes[j].Depth > m.nodes[i].Depth {
		j++
	}
	return j
}

// parentIndexOf returns the index of node i's parent, or -1 for depth-1
// nodes. In pre-order the parent is the nearest preceding shallower node.
func (m *Model[T]) parentIndexOf(i int) int {
	for j := i - 1; j >= 0; j-- {
		if m.nodes[j].Depth < m.nodes[i].Depth {
			return j
		}
	}
	return -1
}

// resolve walks loc and returns the parent's index (-1 for the virtual root)
// and the index of the addressed child slot. The final component may equal
// the parent's child count, which addresses the insertion point past the
// last sibling; every other component must address an existing node.
func (m *Model[T]) resolve(loc Location) (parentIdx, slotIdx int) {
	if len(loc) == 0 {
		panic("tree: invalid tree location (empty)")
	}
	parentIdx = -1
	lo, hi := 0, len(m.nodes)
	for d, k := range loc {
		if k < 0 {
			panic(fmt.Sprintf("tree: invalid tree location %v (negative index)", loc))
		}
		i := lo
		for s := 0; s < k; s++ {
			if i >= hi {
				panic(fmt.Sprintf("tree: invalid tree location %v (index %d out of range)", loc, k))
			}
			i = m.subtreeEnd(i)
		}
		if d == len(loc)-1 {
			if i > hi {
				panic(fmt.Sprintf("tree: invalid tree location %v (index %d out of range)", loc, k))
			}
			return parentIdx, i
		}
		if i >= hi {
			panic(fmt.Sprintf("tree: invalid tree location %v (index %d out of range)", loc, k))
		}
		parentIdx = i
		lo, hi = i+1, m.subtreeEnd(i)
	}
	panic("unreachable")
}

// indexOf returns the index of the node addressed by loc, or panics if loc
// does not address an existing node.
func (m *Model[T]) indexOf(loc Location) int {
	parentIdx, i := m.resolve(loc)
	limit := len(m.nodes)
	if parentIdx >= 0 {
		limit = m.subtreeEnd(parentIdx)
	}
	if i >= limit {
		panic(fmt.Sprintf("tree: no node at location %v", loc))
	}
	return i
}

// GetNode returns the node addressed by loc. It panics if the location is
// out of range; use Has to probe.
func (m *Model[T]) GetNode(loc Location) *Node[T] {
	return m.nodes[m.indexOf(loc)]
}

// Has reports whether loc addresses an existing node. Unlike GetNode it
// never panics.
func (m *Model[T]) Has(loc Location) bool {
	if len(loc) == 0 {
		return false
	}
	lo, hi := 0, len(m.nodes)
	for d, k := range loc {
		if k < 0 {
			return false
		}
		i := lo
		for s := 0; s <= k; s++ {
			if i >= hi {
				return false
			}
			if s < k {
				i = m.subtreeEnd(i)
			}
		}
		if d == len(loc)-1 {
			return true
		}
		lo, hi = i+1, m.subtreeEnd(i)
	}
	return false
}

// ChildCount returns the number of children of the node at loc. The empty
// location counts the root's children.
func (m *Model[T]) ChildCount(loc Location) int {
	lo, hi := 0, len(m.nodes)
	if len(loc) > 0 {
		i := m.indexOf(loc)
		lo, hi = i+1, m.subtreeEnd(i)
	}
	count := 0
	for i := lo; i < hi; i = m.subtreeEnd(i) {
		count++
	}
	return count
}

// GetNodeLocation returns the location of a node obtained from this model.
// It is recovered by walking the node's flattened neighborhood: previous
// siblings at each depth are counted until the parent is reached. Panics if
// the node is not part of the model.
func (m *Model[T]) GetNodeLocation(node *Node[T]) Location {
	idx := -1
	for i, n := range m.nodes {
		if n == node {
			idx = i
			break
		}
	}
	if idx < 0 {
		panic("tree: node not found in model")
	}
	var rev []int
	i := idx
	for i >= 0 {
		depth := m.nodes[i].Depth
		k := 0
		j := i - 1
		for j >= 0 && m.nodes[j].Depth >= depth {
			if m.nodes[j].Depth == depth {
				k++
			}
			j--
		}
		rev = append(rev, k)
		i = j
	}
	loc := make(Location, len(rev))
	for i, k := range rev {
		loc[len(rev)-1-i] = k
	}
	return loc
}

// ── Rendered projection ──

// renderedIn returns the rendered nodes within segment, assuming the
// segment's surrounding context is itself rendered. Subtrees below a
// collapsed or filter-invisible node are pruned.
func renderedIn[T any](segment []*Node[T]) []*Node[T] {
	var out []*Node[T]
	skip := math.MaxInt
	for _, n := range segment {
		if n.Depth >= skip {
			continue
		}
		skip = math.MaxInt
		if !n.visible {
			skip = n.Depth + 1
			continue
		}
		out = append(out, n)
		if n.Collapsed {
			skip = n.Depth + 1
		}
	}
	return out
}

// renderedCountBefore returns how many rendered nodes precede index idx.
func (m *Model[T]) renderedCountBefore(idx int) int {
	count := 0
	skip := math.MaxInt
	for _, n := range m.nodes[:idx] {
		if n.Depth >= skip {
			continue
		}
		skip = math.MaxInt
		if !n.visible {
			skip = n.Depth + 1
			continue
		}
		count++
		if n.Collapsed {
			skip = n.Depth + 1
		}
	}
	return count
}

// ancestorsRendered reports whether the chain starting at index idx and
// walking upward is fully expanded and filter-visible. idx of -1 denotes the
// virtual root and is always rendered.
func (m *Model[T]) ancestorsRendered(idx int) bool {
	for i := idx; i >= 0; i = m.parentIndexOf(i) {
		if !m.nodes[i].visible || m.nodes[i].Collapsed {
			return false
		}
	}
	return true
}

// RenderedList returns the current rendered projection: the pre-order list
// of visible nodes, exactly as the sink has seen it.
func (m *Model[T]) RenderedList() []*Node[T] {
	return renderedIn(m.nodes)
}

// ── Splice ──

// Splice replaces deleteCount sibling subtrees at loc with items. Depth,
// collapsibility, filter visibility and visible-node counts are recomputed
// for the inserted subtrees and the affected ancestors, then exactly one
// replace-range covering the rendered extent of the change is published to
// the sink. Returns the flattened inserted nodes.
//
// Panics if loc or deleteCount are out of range.
func (m *Model[T]) Splice(loc Location, deleteCount int, items []Item[T]) []*Node[T] {
	defer metrics.Timer(metrics.SpliceApply)()
	if deleteCount < 0 {
		panic("tree: invalid delete count")
	}
	parentIdx, insertIdx := m.resolve(loc)
	parentDepth := 0
	parentLimit := len(m.nodes)
	if parentIdx >= 0 {
		parentDepth = m.nodes[parentIdx].Depth
		parentLimit = m.subtreeEnd(parentIdx)
	}

	delEnd := insertIdx
	for i := 0; i < deleteCount; i++ {
		if delEnd >= parentLimit {
			panic(fmt.Sprintf("tree: invalid delete count %d at location %v", deleteCount, loc))
		}
		delEnd = m.subtreeEnd(delEnd)
	}
	deleted := make([]*Node[T], delEnd-insertIdx)
	copy(deleted, m.nodes[insertIdx:delEnd])

	var inserted []*Node[T]
	for _, it := range items {
		m.createNode(&inserted, it, parentDepth+1)
	}

	// Visible-node contribution of the replaced sibling range, before and
	// after, as seen by the parent.
	delta := topLevelVisibleCount(inserted, parentDepth+1) -
		topLevelVisibleCount(deleted, parentDepth+1)

	// Rendered coordinates must be computed against the old list.
	published := m.ancestorsRendered(parentIdx)
	var renderedStart int
	var renderedDeleted int
	if published {
		renderedStart = m.renderedCountBefore(insertIdx)
		renderedDeleted = len(renderedIn(deleted))
	}

	tail := m.nodes[delEnd:]
	next := make([]*Node[T], 0, insertIdx+len(inserted)+len(tail))
	next = append(next, m.nodes[:insertIdx]...)
	next = append(next, inserted...)
	next = append(next, tail...)
	m.nodes = next

	if parentIdx >= 0 {
		parent := m.nodes[parentIdx]
		if !parent.collapsiblePinned {
			parent.collapsible = m.subtreeEnd(parentIdx) > parentIdx+1
		}
		m.propagateCountDelta(parentIdx, delta)
	}

	if published && m.sink != nil {
		m.sink.Replace(renderedStart, renderedDeleted, renderedIn(inserted))
	}
	ev := SpliceEvent[T]{Inserted: inserted, Deleted: deleted}
	for _, fn := range m.spliceHandlers {
		if fn != nil {
			fn(ev)
		}
	}
	return inserted
}

// createNode flattens item into out in pre-order and returns the created
// node with its visible-node count already computed bottom-up.
func (m *Model[T]) createNode(out *[]*Node[T], item Item[T], depth int) *Node[T] {
	n := &Node[T]{
		Data:             item.Data,
		Depth:            depth,
		VisibleNodeCount: 1,
		visible:          true,
		collapsible:      len(item.Children) > 0,
	}
	if item.Collapsible != nil {
		n.collapsible = *item.Collapsible
		n.collapsiblePinned = true
	}
	if item.Collapsed != nil {
		n.Collapsed = *item.Collapsed && n.collapsible
	} else {
		n.Collapsed = m.collapseByDefault && n.collapsible
	}
	if m.filter != nil {
		r := m.filter.Filter(item.Data)
		n.visible = r.Visible
		n.Metadata = r.Metadata
	}
	*out = append(*out, n)

	sum := 0
	for _, c := range item.Children {
		cn := m.createNode(out, c, depth+1)
		if cn.visible {
			sum += cn.VisibleNodeCount
		}
	}
	if !n.Collapsed {
		n.VisibleNodeCount += sum
	}
	return n
}

// topLevelVisibleCount sums the visible-node counts of the depth-level
// nodes of a flattened segment, skipping filter-invisible ones.
func topLevelVisibleCount[T any](segment []*Node[T], depth int) int {
	sum := 0
	for _, n := range segment {
		if n.Depth == depth && n.visible {
			sum += n.VisibleNodeCount
		}
	}
	return sum
}

// propagateCountDelta adjusts VisibleNodeCount up the ancestor chain
// starting at index idx. Propagation stops at a collapsed node (children do
// not contribute to it) and does not pass a filter-invisible node (its
// subtree contributes nothing above it).
func (m *Model[T]) propagateCountDelta(idx, delta int) {
	for i := idx; i >= 0 && delta != 0; i = m.parentIndexOf(i) {
		n := m.nodes[i]
		if n.Collapsed {
			return
		}
		n.VisibleNodeCount += delta
		if !n.visible {
			return
		}
	}
}

// ── Collapse state ──

// SetCollapsed sets the collapse flag of the node at loc. It returns false
// without publishing or firing events when the node is not collapsible or
// already in the requested state. With recursive set, the same target state
// is applied to every collapsible descendant, and one collapse event fires
// per node whose state actually changed.
func (m *Model[T]) SetCollapsed(loc Location, collapsed, recursive bool) bool {
	return m.setCollapsed(m.indexOf(loc), collapsed, recursive, false)
}

// ToggleCollapsed flips the collapse flag of the node at loc; with recursive
// set, the node's new state is applied to its collapsible descendants too.
func (m *Model[T]) ToggleCollapsed(loc Location, recursive bool) bool {
	idx := m.indexOf(loc)
	return m.setCollapsed(idx, !m.nodes[idx].Collapsed, recursive, false)
}

func (m *Model[T]) setCollapsed(idx int, collapsed, recursive, force bool) bool {
	top := m.nodes[idx]
	end := m.subtreeEnd(idx)

	var changed []*Node[T]
	apply := func(n *Node[T]) {
		if !n.collapsible && !force {
			return
		}
		if n.Collapsed == collapsed {
			return
		}
		n.Collapsed = collapsed
		changed = append(changed, n)
	}
	apply(top)
	if recursive {
		for i := idx + 1; i < end; i++ {
			apply(m.nodes[i])
		}
	}
	if len(changed) == 0 {
		return false
	}

	oldCount := top.VisibleNodeCount
	m.recomputeCounts(idx)
	m.propagateCountDelta(m.parentIndexOf(idx), top.VisibleNodeCount-oldCount)

	if top.visible && m.ancestorsRendered(m.parentIndexOf(idx)) && m.sink != nil {
		start := m.renderedCountBefore(idx)
		m.sink.Replace(start, oldCount, renderedIn(m.nodes[idx:end]))
	}
	for _, n := range changed {
		ev := CollapseEvent[T]{Node: n, Collapsed: n.Collapsed}
		for _, fn := range m.collapseHandlers {
			if fn != nil {
				fn(ev)
			}
		}
	}
	return true
}

// recomputeCounts rebuilds VisibleNodeCount bottom-up for the subtree rooted
// at index idx and returns the new count of its root.
func (m *Model[T]) recomputeCounts(idx int) int {
	n := m.nodes[idx]
	end := m.subtreeEnd(idx)
	sum := 0
	for j := idx + 1; j < end; j = m.subtreeEnd(j) {
		count := m.recomputeCounts(j)
		if m.nodes[j].visible {
			sum += count
		}
	}
	n.VisibleNodeCount = 1
	if !n.Collapsed {
		n.VisibleNodeCount += sum
	}
	return n.VisibleNodeCount
}

// SetCollapsible pins the collapsible flag of the node at loc, overriding
// the automatic has-children derivation from then on. Pinning false on a
// collapsed node forces it to expand, since a non-collapsible node's
// children are always visible. Returns whether anything changed.
func (m *Model[T]) SetCollapsible(loc Location, collapsible bool) bool {
	idx := m.indexOf(loc)
	n := m.nodes[idx]
	changed := n.collapsible != collapsible
	n.collapsiblePinned = true
	n.collapsible = collapsible
	if !collapsible && n.Collapsed {
		m.setCollapsed(idx, false, false, true)
	}
	return changed
}

// SetExpandTo expands every collapsed ancestor of loc, root to leaf, so the
// node at loc becomes reachable in the rendered list. Panics if loc does not
// address an existing node.
func (m *Model[T]) SetExpandTo(loc Location) {
	m.indexOf(loc) // validate
	for i := 1; i < len(loc); i++ {
		anc := loc[:i]
		idx := m.indexOf(anc)
		if m.nodes[idx].Collapsed {
			m.setCollapsed(idx, false, false, false)
		}
	}
}

// ── Filtering ──

// Refilter re-evaluates filter visibility and metadata for the whole tree in
// pre-order and republishes the full rendered list. With visibleOnly set,
// descendants of currently collapsed nodes are skipped and keep their old
// metadata, since they are not observable; pass false before expanding when
// filtered content below collapsed nodes must be correct.
func (m *Model[T]) Refilter(visibleOnly bool) {
	defer metrics.Timer(metrics.Refilter)()
	oldRendered := m.renderedCountBefore(len(m.nodes))
	if m.filter != nil {
		skip := math.MaxInt
		for _, n := range m.nodes {
			if n.Depth >= skip {
				continue
			}
			skip = math.MaxInt
			r := m.filter.Filter(n.Data)
			n.visible = r.Visible
			n.Metadata = r.Metadata
			if visibleOnly && n.Collapsed {
				skip = n.Depth + 1
			}
		}
	}
	for i := 0; i < len(m.nodes); i = m.subtreeEnd(i) {
		m.recomputeCounts(i)
	}
	if m.sink != nil {
		m.sink.Replace(0, oldRendered, renderedIn(m.nodes))
	}
}
