package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"

	"github.com/vanderheijden86/treeline/internal/datasource"
	"github.com/vanderheijden86/treeline/pkg/asynctree"
	"github.com/vanderheijden86/treeline/pkg/metrics"
	"github.com/vanderheijden86/treeline/pkg/tree"
	"github.com/vanderheijden86/treeline/pkg/treestate"
)

// TreeView is the scrolling tree pane. It is the render sink of an async
// tree: the model pushes replace-ranges of the currently rendered rows into
// it, and the view keeps a flat mirror it can paint a window of without
// consulting the model again.
//
// The mirror is mutated from refresh goroutines while the UI thread reads
// it, so every access goes through the mutex.
type TreeView struct {
	theme Theme

	mu             sync.Mutex
	rows           []*tree.Node[datasource.Entry]
	cursor         int
	viewportOffset int
	width, height  int

	tree     *asynctree.Tree[datasource.Entry]
	state    *treestate.State
	rootName string
	driver   string

	searchMode    bool
	searchQuery   string
	searchMatches []string
	searchIndex   int
}

// NewTreeView creates the pane for the named root. Attach must be called
// with the async tree before any operation that expands or collapses.
func NewTreeView(theme Theme, rootName, driver string) *TreeView {
	return &TreeView{
		theme:    theme,
		rootName: rootName,
		driver:   driver,
		state:    treestate.Load(rootName),
		width:    80,
		height:   24,
	}
}

// Attach wires the async tree whose sink this view is.
func (v *TreeView) Attach(t *asynctree.Tree[datasource.Entry]) {
	v.mu.Lock()
	v.tree = t
	v.mu.Unlock()
}

// SetSize updates the pane dimensions.
func (v *TreeView) SetSize(width, height int) {
	v.mu.Lock()
	v.width = width
	v.height = height
	v.ensureCursorVisible()
	v.mu.Unlock()
}

// Replace implements tree.Sink.
func (v *TreeView) Replace(start, deleteCount int, inserted []*tree.Node[datasource.Entry]) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rest := v.rows[start+deleteCount:]
	v.rows = append(v.rows[:start:start], append(inserted, rest...)...)
	if v.cursor >= len(v.rows) {
		v.cursor = len(v.rows) - 1
	}
	if v.cursor < 0 {
		v.cursor = 0
	}
	v.ensureCursorVisible()
}

// Rows returns a snapshot of the rendered rows.
func (v *TreeView) Rows() []*tree.Node[datasource.Entry] {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*tree.Node[datasource.Entry], len(v.rows))
	copy(out, v.rows)
	return out
}

// Selected returns the entry under the cursor.
func (v *TreeView) Selected() (datasource.Entry, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.rows) == 0 {
		return datasource.Entry{}, false
	}
	return v.rows[v.cursor].Data, true
}

// Cursor returns the cursor's row index.
func (v *TreeView) Cursor() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cursor
}

// ── Navigation ──

func (v *TreeView) MoveUp() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cursor > 0 {
		v.cursor--
		v.ensureCursorVisible()
	}
}

func (v *TreeView) MoveDown() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cursor < len(v.rows)-1 {
		v.cursor++
		v.ensureCursorVisible()
	}
}

func (v *TreeView) JumpToTop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cursor = 0
	v.ensureCursorVisible()
}

func (v *TreeView) JumpToBottom() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.rows) > 0 {
		v.cursor = len(v.rows) - 1
	}
	v.ensureCursorVisible()
}

func (v *TreeView) PageDown() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cursor += v.effectiveVisibleCount()
	if v.cursor > len(v.rows)-1 {
		v.cursor = len(v.rows) - 1
	}
	if v.cursor < 0 {
		v.cursor = 0
	}
	v.ensureCursorVisible()
}

func (v *TreeView) PageUp() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cursor -= v.effectiveVisibleCount()
	if v.cursor < 0 {
		v.cursor = 0
	}
	v.ensureCursorVisible()
}

// JumpToParent moves the cursor to the nearest preceding row one level up.
func (v *TreeView) JumpToParent() {
	v.mu.Lock()
	defer v.mu.Unlock()
	idx := v.parentIndex(v.cursor)
	if idx >= 0 {
		v.cursor = idx
		v.ensureCursorVisible()
	}
}

// NextSibling moves to the next row at the same depth, staying within the
// current parent.
func (v *TreeView) NextSibling() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.rows) == 0 {
		return
	}
	d := v.rows[v.cursor].Depth
	for j := v.cursor + 1; j < len(v.rows); j++ {
		if v.rows[j].Depth < d {
			return
		}
		if v.rows[j].Depth == d {
			v.cursor = j
			v.ensureCursorVisible()
			return
		}
	}
}

// PrevSibling moves to the previous row at the same depth, staying within
// the current parent.
func (v *TreeView) PrevSibling() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.rows) == 0 {
		return
	}
	d := v.rows[v.cursor].Depth
	for j := v.cursor - 1; j >= 0; j-- {
		if v.rows[j].Depth < d {
			return
		}
		if v.rows[j].Depth == d {
			v.cursor = j
			v.ensureCursorVisible()
			return
		}
	}
}

// ── Expand / collapse ──

// Toggle flips the selected row between expanded and collapsed.
func (v *TreeView) Toggle(ctx context.Context) error {
	row, ok := v.selectedRow()
	if !ok || !row.Collapsible() {
		return nil
	}
	_, err := v.tree.ToggleCollapseOrExpand(ctx, row.Data, false)
	v.recordState(row.Data.ID)
	return err
}

// Expand expands the selected row.
func (v *TreeView) Expand(ctx context.Context, recursive bool) error {
	row, ok := v.selectedRow()
	if !ok || !row.Collapsible() {
		return nil
	}
	_, err := v.tree.Expand(ctx, row.Data, recursive)
	v.recordState(row.Data.ID)
	return err
}

// Collapse collapses the selected row.
func (v *TreeView) Collapse(ctx context.Context, recursive bool) error {
	row, ok := v.selectedRow()
	if !ok || !row.Collapsible() {
		return nil
	}
	_, err := v.tree.Collapse(ctx, row.Data, recursive)
	v.recordState(row.Data.ID)
	return err
}

// ExpandOrMoveToChild expands a collapsed branch, or descends into the
// first child when the branch is already open.
func (v *TreeView) ExpandOrMoveToChild(ctx context.Context) error {
	row, ok := v.selectedRow()
	if !ok {
		return nil
	}
	if row.Collapsible() && row.Collapsed {
		return v.Expand(ctx, false)
	}

	v.mu.Lock()
	if v.cursor < len(v.rows)-1 && v.rows[v.cursor+1].Depth > row.Depth {
		v.cursor++
		v.ensureCursorVisible()
	}
	v.mu.Unlock()
	return nil
}

// CollapseOrJumpToParent collapses an open branch, or jumps to the parent
// when the row is a leaf or already collapsed.
func (v *TreeView) CollapseOrJumpToParent(ctx context.Context) error {
	row, ok := v.selectedRow()
	if !ok {
		return nil
	}
	if row.Collapsible() && !row.Collapsed {
		return v.Collapse(ctx, false)
	}
	v.JumpToParent()
	return nil
}

// RefreshAll re-discovers the whole tree.
func (v *TreeView) RefreshAll(ctx context.Context) error {
	return v.tree.Refresh(ctx)
}

// RefreshDir refreshes the subtree of the entry with the given ID, if the
// tree has discovered it.
func (v *TreeView) RefreshDir(ctx context.Context, id string) error {
	probe := datasource.Entry{ID: id}
	if !v.tree.Has(probe) {
		return nil
	}
	return v.tree.RefreshData(ctx, probe)
}

// ExpandedBranches returns the IDs of the currently expanded branch rows,
// sorted. This is the set of directories worth watching for changes.
func (v *TreeView) ExpandedBranches() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []string
	for _, row := range v.rows {
		if row.Collapsible() && !row.Collapsed {
			out = append(out, row.Data.ID)
		}
	}
	sort.Strings(out)
	return out
}

// ApplyState re-expands the branches recorded in the persisted state.
// Expansion discovers children level by level, so passes repeat until no
// recorded branch remains collapsed (bounded, in case state references
// nodes that no longer exist).
func (v *TreeView) ApplyState(ctx context.Context) error {
	for pass := 0; pass < 32; pass++ {
		var pending []datasource.Entry
		v.mu.Lock()
		for _, row := range v.rows {
			want, ok := v.state.Get(row.Data.ID)
			if ok && want && row.Collapsible() && row.Collapsed {
				pending = append(pending, row.Data)
			}
		}
		v.mu.Unlock()

		if len(pending) == 0 {
			return nil
		}
		for _, e := range pending {
			if _, err := v.tree.Expand(ctx, e, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// SaveState persists the expansion state.
func (v *TreeView) SaveState() error {
	return treestate.Save(v.rootName, v.state)
}

func (v *TreeView) selectedRow() (*tree.Node[datasource.Entry], bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.rows) == 0 {
		return nil, false
	}
	return v.rows[v.cursor], true
}

// recordState captures the row's post-toggle collapse flag into the
// persisted state.
func (v *TreeView) recordState(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, row := range v.rows {
		if row.Data.ID == id {
			v.state.Set(id, !row.Collapsed)
			return
		}
	}
	// Collapsed under a collapsed ancestor: the row left the rendered
	// projection, which only happens for collapsed nodes.
	v.state.Set(id, false)
}

// ── Search ──

// StartSearch enters search mode with an empty query.
func (v *TreeView) StartSearch() {
	v.mu.Lock()
	v.searchMode = true
	v.searchQuery = ""
	v.searchMatches = nil
	v.searchIndex = 0
	v.mu.Unlock()
}

// CancelSearch leaves search mode and clears the query.
func (v *TreeView) CancelSearch() {
	v.mu.Lock()
	v.searchMode = false
	v.searchQuery = ""
	v.searchMatches = nil
	v.mu.Unlock()
}

// AcceptSearch leaves input mode but keeps the query and matches for n/N
// cycling.
func (v *TreeView) AcceptSearch() {
	v.mu.Lock()
	v.searchMode = false
	v.mu.Unlock()
}

// Searching reports whether the view is in search input mode.
func (v *TreeView) Searching() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.searchMode
}

// SetSearchQuery updates the query and recomputes matches over every
// discovered node, not just the rendered ones, so hits inside collapsed
// branches are found too.
func (v *TreeView) SetSearchQuery(query string) {
	q := strings.ToLower(query)
	var matches []string
	if q != "" {
		v.tree.Model().Walk(func(n *asynctree.Node[datasource.Entry]) bool {
			if strings.Contains(strings.ToLower(n.Data().Name), q) {
				matches = append(matches, n.Data().ID)
			}
			return true
		})
	}

	v.mu.Lock()
	v.searchQuery = query
	v.searchMatches = matches
	v.searchIndex = -1
	v.mu.Unlock()
}

// SearchQuery returns the current query.
func (v *TreeView) SearchQuery() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.searchQuery
}

// MatchCount returns the number of matches for the current query.
func (v *TreeView) MatchCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.searchMatches)
}

// NextMatch selects the next search match, expanding its ancestors as
// needed to bring it into the rendered list.
func (v *TreeView) NextMatch(ctx context.Context) error {
	return v.cycleMatch(ctx, 1)
}

// PrevMatch selects the previous search match.
func (v *TreeView) PrevMatch(ctx context.Context) error {
	return v.cycleMatch(ctx, -1)
}

func (v *TreeView) cycleMatch(ctx context.Context, dir int) error {
	v.mu.Lock()
	n := len(v.searchMatches)
	if n == 0 {
		v.mu.Unlock()
		return nil
	}
	switch {
	case v.searchIndex < 0 && dir > 0:
		v.searchIndex = 0
	case v.searchIndex < 0:
		v.searchIndex = n - 1
	default:
		v.searchIndex = ((v.searchIndex+dir)%n + n) % n
	}
	id := v.searchMatches[v.searchIndex]
	v.mu.Unlock()
	return v.SelectByID(ctx, id)
}

// SelectByID expands the ancestor chain of the entry with the given ID and
// places the cursor on its row.
func (v *TreeView) SelectByID(ctx context.Context, id string) error {
	var chain []datasource.Entry
	v.tree.Model().Walk(func(n *asynctree.Node[datasource.Entry]) bool {
		if n.Data().ID != id {
			return true
		}
		for p := n.Parent(); p != nil && p.Parent() != nil; p = p.Parent() {
			chain = append(chain, p.Data())
		}
		return false
	})

	// Outermost ancestor first.
	for i := len(chain) - 1; i >= 0; i-- {
		if _, err := v.tree.Expand(ctx, chain[i], false); err != nil {
			return err
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for i, row := range v.rows {
		if row.Data.ID == id {
			v.cursor = i
			v.ensureCursorVisible()
			return nil
		}
	}
	return nil
}

// ── Rendering ──

// View paints the pane: header, the visible row window, a position
// indicator, and the search bar when a search is active.
func (v *TreeView) View() string {
	defer metrics.Timer(metrics.UIRender)()

	v.mu.Lock()
	defer v.mu.Unlock()

	var b strings.Builder
	b.WriteString(v.renderHeader())
	b.WriteString("\n")

	visible := v.effectiveVisibleCount()
	end := v.viewportOffset + visible
	if end > len(v.rows) {
		end = len(v.rows)
	}
	for i := v.viewportOffset; i < end; i++ {
		b.WriteString(v.renderRow(i))
		b.WriteString("\n")
	}
	for i := end - v.viewportOffset; i < visible; i++ {
		b.WriteString("\n")
	}

	b.WriteString(v.renderPositionIndicator())
	if v.searchMode || v.searchQuery != "" {
		b.WriteString("\n")
		b.WriteString(v.renderSearchBar())
	}
	return b.String()
}

func (v *TreeView) renderHeader() string {
	title := fmt.Sprintf("%s %s", RenderDriverBadge(v.driver), v.rootName)
	return v.theme.Header.Render(truncateRunesHelper(title, v.width, "…"))
}

// effectiveVisibleCount is the number of tree rows that fit: the height
// minus the header, the position indicator and, when active, the search
// bar.
func (v *TreeView) effectiveVisibleCount() int {
	h := v.height - 2
	if v.searchMode || v.searchQuery != "" {
		h--
	}
	if h < 1 {
		h = 1
	}
	return h
}

func (v *TreeView) ensureCursorVisible() {
	visible := v.effectiveVisibleCount()
	if v.cursor < v.viewportOffset {
		v.viewportOffset = v.cursor
	}
	if v.cursor >= v.viewportOffset+visible {
		v.viewportOffset = v.cursor - visible + 1
	}
	if v.viewportOffset < 0 {
		v.viewportOffset = 0
	}
}

func (v *TreeView) renderPositionIndicator() string {
	total := len(v.rows)
	if total == 0 {
		return v.theme.MutedText.Render("empty")
	}
	visible := v.effectiveVisibleCount()
	page := v.viewportOffset/visible + 1
	pages := (total + visible - 1) / visible
	start := v.viewportOffset + 1
	end := v.viewportOffset + visible
	if end > total {
		end = total
	}
	return v.theme.MutedText.Render(
		fmt.Sprintf("Page %d/%d (%d-%d of %d)", page, pages, start, end, total))
}

func (v *TreeView) renderSearchBar() string {
	bar := "/" + v.searchQuery
	if !v.searchMode && len(v.searchMatches) > 0 {
		cur := v.searchIndex
		if cur < 0 {
			cur = 0
		}
		bar += fmt.Sprintf(" [%d/%d]", cur+1, len(v.searchMatches))
	}
	if !v.searchMode && len(v.searchMatches) == 0 && v.searchQuery != "" {
		bar += " [no matches]"
	}
	return v.theme.SearchMatch.Render(truncateRunesHelper(bar, v.width, "…"))
}

func (v *TreeView) renderRow(i int) string {
	row := v.rows[i]
	e := row.Data

	prefix := v.treePrefix(i)
	indicator := v.expandIndicator(row)

	nameStyle := v.theme.LeafName
	switch {
	case strings.HasPrefix(e.Name, "."):
		nameStyle = v.theme.HiddenName
	case e.IsBranch:
		nameStyle = v.theme.BranchName
	}

	right := ""
	if !e.IsBranch && e.Size > 0 {
		right = FormatSize(e.Size)
	}
	if !e.ModTime.IsZero() {
		if right != "" {
			right += "  "
		}
		right += FormatTimeRel(e.ModTime)
	}

	rightWidth := runewidth.StringWidth(right)
	leftBudget := v.width - rightWidth - SpaceSM
	if i == v.cursor {
		leftBudget -= 2 // selection border and padding
	}
	if leftBudget < 8 {
		leftBudget = 8
	}

	prefixWidth := runewidth.StringWidth(prefix) + 2 // indicator and space
	name := truncateRunesHelper(e.Name, leftBudget-prefixWidth, "…")
	left := v.theme.TreeLines.Render(prefix) +
		indicator + " " + nameStyle.Render(name)

	pad := leftBudget - prefixWidth - runewidth.StringWidth(name)
	if pad < 0 {
		pad = 0
	}
	line := left + strings.Repeat(" ", pad) + v.theme.MutedText.Render(right)

	if i == v.cursor {
		return v.theme.Selected.Render(line)
	}
	return " " + line
}

func (v *TreeView) expandIndicator(row *tree.Node[datasource.Entry]) string {
	if !row.Collapsible() {
		return "•"
	}
	if row.Collapsed {
		return "▸"
	}
	return "▾"
}

// treePrefix builds the branch guides for row i. Each ancestor level
// contributes a vertical bar when more siblings follow at that level, and
// the row itself gets an elbow or tee connector.
func (v *TreeView) treePrefix(i int) string {
	row := v.rows[i]
	if row.Depth <= 0 {
		return ""
	}

	var b strings.Builder
	for level := 1; level < row.Depth; level++ {
		anc := v.ancestorIndex(i, level)
		if anc >= 0 && v.hasSiblingBelow(anc) {
			b.WriteString("│   ")
		} else {
			b.WriteString("    ")
		}
	}
	if v.hasSiblingBelow(i) {
		b.WriteString("├── ")
	} else {
		b.WriteString("└── ")
	}
	return b.String()
}

// ancestorIndex finds the nearest preceding row at the given depth.
func (v *TreeView) ancestorIndex(i, depth int) int {
	for j := i - 1; j >= 0; j-- {
		if v.rows[j].Depth == depth {
			return j
		}
		if v.rows[j].Depth < depth {
			return -1
		}
	}
	return -1
}

// hasSiblingBelow reports whether another row at the same depth follows
// before the subtree of row i's parent ends.
func (v *TreeView) hasSiblingBelow(i int) bool {
	d := v.rows[i].Depth
	for j := i + 1; j < len(v.rows); j++ {
		if v.rows[j].Depth < d {
			return false
		}
		if v.rows[j].Depth == d {
			return true
		}
	}
	return false
}

func (v *TreeView) parentIndex(i int) int {
	if i < 0 || i >= len(v.rows) {
		return -1
	}
	d := v.rows[i].Depth
	for j := i - 1; j >= 0; j-- {
		if v.rows[j].Depth < d {
			return j
		}
	}
	return -1
}
