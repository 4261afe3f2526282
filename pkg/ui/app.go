// Package ui is the terminal frontend: a tree pane backed by an async
// tree, a preview pane for the selected entry, and a filesystem watcher
// that keeps expanded directories fresh.
package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vanderheijden86/treeline/internal/datasource"
	"github.com/vanderheijden86/treeline/pkg/asynctree"
	"github.com/vanderheijden86/treeline/pkg/config"
	"github.com/vanderheijden86/treeline/pkg/debug"
	"github.com/vanderheijden86/treeline/pkg/watcher"
)

type opDoneMsg struct{ err error }

type watchChangedMsg struct{ dir string }

type asyncErrMsg struct{ err error }

// App is the root bubbletea model.
type App struct {
	theme   Theme
	cfg     *config.Config
	root    config.Root
	view    *TreeView
	preview *Preview
	watch   *watcher.Watcher

	width, height int
	focusPreview  bool
	err           error
	ready         bool
	quitting      bool

	asyncErrs chan error
}

// NewApp assembles the UI for one configured root. provider must match the
// root's driver.
func NewApp(cfg *config.Config, root config.Root, provider asynctree.ChildrenProvider[datasource.Entry], input datasource.Entry) *App {
	theme := DefaultTheme(lipgloss.DefaultRenderer())

	a := &App{
		theme:     theme,
		cfg:       cfg,
		root:      root,
		preview:   NewPreview(theme),
		asyncErrs: make(chan error, 8),
	}
	a.view = NewTreeView(theme, root.Name, root.Driver)

	t := asynctree.New[datasource.Entry](
		a.view, input, provider, datasource.IdentityOf,
		asynctree.WithErrorHandler[datasource.Entry](func(err error) {
			select {
			case a.asyncErrs <- err:
			default:
			}
		}),
	)
	a.view.Attach(t)

	if !cfg.Watch.Disabled && root.Driver == "fs" {
		a.watch = watcher.NewWatcher(
			watcher.WithDebounceDuration(cfg.Watch.Debounce()),
			watcher.WithPollInterval(cfg.Watch.Poll()),
		)
	}
	return a
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.initialLoad(), a.nextAsyncErr()}
	if a.watch != nil {
		if err := a.watch.Start(); err != nil {
			debug.Log("watcher start failed: %v", err)
			a.watch = nil
		} else {
			cmds = append(cmds, a.nextWatchEvent())
		}
	}
	return tea.Batch(cmds...)
}

func (a *App) initialLoad() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		if err := a.view.RefreshAll(ctx); err != nil {
			return opDoneMsg{err: err}
		}
		return opDoneMsg{err: a.view.ApplyState(ctx)}
	}
}

func (a *App) nextWatchEvent() tea.Cmd {
	return func() tea.Msg {
		dir, ok := <-a.watch.Changed()
		if !ok {
			return nil
		}
		return watchChangedMsg{dir: dir}
	}
}

func (a *App) nextAsyncErr() tea.Cmd {
	return func() tea.Msg {
		return asyncErrMsg{err: <-a.asyncErrs}
	}
}

// op runs a blocking tree operation off the UI goroutine.
func (a *App) op(fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return opDoneMsg{err: fn(context.Background())}
	}
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.layout()
		a.ready = true
		return a, nil

	case opDoneMsg:
		a.err = msg.err
		a.syncWatcher()
		return a, nil

	case asyncErrMsg:
		a.err = msg.err
		return a, a.nextAsyncErr()

	case watchChangedMsg:
		dir := msg.dir
		return a, tea.Batch(
			a.op(func(ctx context.Context) error {
				return a.view.RefreshDir(ctx, dir)
			}),
			a.nextWatchEvent(),
		)

	case tea.KeyMsg:
		return a.handleKey(msg)
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.view.Searching() {
		return a.handleSearchKey(msg)
	}

	if a.focusPreview {
		switch msg.String() {
		case "j", "down":
			a.preview.ScrollDown(1)
			return a, nil
		case "k", "up":
			a.preview.ScrollUp(1)
			return a, nil
		case "ctrl+d", "pgdown":
			a.preview.ScrollDown(10)
			return a, nil
		case "ctrl+u", "pgup":
			a.preview.ScrollUp(10)
			return a, nil
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		a.quitting = true
		if err := a.view.SaveState(); err != nil {
			debug.Log("saving state: %v", err)
		}
		if a.watch != nil {
			a.watch.Stop()
		}
		return a, tea.Quit

	case "j", "down":
		a.view.MoveDown()
	case "k", "up":
		a.view.MoveUp()
	case "g", "home":
		a.view.JumpToTop()
	case "G", "end":
		a.view.JumpToBottom()
	case "ctrl+d", "pgdown":
		a.view.PageDown()
	case "ctrl+u", "pgup":
		a.view.PageUp()
	case "p":
		a.view.JumpToParent()
	case "J":
		a.view.NextSibling()
	case "K":
		a.view.PrevSibling()

	case "enter", " ":
		return a, a.op(a.view.Toggle)
	case "l", "right":
		return a, a.op(a.view.ExpandOrMoveToChild)
	case "h", "left":
		return a, a.op(a.view.CollapseOrJumpToParent)
	case "L":
		if a.cfg.Experimental.RecursiveExpandEnabled() {
			return a, a.op(func(ctx context.Context) error {
				return a.view.Expand(ctx, true)
			})
		}
	case "H":
		return a, a.op(func(ctx context.Context) error {
			return a.view.Collapse(ctx, true)
		})

	case "r":
		return a, a.op(a.view.RefreshAll)

	case "/":
		a.view.StartSearch()
	case "n":
		return a, a.op(a.view.NextMatch)
	case "N":
		return a, a.op(a.view.PrevMatch)

	case "y":
		if e, ok := a.view.Selected(); ok {
			a.err = CopyPath(e)
		}

	case "tab":
		a.focusPreview = !a.focusPreview
	}
	return a, nil
}

func (a *App) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.view.CancelSearch()
	case "enter":
		a.view.AcceptSearch()
		return a, a.op(a.view.NextMatch)
	case "backspace":
		if q := []rune(a.view.SearchQuery()); len(q) > 0 {
			a.view.SetSearchQuery(string(q[:len(q)-1]))
		}
	default:
		if msg.Type == tea.KeyRunes {
			a.view.SetSearchQuery(a.view.SearchQuery() + string(msg.Runes))
		}
	}
	return a, nil
}

// layout distributes the window between the two panes per the configured
// split ratio.
func (a *App) layout() {
	treeWidth := int(float64(a.width) * a.cfg.UI.SplitRatio)
	if treeWidth < 20 {
		treeWidth = a.width
	}
	previewWidth := a.width - treeWidth
	innerHeight := a.height - 3 // panel borders and footer

	a.view.SetSize(treeWidth-2, innerHeight)
	a.preview.SetSize(previewWidth-2, innerHeight)
}

// syncWatcher makes the watched directory set track the expanded branches.
func (a *App) syncWatcher() {
	if a.watch == nil {
		return
	}
	want := make(map[string]bool)
	for _, dir := range a.view.ExpandedBranches() {
		want[dir] = true
	}
	for _, dir := range a.watch.Watched() {
		if !want[dir] {
			a.watch.Unwatch(dir)
		}
		delete(want, dir)
	}
	for dir := range want {
		if err := a.watch.Watch(dir); err != nil {
			debug.Log("watching %s: %v", dir, err)
		}
	}
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return ""
	}
	if !a.ready {
		return "loading..."
	}

	treePanel := PanelStyle
	previewPanel := PanelStyle
	if a.focusPreview {
		previewPanel = FocusedPanelStyle
	} else {
		treePanel = FocusedPanelStyle
	}

	left := treePanel.Render(a.view.View())
	body := left
	if a.width-int(float64(a.width)*a.cfg.UI.SplitRatio) >= 20 {
		var right string
		if e, ok := a.view.Selected(); ok {
			right = a.preview.Render(e)
		}
		body = lipgloss.JoinHorizontal(lipgloss.Top, left, previewPanel.Render(right))
	}

	footer := a.theme.MutedText.Render(
		"j/k move · enter toggle · h/l collapse/expand · / search · y copy path · r refresh · q quit")
	if a.err != nil {
		footer = a.theme.ErrorText.Render(truncate(a.err.Error(), a.width))
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, footer)
}
