package ui

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"

	"github.com/vanderheijden86/treeline/internal/datasource"
)

// previewReadLimit caps how much of a file the preview loads.
const previewReadLimit = 256 * 1024

// Preview is the right-hand detail pane for the selected entry. Markdown
// files are rendered with glamour, other text files are shown raw, binary
// files get a placeholder. The body scrolls through a viewport; scroll
// position resets when the selection changes.
type Preview struct {
	theme         Theme
	width, height int
	renderer      *glamour.TermRenderer
	vp            viewport.Model
	current       string
}

// NewPreview creates the pane. The glamour renderer is created lazily on
// first markdown render because it depends on the pane width.
func NewPreview(theme Theme) *Preview {
	return &Preview{
		theme:  theme,
		width:  80,
		height: 24,
		vp:     viewport.New(80, 20),
	}
}

// SetSize updates the pane dimensions and invalidates the markdown
// renderer, which bakes in the word-wrap width.
func (p *Preview) SetSize(width, height int) {
	if width != p.width {
		p.renderer = nil
		p.current = ""
	}
	p.width = width
	p.height = height
	p.vp.Width = width
	p.vp.Height = bodyHeight(height)
}

func bodyHeight(paneHeight int) int {
	h := paneHeight - 3 // header, meta, divider
	if h < 1 {
		h = 1
	}
	return h
}

// ScrollDown scrolls the body down by n lines.
func (p *Preview) ScrollDown(n int) {
	p.vp.SetYOffset(p.vp.YOffset + n)
}

// ScrollUp scrolls the body up by n lines.
func (p *Preview) ScrollUp(n int) {
	p.vp.SetYOffset(p.vp.YOffset - n)
}

// Render paints the pane for the given entry.
func (p *Preview) Render(e datasource.Entry) string {
	if e.ID != p.current {
		p.current = e.ID
		p.vp.SetContent(p.renderBody(e))
		p.vp.SetYOffset(0)
	}

	var b strings.Builder
	b.WriteString(p.theme.Header.Render(truncateRunesHelper(e.Name, p.width, "…")))
	b.WriteString("\n")
	b.WriteString(p.renderMeta(e))
	b.WriteString(RenderDivider(p.width))
	b.WriteString("\n")
	b.WriteString(p.vp.View())
	return b.String()
}

func (p *Preview) renderMeta(e datasource.Entry) string {
	var parts []string
	if e.IsBranch {
		parts = append(parts, "directory")
	} else if e.Size > 0 {
		parts = append(parts, FormatSize(e.Size))
	}
	if !e.ModTime.IsZero() {
		parts = append(parts, "modified "+FormatTimeRel(e.ModTime))
	}
	if len(parts) == 0 {
		return "\n"
	}
	return p.theme.MutedText.Render(strings.Join(parts, " · ")) + "\n"
}

func (p *Preview) renderBody(e datasource.Entry) string {
	if e.IsBranch {
		return p.theme.SecondaryText.Render(e.ID)
	}

	data, err := readHead(e.ID, previewReadLimit)
	if err != nil {
		return p.theme.ErrorText.Render(fmt.Sprintf("cannot read: %v", err))
	}
	if len(data) == 0 {
		return p.theme.MutedText.Render("(empty file)")
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return p.theme.MutedText.Render("(binary file)")
	}

	if strings.HasSuffix(strings.ToLower(e.Name), ".md") {
		if out, err := p.renderMarkdown(string(data)); err == nil {
			return out
		}
		// Markdown rendering failed: fall through to the raw view.
	}
	return string(data)
}

func (p *Preview) renderMarkdown(src string) (string, error) {
	if p.renderer == nil {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(p.width),
		)
		if err != nil {
			return "", err
		}
		p.renderer = r
	}
	return p.renderer.Render(src)
}

// CopyPath puts the entry's ID (its path or primary key) on the system
// clipboard.
func CopyPath(e datasource.Entry) error {
	return clipboard.WriteAll(e.ID)
}

func readHead(path string, limit int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, limit)
	n, err := f.Read(buf)
	if n == 0 && err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}
