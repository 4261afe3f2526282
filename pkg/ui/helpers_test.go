package ui

import (
	"strings"
	"testing"
	"time"
)

func TestFormatTimeRel(t *testing.T) {
	cases := []struct {
		age  time.Duration
		want string
	}{
		{30 * time.Second, "now"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{48 * time.Hour, "2d ago"},
		{14 * 24 * time.Hour, "2w ago"},
		{90 * 24 * time.Hour, "3mo ago"},
	}
	for _, c := range cases {
		got := FormatTimeRel(time.Now().Add(-c.age))
		if got != c.want {
			t.Errorf("FormatTimeRel(-%v) = %q, want %q", c.age, got, c.want)
		}
	}
}

func TestFormatTimeRelEdgeCases(t *testing.T) {
	if got := FormatTimeRel(time.Time{}); got != "unknown" {
		t.Errorf("zero time = %q, want unknown", got)
	}
	if got := FormatTimeRel(time.Now().Add(time.Hour)); got != "now" {
		t.Errorf("future time = %q, want now", got)
	}
}

func TestFormatSize(t *testing.T) {
	if got := FormatSize(-1); got != "" {
		t.Errorf("negative size = %q, want empty", got)
	}
	if got := FormatSize(0); got == "" {
		t.Error("zero size should still format")
	}
	if got := FormatSize(1500); !strings.Contains(got, "kB") {
		t.Errorf("1500 bytes = %q, want kB unit", got)
	}
}

func TestTruncateRunesHelper(t *testing.T) {
	if got := truncateRunesHelper("hello", 10, "…"); got != "hello" {
		t.Errorf("no-op truncate = %q", got)
	}
	if got := truncateRunesHelper("hello world", 8, "…"); got != "hello w…" {
		t.Errorf("truncated = %q", got)
	}
	if got := truncateRunesHelper("anything", 0, "…"); got != "" {
		t.Errorf("zero width = %q", got)
	}
	// Wide runes count as two cells.
	if got := truncateRunesHelper("日本語テキスト", 6, ""); got != "日本語" {
		t.Errorf("wide truncate = %q", got)
	}
}

func TestPadRight(t *testing.T) {
	if got := padRight("ab", 5); got != "ab   " {
		t.Errorf("padRight = %q", got)
	}
	if got := padRight("abcdef", 3); got != "abcdef" {
		t.Errorf("padRight overlong = %q", got)
	}
}
