package tokens

import (
	"strings"
	"testing"
)

func TestText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"empty", "", 0},
		{"single word", "Hi", 2},
		{"prose uses word estimate", "the quick brown fox jumps over the lazy dog", 12},
		{"dense text uses char estimate", strings.Repeat("x", 40), 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(tt.input); got != tt.want {
				t.Errorf("Text(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	s := strings.Repeat("abcd ", 100)

	for _, max := range []int{0, 1, 5, 17, 64} {
		got := Truncate(s, max)
		if Text(got) > max {
			t.Errorf("Truncate(_, %d) estimate = %d, exceeds max", max, Text(got))
		}
		if !strings.HasPrefix(s, got) {
			t.Errorf("Truncate(_, %d) is not a prefix of the input", max)
		}
	}

	if got := Truncate("short", 100); got != "short" {
		t.Errorf("Truncate() of fitting text = %q, want unchanged", got)
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	s := strings.Repeat("héllo wörld ", 50)
	got := Truncate(s, 10)
	for i, r := range got {
		if r == '�' {
			t.Fatalf("Truncate() produced invalid rune at byte %d", i)
		}
	}
}

func TestJSON(t *testing.T) {
	v := map[string]any{"name": "docs", "description": "search documents"}
	if got := JSON(v); got <= 0 {
		t.Errorf("JSON() = %d, want positive", got)
	}
	if got := JSON(make(chan int)); got != 0 {
		t.Errorf("JSON() of unencodable value = %d, want 0", got)
	}
}
