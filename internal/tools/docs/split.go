package docs

import (
	"strings"

	"github.com/vijoin/tero/internal/tokens"
)

// markdownSeparators are tried in order, from headings down to single
// characters. A separator stays attached to the start of the piece after it.
var markdownSeparators = []string{
	"\n# ",
	"\n## ",
	"\n### ",
	"\n#### ",
	"\n```\n",
	"\n\n",
	"\n",
	". ",
	" ",
	"",
}

// Splitter cuts text into chunks of at most Size estimated tokens. Adjacent
// chunks share up to Overlap tokens of trailing pieces.
type Splitter struct {
	Size    int
	Overlap int
}

// Split returns the non-empty chunks of text.
func (s Splitter) Split(text string) []string {
	if s.Size <= 0 {
		s.Size = DefaultChunkSize
	}
	if s.Overlap < 0 || s.Overlap >= s.Size {
		s.Overlap = 0
	}
	var out []string
	for _, c := range s.split(text, markdownSeparators) {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func (s Splitter) split(text string, separators []string) []string {
	sep, rest := "", []string(nil)
	for i, candidate := range separators {
		if candidate == "" || strings.Contains(text, candidate) {
			sep, rest = candidate, separators[i+1:]
			break
		}
	}

	var out, fitting []string
	for _, piece := range splitKeep(text, sep) {
		if tokens.Text(piece) <= s.Size {
			fitting = append(fitting, piece)
			continue
		}
		if len(fitting) > 0 {
			out = append(out, s.merge(fitting)...)
			fitting = nil
		}
		if len(rest) == 0 {
			out = append(out, piece)
			continue
		}
		out = append(out, s.split(piece, rest)...)
	}
	if len(fitting) > 0 {
		out = append(out, s.merge(fitting)...)
	}
	return out
}

// merge packs pieces into chunks, carrying trailing pieces of each chunk
// into the next one while they fit in the overlap.
func (s Splitter) merge(pieces []string) []string {
	var (
		out     []string
		current []string
		sizes   []int
		total   int
	)
	for _, piece := range pieces {
		n := tokens.Text(piece)
		if len(current) > 0 && total+n > s.Size {
			out = append(out, strings.Join(current, ""))
			for len(current) > 0 && (total > s.Overlap || total+n > s.Size) {
				total -= sizes[0]
				current, sizes = current[1:], sizes[1:]
			}
		}
		current = append(current, piece)
		sizes = append(sizes, n)
		total += n
	}
	if len(current) > 0 {
		out = append(out, strings.Join(current, ""))
	}
	return out
}

func splitKeep(text, sep string) []string {
	if sep == "" {
		runes := []rune(text)
		out := make([]string, len(runes))
		for i, r := range runes {
			out[i] = string(r)
		}
		return out
	}
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
