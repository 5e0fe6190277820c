// Package tokens estimates model token counts without a vendor tokenizer.
//
// An estimate is the larger of a word-based and a character-based count.
package tokens

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

const (
	// MessageOverhead is the framing cost charged per chat message.
	MessageOverhead = 4

	// ImageTokens is the flat cost charged per inline image.
	ImageTokens = 85
)

// Text returns the estimated token count of s.
func Text(s string) int {
	if s == "" {
		return 0
	}
	words := len(strings.Fields(s))
	// ceil(words * 4/3) and ceil(runes / 4)
	wordEstimate := (words*4 + 2) / 3
	charEstimate := (utf8.RuneCountInString(s) + 3) / 4
	if wordEstimate > charEstimate {
		return wordEstimate
	}
	return charEstimate
}

// JSON returns the estimated token count of the JSON encoding of v.
func JSON(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return Text(string(data))
}

// Truncate returns the longest leading prefix of s whose estimate does not
// exceed max. The cut always falls on a rune boundary.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if Text(s) <= max {
		return s
	}
	runes := []rune(s)
	// Text is monotonic over prefixes, so the largest fitting prefix can be
	// found by bisection.
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if Text(string(runes[:mid])) <= max {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}
