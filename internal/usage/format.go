package usage

import (
	"fmt"
	"math"
	"strings"
)

// FormatTokenCount formats a token count compactly (1.5k, 15k, 1.2m).
func FormatTokenCount(count int64) string {
	if count <= 0 {
		return "0"
	}
	if count >= 1_000_000 {
		return fmt.Sprintf("%.1fm", float64(count)/1_000_000)
	}
	if count >= 10_000 {
		return fmt.Sprintf("%dk", count/1_000)
	}
	if count >= 1_000 {
		return fmt.Sprintf("%.1fk", float64(count)/1_000)
	}
	return fmt.Sprintf("%d", count)
}

// FormatUSD formats a cost, or "" for non-positive amounts.
func FormatUSD(amount float64) string {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ""
	}
	if amount >= 0.01 {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("$%.4f", amount)
}

// FormatMessageUsage renders a one-line summary such as
// "in 1.2k · out 350 · web_search 1 · $0.0031".
func FormatMessageUsage(mu *MessageUsage) string {
	if mu == nil {
		return ""
	}
	var parts []string
	for _, u := range mu.Records() {
		if u.Quantity == 0 {
			continue
		}
		label := strings.ToLower(string(u.Type))
		switch u.Type {
		case "PROMPT_TOKENS":
			label = "in"
		case "COMPLETION_TOKENS":
			label = "out"
		}
		parts = append(parts, label+" "+FormatTokenCount(int64(u.Quantity)))
	}
	if cost := FormatUSD(mu.USDCost()); cost != "" {
		parts = append(parts, cost)
	}
	return strings.Join(parts, " · ")
}
