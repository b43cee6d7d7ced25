package advisor

import (
	"strings"

	"market-quorum/internal/domain"
)

// ExtractSymbols scans the user message for mentions of supported index
// tickers. Matching ignores the leading caret, so "ibex" resolves to "^IBEX".
// Returns deduplicated canonical symbols in mention order.
func ExtractSymbols(text string) []string {
	aliases := make(map[string]string, len(domain.SupportedSymbols))
	for _, sym := range domain.SupportedSymbols {
		aliases[strings.ToUpper(strings.TrimPrefix(sym, "^"))] = sym
	}

	upper := strings.ToUpper(text)
	words := strings.FieldsFunc(upper, func(r rune) bool {
		return !((r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	})

	seen := make(map[string]bool)
	var result []string
	for _, w := range words {
		if sym, ok := aliases[w]; ok && !seen[sym] {
			seen[sym] = true
			result = append(result, sym)
		}
	}
	return result
}
