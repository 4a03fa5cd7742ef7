package filestore

import (
	"regexp"
	"strings"
)

// Vendor files have no fixed schema. Header name and content shape are
// treated as independent signals: first an alias lookup over normalized
// header names, then, if that fails, a scored scan of column contents.

// tickerPattern matches a plausible exchange ticker: 2-6 uppercase
// letters with an optional short suffix (e.g. BBCA, TLKM, BRK.A).
var tickerPattern = regexp.MustCompile(`^[A-Z]{2,6}(?:[.\-]?[A-Z0-9]{0,2})?$`)

// jkSuffix strips the Jakarta exchange suffix some vendors append.
var jkSuffix = regexp.MustCompile(`\.JK$`)

// whitespace inside symbol cells is vendor noise, never meaningful.
var whitespace = regexp.MustCompile(`\s+`)

// NormalizeHeader lowercases a header and strips every non-alphanumeric
// rune, so "Kode Saham", "kode_saham" and "KodeSaham" all collide.
func NormalizeHeader(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ResolveColumn finds the first alias present among the headers and
// returns its index. Aliases are tried in declaration order, which is
// the deterministic tie-break when several headers would match.
func ResolveColumn(headers []string, aliases ...string) (int, bool) {
	norm := make(map[string]int, len(headers))
	for i, h := range headers {
		key := NormalizeHeader(h)
		if _, exists := norm[key]; !exists {
			norm[key] = i
		}
	}
	for _, alias := range aliases {
		if idx, ok := norm[NormalizeHeader(alias)]; ok {
			return idx, true
		}
	}
	return 0, false
}

// NormalizeSymbol strips whitespace, uppercases, and removes the .JK
// exchange suffix.
func NormalizeSymbol(s string) string {
	s = whitespace.ReplaceAllString(strings.TrimSpace(s), "")
	s = strings.ToUpper(s)
	return jkSuffix.ReplaceAllString(s, "")
}

// IsTickerLike reports whether the normalized value looks like a ticker.
func IsTickerLike(s string) bool {
	return tickerPattern.MatchString(NormalizeSymbol(s))
}

// TickerLikeRatio scores a column by the fraction of its values that
// look like tickers. Used to sniff the symbol column when no header
// alias matches.
func TickerLikeRatio(values []string) float64 {
	if len(values) == 0 {
		return 0
	}
	matched := 0
	for _, v := range values {
		if IsTickerLike(v) {
			matched++
		}
	}
	return float64(matched) / float64(len(values))
}
