package common

import (
	"html"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var stripPolicy = bluemonday.StrictPolicy()

// CleanHTMLText drops every tag (Naver wraps matches in <b>) and collapses whitespace.
func CleanHTMLText(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	value = stripPolicy.Sanitize(value)
	value = html.UnescapeString(value)
	return strings.Join(strings.Fields(value), " ")
}

// ParsePrice keeps only the digits of a display price: "₩12,900" becomes 12900.
func ParsePrice(raw string) int64 {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0
	}
	value, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return 0
	}
	return value
}

// ParseCount parses review counts like "1,234" or "(87)".
func ParseCount(raw string) int {
	value := ParsePrice(raw)
	if value > int64(^uint32(0)>>1) {
		return 0
	}
	return int(value)
}

// ParseRating parses a decimal rating and rescales percentage style scores
// (0-100) down to the 0-5 range.
func ParseRating(raw string) (float64, bool) {
	value := strings.TrimSpace(strings.ReplaceAll(raw, ",", "."))
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return 0, false
	}
	if parsed > 5 {
		if parsed > 100 {
			return 0, false
		}
		parsed = parsed / 20
	}
	return parsed, true
}
