package util

import "strings"

// SplitItems splits s on any of the given separator characters and returns
// the trimmed non-empty items.
func SplitItems(s string, seps string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(seps, r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Separator sets used when reading list-valued record fields back.
const (
	TextItemSeps    = "|\n"
	KeywordItemSeps = "|\n,"
)

// JoinNonEmpty trims every item, drops empty ones and joins the rest with sep.
func JoinNonEmpty(items []string, sep string) string {
	kept := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			kept = append(kept, it)
		}
	}
	return strings.Join(kept, sep)
}
