package usecase

import (
	"strings"
	"unicode"
)

// NormalizeTag lowercases a label and keeps letters, digits, '_' and ':'.
// Whitespace and hyphens collapse into a single '_'.
func NormalizeTag(label string) string {
	var b strings.Builder
	b.Grow(len(label))
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == ':':
			if pendingSep && b.Len() > 0 {
				b.WriteRune('_')
			}
			pendingSep = false
			b.WriteRune(r)
		case r == '_' || r == '-' || unicode.IsSpace(r):
			pendingSep = true
		}
	}
	return b.String()
}

// NormalizeTags normalizes labels, dropping empties and duplicates while keeping order.
func NormalizeTags(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		normalized := NormalizeTag(label)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

func hasAnyTag(noteTags, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, tag := range noteTags {
		for _, w := range wanted {
			if tag == w {
				return true
			}
		}
	}
	return false
}
