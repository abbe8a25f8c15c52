package usecase

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillkom/smart-notes/internal/core/domain"
)

var citationPattern = regexp.MustCompile(`\[(\d+(?:\s*,\s*\d+)*)\]`)

// filterCitations returns the markers cited in text that exist in refs,
// in order of first appearance and without duplicates.
func filterCitations(text string, refs map[int]string) []domain.Citation {
	out := make([]domain.Citation, 0)
	seen := make(map[int]struct{})
	for _, match := range citationPattern.FindAllStringSubmatch(text, -1) {
		for _, part := range strings.Split(match[1], ",") {
			marker, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				continue
			}
			noteID, ok := refs[marker]
			if !ok {
				continue
			}
			if _, dup := seen[marker]; dup {
				continue
			}
			seen[marker] = struct{}{}
			out = append(out, domain.Citation{Marker: marker, NoteID: noteID})
		}
	}
	return out
}
