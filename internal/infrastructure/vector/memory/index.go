// Package memory holds in-process vector indexes for single-node runs and tests.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/smart-notes/internal/core/domain"
)

type entry struct {
	vector    []float32
	tags      []string
	updatedAt time.Time
}

// NoteIndex is a brute-force cosine index over note vectors.
type NoteIndex struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewNoteIndex() *NoteIndex {
	return &NoteIndex{entries: make(map[string]entry)}
}

func (n *NoteIndex) Upsert(_ context.Context, id string, vector []float32, meta domain.VectorMetadata) error {
	if len(vector) == 0 {
		return fmt.Errorf("memory upsert %s: empty vector", id)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries[id] = entry{
		vector:    append([]float32(nil), vector...),
		tags:      append([]string(nil), meta.Tags...),
		updatedAt: meta.UpdatedAt,
	}
	return nil
}

func (n *NoteIndex) Delete(_ context.Context, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.entries, id)
	return nil
}

func (n *NoteIndex) Query(_ context.Context, vector []float32, topK int, filter domain.SearchFilter) ([]domain.VectorHit, error) {
	if topK <= 0 {
		return nil, nil
	}
	n.mu.RLock()
	hits := make([]domain.VectorHit, 0, len(n.entries))
	for id, e := range n.entries {
		if !filter.Empty() && !overlaps(e.tags, filter.Tags) {
			continue
		}
		hits = append(hits, domain.VectorHit{
			ID:        id,
			Score:     cosine(vector, e.vector),
			Tags:      append([]string(nil), e.tags...),
			UpdatedAt: e.updatedAt,
		})
	}
	n.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// ListIDs pages in id order; the cursor is the last id of the previous page.
func (n *NoteIndex) ListIDs(_ context.Context, cursor string, limit int) ([]string, string, error) {
	if limit <= 0 {
		limit = 256
	}
	n.mu.RLock()
	ids := make([]string, 0, len(n.entries))
	for id := range n.entries {
		if id > cursor {
			ids = append(ids, id)
		}
	}
	n.mu.RUnlock()

	sort.Strings(ids)
	if len(ids) <= limit {
		return ids, "", nil
	}
	page := ids[:limit]
	return page, page[len(page)-1], nil
}

// TagIndex is the in-process tag label index.
type TagIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

func NewTagIndex() *TagIndex {
	return &TagIndex{vectors: make(map[string][]float32)}
}

func (t *TagIndex) UpsertTag(_ context.Context, label string, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("memory upsert tag %s: empty vector", label)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vectors[label] = append([]float32(nil), vector...)
	return nil
}

func (t *TagIndex) QueryTags(_ context.Context, vector []float32, limit int) ([]domain.TagMatch, error) {
	if limit <= 0 {
		return nil, nil
	}
	t.mu.RLock()
	out := make([]domain.TagMatch, 0, len(t.vectors))
	for label, vec := range t.vectors {
		out = append(out, domain.TagMatch{Tag: domain.Tag{Label: label}, Score: cosine(vector, vec)})
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Tag.Label < out[j].Tag.Label
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *TagIndex) TagLabels(context.Context) ([]string, error) {
	t.mu.RLock()
	out := make([]string, 0, len(t.vectors))
	for label := range t.vectors {
		out = append(out, label)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

func overlaps(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
