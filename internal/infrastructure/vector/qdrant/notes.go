package qdrant

import (
	"context"
	"net/http"
	"time"

	"github.com/kirillkom/smart-notes/internal/core/domain"
)

// NoteIndex keeps one point per note; the note id travels in the payload.
type NoteIndex struct {
	collection
}

func NewNoteIndex(client *Client, name string) *NoteIndex {
	return &NoteIndex{collection: collection{client: client, name: name}}
}

func (n *NoteIndex) Upsert(ctx context.Context, id string, vector []float32, meta domain.VectorMetadata) error {
	tags := meta.Tags
	if tags == nil {
		tags = []string{}
	}
	return n.upsert(ctx, point{
		ID:     pointID(id),
		Vector: vector,
		Payload: map[string]any{
			"note_id":    id,
			"tags":       tags,
			"updated_at": meta.UpdatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
}

func (n *NoteIndex) Delete(ctx context.Context, id string) error {
	reqBody := map[string]any{"points": []string{pointID(id)}}
	err := n.client.do(ctx, http.MethodPost, n.path("/points/delete?wait=true"), reqBody, nil, "delete")
	if isNotFound(err) {
		return nil
	}
	return err
}

func (n *NoteIndex) Query(ctx context.Context, vector []float32, topK int, filter domain.SearchFilter) ([]domain.VectorHit, error) {
	var qfilter map[string]any
	if !filter.Empty() {
		qfilter = map[string]any{
			"must": []map[string]any{
				{
					"key":   "tags",
					"match": map[string]any{"any": filter.Tags},
				},
			},
		}
	}

	points, err := n.search(ctx, vector, topK, qfilter)
	if err != nil {
		return nil, err
	}
	out := make([]domain.VectorHit, 0, len(points))
	for _, p := range points {
		hit := domain.VectorHit{
			ID:    getStringPayload(p.Payload, "note_id"),
			Score: p.Score,
			Tags:  getStringsPayload(p.Payload, "tags"),
		}
		if ts, err := time.Parse(time.RFC3339Nano, getStringPayload(p.Payload, "updated_at")); err == nil {
			hit.UpdatedAt = ts
		}
		if hit.ID == "" {
			continue
		}
		out = append(out, hit)
	}
	return out, nil
}

// ListIDs pages through the collection with the scroll API. The cursor is
// Qdrant's next_page_offset.
func (n *NoteIndex) ListIDs(ctx context.Context, cursor string, limit int) ([]string, string, error) {
	if limit <= 0 {
		limit = 256
	}
	return n.scroll(ctx, "note_id", cursor, limit)
}
