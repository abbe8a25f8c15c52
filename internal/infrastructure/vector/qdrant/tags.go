package qdrant

import (
	"context"

	"github.com/kirillkom/smart-notes/internal/core/domain"
)

// TagIndex stores one point per canonical tag label.
type TagIndex struct {
	collection
}

func NewTagIndex(client *Client, name string) *TagIndex {
	return &TagIndex{collection: collection{client: client, name: name}}
}

func (t *TagIndex) UpsertTag(ctx context.Context, label string, vector []float32) error {
	return t.upsert(ctx, point{
		ID:      pointID("tag:" + label),
		Vector:  vector,
		Payload: map[string]any{"label": label},
	})
}

func (t *TagIndex) QueryTags(ctx context.Context, vector []float32, limit int) ([]domain.TagMatch, error) {
	points, err := t.search(ctx, vector, limit, nil)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TagMatch, 0, len(points))
	for _, p := range points {
		label := getStringPayload(p.Payload, "label")
		if label == "" {
			continue
		}
		out = append(out, domain.TagMatch{Tag: domain.Tag{Label: label}, Score: p.Score})
	}
	return out, nil
}

func (t *TagIndex) TagLabels(ctx context.Context) ([]string, error) {
	var (
		out    []string
		cursor string
	)
	for {
		labels, next, err := t.scroll(ctx, "label", cursor, 256)
		if err != nil {
			return nil, err
		}
		out = append(out, labels...)
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}
