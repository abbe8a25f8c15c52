package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/smart-notes/internal/core/domain"
)

type TagRepository struct {
	db *sql.DB
}

func NewTagRepository(db *sql.DB) *TagRepository {
	return &TagRepository{db: db}
}

func (r *TagRepository) GetTag(ctx context.Context, label string) (*domain.Tag, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT label, usage_count, created_at, updated_at
FROM tags
WHERE label = $1
`, label)

	var tag domain.Tag
	if err := row.Scan(&tag.Label, &tag.UsageCount, &tag.CreatedAt, &tag.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan tag: %w", err)
	}
	return &tag, nil
}

func (r *TagRepository) GetTags(ctx context.Context, labels []string) (map[string]domain.Tag, error) {
	out := make(map[string]domain.Tag, len(labels))
	if len(labels) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT label, usage_count, created_at, updated_at
FROM tags
WHERE label = ANY($1)
`, labels)
	if err != nil {
		return nil, fmt.Errorf("get tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tag domain.Tag
		if err := rows.Scan(&tag.Label, &tag.UsageCount, &tag.CreatedAt, &tag.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out[tag.Label] = tag
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return out, nil
}

func (r *TagRepository) CreateTag(ctx context.Context, tag domain.Tag) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO tags (label, usage_count, created_at, updated_at)
VALUES ($1,$2,$3,$4)
`, tag.Label, tag.UsageCount, tag.CreatedAt, tag.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

func (r *TagRepository) IncrementTagUsage(ctx context.Context, label string) (domain.Tag, error) {
	row := r.db.QueryRowContext(ctx, `
UPDATE tags
SET usage_count = usage_count + 1, updated_at = $2
WHERE label = $1
RETURNING label, usage_count, created_at, updated_at
`, label, time.Now().UTC())

	var tag domain.Tag
	if err := row.Scan(&tag.Label, &tag.UsageCount, &tag.CreatedAt, &tag.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Tag{}, domain.WrapError(domain.ErrInvalidInput, "increment tag usage", fmt.Errorf("unknown tag %q", label))
		}
		return domain.Tag{}, fmt.Errorf("increment tag usage: %w", err)
	}
	return tag, nil
}

func (r *TagRepository) ListTags(ctx context.Context) ([]domain.Tag, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT label, usage_count, created_at, updated_at
FROM tags
ORDER BY usage_count DESC, label
`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Tag, 0)
	for rows.Next() {
		var tag domain.Tag
		if err := rows.Scan(&tag.Label, &tag.UsageCount, &tag.CreatedAt, &tag.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return out, nil
}
