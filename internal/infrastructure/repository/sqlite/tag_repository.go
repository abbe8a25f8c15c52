package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
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
		SELECT label, usage_count, created_at, updated_at FROM tags WHERE label = ?`, label)
	tag, err := scanTag(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

func (r *TagRepository) GetTags(ctx context.Context, labels []string) (map[string]domain.Tag, error) {
	out := make(map[string]domain.Tag, len(labels))
	if len(labels) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(labels)), ",")
	args := make([]any, len(labels))
	for i, label := range labels {
		args[i] = label
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT label, usage_count, created_at, updated_at FROM tags
		WHERE label IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, err
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
		INSERT INTO tags (label, usage_count, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		tag.Label, tag.UsageCount, formatTime(tag.CreatedAt), formatTime(tag.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

func (r *TagRepository) IncrementTagUsage(ctx context.Context, label string) (domain.Tag, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE tags SET usage_count = usage_count + 1, updated_at = ?
		WHERE label = ?
		RETURNING label, usage_count, created_at, updated_at`,
		formatTime(time.Now()), label)
	tag, err := scanTag(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Tag{}, domain.WrapError(domain.ErrInvalidInput, "increment tag usage", fmt.Errorf("unknown tag %q", label))
	}
	if err != nil {
		return domain.Tag{}, err
	}
	return tag, nil
}

func (r *TagRepository) ListTags(ctx context.Context) ([]domain.Tag, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT label, usage_count, created_at, updated_at FROM tags
		ORDER BY usage_count DESC, label`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Tag, 0)
	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return out, nil
}

func scanTag(row rowScanner) (domain.Tag, error) {
	var tag domain.Tag
	var createdAt, updatedAt string
	err := row.Scan(&tag.Label, &tag.UsageCount, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tag, err
	}
	if err != nil {
		return tag, fmt.Errorf("scan tag: %w", err)
	}
	if tag.CreatedAt, err = parseTime(createdAt); err != nil {
		return tag, err
	}
	if tag.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return tag, err
	}
	return tag, nil
}
