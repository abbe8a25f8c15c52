package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/smart-notes/internal/core/domain"
)

type NoteRepository struct {
	db *sql.DB
}

func NewNoteRepository(db *sql.DB) *NoteRepository {
	return &NoteRepository{db: db}
}

const noteColumns = `id, raw_text, structured, tags, embedding, status, error_message, created_at, updated_at`

func (r *NoteRepository) Get(ctx context.Context, id string) (*domain.Note, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+noteColumns+`
FROM notes
WHERE id = $1
`, id)

	note, err := scanNote(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNoteNotFound, "get note", fmt.Errorf("id=%s", id))
		}
		return nil, err
	}
	return note, nil
}

// Put inserts or fully replaces the note row.
func (r *NoteRepository) Put(ctx context.Context, note *domain.Note) error {
	structured, tags, embedding, err := encodeNote(note)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO notes (`+noteColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
	raw_text = EXCLUDED.raw_text,
	structured = EXCLUDED.structured,
	tags = EXCLUDED.tags,
	embedding = EXCLUDED.embedding,
	status = EXCLUDED.status,
	error_message = EXCLUDED.error_message,
	updated_at = EXCLUDED.updated_at
`,
		note.ID, note.RawText, structured, tags, embedding, string(note.Status), note.Error, note.CreatedAt, note.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert note: %w", err)
	}
	return nil
}

func (r *NoteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete note rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNoteNotFound, "delete note", fmt.Errorf("id=%s", id))
	}
	return nil
}

// List pages notes in id order; the cursor is the last id returned.
func (r *NoteRepository) List(ctx context.Context, cursor string, limit int) (domain.NotePage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+noteColumns+`
FROM notes
WHERE id > $1
ORDER BY id
LIMIT $2
`, cursor, limit+1)
	if err != nil {
		return domain.NotePage{}, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	page := domain.NotePage{Notes: make([]*domain.Note, 0, limit)}
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return domain.NotePage{}, err
		}
		page.Notes = append(page.Notes, note)
	}
	if err := rows.Err(); err != nil {
		return domain.NotePage{}, fmt.Errorf("iterate notes: %w", err)
	}
	if len(page.Notes) > limit {
		page.Notes = page.Notes[:limit]
		page.NextCursor = page.Notes[limit-1].ID
	}
	return page, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*domain.Note, error) {
	var note domain.Note
	var structuredRaw, tagsRaw, embeddingRaw []byte
	var status string

	err := row.Scan(
		&note.ID, &note.RawText, &structuredRaw, &tagsRaw, &embeddingRaw,
		&status, &note.Error, &note.CreatedAt, &note.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan note: %w", err)
	}
	note.Status = domain.NoteStatus(status)

	if len(tagsRaw) > 0 {
		if err := json.Unmarshal(tagsRaw, &note.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if len(structuredRaw) > 0 && string(structuredRaw) != "null" {
		note.Structured = &domain.StructuredNote{}
		if err := json.Unmarshal(structuredRaw, note.Structured); err != nil {
			return nil, fmt.Errorf("unmarshal structured note: %w", err)
		}
	}
	if len(embeddingRaw) > 0 && string(embeddingRaw) != "null" {
		note.Embedding = &domain.EmbeddingRef{}
		if err := json.Unmarshal(embeddingRaw, note.Embedding); err != nil {
			return nil, fmt.Errorf("unmarshal embedding ref: %w", err)
		}
	}
	return &note, nil
}

func encodeNote(note *domain.Note) (structured, tags, embedding []byte, err error) {
	noteTags := note.Tags
	if noteTags == nil {
		noteTags = []string{}
	}
	if tags, err = json.Marshal(noteTags); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal tags: %w", err)
	}
	if note.Structured != nil {
		if structured, err = json.Marshal(note.Structured); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal structured note: %w", err)
		}
	}
	if note.Embedding != nil {
		if embedding, err = json.Marshal(note.Embedding); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal embedding ref: %w", err)
		}
	}
	return structured, tags, embedding, nil
}
