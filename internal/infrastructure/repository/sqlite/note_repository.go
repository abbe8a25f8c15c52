package sqlite

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
	row := r.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	note, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.WrapError(domain.ErrNoteNotFound, "get note", fmt.Errorf("id=%s", id))
	}
	if err != nil {
		return nil, err
	}
	return note, nil
}

func (r *NoteRepository) Put(ctx context.Context, note *domain.Note) error {
	tags := note.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	structured, err := nullableJSON(note.Structured, note.Structured == nil)
	if err != nil {
		return fmt.Errorf("marshal structured note: %w", err)
	}
	embedding, err := nullableJSON(note.Embedding, note.Embedding == nil)
	if err != nil {
		return fmt.Errorf("marshal embedding ref: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO notes (`+noteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			raw_text = excluded.raw_text,
			structured = excluded.structured,
			tags = excluded.tags,
			embedding = excluded.embedding,
			status = excluded.status,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at`,
		note.ID, note.RawText, structured, string(tagsJSON), embedding,
		string(note.Status), note.Error, formatTime(note.CreatedAt), formatTime(note.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert note: %w", err)
	}
	return nil
}

func (r *NoteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
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

func (r *NoteRepository) List(ctx context.Context, cursor string, limit int) (domain.NotePage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+noteColumns+` FROM notes
		WHERE id > ?
		ORDER BY id
		LIMIT ?`, cursor, limit+1)
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
	var (
		note                  domain.Note
		structured, embedding sql.NullString
		tagsJSON, status      string
		createdAt, updatedAt  string
	)
	err := row.Scan(&note.ID, &note.RawText, &structured, &tagsJSON, &embedding,
		&status, &note.Error, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan note: %w", err)
	}
	note.Status = domain.NoteStatus(status)

	if err := json.Unmarshal([]byte(tagsJSON), &note.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if structured.Valid {
		note.Structured = &domain.StructuredNote{}
		if err := json.Unmarshal([]byte(structured.String), note.Structured); err != nil {
			return nil, fmt.Errorf("unmarshal structured note: %w", err)
		}
	}
	if embedding.Valid {
		note.Embedding = &domain.EmbeddingRef{}
		if err := json.Unmarshal([]byte(embedding.String), note.Embedding); err != nil {
			return nil, fmt.Errorf("unmarshal embedding ref: %w", err)
		}
	}
	if note.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if note.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &note, nil
}

func nullableJSON(v any, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}
