// Package memory keeps notes and tags in process memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/smart-notes/internal/core/domain"
)

type NoteRepository struct {
	mu    sync.RWMutex
	notes map[string]domain.Note
}

func NewNoteRepository() *NoteRepository {
	return &NoteRepository{notes: make(map[string]domain.Note)}
}

func (r *NoteRepository) Get(_ context.Context, id string) (*domain.Note, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	note, ok := r.notes[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNoteNotFound, "get note", fmt.Errorf("id=%s", id))
	}
	return cloneNote(note), nil
}

func (r *NoteRepository) Put(_ context.Context, note *domain.Note) error {
	if note == nil || note.ID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "put note", fmt.Errorf("note id is required"))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes[note.ID] = *cloneNote(*note)
	return nil
}

func (r *NoteRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.notes[id]; !ok {
		return domain.WrapError(domain.ErrNoteNotFound, "delete note", fmt.Errorf("id=%s", id))
	}
	delete(r.notes, id)
	return nil
}

func (r *NoteRepository) List(_ context.Context, cursor string, limit int) (domain.NotePage, error) {
	if limit <= 0 {
		limit = 50
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.notes))
	for id := range r.notes {
		if id > cursor {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	page := domain.NotePage{Notes: make([]*domain.Note, 0, limit)}
	for _, id := range ids {
		if len(page.Notes) == limit {
			page.NextCursor = page.Notes[limit-1].ID
			break
		}
		page.Notes = append(page.Notes, cloneNote(r.notes[id]))
	}
	return page, nil
}

func cloneNote(note domain.Note) *domain.Note {
	out := note
	out.Tags = append([]string(nil), note.Tags...)
	if note.Structured != nil {
		structured := *note.Structured
		structured.Sections = append([]domain.Section(nil), note.Structured.Sections...)
		structured.Entities = append([]string(nil), note.Structured.Entities...)
		out.Structured = &structured
	}
	if note.Embedding != nil {
		embedding := *note.Embedding
		out.Embedding = &embedding
	}
	return &out
}

type TagRepository struct {
	mu   sync.RWMutex
	tags map[string]domain.Tag
	now  func() time.Time
}

func NewTagRepository() *TagRepository {
	return &TagRepository{tags: make(map[string]domain.Tag), now: time.Now}
}

func (r *TagRepository) GetTag(_ context.Context, label string) (*domain.Tag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tag, ok := r.tags[label]
	if !ok {
		return nil, nil
	}
	return &tag, nil
}

func (r *TagRepository) GetTags(_ context.Context, labels []string) (map[string]domain.Tag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.Tag, len(labels))
	for _, label := range labels {
		if tag, ok := r.tags[label]; ok {
			out[label] = tag
		}
	}
	return out, nil
}

func (r *TagRepository) CreateTag(_ context.Context, tag domain.Tag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tags[tag.Label]; ok {
		return fmt.Errorf("create tag: %q already exists", tag.Label)
	}
	tag.Vector = nil
	r.tags[tag.Label] = tag
	return nil
}

func (r *TagRepository) IncrementTagUsage(_ context.Context, label string) (domain.Tag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tag, ok := r.tags[label]
	if !ok {
		return domain.Tag{}, domain.WrapError(domain.ErrInvalidInput, "increment tag usage", fmt.Errorf("unknown tag %q", label))
	}
	tag.UsageCount++
	tag.UpdatedAt = r.now().UTC()
	r.tags[label] = tag
	return tag, nil
}

func (r *TagRepository) ListTags(_ context.Context) ([]domain.Tag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Tag, 0, len(r.tags))
	for _, tag := range r.tags {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UsageCount != out[j].UsageCount {
			return out[i].UsageCount > out[j].UsageCount
		}
		return out[i].Label < out[j].Label
	})
	return out, nil
}
