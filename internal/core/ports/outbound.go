package ports

import (
	"context"

	"github.com/kirillkom/smart-notes/internal/core/domain"
)

// NoteRepository is the authoritative document store. CRUD only.
type NoteRepository interface {
	Get(ctx context.Context, id string) (*domain.Note, error)
	Put(ctx context.Context, note *domain.Note) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, cursor string, limit int) (domain.NotePage, error)
}

// TagRepository persists canonical tags and their usage counters.
// GetTag returns nil without error when the label is unknown.
type TagRepository interface {
	GetTag(ctx context.Context, label string) (*domain.Tag, error)
	GetTags(ctx context.Context, labels []string) (map[string]domain.Tag, error)
	CreateTag(ctx context.Context, tag domain.Tag) error
	IncrementTagUsage(ctx context.Context, label string) (domain.Tag, error)
	ListTags(ctx context.Context) ([]domain.Tag, error)
}

// Embedder maps text to fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// LanguageModel is a raw completion capability; prompts are owned by the core.
type LanguageModel interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// VectorIndex stores one embedding per note keyed by note id.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, vector []float32, meta domain.VectorMetadata) error
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, vector []float32, topK int, filter domain.SearchFilter) ([]domain.VectorHit, error)
	ListIDs(ctx context.Context, cursor string, limit int) ([]string, string, error)
}

// TagIndex holds tag label embeddings for near-duplicate lookup.
type TagIndex interface {
	UpsertTag(ctx context.Context, label string, vector []float32) error
	QueryTags(ctx context.Context, vector []float32, limit int) ([]domain.TagMatch, error)
	TagLabels(ctx context.Context) ([]string, error)
}

// Chunker splits note text into embedding-sized pieces.
type Chunker interface {
	Split(text string) []string
}

// ReconcileQueue carries note ids whose stores may have diverged.
type ReconcileQueue interface {
	PublishReconcile(ctx context.Context, noteID string) error
	SubscribeReconcile(ctx context.Context, handler func(context.Context, string) error) error
}
