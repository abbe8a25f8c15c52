package ports

import (
	"context"

	"github.com/kirillkom/smart-notes/internal/core/domain"
)

// NoteIndexer is the inbound contract for note write orchestration.
type NoteIndexer interface {
	Index(ctx context.Context, req domain.IndexRequest) (*domain.Note, error)
	Delete(ctx context.Context, noteID string) error
}

// NoteReader is the inbound read model for note state.
type NoteReader interface {
	Get(ctx context.Context, id string) (*domain.Note, error)
	List(ctx context.Context, cursor string, limit int) (domain.NotePage, error)
}

// NoteSearcher covers semantic and exact-tag lookup.
type NoteSearcher interface {
	SearchVector(ctx context.Context, query string, topK int, filter domain.SearchFilter) ([]domain.RetrievedNote, error)
	SearchTags(ctx context.Context, tags []string, limit int) ([]domain.NoteRef, error)
}

// TagService exposes tag suggestion and normalization standalone.
type TagService interface {
	SuggestTags(ctx context.Context, structured domain.StructuredNote, maxTags int) ([]string, error)
	ProcessTag(ctx context.Context, label string) (domain.TagResolution, error)
	ListTags(ctx context.Context) ([]domain.Tag, error)
}

// StructureExtractor turns raw note text into a StructuredNote.
type StructureExtractor interface {
	Extract(ctx context.Context, rawText string) (domain.StructuredNote, error)
}

// QuestionAnswerer is the inbound contract for grounded answering.
type QuestionAnswerer interface {
	Answer(ctx context.Context, question string, topK int) (*domain.Answer, error)
}

// Reconciler prunes vector entries without a committed note.
type Reconciler interface {
	ReconcileNote(ctx context.Context, noteID string) (bool, error)
	Sweep(ctx context.Context) (domain.SweepReport, error)
}

// StatusReporter summarizes store and index sizes.
type StatusReporter interface {
	Status(ctx context.Context) (domain.IndexStatus, error)
}
