package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/smart-notes/internal/core/domain"
	"github.com/kirillkom/smart-notes/internal/core/ports"
)

type tagCandidateResolver interface {
	GenerateCandidates(ctx context.Context, text string) ([]domain.TagCandidate, error)
	ResolveCandidates(ctx context.Context, candidates []domain.TagCandidate, maxTags int) ([]string, error)
}

type NoteIndexer struct {
	repo      ports.NoteRepository
	extractor ports.StructureExtractor
	tags      tagCandidateResolver
	chunker   ports.Chunker
	embedder  ports.Embedder
	vectors   ports.VectorIndex
	reconcile ports.ReconcileQueue
	maxTags   int

	locks *noteLocks
	now   func() time.Time
}

// NewNoteIndexer wires the write path. reconcile may be nil.
func NewNoteIndexer(
	repo ports.NoteRepository,
	extractor ports.StructureExtractor,
	tags tagCandidateResolver,
	chunker ports.Chunker,
	embedder ports.Embedder,
	vectors ports.VectorIndex,
	reconcile ports.ReconcileQueue,
	maxTags int,
) *NoteIndexer {
	if maxTags <= 0 {
		maxTags = defaultMaxTags
	}
	return &NoteIndexer{
		repo:      repo,
		extractor: extractor,
		tags:      tags,
		chunker:   chunker,
		embedder:  embedder,
		vectors:   vectors,
		reconcile: reconcile,
		maxTags:   maxTags,
		locks:     newNoteLocks(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Index (re)processes a note. The vector write precedes the processed commit;
// a failure before the commit leaves the note failed rather than processed.
func (uc *NoteIndexer) Index(ctx context.Context, req domain.IndexRequest) (*domain.Note, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, domain.WrapError(domain.ErrExtraction, "index note",
			fmt.Errorf("%w: note text is empty", domain.ErrInvalidInput))
	}

	id := strings.TrimSpace(req.NoteID)
	if id == "" {
		id = uuid.NewString()
	}

	release, ok := uc.locks.tryAcquire(id)
	if !ok {
		return nil, domain.WrapError(domain.ErrConflict, "index note", fmt.Errorf("note %s is already being processed", id))
	}
	defer release()

	note, err := uc.beginPending(ctx, id, text)
	if err != nil {
		return nil, err
	}

	if err := uc.processPipeline(ctx, note, req.Tags); err != nil {
		if failErr := uc.markFailed(ctx, note, err); failErr != nil {
			return nil, fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return nil, err
	}

	if err := uc.commit(ctx, note); err != nil {
		return nil, err
	}

	slog.Info("note_indexed", "note_id", note.ID, "tags", note.Tags, "chunks", note.Embedding.Chunks)
	return note, nil
}

// Delete removes the note from the document store first; it is authoritative.
func (uc *NoteIndexer) Delete(ctx context.Context, noteID string) error {
	id := strings.TrimSpace(noteID)
	if id == "" {
		return domain.WrapError(domain.ErrInvalidInput, "delete note", errors.New("note id is required"))
	}

	release, ok := uc.locks.tryAcquire(id)
	if !ok {
		return domain.WrapError(domain.ErrConflict, "delete note", fmt.Errorf("note %s is already being processed", id))
	}
	defer release()

	if err := uc.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete note record: %w", err)
	}
	if err := uc.vectors.Delete(ctx, id); err != nil {
		uc.requestReconcile(ctx, id)
		return domain.WrapError(domain.ErrIndexConsistency, "delete note vector", err)
	}
	return nil
}

func (uc *NoteIndexer) beginPending(ctx context.Context, id, text string) (*domain.Note, error) {
	now := uc.now()
	createdAt := now

	prior, err := uc.repo.Get(ctx, id)
	switch {
	case err == nil && prior != nil:
		createdAt = prior.CreatedAt
	case err != nil && !domain.IsKind(err, domain.ErrNoteNotFound):
		return nil, fmt.Errorf("load note: %w", err)
	}

	note := &domain.Note{
		ID:        id,
		RawText:   text,
		Tags:      []string{},
		Status:    domain.StatusPending,
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
	if err := uc.repo.Put(ctx, note); err != nil {
		return nil, fmt.Errorf("set status=pending: %w", err)
	}
	return note, nil
}

func (uc *NoteIndexer) processPipeline(ctx context.Context, note *domain.Note, userTags []string) error {
	structured, candidates, err := uc.analyze(ctx, note.RawText)
	if err != nil {
		return err
	}

	tags, err := uc.resolveTags(ctx, userTags, candidates, structured)
	if err != nil {
		return err
	}

	vector, chunks, err := uc.embed(ctx, note.RawText)
	if err != nil {
		return err
	}

	indexedAt := uc.now()
	if err := uc.index(ctx, note.ID, vector, tags, indexedAt); err != nil {
		return err
	}

	note.Structured = &structured
	note.Tags = tags
	note.Embedding = &domain.EmbeddingRef{
		VectorID:   note.ID,
		Dimensions: len(vector),
		Chunks:     chunks,
		IndexedAt:  indexedAt,
	}
	note.Status = domain.StatusProcessed
	note.Error = ""
	note.UpdatedAt = indexedAt
	return nil
}

// analyze runs extraction and tag candidate generation concurrently.
func (uc *NoteIndexer) analyze(ctx context.Context, text string) (domain.StructuredNote, []domain.TagCandidate, error) {
	var (
		structured domain.StructuredNote
		candidates []domain.TagCandidate
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := uc.extractor.Extract(gctx, text)
		if err != nil {
			return fmt.Errorf("extract structure: %w", err)
		}
		structured = out
		return nil
	})
	g.Go(func() error {
		out, err := uc.tags.GenerateCandidates(gctx, text)
		if err != nil {
			return fmt.Errorf("generate tag candidates: %w", err)
		}
		candidates = out
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.StructuredNote{}, nil, err
	}
	return structured, candidates, nil
}

func (uc *NoteIndexer) resolveTags(
	ctx context.Context,
	userTags []string,
	candidates []domain.TagCandidate,
	structured domain.StructuredNote,
) ([]string, error) {
	all := make([]domain.TagCandidate, 0, len(userTags)+len(candidates)+1)
	for _, tag := range userTags {
		all = append(all, domain.TagCandidate{Label: tag, Confidence: 1})
	}
	all = append(all, candidates...)
	if structured.Type != "" {
		all = append(all, domain.TagCandidate{Label: structured.Type, Confidence: structured.Confidence})
	}

	tags, err := uc.tags.ResolveCandidates(ctx, all, uc.maxTags)
	if err != nil {
		return nil, fmt.Errorf("resolve tags: %w", err)
	}
	return tags, nil
}

// RestoreVector re-embeds a processed note's committed text and writes its
// vector again. Notes in any other state are left alone.
func (uc *NoteIndexer) RestoreVector(ctx context.Context, note *domain.Note) error {
	if !note.Processed() {
		return nil
	}
	vector, _, err := uc.embed(ctx, note.RawText)
	if err != nil {
		return err
	}
	return uc.index(ctx, note.ID, vector, note.Tags, note.UpdatedAt)
}

// embed produces one vector per note by mean-pooling chunk embeddings.
func (uc *NoteIndexer) embed(ctx context.Context, text string) ([]float32, int, error) {
	chunks := uc.chunker.Split(text)
	if len(chunks) == 0 {
		chunks = []string{text}
	}

	vectors, err := uc.embedder.Embed(ctx, chunks)
	if err != nil {
		return nil, 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, 0, fmt.Errorf("embed chunks: vectors/chunks mismatch: %d/%d", len(vectors), len(chunks))
	}

	pooled, err := meanPool(vectors)
	if err != nil {
		return nil, 0, fmt.Errorf("pool chunk embeddings: %w", err)
	}
	return pooled, len(chunks), nil
}

func (uc *NoteIndexer) index(ctx context.Context, id string, vector []float32, tags []string, at time.Time) error {
	meta := domain.VectorMetadata{Tags: tags, UpdatedAt: at}
	if err := uc.vectors.Upsert(ctx, id, vector, meta); err != nil {
		return fmt.Errorf("upsert note vector: %w", err)
	}
	return nil
}

func (uc *NoteIndexer) commit(ctx context.Context, note *domain.Note) error {
	err := uc.repo.Put(ctx, note)
	if err == nil {
		return nil
	}

	commitErr := domain.WrapError(domain.ErrIndexConsistency, "commit processed note", err)
	if failErr := uc.markFailed(ctx, note, commitErr); failErr != nil {
		slog.Error("mark_failed_after_commit", "note_id", note.ID, "error", failErr)
	}
	uc.requestReconcile(ctx, note.ID)
	return commitErr
}

func (uc *NoteIndexer) markFailed(ctx context.Context, note *domain.Note, processErr error) error {
	if processErr == nil {
		return nil
	}
	failed := &domain.Note{
		ID:        note.ID,
		RawText:   note.RawText,
		Tags:      []string{},
		Status:    domain.StatusFailed,
		Error:     processErr.Error(),
		CreatedAt: note.CreatedAt,
		UpdatedAt: uc.now(),
	}
	return uc.repo.Put(ctx, failed)
}

func (uc *NoteIndexer) requestReconcile(ctx context.Context, id string) {
	if uc.reconcile == nil {
		return
	}
	if err := uc.reconcile.PublishReconcile(ctx, id); err != nil {
		slog.Error("publish_reconcile_failed", "note_id", id, "error", err)
	}
}
