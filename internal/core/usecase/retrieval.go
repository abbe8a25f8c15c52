package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/smart-notes/internal/core/domain"
	"github.com/kirillkom/smart-notes/internal/core/ports"
)

const (
	tagScanPageSize    = 100
	maxCandidateWindow = 1024
)

type RetrievalConfig struct {
	DefaultTopK        int
	MinScore           float64
	CandidateFactor    int
	HydrateConcurrency int
}

func (c RetrievalConfig) normalize() RetrievalConfig {
	out := c
	if out.DefaultTopK <= 0 {
		out.DefaultTopK = 5
	}
	if out.CandidateFactor < 1 {
		out.CandidateFactor = 2
	}
	if out.HydrateConcurrency <= 0 {
		out.HydrateConcurrency = 4
	}
	return out
}

type RetrievalPipeline struct {
	embedder ports.Embedder
	vectors  ports.VectorIndex
	repo     ports.NoteRepository
	cfg      RetrievalConfig
}

func NewRetrievalPipeline(
	embedder ports.Embedder,
	vectors ports.VectorIndex,
	repo ports.NoteRepository,
	cfg RetrievalConfig,
) *RetrievalPipeline {
	return &RetrievalPipeline{
		embedder: embedder,
		vectors:  vectors,
		repo:     repo,
		cfg:      cfg.normalize(),
	}
}

// SearchVector returns at most topK processed notes ordered by score, then
// recency, then id. Nothing found is an empty result, not an error.
func (uc *RetrievalPipeline) SearchVector(
	ctx context.Context,
	query string,
	topK int,
	filter domain.SearchFilter,
) ([]domain.RetrievedNote, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search vector", errors.New("query is empty"))
	}
	if topK <= 0 {
		topK = uc.cfg.DefaultTopK
	}
	filter = domain.SearchFilter{Tags: NormalizeTags(filter.Tags)}

	queryVector, err := uc.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrieval, "embed query", err)
	}

	results, err := uc.collect(ctx, queryVector, topK, filter)
	if err != nil {
		return nil, err
	}

	sortRetrieved(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// collect widens the index query until topK notes survive hydration, the
// index runs out of hits, or hits fall below MinScore.
func (uc *RetrievalPipeline) collect(
	ctx context.Context,
	queryVector []float32,
	topK int,
	filter domain.SearchFilter,
) ([]domain.RetrievedNote, error) {
	seen := make(map[string]struct{})
	results := make([]domain.RetrievedNote, 0, topK)
	fetch := topK * uc.cfg.CandidateFactor

	for {
		hits, err := uc.vectors.Query(ctx, queryVector, fetch, filter)
		if err != nil {
			return nil, domain.WrapError(domain.ErrRetrieval, "query vector index", err)
		}

		exhausted := len(hits) < fetch
		fresh := make([]domain.VectorHit, 0, len(hits))
		for _, hit := range hits {
			if hit.Score < uc.cfg.MinScore {
				exhausted = true
				continue
			}
			if _, ok := seen[hit.ID]; ok {
				continue
			}
			seen[hit.ID] = struct{}{}
			fresh = append(fresh, hit)
		}

		if len(fresh) > 0 {
			hydrated, err := uc.hydrate(ctx, fresh, filter)
			if err != nil {
				return nil, domain.WrapError(domain.ErrRetrieval, "hydrate notes", err)
			}
			results = append(results, hydrated...)
		}

		if len(results) >= topK || exhausted || fetch >= maxCandidateWindow {
			return results, nil
		}
		fetch *= 2
		if fetch > maxCandidateWindow {
			fetch = maxCandidateWindow
		}
	}
}

// hydrate loads candidates from the document store and drops orphans,
// unprocessed notes and notes whose committed tags miss the filter.
func (uc *RetrievalPipeline) hydrate(
	ctx context.Context,
	hits []domain.VectorHit,
	filter domain.SearchFilter,
) ([]domain.RetrievedNote, error) {
	slots := make([]*domain.RetrievedNote, len(hits))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.cfg.HydrateConcurrency)
	for i, hit := range hits {
		g.Go(func() error {
			note, err := uc.repo.Get(gctx, hit.ID)
			if err != nil {
				if domain.IsKind(err, domain.ErrNoteNotFound) {
					return nil
				}
				return fmt.Errorf("get note %s: %w", hit.ID, err)
			}
			if !note.Processed() || !hasAnyTag(note.Tags, filter.Tags) {
				return nil
			}
			slots[i] = &domain.RetrievedNote{
				NoteID:    note.ID,
				Score:     hit.Score,
				UpdatedAt: note.UpdatedAt,
				Tags:      note.Tags,
				Note:      note,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.RetrievedNote, 0, len(slots))
	for _, slot := range slots {
		if slot != nil {
			out = append(out, *slot)
		}
	}
	return out, nil
}

// SearchTags lists processed notes carrying any of the given tags, newest first.
// limit <= 0 returns every match.
func (uc *RetrievalPipeline) SearchTags(ctx context.Context, tags []string, limit int) ([]domain.NoteRef, error) {
	wanted := NormalizeTags(tags)
	if len(wanted) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search tags", errors.New("at least one tag is required"))
	}

	out := make([]domain.NoteRef, 0)
	cursor := ""
	for {
		page, err := uc.repo.List(ctx, cursor, tagScanPageSize)
		if err != nil {
			return nil, domain.WrapError(domain.ErrRetrieval, "list notes", err)
		}
		for _, note := range page.Notes {
			if note.Processed() && hasAnyTag(note.Tags, wanted) {
				out = append(out, domain.NoteRef{NoteID: note.ID, Tags: note.Tags, UpdatedAt: note.UpdatedAt})
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].NoteID < out[j].NoteID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortRetrieved(results []domain.RetrievedNote) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if !scoresTie(a.Score, b.Score) {
			return a.Score > b.Score
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.NoteID < b.NoteID
	})
}
