package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/smart-notes/internal/core/domain"
	"github.com/kirillkom/smart-notes/internal/core/ports"
)

const (
	defaultSimilarTopK = 3
	minTagOverfetch    = 10
	warmBatchSize      = 64
)

type TagVectorStore struct {
	repo      ports.TagRepository
	index     ports.TagIndex
	embedder  ports.Embedder
	threshold float64
	topK      int

	// upserts are serialized so two near-duplicates cannot both be created.
	mu  sync.Mutex
	now func() time.Time
}

func NewTagVectorStore(
	repo ports.TagRepository,
	index ports.TagIndex,
	embedder ports.Embedder,
	threshold float64,
	topK int,
) *TagVectorStore {
	if topK <= 0 {
		topK = defaultSimilarTopK
	}
	return &TagVectorStore{
		repo:      repo,
		index:     index,
		embedder:  embedder,
		threshold: threshold,
		topK:      topK,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// UpsertTag maps label onto an existing canonical tag (exact or near-duplicate)
// and bumps its usage, or registers it as a new tag.
func (s *TagVectorStore) UpsertTag(ctx context.Context, label string) (domain.TagResolution, error) {
	if NormalizeTag(label) == "" {
		return domain.TagResolution{}, domain.WrapError(domain.ErrInvalidInput, "upsert tag", errors.New("tag label is empty"))
	}
	resolutions, err := s.UpsertTags(ctx, []string{label}, 0)
	if err != nil {
		return domain.TagResolution{}, err
	}
	return resolutions[0], nil
}

// tagPlan is a resolved upsert that has not been written yet.
type tagPlan struct {
	original string
	label    string
	vector   []float32
	create   bool
}

// UpsertTags resolves every label before writing anything, so a lookup or
// embedding failure leaves the store untouched. Planning stops once
// maxDistinct canonical tags are chosen; maxDistinct <= 0 means no limit.
// Labels that normalize to nothing are skipped.
func (s *TagVectorStore) UpsertTags(ctx context.Context, labels []string, maxDistinct int) ([]domain.TagResolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plans, err := s.plan(ctx, labels, maxDistinct)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, plans)
}

func (s *TagVectorStore) plan(ctx context.Context, labels []string, maxDistinct int) ([]tagPlan, error) {
	plans := make([]tagPlan, 0, len(labels))
	planned := make(map[string]int)
	distinct := make(map[string]struct{})

	for _, original := range labels {
		if maxDistinct > 0 && len(distinct) >= maxDistinct {
			break
		}
		normalized := NormalizeTag(original)
		if normalized == "" {
			continue
		}

		p, err := s.resolve(ctx, original, normalized, plans, planned)
		if err != nil {
			return nil, err
		}
		if p.create {
			planned[p.label] = len(plans)
		}
		distinct[p.label] = struct{}{}
		plans = append(plans, p)
	}
	return plans, nil
}

// resolve picks the canonical tag for one label: a tag created earlier in the
// same batch, a stored exact match, a stored near-duplicate, or a new tag.
func (s *TagVectorStore) resolve(
	ctx context.Context,
	original, normalized string,
	plans []tagPlan,
	planned map[string]int,
) (tagPlan, error) {
	if _, ok := planned[normalized]; ok {
		return tagPlan{original: original, label: normalized}, nil
	}
	existing, err := s.repo.GetTag(ctx, normalized)
	if err != nil {
		return tagPlan{}, fmt.Errorf("lookup tag %q: %w", normalized, err)
	}
	if existing != nil {
		return tagPlan{original: original, label: existing.Label}, nil
	}

	vector, err := s.embedder.EmbedQuery(ctx, normalized)
	if err != nil {
		return tagPlan{}, fmt.Errorf("embed tag %q: %w", normalized, err)
	}

	matches, err := s.similar(ctx, vector, 1, s.threshold)
	if err != nil {
		return tagPlan{}, err
	}
	best, bestScore := "", -1.0
	if len(matches) > 0 {
		best, bestScore = matches[0].Tag.Label, matches[0].Score
	}
	for label, i := range planned {
		score := cosineSimilarity(vector, plans[i].vector)
		if score >= s.threshold && (score > bestScore || (scoresTie(score, bestScore) && label < best)) {
			best, bestScore = label, score
		}
	}
	if best != "" {
		return tagPlan{original: original, label: best}, nil
	}
	return tagPlan{original: original, label: normalized, vector: vector, create: true}, nil
}

// apply indexes new labels before touching the repository; an index entry
// without a stored tag is ignored by lookups.
func (s *TagVectorStore) apply(ctx context.Context, plans []tagPlan) ([]domain.TagResolution, error) {
	for _, p := range plans {
		if !p.create {
			continue
		}
		if err := s.index.UpsertTag(ctx, p.label, p.vector); err != nil {
			return nil, fmt.Errorf("index tag %q: %w", p.label, err)
		}
	}

	out := make([]domain.TagResolution, 0, len(plans))
	for _, p := range plans {
		var (
			resolution domain.TagResolution
			err        error
		)
		if p.create {
			resolution, err = s.create(ctx, p.original, p.label, p.vector)
		} else {
			resolution, err = s.reuse(ctx, p.original, p.label)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, resolution)
	}
	return out, nil
}

// FindSimilar returns known tags scoring at least minScore against candidate.
// An empty store yields an empty result.
func (s *TagVectorStore) FindSimilar(ctx context.Context, candidate string, topK int, minScore float64) ([]domain.TagMatch, error) {
	normalized := NormalizeTag(candidate)
	if normalized == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "find similar tags", errors.New("candidate is empty"))
	}
	if topK <= 0 {
		topK = s.topK
	}

	vector, err := s.embedder.EmbedQuery(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("embed candidate %q: %w", normalized, err)
	}
	return s.similar(ctx, vector, topK, minScore)
}

// Warm indexes stored tags the tag index does not know yet, so near-duplicate
// lookups work against a fresh or rebuilt index. It returns how many labels
// were indexed.
func (s *TagVectorStore) Warm(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.repo.ListTags(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stored tags: %w", err)
	}
	indexed, err := s.index.TagLabels(ctx)
	if err != nil {
		return 0, fmt.Errorf("list indexed tags: %w", err)
	}
	known := make(map[string]struct{}, len(indexed))
	for _, label := range indexed {
		known[label] = struct{}{}
	}

	missing := make([]string, 0)
	for _, tag := range stored {
		if _, ok := known[tag.Label]; !ok {
			missing = append(missing, tag.Label)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}
	sort.Strings(missing)

	for start := 0; start < len(missing); start += warmBatchSize {
		end := min(start+warmBatchSize, len(missing))
		batch := missing[start:end]
		vectors, err := s.embedder.Embed(ctx, batch)
		if err != nil {
			return start, fmt.Errorf("embed stored tags: %w", err)
		}
		if len(vectors) != len(batch) {
			return start, fmt.Errorf("embed stored tags: got %d vectors for %d labels", len(vectors), len(batch))
		}
		for i, label := range batch {
			if err := s.index.UpsertTag(ctx, label, vectors[i]); err != nil {
				return start + i, fmt.Errorf("index tag %q: %w", label, err)
			}
		}
	}
	return len(missing), nil
}

func (s *TagVectorStore) ListTags(ctx context.Context) ([]domain.Tag, error) {
	tags, err := s.repo.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	sort.SliceStable(tags, func(i, j int) bool {
		if tags[i].UsageCount != tags[j].UsageCount {
			return tags[i].UsageCount > tags[j].UsageCount
		}
		return tags[i].Label < tags[j].Label
	})
	return tags, nil
}

func (s *TagVectorStore) similar(ctx context.Context, vector []float32, topK int, minScore float64) ([]domain.TagMatch, error) {
	fetch := topK * 4
	if fetch < minTagOverfetch {
		fetch = minTagOverfetch
	}
	hits, err := s.index.QueryTags(ctx, vector, fetch)
	if err != nil {
		return nil, fmt.Errorf("query tag index: %w", err)
	}

	labels := make([]string, 0, len(hits))
	for _, hit := range hits {
		if hit.Score >= minScore {
			labels = append(labels, hit.Tag.Label)
		}
	}
	if len(labels) == 0 {
		return []domain.TagMatch{}, nil
	}

	known, err := s.repo.GetTags(ctx, labels)
	if err != nil {
		return nil, fmt.Errorf("hydrate tags: %w", err)
	}

	out := make([]domain.TagMatch, 0, len(labels))
	for _, hit := range hits {
		if hit.Score < minScore {
			continue
		}
		tag, ok := known[hit.Tag.Label]
		if !ok {
			// indexed but never committed
			continue
		}
		out = append(out, domain.TagMatch{Tag: tag, Score: hit.Score})
	}

	sortTagMatches(out)
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *TagVectorStore) reuse(ctx context.Context, original, canonical string) (domain.TagResolution, error) {
	tag, err := s.repo.IncrementTagUsage(ctx, canonical)
	if err != nil {
		return domain.TagResolution{}, fmt.Errorf("increment usage of %q: %w", canonical, err)
	}
	return domain.TagResolution{Original: original, Tag: tag}, nil
}

func (s *TagVectorStore) create(ctx context.Context, original, label string, vector []float32) (domain.TagResolution, error) {
	now := s.now()
	tag := domain.Tag{
		Label:      label,
		Vector:     vector,
		UsageCount: 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateTag(ctx, tag); err != nil {
		return domain.TagResolution{}, fmt.Errorf("persist tag %q: %w", label, err)
	}
	return domain.TagResolution{Original: original, Tag: tag, Created: true}, nil
}

// sortTagMatches orders by score, then usage count, then label.
func sortTagMatches(matches []domain.TagMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !scoresTie(a.Score, b.Score) {
			return a.Score > b.Score
		}
		if a.Tag.UsageCount != b.Tag.UsageCount {
			return a.Tag.UsageCount > b.Tag.UsageCount
		}
		return a.Tag.Label < b.Tag.Label
	})
}
