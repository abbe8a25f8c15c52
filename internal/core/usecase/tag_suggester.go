package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/smart-notes/internal/core/domain"
	"github.com/kirillkom/smart-notes/internal/core/ports"
)

const defaultMaxTags = 7

type TagSuggester struct {
	llm     ports.LanguageModel
	store   *TagVectorStore
	maxTags int
}

func NewTagSuggester(llm ports.LanguageModel, store *TagVectorStore, maxTags int) *TagSuggester {
	if maxTags <= 0 {
		maxTags = defaultMaxTags
	}
	return &TagSuggester{
		llm:     llm,
		store:   store,
		maxTags: maxTags,
	}
}

// SuggestTags proposes canonical tags for a structured note. Either every
// candidate resolves or the call fails with no tags.
func (s *TagSuggester) SuggestTags(ctx context.Context, structured domain.StructuredNote, maxTags int) ([]string, error) {
	candidates, err := s.GenerateCandidates(ctx, renderStructuredNote(structured))
	if err != nil {
		return nil, err
	}
	if structured.Type != "" {
		candidates = append(candidates, domain.TagCandidate{Label: structured.Type, Confidence: structured.Confidence})
	}
	return s.ResolveCandidates(ctx, candidates, maxTags)
}

// GenerateCandidates runs the single model call that proposes raw tag labels.
func (s *TagSuggester) GenerateCandidates(ctx context.Context, text string) ([]domain.TagCandidate, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.WrapError(domain.ErrTagSuggestion, "generate tag candidates",
			fmt.Errorf("%w: nothing to tag", domain.ErrInvalidInput))
	}

	raw, err := s.llm.GenerateJSON(ctx, buildTagCandidatesPrompt(text))
	if err != nil {
		return nil, domain.WrapError(domain.ErrTagSuggestion, "generate tag candidates", err)
	}
	candidates, err := parseTagCandidates(raw)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTagSuggestion, "parse tag candidates", err)
	}
	return candidates, nil
}

// ResolveCandidates maps candidates onto canonical tags, highest confidence first.
func (s *TagSuggester) ResolveCandidates(ctx context.Context, candidates []domain.TagCandidate, maxTags int) ([]string, error) {
	if maxTags <= 0 {
		maxTags = s.maxTags
	}

	ordered := make([]domain.TagCandidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Confidence > ordered[j].Confidence
	})

	labels := make([]string, 0, len(ordered))
	for _, candidate := range ordered {
		labels = append(labels, candidate.Label)
	}
	resolutions, err := s.store.UpsertTags(ctx, labels, maxTags)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTagSuggestion, "resolve tag candidates", err)
	}

	out := make([]string, 0, maxTags)
	seen := make(map[string]struct{}, len(resolutions))
	for _, resolution := range resolutions {
		label := resolution.Tag.Label
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out, nil
}

func (s *TagSuggester) ProcessTag(ctx context.Context, label string) (domain.TagResolution, error) {
	resolution, err := s.store.UpsertTag(ctx, label)
	if err != nil {
		return domain.TagResolution{}, fmt.Errorf("process tag: %w", err)
	}
	return resolution, nil
}

func (s *TagSuggester) ListTags(ctx context.Context) ([]domain.Tag, error) {
	return s.store.ListTags(ctx)
}

func parseTagCandidates(raw string) ([]domain.TagCandidate, error) {
	var envelope struct {
		Tags json.RawMessage `json:"tags"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &envelope); err != nil {
		return nil, fmt.Errorf("malformed json: %w", err)
	}
	if len(envelope.Tags) == 0 || string(envelope.Tags) == "null" {
		return nil, errors.New(`missing "tags" key`)
	}

	var scored []domain.TagCandidate
	if err := json.Unmarshal(envelope.Tags, &scored); err == nil {
		out := scored[:0]
		for _, c := range scored {
			if strings.TrimSpace(c.Label) == "" {
				continue
			}
			c.Confidence = clampConfidence(c.Confidence)
			out = append(out, c)
		}
		return out, nil
	}

	// some models answer with plain strings; keep their order as confidence
	var plain []string
	if err := json.Unmarshal(envelope.Tags, &plain); err != nil {
		return nil, fmt.Errorf(`"tags" must be an array: %w`, err)
	}
	out := make([]domain.TagCandidate, 0, len(plain))
	for i, label := range plain {
		if strings.TrimSpace(label) == "" {
			continue
		}
		out = append(out, domain.TagCandidate{
			Label:      label,
			Confidence: clampConfidence(1 - float64(i)*0.05),
		})
	}
	return out, nil
}

func clampConfidence(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
