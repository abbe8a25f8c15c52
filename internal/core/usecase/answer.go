package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/smart-notes/internal/core/domain"
	"github.com/kirillkom/smart-notes/internal/core/ports"
)

var errEmptyCompletion = errors.New("model returned an empty completion")

type vectorSearcher interface {
	SearchVector(ctx context.Context, query string, topK int, filter domain.SearchFilter) ([]domain.RetrievedNote, error)
}

type AnswerPipeline struct {
	retriever  vectorSearcher
	repo       ports.NoteRepository
	llm        ports.LanguageModel
	topK       int
	retryDelay time.Duration
}

func NewAnswerPipeline(
	retriever vectorSearcher,
	repo ports.NoteRepository,
	llm ports.LanguageModel,
	topK int,
	retryDelay time.Duration,
) *AnswerPipeline {
	if topK <= 0 {
		topK = 5
	}
	return &AnswerPipeline{
		retriever:  retriever,
		repo:       repo,
		llm:        llm,
		topK:       topK,
		retryDelay: retryDelay,
	}
}

// Answer synthesizes a grounded answer. The model is not called when
// retrieval finds nothing, and citations outside the supplied notes are dropped.
func (uc *AnswerPipeline) Answer(ctx context.Context, question string, topK int) (*domain.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("question is empty"))
	}
	if topK <= 0 {
		topK = uc.topK
	}

	sources, err := uc.retriever.SearchVector(ctx, question, topK, domain.SearchFilter{})
	if err != nil {
		return nil, fmt.Errorf("retrieve notes: %w", err)
	}
	if len(sources) == 0 {
		return &domain.Answer{
			Text:      NoRelevantNotesAnswer,
			Citations: []domain.Citation{},
			Sources:   []domain.RetrievedNote{},
		}, nil
	}

	sources, err = uc.hydrate(ctx, sources)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return &domain.Answer{
			Text:      NoRelevantNotesAnswer,
			Citations: []domain.Citation{},
			Sources:   []domain.RetrievedNote{},
		}, nil
	}

	refs := make(map[int]string, len(sources))
	for i, source := range sources {
		refs[i+1] = source.NoteID
	}

	prompt := buildAnswerPrompt(question, sources)
	text, err := retryOnce(ctx, "answer.generate", uc.retryDelay, func(ctx context.Context) (string, error) {
		out, err := uc.llm.GenerateText(ctx, prompt)
		if err != nil {
			return "", err
		}
		out = strings.TrimSpace(out)
		if out == "" {
			return "", errEmptyCompletion
		}
		return out, nil
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrAnswering, "generate answer", err)
	}

	return &domain.Answer{
		Text:      text,
		Citations: filterCitations(text, refs),
		Sources:   sources,
	}, nil
}

// hydrate fills in note bodies the retriever did not attach.
func (uc *AnswerPipeline) hydrate(ctx context.Context, sources []domain.RetrievedNote) ([]domain.RetrievedNote, error) {
	out := make([]domain.RetrievedNote, 0, len(sources))
	for _, source := range sources {
		if source.Note == nil {
			note, err := uc.repo.Get(ctx, source.NoteID)
			if err != nil {
				if domain.IsKind(err, domain.ErrNoteNotFound) {
					continue
				}
				return nil, domain.WrapError(domain.ErrRetrieval, "hydrate note", err)
			}
			source.Note = note
		}
		out = append(out, source)
	}
	return out, nil
}
