package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/smart-notes/internal/core/domain"
)

type searcherStub struct {
	results []domain.RetrievedNote
	err     error
	calls   int
}

func (s *searcherStub) SearchVector(context.Context, string, int, domain.SearchFilter) ([]domain.RetrievedNote, error) {
	s.calls++
	return s.results, s.err
}

func TestAnswerWithoutMatchesSkipsModel(t *testing.T) {
	llm := &llmFake{}
	uc := NewAnswerPipeline(&searcherStub{results: []domain.RetrievedNote{}}, newNoteRepoFake(), llm, 5, 0)

	answer, err := uc.Answer(context.Background(), "What is the capital of Atlantis?", 0)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Text != NoRelevantNotesAnswer || len(answer.Citations) != 0 {
		t.Fatalf("unexpected answer: %+v", answer)
	}
	if llm.textCalls != 0 || llm.jsonCalls != 0 {
		t.Fatalf("model must not be called, got %d text and %d json calls", llm.textCalls, llm.jsonCalls)
	}
}

func TestAnswerFiltersHallucinatedCitations(t *testing.T) {
	sources := []domain.RetrievedNote{
		{NoteID: "a", Score: 0.9, Note: &domain.Note{ID: "a", RawText: "alpha facts"}},
		{NoteID: "b", Score: 0.8, Note: &domain.Note{ID: "b", RawText: "beta facts"}},
	}
	llm := &llmFake{text: func(string, int) (string, error) { return "Beta [2], gamma [5], alpha [1].", nil }}
	uc := NewAnswerPipeline(&searcherStub{results: sources}, newNoteRepoFake(), llm, 5, 0)

	answer, err := uc.Answer(context.Background(), "facts?", 2)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if len(answer.Citations) != 2 || answer.Citations[0].NoteID != "b" || answer.Citations[1].NoteID != "a" {
		t.Fatalf("unexpected citations: %+v", answer.Citations)
	}
	supplied := map[string]bool{"a": true, "b": true}
	for _, c := range answer.Citations {
		if !supplied[c.NoteID] {
			t.Fatalf("citation outside supplied context: %+v", c)
		}
	}
	if !strings.Contains(llm.prompts[0], "[1]") || !strings.Contains(llm.prompts[0], "beta facts") {
		t.Fatalf("prompt must carry markers and note text: %s", llm.prompts[0])
	}
}

func TestAnswerRetriesModelOnce(t *testing.T) {
	sources := []domain.RetrievedNote{{NoteID: "a", Note: &domain.Note{ID: "a", RawText: "x"}}}
	llm := &llmFake{text: func(_ string, call int) (string, error) {
		if call == 1 {
			return "", errors.New("timeout")
		}
		return "ok [1]", nil
	}}
	uc := NewAnswerPipeline(&searcherStub{results: sources}, newNoteRepoFake(), llm, 5, time.Millisecond)

	answer, err := uc.Answer(context.Background(), "q", 0)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if llm.textCalls != 2 || len(answer.Citations) != 1 {
		t.Fatalf("expected success on retry, calls=%d answer=%+v", llm.textCalls, answer)
	}
}

func TestAnswerFailsAfterRetry(t *testing.T) {
	sources := []domain.RetrievedNote{{NoteID: "a", Note: &domain.Note{ID: "a", RawText: "x"}}}
	llm := &llmFake{text: func(string, int) (string, error) { return "", errors.New("model down") }}
	uc := NewAnswerPipeline(&searcherStub{results: sources}, newNoteRepoFake(), llm, 5, time.Millisecond)

	_, err := uc.Answer(context.Background(), "q", 0)
	if !domain.IsKind(err, domain.ErrAnswering) {
		t.Fatalf("expected ErrAnswering, got %v", err)
	}
	if llm.textCalls != 2 {
		t.Fatalf("expected exactly 2 model calls, got %d", llm.textCalls)
	}
}

func TestAnswerReturnsMalformedResponseWithoutCitations(t *testing.T) {
	sources := []domain.RetrievedNote{{NoteID: "a", Note: &domain.Note{ID: "a", RawText: "x"}}}
	llm := &llmFake{text: func(string, int) (string, error) { return "}}} garbled [[", nil }}
	uc := NewAnswerPipeline(&searcherStub{results: sources}, newNoteRepoFake(), llm, 5, 0)

	answer, err := uc.Answer(context.Background(), "q", 0)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Text != "}}} garbled [[" || len(answer.Citations) != 0 {
		t.Fatalf("unexpected answer: %+v", answer)
	}
}

func TestAnswerPropagatesRetrievalError(t *testing.T) {
	retrievalErr := domain.WrapError(domain.ErrRetrieval, "query vector index", errors.New("down"))
	llm := &llmFake{}
	uc := NewAnswerPipeline(&searcherStub{err: retrievalErr}, newNoteRepoFake(), llm, 5, 0)

	_, err := uc.Answer(context.Background(), "q", 0)
	if !domain.IsKind(err, domain.ErrRetrieval) {
		t.Fatalf("expected ErrRetrieval, got %v", err)
	}
	if llm.textCalls != 0 {
		t.Fatalf("model must not be called")
	}
}

func TestAnswerHydratesMissingNoteBodies(t *testing.T) {
	repo := newNoteRepoFake()
	repo.notes["a"] = &domain.Note{ID: "a", RawText: "hydrated body", Status: domain.StatusProcessed}
	llm := &llmFake{text: func(string, int) (string, error) { return "yes [1]", nil }}
	uc := NewAnswerPipeline(&searcherStub{results: []domain.RetrievedNote{{NoteID: "a"}, {NoteID: "gone"}}}, repo, llm, 5, 0)

	answer, err := uc.Answer(context.Background(), "q", 0)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if len(answer.Sources) != 1 || !strings.Contains(llm.prompts[0], "hydrated body") {
		t.Fatalf("expected hydrated single source, got %+v", answer.Sources)
	}
}
