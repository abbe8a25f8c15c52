package usecase

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/kirillkom/smart-notes/internal/core/domain"
)

// notesModel plays the language model for end-to-end pipeline tests.
func notesModel() *llmFake {
	return &llmFake{
		json: func(prompt string, _ int) (string, error) {
			note := prompt[strings.LastIndex(prompt, "Note:\n")+len("Note:\n"):]
			firstLine := strings.SplitN(note, "\n", 2)[0]
			switch {
			case strings.HasPrefix(prompt, "You structure personal notes."):
				return fmt.Sprintf(`{"title":%q,"type":"fact","sections":[{"label":"body","text":%q}],"confidence":0.9}`, firstLine, note), nil
			case strings.HasPrefix(prompt, "You tag personal notes."):
				if strings.Contains(strings.ToLower(note), "capital") {
					return `{"tags":[{"label":"geography","confidence":0.95}]}`, nil
				}
				return `{"tags":[{"label":"misc","confidence":0.4}]}`, nil
			}
			return "", fmt.Errorf("unexpected prompt")
		},
		text: func(string, int) (string, error) {
			return "The capital of France is Paris [1]. Also see [4].", nil
		},
	}
}

type pipeline struct {
	repo      *noteRepoFake
	vectors   *vectorIndexFake
	tags      *tagRepoFake
	llm       *llmFake
	indexer   *NoteIndexer
	retrieval *RetrievalPipeline
	answers   *AnswerPipeline
}

func newPipeline() *pipeline {
	p := &pipeline{
		repo:    newNoteRepoFake(),
		vectors: newVectorIndexFake(),
		tags:    newTagRepoFake(),
		llm:     notesModel(),
	}
	embedder := &bagOfWordsEmbedder{}
	store := NewTagVectorStore(p.tags, newTagIndexFake(), embedder, 0.85, 3)
	suggester := NewTagSuggester(p.llm, store, 5)
	p.indexer = NewNoteIndexer(p.repo, NewStructureExtractor(p.llm), suggester, &chunkerFake{}, embedder, p.vectors, nil, 5)
	p.retrieval = NewRetrievalPipeline(embedder, p.vectors, p.repo, RetrievalConfig{DefaultTopK: 3, MinScore: 0.3, CandidateFactor: 2})
	p.answers = NewAnswerPipeline(p.retrieval, p.repo, p.llm, 3, 0)
	return p
}

func TestPipelineParisScenario(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()

	note, err := p.indexer.Index(ctx, domain.IndexRequest{Text: "Paris is the capital of France."})
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if !containsTag(note.Tags, "geography") {
		t.Fatalf("expected geography tag, got %v", note.Tags)
	}
	if tag, ok := p.tags.tags["geography"]; !ok || tag.UsageCount != 1 {
		t.Fatalf("expected new geography tag, got %+v", p.tags.tags)
	}

	results, err := p.retrieval.SearchVector(ctx, "What is the capital of France?", 3, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("SearchVector() error = %v", err)
	}
	if len(results) == 0 || results[0].NoteID != note.ID || results[0].Score < 0.3 {
		t.Fatalf("expected note above minimum score, got %+v", results)
	}

	answer, err := p.answers.Answer(ctx, "What is the capital of France?", 0)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if len(answer.Citations) != 1 || answer.Citations[0].NoteID != note.ID {
		t.Fatalf("expected a single citation of the note, got %+v", answer.Citations)
	}
}

func TestPipelineRecallForVerbatimQueries(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()
	texts := []string{
		"Buy oat milk and sourdough bread on Friday.",
		"Kubernetes readiness probes gate traffic until the pod is ready.",
		"Grandma's birthday dinner is at the lake house in June.",
		"The quarterly budget review moved to Thursday afternoon.",
	}
	ids := make([]string, 0, len(texts))
	for _, text := range texts {
		note, err := p.indexer.Index(ctx, domain.IndexRequest{Text: text})
		if err != nil {
			t.Fatalf("Index(%q) error = %v", text, err)
		}
		ids = append(ids, note.ID)
	}

	for i, text := range texts {
		results, err := p.retrieval.SearchVector(ctx, text, 3, domain.SearchFilter{})
		if err != nil {
			t.Fatalf("SearchVector() error = %v", err)
		}
		found := false
		for j, r := range results {
			if r.NoteID == ids[i] {
				found = true
			}
			if j > 0 && results[j-1].Score < r.Score {
				t.Fatalf("scores not ordered: %+v", results)
			}
		}
		if !found {
			t.Fatalf("note %q not retrieved by its own text", text)
		}
	}
}

func TestPipelineReindexReplaces(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()

	if _, err := p.indexer.Index(ctx, domain.IndexRequest{NoteID: "n1", Text: "Paris is the capital of France."}); err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	second, err := p.indexer.Index(ctx, domain.IndexRequest{NoteID: "n1", Text: "Pick up dry cleaning."})
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}

	if containsTag(second.Tags, "geography") {
		t.Fatalf("expected tags replaced, got %v", second.Tags)
	}
	old, err := p.retrieval.SearchVector(ctx, "capital of France", 3, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("SearchVector() error = %v", err)
	}
	if len(old) != 0 {
		t.Fatalf("old embedding still retrievable: %+v", old)
	}
	fresh, err := p.retrieval.SearchVector(ctx, "dry cleaning", 3, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("SearchVector() error = %v", err)
	}
	if len(fresh) != 1 || fresh[0].NoteID != "n1" {
		t.Fatalf("expected reindexed note, got %+v", fresh)
	}
	refs, err := p.retrieval.SearchTags(ctx, []string{"geography"}, 0)
	if err != nil {
		t.Fatalf("SearchTags() error = %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("expected no notes tagged geography after reindex, got %+v", refs)
	}
}

func TestPipelineAnswerWithEmptyCorpusSkipsModel(t *testing.T) {
	p := newPipeline()

	answer, err := p.answers.Answer(context.Background(), "What is the capital of France?", 0)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if len(answer.Citations) != 0 || p.llm.textCalls != 0 {
		t.Fatalf("expected no citations and no model call, got %+v with %d calls", answer, p.llm.textCalls)
	}
}

func containsTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}
