package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/smart-notes/internal/core/domain"
	"github.com/kirillkom/smart-notes/internal/core/ports"
)

type StructureExtractor struct {
	llm ports.LanguageModel
}

func NewStructureExtractor(llm ports.LanguageModel) *StructureExtractor {
	return &StructureExtractor{llm: llm}
}

type extractionPayload struct {
	Title    string `json:"title"`
	Type     string `json:"type"`
	Sections []struct {
		Label string `json:"label"`
		Text  string `json:"text"`
	} `json:"sections"`
	Entities   []string       `json:"entities"`
	Fields     map[string]any `json:"fields"`
	Confidence *float64       `json:"confidence"`
}

// Extract asks the model for a structured rendering of rawText. Output that
// fails validation gets exactly one corrective retry.
func (e *StructureExtractor) Extract(ctx context.Context, rawText string) (domain.StructuredNote, error) {
	text := strings.TrimSpace(rawText)
	if text == "" {
		return domain.StructuredNote{}, domain.WrapError(
			domain.ErrExtraction,
			"extract structure",
			fmt.Errorf("%w: note text is empty", domain.ErrInvalidInput),
		)
	}

	raw, err := e.llm.GenerateJSON(ctx, buildExtractionPrompt(text))
	if err != nil {
		return domain.StructuredNote{}, domain.WrapError(domain.ErrExtraction, "extract structure", err)
	}
	note, validationErr := parseStructuredNote(raw)
	if validationErr == nil {
		return note, nil
	}

	slog.Warn("extraction_retry", "error", validationErr)

	raw, err = e.llm.GenerateJSON(ctx, buildCorrectiveExtractionPrompt(text, raw, validationErr))
	if err != nil {
		return domain.StructuredNote{}, domain.WrapError(domain.ErrExtraction, "extract structure retry", err)
	}
	note, validationErr = parseStructuredNote(raw)
	if validationErr != nil {
		return domain.StructuredNote{}, domain.WrapError(
			domain.ErrExtraction,
			"extract structure retry",
			fmt.Errorf("model output rejected: %w", validationErr),
		)
	}
	return note, nil
}

func parseStructuredNote(raw string) (domain.StructuredNote, error) {
	var payload extractionPayload
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &payload); err != nil {
		return domain.StructuredNote{}, fmt.Errorf("malformed json: %w", err)
	}

	note := domain.StructuredNote{
		Title:  strings.TrimSpace(payload.Title),
		Type:   strings.ToLower(strings.TrimSpace(payload.Type)),
		Fields: payload.Fields,
	}
	if note.Title == "" {
		return domain.StructuredNote{}, errors.New("title is required")
	}
	if len(payload.Sections) == 0 {
		return domain.StructuredNote{}, errors.New("at least one section is required")
	}
	for i, section := range payload.Sections {
		label := strings.TrimSpace(section.Label)
		body := strings.TrimSpace(section.Text)
		if label == "" || body == "" {
			return domain.StructuredNote{}, fmt.Errorf("section %d must have label and text", i)
		}
		note.Sections = append(note.Sections, domain.Section{Label: label, Text: body})
	}
	if payload.Confidence != nil {
		if *payload.Confidence < 0 || *payload.Confidence > 1 {
			return domain.StructuredNote{}, fmt.Errorf("confidence %v is outside [0,1]", *payload.Confidence)
		}
		note.Confidence = *payload.Confidence
	}

	seen := make(map[string]struct{}, len(payload.Entities))
	for _, entity := range payload.Entities {
		entity = strings.TrimSpace(entity)
		key := strings.ToLower(entity)
		if entity == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		note.Entities = append(note.Entities, entity)
	}
	return note, nil
}
