package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/smart-notes/internal/core/domain"
)

const maxPromptSnippet = 6000

// NoRelevantNotesAnswer is returned when retrieval finds nothing to ground on.
const NoRelevantNotesAnswer = "I couldn't find any relevant notes to answer this question."

func truncateSnippet(text string) string {
	runes := []rune(text)
	if len(runes) <= maxPromptSnippet {
		return text
	}
	return string(runes[:maxPromptSnippet])
}

func buildExtractionPrompt(text string) string {
	return `You structure personal notes.
Return strict JSON object with keys:
title (string, required),
type (string, one word such as meeting, todo, idea, fact, journal, contact),
sections (array of objects {label, text}, at least one, both non-empty),
entities (array of strings: people, places, organizations, products),
fields (object with any structured data found, may be empty),
confidence (number from 0 to 1).
No markdown, no extra keys.

Note:
` + truncateSnippet(text)
}

func buildCorrectiveExtractionPrompt(text, previous string, validationErr error) string {
	return fmt.Sprintf(`Your previous answer was rejected: %v

Previous answer:
%s

Fix it. Output ONLY a JSON object with exactly these keys:
"title": non-empty string,
"type": string,
"sections": non-empty array of {"label": non-empty string, "text": non-empty string},
"entities": array of strings,
"fields": object,
"confidence": number between 0 and 1.

Note:
%s`, validationErr, truncateSnippet(previous), truncateSnippet(text))
}

func buildTagCandidatesPrompt(text string) string {
	return `You tag personal notes.
Return strict JSON object {"tags": [{"label": string, "confidence": number from 0 to 1}]}.
Propose up to 10 short topical tags (one to three words, lowercase), most relevant first.
Prefer general concepts (e.g. geography, machine_learning) over copies of the text.
No markdown, no extra keys.

Note:
` + truncateSnippet(text)
}

// renderStructuredNote flattens a structured note for prompts.
func renderStructuredNote(note domain.StructuredNote) string {
	var b strings.Builder
	if note.Title != "" {
		b.WriteString("Title: ")
		b.WriteString(note.Title)
		b.WriteString("\n")
	}
	if note.Type != "" {
		b.WriteString("Type: ")
		b.WriteString(note.Type)
		b.WriteString("\n")
	}
	for _, section := range note.Sections {
		b.WriteString(section.Label)
		b.WriteString(": ")
		b.WriteString(section.Text)
		b.WriteString("\n")
	}
	if len(note.Entities) > 0 {
		b.WriteString("Entities: ")
		b.WriteString(strings.Join(note.Entities, ", "))
		b.WriteString("\n")
	}
	return b.String()
}

func noteContextText(note *domain.Note) string {
	if note == nil {
		return ""
	}
	if note.Structured != nil {
		if rendered := renderStructuredNote(*note.Structured); rendered != "" {
			return rendered
		}
	}
	return note.RawText
}

func buildAnswerPrompt(question string, sources []domain.RetrievedNote) string {
	var contextBuilder strings.Builder
	for idx, source := range sources {
		contextBuilder.WriteString(fmt.Sprintf(
			"[%d] tags=%s score=%.3f\n%s\n\n",
			idx+1,
			strings.Join(source.Tags, ","),
			source.Score,
			truncateSnippet(noteContextText(source.Note)),
		))
	}

	return fmt.Sprintf(`Answer the question using only the notes below.
Cite the notes you used with their markers, for example [1] or [2].
Only use markers that appear below. If the notes are insufficient, say it directly.

Question:
%s

Notes:
%s
`, question, contextBuilder.String())
}
