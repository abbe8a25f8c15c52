package domain

import "time"

type SearchFilter struct {
	Tags []string
}

func (f SearchFilter) Empty() bool {
	return len(f.Tags) == 0
}

type VectorMetadata struct {
	Tags      []string
	UpdatedAt time.Time
}

type VectorHit struct {
	ID        string
	Score     float64
	Tags      []string
	UpdatedAt time.Time
}

type RetrievedNote struct {
	NoteID    string    `json:"note_id"`
	Score     float64   `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
	Tags      []string  `json:"tags"`
	Note      *Note     `json:"note,omitempty"`
}

type NoteRef struct {
	NoteID    string    `json:"note_id"`
	Tags      []string  `json:"tags"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Citation struct {
	Marker int    `json:"marker"`
	NoteID string `json:"note_id"`
}

type Answer struct {
	Text      string          `json:"text"`
	Citations []Citation      `json:"citations"`
	Sources   []RetrievedNote `json:"sources"`
}
