package domain

import "time"

type NoteStatus string

const (
	StatusPending   NoteStatus = "pending"
	StatusProcessed NoteStatus = "processed"
	StatusFailed    NoteStatus = "failed"
)

type Note struct {
	ID         string          `json:"id"`
	RawText    string          `json:"raw_text"`
	Structured *StructuredNote `json:"structured,omitempty"`
	Tags       []string        `json:"tags"`
	Embedding  *EmbeddingRef   `json:"embedding,omitempty"`
	Status     NoteStatus      `json:"status"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Processed reports whether the note reached the commit point of indexing.
func (n *Note) Processed() bool {
	return n != nil && n.Status == StatusProcessed
}

type Section struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

type StructuredNote struct {
	Title      string         `json:"title"`
	Type       string         `json:"type,omitempty"`
	Sections   []Section      `json:"sections"`
	Entities   []string       `json:"entities,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	Confidence float64        `json:"confidence"`
}

// EmbeddingRef points at the vector index entry holding the note embedding.
type EmbeddingRef struct {
	VectorID   string    `json:"vector_id"`
	Dimensions int       `json:"dimensions"`
	Chunks     int       `json:"chunks"`
	IndexedAt  time.Time `json:"indexed_at"`
}

type NotePage struct {
	Notes      []*Note `json:"notes"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

type IndexRequest struct {
	NoteID string   `json:"note_id,omitempty"`
	Text   string   `json:"text"`
	Tags   []string `json:"tags,omitempty"`
}

type SweepReport struct {
	Scanned int `json:"scanned"`
	Pruned  int `json:"pruned"`
	Failed  int `json:"failed"`
}

// IndexStatus counts committed notes by state next to the vector entries the
// index holds. Vectors above Processed means orphans await reconcile.
type IndexStatus struct {
	Notes     int `json:"notes"`
	Processed int `json:"processed"`
	Pending   int `json:"pending"`
	Failed    int `json:"failed"`
	Vectors   int `json:"vectors"`
}
