package domain

import "time"

type Tag struct {
	Label      string    `json:"label"`
	Vector     []float32 `json:"-"`
	UsageCount int       `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type TagMatch struct {
	Tag   Tag     `json:"tag"`
	Score float64 `json:"score"`
}

// TagResolution describes how a proposed label was mapped onto the tag store.
type TagResolution struct {
	Original string `json:"original_tag"`
	Tag      Tag    `json:"tag"`
	Created  bool   `json:"is_new"`
}

type TagCandidate struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}
