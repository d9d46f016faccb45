package store

import "time"

type AccessCode struct {
	Code      string    `json:"code"` // normalized: trimmed, upper-case
	UsesLeft  int       `json:"uses_left"`
	Email     string    `json:"email,omitempty"`
	Plan      string    `json:"plan,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DomainScore struct {
	Domain  string `json:"domain"`
	Score   int    `json:"score"` // 1-10
	Comment string `json:"comment,omitempty"`
}

type FeedbackEntry struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Feedback  string        `json:"feedback"`
	Scores    []DomainScore `json:"scores,omitempty"`
	Overall   int           `json:"overall,omitempty"`
	ImageKey  string        `json:"image_key,omitempty"` // Archived image object key, if any
}
