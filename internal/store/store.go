package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("not_found")
	ErrConflict  = errors.New("conflict")
	ErrExhausted = errors.New("exhausted")
)

// CodeStore persists the access-code ledger. Codes are passed in already normalized.
type CodeStore interface {
	GetCode(ctx context.Context, code string) (*AccessCode, error)
	// PutCode inserts the code or resets its balance to c.UsesLeft.
	// Empty Email/Plan keep the stored values.
	PutCode(ctx context.Context, c AccessCode) (AccessCode, error)
	// AddCodeUses inserts the code or adds c.UsesLeft to its balance in one step.
	AddCodeUses(ctx context.Context, c AccessCode) (AccessCode, error)
	// ConsumeCode atomically decrements a positive balance by one and returns
	// the new balance. ErrNotFound for unknown codes, ErrExhausted at zero.
	ConsumeCode(ctx context.Context, code string) (int, error)
	ListCodes(ctx context.Context) ([]AccessCode, error)
}

// FeedbackStore persists immutable feedback entries.
type FeedbackStore interface {
	// InsertFeedback never overwrites: an existing id yields ErrConflict.
	InsertFeedback(ctx context.Context, e FeedbackEntry) error
	GetFeedback(ctx context.Context, id string) (*FeedbackEntry, error)
	// ListFeedback returns entries oldest first.
	ListFeedback(ctx context.Context) ([]FeedbackEntry, error)
}

type Store interface {
	CodeStore
	FeedbackStore
	Close() error
}
