package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"impulsesim.com/suture-feedback/internal/metrics"
	"impulsesim.com/suture-feedback/internal/store"
)

const entryIDLength = 10

type FeedbackLog struct {
	store   store.FeedbackStore
	logger  zerolog.Logger
	newID   func() string
	nowFunc func() time.Time
}

func NewFeedbackLog(s store.FeedbackStore, logger zerolog.Logger) *FeedbackLog {
	return &FeedbackLog{
		store:   s,
		logger:  logger,
		newID:   newEntryID,
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// newEntryID returns 10 lowercase hex characters taken from a random UUID.
func newEntryID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:entryIDLength]
}

// Append stores a new immutable entry and returns it.
func (f *FeedbackLog) Append(ctx context.Context, text string, scores []store.DomainScore, overall int, imageKey string) (store.FeedbackEntry, error) {
	e := store.FeedbackEntry{
		ID:        f.newID(),
		Timestamp: f.nowFunc(),
		Feedback:  text,
		Scores:    scores,
		Overall:   overall,
		ImageKey:  imageKey,
	}
	if err := f.store.InsertFeedback(ctx, e); err != nil {
		if errors.Is(err, store.ErrConflict) {
			f.logger.Error().Str("entry_id", e.ID).Msg("generated feedback id already exists")
			return store.FeedbackEntry{}, fmt.Errorf("%w: %s", ErrIDCollision, e.ID)
		}
		return store.FeedbackEntry{}, fmt.Errorf("failed to append feedback: %w", err)
	}
	metrics.FeedbackAppended()
	return e, nil
}

func (f *FeedbackLog) Get(ctx context.Context, id string) (store.FeedbackEntry, error) {
	e, err := f.store.GetFeedback(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.FeedbackEntry{}, fmt.Errorf("%w: feedback entry %q", ErrNotFound, id)
		}
		return store.FeedbackEntry{}, fmt.Errorf("failed to get feedback: %w", err)
	}
	return *e, nil
}

// List returns every entry, oldest first.
func (f *FeedbackLog) List(ctx context.Context) ([]store.FeedbackEntry, error) {
	entries, err := f.store.ListFeedback(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	return entries, nil
}
