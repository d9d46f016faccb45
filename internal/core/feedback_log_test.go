package core

import (
	"context"
	"regexp"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"impulsesim.com/suture-feedback/internal/store"
)

func TestFeedbackLog_AppendGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	log := NewFeedbackLog(store.NewMemoryStore(), zerolog.Nop())

	scores := []store.DomainScore{{Domain: "Tissue handling", Score: 8}}
	e, err := log.Append(ctx, "Spacing 7/10", scores, 8, "")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{10}$`), e.ID)
	assert.False(t, e.Timestamp.IsZero())

	got, err := log.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Spacing 7/10", got.Feedback)
	assert.Equal(t, scores, got.Scores)
}

func TestFeedbackLog_DistinctIDs(t *testing.T) {
	ctx := context.Background()
	log := NewFeedbackLog(store.NewMemoryStore(), zerolog.Nop())

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		e, err := log.Append(ctx, "text", nil, 0, "")
		require.NoError(t, err)
		assert.False(t, seen[e.ID], "duplicate id %s", e.ID)
		seen[e.ID] = true
	}

	all, err := log.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 100)
}

func TestFeedbackLog_CollisionIsFatal(t *testing.T) {
	ctx := context.Background()
	log := NewFeedbackLog(store.NewMemoryStore(), zerolog.Nop())
	log.newID = func() string { return "aaaaaaaaaa" }

	first, err := log.Append(ctx, "first", nil, 0, "")
	require.NoError(t, err)

	_, err = log.Append(ctx, "second", nil, 0, "")
	assert.ErrorIs(t, err, ErrIDCollision)

	got, err := log.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Feedback)
}

func TestFeedbackLog_GetUnknown(t *testing.T) {
	log := NewFeedbackLog(store.NewMemoryStore(), zerolog.Nop())
	_, err := log.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
