package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStoreContract exercises the behavior every backend must share.
func testStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("get unknown code", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetCode(ctx, "NOPE")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		s := newStore(t)
		got, err := s.PutCode(ctx, AccessCode{Code: "ABC123", UsesLeft: 10, Email: "a@b.com", Plan: "pro"})
		require.NoError(t, err)
		assert.Equal(t, 10, got.UsesLeft)
		assert.False(t, got.CreatedAt.IsZero())

		c, err := s.GetCode(ctx, "ABC123")
		require.NoError(t, err)
		assert.Equal(t, "ABC123", c.Code)
		assert.Equal(t, 10, c.UsesLeft)
		assert.Equal(t, "a@b.com", c.Email)
		assert.Equal(t, "pro", c.Plan)
	})

	t.Run("put overwrites balance and keeps email when omitted", func(t *testing.T) {
		s := newStore(t)
		_, err := s.PutCode(ctx, AccessCode{Code: "X1", UsesLeft: 7, Email: "a@b.com"})
		require.NoError(t, err)
		got, err := s.PutCode(ctx, AccessCode{Code: "X1", UsesLeft: 3})
		require.NoError(t, err)
		assert.Equal(t, 3, got.UsesLeft)
		assert.Equal(t, "a@b.com", got.Email)
	})

	t.Run("add accumulates", func(t *testing.T) {
		s := newStore(t)
		_, err := s.AddCodeUses(ctx, AccessCode{Code: "X1", UsesLeft: 3})
		require.NoError(t, err)
		got, err := s.AddCodeUses(ctx, AccessCode{Code: "X1", UsesLeft: 4, Email: "new@b.com"})
		require.NoError(t, err)
		assert.Equal(t, 7, got.UsesLeft)
		assert.Equal(t, "new@b.com", got.Email)
	})

	t.Run("consume decrements to zero then exhausts", func(t *testing.T) {
		s := newStore(t)
		_, err := s.PutCode(ctx, AccessCode{Code: "X1", UsesLeft: 2})
		require.NoError(t, err)

		n, err := s.ConsumeCode(ctx, "X1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = s.ConsumeCode(ctx, "X1")
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		_, err = s.ConsumeCode(ctx, "X1")
		assert.ErrorIs(t, err, ErrExhausted)

		c, err := s.GetCode(ctx, "X1")
		require.NoError(t, err)
		assert.Equal(t, 0, c.UsesLeft)
	})

	t.Run("consume unknown creates nothing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.ConsumeCode(ctx, "GHOST")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetCode(ctx, "GHOST")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent consumers never overdraw", func(t *testing.T) {
		s := newStore(t)
		_, err := s.PutCode(ctx, AccessCode{Code: "RACE", UsesLeft: 5})
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.ConsumeCode(ctx, "RACE")
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
					return
				}
				assert.True(t, errors.Is(err, ErrExhausted), "unexpected error: %v", err)
			}()
		}
		wg.Wait()

		assert.Equal(t, 5, succeeded)
		c, err := s.GetCode(ctx, "RACE")
		require.NoError(t, err)
		assert.Equal(t, 0, c.UsesLeft)
	})

	t.Run("list codes sorted", func(t *testing.T) {
		s := newStore(t)
		for _, code := range []string{"B2", "A1", "C3"} {
			_, err := s.PutCode(ctx, AccessCode{Code: code, UsesLeft: 1})
			require.NoError(t, err)
		}
		codes, err := s.ListCodes(ctx)
		require.NoError(t, err)
		require.Len(t, codes, 3)
		assert.Equal(t, "A1", codes[0].Code)
		assert.Equal(t, "C3", codes[2].Code)
	})

	t.Run("feedback insert get list", func(t *testing.T) {
		s := newStore(t)
		ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		first := FeedbackEntry{
			ID:        "aaaaaaaaaa",
			Timestamp: ts,
			Feedback:  "Spacing 7/10\nTension ok",
			Scores:    []DomainScore{{Domain: "Suture spacing", Score: 7, Comment: "even"}},
			Overall:   7,
		}
		second := FeedbackEntry{ID: "bbbbbbbbbb", Timestamp: ts.Add(time.Minute), Feedback: "free text"}
		require.NoError(t, s.InsertFeedback(ctx, first))
		require.NoError(t, s.InsertFeedback(ctx, second))

		got, err := s.GetFeedback(ctx, "aaaaaaaaaa")
		require.NoError(t, err)
		assert.Equal(t, first.Feedback, got.Feedback)
		assert.Equal(t, first.Scores, got.Scores)
		assert.Equal(t, 7, got.Overall)
		assert.True(t, ts.Equal(got.Timestamp))

		all, err := s.ListFeedback(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "aaaaaaaaaa", all[0].ID)
		assert.Equal(t, "bbbbbbbbbb", all[1].ID)
		assert.Empty(t, all[1].Scores)
	})

	t.Run("feedback insert never overwrites", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertFeedback(ctx, FeedbackEntry{ID: "dup", Timestamp: time.Now(), Feedback: "one"}))
		err := s.InsertFeedback(ctx, FeedbackEntry{ID: "dup", Timestamp: time.Now(), Feedback: "two"})
		assert.ErrorIs(t, err, ErrConflict)

		got, err := s.GetFeedback(ctx, "dup")
		require.NoError(t, err)
		assert.Equal(t, "one", got.Feedback)
	})

	t.Run("get unknown feedback", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetFeedback(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty feedback list", func(t *testing.T) {
		s := newStore(t)
		all, err := s.ListFeedback(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestFileStore(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		s, err := NewFileStore(t.TempDir(), zerolog.Nop())
		require.NoError(t, err)
		return s
	})
}

func TestSQLiteStore(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}
