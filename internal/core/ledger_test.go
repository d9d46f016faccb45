package core

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"impulsesim.com/suture-feedback/internal/config"
	"impulsesim.com/suture-feedback/internal/store"
)

const testOwnerCode = "IMPULSE-OWNER"

func newTestLedger(policy string) (*CodeLedger, *store.MemoryStore) {
	s := store.NewMemoryStore()
	return NewCodeLedger(s, testOwnerCode, policy, 10, zerolog.Nop()), s
}

func TestLedger_RegisterThenVerifyNormalizes(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(config.PolicyOverwrite)

	_, err := l.Register(ctx, "ABC123", "a@b.com", "", 10)
	require.NoError(t, err)

	res, err := l.Verify(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 9, res.UsesLeft)

	res, err = l.Verify(ctx, "  AbC123 ")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 8, res.UsesLeft)
}

func TestLedger_AddUsesExhausts(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(config.PolicyOverwrite)

	_, err := l.AddUses(ctx, "X1", 3, "", "")
	require.NoError(t, err)

	for want := 2; want >= 0; want-- {
		res, err := l.Verify(ctx, "X1")
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.Equal(t, want, res.UsesLeft)
	}

	res, err := l.Verify(ctx, "X1")
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestLedger_OwnerCodeIsUnlimitedAndNeverStored(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(config.PolicyOverwrite)

	for i := 0; i < 50; i++ {
		res, err := l.Verify(ctx, "impulse-owner")
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.Equal(t, Unlimited, res.UsesLeft)
	}

	_, err := s.GetCode(ctx, testOwnerCode)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = l.Register(ctx, testOwnerCode, "a@b.com", "", 10)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = l.AddUses(ctx, " impulse-owner ", 5, "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLedger_UnknownCodeCreatesNoRecord(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(config.PolicyOverwrite)

	res, err := l.Verify(ctx, "GHOST")
	require.NoError(t, err)
	assert.False(t, res.Valid)

	codes, err := s.ListCodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, codes)
}

func TestLedger_EmptyCodeIsInvalid(t *testing.T) {
	l, _ := newTestLedger(config.PolicyOverwrite)
	res, err := l.Verify(context.Background(), "   ")
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestLedger_InputValidation(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(config.PolicyOverwrite)

	_, err := l.Register(ctx, "", "a@b.com", "", 10)
	assert.ErrorIs(t, err, ErrMissingInput)
	_, err = l.Register(ctx, "ABC", " ", "", 10)
	assert.ErrorIs(t, err, ErrMissingInput)
	_, err = l.AddUses(ctx, "", 3, "", "")
	assert.ErrorIs(t, err, ErrMissingInput)
	_, err = l.AddUses(ctx, "ABC", -1, "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLedger_RegistrationPolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("overwrite resets balance", func(t *testing.T) {
		l, _ := newTestLedger(config.PolicyOverwrite)
		_, err := l.AddUses(ctx, "P1", 3, "", "")
		require.NoError(t, err)
		got, err := l.Register(ctx, "p1", "a@b.com", "pro", 10)
		require.NoError(t, err)
		assert.Equal(t, 10, got.UsesLeft)
		assert.Equal(t, "pro", got.Plan)
	})

	t.Run("accumulate adds", func(t *testing.T) {
		l, _ := newTestLedger(config.PolicyAccumulate)
		_, err := l.AddUses(ctx, "P1", 3, "", "")
		require.NoError(t, err)
		got, err := l.Register(ctx, "p1", "a@b.com", "", 10)
		require.NoError(t, err)
		assert.Equal(t, 13, got.UsesLeft)
		assert.Equal(t, "a@b.com", got.Email)
	})
}

type failingCodeStore struct {
	store.CodeStore
}

func (failingCodeStore) ConsumeCode(context.Context, string) (int, error) {
	return 0, errors.New("disk on fire")
}

func TestLedger_VerifySurfacesStorageFailure(t *testing.T) {
	l := NewCodeLedger(failingCodeStore{}, testOwnerCode, config.PolicyOverwrite, 10, zerolog.Nop())
	_, err := l.Verify(context.Background(), "ABC")
	assert.ErrorContains(t, err, "disk on fire")
}

func TestLedger_List(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(config.PolicyOverwrite)
	_, err := l.AddUses(ctx, "B", 1, "", "")
	require.NoError(t, err)
	_, err = l.AddUses(ctx, "A", 1, "", "")
	require.NoError(t, err)

	codes, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, codes, 2)
	assert.Equal(t, "A", codes[0].Code)
}
