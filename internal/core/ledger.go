package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"impulsesim.com/suture-feedback/internal/config"
	"impulsesim.com/suture-feedback/internal/logging"
	"impulsesim.com/suture-feedback/internal/metrics"
	"impulsesim.com/suture-feedback/internal/store"
)

// Unlimited is the uses count reported for the owner code.
const Unlimited = -1

type VerifyResult struct {
	Valid    bool
	UsesLeft int // Unlimited for the owner code; meaningless when !Valid
}

type CodeLedger struct {
	store       store.CodeStore
	ownerCode   string
	policy      string
	defaultUses int
	logger      zerolog.Logger
}

func NewCodeLedger(s store.CodeStore, ownerCode, policy string, defaultUses int, logger zerolog.Logger) *CodeLedger {
	if policy == "" {
		policy = config.PolicyOverwrite
	}
	return &CodeLedger{
		store:       s,
		ownerCode:   NormalizeCode(ownerCode),
		policy:      policy,
		defaultUses: defaultUses,
		logger:      logger,
	}
}

// NormalizeCode trims whitespace and upper-cases a code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (l *CodeLedger) DefaultUses() int { return l.defaultUses }

func (l *CodeLedger) isOwner(code string) bool {
	return l.ownerCode != "" && code == l.ownerCode
}

// Register creates or refreshes a code for email with initialUses uses.
func (l *CodeLedger) Register(ctx context.Context, code, email, plan string, initialUses int) (store.AccessCode, error) {
	code = NormalizeCode(code)
	email = strings.TrimSpace(email)
	if code == "" || email == "" {
		return store.AccessCode{}, fmt.Errorf("%w: code and email are required", ErrMissingInput)
	}
	return l.write(ctx, "register", store.AccessCode{
		Code:     code,
		UsesLeft: initialUses,
		Email:    email,
		Plan:     strings.TrimSpace(plan),
	})
}

// AddUses grants uses to a code, creating it if needed.
func (l *CodeLedger) AddUses(ctx context.Context, code string, uses int, email, plan string) (store.AccessCode, error) {
	code = NormalizeCode(code)
	if code == "" {
		return store.AccessCode{}, fmt.Errorf("%w: code is required", ErrMissingInput)
	}
	return l.write(ctx, "add_uses", store.AccessCode{
		Code:     code,
		UsesLeft: uses,
		Email:    strings.TrimSpace(email),
		Plan:     strings.TrimSpace(plan),
	})
}

func (l *CodeLedger) write(ctx context.Context, op string, c store.AccessCode) (store.AccessCode, error) {
	if c.UsesLeft < 0 {
		return store.AccessCode{}, fmt.Errorf("%w: uses must not be negative", ErrInvalidInput)
	}
	if l.isOwner(c.Code) {
		return store.AccessCode{}, fmt.Errorf("%w: the owner code cannot be registered", ErrInvalidInput)
	}

	var (
		stored store.AccessCode
		err    error
	)
	if l.policy == config.PolicyAccumulate {
		stored, err = l.store.AddCodeUses(ctx, c)
	} else {
		stored, err = l.store.PutCode(ctx, c)
	}
	if err != nil {
		return store.AccessCode{}, fmt.Errorf("failed to %s code: %w", op, err)
	}

	metrics.CodeWritten(op, l.policy)
	l.logger.Info().
		Str("op", op).
		Str("code", logging.Redact(stored.Code)).
		Str("email", logging.Redact(stored.Email)).
		Int("uses_left", stored.UsesLeft).
		Msg("access code written")
	return stored, nil
}

// Verify consumes one use of code. Unknown and exhausted codes are reported
// as invalid without an error; only storage failures return one.
func (l *CodeLedger) Verify(ctx context.Context, code string) (VerifyResult, error) {
	code = NormalizeCode(code)
	if code == "" {
		metrics.CodeVerified("empty")
		return VerifyResult{}, nil
	}
	if l.isOwner(code) {
		metrics.CodeVerified("owner")
		return VerifyResult{Valid: true, UsesLeft: Unlimited}, nil
	}

	left, err := l.store.ConsumeCode(ctx, code)
	switch {
	case err == nil:
		metrics.CodeVerified("valid")
		return VerifyResult{Valid: true, UsesLeft: left}, nil
	case errors.Is(err, store.ErrNotFound):
		metrics.CodeVerified("unknown")
		return VerifyResult{}, nil
	case errors.Is(err, store.ErrExhausted):
		metrics.CodeVerified("exhausted")
		return VerifyResult{}, nil
	default:
		return VerifyResult{}, fmt.Errorf("failed to verify code: %w", err)
	}
}

func (l *CodeLedger) List(ctx context.Context) ([]store.AccessCode, error) {
	codes, err := l.store.ListCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list codes: %w", err)
	}
	return codes, nil
}
