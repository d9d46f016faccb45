package core

import (
	"errors"
	"fmt"
)

var (
	ErrMissingInput = errors.New("missing required input")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	// ErrIDCollision means a freshly generated feedback id was already taken.
	// It is never retried and never overwrites.
	ErrIDCollision = errors.New("feedback id collision")
)

type ProviderErrorKind string

const (
	KindQuota          ProviderErrorKind = "quota"
	KindInvalidRequest ProviderErrorKind = "invalid_request"
	KindTransient      ProviderErrorKind = "transient"
	KindOther          ProviderErrorKind = "other"
)

// ProviderError is returned by vision providers after classifying the
// upstream failure.
type ProviderError struct {
	Provider string
	Kind     ProviderErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// providerErrorKind reports the kind of err, or KindOther when err is not a ProviderError.
func providerErrorKind(err error) ProviderErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindOther
}
