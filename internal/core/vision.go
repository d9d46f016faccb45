package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"impulsesim.com/suture-feedback/internal/metrics"
)

type VisionRequest struct {
	Image        []byte
	MIMEType     string
	Instructions string // system instruction
	Prompt       string // user text sent next to the image
}

// VisionResponse carries the model output either as one string or as a
// sequence of text parts, depending on how the provider returns it.
type VisionResponse struct {
	Text  string
	Parts []string
}

// FeedbackText returns Text, or the first non-blank part.
func (r VisionResponse) FeedbackText() string {
	if strings.TrimSpace(r.Text) != "" {
		return r.Text
	}
	for _, p := range r.Parts {
		if strings.TrimSpace(p) != "" {
			return p
		}
	}
	return ""
}

// VisionProvider sends one image and prompt to a multimodal model.
// Failures should be returned as *ProviderError.
type VisionProvider interface {
	Name() string
	Model() string
	Evaluate(ctx context.Context, req VisionRequest) (VisionResponse, error)
}

var _ VisionProvider = (*limitedVision)(nil)

type limitedVision struct {
	inner VisionProvider
	sem   chan struct{}
}

// NewLimitedVision caps concurrent calls to inner. A non-positive limit disables the cap.
func NewLimitedVision(inner VisionProvider, maxConcurrent int) VisionProvider {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedVision{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedVision) Name() string  { return l.inner.Name() }
func (l *limitedVision) Model() string { return l.inner.Model() }

func (l *limitedVision) Evaluate(ctx context.Context, req VisionRequest) (VisionResponse, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return VisionResponse{}, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Evaluate(ctx, req)
}

const (
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 500 * time.Millisecond
)

var _ VisionProvider = (*retryingVision)(nil)

// retryingVision retries transient failures with exponential backoff.
// Quota and invalid-request failures are returned immediately.
type retryingVision struct {
	inner    VisionProvider
	attempts int
	backoff  time.Duration
	logger   zerolog.Logger
}

func NewRetryingVision(inner VisionProvider, attempts int, backoff time.Duration, logger zerolog.Logger) VisionProvider {
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	return &retryingVision{inner: inner, attempts: attempts, backoff: backoff, logger: logger}
}

func (r *retryingVision) Name() string  { return r.inner.Name() }
func (r *retryingVision) Model() string { return r.inner.Model() }

func (r *retryingVision) Evaluate(ctx context.Context, req VisionRequest) (VisionResponse, error) {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			delay := r.backoff * time.Duration(1<<uint(attempt-1))
			metrics.VisionCallRetried(r.Name())
			r.logger.Warn().Err(lastErr).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying vision call")
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return VisionResponse{}, ctx.Err()
			}
		}

		start := time.Now()
		resp, err := r.inner.Evaluate(ctx, req)
		metrics.ObserveVisionCall(r.Name(), r.Model(), time.Since(start), err == nil)
		if err == nil {
			return resp, nil
		}
		kind := providerErrorKind(err)
		metrics.VisionCallFailed(r.Name(), string(kind))
		lastErr = err
		if kind != KindTransient {
			return VisionResponse{}, err
		}
	}
	return VisionResponse{}, lastErr
}

var _ VisionProvider = (*timeoutVision)(nil)

// timeoutVision bounds a single provider call.
type timeoutVision struct {
	inner   VisionProvider
	timeout time.Duration
}

// NewTimeoutVision cancels calls to inner after timeout. A non-positive timeout disables it.
func NewTimeoutVision(inner VisionProvider, timeout time.Duration) VisionProvider {
	if timeout <= 0 {
		return inner
	}
	return &timeoutVision{inner: inner, timeout: timeout}
}

func (t *timeoutVision) Name() string  { return t.inner.Name() }
func (t *timeoutVision) Model() string { return t.inner.Model() }

func (t *timeoutVision) Evaluate(ctx context.Context, req VisionRequest) (VisionResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, err := t.inner.Evaluate(callCtx, req)
	if err == nil {
		return resp, nil
	}
	// Our own deadline fired while the caller is still waiting: worth another attempt.
	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && providerErrorKind(err) != KindTransient {
		return VisionResponse{}, &ProviderError{Provider: t.Name(), Kind: KindTransient, Err: err}
	}
	return VisionResponse{}, err
}

// VisionPolicy configures the wrappers WrapVision puts around a provider.
type VisionPolicy struct {
	Attempts      int
	Backoff       time.Duration
	Timeout       time.Duration // per attempt
	MaxConcurrent int
}

// WrapVision applies the per-attempt timeout and concurrency cap around p,
// and retries outside the cap so backoff sleeps do not hold a slot.
func WrapVision(p VisionProvider, policy VisionPolicy, logger zerolog.Logger) VisionProvider {
	p = NewTimeoutVision(p, policy.Timeout)
	p = NewLimitedVision(p, policy.MaxConcurrent)
	return NewRetryingVision(p, policy.Attempts, policy.Backoff, logger)
}
