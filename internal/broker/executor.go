package broker

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/GeoRetina/arion/internal/backend"
	"github.com/GeoRetina/arion/pkg/errors"
)

// RetryConfig configures backoff between retry attempts.
type RetryConfig struct {
	// InitialBackoff is the delay before the first retry (default: 500ms)
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts (default: 10s)
	MaxBackoff time.Duration

	// BackoffFactor is the exponential multiplier (default: 2.0)
	BackoffFactor float64
}

// DefaultRetryConfig returns the default backoff configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
	}
}

// Validate checks the retry configuration.
func (c RetryConfig) Validate() error {
	if c.InitialBackoff < 0 {
		return fmt.Errorf("initial_backoff must be non-negative, got %v", c.InitialBackoff)
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff (%v) must be >= initial_backoff (%v)", c.MaxBackoff, c.InitialBackoff)
	}
	if c.BackoffFactor < 1.0 {
		return fmt.Errorf("backoff_factor must be >= 1.0, got %f", c.BackoffFactor)
	}
	return nil
}

// execResult is the execution engine's verdict on one call.
type execResult struct {
	payload  interface{}
	outcome  Outcome
	err      *Error
	attempts int
}

// execute runs the backend call with a hard per-attempt deadline and
// bounded retries of transient failures.
//
// Behavior:
//   - Each attempt gets its own fresh deadline; on expiry the call is
//     cancelled and the outcome is timeout, never retried.
//   - Only errors classified transient are retried, at most maxRetries
//     times, with exponential backoff plus jitter between attempts.
//   - Exactly one outcome is produced: success, error, or timeout.
func execute(ctx context.Context, retry RetryConfig, handle backend.Handle, integrationID, capabilityName string, args map[string]interface{}, timeout time.Duration, maxRetries int) execResult {
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		payload, err := handle.Invoke(attemptCtx, capabilityName, args)
		deadlineHit := attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
		cancel()

		if err == nil {
			return execResult{
				payload:  payload,
				outcome:  OutcomeSuccess,
				attempts: attempt + 1,
			}
		}
		lastErr = err

		if deadlineHit {
			return execResult{
				outcome: OutcomeTimeout,
				err: newError(CodeExecutionTimeout, integrationID, capabilityName,
					fmt.Sprintf("call exceeded %v deadline", timeout),
					&errors.TimeoutError{Operation: capabilityName, Duration: timeout, Cause: err}),
				attempts: attempt + 1,
			}
		}

		if ctx.Err() != nil {
			return execResult{
				outcome: OutcomeError,
				err: newError(CodeExecutionError, integrationID, capabilityName,
					"call cancelled", err),
				attempts: attempt + 1,
			}
		}

		if !isTransient(err) {
			return execResult{
				outcome: OutcomeError,
				err: newError(CodeExecutionError, integrationID, capabilityName,
					err.Error(), err),
				attempts: attempt + 1,
			}
		}

		if attempt >= maxRetries {
			return execResult{
				outcome: OutcomeError,
				err: newError(CodeTransientError, integrationID, capabilityName,
					fmt.Sprintf("transient failure persisted after %d attempt(s)", attempt+1), lastErr),
				attempts: attempt + 1,
			}
		}

		select {
		case <-time.After(calculateBackoff(retry, attempt)):
		case <-ctx.Done():
			return execResult{
				outcome: OutcomeError,
				err: newError(CodeExecutionError, integrationID, capabilityName,
					"call cancelled during retry backoff", ctx.Err()),
				attempts: attempt + 1,
			}
		}
	}
}

// isTransient classifies an error as worth retrying. Backend connection
// drops and explicit rate-limit style signals are transient; validation
// and backend-reported permission failures are not.
func isTransient(err error) bool {
	var backendErr *errors.BackendError
	if stderrors.As(err, &backendErr) {
		return backendErr.Transient
	}

	var classifier errors.ErrorClassifier
	if stderrors.As(err, &classifier) {
		return classifier.IsRetryable()
	}

	return false
}

// calculateBackoff computes the delay before retry number attempt+1.
//
// Formula: delay = min(InitialBackoff * BackoffFactor^attempt, MaxBackoff) + jitter
// Jitter: random [0ms, 100ms]
func calculateBackoff(cfg RetryConfig, attempt int) time.Duration {
	base := float64(cfg.InitialBackoff)
	for i := 0; i < attempt; i++ {
		base *= cfg.BackoffFactor
	}
	if base > float64(cfg.MaxBackoff) {
		base = float64(cfg.MaxBackoff)
	}

	jitter := time.Duration(rand.Int63n(101)) * time.Millisecond
	return time.Duration(base) + jitter
}
