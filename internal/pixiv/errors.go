package pixiv

import (
	"errors"
	"fmt"
)

// AuthError marks credential failures: invalid/expired tokens or a rejected
// refresh. Fatal to the affected operation, never to the process.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pixiv auth: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("pixiv auth: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProviderError marks network/timeout/rate-limit/malformed-response failures.
// Retryable errors may be reattempted with backoff up to a bounded count.
type ProviderError struct {
	Status    int
	Retryable bool
	Op        string
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("pixiv %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("pixiv %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsAuthError reports whether err wraps an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsRetryable reports whether err is a provider error worth retrying.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
