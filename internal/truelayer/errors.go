package truelayer

import (
	"errors"
	"fmt"
)

// ErrRetryBudgetExhausted is returned when a logical call consumed its
// whole attempt budget without reaching a terminal response. It is
// deliberately distinct from ProviderError: the provider never gave a
// final answer.
var ErrRetryBudgetExhausted = errors.New("truelayer: retry budget exhausted")

// AuthError is a rejected code exchange or token refresh. The link is
// dead until a human re-links it.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("truelayer: auth rejected with status %d: %s", e.StatusCode, e.Body)
}

// ProviderError is a terminal non-2xx response from a data endpoint,
// surfaced with the provider's status and body for the caller to
// interpret.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("truelayer: provider returned status %d: %s", e.StatusCode, e.Body)
}
