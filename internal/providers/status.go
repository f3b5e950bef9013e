// Package providers holds the shared plumbing of the external generation
// clients under its subpackages.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"vidgen/internal/domain"
)

// StatusError maps an unsuccessful provider response onto the error taxonomy.
// Throttling, timeouts and server errors are transient; everything else is a
// provider failure.
func StatusError(provider string, status int, body string) error {
	body = strings.TrimSpace(body)
	if len(body) > 256 {
		body = body[:256]
	}
	sentinel := domain.ErrProviderFailure
	if Retryable(status) {
		sentinel = domain.ErrTransient
	}
	if body == "" {
		return fmt.Errorf("%w: %s status %d", sentinel, provider, status)
	}
	return fmt.Errorf("%w: %s status %d: %s", sentinel, provider, status, body)
}

// Retryable reports whether status is worth retrying later.
func Retryable(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500
}

// TransportError wraps a failed round trip. Cancellation passes through
// untouched so callers can tell a phase timeout from a provider outage.
func TransportError(provider string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s request: %v", domain.ErrTransient, provider, err)
}
