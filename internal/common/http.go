package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// StatusError classifies a non-2xx API response into the error taxonomy.
// Rate limiting and server faults are retryable; anything else is permanent.
func StatusError(service string, status int, body []byte) error {
	msg := fmt.Sprintf("%s API error (status %d): %s", service, status, truncate(string(body), 512))
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimit, msg)
	case status >= 500:
		return fmt.Errorf("%w: %s", ErrTransient, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Permanent(fmt.Errorf("%w: %s", ErrConfiguration, msg))
	default:
		return Permanent(errors.New(msg))
	}
}

// TransportError wraps a failed HTTP round trip. Cancellation is returned as
// permanent; everything else is treated as transient.
func TransportError(service string, err error) error {
	if errors.Is(err, context.Canceled) {
		return Permanent(fmt.Errorf("%s request canceled: %w", service, err))
	}
	return fmt.Errorf("%w: %s request failed: %w", ErrTransient, service, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
