package crmclient

import (
	"errors"
)

// isRetriable classifies a transport-level error against the retry
// set: connection errors, payload errors, request timeouts, and any 5XX
// HTTP status (wrapped as a generic server error). Other errors — 4XX
// statuses, validation failures the transport itself might raise — are
// treated as fatal and propagate immediately.
func isRetriable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrConnection) || errors.Is(err, ErrPayload) || errors.Is(err, ErrTimeout) {
		return true
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status >= 500 && statusErr.Status < 600
	}

	return false
}
