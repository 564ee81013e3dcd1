package embedder

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// ErrMissingEndpoint is returned at construction time when no endpoint
// URL is configured. It is the only error that aborts a whole
// operation; everything else degrades.
var ErrMissingEndpoint = errors.New("embedder: endpoint URL is required")

// ErrBadResponse marks an unexpected response shape from the embedding
// endpoint. The affected items are treated as failed, not retried.
var ErrBadResponse = errors.New("embedder: unexpected response shape")

// StatusError carries a non-200 status code and the error message the
// endpoint returned in the body.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("embedder: endpoint returned %d: %s", e.Code, e.Message)
}

// IsTransient reports whether an error should be retried with backoff:
// timeouts, connection failures, 5xx, and 429. Payload-too-large (413)
// is deliberately excluded; it drives batch splitting instead.
func IsTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	if errors.Is(err, ErrBadResponse) {
		return false
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// IsPayloadTooLarge reports a 413 from the endpoint.
func IsPayloadTooLarge(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusRequestEntityTooLarge
}
