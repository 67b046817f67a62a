package remote

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Common errors returned by remote API operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, remote.ErrRateLimited) {
//	    // Back off and retry
//	}
var (
	// ErrRateLimited is returned when the remote API rejects a request
	// because the request rate budget is exhausted (HTTP 429).
	ErrRateLimited = errors.New("rate limited by remote API")

	// ErrConflict is returned when a write collides with a concurrent
	// edit of the same record (HTTP 409).
	ErrConflict = errors.New("write conflict on remote record")

	// ErrUnauthorized is returned when the integration token is missing,
	// expired, or lacks access to the database (HTTP 401/403).
	ErrUnauthorized = errors.New("unauthorized by remote API")

	// ErrNotFound is returned when the addressed record or database
	// does not exist or is not shared with the integration (HTTP 404).
	ErrNotFound = errors.New("remote record not found")

	// ErrArchived is returned when an update targets a record that has
	// been archived since it was last seen.
	ErrArchived = errors.New("remote record is archived")
)

// APIError carries the remote API's structured error response.
type APIError struct {
	Status  int    // HTTP status code
	Code    string // machine-readable error code from the response body
	Message string // human-readable message from the response body
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote API error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("remote API error %d: %s", e.Status, e.Message)
}

// Unwrap maps well-known statuses onto the sentinel errors above so that
// callers can use errors.Is without caring about the concrete type.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case 401, 403:
		return ErrUnauthorized
	case 404:
		return ErrNotFound
	case 409:
		return ErrConflict
	case 429:
		return ErrRateLimited
	}
	return nil
}

// IsRetryable returns true if the error is likely to succeed on retry.
//
// Only three error classes qualify: rate limiting, write conflicts, and a
// small fixed set of transient network conditions (host unresolved,
// connection reset, timeout). Everything else, including authentication and
// not-found errors, is permanent and must surface to the caller unchanged.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrConflict) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Connection resets arrive as wrapped syscall errors whose exact type
	// varies by platform; match on the stable message fragments.
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "i/o timeout")
}
