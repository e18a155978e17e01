package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrRateLimited marks a call the provider rejected because of quota,
// throttling or temporary overload. Callers may retry later.
var ErrRateLimited = errors.New("LLM capability temporarily unavailable")

// RateLimitError carries provider details for a rate-limited call.
// errors.Is(err, ErrRateLimited) reports true for it.
type RateLimitError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: rate limited (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: rate limited: %s", e.Provider, e.Message)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

var rateLimitMarkers = []string{
	"429",
	"resource_exhausted",
	"quota",
	"503",
	"overloaded",
	"unavailable",
	"rate limit",
}

// IsRateLimitMessage reports whether an error message looks like a quota or
// overload signal. Used for providers that only surface text.
func IsRateLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, m := range rateLimitMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// IsRateLimitStatus reports whether an HTTP status should be treated as a
// temporary capacity problem rather than a hard failure.
func IsRateLimitStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, 529:
		return true
	}
	return false
}

// IsRateLimited is shorthand for errors.Is(err, ErrRateLimited).
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
