package fetcher

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// HTTPError is returned for any non-200 upstream response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream api error (%d)", e.StatusCode)
	}
	return fmt.Sprintf("upstream api error (%d): %s", e.StatusCode, e.Body)
}

var rateLimitMarkers = []string{"429", "rate limit", "too many requests"}

// IsRateLimited reports whether err carries a throttling signature.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
