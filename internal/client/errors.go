package client

import (
	"errors"
	"net/http"
)

// ErrSignedOut reports that renewal failed and the stored credentials were
// cleared. The caller must sign in again.
var ErrSignedOut = errors.New("signed out: credential renewal failed")

type HTTPStatusError struct {
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "http request failed"
	}
	if e.Status != "" {
		return e.Status
	}
	return "http request failed"
}

func IsUnauthorized(err error) bool {
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode == http.StatusUnauthorized
}
