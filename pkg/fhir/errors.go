package fhir

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the server has no such resource.
	ErrNotFound = errors.New("resource not found")
	// ErrUnavailable wraps every transport or server failure.
	ErrUnavailable = errors.New("source unavailable")
	// ErrMalformed marks a response body that does not have the expected shape.
	ErrMalformed = errors.New("malformed response")
)

// UpstreamError describes a failed call to the FHIR server.
type UpstreamError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: HTTP %d", e.Op, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrUnavailable) match any upstream failure.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUnavailable
}
