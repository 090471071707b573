package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no manifest was located across all candidates.
	ErrNotFound = errors.New("stream not found")
	// ErrFrameNotFound means no embeddable frame was located.
	ErrFrameNotFound = errors.New("iframe not found")
	// ErrUpstreamStatus wraps non-2xx upstream responses.
	ErrUpstreamStatus = errors.New("upstream returned non-success status")
	// ErrMissingTarget is returned when a proxy request has no target URL.
	ErrMissingTarget = errors.New("missing url parameter")
	// ErrUnknownProvider is returned for provider names with no catalog.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrEngineFatal is reported by playback engines on unrecoverable errors.
	ErrEngineFatal = errors.New("playback engine fatal error")
)

// UpstreamError carries the status of a failed upstream response.
type UpstreamError struct {
	URL    string
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.URL, e.Status)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstreamStatus }

// ResolutionFailure is returned when resolution exhausts every candidate.
type ResolutionFailure struct {
	Err   error
	Trace Trace
}

func (e *ResolutionFailure) Error() string {
	return fmt.Sprintf("%v after %d attempts", e.Err, len(e.Trace))
}

func (e *ResolutionFailure) Unwrap() error { return e.Err }
