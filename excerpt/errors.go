package excerpt

import (
	"errors"
	"fmt"

	"github.com/onnwee/vod-excerpt/chzzkapi"
)

// Errors owned by the excerpt pipeline. Platform errors (ErrNotFound,
// ErrAuthRequired, ErrUpstream) come from chzzkapi and pass through unchanged.
var (
	// ErrWindowOutOfRange marks an invalid window against a manifest: caller
	// input or validation fault, never retried.
	ErrWindowOutOfRange = errors.New("excerpt: window out of range")
	// ErrTrim marks a boundary trim that produced empty or zero-length output.
	ErrTrim = errors.New("excerpt: trim produced empty output")
)

// PartialFetchError reports segments that exhausted their retry budget.
// Partial media is never emitted; the whole request fails with this error.
type PartialFetchError struct {
	FailedIndices []int
}

func (e *PartialFetchError) Error() string {
	return fmt.Sprintf("excerpt: %d segment(s) failed after retries: %v", len(e.FailedIndices), e.FailedIndices)
}

// Retryable reports whether an error is worth re-running the whole request
// for. Input faults, missing content, auth failures, and partial fetches are
// final; everything else is assumed transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var pf *PartialFetchError
	switch {
	case errors.Is(err, ErrWindowOutOfRange),
		errors.Is(err, ErrTrim),
		errors.Is(err, chzzkapi.ErrNotFound),
		errors.Is(err, chzzkapi.ErrAuthRequired),
		errors.As(err, &pf):
		return false
	}
	return true
}
