package excerpt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/onnwee/vod-excerpt/chzzkapi"
)

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"window out of range", ErrWindowOutOfRange, false},
		{"wrapped window", fmt.Errorf("plan: %w", ErrWindowOutOfRange), false},
		{"trim", ErrTrim, false},
		{"not found", chzzkapi.ErrNotFound, false},
		{"auth required", chzzkapi.ErrAuthRequired, false},
		{"partial fetch", &PartialFetchError{FailedIndices: []int{1}}, false},
		{"wrapped partial fetch", fmt.Errorf("fetch media: %w", &PartialFetchError{FailedIndices: []int{0, 2}}), false},
		{"upstream", chzzkapi.ErrUpstream, true},
		{"generic", errors.New("connection reset"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Retryable(tc.err); got != tc.want {
				t.Errorf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestPartialFetchErrorMessage(t *testing.T) {
	err := &PartialFetchError{FailedIndices: []int{1, 4}}
	want := "excerpt: 2 segment(s) failed after retries: [1 4]"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestCancelExcerptUnknownID(t *testing.T) {
	if CancelExcerpt("no-such-id") {
		t.Error("CancelExcerpt returned true for unknown id")
	}
}
