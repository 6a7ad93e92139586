package sync

import (
	"errors"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := WrapError(KindCheckinFailure, "server rejected", cause, "retry later")
	if !errors.Is(e, cause) {
		t.Fatalf("expected Unwrap to expose the cause")
	}
	if len(e.Recommendations) != 1 || e.Recommendations[0] != "retry later" {
		t.Fatalf("expected recommendations to round-trip, got %v", e.Recommendations)
	}
}

func TestExitCodes(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindInvalidArguments, 1},
		{KindPreconditionFailed, 1},
		{KindLockContention, 3},
		{KindNothingToCheckin, 0},
		{KindMergeConflict, 2},
		{KindCheckinFailure, 2},
		{KindUnknownFatal, 2},
	}
	for _, c := range cases {
		if got := c.kind.ExitCode(); got != c.want {
			t.Errorf("%s.ExitCode() = %d, want %d", c.kind, got, c.want)
		}
	}
}
