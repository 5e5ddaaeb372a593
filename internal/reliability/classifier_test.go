package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"circuit open", ErrCircuitOpen, FailureCircuitOpen},
		{"wrapped circuit open", fmt.Errorf("synthesize: %w", ErrCircuitOpen), FailureCircuitOpen},
		{"deadline", context.DeadlineExceeded, FailureTimeout},
		{"configuration", &ConfigurationError{Detail: "unknown character"}, FailureConfiguration},
		{"external", &ExternalError{Cause: errors.New("502")}, FailureExternal},
		{"plain", errors.New("boom"), FailureUnknown},
		{"nil", nil, FailureUnknown},
	}

	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("%s: Classify() = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestStrategyFor(t *testing.T) {
	cases := map[FailureClass]string{
		FailureCircuitOpen:   "cached_audio",
		FailureTimeout:       "retry_audio",
		FailureConfiguration: "default_voice",
		FailureExternal:      "text_only",
		FailureUnknown:       "text_only",
	}
	for class, want := range cases {
		if got := StrategyFor(class); got != want {
			t.Fatalf("StrategyFor(%s) = %s, want %s", class, got, want)
		}
	}
}
