package reliability

import (
	"context"
	"errors"
)

// FailureClass categorizes a synthesis failure for fallback selection.
type FailureClass string

const (
	FailureCircuitOpen   FailureClass = "circuit_open"
	FailureTimeout       FailureClass = "timeout"
	FailureConfiguration FailureClass = "configuration"
	FailureExternal      FailureClass = "external"
	FailureUnknown       FailureClass = "unknown"
)

// ConfigurationError marks a request that can never succeed as issued:
// unknown character, missing voice ID, empty text.
type ConfigurationError struct {
	Detail string
}

func (e *ConfigurationError) Error() string { return "voice configuration error: " + e.Detail }

// ExternalError wraps a failure reported by the external voice dependency.
type ExternalError struct {
	Cause error
}

func (e *ExternalError) Error() string { return "external voice failure: " + e.Cause.Error() }
func (e *ExternalError) Unwrap() error { return e.Cause }

// Classify maps an error to its failure class.
func Classify(err error) FailureClass {
	switch {
	case err == nil:
		return FailureUnknown
	case errors.Is(err, ErrCircuitOpen):
		return FailureCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	default:
	}

	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return FailureConfiguration
	}
	var extErr *ExternalError
	if errors.As(err, &extErr) {
		return FailureExternal
	}
	return FailureUnknown
}

// StrategyFor selects the fallback strategy for a failure class. The table
// mirrors the production incident playbook: an open breaker reaches for a
// cached clip, transient timeouts suggest a retry, bad voice config swaps in
// the default voice, and everything else degrades to text.
func StrategyFor(class FailureClass) string {
	switch class {
	case FailureCircuitOpen:
		return "cached_audio"
	case FailureTimeout:
		return "retry_audio"
	case FailureConfiguration:
		return "default_voice"
	default:
		return "text_only"
	}
}
