// Package fault defines the error kinds shared across the generation
// pipeline. Components wrap causes with fmt.Errorf as usual; these types
// exist so the retry loop and the provider orchestrator can branch on
// failure class with errors.As.
package fault

import "fmt"

// ExecutionError reports a subprocess that could not run to completion:
// spawn failure, non-zero exit, or a missing/unauthenticated CLI tool.
type ExecutionError struct {
	Tool     string // binary name, e.g. "claude"
	ExitCode int
	Stderr   string
	Setup    string // remediation hint when the tool is missing
}

func (e *ExecutionError) Error() string {
	if e.Setup != "" {
		return fmt.Sprintf("%s not available (exit %d): %s", e.Tool, e.ExitCode, e.Setup)
	}
	return fmt.Sprintf("%s exited %d: %s", e.Tool, e.ExitCode, truncate(e.Stderr, 300))
}

// TimeoutError reports a wall-clock budget expiry. Partial output is
// discarded by the runtime before this is returned.
type TimeoutError struct {
	Tool    string
	Seconds float64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %.0fs", e.Tool, e.Seconds)
}

// ParseError reports that no accepted response shape could be decoded
// from model output.
type ParseError struct {
	Detail string
	Raw    string // truncated raw output for diagnostics
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable model response: %s", e.Detail)
}

// ValidationError reports a coverage, duration, or segmentation invariant
// violation. Detail is embedded verbatim into the corrective prompt.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string { return e.Detail }

// ProviderUnavailableError reports missing credentials or configuration.
// Never retried locally; the orchestrator fails over instead.
type ProviderUnavailableError struct {
	Provider string
	Reason   string
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %s", e.Provider, e.Reason)
}

// RateLimitedError marks a rate-limit-shaped backend failure so the
// pipeline can advise configuring a secondary provider.
type RateLimitedError struct {
	Provider string
	Cause    error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("provider %s rate limited: %v", e.Provider, e.Cause)
}

func (e *RateLimitedError) Unwrap() error { return e.Cause }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
