package task

import "fmt"

// Result is the handler verdict for one envelope. Handlers classify their
// own failures; nothing propagates to the worker loop as an error.
type Result struct {
	Success           bool   `json:"success"`
	ErrorMessage      string `json:"error_message,omitempty"`
	RetryDelaySeconds int    `json:"retry_delay_seconds,omitempty"`
	Retryable         bool   `json:"retryable"`
	// NetworkError selects the longer backoff schedule (base 120s, cap 2h)
	// in the worker loop.
	NetworkError bool `json:"network_error,omitempty"`
}

// Ok reports the stage as logically complete, including the case where a
// prior attempt already completed it.
func Ok() Result {
	return Result{Success: true}
}

// Fail reports a retryable failure.
func Fail(format string, args ...any) Result {
	return Result{ErrorMessage: fmt.Sprintf(format, args...), Retryable: true}
}

// FailPermanent reports a terminal failure that bypasses the retry loop
// (missing content id, unsupported content type, permanent auth failure).
func FailPermanent(format string, args ...any) Result {
	return Result{ErrorMessage: fmt.Sprintf(format, args...)}
}

// FailNetwork reports a transient network-class failure; the worker loop
// schedules it on the longer backoff curve.
func FailNetwork(format string, args ...any) Result {
	return Result{ErrorMessage: fmt.Sprintf(format, args...), Retryable: true, NetworkError: true}
}
