package errclass

import "fmt"

// SafeguardError is a stable, machine-readable error class.
type SafeguardError struct {
	Code    string
	Message string
}

func (e *SafeguardError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SafeguardError) Is(target error) bool {
	t, ok := target.(*SafeguardError)
	return ok && e.Code == t.Code
}

// WithMessage returns a new SafeguardError with the same Code but a specific message.
func (e *SafeguardError) WithMessage(msg string) *SafeguardError {
	return &SafeguardError{Code: e.Code, Message: msg}
}

// WithMessagef returns a new SafeguardError with a formatted message.
func (e *SafeguardError) WithMessagef(format string, args ...any) *SafeguardError {
	return &SafeguardError{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// All stable error classes for v0.x.
var (
	// ErrInvalidInput marks malformed changes, agents, or options. Fatal to
	// the call that received them.
	ErrInvalidInput = &SafeguardError{Code: "E_INVALID_INPUT"}
	// ErrPolicyInvalid marks a policy that fails validation on load.
	ErrPolicyInvalid = &SafeguardError{Code: "E_POLICY_INVALID"}
	// ErrStorageFailure marks a failed audit append or read. An approval that
	// could not be recorded must never be treated as approved.
	ErrStorageFailure = &SafeguardError{Code: "E_STORAGE_FAILURE"}
	// ErrIntegrityViolation marks a signature mismatch found during
	// verification. Surfaced, never auto-repaired.
	ErrIntegrityViolation = &SafeguardError{Code: "E_INTEGRITY_VIOLATION"}
	// ErrIndexCorrupt marks an unreadable audit index. Recoverable by full
	// bucket rescan.
	ErrIndexCorrupt = &SafeguardError{Code: "E_INDEX_CORRUPT"}
	// ErrEntryNotFound marks a lookup for an id the trail does not hold.
	ErrEntryNotFound = &SafeguardError{Code: "E_ENTRY_NOT_FOUND"}
	// ErrCollectorUnavailable marks a metrics sample that could not be taken.
	// Treated as missing data, not as a breach.
	ErrCollectorUnavailable = &SafeguardError{Code: "E_COLLECTOR_UNAVAILABLE"}
	// ErrDeploymentGone marks a deployment the collector no longer knows.
	ErrDeploymentGone = &SafeguardError{Code: "E_DEPLOYMENT_GONE"}
	// ErrSessionTerminal marks an operation against a session that already
	// reached a terminal status.
	ErrSessionTerminal = &SafeguardError{Code: "E_SESSION_TERMINAL"}
	// ErrExportFormat marks an unsupported export format.
	ErrExportFormat = &SafeguardError{Code: "E_EXPORT_FORMAT"}
)
