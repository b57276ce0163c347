package models

import "errors"

// ── Error taxonomy ───────────────────────────────────────────
//
// Failures are contained at the capability-agent boundary: the triage
// router and the synthesizer only ever see AgentResponse values whose
// Err field carries one of these classes, never raw errors.

// ErrorClass buckets a dispatch failure for the synthesizer's
// diagnostics and for the caller-facing message.
type ErrorClass string

const (
	// ErrClassAuthorization covers tool calls outside the caller's
	// roles or the agent's domain. Never retried; surfaced only as a
	// generic denial without internal detail.
	ErrClassAuthorization ErrorClass = "authorization_denied"

	// ErrClassTransient covers 5xx and connection failures. Retried
	// with backoff; surfaced only once retries are exhausted.
	ErrClassTransient ErrorClass = "transient_backend"

	// ErrClassRejected covers 4xx backend answers. Surfaced
	// immediately, never retried.
	ErrClassRejected ErrorClass = "rejected_backend"

	// ErrClassMalformed covers schema-mismatched backend responses.
	// Logged and surfaced as an agent-level error, not retried.
	ErrClassMalformed ErrorClass = "malformed_backend_response"

	// ErrClassTimeout marks a dispatch that exceeded its budget.
	// Treated like a local failure and excluded from synthesis.
	ErrClassTimeout ErrorClass = "dispatch_timeout"

	// ErrClassInternal marks a programming-contract violation, e.g.
	// an agent reaching for a tool outside its own domain.
	ErrClassInternal ErrorClass = "internal"
)

// Sentinel errors matched with errors.Is throughout the core.
var (
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrTransientBackend    = errors.New("transient backend failure")
	ErrRejectedBackend     = errors.New("backend rejected request")
	ErrMalformedResponse   = errors.New("malformed backend response")
	ErrDomainMismatch      = errors.New("tool outside agent domain")
	ErrUnknownOperation    = errors.New("unknown operation")
)

// AgentError is the error surface of a failed dispatch.
type AgentError struct {
	Class   ErrorClass `json:"class"`
	Message string     `json:"message"`
}

func (e *AgentError) Error() string { return string(e.Class) + ": " + e.Message }

// Classify maps a core error to its taxonomy class.
func Classify(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrAuthorizationDenied):
		return ErrClassAuthorization
	case errors.Is(err, ErrRejectedBackend):
		return ErrClassRejected
	case errors.Is(err, ErrMalformedResponse):
		return ErrClassMalformed
	case errors.Is(err, ErrDomainMismatch), errors.Is(err, ErrUnknownOperation):
		return ErrClassInternal
	case errors.Is(err, ErrTransientBackend):
		return ErrClassTransient
	default:
		return ErrClassTransient
	}
}

// NewAgentError wraps err into the AgentResponse error surface.
// Authorization failures are flattened to a generic denial so internal
// detail never reaches the caller.
func NewAgentError(err error) *AgentError {
	class := Classify(err)
	msg := err.Error()
	if class == ErrClassAuthorization {
		msg = "not authorized for this operation"
	}
	return &AgentError{Class: class, Message: msg}
}
