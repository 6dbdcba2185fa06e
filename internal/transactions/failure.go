package transactions

import "fmt"

// State tracks a transaction intent through the authorization flow.
type State string

const (
	StateDrafting         State = "drafting"
	StateIdentityResolved State = "identity_resolved"
	StateOtpPending       State = "otp_pending"
	StateAuthorized       State = "authorized"
	StateCommitted        State = "committed"
	StateFailed           State = "failed"
)

// FailureKind classifies orchestrator failures so callers know whether to
// resume, retry, or restart. Nothing is retried automatically inside the
// core; retry policy is caller-driven.
type FailureKind string

const (
	FailInvalidInput  FailureKind = "invalid_input"
	FailNotFound      FailureKind = "not_found"
	FailExpired       FailureKind = "expired"
	FailExhausted     FailureKind = "exhausted"
	FailWrongCode     FailureKind = "wrong_code"
	FailCommitFailed  FailureKind = "commit_failed"
	FailDeliveryError FailureKind = "delivery_error"
)

// Failure is a typed orchestrator error carrying the state machine state at
// the moment of failure and a reason specific enough to drive the caller's
// next action.
type Failure struct {
	Kind   FailureKind
	State  State
	Reason string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s (state=%s): %s", f.Kind, f.State, f.Reason)
}

func failf(kind FailureKind, state State, format string, args ...any) *Failure {
	return &Failure{Kind: kind, State: state, Reason: fmt.Sprintf(format, args...)}
}
