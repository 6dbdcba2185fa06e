package verification

import "time"

// State tracks an onboarding attempt through its verification lifecycle.
// The state is a single value with defined transitions, never a collection
// of independent flags.
type State string

const (
	StateUnstarted            State = "unstarted"
	StateMobileLookupDone     State = "mobile_lookup_done"
	StateExistingUser         State = "existing_user"
	StateSecondaryIDSubmitted State = "secondary_id_submitted"
	StateOtpPending           State = "otp_pending"
	StateVerified             State = "verified"
	StateFailed               State = "failed"
)

// Mode names the verification path a counterparty was resolved through.
type Mode string

const (
	// ModeMobile covers counterparties already on file for the shopkeeper.
	ModeMobile Mode = "mobile"
	// ModeSecondaryID covers new counterparties onboarded via a
	// government-ID-style document check plus OTP.
	ModeSecondaryID Mode = "secondary_id"
)

// Challenge is one onboarding attempt. It owns the customer draft; partial
// identity data never lives outside the challenge. A challenge is discarded
// on VERIFIED (converted into a committed customer) or on failure/expiry.
type Challenge struct {
	ID             string
	OwnerID        string
	Mobile         string
	Name           string
	SecondaryID    string
	Mode           Mode
	State          State
	SessionRef     string
	OtpChallengeID string
	ExpiresAt      time.Time
}

// Expired reports whether the challenge is past its TTL at the given instant.
func (c Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
