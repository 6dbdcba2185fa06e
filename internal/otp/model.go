package otp

import "time"

// Challenge is a time-boxed, single-use passcode check guarding one subject:
// either a pending identity challenge or a pending debit intent. Only the
// code hash is held; the plaintext is never persisted.
type Challenge struct {
	ID           string    `json:"id"`
	SubjectRef   string    `json:"subject_ref"`
	Destination  string    `json:"destination"`
	CodeHash     string    `json:"code_hash"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	AttemptCount int       `json:"attempt_count"`
	MaxAttempts  int       `json:"max_attempts"`
	Consumed     bool      `json:"consumed"`
}

// Expired reports whether the challenge is past its TTL at the given instant.
func (c Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
