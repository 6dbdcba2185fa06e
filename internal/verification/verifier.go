package verification

import (
	"context"

	"github.com/google/uuid"
)

// Verifier represents a connector to an external identity-verification
// provider that performs the actual document check.
type Verifier interface {
	InitiateSecondaryCheck(ctx context.Context, idNumber, name, mobile string) (string, error)
	FinalizeSecondaryCheck(ctx context.Context, sessionRef, code string) error
}

// StaticVerifier simulates a successful provider integration.
type StaticVerifier struct{}

// InitiateSecondaryCheck accepts the document check with a synthetic session reference.
func (StaticVerifier) InitiateSecondaryCheck(_ context.Context, _, _, _ string) (string, error) {
	return uuid.NewString(), nil
}

// FinalizeSecondaryCheck approves the pending session.
func (StaticVerifier) FinalizeSecondaryCheck(_ context.Context, _, _ string) error {
	return nil
}
