package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bahi-khata/bahi_khata/internal/notification"
)

var (
	// ErrChallengeNotFound indicates no live challenge matches the identifier.
	// Consumed challenges also report this; a consumed code never verifies again.
	ErrChallengeNotFound = errors.New("challenge not found")

	// ErrChallengeExpired indicates the challenge is past its TTL. Terminal;
	// the caller must issue a fresh challenge.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrWrongCode indicates a mismatched code with attempts remaining.
	ErrWrongCode = errors.New("wrong code")

	// ErrAttemptsExhausted indicates the attempt budget is spent. Terminal;
	// the caller must issue a fresh challenge.
	ErrAttemptsExhausted = errors.New("attempts exhausted")

	// ErrDeliveryFailed indicates the external channel rejected the dispatch.
	// The challenge itself remains valid.
	ErrDeliveryFailed = errors.New("delivery failed")
)

const codeDigits = 6

// Gate issues and checks one-time passcodes. It is subject-agnostic: callers
// supply an opaque subject reference and interpret results themselves.
type Gate struct {
	store       Store
	sender      notification.Sender
	logger      *slog.Logger
	ttl         time.Duration
	maxAttempts int

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	plaintext map[string]string
}

// NewGate builds an authorization gate with the given challenge TTL and
// attempt budget.
func NewGate(store Store, sender notification.Sender, logger *slog.Logger, ttl time.Duration, maxAttempts int) *Gate {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Gate{
		store:       store,
		sender:      sender,
		logger:      logger,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		locks:       make(map[string]*sync.Mutex),
		plaintext:   make(map[string]string),
	}
}

// Issue generates a code for the subject, stores its hash, and dispatches the
// plaintext through the delivery channel. Dispatch is fire-and-forget: the
// issuing call does not block on delivery confirmation, and a failed dispatch
// does not destroy the challenge.
func (g *Gate) Issue(ctx context.Context, subjectRef, destination string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}

	now := time.Now().UTC()
	challenge := Challenge{
		ID:          uuid.NewString(),
		SubjectRef:  subjectRef,
		Destination: destination,
		CodeHash:    hashCode(code),
		IssuedAt:    now,
		ExpiresAt:   now.Add(g.ttl),
		MaxAttempts: g.maxAttempts,
	}

	if err := g.store.Save(ctx, challenge, g.ttl); err != nil {
		return "", fmt.Errorf("save challenge: %w", err)
	}

	g.mu.Lock()
	g.plaintext[challenge.ID] = code
	g.mu.Unlock()

	go g.dispatch(challenge.ID, destination, code)

	return challenge.ID, nil
}

// Resend re-dispatches the existing challenge's code rather than minting a
// new one, so a single subject never has multiple live codes. Unlike Issue,
// the dispatch is synchronous so the caller learns about channel failures.
func (g *Gate) Resend(ctx context.Context, challengeID string) error {
	unlock := g.lock(challengeID)
	defer unlock()

	challenge, err := g.store.Get(ctx, challengeID)
	if err != nil {
		return err
	}
	if challenge.Consumed {
		return ErrChallengeNotFound
	}
	if challenge.Expired(time.Now().UTC()) {
		return ErrChallengeExpired
	}

	g.mu.Lock()
	code, ok := g.plaintext[challengeID]
	g.mu.Unlock()
	if !ok {
		// The plaintext lives only in process memory; after a restart the
		// challenge must be reissued.
		return ErrChallengeNotFound
	}

	if err := g.sender.Send(ctx, notification.Message{
		Kind:        notification.KindOtp,
		Destination: challenge.Destination,
		Body:        fmt.Sprintf("Your verification code is %s", code),
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

// Verify hash-compares the submitted code. It returns the attempts remaining
// alongside any failure so callers can surface an actionable reason. A match
// consumes the challenge; consumed, expired or exhausted challenges can never
// again verify successfully.
func (g *Gate) Verify(ctx context.Context, challengeID, code string) (int, error) {
	unlock := g.lock(challengeID)
	defer unlock()

	challenge, err := g.store.Get(ctx, challengeID)
	if err != nil {
		return 0, err
	}
	if challenge.Consumed {
		return 0, ErrChallengeNotFound
	}
	if challenge.Expired(time.Now().UTC()) {
		g.forget(ctx, challengeID)
		return 0, ErrChallengeExpired
	}

	if subtle.ConstantTimeCompare([]byte(hashCode(code)), []byte(challenge.CodeHash)) != 1 {
		challenge.AttemptCount++
		remaining := challenge.MaxAttempts - challenge.AttemptCount
		if remaining <= 0 {
			g.forget(ctx, challengeID)
			return 0, ErrAttemptsExhausted
		}
		if err := g.store.Save(ctx, challenge, time.Until(challenge.ExpiresAt)); err != nil {
			return remaining, fmt.Errorf("record attempt: %w", err)
		}
		return remaining, ErrWrongCode
	}

	challenge.Consumed = true
	if err := g.store.Save(ctx, challenge, time.Until(challenge.ExpiresAt)); err != nil {
		return 0, fmt.Errorf("consume challenge: %w", err)
	}
	g.mu.Lock()
	delete(g.plaintext, challengeID)
	delete(g.locks, challengeID)
	g.mu.Unlock()
	return challenge.MaxAttempts - challenge.AttemptCount, nil
}

// Discard drops a challenge, e.g. when its subject is superseded.
func (g *Gate) Discard(ctx context.Context, challengeID string) {
	g.forget(ctx, challengeID)
}

func (g *Gate) forget(ctx context.Context, challengeID string) {
	if err := g.store.Delete(ctx, challengeID); err != nil && g.logger != nil {
		g.logger.Warn("discard challenge", "challenge_id", challengeID, "error", err)
	}
	g.mu.Lock()
	delete(g.plaintext, challengeID)
	delete(g.locks, challengeID)
	g.mu.Unlock()
}

func (g *Gate) dispatch(challengeID, destination, code string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := g.sender.Send(ctx, notification.Message{
		Kind:        notification.KindOtp,
		Destination: destination,
		Body:        fmt.Sprintf("Your verification code is %s", code),
	})
	if err != nil && g.logger != nil {
		g.logger.Warn("otp dispatch failed", "challenge_id", challengeID, "error", err)
	}
}

// lock serializes operations per challenge so attempt increments are never
// lost and a code cannot be consumed twice.
func (g *Gate) lock(challengeID string) func() {
	g.mu.Lock()
	l, ok := g.locks[challengeID]
	if !ok {
		l = &sync.Mutex{}
		g.locks[challengeID] = l
	}
	g.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func generateCode() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
