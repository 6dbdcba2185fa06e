package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bahi-khata/bahi_khata/internal/logging"
	"github.com/bahi-khata/bahi_khata/internal/notification"
)

// recordingSender captures dispatched messages. Issue dispatches from a
// goroutine, so access is synchronized.
type recordingSender struct {
	mu       sync.Mutex
	messages []notification.Message
	err      error
}

func (s *recordingSender) Send(_ context.Context, msg notification.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingSender) last() notification.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[len(s.messages)-1]
}

func (s *recordingSender) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func newTestGate(sender notification.Sender, ttl time.Duration) *Gate {
	return NewGate(NewMemoryStore(), sender, logging.Discard(), ttl, 3)
}

func TestGate_VerifyConsumesChallenge(t *testing.T) {
	g := newTestGate(&recordingSender{}, time.Minute)
	ctx := context.Background()

	id, err := g.Issue(ctx, "txn:abc", "9876543210")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	code := PlaintextCode(g, id)
	if len(code) != codeDigits {
		t.Fatalf("expected %d-digit code, got %q", codeDigits, code)
	}

	if _, err := g.Verify(ctx, id, code); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// A consumed code never verifies again.
	if _, err := g.Verify(ctx, id, code); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected not found on replay, got %v", err)
	}
}

func TestGate_WrongCodeCountsDown(t *testing.T) {
	g := newTestGate(&recordingSender{}, time.Minute)
	ctx := context.Background()

	id, err := g.Issue(ctx, "txn:abc", "9876543210")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	remaining, err := g.Verify(ctx, id, "000000")
	if !errors.Is(err, ErrWrongCode) {
		t.Fatalf("expected wrong code, got %v", err)
	}
	if remaining != 2 {
		t.Fatalf("expected 2 attempts remaining, got %d", remaining)
	}

	if remaining, err = g.Verify(ctx, id, "000000"); !errors.Is(err, ErrWrongCode) || remaining != 1 {
		t.Fatalf("expected wrong code with 1 remaining, got remaining=%d err=%v", remaining, err)
	}

	if _, err = g.Verify(ctx, id, "000000"); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected exhaustion on third miss, got %v", err)
	}

	// Exhaustion destroys the challenge; even the right code is refused now.
	code := PlaintextCode(g, id)
	if _, err = g.Verify(ctx, id, code); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected not found after exhaustion, got %v", err)
	}
}

func TestGate_ExpiredChallenge(t *testing.T) {
	store := NewMemoryStore()
	g := NewGate(store, &recordingSender{}, logging.Discard(), time.Minute, 3)
	ctx := context.Background()

	id, err := g.Issue(ctx, "txn:abc", "9876543210")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	challenge, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get challenge: %v", err)
	}
	challenge.ExpiresAt = time.Now().UTC().Add(-time.Second)
	if err := store.Save(ctx, challenge, time.Minute); err != nil {
		t.Fatalf("save challenge: %v", err)
	}

	code := PlaintextCode(g, id)
	if _, err := g.Verify(ctx, id, code); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if err := g.Resend(ctx, id); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected not found after expiry cleanup, got %v", err)
	}
}

func TestGate_ReleasesBookkeepingOnConsume(t *testing.T) {
	g := newTestGate(&recordingSender{}, time.Minute)
	ctx := context.Background()

	id, err := g.Issue(ctx, "txn:abc", "9876543210")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := g.Verify(ctx, id, PlaintextCode(g, id)); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// The consumed challenge is only flagged in the store; locks and
	// plaintext must not linger for the life of the process.
	g.mu.Lock()
	locks, plaintexts := len(g.locks), len(g.plaintext)
	g.mu.Unlock()
	if locks != 0 || plaintexts != 0 {
		t.Fatalf("bookkeeping leaked: locks=%d plaintext=%d", locks, plaintexts)
	}
}

func TestGate_ReleasesBookkeepingOnExhaustion(t *testing.T) {
	g := newTestGate(&recordingSender{}, time.Minute)
	ctx := context.Background()

	id, err := g.Issue(ctx, "txn:abc", "9876543210")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	for i := 0; i < 3; i++ {
		g.Verify(ctx, id, "000000")
	}

	g.mu.Lock()
	locks, plaintexts := len(g.locks), len(g.plaintext)
	g.mu.Unlock()
	if locks != 0 || plaintexts != 0 {
		t.Fatalf("bookkeeping leaked: locks=%d plaintext=%d", locks, plaintexts)
	}
}

func TestGate_ResendReusesCode(t *testing.T) {
	sender := &recordingSender{}
	g := newTestGate(sender, time.Minute)
	ctx := context.Background()

	id, err := g.Issue(ctx, "txn:abc", "9876543210")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	code := PlaintextCode(g, id)

	if err := g.Resend(ctx, id); err != nil {
		t.Fatalf("resend: %v", err)
	}

	last := sender.last()
	if last.Destination != "9876543210" {
		t.Fatalf("unexpected destination %q", last.Destination)
	}
	if want := "Your verification code is " + code; last.Body != want {
		t.Fatalf("resend minted a new code: %q", last.Body)
	}
}

func TestGate_ResendReportsDeliveryFailure(t *testing.T) {
	sender := &recordingSender{}
	g := newTestGate(sender, time.Minute)
	ctx := context.Background()

	id, err := g.Issue(ctx, "txn:abc", "9876543210")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	sender.fail(errors.New("channel down"))
	if err := g.Resend(ctx, id); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected delivery failure, got %v", err)
	}

	// The challenge survives a failed dispatch.
	sender.fail(nil)
	code := PlaintextCode(g, id)
	if _, err := g.Verify(ctx, id, code); err != nil {
		t.Fatalf("verify after failed resend: %v", err)
	}
}
