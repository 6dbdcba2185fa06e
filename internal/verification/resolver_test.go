package verification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bahi-khata/bahi_khata/internal/customer"
	"github.com/bahi-khata/bahi_khata/internal/ledger"
	"github.com/bahi-khata/bahi_khata/internal/logging"
	"github.com/bahi-khata/bahi_khata/internal/notification"
	"github.com/bahi-khata/bahi_khata/internal/otp"
)

type discardSender struct{}

func (discardSender) Send(context.Context, notification.Message) error { return nil }

type fixture struct {
	customers customer.Repository
	books     ledger.Ledger
	gate      *otp.Gate
	resolver  *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.Discard()
	customers := customer.NewMemoryRepository()
	books := ledger.NewInMemory()
	gate := otp.NewGate(otp.NewMemoryStore(), discardSender{}, logger, 5*time.Minute, 3)
	return &fixture{
		customers: customers,
		books:     books,
		gate:      gate,
		resolver:  NewResolver(customers, books, StaticVerifier{}, gate, logger, 10*time.Minute),
	}
}

func TestResolver_RejectsMalformedMobile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, mobile := range []string{"", "12345", "98765432101", "98765abcde"} {
		if _, err := f.resolver.Resolve(ctx, "owner-1", mobile, "", ""); !errors.Is(err, ErrInvalidMobile) {
			t.Fatalf("mobile %q: expected invalid mobile, got %v", mobile, err)
		}
	}
}

func TestResolver_ExistingMobileShortCircuits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seeded := customer.Customer{
		ID:          "cust-1",
		OwnerID:     "owner-1",
		DisplayName: "Asha",
		Mobile:      "9876543210",
	}
	if err := f.customers.Create(ctx, seeded); err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	outcome, err := f.resolver.Resolve(ctx, "owner-1", "9876543210", "", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome.Kind != OutcomeExisting || outcome.CustomerID != "cust-1" {
		t.Fatalf("expected existing outcome for cust-1, got %+v", outcome)
	}

	// Another owner's book does not see the same mobile.
	outcome, err = f.resolver.Resolve(ctx, "owner-2", "9876543210", "", "")
	if err != nil {
		t.Fatalf("resolve for second owner: %v", err)
	}
	if outcome.Kind != OutcomeNeedsSecondaryID {
		t.Fatalf("expected needs_secondary_id for unknown pair, got %+v", outcome)
	}
}

func TestResolver_UnknownMobileRequestsSecondaryID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome, err := f.resolver.Resolve(ctx, "owner-1", "9876543210", "", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome.Kind != OutcomeNeedsSecondaryID {
		t.Fatalf("expected needs_secondary_id, got %+v", outcome)
	}

	if _, err := f.resolver.Resolve(ctx, "owner-1", "9876543210", "1234", "Asha"); !errors.Is(err, ErrInvalidSecondaryID) {
		t.Fatalf("expected invalid secondary id, got %v", err)
	}
}

func TestResolver_VerifyOtpCreatesCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome, err := f.resolver.Resolve(ctx, "owner-1", "9876543210", "123456789012", "Asha")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome.Kind != OutcomeNeedsOtp || outcome.ChallengeID == "" {
		t.Fatalf("expected needs_otp with challenge id, got %+v", outcome)
	}

	// No ledger record exists before verification succeeds.
	if _, err := f.customers.FindByMobile(ctx, "owner-1", "9876543210"); !errors.Is(err, customer.ErrNotFound) {
		t.Fatalf("customer committed before verification: %v", err)
	}

	challenge, err := f.resolver.Get(ctx, outcome.ChallengeID)
	if err != nil {
		t.Fatalf("get challenge: %v", err)
	}
	code := otp.PlaintextCode(f.gate, challenge.OtpChallengeID)

	created, _, err := f.resolver.VerifyOtp(ctx, outcome.ChallengeID, code)
	if err != nil {
		t.Fatalf("verify otp: %v", err)
	}
	if created.DisplayName != "Asha" || created.Mobile != "9876543210" || created.SecondaryID != "123456789012" {
		t.Fatalf("unexpected customer %+v", created)
	}

	// The new customer starts with zero balance and is findable by mobile.
	balance, err := f.books.Balance(ctx, created.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected zero opening balance, got %d", balance)
	}
	if _, err := f.customers.FindByMobile(ctx, "owner-1", "9876543210"); err != nil {
		t.Fatalf("find committed customer: %v", err)
	}

	// The challenge is single-use.
	if _, _, err := f.resolver.VerifyOtp(ctx, outcome.ChallengeID, code); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected challenge gone after success, got %v", err)
	}
}

func TestResolver_WrongCodePreservesChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome, err := f.resolver.Resolve(ctx, "owner-1", "9876543210", "123456789012", "Asha")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	remaining, err := func() (int, error) {
		_, remaining, err := f.resolver.VerifyOtp(ctx, outcome.ChallengeID, "000000")
		return remaining, err
	}()
	if !errors.Is(err, otp.ErrWrongCode) {
		t.Fatalf("expected wrong code, got %v", err)
	}
	if remaining != 2 {
		t.Fatalf("expected 2 attempts remaining, got %d", remaining)
	}

	challenge, err := f.resolver.Get(ctx, outcome.ChallengeID)
	if err != nil {
		t.Fatalf("challenge should survive a wrong code: %v", err)
	}

	code := otp.PlaintextCode(f.gate, challenge.OtpChallengeID)
	if _, _, err := f.resolver.VerifyOtp(ctx, outcome.ChallengeID, code); err != nil {
		t.Fatalf("verify after wrong code: %v", err)
	}
}

func TestResolver_SweepsAbandonedChallenges(t *testing.T) {
	logger := logging.Discard()
	customers := customer.NewMemoryRepository()
	books := ledger.NewInMemory()
	gate := otp.NewGate(otp.NewMemoryStore(), discardSender{}, logger, 5*time.Minute, 3)
	resolver := NewResolver(customers, books, StaticVerifier{}, gate, logger, time.Millisecond)
	ctx := context.Background()

	abandoned, err := resolver.Resolve(ctx, "owner-1", "9876543210", "123456789012", "Asha")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	// Any later Resolve reaps the lapsed attempt, even for another mobile.
	if _, err := resolver.Resolve(ctx, "owner-1", "9000000000", "", ""); err != nil {
		t.Fatalf("unrelated resolve: %v", err)
	}

	if _, err := resolver.Get(ctx, abandoned.ChallengeID); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("abandoned challenge still live: %v", err)
	}
}

func TestResolver_ConcurrentGetAndVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome, err := f.resolver.Resolve(ctx, "owner-1", "9876543210", "123456789012", "Asha")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.resolver.Get(ctx, outcome.ChallengeID)
		}()
	}
	// Exhaust the passcode while readers run; the state flip to failed must
	// be visible without torn reads.
	for i := 0; i < 3; i++ {
		f.resolver.VerifyOtp(ctx, outcome.ChallengeID, "000000")
	}
	wg.Wait()

	challenge, err := f.resolver.Get(ctx, outcome.ChallengeID)
	if err != nil {
		t.Fatalf("get after exhaustion: %v", err)
	}
	if challenge.State != StateFailed {
		t.Fatalf("expected failed state, got %s", challenge.State)
	}
}

func TestResolver_SupersedesPendingChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.resolver.Resolve(ctx, "owner-1", "9876543210", "123456789012", "Asha")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := f.resolver.Resolve(ctx, "owner-1", "9876543210", "123456789012", "Asha")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if first.ChallengeID == second.ChallengeID {
		t.Fatalf("expected a fresh challenge on re-resolve")
	}

	if _, err := f.resolver.Get(ctx, first.ChallengeID); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("superseded challenge still live: %v", err)
	}

	challenge, err := f.resolver.Get(ctx, second.ChallengeID)
	if err != nil {
		t.Fatalf("get second challenge: %v", err)
	}
	code := otp.PlaintextCode(f.gate, challenge.OtpChallengeID)
	if _, _, err := f.resolver.VerifyOtp(ctx, second.ChallengeID, code); err != nil {
		t.Fatalf("verify superseding challenge: %v", err)
	}
}
