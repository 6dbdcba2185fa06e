package transactions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bahi-khata/bahi_khata/internal/customer"
	"github.com/bahi-khata/bahi_khata/internal/ledger"
	"github.com/bahi-khata/bahi_khata/internal/logging"
	"github.com/bahi-khata/bahi_khata/internal/notification"
	"github.com/bahi-khata/bahi_khata/internal/otp"
	"github.com/bahi-khata/bahi_khata/internal/verification"
)

type discardSender struct{}

func (discardSender) Send(context.Context, notification.Message) error { return nil }

type flowFixture struct {
	customers    customer.Repository
	books        ledger.Ledger
	gate         *otp.Gate
	orchestrator *Orchestrator
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()
	logger := logging.Discard()
	customers := customer.NewMemoryRepository()
	books := ledger.NewInMemory()
	gate := otp.NewGate(otp.NewMemoryStore(), discardSender{}, logger, 5*time.Minute, 3)
	resolver := verification.NewResolver(customers, books, verification.StaticVerifier{}, gate, logger, 10*time.Minute)
	return &flowFixture{
		customers:    customers,
		books:        books,
		gate:         gate,
		orchestrator: NewOrchestrator(customers, books, resolver, gate, logger),
	}
}

// seedCustomer commits a customer with a ledger account and an opening balance.
func (f *flowFixture) seedCustomer(t *testing.T, ownerID, id, mobile string, balance int64) {
	t.Helper()
	ctx := context.Background()
	err := f.customers.Create(ctx, customer.Customer{
		ID:          id,
		OwnerID:     ownerID,
		DisplayName: "Asha",
		Mobile:      mobile,
	})
	if err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	if err := f.books.EnsureCustomer(ctx, id); err != nil {
		t.Fatalf("ensure ledger account: %v", err)
	}
	if balance != 0 {
		ledger.SeedBalance(f.books, id, balance)
	}
}

func failureKind(t *testing.T, err error) FailureKind {
	t.Helper()
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *Failure, got %T: %v", err, err)
	}
	return f.Kind
}

func TestOrchestrator_CreditCommitsWithoutPasscode(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	// New counterparty: resolve, then verify the identity passcode.
	outcome, err := f.orchestrator.ResolveIdentity(ctx, "owner-1", "9876543210", "123456789012", "Asha")
	if err != nil {
		t.Fatalf("resolve identity: %v", err)
	}
	if outcome.Kind != verification.OutcomeNeedsOtp {
		t.Fatalf("expected needs_otp for unknown mobile, got %+v", outcome)
	}

	intent, err := f.orchestrator.Begin(ctx, BeginInput{
		OwnerID:     "owner-1",
		CustomerID:  "missing",
		Kind:        ledger.KindCredit,
		Amount:      50_000,
		Description: "groceries on credit",
	})
	if err == nil {
		t.Fatalf("begin against unverified identity should fail, got %+v", intent)
	}

	f.seedCustomer(t, "owner-1", "cust-1", "9876501234", 0)

	intent, err = f.orchestrator.Begin(ctx, BeginInput{
		OwnerID:     "owner-1",
		CustomerID:  "cust-1",
		Kind:        ledger.KindCredit,
		Amount:      50_000,
		Description: "groceries on credit",
	})
	if err != nil {
		t.Fatalf("begin credit: %v", err)
	}
	if intent.State != StateIdentityResolved {
		t.Fatalf("expected identity_resolved, got %s", intent.State)
	}

	// A credit never enters otp_pending.
	if _, err := f.orchestrator.IssueOtp(ctx, "owner-1", intent.ID); failureKind(t, err) != FailInvalidInput {
		t.Fatalf("expected invalid_input for credit passcode, got %v", err)
	}

	res, err := f.orchestrator.Commit(ctx, "owner-1", intent.ID, "credit-1")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.Balance != 50_000 {
		t.Fatalf("expected balance 50000, got %d", res.Balance)
	}

	got, _ := f.orchestrator.Get(intent.ID)
	if got.State != StateCommitted {
		t.Fatalf("expected committed, got %s", got.State)
	}
}

func TestOrchestrator_DebitRequiresPasscode(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	f.seedCustomer(t, "owner-1", "cust-1", "9876543210", 20_000)

	intent, err := f.orchestrator.Begin(ctx, BeginInput{
		OwnerID:    "owner-1",
		CustomerID: "cust-1",
		Kind:       ledger.KindDebit,
		Amount:     15_000,
	})
	if err != nil {
		t.Fatalf("begin debit: %v", err)
	}

	// Commit before authorization is refused.
	if _, err := f.orchestrator.Commit(ctx, "owner-1", intent.ID, "debit-1"); failureKind(t, err) != FailInvalidInput {
		t.Fatalf("expected invalid_input before authorization, got %v", err)
	}

	challengeID, err := f.orchestrator.IssueOtp(ctx, "owner-1", intent.ID)
	if err != nil {
		t.Fatalf("issue otp: %v", err)
	}

	// One wrong code keeps the intent in otp_pending.
	err = f.orchestrator.VerifyOtp(ctx, "owner-1", intent.ID, "000000")
	if failureKind(t, err) != FailWrongCode {
		t.Fatalf("expected wrong_code, got %v", err)
	}
	if got, _ := f.orchestrator.Get(intent.ID); got.State != StateOtpPending {
		t.Fatalf("expected otp_pending after a wrong code, got %s", got.State)
	}

	code := otp.PlaintextCode(f.gate, challengeID)
	if err := f.orchestrator.VerifyOtp(ctx, "owner-1", intent.ID, code); err != nil {
		t.Fatalf("verify otp: %v", err)
	}
	if got, _ := f.orchestrator.Get(intent.ID); got.State != StateAuthorized {
		t.Fatalf("expected authorized, got %s", got.State)
	}

	res, err := f.orchestrator.Commit(ctx, "owner-1", intent.ID, "debit-1")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.Balance != 5_000 {
		t.Fatalf("expected balance 5000 after settlement, got %d", res.Balance)
	}
}

func TestOrchestrator_DebitCannotExceedOutstanding(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	f.seedCustomer(t, "owner-1", "cust-1", "9876543210", 10_000)

	_, err := f.orchestrator.Begin(ctx, BeginInput{
		OwnerID:    "owner-1",
		CustomerID: "cust-1",
		Kind:       ledger.KindDebit,
		Amount:     15_000,
	})
	if failureKind(t, err) != FailInvalidInput {
		t.Fatalf("expected invalid_input for over-settlement, got %v", err)
	}
}

func TestOrchestrator_ExhaustedPasscodeFailsIntent(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	f.seedCustomer(t, "owner-1", "cust-1", "9876543210", 20_000)

	intent, err := f.orchestrator.Begin(ctx, BeginInput{
		OwnerID:    "owner-1",
		CustomerID: "cust-1",
		Kind:       ledger.KindDebit,
		Amount:     5_000,
	})
	if err != nil {
		t.Fatalf("begin debit: %v", err)
	}
	if _, err := f.orchestrator.IssueOtp(ctx, "owner-1", intent.ID); err != nil {
		t.Fatalf("issue otp: %v", err)
	}

	var kind FailureKind
	for i := 0; i < 3; i++ {
		kind = failureKind(t, f.orchestrator.VerifyOtp(ctx, "owner-1", intent.ID, "000000"))
	}
	if kind != FailExhausted {
		t.Fatalf("expected exhausted on the third miss, got %s", kind)
	}
	if got, _ := f.orchestrator.Get(intent.ID); got.State != StateFailed {
		t.Fatalf("expected failed after exhaustion, got %s", got.State)
	}

	// Recovery: a fresh challenge re-arms the intent.
	challengeID, err := f.orchestrator.IssueOtp(ctx, "owner-1", intent.ID)
	if err != nil {
		t.Fatalf("reissue otp: %v", err)
	}
	code := otp.PlaintextCode(f.gate, challengeID)
	if err := f.orchestrator.VerifyOtp(ctx, "owner-1", intent.ID, code); err != nil {
		t.Fatalf("verify fresh otp: %v", err)
	}
	if _, err := f.orchestrator.Commit(ctx, "owner-1", intent.ID, "debit-retry"); err != nil {
		t.Fatalf("commit after recovery: %v", err)
	}
}

func TestOrchestrator_CommitIsIdempotent(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	f.seedCustomer(t, "owner-1", "cust-1", "9876543210", 0)

	intent, err := f.orchestrator.Begin(ctx, BeginInput{
		OwnerID:    "owner-1",
		CustomerID: "cust-1",
		Kind:       ledger.KindCredit,
		Amount:     7_500,
	})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	first, err := f.orchestrator.Commit(ctx, "owner-1", intent.ID, "retry-key")
	if err != nil {
		t.Fatalf("first commit: %v", err)
	}
	replay, err := f.orchestrator.Commit(ctx, "owner-1", intent.ID, "retry-key")
	if err != nil {
		t.Fatalf("replayed commit: %v", err)
	}
	if replay.TransactionID != first.TransactionID {
		t.Fatalf("replay posted a second transaction")
	}
	if replay.Balance != 7_500 {
		t.Fatalf("replay changed the balance: %d", replay.Balance)
	}

	// A different key on the same intent is refused outright.
	if _, err := f.orchestrator.Commit(ctx, "owner-1", intent.ID, "other-key"); failureKind(t, err) != FailInvalidInput {
		t.Fatalf("expected invalid_input for key mismatch, got %v", err)
	}
}

// flakyLedger fails a fixed number of Apply calls before delegating, standing
// in for transient storage faults.
type flakyLedger struct {
	ledger.Ledger
	failures int
}

func (f *flakyLedger) Apply(ctx context.Context, input ledger.ApplyInput) (ledger.ApplyResult, error) {
	if f.failures > 0 {
		f.failures--
		return ledger.ApplyResult{}, errors.New("storage unavailable")
	}
	return f.Ledger.Apply(ctx, input)
}

func TestOrchestrator_CommitRetryAfterStorageFault(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	f.seedCustomer(t, "owner-1", "cust-1", "9876543210", 0)

	flaky := &flakyLedger{Ledger: f.books, failures: 1}
	orch := NewOrchestrator(f.customers, flaky, nil, f.gate, logging.Discard())

	intent, err := orch.Begin(ctx, BeginInput{
		OwnerID:    "owner-1",
		CustomerID: "cust-1",
		Kind:       ledger.KindCredit,
		Amount:     2_500,
	})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	_, err = orch.Commit(ctx, "owner-1", intent.ID, "retry-key")
	if failureKind(t, err) != FailCommitFailed {
		t.Fatalf("expected commit_failed on the storage fault, got %v", err)
	}
	if got, _ := orch.Get(intent.ID); got.State != StateFailed {
		t.Fatalf("expected failed after the fault, got %s", got.State)
	}

	// A different key cannot resume the failed commit.
	if _, err := orch.Commit(ctx, "owner-1", intent.ID, "other-key"); failureKind(t, err) != FailInvalidInput {
		t.Fatalf("expected invalid_input for a foreign key, got %v", err)
	}

	// The pinned key resumes the posting once storage recovers.
	res, err := orch.Commit(ctx, "owner-1", intent.ID, "retry-key")
	if err != nil {
		t.Fatalf("retry with the pinned key: %v", err)
	}
	if res.Balance != 2_500 {
		t.Fatalf("expected balance 2500 after retry, got %d", res.Balance)
	}
	if got, _ := orch.Get(intent.ID); got.State != StateCommitted {
		t.Fatalf("expected committed after retry, got %s", got.State)
	}
}

func TestOrchestrator_ExhaustedIntentCannotCommitViaFailedState(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	f.seedCustomer(t, "owner-1", "cust-1", "9876543210", 20_000)

	intent, err := f.orchestrator.Begin(ctx, BeginInput{
		OwnerID:    "owner-1",
		CustomerID: "cust-1",
		Kind:       ledger.KindDebit,
		Amount:     5_000,
	})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := f.orchestrator.IssueOtp(ctx, "owner-1", intent.ID); err != nil {
		t.Fatalf("issue otp: %v", err)
	}
	for i := 0; i < 3; i++ {
		f.orchestrator.VerifyOtp(ctx, "owner-1", intent.ID, "000000")
	}

	// FAILED via exhaustion has no pinned key; commit stays refused.
	if _, err := f.orchestrator.Commit(ctx, "owner-1", intent.ID, "any-key"); failureKind(t, err) != FailInvalidInput {
		t.Fatalf("expected invalid_input for unauthorized debit, got %v", err)
	}
}

func TestOrchestrator_IntentsAreOwnerScoped(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	f.seedCustomer(t, "owner-1", "cust-1", "9876543210", 0)

	intent, err := f.orchestrator.Begin(ctx, BeginInput{
		OwnerID:    "owner-1",
		CustomerID: "cust-1",
		Kind:       ledger.KindCredit,
		Amount:     100,
	})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	if _, err := f.orchestrator.Commit(ctx, "owner-2", intent.ID, "key"); failureKind(t, err) != FailNotFound {
		t.Fatalf("expected not_found for foreign owner, got %v", err)
	}
}
