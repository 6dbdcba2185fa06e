package transactions

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bahi-khata/bahi_khata/internal/customer"
	"github.com/bahi-khata/bahi_khata/internal/ledger"
	"github.com/bahi-khata/bahi_khata/internal/otp"
	"github.com/bahi-khata/bahi_khata/internal/verification"
)

// Intent is a single user action moving money, tracked from draft to commit.
// The OTP challenge for a debit is bound to the intent, including its amount,
// so a code can never authorize a different amount than the one displayed.
type Intent struct {
	ID             string
	OwnerID        string
	CustomerID     string
	Kind           ledger.Kind
	Amount         int64
	Description    string
	EvidenceRef    string
	OccurredAt     time.Time
	State          State
	OtpChallengeID string
	IdempotencyKey string
	CreatedAt      time.Time
}

// CommitResult describes a committed transaction.
type CommitResult struct {
	TransactionID string
	Balance       int64
	CommittedAt   time.Time
}

// Orchestrator sequences identity resolution, passcode authorization and the
// balance engine for a single user action. It exposes synchronous blocking
// operations and leaves parallelism to the caller.
type Orchestrator struct {
	customers customer.Repository
	books     ledger.Ledger
	resolver  *verification.Resolver
	gate      *otp.Gate
	logger    *slog.Logger

	mu      sync.Mutex
	intents map[string]*Intent
}

// NewOrchestrator wires the transaction flow facade.
func NewOrchestrator(customers customer.Repository, books ledger.Ledger, resolver *verification.Resolver, gate *otp.Gate, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		customers: customers,
		books:     books,
		resolver:  resolver,
		gate:      gate,
		logger:    logger,
		intents:   make(map[string]*Intent),
	}
}

// ResolveIdentity resolves a counterparty before any ledger record is created.
func (o *Orchestrator) ResolveIdentity(ctx context.Context, ownerID, mobile, secondaryID, name string) (verification.Outcome, error) {
	outcome, err := o.resolver.Resolve(ctx, ownerID, mobile, secondaryID, name)
	if err != nil {
		switch {
		case errors.Is(err, verification.ErrInvalidMobile), errors.Is(err, verification.ErrInvalidSecondaryID):
			return verification.Outcome{}, failf(FailInvalidInput, StateDrafting, "%v", err)
		case errors.Is(err, verification.ErrVerificationFailed):
			return verification.Outcome{}, failf(FailNotFound, StateDrafting, "%v", err)
		default:
			return verification.Outcome{}, err
		}
	}
	return outcome, nil
}

// BeginInput captures a transaction draft.
type BeginInput struct {
	OwnerID     string
	CustomerID  string
	Kind        ledger.Kind
	Amount      int64
	Description string
	EvidenceRef string
	OccurredAt  time.Time
}

// Begin validates a draft against the resolved customer and registers an
// intent. Credit intents go straight to IDENTITY_RESOLVED and may commit
// immediately; debit intents additionally require passcode authorization.
func (o *Orchestrator) Begin(ctx context.Context, input BeginInput) (Intent, error) {
	if input.Amount <= 0 {
		return Intent{}, failf(FailInvalidInput, StateDrafting, "amount must be positive")
	}
	if input.Kind != ledger.KindCredit && input.Kind != ledger.KindDebit {
		return Intent{}, failf(FailInvalidInput, StateDrafting, "kind must be credit or debit")
	}

	record, err := o.customers.Get(ctx, input.CustomerID)
	if err != nil || record.OwnerID != input.OwnerID {
		return Intent{}, failf(FailNotFound, StateDrafting, "customer %s not found", input.CustomerID)
	}

	if input.Kind == ledger.KindDebit {
		balance, err := o.books.Balance(ctx, input.CustomerID)
		if err != nil {
			return Intent{}, failf(FailNotFound, StateDrafting, "customer %s has no ledger account", input.CustomerID)
		}
		// Flow-level policy, not a ledger invariant: a debit may not exceed
		// the outstanding amount owed.
		if input.Amount > balance {
			return Intent{}, failf(FailInvalidInput, StateDrafting, "debit %d exceeds outstanding balance %d", input.Amount, balance)
		}
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	intent := &Intent{
		ID:          uuid.NewString(),
		OwnerID:     input.OwnerID,
		CustomerID:  input.CustomerID,
		Kind:        input.Kind,
		Amount:      input.Amount,
		Description: input.Description,
		EvidenceRef: input.EvidenceRef,
		OccurredAt:  occurredAt,
		State:       StateIdentityResolved,
		CreatedAt:   time.Now().UTC(),
	}

	o.mu.Lock()
	o.intents[intent.ID] = intent
	o.mu.Unlock()

	return *intent, nil
}

// Get returns an intent snapshot.
func (o *Orchestrator) Get(intentID string) (Intent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	intent, ok := o.intents[intentID]
	if !ok {
		return Intent{}, failf(FailNotFound, StateDrafting, "intent %s not found", intentID)
	}
	return *intent, nil
}

// IssueOtp issues the passcode challenge guarding a debit intent. Credit
// intents never enter OTP_PENDING. Calling it again while a challenge is
// live re-dispatches the same code; calling it after expiry or exhaustion
// mints a fresh challenge and moves the intent back to OTP_PENDING.
func (o *Orchestrator) IssueOtp(ctx context.Context, ownerID, intentID string) (string, error) {
	intent, err := o.intent(ownerID, intentID)
	if err != nil {
		return "", err
	}
	if intent.Kind != ledger.KindDebit {
		return "", failf(FailInvalidInput, intent.State, "credit transactions do not require a passcode")
	}

	switch intent.State {
	case StateOtpPending:
		if err := o.gate.Resend(ctx, intent.OtpChallengeID); err != nil {
			if errors.Is(err, otp.ErrDeliveryFailed) {
				return intent.OtpChallengeID, failf(FailDeliveryError, StateOtpPending, "passcode delivery failed, request a resend")
			}
			// The stored challenge is gone; fall through to a fresh issue.
		} else {
			return intent.OtpChallengeID, nil
		}
	case StateIdentityResolved, StateFailed:
		// fresh issue below
	default:
		return "", failf(FailInvalidInput, intent.State, "intent is not awaiting authorization")
	}

	record, err := o.customers.Get(ctx, intent.CustomerID)
	if err != nil {
		return "", failf(FailNotFound, intent.State, "customer %s not found", intent.CustomerID)
	}

	challengeID, err := o.gate.Issue(ctx, "txn:"+intent.ID, record.Mobile)
	if err != nil {
		return "", failf(FailDeliveryError, intent.State, "issue passcode: %v", err)
	}

	o.transition(intent.ID, func(i *Intent) {
		i.OtpChallengeID = challengeID
		i.State = StateOtpPending
	})
	return challengeID, nil
}

// VerifyOtp submits the code for an OTP_PENDING debit intent. A wrong code
// keeps the intent in OTP_PENDING with its remaining attempt budget; an
// expired or exhausted challenge moves the intent to FAILED and the caller
// must restart from IssueOtp.
func (o *Orchestrator) VerifyOtp(ctx context.Context, ownerID, intentID, code string) error {
	intent, err := o.intent(ownerID, intentID)
	if err != nil {
		return err
	}
	if intent.State != StateOtpPending {
		return failf(FailInvalidInput, intent.State, "intent is not awaiting a passcode")
	}

	remaining, err := o.gate.Verify(ctx, intent.OtpChallengeID, code)
	switch {
	case err == nil:
		o.transition(intent.ID, func(i *Intent) { i.State = StateAuthorized })
		return nil
	case errors.Is(err, otp.ErrWrongCode):
		return failf(FailWrongCode, StateOtpPending, "wrong code, %d attempts remain", remaining)
	case errors.Is(err, otp.ErrChallengeExpired):
		o.transition(intent.ID, func(i *Intent) { i.State = StateFailed })
		return failf(FailExpired, StateFailed, "code expired, request a new one")
	case errors.Is(err, otp.ErrAttemptsExhausted):
		o.transition(intent.ID, func(i *Intent) { i.State = StateFailed })
		return failf(FailExhausted, StateFailed, "attempts exhausted, request a new code")
	case errors.Is(err, otp.ErrChallengeNotFound):
		o.transition(intent.ID, func(i *Intent) { i.State = StateFailed })
		return failf(FailNotFound, StateFailed, "challenge no longer exists, request a new code")
	default:
		return err
	}
}

// Commit posts the intent through the balance engine. The caller-supplied
// idempotency key makes retries safe: a replay returns the original posting
// without a second balance delta.
func (o *Orchestrator) Commit(ctx context.Context, ownerID, intentID, idempotencyKey string) (CommitResult, error) {
	intent, err := o.intent(ownerID, intentID)
	if err != nil {
		return CommitResult{}, err
	}
	if idempotencyKey == "" {
		return CommitResult{}, failf(FailInvalidInput, intent.State, "idempotency key is required")
	}

	switch {
	case intent.State == StateCommitted:
		// replayed commit; the ledger resolves it via the idempotency key
	case intent.Kind == ledger.KindCredit && intent.State == StateIdentityResolved:
	case intent.Kind == ledger.KindDebit && intent.State == StateAuthorized:
	case intent.State == StateFailed && intent.IdempotencyKey != "" && intent.IdempotencyKey == idempotencyKey:
		// A failed commit pins the key; retrying with it resumes the posting.
		// Failures that never reached commit (e.g. exhausted passcodes) have
		// no pinned key and cannot take this path.
	default:
		if intent.Kind == ledger.KindDebit {
			return CommitResult{}, failf(FailInvalidInput, intent.State, "debit requires passcode authorization before commit")
		}
		return CommitResult{}, failf(FailInvalidInput, intent.State, "intent cannot be committed from this state")
	}

	if intent.IdempotencyKey != "" && intent.IdempotencyKey != idempotencyKey {
		return CommitResult{}, failf(FailInvalidInput, intent.State, "intent was first committed with a different idempotency key")
	}

	// The cap was checked at Begin against the balance at that moment; other
	// commits may have landed since, so re-check before posting.
	if intent.Kind == ledger.KindDebit && intent.State != StateCommitted {
		balance, err := o.books.Balance(ctx, intent.CustomerID)
		if err != nil {
			return CommitResult{}, failf(FailNotFound, intent.State, "customer %s has no ledger account", intent.CustomerID)
		}
		if intent.Amount > balance {
			return CommitResult{}, failf(FailInvalidInput, intent.State, "debit %d exceeds outstanding balance %d", intent.Amount, balance)
		}
	}

	res, err := o.books.Apply(ctx, ledger.ApplyInput{
		CustomerID:     intent.CustomerID,
		Kind:           intent.Kind,
		Amount:         intent.Amount,
		Description:    intent.Description,
		EvidenceRef:    intent.EvidenceRef,
		OccurredAt:     intent.OccurredAt,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		switch {
		case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrUnknownKind), errors.Is(err, ledger.ErrIdempotencyConflict):
			return CommitResult{}, failf(FailInvalidInput, intent.State, "%v", err)
		case errors.Is(err, ledger.ErrCustomerNotFound):
			return CommitResult{}, failf(FailNotFound, intent.State, "%v", err)
		default:
			o.transition(intent.ID, func(i *Intent) {
				i.State = StateFailed
				i.IdempotencyKey = idempotencyKey
			})
			return CommitResult{}, failf(FailCommitFailed, StateFailed, "commit failed, retry with the same idempotency key")
		}
	}

	o.transition(intent.ID, func(i *Intent) {
		i.State = StateCommitted
		i.IdempotencyKey = idempotencyKey
	})

	if o.logger != nil {
		o.logger.Info("transaction committed",
			slog.String("intent_id", intent.ID),
			slog.String("customer_id", intent.CustomerID),
			slog.String("kind", string(intent.Kind)),
			slog.Int64("amount", intent.Amount),
			slog.Int64("balance", res.Balance),
		)
	}
	return CommitResult{TransactionID: res.TransactionID, Balance: res.Balance, CommittedAt: time.Now().UTC()}, nil
}

func (o *Orchestrator) intent(ownerID, intentID string) (Intent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	intent, ok := o.intents[intentID]
	if !ok || intent.OwnerID != ownerID {
		return Intent{}, failf(FailNotFound, StateDrafting, "intent %s not found", intentID)
	}
	return *intent, nil
}

func (o *Orchestrator) transition(intentID string, mutate func(*Intent)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if intent, ok := o.intents[intentID]; ok {
		mutate(intent)
	}
}
