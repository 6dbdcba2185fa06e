package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCustomerNotFound indicates the referenced customer has no ledger account.
	ErrCustomerNotFound = errors.New("customer not found in ledger")

	// ErrInvalidAmount occurs when a posting amount is zero or negative.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrUnknownKind indicates a transaction kind outside credit/debit.
	ErrUnknownKind = errors.New("unknown transaction kind")

	// ErrDuplicateTransaction indicates the provided idempotency key already
	// exists for this customer and therefore the operation should be treated
	// as idempotent.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrIdempotencyConflict indicates the provided idempotency key was
	// already used for this customer with a different kind or amount. The
	// posting is refused; replays must carry the original payload.
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different payload")

	// ErrCommitFailed indicates the transaction append and balance update could
	// not be applied as one unit. The caller may retry with the same
	// idempotency key.
	ErrCommitFailed = errors.New("commit failed")
)

// Kind distinguishes the two transaction directions.
type Kind string

const (
	// KindCredit increases the amount the customer owes the shopkeeper.
	KindCredit Kind = "credit"
	// KindDebit decreases the amount the customer owes the shopkeeper.
	KindDebit Kind = "debit"
)

// Delta returns the signed balance contribution of an amount under this kind.
func (k Kind) Delta(amount int64) (int64, error) {
	switch k {
	case KindCredit:
		return amount, nil
	case KindDebit:
		return -amount, nil
	default:
		return 0, ErrUnknownKind
	}
}

// Transaction is an immutable committed ledger record. Corrections are new
// offsetting transactions, never edits.
type Transaction struct {
	ID          string
	CustomerID  string
	Kind        Kind
	Amount      int64
	Description string
	EvidenceRef string
	OccurredAt  time.Time
	RecordedAt  time.Time
}

// ApplyInput captures a single posting against a customer's running balance.
type ApplyInput struct {
	CustomerID  string
	Kind        Kind
	Amount      int64
	Description string
	EvidenceRef string
	OccurredAt  time.Time
	// IdempotencyKey is caller-supplied; replaying the same key returns the
	// original posting instead of applying a second delta.
	IdempotencyKey string
}

// ApplyResult captures the outcome of a posting.
type ApplyResult struct {
	TransactionID string
	Balance       int64
}

// Ledger defines the contract implemented by ledger backends (e.g. Postgres).
// Apply is the only code path permitted to mutate a customer's balance, and
// implementations must serialize concurrent Apply calls for the same customer.
type Ledger interface {
	EnsureCustomer(ctx context.Context, customerID string) error
	Apply(ctx context.Context, input ApplyInput) (ApplyResult, error)
	Balance(ctx context.Context, customerID string) (int64, error)
	Statement(ctx context.Context, customerID string) ([]Transaction, error)
}
