package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type customerAccount struct {
	mu      sync.Mutex
	balance int64
	history []Transaction
}

// idemRecord remembers enough of the original posting to tell a replay from
// a conflicting reuse of the key.
type idemRecord struct {
	result ApplyResult
	kind   Kind
	amount int64
}

type inMemoryLedger struct {
	mu       sync.RWMutex
	accounts map[string]*customerAccount
	// byIdemKey is scoped per customer ("<customer>:<key>"): the same key
	// under two customers names two independent postings.
	byIdemKey map[string]idemRecord
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit
// tests. Apply calls against the same customer are serialized on a
// per-account mutex; different customers do not block each other.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		accounts:  make(map[string]*customerAccount),
		byIdemKey: make(map[string]idemRecord),
	}
}

func (l *inMemoryLedger) EnsureCustomer(_ context.Context, customerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.accounts[customerID]; !exists {
		l.accounts[customerID] = &customerAccount{}
	}
	return nil
}

func (l *inMemoryLedger) account(customerID string) (*customerAccount, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.accounts[customerID]
	return acct, ok
}

func (l *inMemoryLedger) Apply(_ context.Context, input ApplyInput) (ApplyResult, error) {
	if input.Amount <= 0 {
		return ApplyResult{}, ErrInvalidAmount
	}
	delta, err := input.Kind.Delta(input.Amount)
	if err != nil {
		return ApplyResult{}, err
	}

	acct, ok := l.account(input.CustomerID)
	if !ok {
		return ApplyResult{}, ErrCustomerNotFound
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	idemKey := input.CustomerID + ":" + input.IdempotencyKey
	if input.IdempotencyKey != "" {
		l.mu.RLock()
		prior, replay := l.byIdemKey[idemKey]
		l.mu.RUnlock()
		if replay {
			if prior.kind != input.Kind || prior.amount != input.Amount {
				return ApplyResult{}, ErrIdempotencyConflict
			}
			return prior.result, ErrDuplicateTransaction
		}
	}

	tx := Transaction{
		ID:          uuid.NewString(),
		CustomerID:  input.CustomerID,
		Kind:        input.Kind,
		Amount:      input.Amount,
		Description: input.Description,
		EvidenceRef: input.EvidenceRef,
		OccurredAt:  input.OccurredAt,
		RecordedAt:  time.Now().UTC(),
	}

	acct.history = append(acct.history, tx)
	acct.balance += delta

	res := ApplyResult{TransactionID: tx.ID, Balance: acct.balance}
	if input.IdempotencyKey != "" {
		l.mu.Lock()
		l.byIdemKey[idemKey] = idemRecord{result: res, kind: input.Kind, amount: input.Amount}
		l.mu.Unlock()
	}
	return res, nil
}

func (l *inMemoryLedger) Balance(_ context.Context, customerID string) (int64, error) {
	acct, ok := l.account(customerID)
	if !ok {
		return 0, ErrCustomerNotFound
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.balance, nil
}

func (l *inMemoryLedger) Statement(_ context.Context, customerID string) ([]Transaction, error) {
	acct, ok := l.account(customerID)
	if !ok {
		return nil, ErrCustomerNotFound
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	out := make([]Transaction, len(acct.history))
	copy(out, acct.history)
	return out, nil
}
