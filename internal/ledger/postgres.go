package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger persists transactions in PostgreSQL, updating the
// denormalized customer balance in the same database transaction so the
// append and the balance delta land as one unit.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// EnsureCustomer verifies the customer row exists. Customer rows are created
// by the identity resolution flow; the ledger never creates them.
func (l *PostgresLedger) EnsureCustomer(ctx context.Context, customerID string) error {
	id, err := uuid.Parse(customerID)
	if err != nil {
		return ErrCustomerNotFound
	}
	var found uuid.UUID
	if err := l.db.QueryRow(ctx, `SELECT id FROM customers WHERE id = $1`, id).Scan(&found); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCustomerNotFound
		}
		return err
	}
	return nil
}

// Apply appends an immutable transaction and moves the customer balance under
// a row lock. A repeated idempotency key returns the original posting with
// ErrDuplicateTransaction and applies no second delta.
func (l *PostgresLedger) Apply(ctx context.Context, input ApplyInput) (ApplyResult, error) {
	if input.Amount <= 0 {
		return ApplyResult{}, ErrInvalidAmount
	}
	delta, err := input.Kind.Delta(input.Amount)
	if err != nil {
		return ApplyResult{}, err
	}
	customerID, err := uuid.Parse(input.CustomerID)
	if err != nil {
		return ApplyResult{}, ErrCustomerNotFound
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ApplyResult{}, fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var balance int64
	if err := tx.QueryRow(ctx, `SELECT balance FROM customers WHERE id = $1 FOR UPDATE`, customerID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ApplyResult{}, ErrCustomerNotFound
		}
		return ApplyResult{}, err
	}

	if input.IdempotencyKey != "" {
		// Keys are scoped per customer; a replay must carry the original
		// kind and amount or it is a conflicting reuse, not a retry.
		var (
			existingID     uuid.UUID
			existingKind   string
			existingAmount int64
		)
		err := tx.QueryRow(ctx, `SELECT id, kind, amount FROM transactions WHERE customer_id = $1 AND idempotency_key = $2`,
			customerID, input.IdempotencyKey).Scan(&existingID, &existingKind, &existingAmount)
		if err == nil {
			if existingKind != string(input.Kind) || existingAmount != input.Amount {
				return ApplyResult{}, ErrIdempotencyConflict
			}
			return ApplyResult{TransactionID: existingID.String(), Balance: balance}, ErrDuplicateTransaction
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return ApplyResult{}, err
		}
	}

	txID := uuid.New()
	recordedAt := time.Now().UTC()
	if _, err := tx.Exec(ctx, `INSERT INTO transactions (id, customer_id, kind, amount, description, evidence_ref, occurred_at, recorded_at, idempotency_key)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		txID, customerID, string(input.Kind), input.Amount, input.Description, input.EvidenceRef,
		input.OccurredAt.UTC(), recordedAt, input.IdempotencyKey); err != nil {
		return ApplyResult{}, fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	if _, err := tx.Exec(ctx, `UPDATE customers SET balance = balance + $1, updated_at = $2 WHERE id = $3`,
		delta, recordedAt, customerID); err != nil {
		return ApplyResult{}, fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ApplyResult{}, fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	return ApplyResult{TransactionID: txID.String(), Balance: balance + delta}, nil
}

// Balance returns the customer's running balance.
func (l *PostgresLedger) Balance(ctx context.Context, customerID string) (int64, error) {
	id, err := uuid.Parse(customerID)
	if err != nil {
		return 0, ErrCustomerNotFound
	}
	var balance int64
	if err := l.db.QueryRow(ctx, `SELECT balance FROM customers WHERE id = $1`, id).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrCustomerNotFound
		}
		return 0, err
	}
	return balance, nil
}

// Statement returns the customer's committed transactions in commit order.
func (l *PostgresLedger) Statement(ctx context.Context, customerID string) ([]Transaction, error) {
	id, err := uuid.Parse(customerID)
	if err != nil {
		return nil, ErrCustomerNotFound
	}
	rows, err := l.db.Query(ctx, `SELECT id, customer_id, kind, amount, description, evidence_ref, occurred_at, recorded_at
        FROM transactions WHERE customer_id = $1 ORDER BY recorded_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []Transaction
	for rows.Next() {
		var (
			txID       uuid.UUID
			custID     uuid.UUID
			kind       string
			occurredAt time.Time
			recordedAt time.Time
			t          Transaction
		)
		if err := rows.Scan(&txID, &custID, &kind, &t.Amount, &t.Description, &t.EvidenceRef, &occurredAt, &recordedAt); err != nil {
			return nil, err
		}
		t.ID = txID.String()
		t.CustomerID = custID.String()
		t.Kind = Kind(kind)
		t.OccurredAt = occurredAt.UTC()
		t.RecordedAt = recordedAt.UTC()
		history = append(history, t)
	}
	return history, rows.Err()
}
