package customer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound indicates no customer matches the lookup.
	ErrNotFound = errors.New("customer not found")

	// ErrMobileTaken indicates the mobile number is already registered under
	// the same shopkeeper.
	ErrMobileTaken = errors.New("mobile already registered for this shopkeeper")
)

// Repository persists customers.
type Repository interface {
	Create(ctx context.Context, c Customer) error
	Get(ctx context.Context, id string) (Customer, error)
	FindByMobile(ctx context.Context, ownerID, mobile string) (Customer, error)
	List(ctx context.Context, ownerID string) ([]Customer, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed customer repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new customer record.
func (r *PostgresRepository) Create(ctx context.Context, c Customer) error {
	customerID, err := uuid.Parse(c.ID)
	if err != nil {
		return err
	}
	ownerID, err := uuid.Parse(c.OwnerID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO customers (id, owner_id, display_name, mobile, secondary_id, balance, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		customerID, ownerID, c.DisplayName, c.Mobile, c.SecondaryID, c.Balance, c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	return err
}

// Get fetches a customer by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Customer, error) {
	customerID, err := uuid.Parse(id)
	if err != nil {
		return Customer{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, owner_id, display_name, mobile, secondary_id, balance, created_at, updated_at
        FROM customers WHERE id = $1`, customerID)
	return scanCustomer(row)
}

// FindByMobile looks up the shopkeeper's customer with the given mobile number.
func (r *PostgresRepository) FindByMobile(ctx context.Context, ownerID, mobile string) (Customer, error) {
	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return Customer{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, owner_id, display_name, mobile, secondary_id, balance, created_at, updated_at
        FROM customers WHERE owner_id = $1 AND mobile = $2`, owner, mobile)
	return scanCustomer(row)
}

// List returns all customers recorded by the shopkeeper.
func (r *PostgresRepository) List(ctx context.Context, ownerID string) ([]Customer, error) {
	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return nil, ErrNotFound
	}
	rows, err := r.db.Query(ctx, `SELECT id, owner_id, display_name, mobile, secondary_id, balance, created_at, updated_at
        FROM customers WHERE owner_id = $1 ORDER BY display_name`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (Customer, error) {
	var (
		id        uuid.UUID
		ownerID   uuid.UUID
		createdAt time.Time
		updatedAt time.Time
		c         Customer
	)
	if err := row.Scan(&id, &ownerID, &c.DisplayName, &c.Mobile, &c.SecondaryID, &c.Balance, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, ErrNotFound
		}
		return Customer{}, err
	}
	c.ID = id.String()
	c.OwnerID = ownerID.String()
	c.CreatedAt = createdAt.UTC()
	c.UpdatedAt = updatedAt.UTC()
	return c, nil
}
