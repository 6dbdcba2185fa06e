package shopkeeper

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates no shopkeeper matches the lookup.
var ErrNotFound = errors.New("shopkeeper not found")

// Repository persists shopkeepers.
type Repository interface {
	Create(ctx context.Context, keeper Shopkeeper) error
	FindByPhone(ctx context.Context, phone string) (Shopkeeper, error)
	FindByID(ctx context.Context, id string) (Shopkeeper, error)
	UpdateTokenVersion(ctx context.Context, id string, version int) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed shopkeeper repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new shopkeeper.
func (r *PostgresRepository) Create(ctx context.Context, keeper Shopkeeper) error {
	keeperID, err := uuid.Parse(keeper.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO shopkeepers (id, phone, name, pin_hash, token_version, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`, keeperID, keeper.Phone, keeper.Name, keeper.PINHash, keeper.TokenVersion, keeper.CreatedAt.UTC())
	return err
}

// FindByPhone fetches a shopkeeper by phone number.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (Shopkeeper, error) {
	row := r.db.QueryRow(ctx, `SELECT id, phone, name, pin_hash, token_version, created_at FROM shopkeepers WHERE phone = $1`, phone)
	return scanShopkeeper(row)
}

// FindByID fetches a shopkeeper by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Shopkeeper, error) {
	keeperID, err := uuid.Parse(id)
	if err != nil {
		return Shopkeeper{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, phone, name, pin_hash, token_version, created_at FROM shopkeepers WHERE id = $1`, keeperID)
	return scanShopkeeper(row)
}

// UpdateTokenVersion bumps the token version, invalidating outstanding tokens.
func (r *PostgresRepository) UpdateTokenVersion(ctx context.Context, id string, version int) error {
	keeperID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE shopkeepers SET token_version = $1 WHERE id = $2`, version, keeperID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanShopkeeper(row pgx.Row) (Shopkeeper, error) {
	var (
		id        uuid.UUID
		createdAt time.Time
		keeper    Shopkeeper
	)
	if err := row.Scan(&id, &keeper.Phone, &keeper.Name, &keeper.PINHash, &keeper.TokenVersion, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shopkeeper{}, ErrNotFound
		}
		return Shopkeeper{}, err
	}
	keeper.ID = id.String()
	keeper.CreatedAt = createdAt.UTC()
	return keeper, nil
}
