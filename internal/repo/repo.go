package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository provides typed access to the users table in Postgres.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
}

// New opens a new connection pool to the database with the desired search_path.
func New(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		logger: logger.With("component", "repo"),
		schema: schema,
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations applies schema migrations on the connected database.
func (r *PostgresRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return ApplyMigrations(ctx, r.pool, filesystem)
}

// GetUser loads a user record by digest.
func (r *PostgresRepository) GetUser(ctx context.Context, userID string) (*UserRecord, error) {
	const q = `
SELECT user_id, registered_address, deposit_address, COALESCE(last_message_id, ''), created_at, updated_at
FROM wallet_users
WHERE user_id = $1
LIMIT 1;
`
	var u UserRecord
	err := r.pool.QueryRow(ctx, q, userID).Scan(
		&u.UserID,
		&u.RegisteredAddress,
		&u.DepositAddress,
		&u.LastMessageID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a new record. The primary key on user_id makes a second
// insert for the same user a no-op, reported as ErrAlreadyExists.
func (r *PostgresRepository) CreateUser(ctx context.Context, rec UserRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	const q = `
INSERT INTO wallet_users (user_id, registered_address, deposit_address, last_message_id)
VALUES ($1, $2, $3, NULLIF($4, ''))
ON CONFLICT (user_id) DO NOTHING;
`
	ct, err := r.pool.Exec(ctx, q, rec.UserID, rec.RegisteredAddress, rec.DepositAddress, rec.LastMessageID)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// UpdateLastMessage records the message id that last mutated the user.
func (r *PostgresRepository) UpdateLastMessage(ctx context.Context, userID, messageID string) error {
	const q = `UPDATE wallet_users SET last_message_id = $2, updated_at = NOW() WHERE user_id = $1`
	ct, err := r.pool.Exec(ctx, q, userID, messageID)
	if err != nil {
		return fmt.Errorf("update last message: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
