package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteRepository provides access to a local SQLite database.
type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens a new connection to the SQLite database.
func NewSQLite(ctx context.Context, databasePath string, logger *slog.Logger) (*SQLiteRepository, error) {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure sqlite dir: %w", err)
		}
	}
	// Busy timeout and WAL mode are recommended for SQLite concurrency.
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn = fmt.Sprintf("%s%s_pragma=busy_timeout=10000&_pragma=journal_mode=WAL&_pragma=foreign_keys=ON", dsn, sep)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteRepository{
		db:     db,
		logger: logger.With("component", "repo_sqlite"),
	}, nil
}

// Close releases the database connection.
func (r *SQLiteRepository) Close() {
	if r.db != nil {
		r.db.Close()
	}
}

// Ping ensures the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RunMigrations executes every *.sql file under sqlite/ in lexicographical order.
func (r *SQLiteRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	names, err := fs.Glob(filesystem, "sqlite/*.sql")
	if err != nil {
		return fmt.Errorf("list sqlite migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := fs.ReadFile(filesystem, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if len(content) == 0 {
			continue
		}
		if _, err := r.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// GetUser loads a user record by digest.
func (r *SQLiteRepository) GetUser(ctx context.Context, userID string) (*UserRecord, error) {
	const q = `
SELECT user_id, registered_address, deposit_address, COALESCE(last_message_id, ''), created_at, updated_at
FROM wallet_users
WHERE user_id = ?
LIMIT 1;
`
	var u UserRecord
	err := r.db.QueryRowContext(ctx, q, userID).Scan(
		&u.UserID,
		&u.RegisteredAddress,
		&u.DepositAddress,
		&u.LastMessageID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a new record, reporting ErrAlreadyExists on conflict.
func (r *SQLiteRepository) CreateUser(ctx context.Context, rec UserRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	const q = `
INSERT INTO wallet_users (user_id, registered_address, deposit_address, last_message_id, created_at, updated_at)
VALUES (?, ?, ?, NULLIF(?, ''), CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
ON CONFLICT (user_id) DO NOTHING;
`
	res, err := r.db.ExecContext(ctx, q, rec.UserID, rec.RegisteredAddress, rec.DepositAddress, rec.LastMessageID)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create user rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// UpdateLastMessage records the message id that last mutated the user.
func (r *SQLiteRepository) UpdateLastMessage(ctx context.Context, userID, messageID string) error {
	const q = `UPDATE wallet_users SET last_message_id = ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`
	res, err := r.db.ExecContext(ctx, q, messageID, userID)
	if err != nil {
		return fmt.Errorf("update last message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update last message rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
