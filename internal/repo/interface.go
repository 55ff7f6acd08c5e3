package repo

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrAlreadyExists is returned by CreateUser when a record for the user id
	// is already stored.
	ErrAlreadyExists = errors.New("user record already exists")
	// ErrNotFound is returned by UpdateLastMessage for unknown users.
	ErrNotFound = errors.New("user record not found")
)

// UserStore defines persistence of user records. CreateUser must be atomic:
// of two concurrent creates for the same user id exactly one succeeds and the
// other observes ErrAlreadyExists.
type UserStore interface {
	Close()
	Ping(ctx context.Context) error

	// GetUser returns nil and no error when the user is not registered.
	GetUser(ctx context.Context, userID string) (*UserRecord, error)
	CreateUser(ctx context.Context, rec UserRecord) error
	UpdateLastMessage(ctx context.Context, userID, messageID string) error
}

func validateRecord(rec UserRecord) error {
	if strings.TrimSpace(rec.UserID) == "" {
		return errors.New("create user: empty user id")
	}
	if strings.TrimSpace(rec.DepositAddress) == "" {
		return errors.New("create user: empty deposit address")
	}
	if strings.TrimSpace(rec.RegisteredAddress) == "" {
		return errors.New("create user: empty registered address")
	}
	return nil
}

var (
	_ UserStore = (*PostgresRepository)(nil)
	_ UserStore = (*SQLiteRepository)(nil)
	_ UserStore = (*RedisStore)(nil)
	_ UserStore = (*MemoryStore)(nil)
)
