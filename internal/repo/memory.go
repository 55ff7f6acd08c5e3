package repo

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process UserStore for local runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]UserRecord
	now   func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]UserRecord),
		now:   time.Now,
	}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) GetUser(_ context.Context, userID string) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[UserKey(userID)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, rec UserRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[rec.Key()]; ok {
		return ErrAlreadyExists
	}
	now := s.now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.users[rec.Key()] = rec
	return nil
}

func (s *MemoryStore) UpdateLastMessage(_ context.Context, userID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[UserKey(userID)]
	if !ok {
		return ErrNotFound
	}
	rec.LastMessageID = messageID
	rec.UpdatedAt = s.now().UTC()
	s.users[UserKey(userID)] = rec
	return nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}
