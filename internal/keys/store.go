package keys

import (
	"context"
	"sync"
)

// Store is the durable source of truth for issued keys.
type Store interface {
	// Lookup retrieves a record by key.
	// Returns ErrKeyNotFound if no row exists.
	Lookup(ctx context.Context, key string) (*Record, error)

	// Insert persists a new record with conflict-tolerant semantics:
	// if a row with the same key already exists the insert is a no-op
	// and inserted is false.
	Insert(ctx context.Context, rec *Record) (inserted bool, err error)

	// Update applies a partial update to an existing row. Nil fields
	// are left untouched.
	Update(ctx context.Context, key string, fields Fields) error
}

// MemoryStore is an in-memory implementation of the Store interface,
// used in tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record

	lookups int
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
	}
}

// Lookup retrieves a record by key.
func (s *MemoryStore) Lookup(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lookups++

	rec, ok := s.records[key]
	if !ok {
		return nil, ErrKeyNotFound
	}

	out := rec
	return &out, nil
}

// Insert persists a new record; an existing key makes it a no-op.
func (s *MemoryStore) Insert(_ context.Context, rec *Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.Key]; exists {
		return false, nil
	}

	s.records[rec.Key] = *rec
	return true, nil
}

// Update applies a partial update to an existing row.
func (s *MemoryStore) Update(_ context.Context, key string, fields Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return ErrKeyNotFound
	}

	if fields.AppName != nil {
		rec.AppName = *fields.AppName
	}
	if fields.Website != nil {
		rec.Website = *fields.Website
	}
	if fields.Email != nil {
		rec.Email = *fields.Email
	}
	if fields.Tier != nil {
		rec.Tier = *fields.Tier
	}
	if fields.Active != nil {
		rec.Active = *fields.Active
	}

	s.records[key] = rec
	return nil
}

// Lookups returns the number of Lookup calls, for cache tests.
func (s *MemoryStore) Lookups() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookups
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
