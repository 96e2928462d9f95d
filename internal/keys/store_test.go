package keys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreInsertLookup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	rec := &Record{Key: "k1", AppName: "Foo", Tier: 1, Active: true}

	inserted, err := s.Insert(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	got, err := s.Lookup(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "Foo", got.AppName)

	// Returned records are copies; mutating one must not leak back.
	got.AppName = "mutated"
	again, err := s.Lookup(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "Foo", again.AppName)
}

func TestMemoryStoreInsertConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	inserted, err := s.Insert(ctx, &Record{Key: "k1", Tier: 1})
	require.NoError(t, err)
	require.True(t, inserted)

	// A second insert with the same key is a no-op, not an error.
	inserted, err = s.Insert(ctx, &Record{Key: "k1", Tier: 9})
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.Lookup(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Tier, "conflicting insert must not overwrite")
}

func TestMemoryStoreUpdate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Insert(ctx, &Record{
		Key: "k1", AppName: "Foo", Website: "foo.xyz", Email: "a@b.com", Tier: 1, Active: true,
	})
	require.NoError(t, err)

	tier := 3
	active := false
	require.NoError(t, s.Update(ctx, "k1", Fields{Tier: &tier, Active: &active}))

	got, err := s.Lookup(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Tier)
	assert.False(t, got.Active)

	// Untouched fields survive the partial update.
	assert.Equal(t, "Foo", got.AppName)
	assert.Equal(t, "a@b.com", got.Email)

	assert.ErrorIs(t, s.Update(ctx, "missing", Fields{Tier: &tier}), ErrKeyNotFound)
}
