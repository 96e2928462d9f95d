package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keywarden/keywarden/internal/keys"
)

func TestCreateKeyDerived(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]any{
		"appName": "Foo",
		"website": "foo.xyz",
		"email":   "a@b.com",
		"tier":    2,
	}

	w := env.do(t, http.MethodPost, "/v1/keys", body, env.adminKey)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp createKeyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, keys.DeriveKey("a@b.com", "foo.xyz"), resp.Key)

	// Resubmitting the same identity yields the same key.
	w = env.do(t, http.MethodPost, "/v1/keys", body, env.adminKey)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp2 createKeyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp2))
	assert.Equal(t, resp.Key, resp2.Key)

	rec, err := env.store.Lookup(context.Background(), resp.Key)
	require.NoError(t, err)
	assert.Equal(t, "Foo", rec.AppName)
	assert.True(t, rec.Active, "keys default to active")
}

func TestCreateKeyExplicit(t *testing.T) {
	env := newTestEnv(t)

	active := false
	w := env.do(t, http.MethodPost, "/v1/keys", map[string]any{
		"key":     "explicit-key",
		"appName": "Foo",
		"website": "foo.xyz",
		"email":   "a@b.com",
		"active":  active,
	}, env.adminKey)
	require.Equal(t, http.StatusCreated, w.Code)

	rec, err := env.store.Lookup(context.Background(), "explicit-key")
	require.NoError(t, err)
	assert.False(t, rec.Active)
}

func TestCreateKeyValidation(t *testing.T) {
	env := newTestEnv(t)

	// Missing required identity fields.
	w := env.do(t, http.MethodPost, "/v1/keys", map[string]any{
		"appName": "Foo",
	}, env.adminKey)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unauthenticated callers never reach the handler.
	w = env.do(t, http.MethodPost, "/v1/keys", map[string]any{
		"appName": "Foo", "website": "foo.xyz", "email": "a@b.com",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetKey(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/keys/"+env.adminKey, nil, env.adminKey)
	require.Equal(t, http.StatusOK, w.Code)

	var entity keys.Entity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entity))
	assert.Equal(t, "Admin", entity.AppName)

	w = env.do(t, http.MethodGet, "/v1/keys/unknown", nil, env.adminKey)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateKey(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.store.Insert(context.Background(), &keys.Record{
		Key: "k1", AppName: "Foo", Tier: 1, Active: true,
	})
	require.NoError(t, err)

	w := env.do(t, http.MethodPatch, "/v1/keys/k1", map[string]any{
		"tier": 3,
	}, env.adminKey)
	require.Equal(t, http.StatusOK, w.Code)

	rec, err := env.store.Lookup(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Tier)
	assert.Equal(t, "Foo", rec.AppName, "untouched fields survive")
}

func TestUpdateKeyErrors(t *testing.T) {
	env := newTestEnv(t)

	// No fields to apply.
	w := env.do(t, http.MethodPatch, "/v1/keys/"+env.adminKey, map[string]any{}, env.adminKey)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPatch, "/v1/keys/unknown", map[string]any{
		"tier": 3,
	}, env.adminKey)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvictKey(t *testing.T) {
	env := newTestEnv(t)

	// Warm the caches through a validation.
	w := env.do(t, http.MethodGet, "/v1/validate", nil, env.adminKey)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, env.manager.Close())
	require.Positive(t, env.manager.LocalLen())

	w = env.do(t, http.MethodDelete, "/v1/keys/"+env.adminKey+"/cache", nil, env.adminKey)
	require.Equal(t, http.StatusOK, w.Code)

	// The store row survives; only the cached copies are gone.
	_, err := env.store.Lookup(context.Background(), env.adminKey)
	require.NoError(t, err)
}
