package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderExtractor(t *testing.T) {
	e := NewHeaderExtractor("")

	r := httptest.NewRequest("GET", "/", nil)
	_, err := e.Extract(r)
	assert.ErrorIs(t, err, ErrMissingAPIKeyHeader)

	r.Header.Set("X-API-Key", "  key-1  ")
	key, err := e.Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "key-1", key)
}

func TestHeaderExtractorCustomHeader(t *testing.T) {
	e := NewHeaderExtractor("X-Custom-Key")

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-API-Key", "wrong")
	_, err := e.Extract(r)
	assert.Error(t, err)

	r.Header.Set("X-Custom-Key", "key-1")
	key, err := e.Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "key-1", key)
}

func TestQueryExtractor(t *testing.T) {
	e := NewQueryExtractor("")

	r := httptest.NewRequest("GET", "/", nil)
	_, err := e.Extract(r)
	assert.ErrorIs(t, err, ErrMissingAPIKeyQuery)

	r = httptest.NewRequest("GET", "/?api_key=key-1", nil)
	key, err := e.Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "key-1", key)
}

func TestDefaultExtractorOrder(t *testing.T) {
	e := DefaultExtractor()

	// Header wins over query parameter.
	r := httptest.NewRequest("GET", "/?api_key=from-query", nil)
	r.Header.Set("X-API-Key", "from-header")
	key, err := e.Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "from-header", key)

	r = httptest.NewRequest("GET", "/?api_key=from-query", nil)
	key, err = e.Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "from-query", key)

	r = httptest.NewRequest("GET", "/", nil)
	_, err = e.Extract(r)
	assert.Error(t, err)
}

func TestExtractorFunc(t *testing.T) {
	e := ExtractorFunc(func(r *http.Request) (string, error) {
		return r.Header.Get("K"), nil
	})

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("K", "key-1")
	key, err := e.Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "key-1", key)
}
