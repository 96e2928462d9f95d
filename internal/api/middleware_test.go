package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keywarden/keywarden/internal/keys"
	"github.com/keywarden/keywarden/internal/observability"
)

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t)

	gin.SetMode(gin.TestMode)
	engine := gin.New()

	var seen *keys.Entity
	engine.GET("/protected", Auth(env.manager, nil, nil), func(c *gin.Context) {
		seen, _ = EntityFromContext(c)
		c.Status(http.StatusNoContent)
	})

	// No credential.
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/protected", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, seen)

	// Unknown credential.
	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-API-Key", "bogus")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Valid credential reaches the handler with the entity attached.
	req = httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-API-Key", env.adminKey)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "Admin", seen.AppName)
}

func TestAuthMiddlewareInactiveKey(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.store.Insert(context.Background(), &keys.Record{
		Key: "dormant", AppName: "Foo", Active: false,
	})
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/protected", Auth(env.manager, nil, nil), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-API-Key", "dormant")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUsageLoggingMiddleware(t *testing.T) {
	env := newTestEnv(t)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(UsageLogging(env.manager, nil, observability.NopLogger()))
	engine.GET("/open", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	// Attribution is best effort and never interferes with the
	// response, with or without a key.
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/open", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest("GET", "/open", nil)
	req.Header.Set("X-API-Key", env.adminKey)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(Recovery(observability.NopLogger()))
	engine.GET("/boom", func(*gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
