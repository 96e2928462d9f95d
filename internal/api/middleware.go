package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keywarden/keywarden/internal/keys"
	"github.com/keywarden/keywarden/internal/observability"
)

// entityContextKey is the gin context key under which Auth stores the
// validated key entity.
const entityContextKey = "api_key_entity"

// noKeyLabel is logged for requests that carry no usable credential.
const noKeyLabel = "No Key"

// Auth returns a middleware that validates the request's API key and
// rejects the request when the key is missing, unknown, inactive, or
// could not be verified. All rejection causes look identical to the
// client.
func Auth(manager *keys.Manager, extractor Extractor, logger observability.Logger) gin.HandlerFunc {
	if extractor == nil {
		extractor = DefaultExtractor()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return func(c *gin.Context) {
		key, err := extractor.Extract(c.Request)
		if err != nil {
			logger.Debug("request without api key",
				observability.String("path", c.Request.URL.Path))
			unauthorized(c)
			return
		}

		entity := manager.GetAPIKey(c.Request.Context(), key)
		if entity == nil {
			logger.Debug("api key rejected",
				observability.String("path", c.Request.URL.Path))
			unauthorized(c)
			return
		}

		c.Set(entityContextKey, entity)
		c.Next()
	}
}

// unauthorized aborts the request with a uniform 401 response.
func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": "missing or invalid API key",
	})
}

// EntityFromContext returns the validated key entity stored by Auth.
func EntityFromContext(c *gin.Context) (*keys.Entity, bool) {
	v, exists := c.Get(entityContextKey)
	if !exists {
		return nil, false
	}
	entity, ok := v.(*keys.Entity)
	return entity, ok
}

// UsageLogging returns a middleware that logs each request attributed
// to the calling application. Attribution is best effort: when the
// request carries no resolvable key the entry is labeled "No Key", and
// attribution never blocks or fails the request itself.
func UsageLogging(manager *keys.Manager, extractor Extractor, logger observability.Logger) gin.HandlerFunc {
	if extractor == nil {
		extractor = DefaultExtractor()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		appName := noKeyLabel
		if entity, ok := EntityFromContext(c); ok {
			appName = entity.AppName
		} else if key, err := extractor.Extract(c.Request); err == nil {
			if entity := manager.GetAPIKey(c.Request.Context(), key); entity != nil {
				appName = entity.AppName
			}
		}

		logger.Info("request",
			observability.String("app", appName),
			observability.String("method", c.Request.Method),
			observability.String("path", c.Request.URL.Path),
			observability.Int("status", c.Writer.Status()),
			observability.Duration("duration", time.Since(start)))
	}
}

// Recovery returns a middleware that converts panics into 500
// responses.
func Recovery(logger observability.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = observability.NopLogger()
	}

	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					observability.Any("panic", r),
					observability.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "internal_error",
					"message": "internal server error",
				})
			}
		}()
		c.Next()
	}
}
