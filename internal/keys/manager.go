package keys

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/keywarden/keywarden/internal/cache"
	"github.com/keywarden/keywarden/internal/config"
	"github.com/keywarden/keywarden/internal/notifier"
	"github.com/keywarden/keywarden/internal/observability"
)

// cacheKeyPrefix namespaces API key entries in the distributed cache.
const cacheKeyPrefix = "api-key:"

// negativeMarker is the sentinel stored for keys known not to exist or
// to be inactive. Positive entries are JSON objects, so any non-JSON
// literal is unambiguous.
const negativeMarker = "invalid-api-key"

// Manager orchestrates API key lookups across the process-local cache,
// the distributed cache, and the source-of-truth store, and drives
// cache invalidation across instances.
type Manager struct {
	store    Store
	dist     cache.Cache
	local    *localCache
	bus      Bus
	notifier notifier.Notifier
	logger   observability.Logger
	metrics  *Metrics

	cacheTimeout time.Duration
	negativeTTL  time.Duration

	// wg tracks fire-and-forget distributed cache writes so Close can
	// drain them.
	wg sync.WaitGroup
}

// Option is a functional option for the manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics sets the metrics instance.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithNotifier sets the audit notifier invoked on first-time creation.
func WithNotifier(n notifier.Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithCacheTimeout bounds each distributed cache call in the lookup
// path. Calls that do not resolve in time are treated as misses.
func WithCacheTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.cacheTimeout = d
		}
	}
}

// WithNegativeTTL sets the expiration for negative markers.
func WithNegativeTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.negativeTTL = d
		}
	}
}

// WithLocalMaxEntries bounds the process-local cache.
func WithLocalMaxEntries(n int) Option {
	return func(m *Manager) {
		m.local = newLocalCache(n)
	}
}

// NewManager creates a key manager. The store, distributed cache, and
// invalidation bus are required; everything else has defaults.
func NewManager(store Store, dist cache.Cache, bus Bus, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if dist == nil {
		return nil, errors.New("distributed cache is required")
	}
	if bus == nil {
		return nil, errors.New("invalidation bus is required")
	}

	m := &Manager{
		store:        store,
		dist:         dist,
		local:        newLocalCache(config.DefaultLocalMaxEntries),
		bus:          bus,
		notifier:     notifier.NopNotifier{},
		logger:       observability.NopLogger(),
		cacheTimeout: config.DefaultCacheTimeout,
		negativeTTL:  config.DefaultNegativeTTL,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.metrics == nil {
		m.metrics = GetSharedMetrics()
	}

	return m, nil
}

// Create creates a key for a business identity, or returns the existing
// key idempotently. When no key value is supplied one is derived from
// the email and website, so repeated calls for the same identity yield
// the same key and at most one stored row.
//
// Only a store write failure is surfaced. The cache write-through is
// best effort and the audit notification never affects the result.
func (m *Manager) Create(ctx context.Context, rec Record) (string, error) {
	if rec.Key == "" {
		rec.Key = DeriveKey(rec.Email, rec.Website)
	}

	inserted, err := m.store.Insert(ctx, &rec)
	if err != nil {
		m.metrics.RecordCreation("error")
		return "", fmt.Errorf("create api key: %w", err)
	}

	if !inserted {
		m.metrics.RecordCreation("exists")
		m.logger.Debug("api key already exists",
			observability.String("key", rec.Key))
		return rec.Key, nil
	}

	m.metrics.RecordCreation("created")
	m.logger.Info("api key created",
		observability.String("key", rec.Key),
		observability.String("appName", rec.AppName),
		observability.Int("tier", rec.Tier))

	// Write-through so the first validation does not hit the store.
	// Inactive rows are never cached as positive entries; a lookup for
	// them resolves at the store and caches the negative marker.
	if rec.Active {
		if data, merr := marshalEntity(rec.Entity()); merr == nil {
			m.asyncCacheSet(rec.Key, data, 0)
		}
	}

	// Audited only for rows that were actually created; conflict
	// no-ops stay silent. The notifier detaches delivery itself.
	m.notifier.KeyCreated(notifier.Event{
		Key:     rec.Key,
		AppName: rec.AppName,
		Website: rec.Website,
		Email:   rec.Email,
		Tier:    rec.Tier,
	})

	return rec.Key, nil
}

// GetAPIKey validates a key and returns its entity, or nil when the key
// is unknown, inactive, or could not be verified. Lookup failures are
// absorbed: an erroring lookup is indistinguishable from a missing key,
// and the caller must treat nil as rejection.
func (m *Manager) GetAPIKey(ctx context.Context, key string) *Entity {
	start := time.Now()

	if key == "" {
		m.metrics.RecordValidation("invalid", "none", time.Since(start))
		return nil
	}

	if ent, ok := m.local.Get(key); ok {
		m.metrics.RecordValidation("valid", "local", time.Since(start))
		return ent
	}

	if ent, terminal := m.lookupDistributed(ctx, key, start); terminal {
		return ent
	}

	return m.lookupStore(ctx, key, start)
}

// lookupDistributed consults the distributed tier. terminal is true
// when the lookup resolved there; otherwise the caller falls through to
// the store.
func (m *Manager) lookupDistributed(ctx context.Context, key string, start time.Time) (ent *Entity, terminal bool) {
	cctx, cancel := context.WithTimeout(ctx, m.cacheTimeout)
	defer cancel()

	val, err := m.dist.Get(cctx, cacheKeyPrefix+key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			// Slow or unavailable shared cache degrades to a miss
			// instead of blocking the request.
			m.logger.Warn("distributed cache read failed, treating as miss",
				observability.String("key", key),
				observability.Error(err))
		}
		return nil, false
	}

	if string(val) == negativeMarker {
		// Known-bad key. The local tier is not populated with
		// negative results.
		m.metrics.RecordValidation("invalid", "negative", time.Since(start))
		return nil, true
	}

	entity, err := unmarshalEntity(val)
	if err != nil {
		m.logger.Warn("malformed distributed cache entry, treating as miss",
			observability.String("key", key),
			observability.Error(err))
		return nil, false
	}

	if !entity.Active {
		// A suspended key is rejected like a negative marker, and the
		// local tier is not populated.
		m.metrics.RecordValidation("invalid", "negative", time.Since(start))
		return nil, true
	}

	m.local.Set(key, entity)
	m.metrics.RecordValidation("valid", "distributed", time.Since(start))
	return entity, true
}

// lookupStore consults the source of truth and repairs the cache tiers.
func (m *Manager) lookupStore(ctx context.Context, key string, start time.Time) *Entity {
	rec, err := m.store.Lookup(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			// Shield the store from repeated probing with this key.
			m.asyncCacheSet(key, []byte(negativeMarker), m.negativeTTL)
			m.metrics.RecordValidation("invalid", "store", time.Since(start))
			return nil
		}
		// Fail closed: an unverifiable key is rejected.
		m.logger.Error("store lookup failed",
			observability.String("key", key),
			observability.Error(err))
		m.metrics.RecordValidation("invalid", "store", time.Since(start))
		return nil
	}

	if !rec.Active {
		m.asyncCacheSet(key, []byte(negativeMarker), m.negativeTTL)
		m.metrics.RecordValidation("invalid", "store", time.Since(start))
		return nil
	}

	entity := rec.Entity()

	if data, merr := marshalEntity(entity); merr == nil {
		m.asyncCacheSet(key, data, 0)
	}
	m.local.Set(key, entity)

	m.metrics.RecordValidation("valid", "store", time.Since(start))
	return entity
}

// Update applies a partial update to the store, evicts both cache
// tiers, and broadcasts an invalidation so other instances drop their
// local entries. Caches are not repopulated here; the next lookup
// repairs them from the store.
func (m *Manager) Update(ctx context.Context, key string, fields Fields) error {
	if key == "" {
		return ErrKeyEmpty
	}
	if fields.IsEmpty() {
		return ErrNoFields
	}

	if err := m.store.Update(ctx, key, fields); err != nil {
		return fmt.Errorf("update api key: %w", err)
	}

	m.DeleteCachedAPIKey(ctx, key)

	if err := m.bus.Publish(ctx, key); err != nil {
		// The update itself succeeded; other instances will stay
		// stale until their next eviction, which is the accepted
		// degradation.
		m.logger.Warn("invalidation publish failed",
			observability.String("key", key),
			observability.Error(err))
	}

	m.logger.Info("api key updated",
		observability.String("key", key))
	return nil
}

// DeleteCachedAPIKey evicts a key from both the process-local and the
// distributed cache tier. Store rows are never deleted here.
func (m *Manager) DeleteCachedAPIKey(ctx context.Context, key string) {
	m.local.Delete(key)

	cctx, cancel := context.WithTimeout(ctx, m.cacheTimeout)
	defer cancel()

	// Failure is logged by the cache; the entry will be overwritten or
	// expire on its own.
	_ = m.dist.Delete(cctx, cacheKeyPrefix+key)
}

// WatchInvalidations subscribes to the invalidation channel and evicts
// announced keys from this instance's cache tiers until ctx is
// canceled. Every instance must call this at startup.
func (m *Manager) WatchInvalidations(ctx context.Context) error {
	return m.bus.Subscribe(ctx, func(key string) {
		m.metrics.RecordInvalidation()
		m.local.Delete(key)

		cctx, cancel := context.WithTimeout(context.Background(), m.cacheTimeout)
		defer cancel()
		_ = m.dist.Delete(cctx, cacheKeyPrefix+key)

		m.logger.Debug("invalidation applied",
			observability.String("key", key))
	})
}

// LocalLen returns the number of entries in the process-local tier.
func (m *Manager) LocalLen() int {
	return m.local.Len()
}

// Close drains in-flight fire-and-forget cache writes.
func (m *Manager) Close() error {
	m.wg.Wait()
	return nil
}

// asyncCacheSet writes to the distributed cache without making the
// caller wait. The caller's latency stays bounded by the store round
// trip, not the cache write. Failures are logged by the cache and
// otherwise ignored; the store remains authoritative.
func (m *Manager) asyncCacheSet(key string, value []byte, ttl time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), m.cacheTimeout)
		defer cancel()

		_ = m.dist.Set(ctx, cacheKeyPrefix+key, value, ttl)
	}()
}
