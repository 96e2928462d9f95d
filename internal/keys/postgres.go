package keys

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keywarden/keywarden/internal/config"
	"github.com/keywarden/keywarden/internal/observability"
)

// PostgresStore implements Store on a Postgres connection pool.
//
// Row layout: one row per key: key (text, primary key), app_name,
// website, email (text), tier (integer), active (boolean). Rows are
// never deleted by this subsystem; deactivation flips the active flag.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger observability.Logger
}

// NewPostgresStore creates a store backed by a Postgres pool.
func NewPostgresStore(ctx context.Context, cfg *config.StoreConfig, logger observability.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse store config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns) //nolint:gosec // validated small positive int
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout.Duration()
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create store pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	logger.Info("postgres store initialized")

	return &PostgresStore{pool: pool, logger: logger}, nil
}

// NewPostgresStoreWithPool wraps an existing pool.
func NewPostgresStoreWithPool(pool *pgxpool.Pool, logger observability.Logger) *PostgresStore {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &PostgresStore{pool: pool, logger: logger}
}

// Lookup retrieves a record by key.
func (s *PostgresStore) Lookup(ctx context.Context, key string) (*Record, error) {
	const q = `SELECT key, app_name, website, email, tier, active
		FROM api_keys WHERE key = $1`

	var rec Record
	err := s.pool.QueryRow(ctx, q, key).Scan(
		&rec.Key, &rec.AppName, &rec.Website, &rec.Email, &rec.Tier, &rec.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("lookup api key: %w", err)
	}

	return &rec, nil
}

// Insert persists a new record. An existing key makes it a no-op and
// inserted is false.
func (s *PostgresStore) Insert(ctx context.Context, rec *Record) (bool, error) {
	const q = `INSERT INTO api_keys (key, app_name, website, email, tier, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q,
		rec.Key, rec.AppName, rec.Website, rec.Email, rec.Tier, rec.Active,
	)
	if err != nil {
		return false, fmt.Errorf("insert api key: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// Update applies a partial update to an existing row.
func (s *PostgresStore) Update(ctx context.Context, key string, fields Fields) error {
	if fields.IsEmpty() {
		return ErrNoFields
	}

	var (
		set  []string
		args []interface{}
	)
	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, column+" = $"+strconv.Itoa(len(args)))
	}

	if fields.AppName != nil {
		add("app_name", *fields.AppName)
	}
	if fields.Website != nil {
		add("website", *fields.Website)
	}
	if fields.Email != nil {
		add("email", *fields.Email)
	}
	if fields.Tier != nil {
		add("tier", *fields.Tier)
	}
	if fields.Active != nil {
		add("active", *fields.Active)
	}

	args = append(args, key)
	q := "UPDATE api_keys SET " + strings.Join(set, ", ") +
		" WHERE key = $" + strconv.Itoa(len(args))

	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}

	return nil
}

// Close closes the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ensure PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
