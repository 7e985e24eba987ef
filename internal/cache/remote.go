package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/lingosub/internal/config"
)

// Store is a durable key-value home for serialized cache records.
type Store interface {
	Name() string
	Get(ctx context.Context, tier Tier, sourceID string) ([]byte, error)
	Put(ctx context.Context, tier Tier, sourceID string, payload []byte) error
	// Delete returns ErrNotFound when there was nothing to remove.
	Delete(ctx context.Context, tier Tier, sourceID string) error
	Close() error
}

// OpenRemote connects the configured remote backend. It returns nil, nil
// when no backend is configured.
func OpenRemote(ctx context.Context, cfg config.RemoteConfig) (Store, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "postgres":
		s, err := NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		s, err := NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, time.Duration(cfg.TTLHours)*time.Hour)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown remote backend %q", cfg.Backend)
	}
}

// PostgresStore keeps records in a subtitle_cache table, one row per
// (source_id, tier).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the connection pool and creates the table if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	const schema = `
	CREATE TABLE IF NOT EXISTS subtitle_cache (
		source_id  TEXT NOT NULL,
		tier       TEXT NOT NULL,
		payload    JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (source_id, tier)
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create subtitle_cache: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) Get(ctx context.Context, tier Tier, sourceID string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM subtitle_cache WHERE source_id = $1 AND tier = $2`,
		sourceID, string(tier),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select %s/%s: %w", tier, sourceID, err)
	}
	return payload, nil
}

func (s *PostgresStore) Put(ctx context.Context, tier Tier, sourceID string, payload []byte) error {
	query := `
	INSERT INTO subtitle_cache (source_id, tier, payload, updated_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (source_id, tier)
	DO UPDATE SET
	payload = EXCLUDED.payload,
	updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, sourceID, string(tier), payload); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", tier, sourceID, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, tier Tier, sourceID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subtitle_cache WHERE source_id = $1 AND tier = $2`,
		sourceID, string(tier),
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", tier, sourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", tier, sourceID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// RedisStore keeps records as plain string values with an optional TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

// redisKey formats "lingosub:cache:{tier}:{sourceID}".
func redisKey(tier Tier, sourceID string) string {
	return fmt.Sprintf("lingosub:cache:%s:%s", tier, sourceID)
}

func (s *RedisStore) Name() string { return "redis" }

func (s *RedisStore) Get(ctx context.Context, tier Tier, sourceID string) ([]byte, error) {
	data, err := s.client.Get(ctx, redisKey(tier, sourceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s/%s: %w", tier, sourceID, err)
	}
	return data, nil
}

func (s *RedisStore) Put(ctx context.Context, tier Tier, sourceID string, payload []byte) error {
	if err := s.client.Set(ctx, redisKey(tier, sourceID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s/%s: %w", tier, sourceID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, tier Tier, sourceID string) error {
	n, err := s.client.Del(ctx, redisKey(tier, sourceID)).Result()
	if err != nil {
		return fmt.Errorf("redis del %s/%s: %w", tier, sourceID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
