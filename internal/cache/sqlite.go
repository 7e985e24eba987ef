package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the local durable tier. One row holds the JSON record of a
// (tier, source id) pair. The cache directory is locked for the lifetime of
// the store so a second process cannot write to it.
type SQLiteStore struct {
	db   *sql.DB
	path string
	lock *flock.Flock
}

// OpenSQLite opens or creates cache.db under dir.
func OpenSQLite(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, "cache.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire cache lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("cache directory %s is in use by another process", dir)
	}

	dbPath := filepath.Join(dir, "cache.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	const schema = `CREATE TABLE IF NOT EXISTS cache_records (
		tier       TEXT NOT NULL,
		source_id  TEXT NOT NULL,
		payload    TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tier, source_id)
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath, lock: lock}, nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

func (s *SQLiteStore) Get(ctx context.Context, tier Tier, sourceID string) ([]byte, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM cache_records WHERE tier = ? AND source_id = ?`,
		string(tier), sourceID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select %s/%s: %w", tier, sourceID, err)
	}
	return []byte(payload), nil
}

func (s *SQLiteStore) Put(ctx context.Context, tier Tier, sourceID string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_records (tier, source_id, payload, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (tier, source_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		string(tier), sourceID, string(payload), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", tier, sourceID, err)
	}
	return nil
}

// Delete removes one record; ErrNotFound when there was nothing to remove.
func (s *SQLiteStore) Delete(ctx context.Context, tier Tier, sourceID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_records WHERE tier = ? AND source_id = ?`,
		string(tier), sourceID,
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", tier, sourceID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Scan calls fn for every stored record, oldest first.
func (s *SQLiteStore) Scan(ctx context.Context, fn func(tier Tier, sourceID string, payload []byte) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT tier, source_id, payload FROM cache_records ORDER BY updated_at`)
	if err != nil {
		return fmt.Errorf("scan cache: %w", err)
	}
	defer rows.Close()

	type row struct {
		tier, id, payload string
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.tier, &r.id, &r.payload); err != nil {
			return fmt.Errorf("scan cache row: %w", err)
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, r := range all {
		if err := fn(Tier(r.tier), r.id, []byte(r.payload)); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database and releases the directory lock.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}
