package handoff

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers "sqlite"

	"github.com/hazyhaar/artipeek/dbopen"
	"github.com/hazyhaar/artipeek/watch"
)

// Schema for the shared slot table. version is a store-wide counter, so
// MAX(version) moves on every write from any process.
const Schema = `
CREATE TABLE IF NOT EXISTS slots (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL DEFAULT '',
	version    INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_slots_version ON slots(version);
`

// SQLiteStore is a Store backed by an SQLite file shared between
// processes. Change notification comes from a watch.Watcher polling
// MAX(version).
type SQLiteStore struct {
	db      *sql.DB
	watcher *watch.Watcher
	logger  *slog.Logger

	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

// SQLiteOptions tunes a SQLiteStore.
type SQLiteOptions struct {
	// PollInterval is how often other processes' writes are looked for.
	// Default: 100ms.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// NewSQLiteStore prepares the schema on db and returns a store. The caller
// keeps ownership of db.
func NewSQLiteStore(db *sql.DB, opts SQLiteOptions) (*SQLiteStore, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("handoff: schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SQLiteStore{
		db: db,
		watcher: watch.New(db, watch.Options{
			Interval: opts.PollInterval,
			Detector: watch.MaxColumnDetector("slots", "version"),
			Logger:   opts.Logger,
		}),
		logger: opts.Logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// OpenSQLiteStore opens (or creates) the slot file at path.
func OpenSQLiteStore(path string, opts SQLiteOptions) (*SQLiteStore, *sql.DB, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, nil, err
	}
	s, err := NewSQLiteStore(db, opts)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return s, db, nil
}

func (s *SQLiteStore) alive() error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Slot, error) {
	if err := s.alive(); err != nil {
		return Slot{}, err
	}
	sl := Slot{Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT value, version FROM slots WHERE key = ?`, key).Scan(&sl.Value, &sl.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return sl, nil
	}
	if err != nil {
		return Slot{}, fmt.Errorf("handoff: get %s: %w", key, err)
	}
	return sl, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) (Slot, error) {
	if err := s.alive(); err != nil {
		return Slot{}, err
	}
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO slots (key, value, version, updated_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(version), 0) + 1 FROM slots), ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return Slot{}, fmt.Errorf("handoff: set %s: %w", key, err)
	}
	return s.Get(ctx, key)
}

func (s *SQLiteStore) CompareAndSet(ctx context.Context, key string, version int64, value string) (Slot, bool, error) {
	if err := s.alive(); err != nil {
		return Slot{}, false, err
	}
	if version == 0 {
		// The key was never written: nothing to compare against a row.
		cur, err := s.Get(ctx, key)
		if err != nil || cur.Version != 0 {
			return cur, false, err
		}
		res, err := dbopen.Exec(ctx, s.db, `
			INSERT OR IGNORE INTO slots (key, value, version, updated_at)
			VALUES (?, ?, (SELECT COALESCE(MAX(version), 0) + 1 FROM slots), ?)`,
			key, value, time.Now().UnixMilli())
		return s.casResult(ctx, key, res, err)
	}
	res, err := dbopen.Exec(ctx, s.db, `
		UPDATE slots SET
			value = ?,
			version = (SELECT MAX(version) + 1 FROM slots),
			updated_at = ?
		WHERE key = ? AND version = ?`,
		value, time.Now().UnixMilli(), key, version)
	return s.casResult(ctx, key, res, err)
}

func (s *SQLiteStore) casResult(ctx context.Context, key string, res sql.Result, err error) (Slot, bool, error) {
	if err != nil {
		return Slot{}, false, fmt.Errorf("handoff: compare-and-set %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Slot{}, false, fmt.Errorf("handoff: compare-and-set %s: %w", key, err)
	}
	cur, err := s.Get(ctx, key)
	return cur, n == 1, err
}

func (s *SQLiteStore) Since(ctx context.Context, version int64) ([]Slot, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, version FROM slots WHERE version > ? ORDER BY version`, version)
	if err != nil {
		return nil, fmt.Errorf("handoff: since %d: %w", version, err)
	}
	defer rows.Close()

	var out []Slot
	for rows.Next() {
		var sl Slot
		if err := rows.Scan(&sl.Key, &sl.Value, &sl.Version); err != nil {
			return nil, fmt.Errorf("handoff: since scan: %w", err)
		}
		out = append(out, sl)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Version(ctx context.Context) (int64, error) {
	if err := s.alive(); err != nil {
		return 0, err
	}
	v, err := watch.MaxColumnDetector("slots", "version")(ctx, s.db)
	if err != nil {
		return 0, fmt.Errorf("handoff: version: %w", err)
	}
	return v, nil
}

// Wait starts the shared poll loop on first use, then blocks until the
// watcher has observed a version above after.
func (s *SQLiteStore) Wait(ctx context.Context, after int64) error {
	if err := s.alive(); err != nil {
		return err
	}
	s.startOnce.Do(func() {
		if err := s.watcher.Seed(s.ctx); err != nil {
			s.logger.Warn("handoff: seed watcher", "error", err)
		}
		go s.watcher.OnChange(s.ctx, func(context.Context, int64) error { return nil })
	})

	if v, err := s.Version(ctx); err == nil && v > after {
		return nil
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	if err := s.watcher.WaitForVersion(waitCtx, after+1); err != nil {
		if s.ctx.Err() != nil {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Stats exposes the poll loop counters.
func (s *SQLiteStore) Stats() watch.Stats { return s.watcher.Stats() }

// Close stops the poll loop. The database stays open.
func (s *SQLiteStore) Close() error {
	s.cancel()
	return nil
}
