// Package watch provides the "poll SQLite, detect change, react" loop that
// turns the shared slot file into a change-notified store. A Detector reads
// a monotonically increasing token; whenever it moves, the action runs with
// the new token.
//
// Typical usage:
//
//	w := watch.New(db, watch.Options{Interval: 100 * time.Millisecond,
//		Detector: watch.MaxColumnDetector("slots", "version")})
//	go w.OnChange(ctx, func(ctx context.Context, v int64) error { return reload(ctx, v) })
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Detector reads a version token from the database. Two calls that return
// different values mean "something changed".
type Detector func(ctx context.Context, db *sql.DB) (int64, error)

// Action reacts to an observed version.
type Action func(ctx context.Context, version int64) error

// Options tunes the watcher behaviour.
type Options struct {
	// Interval is the polling frequency. Default: 250ms.
	Interval time.Duration
	// Detector reads the version token. Default: PragmaDataVersion.
	Detector Detector
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = 250 * time.Millisecond
	}
	if o.Detector == nil {
		o.Detector = PragmaDataVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls a database for changes. It is safe for concurrent use.
type Watcher struct {
	db   *sql.DB
	opts Options

	version atomic.Int64
	seeded  atomic.Bool

	// advanced is closed and replaced each time version moves forward.
	mu       sync.Mutex
	advanced chan struct{}

	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks          int64 `json:"checks"`
	ChangesDetected int64 `json:"changes_detected"`
	Errors          int64 `json:"errors"`
}

// New creates a Watcher. Call OnChange to start the loop.
func New(db *sql.DB, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{db: db, opts: opts, advanced: make(chan struct{})}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Checks:          w.checks.Load(),
		ChangesDetected: w.changes.Load(),
		Errors:          w.errors.Load(),
	}
}

// Version returns the last version successfully handled.
func (w *Watcher) Version() int64 { return w.version.Load() }

// Seed reads the current version without firing the action, so that only
// changes made afterwards are reported.
func (w *Watcher) Seed(ctx context.Context) error {
	v, err := w.opts.Detector(ctx, w.db)
	if err != nil {
		return err
	}
	w.seeded.Store(true)
	w.setVersion(v)
	return nil
}

// OnChange blocks until ctx is cancelled, polling at opts.Interval. When the
// detector reports a version different from the last handled one, action
// runs with the new version. If action fails the version is not advanced
// and the action is retried on the next poll.
//
// The current version is seeded on entry unless Seed was already called.
func (w *Watcher) OnChange(ctx context.Context, action Action) {
	log := w.opts.Logger

	if !w.seeded.Load() {
		if err := w.Seed(ctx); err != nil {
			log.Warn("watch: initial version check failed", "error", err)
		}
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("watch: stopped")
			return
		case <-ticker.C:
			w.poll(ctx, action)
		}
	}
}

// Poll runs a single detection cycle. Exposed for callers driving their own
// schedule.
func (w *Watcher) Poll(ctx context.Context, action Action) {
	w.poll(ctx, action)
}

func (w *Watcher) poll(ctx context.Context, action Action) {
	w.checks.Add(1)
	cur, err := w.opts.Detector(ctx, w.db)
	if err != nil {
		w.errors.Add(1)
		w.opts.Logger.Warn("watch: version check failed", "error", err)
		return
	}
	if cur == w.version.Load() {
		return
	}
	w.changes.Add(1)
	if err := action(ctx, cur); err != nil {
		w.errors.Add(1)
		w.opts.Logger.Error("watch: action failed", "error", err, "version", cur)
		return
	}
	w.setVersion(cur)
}

// WaitForVersion blocks until a version >= target has been handled, or ctx
// expires.
func (w *Watcher) WaitForVersion(ctx context.Context, target int64) error {
	for {
		w.mu.Lock()
		ch := w.advanced
		w.mu.Unlock()

		if w.version.Load() >= target {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (w *Watcher) setVersion(v int64) {
	w.mu.Lock()
	w.version.Store(v)
	close(w.advanced)
	w.advanced = make(chan struct{})
	w.mu.Unlock()
}

// PragmaDataVersion uses PRAGMA data_version, which increments whenever
// another connection writes to the same database file.
func PragmaDataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// MaxColumnDetector polls MAX(column) on table. Identifiers are quoted.
func MaxColumnDetector(table, column string) Detector {
	query := "SELECT COALESCE(MAX(" + quoteIdent(column) + "), 0) FROM " + quoteIdent(table)
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var v int64
		err := db.QueryRowContext(ctx, query).Scan(&v)
		return v, err
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
