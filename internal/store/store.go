// Package store persists the keyword list of each page so a server can
// restore searches for a URL it has seen before.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DefaultRetention is how long an untouched page entry is kept.
const DefaultRetention = 7 * 24 * time.Hour

var ErrNotFound = errors.New("page not found")

// Page is the saved search state of one page.
type Page struct {
	URL       string
	Keywords  []string
	Active    bool
	UpdatedAt time.Time
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path. ":memory:" is
// accepted for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serialises writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`PRAGMA busy_timeout=10000;`,
		`CREATE TABLE IF NOT EXISTS pages (
			url TEXT PRIMARY KEY,
			keywords TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pages_updated ON pages(updated_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Save upserts the keywords of pageURL and stamps it with the current time.
func (s *Store) Save(ctx context.Context, page Page) error {
	if page.Keywords == nil {
		page.Keywords = []string{}
	}
	data, err := json.Marshal(page.Keywords)
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}
	active := 0
	if page.Active {
		active = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pages (url, keywords, active, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			keywords = excluded.keywords,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		page.URL, string(data), active, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save page %q: %w", page.URL, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, pageURL string) (Page, error) {
	var (
		raw     string
		active  int
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT keywords, active, updated_at FROM pages WHERE url = ?`, pageURL,
	).Scan(&raw, &active, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Page{}, ErrNotFound
	}
	if err != nil {
		return Page{}, fmt.Errorf("load page %q: %w", pageURL, err)
	}
	p := Page{URL: pageURL, Active: active != 0, UpdatedAt: time.UnixMilli(updated)}
	if err := json.Unmarshal([]byte(raw), &p.Keywords); err != nil {
		return Page{}, fmt.Errorf("decode keywords of %q: %w", pageURL, err)
	}
	return p, nil
}

func (s *Store) Delete(ctx context.Context, pageURL string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE url = ?`, pageURL); err != nil {
		return fmt.Errorf("delete page %q: %w", pageURL, err)
	}
	return nil
}

// Cleanup removes pages not saved within olderThan and reports how many
// were dropped.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Janitor runs Cleanup on a ticker until stopped.
type Janitor struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	done      chan struct{}
}

func NewJanitor(s *Store, retention, interval time.Duration, logger *zap.Logger) *Janitor {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		store:     s,
		retention: retention,
		interval:  interval,
		logger:    logger,
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs one cleanup immediately, then one per interval.
func (j *Janitor) Start() {
	j.startOnce.Do(func() { go j.loop() })
}

func (j *Janitor) loop() {
	defer close(j.done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()
	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-j.stopChan:
			return
		}
	}
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := j.store.Cleanup(ctx, j.retention)
	if err != nil {
		j.logger.Warn("cleanup failed", zap.Error(err))
		return
	}
	if n > 0 {
		j.logger.Info("stale pages removed", zap.Int64("count", n))
	}
}

// Stop ends the loop and waits for it. A janitor that was never started
// is marked done so later Start calls do nothing.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopChan) })
	j.startOnce.Do(func() { close(j.done) })
	<-j.done
}
