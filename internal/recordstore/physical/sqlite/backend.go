// Package sqlite provides a SQLite-backed record storage backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"github.com/gezibash/quotafill/internal/recordstore/physical"
	"github.com/gezibash/quotafill/internal/storage"
)

const (
	KeyPath         = "path"
	KeyJournalMode  = "journal_mode"
	KeyBusyTimeout  = "busy_timeout"
	KeySynchronous  = "synchronous"
	KeyMaxPageCount = "max_page_count"
)

func init() {
	physical.Register("sqlite", NewFactory, Defaults)
}

// Defaults returns the default configuration for the SQLite backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:         "~/.quotafill/records.db",
		KeyJournalMode:  "wal",
		KeyBusyTimeout:  "5000",
		KeySynchronous:  "normal",
		KeyMaxPageCount: "0",
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS object_stores (
    name        TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS records (
    store       TEXT NOT NULL,
    key         INTEGER NOT NULL,
    value       BLOB NOT NULL,
    PRIMARY KEY (store, key)
) WITHOUT ROWID;
`

// NewFactory creates a new SQLite backend from a configuration map.
// A positive max_page_count caps the database file, so writes past it
// fail with SQLITE_FULL.
func NewFactory(ctx context.Context, config map[string]string) (physical.Backend, error) {
	path := storage.GetString(config, KeyPath, "")
	if path == "" {
		return nil, storage.NewConfigError("sqlite", KeyPath, "cannot be empty")
	}
	path = storage.ExpandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, storage.NewConfigErrorWithCause("sqlite", KeyPath, "failed to create directory", err)
	}

	busyTimeout, err := storage.GetInt(config, KeyBusyTimeout, 5000)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("sqlite", KeyBusyTimeout, config[KeyBusyTimeout], err.Error())
	}
	maxPageCount, err := storage.GetInt64(config, KeyMaxPageCount, 0)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("sqlite", KeyMaxPageCount, config[KeyMaxPageCount], err.Error())
	}
	journalMode := storage.GetString(config, KeyJournalMode, "wal")
	synchronous := storage.GetString(config, KeySynchronous, "normal")

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("journal_mode(%s)", journalMode))
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout))
	q.Add("_pragma", fmt.Sprintf("synchronous(%s)", synchronous))
	if maxPageCount > 0 {
		q.Add("_pragma", fmt.Sprintf("max_page_count(%d)", maxPageCount))
	}
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("sqlite", KeyPath, "failed to open database", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, storage.NewConfigErrorWithCause("sqlite", KeyPath, "failed to initialize schema", err)
	}

	slog.Info("sqlite recordstore initialized", "path", path, "journal_mode", journalMode, "max_page_count", maxPageCount)
	return &Backend{db: db}, nil
}

// Backend is a SQLite implementation of physical.Backend.
type Backend struct {
	db     *sql.DB
	closed atomic.Bool
}

// EnsureStore registers the object store name.
func (b *Backend) EnsureStore(ctx context.Context, store string) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	if err := physical.ValidateStore(store); err != nil {
		return err
	}
	if _, err := b.db.ExecContext(ctx, `INSERT OR IGNORE INTO object_stores (name) VALUES (?)`, store); err != nil {
		return fmt.Errorf("sqlite ensure store: %w", err)
	}
	return nil
}

// Put upserts a record inside its own transaction.
func (b *Backend) Put(ctx context.Context, store string, key uint64, value []byte) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite put: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records (store, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(store, key) DO UPDATE SET value = excluded.value`,
		store, int64(key), value,
	); err != nil {
		return fmt.Errorf("sqlite put: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite put: commit: %w", err)
	}
	return nil
}

// Get retrieves a record by key.
func (b *Backend) Get(ctx context.Context, store string, key uint64) ([]byte, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	var value []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM records WHERE store = ? AND key = ?`, store, int64(key)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, physical.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	return value, nil
}

// LastKey returns the highest key in the store.
func (b *Backend) LastKey(ctx context.Context, store string) (uint64, error) {
	if b.closed.Load() {
		return 0, physical.ErrClosed
	}

	var last sql.NullInt64
	if err := b.db.QueryRowContext(ctx, `SELECT MAX(key) FROM records WHERE store = ?`, store).Scan(&last); err != nil {
		return 0, fmt.Errorf("sqlite last key: %w", err)
	}
	if !last.Valid {
		return 0, nil
	}
	return uint64(last.Int64), nil
}

// Stats returns the record count and total value length for the store.
func (b *Backend) Stats(ctx context.Context, store string) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	stats := &physical.Stats{BackendType: "sqlite"}
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(length(value)), 0) FROM records WHERE store = ?`, store,
	).Scan(&stats.Records, &stats.SizeBytes)
	if err != nil {
		return nil, fmt.Errorf("sqlite stats: %w", err)
	}
	return stats, nil
}

// Clear deletes all records in the store.
func (b *Backend) Clear(ctx context.Context, store string) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM records WHERE store = ?`, store); err != nil {
		return fmt.Errorf("sqlite clear: %w", err)
	}
	return nil
}

// Close closes the database.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}
