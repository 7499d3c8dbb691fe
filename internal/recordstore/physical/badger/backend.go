// Package badger provides a BadgerDB-backed record storage backend.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/gezibash/quotafill/internal/recordstore/physical"
	"github.com/gezibash/quotafill/internal/storage"
)

const (
	recordPrefix = "rec/"
	storePrefix  = "store/"
)

const (
	KeyPath             = "path"
	KeySyncWrites       = "sync_writes"
	KeyValueLogFileSize = "value_log_file_size"
	KeyMemTableSize     = "mem_table_size"
	KeyInMemory         = "in_memory"
)

func init() {
	physical.Register("badger", NewFactory, Defaults)
}

// Defaults returns the default configuration for the BadgerDB backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:             "~/.quotafill/badger",
		KeySyncWrites:       "true",
		KeyValueLogFileSize: strconv.FormatInt(256<<20, 10),
		KeyMemTableSize:     strconv.FormatInt(64<<20, 10),
		KeyInMemory:         "false",
	}
}

// NewFactory creates a new BadgerDB backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (physical.Backend, error) {
	inMemory, err := storage.GetBool(config, KeyInMemory, false)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeyInMemory, config[KeyInMemory], err.Error())
	}
	if inMemory {
		return newInMemory()
	}

	path := storage.GetString(config, KeyPath, "")
	if path == "" {
		return nil, storage.NewConfigError("badger", KeyPath, "cannot be empty")
	}
	path = storage.ExpandPath(path)

	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, storage.NewConfigErrorWithCause("badger", KeyPath, "failed to create directory", err)
	}

	syncWrites, err := storage.GetBool(config, KeySyncWrites, true)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeySyncWrites, config[KeySyncWrites], err.Error())
	}

	valueLogFileSize, err := storage.GetBytes(config, KeyValueLogFileSize, 256<<20)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeyValueLogFileSize, config[KeyValueLogFileSize], err.Error())
	}

	memTableSize, err := storage.GetBytes(config, KeyMemTableSize, 64<<20)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeyMemTableSize, config[KeyMemTableSize], err.Error())
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = syncWrites
	if valueLogFileSize > 0 {
		opts.ValueLogFileSize = valueLogFileSize
	}
	if memTableSize > 0 {
		opts.MemTableSize = memTableSize
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("badger", KeyPath, "failed to open database", err)
	}

	slog.Info("badger recordstore initialized", "path", path, "sync_writes", syncWrites)
	return NewWithDB(db), nil
}

func newInMemory() (*Backend, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("badger", KeyInMemory, "failed to open in-memory database", err)
	}

	slog.Debug("badger recordstore initialized (in-memory)")
	return NewWithDB(db), nil
}

// Backend is a BadgerDB implementation of physical.Backend.
type Backend struct {
	db     *badger.DB
	closed atomic.Bool
}

// NewWithDB creates a new backend with an existing BadgerDB instance.
func NewWithDB(db *badger.DB) *Backend {
	return &Backend{db: db}
}

func prefixFor(store string) []byte {
	return []byte(recordPrefix + store + "/")
}

func recordKey(store string, key uint64) []byte {
	return append(prefixFor(store), physical.EncodeKey(key)...)
}

// EnsureStore writes the store marker if it is missing.
func (b *Backend) EnsureStore(_ context.Context, store string) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	if err := physical.ValidateStore(store); err != nil {
		return err
	}

	marker := []byte(storePrefix + store)
	err := b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(marker)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(marker, nil)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("badger ensure store: %w", err)
	}
	return nil
}

// Put stores value under key in a single transaction.
func (b *Backend) Put(_ context.Context, store string, key uint64, value []byte) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(store, key), value)
	})
	if err != nil {
		return fmt.Errorf("badger put: %w", err)
	}
	return nil
}

// Get retrieves a record by key.
func (b *Backend) Get(_ context.Context, store string, key uint64) ([]byte, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(store, key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, physical.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return data, nil
}

// LastKey returns the highest key in the store using a reverse iterator.
func (b *Backend) LastKey(_ context.Context, store string) (uint64, error) {
	if b.closed.Load() {
		return 0, physical.ErrClosed
	}

	prefix := prefixFor(store)
	var last uint64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		it.Seek(seek)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		k, err := physical.DecodeKey(it.Item().Key()[len(prefix):])
		if err != nil {
			return err
		}
		last = k
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger last key: %w", err)
	}
	return last, nil
}

// Stats counts records and sums exact value lengths. Item.ValueSize is
// only an estimate for values held in the value log, so each value is
// read through Item.Value.
func (b *Backend) Stats(_ context.Context, store string) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	prefix := prefixFor(store)
	stats := &physical.Stats{BackendType: "badger"}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				stats.SizeBytes += int64(len(v))
				return nil
			})
			if err != nil {
				return err
			}
			stats.Records++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger stats: %w", err)
	}
	return stats, nil
}

// Clear drops every record under the store prefix.
func (b *Backend) Clear(_ context.Context, store string) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	if err := b.db.DropPrefix(prefixFor(store)); err != nil {
		return fmt.Errorf("badger clear: %w", err)
	}
	return nil
}

// Close closes the BadgerDB database.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}
