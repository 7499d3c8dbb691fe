// Package leveldb provides a LevelDB-backed record storage backend.
package leveldb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/gezibash/quotafill/internal/recordstore/physical"
	"github.com/gezibash/quotafill/internal/storage"
)

const (
	KeyPath          = "path"
	KeySync          = "sync"
	KeyWriteBuffer   = "write_buffer"
	KeyBlockCache    = "block_cache"
	KeyNoCompression = "no_compression"
)

func init() {
	physical.Register("leveldb", NewFactory, Defaults)
}

// Defaults returns the default configuration for the LevelDB backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:          "~/.quotafill/leveldb",
		KeySync:          "true",
		KeyWriteBuffer:   "16MiB",
		KeyBlockCache:    "32MiB",
		KeyNoCompression: "true",
	}
}

// NewFactory creates a new LevelDB backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (physical.Backend, error) {
	path := storage.GetString(config, KeyPath, "")
	if path == "" {
		return nil, storage.NewConfigError("leveldb", KeyPath, "cannot be empty")
	}
	path = storage.ExpandPath(path)

	sync, err := storage.GetBool(config, KeySync, true)
	if err != nil {
		return nil, err
	}
	writeBuffer, err := storage.GetBytes(config, KeyWriteBuffer, 16*opt.MiB)
	if err != nil {
		return nil, err
	}
	blockCache, err := storage.GetBytes(config, KeyBlockCache, 32*opt.MiB)
	if err != nil {
		return nil, err
	}
	noCompression, err := storage.GetBool(config, KeyNoCompression, true)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, storage.NewConfigErrorWithCause("leveldb", KeyPath, "failed to create directory", err)
	}

	opts := &opt.Options{
		WriteBuffer:        int(writeBuffer),
		BlockCacheCapacity: int(blockCache),
	}
	if noCompression {
		opts.Compression = opt.NoCompression
	}

	db, err := openDB(path, opts)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("leveldb", KeyPath, "failed to open database", err)
	}

	slog.Info("leveldb recordstore initialized", "path", path, "sync", sync)
	return NewWithDB(db, sync), nil
}

// openDB opens the database at path, recovering the manifest if the
// existing files are corrupted.
func openDB(path string, opts *opt.Options) (*leveldb.DB, error) {
	db, err := leveldb.OpenFile(path, opts)
	if ldberrors.IsCorrupted(err) {
		slog.Warn("leveldb corruption detected, recovering", "path", path, "error", err)
		db, err = leveldb.RecoverFile(path, opts)
		if err != nil {
			return nil, err
		}
		slog.Warn("leveldb recovered from corruption", "path", path)
		return db, nil
	}
	if err != nil {
		return nil, err
	}
	return db, nil
}

// NewWithDB wraps an open LevelDB handle. The backend owns the handle.
func NewWithDB(db *leveldb.DB, sync bool) *Backend {
	return &Backend{db: db, wo: &opt.WriteOptions{Sync: sync}}
}

// Backend is a LevelDB implementation of physical.Backend.
type Backend struct {
	db     *leveldb.DB
	wo     *opt.WriteOptions
	closed atomic.Bool
}

func recordPrefix(store string) []byte {
	return []byte("rec/" + store + "/")
}

func recordKey(store string, key uint64) []byte {
	return append(recordPrefix(store), physical.EncodeKey(key)...)
}

func storeKey(store string) []byte {
	return []byte("store/" + store)
}

// EnsureStore writes the object store marker.
func (b *Backend) EnsureStore(_ context.Context, store string) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	if err := physical.ValidateStore(store); err != nil {
		return err
	}
	if err := b.db.Put(storeKey(store), nil, b.wo); err != nil {
		return fmt.Errorf("leveldb ensure store: %w", err)
	}
	return nil
}

// Put stores a record.
func (b *Backend) Put(_ context.Context, store string, key uint64, value []byte) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	if err := b.db.Put(recordKey(store, key), value, b.wo); err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

// Get retrieves a record.
func (b *Backend) Get(_ context.Context, store string, key uint64) ([]byte, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	value, err := b.db.Get(recordKey(store, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, physical.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb get: %w", err)
	}
	return value, nil
}

// LastKey returns the highest key in the store, or 0 when it is empty.
func (b *Backend) LastKey(_ context.Context, store string) (uint64, error) {
	if b.closed.Load() {
		return 0, physical.ErrClosed
	}

	prefix := recordPrefix(store)
	iter := b.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	if !iter.Last() {
		return 0, iter.Error()
	}
	key, err := physical.DecodeKey(iter.Key()[len(prefix):])
	if err != nil {
		return 0, fmt.Errorf("leveldb last key: %w", err)
	}
	return key, nil
}

// Stats walks the store summing value lengths.
func (b *Backend) Stats(_ context.Context, store string) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	stats := &physical.Stats{BackendType: "leveldb"}
	iter := b.db.NewIterator(util.BytesPrefix(recordPrefix(store)), &opt.ReadOptions{DontFillCache: true})
	defer iter.Release()

	for iter.Next() {
		stats.Records++
		stats.SizeBytes += int64(len(iter.Value()))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("leveldb stats: %w", err)
	}
	return stats, nil
}

// Clear deletes every record in the store in a single batch.
func (b *Backend) Clear(_ context.Context, store string) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	batch := new(leveldb.Batch)
	iter := b.db.NewIterator(util.BytesPrefix(recordPrefix(store)), &opt.ReadOptions{DontFillCache: true})
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("leveldb clear: %w", err)
	}

	if err := b.db.Write(batch, b.wo); err != nil {
		return fmt.Errorf("leveldb clear: %w", err)
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
