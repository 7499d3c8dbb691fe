package recordstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gezibash/quotafill/internal/observability"
	"github.com/gezibash/quotafill/internal/quota"
	"github.com/gezibash/quotafill/internal/recordstore/physical"
)

const (
	// DefaultName is the database name used when Options.Name is empty.
	DefaultName = "storageTestDB"
	// DefaultObjectStore is the object store created on first open.
	DefaultObjectStore = "testStore"
	// DefaultBackend is the physical backend used when Options.Backend is empty.
	DefaultBackend = "badger"
)

// Options configures Open.
type Options struct {
	Name        string
	ObjectStore string
	Backend     string
	Config      map[string]string

	// DataDir roots the database files of path-based backends that
	// were not given an explicit path.
	DataDir string

	// Quota caps the sum of stored value lengths. Zero means no cap,
	// in which case Estimate defers to Fallback.
	Quota    int64
	Fallback quota.Estimator

	Metrics *observability.Metrics
}

// Store is an opened database with one active object store.
// Keys are sequence ids that continue from the highest existing key.
type Store struct {
	backend     physical.Backend
	name        string
	objectStore string
	backendName string
	quota       int64
	fallback    quota.Estimator
	metrics     *observability.Metrics

	mu     sync.Mutex
	seq    uint64
	usage  int64
	closed bool
}

// Open obtains the named database, creating its object store if absent,
// and loads the last sequence key and current usage.
func Open(ctx context.Context, opts Options) (s *Store, err error) {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.ObjectStore == "" {
		opts.ObjectStore = DefaultObjectStore
	}
	if opts.Backend == "" {
		opts.Backend = DefaultBackend
	}

	op, ctx := observability.StartOperation(ctx, opts.Metrics, "recordstore.open",
		observability.StoreAttrs(opts.Name, opts.ObjectStore, opts.Backend)...)
	defer func() { op.End(err) }()

	backend, err := physical.New(ctx, opts.Backend, backendConfig(opts), opts.Metrics)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Name, err)
	}

	if err := backend.EnsureStore(ctx, opts.ObjectStore); err != nil {
		backend.Close()
		return nil, fmt.Errorf("open %s: create object store %s: %w", opts.Name, opts.ObjectStore, err)
	}

	last, err := backend.LastKey(ctx, opts.ObjectStore)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("open %s: %w", opts.Name, err)
	}

	stats, err := backend.Stats(ctx, opts.ObjectStore)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("open %s: %w", opts.Name, err)
	}

	slog.InfoContext(ctx, "record store opened",
		"name", opts.Name,
		"object_store", opts.ObjectStore,
		"backend", opts.Backend,
		"records", stats.Records,
		"usage_bytes", stats.SizeBytes,
		"quota_bytes", opts.Quota,
		"last_key", last,
	)

	return &Store{
		backend:     backend,
		name:        opts.Name,
		objectStore: opts.ObjectStore,
		backendName: opts.Backend,
		quota:       opts.Quota,
		fallback:    opts.Fallback,
		metrics:     opts.Metrics,
		seq:         last,
		usage:       stats.SizeBytes,
	}, nil
}

// backendConfig fills in the path of path-based backends from DataDir.
// The file extension of the backend's default path is preserved, so a
// sqlite database stays a ".db" file.
func backendConfig(opts Options) map[string]string {
	cfg := make(map[string]string, len(opts.Config)+1)
	for k, v := range opts.Config {
		cfg[k] = v
	}
	if opts.DataDir == "" || cfg["path"] != "" {
		return cfg
	}
	def, ok := physical.GetDefaults(opts.Backend)["path"]
	if !ok {
		return cfg
	}
	cfg["path"] = filepath.Join(opts.DataDir, opts.Name+filepath.Ext(def))
	return cfg
}

// Name returns the database name.
func (s *Store) Name() string { return s.name }

// ObjectStore returns the active object store name.
func (s *Store) ObjectStore() string { return s.objectStore }

// Backend returns the physical backend name.
func (s *Store) Backend() string { return s.backendName }

func (s *Store) attrs() []attribute.KeyValue {
	return observability.StoreAttrs(s.name, s.objectStore, s.backendName)
}

// Quota returns the configured cap in bytes, or 0 when uncapped.
func (s *Store) Quota() int64 { return s.quota }

// Put writes value under the next sequence key in its own transaction.
// It returns ErrQuotaExceeded, without writing, when the value would take
// usage past the quota.
func (s *Store) Put(ctx context.Context, value []byte) (key uint64, err error) {
	attrs := append(s.attrs(), observability.AttrValueBytes.Int(len(value)))
	op, ctx := observability.StartOperation(ctx, s.metrics, "recordstore.put", attrs...)
	defer func() { op.End(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	size := int64(len(value))
	if s.quota > 0 && s.usage+size > s.quota {
		return 0, fmt.Errorf("put %d bytes at usage %d of %d: %w", size, s.usage, s.quota, ErrQuotaExceeded)
	}

	key = s.seq + 1
	if err := s.backend.Put(ctx, s.objectStore, key, value); err != nil {
		return 0, fmt.Errorf("put record %d: %w", key, err)
	}
	s.seq = key
	s.usage += size

	if s.metrics != nil {
		s.metrics.RecordsWritten.Inc()
		s.metrics.BytesWritten.Add(float64(size))
	}
	return key, nil
}

// Get returns the record stored under key.
func (s *Store) Get(ctx context.Context, key uint64) ([]byte, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return s.backend.Get(ctx, s.objectStore, key)
}

// LastKey returns the most recently assigned sequence key.
func (s *Store) LastKey() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Usage returns the sum of stored value lengths in bytes.
func (s *Store) Usage() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Count returns the number of records in the object store.
func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	stats, err := s.backend.Stats(ctx, s.objectStore)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return stats.Records, nil
}

// Estimate implements quota.Estimator. With a quota configured it
// reports that quota and the tracked usage; otherwise it defers to the
// fallback estimator, or fails with quota.ErrUnsupported.
func (s *Store) Estimate(ctx context.Context) (quota.Estimate, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return quota.Estimate{}, ErrClosed
	}

	est := s.fallback
	if s.quota > 0 {
		est = quota.Fixed{Capacity: s.quota, Used: s.Usage}
	}
	if est == nil {
		return quota.Estimate{}, quota.ErrUnsupported
	}
	return est.Estimate(ctx)
}

// Clear removes every record from the object store. Sequence keys keep
// increasing from where they were.
func (s *Store) Clear(ctx context.Context) (err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "recordstore.clear", s.attrs()...)
	defer func() { op.End(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.backend.Clear(ctx, s.objectStore); err != nil {
		return fmt.Errorf("clear %s: %w", s.objectStore, err)
	}
	s.usage = 0

	slog.InfoContext(ctx, "record store cleared", "name", s.name, "object_store", s.objectStore)
	return nil
}

// Close releases the backend. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.backend.Close(); err != nil && !errors.Is(err, physical.ErrClosed) {
		return fmt.Errorf("close %s: %w", s.name, err)
	}
	return nil
}
