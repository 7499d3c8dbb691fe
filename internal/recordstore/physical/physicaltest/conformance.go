// Package physicaltest provides a conformance suite shared by record store backends.
package physicaltest

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/gezibash/quotafill/internal/recordstore/physical"
)

// NewBackendFunc returns a fresh, empty backend. Cleanup is the caller's job.
type NewBackendFunc func(t *testing.T) physical.Backend

// Run exercises the physical.Backend contract against newBackend.
func Run(t *testing.T, newBackend NewBackendFunc) {
	t.Run("PutGet", func(t *testing.T) { testPutGet(t, newBackend(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newBackend(t)) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, newBackend(t)) })
	t.Run("LastKey", func(t *testing.T) { testLastKey(t, newBackend(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, newBackend(t)) })
	t.Run("StoresIsolated", func(t *testing.T) { testStoresIsolated(t, newBackend(t)) })
	t.Run("Clear", func(t *testing.T) { testClear(t, newBackend(t)) })
	t.Run("EnsureStoreIdempotent", func(t *testing.T) { testEnsureIdempotent(t, newBackend(t)) })
	t.Run("InvalidStore", func(t *testing.T) { testInvalidStore(t, newBackend(t)) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, newBackend(t)) })
}

const store = "testStore"

func ensure(t *testing.T, b physical.Backend, name string) {
	t.Helper()
	if err := b.EnsureStore(context.Background(), name); err != nil {
		t.Fatalf("EnsureStore(%q): %v", name, err)
	}
}

func put(t *testing.T, b physical.Backend, name string, key uint64, value []byte) {
	t.Helper()
	if err := b.Put(context.Background(), name, key, value); err != nil {
		t.Fatalf("Put(%q, %d): %v", name, key, err)
	}
}

func testPutGet(t *testing.T, b physical.Backend) {
	ensure(t, b, store)
	value := bytes.Repeat([]byte("X"), 4096)
	put(t, b, store, 1, value)

	got, err := b.Get(context.Background(), store, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, value) {
		t.Fatalf("Get returned %d bytes, want %d", len(got), len(value))
	}
}

func testGetMissing(t *testing.T, b physical.Backend) {
	ensure(t, b, store)
	_, err := b.Get(context.Background(), store, 42)
	if !errors.Is(err, physical.ErrNotFound) {
		t.Fatalf("Get missing: err = %v, want ErrNotFound", err)
	}
}

func testOverwrite(t *testing.T, b physical.Backend) {
	ensure(t, b, store)
	put(t, b, store, 7, []byte("first"))
	put(t, b, store, 7, []byte("second"))

	got, err := b.Get(context.Background(), store, 7)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("Get = %q, want %q", got, "second")
	}
	stats, err := b.Stats(context.Background(), store)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Records != 1 || stats.SizeBytes != int64(len("second")) {
		t.Fatalf("Stats after overwrite = %+v", stats)
	}
}

func testLastKey(t *testing.T, b physical.Backend) {
	ensure(t, b, store)
	last, err := b.LastKey(context.Background(), store)
	if err != nil {
		t.Fatalf("LastKey empty: %v", err)
	}
	if last != 0 {
		t.Fatalf("LastKey empty = %d, want 0", last)
	}

	for _, k := range []uint64{3, 1, 300, 2} {
		put(t, b, store, k, []byte{byte(k)})
	}
	last, err = b.LastKey(context.Background(), store)
	if err != nil {
		t.Fatalf("LastKey: %v", err)
	}
	if last != 300 {
		t.Fatalf("LastKey = %d, want 300", last)
	}
}

func testStats(t *testing.T, b physical.Backend) {
	ensure(t, b, store)
	for k := uint64(1); k <= 5; k++ {
		put(t, b, store, k, make([]byte, 1000))
	}

	stats, err := b.Stats(context.Background(), store)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Records != 5 {
		t.Errorf("Records = %d, want 5", stats.Records)
	}
	if stats.SizeBytes != 5000 {
		t.Errorf("SizeBytes = %d, want 5000", stats.SizeBytes)
	}
	if stats.BackendType == "" {
		t.Error("BackendType should be set")
	}

	// Chunk-sized values land outside inline storage on some backends.
	big := bytes.Repeat([]byte("X"), 1<<20)
	put(t, b, store, 6, big)
	put(t, b, store, 7, big)
	stats, err = b.Stats(context.Background(), store)
	if err != nil {
		t.Fatalf("Stats with large values: %v", err)
	}
	if want := int64(5000 + 2<<20); stats.SizeBytes != want {
		t.Errorf("SizeBytes with large values = %d, want %d", stats.SizeBytes, want)
	}
	if stats.Records != 7 {
		t.Errorf("Records with large values = %d, want 7", stats.Records)
	}
}

func testStoresIsolated(t *testing.T, b physical.Backend) {
	ensure(t, b, "alpha")
	ensure(t, b, "beta")
	put(t, b, "alpha", 1, []byte("a"))
	put(t, b, "alpha", 2, []byte("a"))
	put(t, b, "beta", 1, []byte("bbbb"))

	alpha, err := b.Stats(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Stats alpha: %v", err)
	}
	beta, err := b.Stats(context.Background(), "beta")
	if err != nil {
		t.Fatalf("Stats beta: %v", err)
	}
	if alpha.Records != 2 || beta.Records != 1 || beta.SizeBytes != 4 {
		t.Fatalf("stores leaked: alpha=%+v beta=%+v", alpha, beta)
	}
}

func testClear(t *testing.T, b physical.Backend) {
	ensure(t, b, store)
	ensure(t, b, "other")
	for k := uint64(1); k <= 3; k++ {
		put(t, b, store, k, []byte("data"))
	}
	put(t, b, "other", 1, []byte("keep"))

	if err := b.Clear(context.Background(), store); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	stats, err := b.Stats(context.Background(), store)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Records != 0 || stats.SizeBytes != 0 {
		t.Fatalf("Stats after clear = %+v", stats)
	}
	if _, err := b.Get(context.Background(), "other", 1); err != nil {
		t.Fatalf("Clear touched another store: %v", err)
	}
	// The store stays usable after a clear.
	put(t, b, store, 1, []byte("again"))
}

func testEnsureIdempotent(t *testing.T, b physical.Backend) {
	ensure(t, b, store)
	put(t, b, store, 1, []byte("x"))
	ensure(t, b, store)

	if _, err := b.Get(context.Background(), store, 1); err != nil {
		t.Fatalf("second EnsureStore lost data: %v", err)
	}
}

func testInvalidStore(t *testing.T, b physical.Backend) {
	for _, name := range []string{"", "a/b", "../x", "sp ace"} {
		if err := b.EnsureStore(context.Background(), name); !errors.Is(err, physical.ErrInvalidStore) {
			t.Errorf("EnsureStore(%q) = %v, want ErrInvalidStore", name, err)
		}
	}
}

func testClosed(t *testing.T, b physical.Backend) {
	ensure(t, b, store)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := b.Put(context.Background(), store, 1, []byte("x")); !errors.Is(err, physical.ErrClosed) {
		t.Fatalf("Put after close = %v, want ErrClosed", err)
	}
	if _, err := b.Get(context.Background(), store, 1); !errors.Is(err, physical.ErrClosed) {
		t.Fatalf("Get after close = %v, want ErrClosed", err)
	}
}
