// Package fs provides a filesystem-backed record storage backend.
// Each object store is a directory and each record a file named by its
// zero-padded sequence key.
package fs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/gezibash/quotafill/internal/recordstore/physical"
	"github.com/gezibash/quotafill/internal/storage"
)

const (
	KeyPath            = "path"
	KeyDirPermissions  = "dir_permissions"
	KeyFilePermissions = "file_permissions"
)

func init() {
	physical.Register("fs", NewFactory, Defaults)
}

// Defaults returns the default configuration for the filesystem backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:            "~/.quotafill/records-fs",
		KeyDirPermissions:  "0700",
		KeyFilePermissions: "0600",
	}
}

// NewFactory creates a new filesystem backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (physical.Backend, error) {
	path := storage.GetString(config, KeyPath, "")
	if path == "" {
		return nil, storage.NewConfigError("fs", KeyPath, "cannot be empty")
	}
	path = storage.ExpandPath(path)

	dirPerms, err := parseFileMode(config[KeyDirPermissions], 0o700)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("fs", KeyDirPermissions, config[KeyDirPermissions], "must be an octal permission string (e.g. 0700)")
	}

	filePerms, err := parseFileMode(config[KeyFilePermissions], 0o600)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("fs", KeyFilePermissions, config[KeyFilePermissions], "must be an octal permission string (e.g. 0600)")
	}

	if err := os.MkdirAll(path, dirPerms); err != nil {
		return nil, storage.NewConfigErrorWithCause("fs", KeyPath, "failed to create directory", err)
	}

	slog.Info("fs recordstore initialized", "path", path, "dir_permissions", fmt.Sprintf("%04o", dirPerms), "file_permissions", fmt.Sprintf("%04o", filePerms))

	return &Backend{
		rootPath:  path,
		dirPerms:  dirPerms,
		filePerms: filePerms,
	}, nil
}

func parseFileMode(s string, defaultMode os.FileMode) (os.FileMode, error) {
	if s == "" {
		return defaultMode, nil
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, err
	}
	return os.FileMode(v), nil
}

// Backend is a filesystem implementation of physical.Backend.
type Backend struct {
	rootPath  string
	dirPerms  os.FileMode
	filePerms os.FileMode
	closed    atomic.Bool
}

func (b *Backend) storeDir(store string) string {
	return filepath.Join(b.rootPath, store)
}

func (b *Backend) recordPath(store string, key uint64) string {
	return filepath.Join(b.storeDir(store), physical.KeyName(key))
}

// records lists record file names in ascending key order. Hidden
// entries (temp files) are skipped.
func (b *Backend) records(store string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(b.storeDir(store))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name := e.Name(); len(name) > 0 && name[0] == '.' {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// EnsureStore creates the store directory.
func (b *Backend) EnsureStore(_ context.Context, store string) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	if err := physical.ValidateStore(store); err != nil {
		return err
	}
	if err := os.MkdirAll(b.storeDir(store), b.dirPerms); err != nil {
		return fmt.Errorf("fs ensure store: %w", err)
	}
	return nil
}

// Put stores a record using atomic rename.
func (b *Backend) Put(_ context.Context, store string, key uint64, value []byte) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	path := b.recordPath(store, key)
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, b.dirPerms); err != nil {
		return fmt.Errorf("fs put: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("fs put: %w", err)
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(value)
	closeErr := tmp.Close()
	if writeErr != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("fs put: %w", writeErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("fs put: %w", closeErr)
	}

	if err := os.Chmod(tmpName, b.filePerms); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("fs put: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("fs put: %w", err)
	}
	return nil
}

// Get reads a record file.
func (b *Backend) Get(_ context.Context, store string, key uint64) ([]byte, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	data, err := os.ReadFile(b.recordPath(store, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, physical.ErrNotFound
		}
		return nil, fmt.Errorf("fs get: %w", err)
	}
	return data, nil
}

// LastKey parses the name of the last record file.
func (b *Backend) LastKey(_ context.Context, store string) (uint64, error) {
	if b.closed.Load() {
		return 0, physical.ErrClosed
	}

	entries, err := b.records(store)
	if err != nil {
		return 0, fmt.Errorf("fs last key: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	key, err := strconv.ParseUint(entries[len(entries)-1].Name(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("fs last key: %w", err)
	}
	return key, nil
}

// Stats sums record file sizes.
func (b *Backend) Stats(_ context.Context, store string) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	entries, err := b.records(store)
	if err != nil {
		return nil, fmt.Errorf("fs stats: %w", err)
	}

	stats := &physical.Stats{BackendType: "fs"}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("fs stats: %w", err)
		}
		stats.Records++
		stats.SizeBytes += info.Size()
	}
	return stats, nil
}

// Clear removes every record file, keeping the store directory.
func (b *Backend) Clear(_ context.Context, store string) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	entries, err := os.ReadDir(b.storeDir(store))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("fs clear: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(b.storeDir(store), e.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("fs clear: %w", err)
		}
	}
	return nil
}

// Close marks the backend as closed.
func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}
