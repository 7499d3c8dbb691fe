// Package memory provides an in-memory record storage backend for testing.
package memory

import (
	"context"

	"github.com/gezibash/quotafill/internal/recordstore/physical"
	"github.com/gezibash/quotafill/internal/recordstore/physical/badger"
	"github.com/gezibash/quotafill/internal/storage"
)

func init() {
	physical.Register("memory", NewFactory, Defaults)
}

// Defaults returns the default configuration for the memory backend.
func Defaults() map[string]string {
	return map[string]string{
		badger.KeyInMemory: "true",
	}
}

// NewFactory creates a new in-memory backend using BadgerDB's in-memory mode.
func NewFactory(ctx context.Context, config map[string]string) (physical.Backend, error) {
	return badger.NewFactory(ctx, storage.MergeConfig(config, Defaults()))
}
