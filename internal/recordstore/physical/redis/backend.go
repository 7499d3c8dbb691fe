// Package redis provides a Redis-backed record storage backend.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gezibash/quotafill/internal/recordstore/physical"
	"github.com/gezibash/quotafill/internal/storage"
)

const (
	KeyAddr         = "addr"
	KeyPassword     = "password"
	KeyDB           = "db"
	KeyMaxRetries   = "max_retries"
	KeyDialTimeout  = "dial_timeout"
	KeyReadTimeout  = "read_timeout"
	KeyWriteTimeout = "write_timeout"
	KeyPoolSize     = "pool_size"
	KeyKeyPrefix    = "key_prefix"

	clearBatchSize = 500
)

func init() {
	physical.Register("redis", NewFactory, Defaults)
}

// Defaults returns the default configuration for the Redis backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyAddr:         "localhost:6379",
		KeyPassword:     "",
		KeyDB:           "1",
		KeyMaxRetries:   "3",
		KeyDialTimeout:  "5s",
		KeyReadTimeout:  "3s",
		KeyWriteTimeout: "3s",
		KeyPoolSize:     "0",
		KeyKeyPrefix:    "quotafill:",
	}
}

// NewFactory creates a new Redis backend from a configuration map.
func NewFactory(ctx context.Context, config map[string]string) (physical.Backend, error) {
	addr := storage.GetString(config, KeyAddr, "")
	if addr == "" {
		return nil, storage.NewConfigError("redis", KeyAddr, "cannot be empty")
	}

	db, err := storage.GetInt(config, KeyDB, 1)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyDB, config[KeyDB], err.Error())
	}
	if db < 0 {
		return nil, storage.NewConfigErrorWithValue("redis", KeyDB, config[KeyDB], "must be non-negative")
	}

	maxRetries, err := storage.GetInt(config, KeyMaxRetries, 3)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyMaxRetries, config[KeyMaxRetries], err.Error())
	}

	dialTimeout, err := storage.GetDuration(config, KeyDialTimeout, 5*time.Second)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyDialTimeout, config[KeyDialTimeout], err.Error())
	}

	readTimeout, err := storage.GetDuration(config, KeyReadTimeout, 3*time.Second)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyReadTimeout, config[KeyReadTimeout], err.Error())
	}

	writeTimeout, err := storage.GetDuration(config, KeyWriteTimeout, 3*time.Second)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyWriteTimeout, config[KeyWriteTimeout], err.Error())
	}

	poolSize, err := storage.GetInt(config, KeyPoolSize, 0)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyPoolSize, config[KeyPoolSize], err.Error())
	}

	password := storage.GetString(config, KeyPassword, "")
	keyPrefix := storage.GetString(config, KeyKeyPrefix, "quotafill:")

	opts := &redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   maxRetries,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, storage.NewConfigErrorWithCause("redis", KeyAddr, "failed to connect", err)
	}

	slog.Info("redis recordstore initialized", "addr", addr, "db", db, "key_prefix", keyPrefix)

	return NewWithClient(client, keyPrefix), nil
}

// Backend is a Redis implementation of physical.Backend.
//
// Layout per object store:
//
//	<prefix>stores              SET of store names
//	<prefix><store>:rec:<key>   record value
//	<prefix><store>:keys        ZSET of record keys scored by sequence
//	<prefix><store>:sizes       HASH of record key to value length
type Backend struct {
	client *redis.Client
	prefix string
	closed atomic.Bool
}

// NewWithClient creates a new backend with an existing Redis client.
func NewWithClient(client *redis.Client, prefix string) *Backend {
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) storesKey() string { return b.prefix + "stores" }

func (b *Backend) recordKey(store string, key uint64) string {
	return b.prefix + store + ":rec:" + physical.KeyName(key)
}

func (b *Backend) keysKey(store string) string  { return b.prefix + store + ":keys" }
func (b *Backend) sizesKey(store string) string { return b.prefix + store + ":sizes" }

// EnsureStore adds the store to the store set.
func (b *Backend) EnsureStore(ctx context.Context, store string) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	if err := physical.ValidateStore(store); err != nil {
		return err
	}
	if err := b.client.SAdd(ctx, b.storesKey(), store).Err(); err != nil {
		return fmt.Errorf("redis ensure store: %w", err)
	}
	return nil
}

// Put writes the value and its index entries in one MULTI/EXEC.
func (b *Backend) Put(ctx context.Context, store string, key uint64, value []byte) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	name := physical.KeyName(key)
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.recordKey(store, key), value, 0)
		pipe.ZAdd(ctx, b.keysKey(store), redis.Z{Score: float64(key), Member: name})
		pipe.HSet(ctx, b.sizesKey(store), name, len(value))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

// Get retrieves a record.
func (b *Backend) Get(ctx context.Context, store string, key uint64) ([]byte, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	value, err := b.client.Get(ctx, b.recordKey(store, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, physical.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return value, nil
}

// LastKey returns the highest-scored key in the store index.
func (b *Backend) LastKey(ctx context.Context, store string) (uint64, error) {
	if b.closed.Load() {
		return 0, physical.ErrClosed
	}

	members, err := b.client.ZRevRange(ctx, b.keysKey(store), 0, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("redis last key: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}
	key, err := strconv.ParseUint(members[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis last key: %w", err)
	}
	return key, nil
}

// Stats counts index entries and sums recorded value lengths.
func (b *Backend) Stats(ctx context.Context, store string) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	sizes, err := b.client.HVals(ctx, b.sizesKey(store)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis stats: %w", err)
	}

	stats := &physical.Stats{BackendType: "redis", Records: int64(len(sizes))}
	for _, s := range sizes {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis stats: %w", err)
		}
		stats.SizeBytes += n
	}
	return stats, nil
}

// Clear deletes every record of the store in batches, then its indexes.
func (b *Backend) Clear(ctx context.Context, store string) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	members, err := b.client.ZRange(ctx, b.keysKey(store), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}

	for start := 0; start < len(members); start += clearBatchSize {
		end := min(start+clearBatchSize, len(members))
		keys := make([]string, 0, end-start)
		for _, m := range members[start:end] {
			keys = append(keys, b.prefix+store+":rec:"+m)
		}
		if err := b.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis clear: %w", err)
		}
	}

	if err := b.client.Del(ctx, b.keysKey(store), b.sizesKey(store)).Err(); err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}
	return nil
}

// Close closes the client.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.client.Close()
}
