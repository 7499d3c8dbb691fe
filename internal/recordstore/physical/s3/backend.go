// Package s3 provides an S3-backed record storage backend.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gezibash/quotafill/internal/recordstore/physical"
	"github.com/gezibash/quotafill/internal/storage"
)

const (
	KeyBucket          = "bucket"
	KeyRegion          = "region"
	KeyEndpoint        = "endpoint"
	KeyPrefix          = "prefix"
	KeyAccessKeyID     = "access_key_id"
	KeySecretAccessKey = "secret_access_key"
	KeyForcePathStyle  = "force_path_style"

	storeMarker = ".store"
)

func init() {
	physical.Register("s3", NewFactory, Defaults)
}

// Defaults returns the default configuration for the S3 backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyRegion:          "us-east-1",
		KeyEndpoint:        "",
		KeyPrefix:          "",
		KeyAccessKeyID:     "",
		KeySecretAccessKey: "",
		KeyForcePathStyle:  "false",
	}
}

// NewFactory creates a new S3 backend from a configuration map.
func NewFactory(ctx context.Context, config map[string]string) (physical.Backend, error) {
	bucket := storage.GetString(config, KeyBucket, "")
	if bucket == "" {
		return nil, storage.NewConfigError("s3", KeyBucket, "cannot be empty")
	}

	region := storage.GetString(config, KeyRegion, "us-east-1")
	endpoint := storage.GetString(config, KeyEndpoint, "")
	prefix := storage.GetString(config, KeyPrefix, "")
	accessKeyID := storage.GetString(config, KeyAccessKeyID, "")
	secretAccessKey := storage.GetString(config, KeySecretAccessKey, "")

	forcePathStyle, err := storage.GetBool(config, KeyForcePathStyle, false)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("s3", KeyForcePathStyle, config[KeyForcePathStyle], err.Error())
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(region))

	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("s3", "", "failed to load AWS config", err)
	}

	var s3Opts []func(*s3.Options)
	if endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if forcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(cfg, s3Opts...)

	// Fail fast: verify bucket access.
	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("s3", KeyBucket, "bucket not accessible", err)
	}

	slog.Info("s3 recordstore initialized", "bucket", bucket, "region", region, "prefix", prefix)

	return &Backend{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Backend is an S3 implementation of physical.Backend. Records live at
// <prefix><store>/<zero-padded key>; a ".store" object marks the store.
type Backend struct {
	client *s3.Client
	bucket string
	prefix string
	closed atomic.Bool
}

func (b *Backend) storePrefix(store string) string {
	return b.prefix + store + "/"
}

func (b *Backend) key(store string, key uint64) string {
	return b.storePrefix(store) + physical.KeyName(key)
}

// walk lists every record object of the store in ascending key order.
func (b *Backend) walk(ctx context.Context, store string, fn func(types.Object) error) error {
	prefix := b.storePrefix(store)
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" || name == storeMarker || strings.Contains(name, "/") {
				continue
			}
			if err := fn(obj); err != nil {
				return err
			}
		}
	}
	return nil
}

// EnsureStore writes the store marker object.
func (b *Backend) EnsureStore(ctx context.Context, store string) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	if err := physical.ValidateStore(store); err != nil {
		return err
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.storePrefix(store) + storeMarker),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("s3 ensure store: %w", err)
	}
	return nil
}

// Put stores a record as a single object.
func (b *Backend) Put(ctx context.Context, store string, key uint64, value []byte) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(store, key)),
		Body:   bytes.NewReader(value),
	})
	if err != nil {
		return fmt.Errorf("s3 put: %w", err)
	}
	return nil
}

// Get retrieves a record object.
func (b *Backend) Get(ctx context.Context, store string, key uint64) ([]byte, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(store, key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, physical.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 get: %w", err)
	}
	return data, nil
}

// LastKey lists the store and returns the greatest key seen.
func (b *Backend) LastKey(ctx context.Context, store string) (uint64, error) {
	if b.closed.Load() {
		return 0, physical.ErrClosed
	}

	prefix := b.storePrefix(store)
	var last uint64
	err := b.walk(ctx, store, func(obj types.Object) error {
		k, err := strconv.ParseUint(strings.TrimPrefix(aws.ToString(obj.Key), prefix), 10, 64)
		if err != nil {
			return nil
		}
		last = max(last, k)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("s3 last key: %w", err)
	}
	return last, nil
}

// Stats lists the store and sums object sizes.
func (b *Backend) Stats(ctx context.Context, store string) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	stats := &physical.Stats{BackendType: "s3"}
	err := b.walk(ctx, store, func(obj types.Object) error {
		stats.Records++
		stats.SizeBytes += aws.ToInt64(obj.Size)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("s3 stats: %w", err)
	}
	return stats, nil
}

// Clear deletes every record object. S3 delete is already idempotent.
func (b *Backend) Clear(ctx context.Context, store string) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	var keys []string
	err := b.walk(ctx, store, func(obj types.Object) error {
		keys = append(keys, aws.ToString(obj.Key))
		return nil
	})
	if err != nil {
		return fmt.Errorf("s3 clear: %w", err)
	}

	for _, k := range keys {
		_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(k),
		})
		if err != nil {
			return fmt.Errorf("s3 clear: %w", err)
		}
	}
	return nil
}

// Close is a no-op; the S3 SDK client needs no cleanup.
func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return true
	}
	return false
}
