// Package app wires configuration into record stores and fill sessions.
package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gezibash/quotafill/internal/config"
	"github.com/gezibash/quotafill/internal/fill"
	"github.com/gezibash/quotafill/internal/observability"
	"github.com/gezibash/quotafill/internal/quota"
	"github.com/gezibash/quotafill/internal/record"
	"github.com/gezibash/quotafill/internal/recordstore"
	"github.com/gezibash/quotafill/internal/recordstore/physical"
	"github.com/gezibash/quotafill/internal/storage"

	// Register record store backends
	_ "github.com/gezibash/quotafill/internal/recordstore/physical/badger"
	_ "github.com/gezibash/quotafill/internal/recordstore/physical/fs"
	_ "github.com/gezibash/quotafill/internal/recordstore/physical/leveldb"
	_ "github.com/gezibash/quotafill/internal/recordstore/physical/memory"
	_ "github.com/gezibash/quotafill/internal/recordstore/physical/redis"
	_ "github.com/gezibash/quotafill/internal/recordstore/physical/s3"
	_ "github.com/gezibash/quotafill/internal/recordstore/physical/sqlite"
)

// App holds the loaded configuration and observability stack shared by
// every command.
type App struct {
	Config config.Config
	Obs    *observability.Observability
}

// New initializes observability from cfg. Logs go to w unless
// observability.log_file is set.
func New(ctx context.Context, cfg config.Config, w io.Writer) (*App, error) {
	if cfg.DataDir == "" {
		cfg.DataDir = config.DefaultDataDir()
	}
	cfg.DataDir = storage.ExpandPath(cfg.DataDir)

	obs, err := observability.New(ctx, observability.ObsConfig{
		LogLevel:       cfg.Observability.LogLevel,
		LogFormat:      cfg.Observability.LogFormat,
		LogFile:        cfg.Observability.LogFile,
		OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
		OTLPProtocol:   cfg.Observability.OTLPProtocol,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		ResourceAttrs: []attribute.KeyValue{
			attribute.String("quotafill.profile", cfg.Profile),
			observability.AttrBackend.String(cfg.Store.Backend),
			observability.AttrStoreName.String(cfg.Store.Name),
		},
	}, w)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}
	return &App{Config: cfg, Obs: obs}, nil
}

// Metrics returns the shared metrics, or nil before New.
func (a *App) Metrics() *observability.Metrics {
	if a.Obs == nil {
		return nil
	}
	return a.Obs.Metrics
}

// StoreOptions translates the store config into recordstore options.
// Backends that keep their data under a local path fall back to a disk
// estimate when no quota is configured.
func (a *App) StoreOptions() (recordstore.Options, error) {
	sc := a.Config.Store
	if !physical.IsRegistered(sc.Backend) {
		return recordstore.Options{}, storage.UnknownBackendError(sc.Backend, physical.ListBackends())
	}
	q, err := sc.QuotaBytes()
	if err != nil {
		return recordstore.Options{}, err
	}

	opts := recordstore.Options{
		Name:        sc.Name,
		ObjectStore: sc.ObjectStore,
		Backend:     sc.Backend,
		Config:      sc.Config,
		DataDir:     a.Config.DataDir,
		Quota:       q,
		Metrics:     a.Metrics(),
	}
	if _, local := physical.GetDefaults(sc.Backend)["path"]; local {
		opts.Fallback = quota.DiskEstimator{Path: a.Config.DataDir}
	}
	return opts, nil
}

// OpenStore opens the configured record store, creating the data
// directory first.
func (a *App) OpenStore(ctx context.Context) (*recordstore.Store, error) {
	opts, err := a.StoreOptions()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(a.Config.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return recordstore.Open(ctx, opts)
}

// NewSession builds an idle fill session from the fill config. The store
// is opened on the session's first start.
func (a *App) NewSession(reporter fill.Reporter) (*fill.Session, error) {
	gen, err := record.New(a.Config.Fill.Generator)
	if err != nil {
		return nil, err
	}
	return fill.NewSession(fill.Config{
		Open: func(ctx context.Context) (fill.Store, error) {
			store, err := a.OpenStore(ctx)
			if err != nil {
				return nil, err
			}
			return store, nil
		},
		Generator:      gen,
		Throttle:       a.Config.Fill.Throttle,
		ReportEstimate: a.Config.Fill.ReportEstimate,
		Reporter:       reporter,
		Metrics:        a.Metrics(),
	}), nil
}

// Close flushes traces and runs shutdown handlers.
func (a *App) Close(ctx context.Context) error {
	if a.Obs == nil {
		return nil
	}
	return a.Obs.Close(ctx)
}
