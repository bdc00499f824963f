// Package app assembles the engine's components from configuration. The
// daemon and the operator CLI share it.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/gftdcojp/tickstore/internal/blob"
	"github.com/gftdcojp/tickstore/internal/catalog"
	"github.com/gftdcojp/tickstore/internal/config"
	"github.com/gftdcojp/tickstore/internal/file"
	"github.com/gftdcojp/tickstore/internal/lifecycle"
	"github.com/gftdcojp/tickstore/internal/meta"
	"github.com/gftdcojp/tickstore/internal/notify"
	"github.com/gftdcojp/tickstore/internal/quota"
	"github.com/gftdcojp/tickstore/internal/tier"
	"github.com/gftdcojp/tickstore/internal/types"
	"github.com/gftdcojp/tickstore/pkg/natsutil"
	"github.com/gftdcojp/tickstore/pkg/s3util"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Options select optional parts of the assembly.
type Options struct {
	// ConnectNATS publishes events when nats.enabled is set.
	ConnectNATS bool
}

// App holds the wired components for one storage root.
type App struct {
	Config   *config.Config
	Catalog  *catalog.Catalog
	Table    *tier.Table
	Executor *tier.Executor
	Quota    *quota.Tracker
	Engine   *lifecycle.Engine
	Meta     *meta.BoltStore
	NATS     *nats.Conn
	S3       map[string]*s3util.Client
	Events   notify.Publisher

	logger *zap.Logger
}

// Open builds every component. Callers must Close the result.
func Open(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, S3: make(map[string]*s3util.Client), Events: notify.Nop{}, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var err error
	a.Meta, err = meta.NewBoltStore(cfg.Metadata.Path, cfg.Metadata.NoSync, logger.Named("meta"))
	if err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}

	if opts.ConnectNATS && cfg.NATS.Enabled {
		a.NATS, err = natsutil.Connect(cfg.NATS, logger.Named("nats"))
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		a.Events = notify.NewNATSPublisher(a.NATS, cfg.NATS.SubjectPrefix, logger.Named("notify"))
	}

	a.Table, err = tier.NewTable(cfg.Tiers, cfg.Lifecycle.TieringEnabled)
	if err != nil {
		return nil, fmt.Errorf("building tier table: %w", err)
	}

	catOpts, err := catalog.OptionsFromConfig(cfg.Storage)
	if err != nil {
		return nil, err
	}
	catOpts.Tiers = a.Table
	a.Catalog, err = catalog.Open(catOpts, logger.Named("catalog"))
	if err != nil {
		return nil, err
	}
	a.Catalog.SetRunRecorder(a.Meta)
	a.Catalog.SetPublisher(a.Events)

	stores, err := a.buildStores(ctx)
	if err != nil {
		return nil, err
	}
	a.Executor = tier.NewExecutor(tier.ExecutorConfig{
		Root:          cfg.Storage.Root,
		Table:         a.Table,
		Stores:        stores,
		ParallelFiles: cfg.Migration.ParallelFiles,
		Throughput:    int64(cfg.Migration.Throughput),
		Logger:        logger.Named("tier"),
	})

	limits, err := quota.LimitsFromConfig(cfg.Quotas)
	if err != nil {
		return nil, err
	}
	a.Quota = quota.NewTracker(quota.TrackerConfig{
		Root:       cfg.Storage.Root,
		Convention: catOpts.Convention,
		Filter:     catOpts.Filter,
		Limits:     limits,
		Store:      a.Meta,
		Events:     a.Events,
		Logger:     logger.Named("quota"),
	})

	resolver, err := lifecycle.NewResolver(cfg.DefaultPolicy, cfg.Policies)
	if err != nil {
		return nil, err
	}
	a.Engine = lifecycle.NewEngine(lifecycle.EngineConfig{
		Catalog:         a.Catalog,
		Executor:        a.Executor,
		Resolver:        resolver,
		Quota:           a.Quota,
		Log:             a.Meta,
		Events:          a.Events,
		Parallelism:     cfg.Migration.ParallelFiles,
		Logger:          logger.Named("lifecycle"),
		ActionRetention: cfg.Lifecycle.ActionLogRetention,
	})

	ok = true
	return a, nil
}

// buildStores creates one store per configured tier: S3 for tiers with an
// enabled blob section, a local directory under the root otherwise.
func (a *App) buildStores(ctx context.Context) (map[types.Tier]tier.Store, error) {
	stores := make(map[types.Tier]tier.Store)
	for _, d := range a.Table.Ordered() {
		if d.Remote() {
			client, err := s3util.NewClient(ctx, *d.Blob)
			if err != nil {
				return nil, fmt.Errorf("creating S3 client for tier %s: %w", d.Tier, err)
			}
			a.S3[d.Tier.String()] = client
			stores[d.Tier] = blob.NewStore(client.S3, *d.Blob, d.Tier.String(), a.logger.Named("blob"))
			continue
		}
		fs, err := file.NewStore(filepath.Join(a.Config.Storage.Root, filepath.FromSlash(d.Path)), a.logger.Named("file"))
		if err != nil {
			return nil, fmt.Errorf("creating store for tier %s: %w", d.Tier, err)
		}
		if n, err := fs.CleanStaging(); err != nil {
			a.logger.Warn("cleaning staging directory failed", zap.String("tier", d.Tier.String()), zap.Error(err))
		} else if n > 0 {
			a.logger.Info("removed abandoned staging files", zap.String("tier", d.Tier.String()), zap.Int("files", n))
		}
		stores[d.Tier] = fs
	}
	return stores, nil
}

// Close releases the metadata store and the NATS connection. It is safe
// to call more than once.
func (a *App) Close() {
	if a.NATS != nil {
		if err := a.NATS.Drain(); err != nil {
			a.NATS.Close()
		}
		a.NATS = nil
	}
	if a.Meta != nil {
		if err := a.Meta.Close(); err != nil {
			a.logger.Warn("closing metadata store failed", zap.Error(err))
		}
		a.Meta = nil
	}
}
