// Package app assembles the pipeline process from its configuration: the
// stores, the lease backend, the event sinks, the stage workers and the
// HTTP API.
package app

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"go-dataset-pipeline/internal/api"
	"go-dataset-pipeline/internal/api/handler"
	"go-dataset-pipeline/internal/cache"
	"go-dataset-pipeline/internal/config"
	"go-dataset-pipeline/internal/datafile"
	"go-dataset-pipeline/internal/events"
	"go-dataset-pipeline/internal/index"
	"go-dataset-pipeline/internal/locks"
	"go-dataset-pipeline/internal/pipeline"
	"go-dataset-pipeline/internal/store"
	"go-dataset-pipeline/internal/virtual"
	"go-dataset-pipeline/pkg/router"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/sync/errgroup"
)

// App holds the long lived components of a process.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    *store.DB
	Engine   *index.SQLiteEngine
	Layout   datafile.Layout
	Resolver *virtual.Resolver
	Emitter  events.Emitter

	cache   *cache.Cache
	closers []func() error
}

// Open opens the document store, the index and the event sinks.
func Open(cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Layout: datafile.NewLayout(cfg.DataDir)}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, errors.Wrap(err, "opening document store")
	}
	a.Store = db
	a.closers = append(a.closers, db.Close)
	a.Resolver = virtual.NewResolver(db)

	engine, err := index.OpenSQLite(cfg.Store.IndexPath)
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "opening index")
	}
	a.Engine = engine
	a.closers = append(a.closers, engine.Close)

	emitters := events.MultiEmitter{events.LogEmitter{Logger: logger.With("component", "events")}}
	if len(cfg.Events.KafkaBrokers) > 0 {
		k := events.NewKafkaEmitter(events.NewKafkaWriter(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic), logger)
		emitters = append(emitters, k)
		a.closers = append(a.closers, k.Close)
	}
	a.Emitter = emitters

	logger.Info("application opened", "store", cfg.Store.Path, "index", cfg.Store.IndexPath, "data_dir", cfg.DataDir)
	return a, nil
}

// Close releases everything opened, in reverse order.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// Cache opens the tile cache on first use.
func (a *App) Cache() (*cache.Cache, error) {
	if a.cache != nil {
		return a.cache, nil
	}
	path := a.Config.Cache.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.Config.DataDir, path)
	}
	c, err := cache.Open(path, a.Config.Cache.MaxBytes, a.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "opening tile cache")
	}
	a.cache = c
	a.closers = append(a.closers, c.Close)
	return c, nil
}

// Locker returns the lease backend selected by the configuration.
func (a *App) Locker() (locks.Locker, error) {
	cfg := a.Config.Locks
	switch cfg.Backend {
	case "etcd":
		cli, err := clientv3.New(clientv3.Config{Endpoints: cfg.EtcdEndpoints, DialTimeout: 5 * time.Second})
		if err != nil {
			return nil, errors.Wrap(err, "connecting to etcd")
		}
		a.closers = append(a.closers, cli.Close)
		return locks.NewEtcdManager(cli, cfg.EtcdPrefix, cfg.TTL, a.Logger), nil
	default:
		return locks.NewManager(a.Store, cfg.TTL, a.Logger), nil
	}
}

// Stages returns the stages enabled by workers.stages, all of them when
// the list is empty, in processing order.
func (a *App) Stages() ([]pipeline.Stage, error) {
	l := a.Logger
	all := []pipeline.Stage{
		&pipeline.AnalyzeStage{Layout: a.Layout, Logger: l},
		&pipeline.SchematizeStage{Layout: a.Layout, Logger: l},
		&pipeline.ExtendStage{Services: a.Store, Extender: pipeline.NewHTTPExtender(a.Layout, a.Config.Remote, l), Logger: l},
		&pipeline.IndexStage{Layout: a.Layout, Engine: a.Engine, Logger: l},
		&pipeline.FinalizeStage{Engine: a.Engine, Resolver: a.Resolver, Logger: l},
	}
	enabled := a.Config.Workers.Stages
	if len(enabled) == 0 {
		return all, nil
	}
	byName := make(map[string]pipeline.Stage, len(all))
	for _, s := range all {
		byName[s.Name()] = s
	}
	var out []pipeline.Stage
	for _, name := range enabled {
		s, ok := byName[name]
		if !ok {
			return nil, errors.Errorf("unknown stage %q", name)
		}
		out = append(out, s)
	}
	return out, nil
}

// Router returns the HTTP API of the app.
func (a *App) Router() (*router.Router, error) {
	c, err := a.Cache()
	if err != nil {
		return nil, err
	}
	h := &handler.Handler{
		Store:        a.Store,
		Engine:       a.Engine,
		Resolver:     a.Resolver,
		Cache:        c,
		Layout:       a.Layout,
		Emitter:      a.Emitter,
		Logger:       a.Logger.With("component", "api"),
		PublicMaxAge: a.Config.Server.PublicMaxAge,
	}
	r := router.New()
	api.RegisterRoutes(r, h)
	return r, nil
}

// Run serves the API and/or runs the workers until ctx is done, then
// shuts them down gracefully.
func (a *App) Run(ctx context.Context, serveAPI, runWorkers bool) error {
	g, ctx := errgroup.WithContext(ctx)

	if runWorkers {
		locker, err := a.Locker()
		if err != nil {
			return err
		}
		stages, err := a.Stages()
		if err != nil {
			return err
		}
		if err := locker.Start(); err != nil {
			return errors.Wrap(err, "starting lease heartbeat")
		}
		defer locker.Stop()

		o := pipeline.NewOrchestrator(a.Config.Workers, a.Store, locker, a.Emitter, a.Logger, stages...)
		o.Start(context.WithoutCancel(ctx))
		g.Go(func() error {
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*a.Config.Locks.TTL)
			defer cancel()
			return o.Stop(stopCtx)
		})
	}

	if serveAPI {
		r, err := a.Router()
		if err != nil {
			return err
		}
		srv := r.Server(a.Config.GetServerAddr(), a.Config.Server.ReadTimeout, a.Config.Server.WriteTimeout)
		g.Go(func() error {
			a.Logger.Info("api listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "serving api")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
