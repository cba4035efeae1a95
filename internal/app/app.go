// Package app assembles the resolver from configuration: canonical store, lock, cache, post-run
// sinks and the reconciler that ties them together.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/internal/repositories/identitystore"
	"github.com/Ramsey-B/sage/internal/repositories/resolutionrun"
	"github.com/Ramsey-B/sage/migrations"
	"github.com/Ramsey-B/sage/pkg/database"
	"github.com/Ramsey-B/sage/pkg/events"
	"github.com/Ramsey-B/sage/pkg/graph"
	"github.com/Ramsey-B/sage/pkg/identity"
	"github.com/Ramsey-B/sage/pkg/inject"
	"github.com/Ramsey-B/sage/pkg/kafka"
	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/reconcile"
	"github.com/Ramsey-B/sage/pkg/redis"
)

const (
	LockBackendFile  = "file"
	LockBackendRedis = "redis"
)

// App is one dataset's resolver and everything it writes to
type App struct {
	Config     *config.Config
	Logger     ectologger.Logger
	Policy     *config.Policy
	DB         database.DB
	Store      *identitystore.Repository
	RunLog     *resolutionrun.Repository
	Locker     identity.Locker
	Lookup     *identity.Lookup
	Reconciler *reconcile.Reconciler
	Registry   *prometheus.Registry
	// Container serves the app's services to request handlers
	Container ectocontainer.DIContainer

	Redis    *redis.Client
	Graph    *graph.Client
	Producer *kafka.Producer

	closers []func() error
}

// Option adjusts how New assembles the app
type Option func(*options)

type options struct {
	withSinks bool
	migrate   bool
	readOnly  bool
}

// WithoutSinks skips the post-run publishers; used by read-only commands
func WithoutSinks() Option {
	return func(o *options) { o.withSinks = false }
}

// WithoutMigrations skips schema migration on open
func WithoutMigrations() Option {
	return func(o *options) { o.migrate = false }
}

// ReadOnly leaves the reconciler out of the container so the API rejects batch submissions
func ReadOnly() Option {
	return func(o *options) { o.readOnly = true }
}

// New opens the canonical store and wires the reconciler. The caller owns the returned app and
// must Close it.
func New(ctx context.Context, cfg *config.Config, logger ectologger.Logger, opts ...Option) (*App, error) {
	o := options{withSinks: true, migrate: true}
	for _, opt := range opts {
		opt(&o)
	}

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Policy:   policy,
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := a.openDatabase(ctx, o.migrate); err != nil {
		return nil, a.fail(err)
	}

	var cache identity.Cache
	if cfg.RedisEnabled || cfg.LockBackend == LockBackendRedis {
		client, err := redis.NewClient(redis.ConfigFrom(cfg), logger)
		if err != nil {
			return nil, a.fail(err)
		}
		a.Redis = client
		a.closers = append(a.closers, client.Close)
	}
	if cfg.RedisEnabled {
		cache = redis.NewEntityCache(a.Redis, cfg.DatasetKey, cfg.RedisCacheTTL)
	}

	switch cfg.LockBackend {
	case LockBackendFile, "":
		a.Locker = identity.NewFileLocker(cfg.LockDir)
	case LockBackendRedis:
		a.Locker = redis.NewLocker(a.Redis, "")
	default:
		return nil, a.fail(&models.ConfigurationError{Problems: []string{fmt.Sprintf("unknown lock backend %q", cfg.LockBackend)}})
	}

	a.Lookup = identity.NewLookup(logger, a.Store, cache)

	reconcileOpts := []reconcile.Option{
		reconcile.WithWorkers(cfg.ScoringWorkers),
		reconcile.WithLockTTL(cfg.LockTTL),
		reconcile.WithSinks(metrics.NewRecorder(a.Registry)),
	}
	if o.withSinks {
		sinks, err := a.sinks(cache)
		if err != nil {
			return nil, a.fail(err)
		}
		reconcileOpts = append(reconcileOpts, reconcile.WithSinks(sinks...))
	}
	a.Reconciler = reconcile.New(cfg.DatasetKey, a.Store, a.RunLog, a.Locker, policy, logger, reconcileOpts...)

	if err := a.registerServices(o.readOnly); err != nil {
		return nil, a.fail(err)
	}
	return a, nil
}

// registerServices fills the app's container with what the routes resolve per request
func (a *App) registerServices(readOnly bool) error {
	c, err := inject.NewContainer(a.Logger)
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	a.Container = c

	errs := []error{
		ectoinject.RegisterInstance[*config.Config](c, a.Config),
		ectoinject.RegisterInstance[*config.Policy](c, a.Policy),
		ectoinject.RegisterInstance[ectologger.Logger](c, a.Logger),
		ectoinject.RegisterInstance[identity.Store](c, a.Store),
		ectoinject.RegisterInstance[identity.RunLog](c, a.RunLog),
		ectoinject.RegisterInstance[*identity.Lookup](c, a.Lookup),
		ectoinject.RegisterInstance[*validator.Validate](c, validator.New()),
	}
	if !readOnly {
		errs = append(errs, ectoinject.RegisterInstance[reconcile.Runner](c, a.Reconciler))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("register services: %w", err)
	}
	return nil
}

func (a *App) openDatabase(ctx context.Context, migrate bool) error {
	cfg := a.Config
	db, err := database.Open(ctx, database.Options{
		Driver:          cfg.DatabaseDriver,
		DSN:             cfg.DatabaseDSN(),
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, a.Logger)
	if err != nil {
		return err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	if migrate {
		if err := Migrate(cfg, db, a.Logger); err != nil {
			return err
		}
	}

	a.Store = identitystore.NewRepository(db, a.Logger, cfg.DatasetKey)
	a.RunLog = resolutionrun.NewRepository(db, a.Logger, cfg.DatasetKey)
	return nil
}

// sinks builds the optional publishers in the order they run after a commit
func (a *App) sinks(cache identity.Cache) ([]reconcile.Sink, error) {
	cfg := a.Config
	var sinks []reconcile.Sink

	if entityCache, ok := cache.(*redis.EntityCache); ok {
		sinks = append(sinks, entityCache)
	}
	if cfg.KafkaProducerEnabled {
		a.Producer = kafka.NewProducer(kafka.ProducerConfigFrom(cfg), a.Logger)
		a.closers = append(a.closers, a.Producer.Close)
		sinks = append(sinks, events.NewEmitter(a.Producer, a.Logger))
	}
	if cfg.GraphEnabled {
		client, err := graph.NewClient(graph.ConfigFrom(cfg), a.Logger)
		if err != nil {
			return nil, err
		}
		a.Graph = client
		a.closers = append(a.closers, func() error {
			return client.Stop(context.Background())
		})
		sinks = append(sinks, graph.NewProjector(client, a.Logger))
	}
	return sinks, nil
}

// Migrate applies the embedded schema for the configured driver
func Migrate(cfg *config.Config, db database.DB, logger ectologger.Logger) error {
	svc := database.NewMigrationService(logger, &database.MigrationConfig{
		Source:       migrations.FS,
		Dir:          db.DriverName(),
		Version:      uint(max(cfg.DatabaseMigrationVersion, 0)),
		Force:        cfg.DatabaseMigrationForce,
		AutoRollback: cfg.DatabaseMigrationAutoRollback,
	})
	return svc.Migrate(db)
}

// Ping checks the canonical store
func (a *App) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return a.DB.PingContext(ctx)
}

// Close releases every connection the app opened, last opened first
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) fail(err error) error {
	if closeErr := a.Close(); closeErr != nil {
		a.Logger.WithError(closeErr).Warn("Failed to close partially opened app")
	}
	return err
}
