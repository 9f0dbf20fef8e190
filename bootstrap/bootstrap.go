// Package bootstrap wires all dependencies and starts the application.
//
// The model file is parsed into an entity data model, the default
// controllers are bound by the routing conventions, and the frozen route
// table is published on the HTTP channel. A configuration reload rebuilds
// the table from scratch and publishes it in one step; requests in flight
// finish on the previous table.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/odatagate/adapters/metrics"
	"github.com/artpar/odatagate/config"
	httpchannel "github.com/artpar/odatagate/core/channel/http"
	"github.com/artpar/odatagate/core/controller"
	"github.com/artpar/odatagate/core/convention"
	"github.com/artpar/odatagate/core/edm"
	"github.com/artpar/odatagate/core/selflink"
	"github.com/artpar/odatagate/core/serializer"
	"github.com/artpar/odatagate/core/storage"
	"github.com/artpar/odatagate/pkg/logging"
)

// App represents the running application.
type App struct {
	Logger  zerolog.Logger
	Store   *storage.SQLiteStore
	Metrics *metrics.Collector
	Channel *httpchannel.Channel

	holder   *config.Holder
	logs     *logging.Logger
	location *time.Location
	links    *selflink.Registry

	operations map[string]controller.OperationFunc
	keyTypes   []keyType

	// applyMu serializes builds; mu guards the published model and table.
	applyMu sync.Mutex
	mu      sync.RWMutex
	model   *edm.Model
	table   *convention.Table
}

type keyType struct {
	entityType, property string
	typ                  reflect.Type
}

// Option configures an App.
type Option func(*options)

type options struct {
	logger     *zerolog.Logger
	registry   *prometheus.Registry
	links      *selflink.Registry
	operations map[string]controller.OperationFunc
	keyTypes   []keyType
}

// WithLogger replaces the logger built from the logging configuration.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// WithRegistry registers metrics with reg instead of the default registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithLinks supplies custom self-link builders. The registry is frozen
// when the application is created.
func WithLinks(links *selflink.Registry) Option {
	return func(o *options) { o.links = links }
}

// WithOperation registers the implementation of a bound operation.
func WithOperation(name string, fn controller.OperationFunc) Option {
	return func(o *options) { o.operations[name] = fn }
}

// WithKeyType declares the host type of a key property.
func WithKeyType(entityType, property string, typ reflect.Type) Option {
	return func(o *options) {
		o.keyTypes = append(o.keyTypes, keyType{entityType, property, typ})
	}
}

// New creates the application from cfg and publishes its first route table.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	o := options{operations: make(map[string]controller.OperationFunc)}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		logger zerolog.Logger
		logs   *logging.Logger
	)
	if o.logger != nil {
		logger = *o.logger
	} else {
		root, err := logging.New(loggingConfig(cfg.Logging))
		if err != nil {
			return nil, fmt.Errorf("init logging: %w", err)
		}
		logger, logs = root.Logger, root
	}
	logger.Info().Msg("initializing odatagate")

	a := &App{
		Logger:     logger,
		logs:       logs,
		location:   cfg.Location(),
		links:      o.links,
		operations: o.operations,
		keyTypes:   o.keyTypes,
	}
	if a.links == nil {
		a.links = selflink.NewRegistry()
	}
	a.links.Freeze()

	store, err := storage.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	a.Store = store
	logger.Info().Str("dsn", cfg.Database.DSN).Msg("database initialized")

	channelOpts := []httpchannel.Option{
		httpchannel.WithLogger(logger),
		httpchannel.WithLocation(a.location),
		httpchannel.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.RequestTimeout),
	}
	if cfg.Metrics.On() {
		if o.registry != nil {
			a.Metrics = metrics.NewWithRegistry(o.registry)
			channelOpts = append(channelOpts, httpchannel.WithMetrics(a.Metrics, promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})))
		} else {
			a.Metrics = metrics.New()
			channelOpts = append(channelOpts, httpchannel.WithMetrics(a.Metrics, promhttp.Handler()))
		}
		channelOpts = append(channelOpts, httpchannel.WithMetricsPath(cfg.Metrics.Path))
		logger.Info().Msg("prometheus metrics enabled")
	}
	a.Channel = httpchannel.New(cfg.Addr(), channelOpts...)

	if err := a.Apply(cfg); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

// NewWithHotReload loads the configuration at path and rebuilds the route
// table whenever the file changes or the process receives SIGHUP.
func NewWithHotReload(path string, opts ...Option) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	var holderOpts []config.HolderOption
	if a.Metrics != nil {
		holderOpts = append(holderOpts, config.WithReloadRecorder(a.Metrics))
	}
	holder, err := config.NewHolder(path, a.Logger, holderOpts...)
	if err != nil {
		a.Shutdown()
		return nil, err
	}
	holder.OnChange(a.Apply)
	a.holder = holder
	return a, nil
}

// Apply builds a route table from cfg and publishes it. On error the
// previous table stays published.
func (a *App) Apply(cfg *config.Config) error {
	a.applyMu.Lock()
	defer a.applyMu.Unlock()

	model, err := edm.ParseFile(cfg.Model.Path)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}

	factory := a.factory(model, cfg)
	if err := factory.EnsureTables(context.Background()); err != nil {
		return fmt.Errorf("ensure tables: %w", err)
	}

	var rec convention.Recorder
	if a.Metrics != nil {
		rec = a.Metrics
	}
	table, err := buildTable(model, factory, cfg, a.Logger, rec)
	if err != nil {
		return err
	}
	if err := a.Channel.Publish(table); err != nil {
		return err
	}
	if err := logging.SetLevel(cfg.Logging.Level); err != nil {
		a.Logger.Warn().Err(err).Msg("keeping previous log level")
	}

	a.mu.Lock()
	a.model = model
	a.table = table
	a.mu.Unlock()
	return nil
}

func (a *App) factory(model *edm.Model, cfg *config.Config) *controller.Factory {
	ser := serializer.New(serializer.Config{
		Links:    a.links,
		Location: a.location,
		Logger:   a.Logger,
	})
	opts := []controller.Option{
		controller.WithLogger(a.Logger),
		controller.WithKeyPrefix(cfg.Routing.KeyPrefix),
		controller.WithLocation(a.location),
	}
	for name, fn := range a.operations {
		opts = append(opts, controller.WithOperation(name, fn))
	}
	for _, kt := range a.keyTypes {
		opts = append(opts, controller.WithKeyType(kt.entityType, kt.property, kt.typ))
	}
	return controller.New(model, a.Store, ser, opts...)
}

// Routes binds the default controllers of the model named by cfg without
// opening a database. The handlers of the returned table must not be
// called.
func Routes(cfg *config.Config) (*convention.Table, error) {
	model, err := edm.ParseFile(cfg.Model.Path)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	factory := controller.New(model, nil, serializer.New(serializer.Config{}),
		controller.WithKeyPrefix(cfg.Routing.KeyPrefix))
	return buildTable(model, factory, cfg, zerolog.Nop(), nil)
}

func buildTable(model *edm.Model, factory *controller.Factory, cfg *config.Config, logger zerolog.Logger, rec convention.Recorder) (*convention.Table, error) {
	opts := []convention.Option{
		convention.WithPrefix(cfg.Routing.Prefix),
		convention.WithKeyPrefix(cfg.Routing.KeyPrefix),
		convention.WithLogger(logger),
	}
	if rec != nil {
		opts = append(opts, convention.WithRecorder(rec))
	}
	table, err := convention.NewBuilder(model, opts...).Build(factory.Application())
	if err != nil {
		return nil, fmt.Errorf("build routes: %w", err)
	}
	return table, nil
}

// Table returns the published route table.
func (a *App) Table() *convention.Table {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.table
}

// Model returns the model behind the published route table.
func (a *App) Model() *edm.Model {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model
}

// Handler returns the HTTP handler serving the published table.
func (a *App) Handler() http.Handler {
	return a.Channel
}

// Reload rereads the configuration file. It fails when the application
// was not created with NewWithHotReload.
func (a *App) Reload() error {
	if a.holder == nil {
		return errors.New("hot reload is not enabled")
	}
	return a.holder.Reload()
}

// Run starts the HTTP server and blocks until ctx is done or the process
// is interrupted.
func (a *App) Run(ctx context.Context) error {
	if a.holder != nil {
		if err := a.holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch disabled")
		}
		a.holder.WatchSignals()
	}

	if err := a.Channel.Start(ctx); err != nil {
		return fmt.Errorf("start http: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-ctx.Done():
		a.Logger.Info().Msg("context cancelled, shutting down")
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}

	if a.Channel != nil {
		if err := a.Channel.Stop(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func loggingConfig(c config.LoggingConfig) logging.Config {
	return logging.Config{
		Level:      c.Level,
		Format:     c.Format,
		File:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}
