package clogs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/clogs/internal/auth"
	"github.com/loykin/clogs/internal/clock"
	"github.com/loykin/clogs/internal/config"
	"github.com/loykin/clogs/internal/history"
	hfactory "github.com/loykin/clogs/internal/history/factory"
	"github.com/loykin/clogs/internal/metrics"
	"github.com/loykin/clogs/internal/processor"
	"github.com/loykin/clogs/internal/processors"
	"github.com/loykin/clogs/internal/server"
	"github.com/loykin/clogs/internal/store"
	sfactory "github.com/loykin/clogs/internal/store/factory"
)

// Re-export the types embedders need to configure and observe a collector.

type Config = config.Config

type LoopStatus = processor.LoopStatus

type HistorySink = history.Sink

// LoadConfig reads and validates a TOML config file with CLOGS_* overrides.
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config { return config.Default() }

type options struct {
	logger   *slog.Logger
	clock    clock.Clock
	store    store.Store
	sinks    []history.Sink
	registry prometheus.Registerer
}

type Option func(*options)

// WithLogger replaces the logger built from the [log] section.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithStore uses st instead of opening [store].dsn. The App closes it on Shutdown.
func WithStore(st store.Store) Option { return func(o *options) { o.store = st } }

// WithHistorySink adds s to the sinks opened from [history].sinks.
func WithHistorySink(s history.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s) }
}

// WithRegisterer registers the metrics with r instead of the default registry.
func WithRegisterer(r prometheus.Registerer) Option { return func(o *options) { o.registry = r } }

func withClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// App is a fully wired collector: store, processors, scheduler and HTTP API.
type App struct {
	cfg       Config
	logger    *slog.Logger
	logCloser io.Closer
	raw       store.Store
	events    *history.Fanout
	registry  *processor.Registry
	scheduler *processor.Scheduler
	router    *server.Router
}

// New opens the store, loads the enabled processors and builds the router.
// Processor loops do not run until Start.
func New(ctx context.Context, cfg Config, opts ...Option) (*App, error) {
	o := options{clock: clock.Real(), registry: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	authn, err := auth.New(cfg.Server.Auth)
	if err != nil {
		return nil, fmt.Errorf("server auth: %w", err)
	}
	a := &App{cfg: cfg, logger: o.logger}
	if a.logger == nil {
		a.logger, a.logCloser = cfg.Log.NewSloggerTo(os.Stderr, "clogs")
	}

	raw := o.store
	if raw == nil {
		if raw, err = sfactory.New(cfg.Store); err != nil {
			a.closeLog()
			return nil, fmt.Errorf("open store: %w", err)
		}
	}
	a.raw = raw
	if err := raw.EnsureSchema(ctx); err != nil {
		_ = a.close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	sinks, err := hfactory.NewSinks(cfg.History.Sinks)
	if err != nil {
		_ = a.close()
		return nil, fmt.Errorf("history sinks: %w", err)
	}
	a.events = history.NewFanout(a.logger, append(sinks, o.sinks...)...)

	routerOpts := []server.Option{server.WithLogger(a.logger), server.WithClock(o.clock), server.WithAuth(authn)}
	if cfg.Metrics.Enabled {
		if err := metrics.Register(o.registry); err != nil {
			_ = a.close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		h := metrics.Handler()
		if g, ok := o.registry.(prometheus.Gatherer); ok {
			h = metrics.HandlerFor(g)
		}
		routerOpts = append(routerOpts, server.WithMetrics(cfg.Metrics.Path, h))
	}

	a.registry = processor.NewRegistry(a.logger)
	st := processor.NewInterceptor(a.registry, a.logger).Wrap(raw)
	a.scheduler = processor.NewScheduler(a.registry,
		processor.WithLogger(a.logger),
		processor.WithClock(o.clock),
		processor.WithMinSleep(cfg.Processors.MinSleep),
	)
	a.router = server.NewRouter(st, cfg.Server.BasePath, append(routerOpts, server.WithScheduler(a.scheduler))...)

	env := processor.Env{
		Store:  st,
		Logger: a.logger,
		Clock:  o.clock,
		Routes: a.router.ProcessorRoutes(),
	}
	if a.events.Len() > 0 {
		env.Events = a.events
	}
	loaded := a.registry.LoadAll(ctx, processors.Catalog(cfg.Processors), env)
	a.logger.Info("processors loaded", "count", len(loaded), "store", storeKind(cfg.Store.DSN, o.store != nil))
	return a, nil
}

// Handler serves the collection, web and processor APIs under [server].base_path.
func (a *App) Handler() http.Handler { return a.router.Handler() }

// Logger is the logger the App writes to.
func (a *App) Logger() *slog.Logger { return a.logger }

// Status reports every processor loop.
func (a *App) Status() []LoopStatus { return a.scheduler.Status() }

// Start launches the processor loops. They stop when ctx is cancelled or on Shutdown.
func (a *App) Start(ctx context.Context) error { return a.scheduler.Start(ctx) }

// Run starts the processor loops and serves HTTP on [server].listen until ctx
// is cancelled, then shuts everything down within [server].shutdown_timeout.
func (a *App) Run(ctx context.Context) error {
	srv, err := server.NewServer(a.cfg.Server, a.Handler())
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe(srv) }()
	proto := "http"
	if srv.TLSConfig != nil {
		proto = "https"
	}
	a.logger.Info("clogs listening", "addr", a.cfg.Server.Listen, "proto", proto, "base_path", a.cfg.Server.BasePath)

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	a.logger.Info("shutting down")
	return errors.Join(serveErr, srv.Shutdown(sctx), a.Shutdown(sctx))
}

// Shutdown stops the processor loops, runs every OnShutdown hook and closes
// the history sinks and the store.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.scheduler.Shutdown(ctx)
	return errors.Join(err, a.close())
}

func (a *App) close() error {
	var errs []error
	if a.events != nil {
		errs = append(errs, a.events.Close())
		a.events = nil
	}
	if a.raw != nil {
		errs = append(errs, a.raw.Close())
		a.raw = nil
	}
	a.closeLog()
	return errors.Join(errs...)
}

func (a *App) closeLog() {
	if a.logCloser != nil {
		_ = a.logCloser.Close()
		a.logCloser = nil
	}
}

func storeKind(dsn string, custom bool) string {
	if custom {
		return "custom"
	}
	if scheme, _, ok := strings.Cut(dsn, "://"); ok {
		return scheme
	}
	return "sqlite"
}
