package exporter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nikiz24/registry-exporter/collector"
	"github.com/nikiz24/registry-exporter/registry"
	"github.com/nikiz24/registry-exporter/remotewrite"
	"github.com/nikiz24/registry-exporter/server"
)

// backlogLimit is the number of queued registry events above which the
// exporter reports itself unhealthy.
const backlogLimit = 10000

// Exporter connects a managed-object registry to the collector store and
// serves the store over HTTP, optionally pushing it to a remote-write
// endpoint as well.
type Exporter struct {
	cfg      Config
	logger   *zap.Logger
	registry *registry.Registry
	store    *collector.Store
	globals  *collector.GlobalLabels
	handler  *server.Handler
	pusher   *remotewrite.Pusher
	self     *prometheus.Registry
	pollers  []*registry.Poller
	listener net.Listener

	started atomic.Bool
	running atomic.Bool
}

// ErrAlreadyStarted is returned by a second call to Run. The store keeps
// its families after Run returns and is never subscribed twice.
var ErrAlreadyStarted = errors.New("exporter has already been started")

type options struct {
	factories []collector.Factory
	sources   []polledSource
	topology  collector.Topology
	registry  *registry.Registry
	pushOpts  []remotewrite.Option
	listener  net.Listener
}

type polledSource struct {
	source   registry.Source
	interval time.Duration
}

// Option configures an Exporter.
type Option func(*options)

// WithFactories adds collector factories. They are tried before the
// built-in instrument and runtime factories.
func WithFactories(factories ...collector.Factory) Option {
	return func(o *options) { o.factories = append(o.factories, factories...) }
}

// WithPolledSource feeds the store from a registry that can only be listed,
// re-listing it every interval.
func WithPolledSource(source registry.Source, interval time.Duration) Option {
	return func(o *options) { o.sources = append(o.sources, polledSource{source, interval}) }
}

// WithTopology replaces the static topology from the configuration as the
// source of global label values.
func WithTopology(t collector.Topology) Option {
	return func(o *options) { o.topology = t }
}

// WithRegistry uses an existing in-process registry.
func WithRegistry(r *registry.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithRemoteWriteOptions passes options to the remote-write pusher.
func WithRemoteWriteOptions(opts ...remotewrite.Option) Option {
	return func(o *options) { o.pushOpts = append(o.pushOpts, opts...) }
}

// WithListener serves HTTP on l instead of listening on cfg.ListenAddress.
func WithListener(l net.Listener) Option {
	return func(o *options) { o.listener = l }
}

// New validates cfg and builds an Exporter. Nothing runs until Run.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Exporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	enabled, _ := cfg.enabledGlobalLabels()
	exclusions, _ := collector.ParseExclusions(cfg.Exclusions)
	policy, _ := server.ParseHelpPolicy(cfg.HelpPolicy)

	topology := o.topology
	if topology == nil {
		topology = cfg.Topology
	}
	globals := collector.NewGlobalLabels(cfg.Namespace, topology, enabled...)

	self := prometheus.NewRegistry()
	self.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	chain := collector.Chain(o.factories).
		Append(InstrumentFactories(cfg.InstrumentDomain, cfg.Namespace)...).
		Append(RuntimeFactories(cfg.Namespace)...)

	storeOpts := []collector.StoreOption{
		collector.WithLogger(logger.Named("store")),
		collector.WithGlobalLabels(globals),
		collector.WithExclusions(exclusions),
		collector.WithRegistrationDelay(cfg.RegistrationDelay),
		collector.WithMetrics(collector.NewMetrics(cfg.Namespace, self)),
	}
	if cfg.EnableCollectorTiming {
		storeOpts = append(storeOpts, collector.WithCollectorTiming(cfg.Namespace))
	}
	store := collector.NewStore(chain, storeOpts...)

	reg := o.registry
	if reg == nil {
		reg = registry.New(logger.Named("registry"))
	}

	e := &Exporter{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		store:    store,
		globals:  globals,
		self:     self,
		listener: o.listener,
	}

	e.handler = server.New(store,
		server.WithLogger(logger.Named("http")),
		server.WithHelpPolicy(policy),
		server.WithHealth(e.Healthy),
		server.WithGatherer(self),
		server.WithMetrics(server.NewMetrics(cfg.Namespace, self)),
	)

	for _, ps := range o.sources {
		e.pollers = append(e.pollers, registry.NewPoller(ps.source, store, ps.interval, logger.Named("poller")))
	}

	if cfg.RemoteWrite.URL != "" {
		pusher, err := remotewrite.NewPusher(cfg.RemoteWrite, store, logger.Named("remote_write"), o.pushOpts...)
		if err != nil {
			return nil, err
		}
		e.pusher = pusher
	}

	return e, nil
}

// Registry returns the in-process registry feeding the store.
func (e *Exporter) Registry() *registry.Registry { return e.registry }

// Store returns the collector store.
func (e *Exporter) Store() *collector.Store { return e.store }

// Handler returns the HTTP surface.
func (e *Exporter) Handler() http.Handler { return e.handler }

// SetTopology replaces the source of global label values.
func (e *Exporter) SetTopology(t collector.Topology) { e.globals.SetTopology(t) }

// Push writes the current families to the remote-write endpoint once.
func (e *Exporter) Push(ctx context.Context) error {
	if e.pusher == nil {
		return errors.New("remote write is not configured")
	}
	return e.pusher.Push(ctx)
}

// Run starts the store writer, subscribes it to the registry and runs the
// HTTP server, pollers and pusher until ctx is done or one of them fails.
// An Exporter runs once.
func (e *Exporter) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	e.running.Store(true)
	defer e.running.Store(false)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.store.Start(ctx) })

	cancel := e.registry.Subscribe(e.store)
	defer cancel()

	if e.cfg.EnableRuntimeObjects {
		unregister, err := RegisterRuntimeObjects(e.registry, e.cfg.RuntimeRefreshInterval)
		if err != nil {
			e.logger.Warn("Failed to register runtime objects", zap.Error(err))
		} else {
			defer func() {
				if err := unregister(); err != nil {
					e.logger.Debug("Failed to unregister runtime objects", zap.Error(err))
				}
			}()
		}
	}

	for _, p := range e.pollers {
		g.Go(func() error { return p.Run(ctx) })
	}

	if e.pusher != nil {
		g.Go(func() error { return e.pusher.Run(ctx) })
	}

	if e.listener != nil || e.cfg.ListenAddress != "" {
		g.Go(func() error { return e.serve(ctx) })
	}

	e.logger.Info("Exporter started",
		zap.String("listen_address", e.cfg.ListenAddress),
		zap.String("namespace", e.cfg.Namespace),
		zap.Bool("remote_write", e.pusher != nil),
		zap.Int("pollers", len(e.pollers)))

	err := g.Wait()
	e.logger.Info("Exporter stopped")
	return err
}

func (e *Exporter) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              e.cfg.ListenAddress,
		Handler:           e.handler,
		ReadHeaderTimeout: e.cfg.ReadHeaderTimeout,
		WriteTimeout:      e.cfg.WriteTimeout,
		IdleTimeout:       e.cfg.IdleTimeout,
		ErrorLog:          zap.NewStdLog(e.logger.Named("http")),
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if e.listener != nil {
			e.logger.Info("HTTP server listening", zap.Stringer("addr", e.listener.Addr()))
			err = srv.Serve(e.listener)
		} else {
			e.logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	return multierr.Append(err, <-errCh)
}

// Healthy reports whether the store is being fed and keeps up with the
// registry.
func (e *Exporter) Healthy() (bool, string) {
	if !e.running.Load() {
		return false, "exporter not running"
	}
	if n := e.store.Pending(); n > backlogLimit {
		return false, fmt.Sprintf("%d registry events pending", n)
	}
	return true, ""
}

// Status summarizes the exporter state.
type Status struct {
	Running   bool           `json:"running"`
	Objects   int            `json:"objects"`
	Families  int            `json:"families"`
	Pending   int            `json:"pending"`
	Unmatched int64          `json:"unmatched"`
	Failures  map[string]int `json:"failures,omitempty"`
}

// Status returns the current exporter state.
func (e *Exporter) Status() Status {
	return Status{
		Running:   e.running.Load(),
		Objects:   e.registry.Len(),
		Families:  e.store.Len(),
		Pending:   e.store.Pending(),
		Unmatched: e.store.Unmatched(),
		Failures:  e.store.Failures(),
	}
}
