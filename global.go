package exporter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/nikiz24/registry-exporter/registry"
)

// Global exporter instance
var (
	globalMu       sync.Mutex
	globalExporter *Exporter
	globalCancel   context.CancelFunc
	globalDone     chan error
)

var errNotInitialized = errors.New("exporter is not initialized")

// Init creates the global exporter and runs it in the background until
// Shutdown. Calling Init again before Shutdown is an error.
func Init(cfg Config, logger *zap.Logger, opts ...Option) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalExporter != nil {
		return errors.New("exporter is already initialized")
	}

	e, err := New(cfg, logger, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	globalExporter, globalCancel, globalDone = e, cancel, done

	if logger != nil {
		logger.Info("Exporter initialized",
			zap.String("namespace", cfg.Namespace),
			zap.String("listen_address", cfg.ListenAddress))
	}
	return nil
}

// Shutdown stops the global exporter and waits for it to finish.
func Shutdown() error {
	globalMu.Lock()
	cancel, done := globalCancel, globalDone
	globalExporter, globalCancel, globalDone = nil, nil, nil
	globalMu.Unlock()

	if cancel == nil {
		return errNotInitialized
	}
	cancel()
	return <-done
}

func current() (*Exporter, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalExporter == nil {
		return nil, errNotInitialized
	}
	return globalExporter, nil
}

// Default returns the global exporter, or nil before Init.
func Default() *Exporter {
	e, _ := current()
	return e
}

// Register registers object under name, e.g. "app:type=Pool,name=db".
func Register(name string, object any) error {
	e, err := current()
	if err != nil {
		return err
	}
	n, err := registry.ParseObjectName(name)
	if err != nil {
		return err
	}
	return e.Registry().Register(n, object)
}

// Unregister removes the object registered under name.
func Unregister(name string) error {
	e, err := current()
	if err != nil {
		return err
	}
	n, err := registry.ParseObjectName(name)
	if err != nil {
		return err
	}
	return e.Registry().Unregister(n)
}

func registerInstrument[T any](typ, name string, obj T, labels []string) (T, error) {
	e, err := current()
	if err != nil {
		return obj, err
	}
	n, err := InstrumentName(e.cfg.InstrumentDomain, typ, name, labels...)
	if err != nil {
		return obj, err
	}
	if err := e.Registry().Register(n, obj); err != nil {
		return obj, err
	}
	return obj, nil
}

// NewCounter registers a Counter exposed as family <namespace>_<name>.
// labels are key/value pairs.
func NewCounter(name string, labels ...string) (*Counter, error) {
	return registerInstrument(CounterType, name, &Counter{}, labels)
}

// NewGauge registers a Gauge exposed as family <namespace>_<name>.
func NewGauge(name string, labels ...string) (*Gauge, error) {
	return registerInstrument(GaugeType, name, &Gauge{}, labels)
}

// NewHistogramWithBuckets registers a Histogram exposed as family
// <namespace>_<name>. Without buckets DefaultBuckets is used.
func NewHistogramWithBuckets(name string, buckets []float64, labels ...string) (*Histogram, error) {
	return registerInstrument(HistogramType, name, NewHistogram(buckets...), labels)
}

// HealthCheck performs a health check on the global exporter.
func HealthCheck() error {
	e, err := current()
	if err != nil {
		return err
	}
	if ok, reason := e.Healthy(); !ok {
		return fmt.Errorf("exporter unhealthy: %s", reason)
	}
	return nil
}

// GetStatus returns the status of the global exporter. Before Init the
// zero Status is returned.
func GetStatus() Status {
	e, err := current()
	if err != nil {
		return Status{}
	}
	return e.Status()
}

// ForceWrite immediately writes all current metrics to the remote endpoint.
func ForceWrite(ctx context.Context) error {
	e, err := current()
	if err != nil {
		return err
	}
	return e.Push(ctx)
}
