// Package remotewrite pushes the exporter's families to a Prometheus
// remote-write endpoint on an interval.
package remotewrite

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/eryajf/promwrite"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nikiz24/registry-exporter/metric"
)

const (
	DefaultInterval = 15 * time.Second
	DefaultTimeout  = 15 * time.Second
)

// Config configures a Pusher.
type Config struct {
	URL      string            `yaml:"url"`
	Interval time.Duration     `yaml:"interval"`
	Timeout  time.Duration     `yaml:"timeout"`
	Instance string            `yaml:"instance"`
	Labels   map[string]string `yaml:"labels"`
	DNS      DNSConfig         `yaml:"dns"`
}

// Source supplies the families and global labels to push.
type Source interface {
	Collect() iter.Seq[metric.Family]
	GlobalLabels() metric.Labels
}

// Client is the subset of *promwrite.Client used by the Pusher.
type Client interface {
	Write(ctx context.Context, req *promwrite.WriteRequest, options ...promwrite.WriteOption) (*promwrite.WriteResponse, error)
}

// ClientFactory builds a Client for a URL.
type ClientFactory func(url string) Client

func newPromwriteClient(url string) Client {
	return promwrite.NewClient(url)
}

// Pusher periodically converts the families of a Source into time series and
// writes them to the configured endpoint.
type Pusher struct {
	cfg       Config
	source    Source
	logger    *zap.Logger
	base      metric.Labels
	newClient ClientFactory
	resolver  *resolver

	mu     sync.Mutex
	client Client
}

// Option configures a Pusher.
type Option func(*Pusher)

// WithClientFactory replaces the promwrite client, e.g. in tests.
func WithClientFactory(f ClientFactory) Option {
	return func(p *Pusher) { p.newClient = f }
}

// NewPusher creates a Pusher. An "instance" label with cfg.Instance is added
// to every series along with cfg.Labels.
func NewPusher(cfg Config, source Source, logger *zap.Logger, opts ...Option) (*Pusher, error) {
	if cfg.URL == "" {
		return nil, errors.New("remote write URL cannot be empty")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote write URL: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Interval = pickDuration(cfg.Interval, DefaultInterval)
	cfg.Timeout = pickDuration(cfg.Timeout, DefaultTimeout)

	base := make(map[string]string, len(cfg.Labels)+1)
	for k, v := range cfg.Labels {
		if !metric.ValidLabelName(k) {
			return nil, fmt.Errorf("invalid remote write label name %q", k)
		}
		base[k] = v
	}
	if cfg.Instance != "" {
		base["instance"] = cfg.Instance
	}

	p := &Pusher{
		cfg:       cfg,
		source:    source,
		logger:    logger,
		base:      metric.NewLabels(base),
		newClient: newPromwriteClient,
		resolver:  newResolver(u.Hostname(), cfg.DNS, logger),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.client = p.newClient(cfg.URL)
	return p, nil
}

// Run pushes every interval until ctx is done. Failed pushes are logged and
// retried on the next tick. With DNS enabled and a host name target, the
// target is re-resolved periodically as well.
func (p *Pusher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := p.Push(ctx); err != nil {
					p.logger.Error("Failed to write metrics", zap.Error(err))
				}
			case <-ctx.Done():
				return nil
			}
		}
	})

	if p.cfg.DNS.Enable && p.resolver.host != "" && net.ParseIP(p.resolver.host) == nil {
		g.Go(func() error {
			ticker := time.NewTicker(p.resolver.cfg.RefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if p.resolver.refresh(ctx, false) {
						p.resetClient()
					}
				case <-ctx.Done():
					return nil
				}
			}
		})
	}

	return g.Wait()
}

// Push writes the current families once. On failure the target is
// re-resolved and, if that yields a fresh client, the write is retried once.
func (p *Pusher) Push(ctx context.Context) error {
	series := Convert(p.source.Collect(), p.base, p.source.GlobalLabels(), time.Now())
	if len(series) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req := &promwrite.WriteRequest{TimeSeries: series}
	_, err := p.currentClient().Write(ctx, req)
	if err == nil {
		p.logger.Debug("Wrote time series", zap.Int("series", len(series)))
		return nil
	}

	if p.resolver.refresh(ctx, true) {
		p.resetClient()
		if _, retryErr := p.currentClient().Write(ctx, req); retryErr != nil {
			return fmt.Errorf("writing time series failed after dns refresh: %w", retryErr)
		}
		return nil
	}
	return fmt.Errorf("writing time series failed: %w", err)
}

func (p *Pusher) currentClient() Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

// resetClient replaces the client so new connections use the new addresses.
func (p *Pusher) resetClient() {
	p.mu.Lock()
	p.client = p.newClient(p.cfg.URL)
	p.mu.Unlock()

	p.logger.Info("Refreshed remote write client after DNS update",
		zap.String("host", p.resolver.host), zap.Strings("ips", p.resolver.addresses()))
}
