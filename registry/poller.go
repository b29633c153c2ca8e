package registry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is how often a Poller re-lists its source.
const DefaultPollInterval = 30 * time.Second

// Poller turns a Source that can only be listed into a change feed. Each
// poll compares the new listing with the previous one by name and emits
// Unregistered for names that disappeared, then Registered for new names.
type Poller struct {
	source   Source
	listener Listener
	interval time.Duration
	logger   *zap.Logger

	current map[string]ObjectName
}

// NewPoller creates a Poller. A non-positive interval uses DefaultPollInterval.
func NewPoller(source Source, listener Listener, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		source:   source,
		listener: listener,
		interval: interval,
		logger:   logger,
		current:  make(map[string]ObjectName),
	}
}

// Run polls immediately and then every interval until ctx is done.
// Poll errors are logged and the loop continues.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx); err != nil {
			p.logger.Warn("Failed to reconcile registry snapshot", zap.Error(err))
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

// Poll runs one reconciliation. It must not be called concurrently.
func (p *Poller) Poll(ctx context.Context) error {
	objects, err := p.source.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	next := make(map[string]NamedObject, len(objects))
	for _, n := range objects {
		next[n.Name.String()] = n
	}

	removed := 0
	for key, name := range p.current {
		if _, ok := next[key]; !ok {
			p.listener.Unregistered(name)
			delete(p.current, key)
			removed++
		}
	}

	added := 0
	for _, n := range objects {
		key := n.Name.String()
		if _, ok := p.current[key]; ok {
			continue
		}
		if n.Object == nil {
			p.logger.Debug("Skipping object without a reference", zap.Stringer("object", n.Name))
			continue
		}
		p.listener.Registered(n)
		p.current[key] = n.Name
		added++
	}

	p.logger.Debug("Reconciled registry snapshot",
		zap.Int("added", added),
		zap.Int("removed", removed),
		zap.Int("total", len(p.current)),
	)
	return nil
}
