package metrics

import (
	"sync"
	"time"

	"grimm.is/linkd/internal/clock"
	"grimm.is/linkd/internal/logging"
)

// LinkState is the per-link view the Collector exports.
type LinkState struct {
	Name      string
	Type      string
	Up        bool
	Connected bool
	Slaves    int
	Master    bool
}

// SourceFunc returns the current link states. It is called from the
// Collector's goroutine and must be safe for that.
type SourceFunc func() []LinkState

// Collector periodically exports per-link gauges.
type Collector struct {
	registry *Registry
	source   SourceFunc
	logger   *logging.Logger
	interval time.Duration
	clock    clock.Clock
	stopCh   chan struct{}
	stopOnce sync.Once

	mu         sync.RWMutex
	lastUpdate time.Time
	known      map[string]string // link name -> type label
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithClock sets the clock used to stamp collection passes.
func WithClock(clk clock.Clock) CollectorOption {
	return func(c *Collector) {
		c.clock = clk
	}
}

// NewCollector creates a Collector. Start must be called to begin polling.
func NewCollector(registry *Registry, source SourceFunc, logger *logging.Logger, interval time.Duration, opts ...CollectorOption) *Collector {
	if logger == nil {
		logger = logging.WithComponent("metrics")
	}
	c := &Collector{
		registry: registry,
		source:   source,
		logger:   logger,
		interval: interval,
		clock:    &clock.RealClock{},
		stopCh:   make(chan struct{}),
		known:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins periodic collection in the background.
func (c *Collector) Start() {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.Collect()
		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop halts collection. Safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Collect performs one collection pass. Links that disappeared since the
// previous pass have their series deleted.
func (c *Collector) Collect() {
	states := c.source()

	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]string, len(states))
	for _, s := range states {
		seen[s.Name] = s.Type
		c.registry.LinkUp.WithLabelValues(s.Name, s.Type).Set(boolGauge(s.Up))
		c.registry.LinkConnected.WithLabelValues(s.Name, s.Type).Set(boolGauge(s.Connected))
		if s.Master {
			c.registry.LinkSlaves.WithLabelValues(s.Name, s.Type).Set(float64(s.Slaves))
		}
	}

	for name, typ := range c.known {
		if newTyp, ok := seen[name]; ok && newTyp == typ {
			continue
		}
		c.registry.LinkUp.DeleteLabelValues(name, typ)
		c.registry.LinkConnected.DeleteLabelValues(name, typ)
		c.registry.LinkSlaves.DeleteLabelValues(name, typ)
	}

	c.known = seen
	c.lastUpdate = c.clock.Now()
	c.logger.Debug("collected link metrics", "links", len(states))
}

// GetLastUpdate returns the time of the last collection pass.
func (c *Collector) GetLastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}
