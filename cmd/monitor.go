package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/linkd/internal/journal"
	"grimm.is/linkd/internal/metrics"
	"grimm.is/linkd/internal/platform"
)

const (
	defaultPollWait        = time.Second
	defaultCollectInterval = 15 * time.Second
	pruneInterval          = time.Hour
)

// MonitorOptions configures RunMonitor.
type MonitorOptions struct {
	// MetricsListen serves /metrics from Gatherer when set.
	MetricsListen string
	Gatherer      prometheus.Gatherer

	// JournalPath records every published event when set.
	JournalPath string
	Retention   time.Duration

	// PollWait bounds each wait for kernel notifications.
	PollWait time.Duration

	// Count stops the monitor after that many events; 0 runs until ctx is done.
	Count int
}

// RunMonitor prints link events as they happen until ctx is cancelled.
func RunMonitor(ctx context.Context, s *Session, out io.Writer, opts MonitorOptions) error {
	if opts.PollWait <= 0 {
		opts.PollWait = defaultPollWait
	}
	log := s.Logger.WithComponent("monitor")

	if opts.JournalPath != "" {
		store, err := journal.Open(journal.Options{Path: opts.JournalPath, Retention: opts.Retention})
		if err != nil {
			return err
		}
		defer store.Close()
		s.Platform.Notifier().OnPublish(store.Hook(log))
		log.Info("journaling link events", "path", opts.JournalPath, "session", store.Session())
		// Registered after Close so the pruner is gone before the store is.
		defer startPruner(ctx, store, pruneInterval, log.Warn)()
	}

	if opts.MetricsListen != "" {
		stop, err := serveMetrics(ctx, s, opts)
		if err != nil {
			return err
		}
		defer stop()
	}

	sub := s.Platform.Subscribe(0)
	defer sub.Close()

	seen := 0
	for {
		if _, err := s.Platform.Process(ctx, opts.PollWait); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for {
			e, ok := sub.TryNext()
			if !ok {
				break
			}
			Printer.Fprintf(out, "%s\n", FormatEvent(e))
			seen++
			if opts.Count > 0 && seen >= opts.Count {
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// FormatEvent renders one event as a single line.
func FormatEvent(e platform.Event) string {
	return fmt.Sprintf("[%d] %s %s %s", e.Seq, e.Time.Format(time.RFC3339Nano), e.Kind, e.Link)
}

// startPruner prunes the journal now and every interval until the returned
// stop function is called or ctx ends. stop waits for the pruner to exit.
func startPruner(ctx context.Context, store *journal.Store, interval time.Duration, warn func(string, ...any)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if _, err := store.Prune(); err != nil {
				warn("journal prune failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// serveMetrics starts the promhttp endpoint and a Collector fed from the
// platform cache. The returned function shuts both down.
func serveMetrics(ctx context.Context, s *Session, opts MonitorOptions) (func(), error) {
	if opts.Gatherer == nil {
		return nil, errors.New("metrics endpoint needs a registry")
	}
	ln, err := net.Listen("tcp", opts.MetricsListen)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", opts.MetricsListen, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("metrics server failed", "error", err)
		}
	}()
	s.Logger.Info("serving metrics", "addr", ln.Addr().String())

	collector := metrics.NewCollector(s.Metrics, LinkStates(s.Platform), s.Logger.WithComponent("metrics"), defaultCollectInterval)
	collector.Start()

	return func() {
		collector.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}, nil
}

// LinkStates adapts the platform cache to a metrics.SourceFunc.
func LinkStates(p *platform.Platform) metrics.SourceFunc {
	return func() []metrics.LinkState {
		links := p.Cache().All()
		states := make([]metrics.LinkState, 0, len(links))
		for _, l := range links {
			states = append(states, metrics.LinkState{
				Name:      l.Name,
				Type:      l.Type.String(),
				Up:        l.Up,
				Connected: l.Connected,
				Slaves:    len(l.Slaves),
				Master:    l.Type.IsAggregating(),
			})
		}
		return states
	}
}
