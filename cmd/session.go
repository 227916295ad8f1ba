package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/linkd/internal/config"
	"grimm.is/linkd/internal/logging"
	"grimm.is/linkd/internal/metrics"
	"grimm.is/linkd/internal/platform"
)

// Session is an open platform plus the ambient services built from one
// configuration. Every subcommand runs against a Session.
type Session struct {
	Config   *config.Config
	Platform *platform.Platform
	Logger   *logging.Logger
	Metrics  *metrics.Registry

	// Fake is the simulated transport when the fake backend is selected.
	Fake *platform.FakeTransport
}

// ConfigPath resolves the config file path from a flag value.
func ConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(ConfigEnv); env != "" {
		return env
	}
	return DefaultConfigPath
}

// LoadConfig loads path. A missing file at the default path yields the
// built-in defaults; anywhere else it is an error.
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	if path == DefaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the process logger from the logging block and installs
// it as the default.
func NewLogger(cfg *config.LoggingConfig) (*logging.Logger, error) {
	lc := logging.DefaultConfig()
	if cfg != nil {
		level, err := logging.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		lc.Level = level
		lc.JSON = cfg.JSON
	}
	logger := logging.New(lc)
	logging.SetDefault(logger)
	return logger, nil
}

// NewTransport builds the transport selected by the platform block.
func NewTransport(cfg *config.PlatformConfig, logger *logging.Logger, reg *metrics.Registry) (platform.Transport, error) {
	switch cfg.Backend {
	case config.BackendFake:
		var opts []platform.FakeOption
		if cfg.LegacyDefaultBond {
			opts = append(opts, platform.WithLegacyDefaultBond())
		}
		return platform.NewFakeTransport(opts...), nil
	case "", config.BackendNetlink:
		t, err := platform.NewNetlinkTransport(platform.NetlinkOptions{
			Netns:      cfg.Netns,
			QueueLimit: cfg.EventQueueLimit,
			Logger:     logger.WithComponent("netlink"),
			Metrics:    reg,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open netlink transport: %w", err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// Open builds a Session from cfg. Metrics are registered with reg; nil
// leaves them unregistered.
func Open(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Session, error) {
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	m := metrics.New(reg)

	t, err := NewTransport(cfg.Platform, logger, m)
	if err != nil {
		return nil, err
	}
	s := &Session{Config: cfg, Logger: logger, Metrics: m}

	// The simulated kernel has no hardware; plug the physical links the
	// configuration refers to so that apply has something to work with.
	if fake, ok := t.(*platform.FakeTransport); ok {
		s.Fake = fake
		for _, l := range cfg.Links {
			if l.Type == "ethernet" {
				if _, err := fake.Plug(l.Name); err != nil {
					fake.Close()
					return nil, fmt.Errorf("plug %s: %w", l.Name, err)
				}
			}
		}
	}

	p, err := platform.New(ctx, t, platform.Options{
		WaitTimeout:      cfg.Platform.WaitTimeoutDuration(),
		SettleTime:       cfg.Platform.SettleTimeDuration(),
		KeepImplicitBond: !cfg.Platform.ShouldPruneImplicitBond(),
		Logger:           logger.WithComponent("platform"),
		Metrics:          m,
	})
	if err != nil {
		t.Close()
		return nil, err
	}
	s.Platform = p
	return s, nil
}

// Close releases the platform.
func (s *Session) Close() error {
	return s.Platform.Close()
}

// Resolve maps a link argument to a handle. Numeric arguments are tried as
// handles first, then as names.
func (s *Session) Resolve(arg string) (int, error) {
	if h, err := strconv.Atoi(arg); err == nil {
		if _, err := s.Platform.Link(h); err == nil {
			return h, nil
		}
	}
	return s.Platform.Ifindex(arg)
}
