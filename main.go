package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"grimm.is/linkd/cmd"
	"grimm.is/linkd/internal/config"
)

var printer = cmd.Printer

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	name, args := os.Args[1], os.Args[2:]
	switch name {
	case "list", "ls":
		fs, configFile := newFlagSet(name)
		fs.Parse(args)
		run(ctx, name, *configFile, nil, func(s *cmd.Session) error {
			return cmd.RunList(s, os.Stdout)
		})

	case "show":
		fs, configFile := newFlagSet(name)
		fs.Parse(args)
		needArgs(fs, 1, "show <link>")
		run(ctx, name, *configFile, nil, func(s *cmd.Session) error {
			return cmd.RunShow(s, os.Stdout, fs.Arg(0))
		})

	case "add":
		fs, configFile := newFlagSet(name)
		fs.Parse(args)
		needArgs(fs, 2, "add <dummy|bridge|bond|team> <name>")
		run(ctx, name, *configFile, nil, func(s *cmd.Session) error {
			return cmd.RunAdd(ctx, s, os.Stdout, fs.Arg(0), fs.Arg(1))
		})

	case "del", "delete":
		fs, configFile := newFlagSet(name)
		fs.Parse(args)
		needArgs(fs, 1, "del <link>")
		run(ctx, name, *configFile, nil, func(s *cmd.Session) error {
			return cmd.RunDelete(ctx, s, fs.Arg(0))
		})

	case "up", "down", "arp", "noarp":
		fs, configFile := newFlagSet(name)
		fs.Parse(args)
		needArgs(fs, 1, name+" <link>")
		run(ctx, name, *configFile, nil, func(s *cmd.Session) error {
			return cmd.RunSet(ctx, s, name, fs.Arg(0))
		})

	case "enslave":
		fs, configFile := newFlagSet(name)
		fs.Parse(args)
		needArgs(fs, 2, "enslave <master> <slave>")
		run(ctx, name, *configFile, nil, func(s *cmd.Session) error {
			return cmd.RunEnslave(ctx, s, fs.Arg(0), fs.Arg(1))
		})

	case "release":
		fs, configFile := newFlagSet(name)
		fs.Parse(args)
		needArgs(fs, 2, "release <master> <slave>")
		run(ctx, name, *configFile, nil, func(s *cmd.Session) error {
			return cmd.RunRelease(ctx, s, fs.Arg(0), fs.Arg(1))
		})

	case "option":
		fs, configFile := newFlagSet(name)
		scopeName := fs.String("scope", "master", "Option scope: master or slave")
		fs.Parse(args)
		if fs.NArg() != 2 && fs.NArg() != 3 {
			usageError("option [-scope master|slave] <link> <key> [value]")
		}
		scope, err := cmd.ParseScope(*scopeName)
		if err != nil {
			fail(name, err)
		}
		var value *string
		if fs.NArg() == 3 {
			v := fs.Arg(2)
			value = &v
		}
		run(ctx, name, *configFile, nil, func(s *cmd.Session) error {
			return cmd.RunOption(ctx, s, os.Stdout, scope, fs.Arg(0), fs.Arg(1), value)
		})

	case "apply":
		fs, configFile := newFlagSet(name)
		dryRun := fs.Bool("dry-run", false, "Print the plan without changing anything")
		fs.BoolVar(dryRun, "n", false, "Dry run (short)")
		fs.Parse(args)
		run(ctx, name, *configFile, nil, func(s *cmd.Session) error {
			return cmd.RunApply(ctx, s, os.Stdout, *dryRun)
		})

	case "export":
		fs, configFile := newFlagSet(name)
		withOptions := fs.Bool("options", false, "Include master and slave options")
		fs.Parse(args)
		run(ctx, name, *configFile, nil, func(s *cmd.Session) error {
			return cmd.RunExport(ctx, s, os.Stdout, *withOptions)
		})

	case "diff", "verify":
		fs, configFile := newFlagSet(name)
		fs.Parse(args)
		run(ctx, name, *configFile, nil, func(s *cmd.Session) error {
			return cmd.RunDiff(ctx, s, os.Stdout)
		})

	case "monitor":
		fs, configFile := newFlagSet(name)
		metricsAddr := fs.String("metrics", "", "Serve Prometheus metrics on this address (overrides metrics.listen)")
		journalPath := fs.String("journal", "", "Record events to this sqlite file (overrides journal.path)")
		count := fs.Int("count", 0, "Exit after this many events")
		fs.Parse(args)

		cfg := loadConfig(name, *configFile)
		opts := cmd.MonitorOptions{
			MetricsListen: cfg.Metrics.Listen,
			JournalPath:   cfg.Journal.Path,
			Retention:     cfg.Journal.RetentionDuration(),
			Count:         *count,
		}
		if *metricsAddr != "" {
			opts.MetricsListen = *metricsAddr
		}
		if *journalPath != "" {
			opts.JournalPath = *journalPath
		}

		var reg prometheus.Registerer
		if opts.MetricsListen != "" {
			r := prometheus.NewRegistry()
			r.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			opts.Gatherer = r
			reg = r
		}
		runWith(ctx, name, cfg, reg, func(s *cmd.Session) error {
			return cmd.RunMonitor(ctx, s, os.Stdout, opts)
		})

	case "history":
		fs, configFile := newFlagSet(name)
		journalPath := fs.String("journal", "", "Journal file (overrides journal.path)")
		link := fs.String("link", "", "Only events for this link name")
		kind := fs.String("kind", "", "Only events of this kind (added, changed, removed)")
		session := fs.String("session", "", "Only events from this session id")
		since := fs.Duration("since", 0, "Only events newer than this")
		limit := fs.Int("limit", 50, "Maximum number of events")
		fs.Parse(args)

		path := *journalPath
		if path == "" {
			path = loadConfig(name, *configFile).Journal.Path
		}
		err := cmd.RunHistory(os.Stdout, path, cmd.HistoryOptions{
			Link: *link, Kind: *kind, Session: *session, Since: *since, Limit: *limit,
		})
		if err != nil {
			fail(name, err)
		}

	case "check":
		fs, configFile := newFlagSet(name)
		fs.Parse(args)
		cfg := loadConfig(name, *configFile)
		if _, err := cmd.ApplyOrder(cfg.Links); err != nil {
			fail(name, err)
		}
		printer.Printf("Configuration valid: %d links, backend %s\n", len(cfg.Links), cfg.Platform.Backend)

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Fprintf(os.Stderr, "Unknown command: %s\n", name)
		printUsage()
		os.Exit(1)
	}
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configFile := fs.String("config", "", "Configuration file (default "+cmd.DefaultConfigPath+" or $"+cmd.ConfigEnv+")")
	fs.StringVar(configFile, "c", "", "Configuration file (short)")
	return fs, configFile
}

func needArgs(fs *flag.FlagSet, n int, usage string) {
	if fs.NArg() != n {
		usageError(usage)
	}
}

func usageError(usage string) {
	printer.Fprintf(os.Stderr, "Usage: %s %s\n", cmd.BinaryName, usage)
	os.Exit(2)
}

func fail(name string, err error) {
	printer.Fprintf(os.Stderr, "%s failed: %v\n", name, err)
	os.Exit(1)
}

func loadConfig(name, configFile string) *config.Config {
	cfg, err := cmd.LoadConfig(cmd.ConfigPath(configFile))
	if err != nil {
		fail(name, err)
	}
	return cfg
}

func run(ctx context.Context, name, configFile string, reg prometheus.Registerer, fn func(*cmd.Session) error) {
	runWith(ctx, name, loadConfig(name, configFile), reg, fn)
}

func runWith(ctx context.Context, name string, cfg *config.Config, reg prometheus.Registerer, fn func(*cmd.Session) error) {
	s, err := cmd.Open(ctx, cfg, reg)
	if err != nil {
		fail(name, err)
	}
	err = fn(s)
	s.Close()
	if errors.Is(err, cmd.ErrDrift) {
		os.Exit(3)
	}
	if err != nil {
		fail(name, err)
	}
}

func printUsage() {
	printer.Printf(`%s - kernel link management

Usage: %s <command> [flags] [args]

Links:
  list                              List links
  show <link>                       Show one link
  add <type> <name>                 Create a dummy, bridge, bond or team link
  del <link>                        Delete a link
  up|down <link>                    Set administrative state
  arp|noarp <link>                  Enable or disable ARP
  enslave <master> <slave>          Attach a link to a bridge, bond or team
  release <master> <slave>          Detach a link from its master
  option [-scope s] <link> <key> [value]
                                    Read or write a master/slave option

Configuration:
  check                             Validate the configuration
  apply [-n]                        Realize the configured links
  export [-options]                 Print current virtual links as config

Observation:
  monitor [-metrics addr] [-journal file] [-count n]
                                    Print link events as they happen
  diff                              Compare the link cache with the kernel
  history [-link name] [-kind k] [-since d] [-limit n]
                                    Show journaled events

Every command accepts -config <file>.
`, cmd.BinaryName, cmd.BinaryName)
}
