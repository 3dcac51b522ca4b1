// Command btcintel runs the autonomous Bitcoin intelligence system: a
// strategic orchestrator coordinating five agents, a market hunter
// scanning external sources, and a simulated portfolio.
//
// Subcommands:
//
//	run          start the full system until interrupted
//	cycle-once   execute one strategic cycle and exit
//	hunter-once  execute one hunt and exit
//	status       print agent and portfolio state from the store
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/btcintel/internal/agent"
	"github.com/ajitpratap0/btcintel/internal/bus"
	"github.com/ajitpratap0/btcintel/internal/clock"
	"github.com/ajitpratap0/btcintel/internal/config"
	"github.com/ajitpratap0/btcintel/internal/decisionlog"
	"github.com/ajitpratap0/btcintel/internal/hunter"
	"github.com/ajitpratap0/btcintel/internal/marketdata"
	"github.com/ajitpratap0/btcintel/internal/metrics"
	"github.com/ajitpratap0/btcintel/internal/models"
	"github.com/ajitpratap0/btcintel/internal/orchestrator"
	"github.com/ajitpratap0/btcintel/internal/store"
)

// Exit codes.
const (
	exitOK       = 0
	exitConfig   = 1
	exitStore    = 2
	exitInternal = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// Bare invocation, or flags with no subcommand, means run.
	if len(args) == 0 || args[0][0] == '-' && args[0] != "-h" && args[0] != "--help" {
		return cmdRun(args)
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "run":
		return cmdRun(rest)
	case "cycle-once":
		return cmdCycleOnce(rest)
	case "hunter-once":
		return cmdHunterOnce(rest)
	case "status":
		return cmdStatus(rest)
	case "-h", "--help", "help":
		usage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		return exitConfig
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: btcintel <command> [flags]

commands:
  run          start the orchestrator and hunter until interrupted (default)
  cycle-once   execute one strategic cycle and exit
  hunter-once  execute one hunt and exit
  status       print agent and portfolio state from the store

run 'btcintel <command> -h' for command flags
`)
}

// flagOverrides holds the command-line values that override file and
// environment configuration.
type flagOverrides struct {
	configPath      string
	cycleInterval   time.Duration
	hunterInterval  time.Duration
	maxSources      int
	explorationRate float64
	storeDSN        string
	logFile         string
	metricsPort     int
}

func registerFlags(fs *flag.FlagSet, o *flagOverrides) {
	fs.StringVar(&o.configPath, "config", "", "path to config file")
	fs.DurationVar(&o.cycleInterval, "cycle-interval", 0, "strategic cycle interval (overrides config)")
	fs.DurationVar(&o.hunterInterval, "hunter-interval", 0, "hunt interval (overrides config)")
	fs.IntVar(&o.maxSources, "max-sources", 0, "max sources per hunt (overrides config)")
	fs.Float64Var(&o.explorationRate, "exploration-rate", -1, "hunter exploration rate (overrides config)")
	fs.StringVar(&o.storeDSN, "store", "", "postgres DSN (overrides config; empty keeps config value)")
	fs.StringVar(&o.logFile, "log-file", "", "log file path (overrides config)")
	fs.IntVar(&o.metricsPort, "metrics-port", 0, "prometheus metrics port (overrides config)")
}

func loadConfig(o *flagOverrides) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.cycleInterval > 0 {
		cfg.Orchestrator.CycleInterval = o.cycleInterval
	}
	if o.hunterInterval > 0 {
		cfg.Hunter.Interval = o.hunterInterval
	}
	if o.maxSources > 0 {
		cfg.Hunter.MaxSources = o.maxSources
	}
	if o.explorationRate >= 0 {
		cfg.Hunter.ExplorationRate = o.explorationRate
	}
	if o.storeDSN != "" {
		cfg.Store.DSN = o.storeDSN
	}
	if o.logFile != "" {
		cfg.App.LogFile = o.logFile
	}
	if o.metricsPort > 0 {
		cfg.Monitoring.MetricsPort = o.metricsPort
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runtime bundles everything a command needs, with a Close that tears
// the pieces down in dependency order.
type runtime struct {
	cfg    *config.Config
	st     store.Store
	market *marketdata.Service
	b      *bus.Bus
	dlog   *decisionlog.Logger
	msrv   *metrics.Server
}

func (r *runtime) Close() {
	if r.dlog != nil {
		r.dlog.Close()
	}
	if r.b != nil {
		r.b.Close()
	}
	if r.msrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		r.msrv.Shutdown(ctx)
		cancel()
	}
	if r.st != nil {
		r.st.Close()
	}
}

func buildRuntime(ctx context.Context, cfg *config.Config, withMetrics bool) (*runtime, error) {
	r := &runtime{cfg: cfg}

	if cfg.Store.DSN == "" {
		log.Warn().Msg("No store DSN configured, falling back to in-memory store")
		r.st = store.NewMemory()
	} else {
		st, err := store.NewPostgres(ctx, cfg.Store.DSN, cfg.Store.PoolSize, log.Logger)
		if err != nil {
			return nil, err
		}
		r.st = st
	}

	b, err := bus.New(bus.Config{
		Embedded:  cfg.Bus.Embedded,
		URL:       cfg.Bus.URL,
		InboxSize: cfg.Bus.InboxSize,
	}, log.Logger)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.b = b

	var cache *marketdata.SnapshotCache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache = marketdata.NewSnapshotCache(client, cfg.Redis.TTL)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Snapshot cache enabled")
	}
	r.market = marketdata.NewService(marketdata.DefaultProviders(cfg.Providers), cfg.Providers, cache, log.Logger)

	r.dlog = decisionlog.New(r.st, decisionlog.Config{}, log.Logger)

	if withMetrics && cfg.Monitoring.EnableMetrics {
		r.msrv = metrics.NewServer(cfg.Monitoring.MetricsPort, log.Logger)
		if err := r.msrv.Start(); err != nil {
			r.Close()
			return nil, err
		}
	}
	return r, nil
}

func newHunter(cfg *config.Config, r *runtime, clk clock.Clock) (*hunter.Hunter, error) {
	seed := cfg.Hunter.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	return hunter.New(cfg.Hunter, cfg.Providers.FetchTimeout, r.st, r.market, r.b, clk, rng, log.Logger)
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, models.ErrConfig):
		return exitConfig
	case errors.Is(err, models.ErrStore):
		return exitStore
	default:
		return exitInternal
	}
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var o flagOverrides
	registerFlags(fs, &o)
	fs.Parse(args)

	cfg, err := loadConfig(&o)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	if err := config.InitLogger(cfg.App.LogLevel, cfg.App.LogFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	log.Info().
		Str("cycle_interval", cfg.Orchestrator.CycleInterval.String()).
		Str("hunter_interval", cfg.Hunter.Interval.String()).
		Msg("Starting btcintel")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := buildRuntime(ctx, cfg, true)
	if err != nil {
		log.Error().Err(err).Msg("Startup failed")
		return exitCode(err)
	}
	defer r.Close()

	clk := clock.New()

	agents, err := agent.NewStockAgents(r.b, clk, log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("Agent construction failed")
		return exitInternal
	}

	orch := orchestrator.New(cfg.Orchestrator, agents, r.st, r.market, r.b, r.dlog, clk, log.Logger)

	h, err := newHunter(cfg, r, clk)
	if err != nil {
		log.Error().Err(err).Msg("Hunter construction failed")
		return exitCode(err)
	}
	if err := h.LoadHistoricalMetrics(ctx); err != nil {
		log.Warn().Err(err).Msg("Could not restore source metrics, starting fresh")
	}

	orch.Start(ctx)
	go func() {
		if err := h.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Hunter stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	orch.Stop()
	return exitOK
}

func cmdCycleOnce(args []string) int {
	fs := flag.NewFlagSet("cycle-once", flag.ExitOnError)
	var o flagOverrides
	registerFlags(fs, &o)
	fs.Parse(args)

	cfg, err := loadConfig(&o)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	if err := config.InitLogger(cfg.App.LogLevel, cfg.App.LogFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := buildRuntime(ctx, cfg, false)
	if err != nil {
		log.Error().Err(err).Msg("Startup failed")
		return exitCode(err)
	}
	defer r.Close()

	clk := clock.New()
	agents, err := agent.NewStockAgents(r.b, clk, log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("Agent construction failed")
		return exitInternal
	}

	orch := orchestrator.New(cfg.Orchestrator, agents, r.st, r.market, r.b, r.dlog, clk, log.Logger)
	report, err := orch.RunCycleOnce(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Cycle failed")
		return exitCode(err)
	}

	successes := 0
	for _, res := range report.Results {
		if res.Success {
			successes++
		}
	}
	fmt.Printf("cycle %s: %d decisions, %d succeeded, learning rate %.3f, took %s\n",
		report.CycleID, len(report.Decisions), successes, report.LearningRate,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	return exitOK
}

func cmdHunterOnce(args []string) int {
	fs := flag.NewFlagSet("hunter-once", flag.ExitOnError)
	var o flagOverrides
	registerFlags(fs, &o)
	fs.Parse(args)

	cfg, err := loadConfig(&o)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	if err := config.InitLogger(cfg.App.LogLevel, cfg.App.LogFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := buildRuntime(ctx, cfg, false)
	if err != nil {
		log.Error().Err(err).Msg("Startup failed")
		return exitCode(err)
	}
	defer r.Close()

	h, err := newHunter(cfg, r, clock.New())
	if err != nil {
		log.Error().Err(err).Msg("Hunter construction failed")
		return exitCode(err)
	}
	if err := h.LoadHistoricalMetrics(ctx); err != nil {
		log.Warn().Err(err).Msg("Could not restore source metrics, starting fresh")
	}

	report, err := h.HuntOnce(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Hunt failed")
		return exitCode(err)
	}

	fmt.Printf("hunt: selected %d sources, %d fetched, %d failed, %d signals (%d broadcast, %d below confidence floor)\n",
		len(report.Selected), report.Fetched, report.Failed,
		len(report.Signals)+report.Discarded, report.Broadcast, report.Discarded)
	for _, sig := range report.Signals {
		fmt.Printf("  %-28s %-8s conf %.2f  %s\n", sig.Label, sig.Severity, sig.Confidence, sig.Kind)
	}
	return exitOK
}

func cmdStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	var o flagOverrides
	registerFlags(fs, &o)
	fs.Parse(args)

	cfg, err := loadConfig(&o)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	if err := config.InitLogger(cfg.App.LogLevel, cfg.App.LogFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var st store.Store
	if cfg.Store.DSN == "" {
		fmt.Fprintln(os.Stderr, "status requires a store DSN (in-memory state does not outlive the process)")
		return exitConfig
	}
	st, err = store.NewPostgres(ctx, cfg.Store.DSN, cfg.Store.PoolSize, log.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitStore
	}
	defer st.Close()

	states, err := st.ListAgentStates(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitStore
	}
	portfolio, err := st.ReadPortfolio(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitStore
	}
	summaries, err := st.ListCycleSummaries(ctx, 1)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitStore
	}

	fmt.Printf("portfolio: %.6f BTC, $%.2f USD, total $%.2f (as of %s)\n",
		portfolio.BTC, portfolio.USD, portfolio.TotalValueUSD,
		portfolio.UpdatedAt.Format(time.RFC3339))

	if len(summaries) > 0 {
		s := summaries[0]
		fmt.Printf("last cycle: %s  efficiency %.2f  alignment %.2f  %d decisions (%d ok)\n",
			s.CycleID, s.SystemEfficiency, s.StrategicAlignment, s.Decisions, s.Successes)
	}

	if len(states) == 0 {
		fmt.Println("no agent state recorded yet")
		return exitOK
	}
	fmt.Printf("%-24s %10s %10s %10s %6s\n", "agent", "autonomy", "reputation", "progress", "adapt")
	for _, a := range states {
		fmt.Printf("%-24s %10.2f %10.2f %10.2f %6d\n",
			a.AgentID, a.Autonomy, a.Reputation, a.GoalProgress, a.Adaptations)
	}
	return exitOK
}
