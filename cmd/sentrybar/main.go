// Command sentrybar runs the SentryBar monitoring core as a headless
// agent: it samples connections and bandwidth on a timer, classifies
// them against the persisted rule set, and publishes alerts and
// Prometheus metrics for consuming frontends.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/constripacity/SentryBar/internal/config"
	"github.com/constripacity/SentryBar/internal/events"
	"github.com/constripacity/SentryBar/internal/logging"
	"github.com/constripacity/SentryBar/internal/metrics"
	"github.com/constripacity/SentryBar/internal/monitor"
	"github.com/constripacity/SentryBar/internal/profiling"
	"github.com/constripacity/SentryBar/internal/rules"
	"github.com/constripacity/SentryBar/internal/toolexec"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand(ctx).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newCommand(ctx context.Context) *cobra.Command {
	var (
		configPath string
		interval   time.Duration
		dumpConfig bool
	)

	cmd := &cobra.Command{
		Use:   "sentrybar",
		Short: "Host connection monitor and classifier",
		Long: "SentryBar samples active network connections and per-process bandwidth,\n" +
			"classifies them against user rules and a suspicion heuristic, and raises\n" +
			"de-duplicated alerts.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("interval") {
				if interval < config.MinRefreshInterval {
					interval = config.MinRefreshInterval
				}
				cfg.Monitor.RefreshInterval = interval
			}

			if dumpConfig {
				out, err := cfg.DumpYAML()
				if err != nil {
					return err
				}
				fmt.Print(out)
				return nil
			}

			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().DurationVar(&interval, "interval", config.MinRefreshInterval, "sampling interval (floor 5s)")
	cmd.Flags().BoolVar(&dumpConfig, "dump-config", false, "print the effective configuration and exit")

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	initLogging(cfg)
	log := logging.Default().WithComponent("main")
	logging.LogRuntimeInfo()

	if err := config.Paths.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare data directories: %w", err)
	}

	m := metrics.New()
	bus := events.NewBus(nil)

	store := rules.NewStore(cfg.RuleStorePath())
	engine := rules.NewEngine(store)
	if cfg.Rules.Watch {
		err := store.Watch(ctx, func() {
			engine.Reload()
			allowed, blocked := engine.Counts()
			bus.EmitRulesChanged(allowed, blocked)
		})
		if err != nil {
			log.Warn("rule store watch disabled", logging.Err(err))
			bus.EmitError(err, "rules.watch")
		}
	}

	runner := toolexec.NewRunner()
	sampler := monitor.NewToolSampler(runner, cfg.Tools)
	controller := monitor.New(cfg.Monitor, sampler, engine, bus, m)

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		if cfg.Metrics.Pprof {
			profiling.Register(mux)
		}
		metricsSrv = &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("metrics endpoint listening", "addr", cfg.Metrics.ListenAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", logging.Err(err))
				bus.EmitError(err, "metrics.server")
			}
		}()
	}

	controller.Run(ctx)

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	snap := profiling.Snapshot()
	log.Info("shutdown complete",
		"goroutines", snap.Goroutines,
		"heap_alloc", snap.HeapAlloc,
		"gc_cycles", snap.NumGC,
	)
	return nil
}

func initLogging(cfg *config.Config) {
	logCfg := logging.DefaultConfig()
	logCfg.Format = cfg.Logging.Format

	switch cfg.Logging.Level {
	case "debug":
		logCfg.Level = logging.LevelDebug
	case "warn":
		logCfg.Level = logging.LevelWarn
	case "error":
		logCfg.Level = logging.LevelError
	default:
		logCfg.Level = logging.LevelInfo
	}

	logging.Init(logCfg)
}
