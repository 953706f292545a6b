// Command cornerwatch watches live football fixtures and alerts on corner
// betting opportunities driven by match psychology.
//
// Usage:
//
//	cornerwatch run
//	cornerwatch grade
//	cornerwatch stats
//	cornerwatch alerts --limit 20
//	cornerwatch reset-alerts --yes
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/cornerwatch/internal/config"
	"github.com/rewired-gh/cornerwatch/internal/feed"
	"github.com/rewired-gh/cornerwatch/internal/grader"
	"github.com/rewired-gh/cornerwatch/internal/logger"
	"github.com/rewired-gh/cornerwatch/internal/marker"
	"github.com/rewired-gh/cornerwatch/internal/metrics"
	"github.com/rewired-gh/cornerwatch/internal/models"
	"github.com/rewired-gh/cornerwatch/internal/momentum"
	"github.com/rewired-gh/cornerwatch/internal/monitor"
	"github.com/rewired-gh/cornerwatch/internal/psychology"
	"github.com/rewired-gh/cornerwatch/internal/storage"
	"github.com/rewired-gh/cornerwatch/internal/supervisor"
	"github.com/rewired-gh/cornerwatch/internal/telegram"
)

var configPath string

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:          "cornerwatch",
		Short:        "Live corner alert engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to configuration file")

	root.AddCommand(runCmd())
	root.AddCommand(gradeCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(alertsCmd())
	root.AddCommand(resetAlertsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig is the only place a failure is fatal.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", configPath)
	return cfg
}

func openStorage(cfg *config.Config) (*storage.Storage, error) {
	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

func closeStorage(store *storage.Storage) {
	if err := store.Close(); err != nil {
		logger.Error("Failed to close storage: %v", err)
	}
}

func newFeedClient(cfg *config.Config) *feed.Client {
	return feed.NewClient(feed.Config{
		BaseURL:           cfg.Feed.BaseURL,
		APIKey:            cfg.Feed.APIKey,
		Timeout:           cfg.Feed.Timeout,
		MaxRetries:        cfg.Feed.MaxRetries,
		RetryDelayBase:    cfg.Feed.RetryDelayBase,
		RequestsPerMinute: cfg.Feed.RequestsPerMinute,
		StatsConcurrency:  cfg.Feed.StatsConcurrency,
		StatsTimeout:      cfg.Feed.StatsTimeout,
		BookmakerID:       cfg.Feed.BookmakerID,
		CornersMarket:     cfg.Feed.CornersMarket,
		BreakerFailures:   cfg.Feed.BreakerFailures,
		BreakerTimeout:    cfg.Feed.BreakerTimeout,
	})
}

func newTelegramClient(cfg *config.Config) (*telegram.Client, error) {
	if !cfg.Telegram.Enabled {
		logger.Debug("Telegram notifications disabled")
		return nil, nil
	}
	client, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
	}
	logger.Info("Telegram client initialized successfully")
	return client, nil
}

func graderConfig(cfg *config.Config) grader.Config {
	return grader.Config{
		Interval:     cfg.Grader.Interval,
		MinAge:       cfg.Grader.MinAge,
		FetchTimeout: cfg.Grader.FetchTimeout,
	}
}

// newGrader wires the grader; results go to Telegram when enabled and to the
// log otherwise.
func newGrader(cfg *config.Config, feedClient *feed.Client, store *storage.Storage, tg *telegram.Client, rec grader.Recorder) *grader.Grader {
	deps := grader.Deps{Feed: feedClient, Store: store, Metrics: rec}
	if cfg.Grader.NotifyResults {
		if tg != nil {
			deps.Notifier = tg
		} else {
			deps.Notifier = logNotifier{}
		}
	}
	return grader.New(deps, graderConfig(cfg))
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the live coordinator and the grader",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(loadConfig())
		},
	}
}

func runService(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer closeStorage(store)

	if n, err := store.PruneOdds(ctx, time.Now().Add(-cfg.Storage.OddsRetention)); err != nil {
		logger.Warn("Failed to prune cached odds: %v", err)
	} else if n > 0 {
		logger.Info("Pruned %d stale cached odds", n)
	}

	m := metrics.NewManager()

	feedClient := newFeedClient(cfg)
	feedClient.SetObserver(m.ObserveFeed)

	markers, err := marker.New(ctx, marker.Config{
		Backend:       cfg.Markers.Backend,
		RedisAddr:     cfg.Markers.RedisAddr,
		RedisPassword: cfg.Markers.RedisPassword,
		RedisDB:       cfg.Markers.RedisDB,
		TTL:           cfg.Markers.TTL,
		KeyPrefix:     cfg.Markers.KeyPrefix,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize markers: %w", err)
	}
	logger.Info("Alerted markers backed by %s", cfg.Markers.Backend)

	tg, err := newTelegramClient(cfg)
	if err != nil {
		return err
	}

	deps := monitor.Deps{
		Feed:       feedClient,
		Odds:       feedClient,
		Notifier:   logNotifier{},
		Store:      store,
		Markers:    markers,
		Aggregator: momentum.New(cfg.Momentum),
		Chain:      psychology.NewChain(cfg.Psychology),
		Bands:      cfg.Psychology.Bands,
		Metrics:    m,
	}
	if tg != nil {
		deps.Notifier = tg
		deps.Ops = tg
	}

	coord := monitor.New(deps, monitor.Config{
		PollInterval:    cfg.Monitor.PollInterval,
		FetchTimeout:    cfg.Monitor.FetchTimeout,
		WatchFromMinute: cfg.Monitor.WatchFromMinute,
		AbsentGrace:     cfg.Monitor.AbsentGrace,
		Workers:         cfg.Monitor.Workers,
		SaveRetries:     cfg.Monitor.SaveRetries,
		SaveRetryDelay:  cfg.Monitor.SaveRetryDelay,
		Liquidity: monitor.LiquidityConfig{
			Required:    cfg.Monitor.Liquidity.Required,
			MinLineOdds: cfg.Monitor.Liquidity.MinLineOdds,
			MaxLineOdds: cfg.Monitor.Liquidity.MaxLineOdds,
			MinLines:    cfg.Monitor.Liquidity.MinLines,
		},
	})

	if tg != nil {
		tg.SetStatusFunc(coord.Snapshot)
		tg.ListenForCommands(ctx)
	}

	backoff := supervisor.Backoff{
		Initial:     cfg.Supervisor.InitialBackoff,
		Max:         cfg.Supervisor.MaxBackoff,
		Multiplier:  cfg.Supervisor.Multiplier,
		MaxRestarts: cfg.Supervisor.MaxRestarts,
		ResetAfter:  cfg.Supervisor.ResetAfter,
	}

	logger.Info("Starting cornerwatch (poll: %v, late window: %d-%d', first-half window: %d-%d')",
		cfg.Monitor.PollInterval,
		cfg.Psychology.Late.WindowStart, cfg.Psychology.Late.WindowEnd,
		cfg.Psychology.FirstHalf.WindowStart, cfg.Psychology.FirstHalf.WindowEnd,
	)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return supervisor.Run(ctx, "coordinator", coord.Run, backoff)
	})
	if cfg.Grader.Enabled {
		g := newGrader(cfg, feedClient, store, tg, m)
		eg.Go(func() error {
			return supervisor.Run(ctx, "grader", g.Run, backoff)
		})
	}
	if cfg.Metrics.Enabled {
		health := func() metrics.Health {
			h := metrics.Health{
				Status:            "ok",
				FeedBreaker:       feedClient.BreakerState(),
				FixturesMonitored: coord.Monitoring(),
				PendingRollbacks:  coord.PendingRollbacks(),
			}
			if h.FeedBreaker == "open" {
				h.Status = "degraded"
			}
			return h
		}
		status := func() interface{} { return coord.Snapshot() }
		router := metrics.NewRouter(m, health, status)
		eg.Go(func() error {
			return metrics.Serve(ctx, cfg.Metrics.Addr, router)
		})
	}

	err = eg.Wait()
	if pending := coord.PendingRollbacks(); pending > 0 {
		logger.Warn("Shutting down with %d unsent alerts still recorded", pending)
	}
	logger.Info("Service stopped")
	return err
}

func gradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grade",
		Short: "Run one grading pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			tg, err := newTelegramClient(cfg)
			if err != nil {
				return err
			}

			g := newGrader(cfg, newFeedClient(cfg), store, tg, nil)
			report, err := g.RunPass(cmd.Context(), time.Now())
			if err != nil {
				return fmt.Errorf("grading pass failed: %w", err)
			}

			fmt.Printf("checked %d, settled %d, pending %d, skipped %d, failures %d\n",
				report.Checked, len(report.Settled), report.Pending, report.Skipped, len(report.Failures))
			for _, s := range report.Settled {
				fmt.Printf("  %s %s %s %.1f final %d: %s\n",
					s.Alert.Teams(), s.Alert.Tier, s.Alert.Direction, s.Alert.ImpliedLine, s.FinalCorners, s.Result)
			}
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print settlement statistics per tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			report, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIER\tTOTAL\tWON\tLOST\tREFUND\tPENDING\tHIT RATE")
			for _, tier := range models.AllTiers {
				printSummary(w, string(tier), report.ByTier[tier])
			}
			printSummary(w, "all", report.Overall)
			return w.Flush()
		},
	}
}

func printSummary(w *tabwriter.Writer, name string, s storage.Summary) {
	fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%.1f%%\n",
		name, s.Total, s.Wins, s.Losses, s.Refunds, s.Pending, s.HitRate()*100)
}

func alertsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List the most recent alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			alerts, err := store.RecentAlerts(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SENT\tMATCH\tTIER\tMIN\tLINE\tRESULT")
			for _, a := range alerts {
				result := "pending"
				if a.Result != nil {
					result = fmt.Sprintf("%s (%d)", *a.Result, *a.FinalCorners)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d'\t%s %.1f\t%s\n",
					a.CreatedAt.Local().Format("2006-01-02 15:04"), a.Teams(), a.Tier, a.MinuteSent,
					a.Direction, a.ImpliedLine, result)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of alerts to list")
	return cmd
}

func resetAlertsCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset-alerts",
		Short: "Delete every stored alert",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete alerts without --yes")
			}
			cfg := loadConfig()
			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			n, err := store.ResetAlerts(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d alerts\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}
