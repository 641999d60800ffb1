package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atlasfin/suitesync/pkg/config"
	"github.com/atlasfin/suitesync/pkg/logger"
	"github.com/atlasfin/suitesync/pkg/metrics"
	"github.com/atlasfin/suitesync/pkg/netsuite"
	"github.com/atlasfin/suitesync/pkg/store"
	syncengine "github.com/atlasfin/suitesync/pkg/sync"
	"github.com/atlasfin/suitesync/pkg/syncerrors"
)

var version = "0.1.0"

// Exit codes by failure class, so operators and cron wrappers can
// distinguish a bad config from an upstream outage.
func exitCodeFor(err error) int {
	switch syncerrors.TypeOf(err) {
	case syncerrors.ErrorTypeConfig, syncerrors.ErrorTypeValidation:
		return 2
	case syncerrors.ErrorTypeConnection:
		return 3
	case syncerrors.ErrorTypeAPI:
		return 4
	case syncerrors.ErrorTypeDatabase:
		return 5
	case syncerrors.ErrorTypeReadOnly:
		return 6
	default:
		return 1
	}
}

func fail(log *zap.Logger, err error) {
	if log != nil {
		log.Error("command failed", zap.Error(err))
	} else {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCodeFor(err))
}

// bootstrap loads configuration and builds the logger every command needs
func bootstrap(configPath, logLevel string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConfig,
			"failed to build logger")
	}
	return cfg, log, nil
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*store.Store, error) {
	return store.Open(ctx, cfg.Database.DSN(), log)
}

// buildOrchestrator wires auth, client and store into a ready sync engine
func buildOrchestrator(cfg *config.Config, log *zap.Logger, st *store.Store) (*syncengine.Orchestrator, error) {
	auth, err := netsuite.NewAuthProvider(cfg, log)
	if err != nil {
		return nil, err
	}

	m := metrics.New(prometheus.NewRegistry())
	client := netsuite.NewClient(cfg, auth, log, m)
	return syncengine.New(client, st, cfg.Sync.BatchSize, log, m), nil
}

func main() {
	// Credentials usually live in .env next to the config file.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var configPath, logLevel string

	root := &cobra.Command{
		Use:   "suitesync",
		Short: "suitesync - incremental NetSuite to Postgres mirror",
		Long: `suitesync maintains a local Postgres mirror of NetSuite vendors and
vendor bills. It fetches records in bulk through SuiteQL, splits each
record into stable typed columns and a custom-field document with
lifecycle tracking, and commits batch by batch so interrupted runs
resume from the last committed high-water mark. All upstream access is
strictly read-only.`,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to YAML configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override configured log level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("suitesync v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var (
		scope     string
		forceFull bool
		limit     int
		dryRun    bool
	)
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a synchronization pass",
		Long: `Run one synchronization pass. Without --full the run is incremental:
only records created after the stored high-water mark are fetched.

Example:
  suitesync sync --config config.yaml --scope vendors --limit 500`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, log, err := bootstrap(configPath, logLevel)
			if err != nil {
				fail(log, err)
			}
			defer func() { _ = log.Sync() }()

			st, err := openStore(ctx, cfg, log)
			if err != nil {
				fail(log, err)
			}
			defer st.Close()

			orch, err := buildOrchestrator(cfg, log, st)
			if err != nil {
				fail(log, err)
			}

			result, err := orch.Sync(ctx, syncengine.Options{
				Scope:     syncengine.Scope(scope),
				ForceFull: forceFull,
				Limit:     limit,
				DryRun:    dryRun,
			})
			for entity, rep := range result.Entities {
				status := "ok"
				switch {
				case rep.Err != nil:
					status = "failed"
				case rep.EmptyFetch:
					status = "empty"
				}
				fmt.Printf("%-12s %-7s synced=%d full=%v\n", entity, status, rep.Synced, rep.FullSync)
			}
			if err != nil {
				fail(log, err)
			}
		},
	}
	syncCmd.Flags().StringVar(&scope, "scope", "all", "Entity types to sync: all, vendors, transactions")
	syncCmd.Flags().BoolVar(&forceFull, "full", false, "Ignore the stored high-water mark and refetch everything")
	syncCmd.Flags().IntVar(&limit, "limit", 0, "Cap the number of records fetched per entity type (0 = unlimited)")
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Fetch and classify without writing to the database")
	root.AddCommand(syncCmd)

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show mirror row counts and sync cursors",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, log, err := bootstrap(configPath, logLevel)
			if err != nil {
				fail(log, err)
			}
			defer func() { _ = log.Sync() }()

			st, err := openStore(ctx, cfg, log)
			if err != nil {
				fail(log, err)
			}
			defer st.Close()

			vendors, transactions, err := st.Counts(ctx)
			if err != nil {
				fail(log, err)
			}
			fmt.Printf("vendors:      %d\n", vendors)
			fmt.Printf("transactions: %d\n", transactions)

			cursors, err := st.Cursors(ctx)
			if err != nil {
				fail(log, err)
			}
			if len(cursors) == 0 {
				fmt.Println("no sync has completed yet")
				return
			}
			for _, c := range cursors {
				mode := "incremental"
				if c.IsFullSync {
					mode = "full"
				}
				fmt.Printf("%-12s last=%s status=%s records=%d mode=%s\n",
					c.RecordType, c.LastSyncTimestamp.Format("2006-01-02 15:04:05"),
					c.Status, c.RecordsSynced, mode)
			}
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "initdb",
		Short: "Create the mirror schema",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, log, err := bootstrap(configPath, logLevel)
			if err != nil {
				fail(log, err)
			}
			defer func() { _ = log.Sync() }()

			st, err := openStore(ctx, cfg, log)
			if err != nil {
				fail(log, err)
			}
			defer st.Close()

			if err := st.InitSchema(ctx); err != nil {
				fail(log, err)
			}
			fmt.Println("schema initialized")
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
