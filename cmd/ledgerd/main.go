// Command ledgerd runs the ledger service and its maintenance tasks.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/finvault/ledger/internal/config"
	"github.com/finvault/ledger/internal/events"
	"github.com/finvault/ledger/internal/events/kafka"
	"github.com/finvault/ledger/internal/ledger"
	"github.com/finvault/ledger/internal/server"
	"github.com/finvault/ledger/internal/storage"
	"github.com/finvault/ledger/internal/storage/memory"
	"github.com/finvault/ledger/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:           "ledgerd",
		Short:         "Append-only financial ledger service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), rebuildCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ledgerd:", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// openStore returns the postgres store when DATABASE_URL is set, otherwise
// the in-memory store for local runs.
func openStore(cfg config.Config, logger *zap.Logger) (storage.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("no DATABASE_URL set, using in-memory store")
		return memory.NewStore(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	return postgres.NewStore(db), func() { db.Close() }, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP front end",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			store, closeStore, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			var publisher events.Publisher = events.NopPublisher{}
			if len(cfg.KafkaBrokers) > 0 {
				kp := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
				defer kp.Close()
				publisher = kp
			}

			svc := ledger.New(store, publisher, logger)
			srv := server.New(svc, logger)

			logger.Info("starting server", zap.String("addr", cfg.HTTPAddr))
			return http.ListenAndServe(cfg.HTTPAddr, srv.Handler())
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			return postgres.Migrate(db)
		},
	}
}

func rebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-balances",
		Short: "Recompute the balance cache from the entry log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			store, closeStore, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			svc := ledger.New(store, nil, logger)
			if err := svc.RebuildBalances(context.Background()); err != nil {
				return err
			}
			logger.Info("balance cache rebuilt")
			return nil
		},
	}
}
