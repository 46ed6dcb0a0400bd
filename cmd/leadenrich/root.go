package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/mleitner/leadenrich/internal/config"
	"github.com/mleitner/leadenrich/internal/db"
	"github.com/mleitner/leadenrich/internal/repository"

	"github.com/spf13/cobra"
)

var configPath string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "leadenrich",
		Short:         "Contact enrichment pipeline over Lusha and Apollo",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", ".", "directory containing config.yaml")

	root.AddCommand(
		newEnrichCommand(),
		newStatusCommand(),
		newExportCommand(),
		newServeCommand(),
	)
	return root
}

// signalContext returns a context cancelled on SIGINT/SIGTERM so an
// interrupted run leaves the ledger in a resumable state.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// connect loads settings, opens the pool and applies migrations.
func connect(ctx context.Context) (config.Settings, *db.Connection, *repository.Ledger, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return config.Settings{}, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	conn, err := db.NewConnection(ctx, settings.Database)
	if err != nil {
		return config.Settings{}, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.RunMigrations(settings.Database); err != nil {
		conn.Close()
		return config.Settings{}, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return settings, conn, repository.NewLedger(conn.Pool), nil
}
