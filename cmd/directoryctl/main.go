// Command directoryctl runs bulk maintenance jobs against the directory
// database: imports, exports, deduplication and seeding.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/xenking/dumpster-directory/internal/storage/postgres"
)

type rootOptions struct {
	databaseURL string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("directoryctl failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "directoryctl",
		Short:         "Maintenance jobs for the dumpster rental directory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")

	root.AddCommand(
		newImportCmd(opts),
		newExportCmd(opts),
		newDedupeCmd(opts),
		newSeedCmd(opts),
		newClearCmd(opts),
	)
	return root
}

// connect opens the pool and applies migrations.
func (o *rootOptions) connect(ctx context.Context) (*pgxpool.Pool, error) {
	url := o.databaseURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		return nil, errors.New("database URL is required: set --database-url or DATABASE_URL")
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	return pool, nil
}
