package main

import (
	"context"
	"log/slog"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/xenking/dumpster-directory/internal/storage/postgres"
)

func newClearCmd(root *rootOptions) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every listing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirm {
				return errors.New("refusing to delete all listings without --confirm")
			}
			return runClear(cmd.Context(), root)
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm deleting all listings")
	return cmd
}

func runClear(ctx context.Context, root *rootOptions) error {
	pool, err := root.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	n, err := postgres.NewBusinessRepository(pool).DeleteAll(ctx)
	if err != nil {
		return errors.Wrap(err, "delete listings")
	}
	slog.Info("listings deleted", slog.Int64("count", n))
	return nil
}
