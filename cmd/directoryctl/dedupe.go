package main

import (
	"context"
	"log/slog"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xenking/dumpster-directory/internal/domain/dedupe"
	"github.com/xenking/dumpster-directory/internal/storage/postgres"
)

func newDedupeCmd(root *rootOptions) *cobra.Command {
	var execute bool
	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Find duplicate listings and optionally merge them",
		Long: "Groups listings by phone number, or by name and ZIP when no phone is known.\n" +
			"Without --execute the groups are only reported.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDedupe(cmd.Context(), root, execute)
		},
	}
	cmd.Flags().BoolVar(&execute, "execute", false, "merge duplicates into their keeper")
	return cmd
}

func runDedupe(ctx context.Context, root *rootOptions, execute bool) error {
	pool, err := root.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	lg, err := zap.NewDevelopment()
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer func() { _ = lg.Sync() }()

	rep, err := dedupe.Run(ctx, postgres.NewDedupeStore(pool), execute, lg)
	if err != nil {
		return errors.Wrap(err, "dedupe")
	}
	slog.Info("dedupe complete",
		slog.Int("groups", len(rep.Groups)),
		slog.Int("duplicates", rep.Removed),
		slog.Bool("applied", rep.Applied),
	)
	if !execute && rep.Removed > 0 {
		slog.Info("dry run: pass --execute to merge")
	}
	return nil
}
