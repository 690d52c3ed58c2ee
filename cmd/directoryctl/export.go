package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/xenking/dumpster-directory/internal/bizcsv"
	"github.com/xenking/dumpster-directory/internal/domain/business"
	"github.com/xenking/dumpster-directory/internal/storage/postgres"
)

type exportOptions struct {
	out  string
	gzip bool
}

func newExportCmd(root *rootOptions) *cobra.Command {
	var opts exportOptions
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all listings as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd.Context(), root, cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.out, "out", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&opts.gzip, "gzip", false, "gzip the output")
	return cmd
}

func runExport(ctx context.Context, root *rootOptions, stdout io.Writer, opts exportOptions) error {
	pool, err := root.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	list, err := postgres.NewBusinessRepository(pool).List(ctx)
	if err != nil {
		return errors.Wrap(err, "list businesses")
	}

	w := stdout
	if opts.out != "" {
		f, err := os.Create(opts.out)
		if err != nil {
			return errors.Wrap(err, "create output")
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	if err := writeListings(w, list, opts.gzip); err != nil {
		return err
	}
	slog.Info("export complete", slog.Int("listings", len(list)), slog.String("out", opts.out))
	return nil
}

func writeListings(w io.Writer, list []business.Business, compress bool) error {
	cw := bizcsv.NewWriter(w, compress)
	for i := range list {
		if err := cw.Write(&list[i]); err != nil {
			return errors.Wrapf(err, "write row %d", i+1)
		}
	}
	if err := cw.Close(); err != nil {
		return errors.Wrap(err, "flush")
	}
	return nil
}
