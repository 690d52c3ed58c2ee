package main

import (
	"context"
	"log/slog"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/dumpster-directory/internal/bizcsv"
	"github.com/xenking/dumpster-directory/internal/domain/business"
	"github.com/xenking/dumpster-directory/internal/storage/postgres"
)

const (
	bloomFPR       = 0.0001
	progressEvery  = 1_000
	maxRowWarnings = 20
)

type importOptions struct {
	skipExisting bool
	limit        int
	dryRun       bool
}

func newImportCmd(root *rootOptions) *cobra.Command {
	var opts importOptions
	cmd := &cobra.Command{
		Use:   "import <files...>",
		Short: "Import listings from CSV or JSON files (optionally .gz)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), root, args, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.skipExisting, "skip-existing", false, "skip listings whose dedupe key is already stored")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "import at most N listings (0 means all)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "parse and report without writing")
	return cmd
}

func runImport(ctx context.Context, root *rootOptions, files []string, opts importOptions) error {
	slog.Info("parsing files", slog.Int("files", len(files)))
	parsed, err := parseFiles(ctx, files)
	if err != nil {
		return errors.Wrap(err, "parse files")
	}

	var rows []business.Business
	for i, res := range parsed {
		for j, rowErr := range res.Errors {
			if j < maxRowWarnings {
				slog.Warn("row rejected", slog.String("file", files[i]), slog.String("error", rowErr.Error()))
			}
		}
		slog.Info("file parsed",
			slog.String("file", files[i]),
			slog.Int("listings", len(res.Businesses)),
			slog.Int("rejected", len(res.Errors)),
		)
		rows = append(rows, res.Businesses...)
	}

	if opts.dryRun && !opts.skipExisting {
		sel := selectRows(rows, nil, opts.limit)
		slog.Info("dry run", slog.Int("would_import", len(sel.rows)))
		return nil
	}

	pool, err := root.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	repo := postgres.NewBusinessRepository(pool)

	var seen *bloom.BloomFilter
	if opts.skipExisting {
		keys, err := repo.ExistingKeys(ctx)
		if err != nil {
			return errors.Wrap(err, "load existing keys")
		}
		seen = newKeyFilter(keys, len(rows))
		slog.Info("existing listings indexed", slog.Int("keys", len(keys)))
	}

	sel := selectRows(rows, seen, opts.limit)
	slog.Info("listings selected",
		slog.Int("selected", len(sel.rows)),
		slog.Int("skipped_existing", sel.skipped),
	)
	if opts.dryRun {
		slog.Info("dry run", slog.Int("would_import", len(sel.rows)))
		return nil
	}

	var created, updated int
	for i := range sel.rows {
		isNew, err := repo.Upsert(ctx, &sel.rows[i])
		if err != nil {
			return errors.Wrapf(err, "upsert %q", sel.rows[i].Slug)
		}
		if isNew {
			created++
		} else {
			updated++
		}
		if (i+1)%progressEvery == 0 {
			slog.Info("import progress", slog.Int("written", i+1), slog.Int("total", len(sel.rows)))
		}
	}
	slog.Info("import complete", slog.Int("created", created), slog.Int("updated", updated))
	return nil
}

// parseFiles reads every file concurrently. Results keep the argument order.
func parseFiles(ctx context.Context, files []string) ([]*bizcsv.Result, error) {
	results := make([]*bizcsv.Result, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rc, format, err := bizcsv.Open(path)
			if err != nil {
				return errors.Wrapf(err, "open %s", path)
			}
			defer func() { _ = rc.Close() }()

			res, err := bizcsv.Read(rc, format)
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// newKeyFilter indexes stored dedupe keys with room for extra incoming rows.
func newKeyFilter(keys []string, extra int) *bloom.BloomFilter {
	f := bloom.NewWithEstimates(uint(max(len(keys)+extra, 1)), bloomFPR)
	for _, k := range keys {
		f.AddString(k)
	}
	return f
}

type selection struct {
	rows    []business.Business
	skipped int
}

// selectRows drops rows whose dedupe key is in seen, including repeats
// within rows, and stops after limit rows when limit is positive. A nil
// seen keeps every row.
func selectRows(rows []business.Business, seen *bloom.BloomFilter, limit int) selection {
	var sel selection
	for i := range rows {
		if limit > 0 && len(sel.rows) >= limit {
			break
		}
		if seen != nil {
			if seen.TestOrAddString(business.DedupeKey(&rows[i])) {
				sel.skipped++
				continue
			}
		}
		sel.rows = append(sel.rows, rows[i])
	}
	return sel
}
