package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/xenking/dumpster-directory/internal/domain/auth"
	"github.com/xenking/dumpster-directory/internal/domain/billing"
	"github.com/xenking/dumpster-directory/internal/storage/postgres"
)

type seedOptions struct {
	plans   bool
	apiKey  bool
	keyName string
	pepper  string
}

func newSeedCmd(root *rootOptions) *cobra.Command {
	var opts seedOptions
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the default pricing plans and an admin API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !opts.plans && !opts.apiKey {
				return errors.New("nothing to seed: pass --plans and/or --api-key")
			}
			if opts.pepper == "" {
				opts.pepper = os.Getenv("DUMPSTER_API_KEY_PEPPER")
			}
			return runSeed(cmd.Context(), root, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&opts.plans, "plans", false, "upsert the default pricing plans")
	cmd.Flags().BoolVar(&opts.apiKey, "api-key", false, "issue an admin API key and print it")
	cmd.Flags().StringVar(&opts.keyName, "key-name", "admin", "name recorded for the issued key")
	cmd.Flags().StringVar(&opts.pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or DUMPSTER_API_KEY_PEPPER env)")
	return cmd
}

func runSeed(ctx context.Context, root *rootOptions, opts seedOptions, out io.Writer) error {
	pool, err := root.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if opts.plans {
		repo := postgres.NewBillingRepository(pool)
		for _, p := range defaultPlans() {
			if err := p.Validate(); err != nil {
				return errors.Wrapf(err, "plan %s", p.ID)
			}
			if err := repo.UpsertPlan(ctx, &p); err != nil {
				return errors.Wrapf(err, "upsert plan %s", p.ID)
			}
			slog.Info("plan seeded", slog.String("id", p.ID), slog.String("price", p.Price.StringFixed(2)))
		}
	}

	if opts.apiKey {
		keys := auth.NewKeyAuthenticator(postgres.NewAPIKeyRepository(pool), []byte(opts.pepper))
		key, err := keys.Issue(ctx, opts.keyName, []string{auth.ScopeAdmin})
		if err != nil {
			return errors.Wrap(err, "issue api key")
		}
		slog.Info("api key issued; it is shown once", slog.String("name", opts.keyName))
		if _, err := fmt.Fprintln(out, key); err != nil {
			return errors.Wrap(err, "print key")
		}
	}
	return nil
}

// defaultPlans is the launch catalog. Stripe price IDs are placeholders until
// an admin replaces them through PUT /api/admin/plans.
func defaultPlans() []billing.Plan {
	return []billing.Plan{
		{
			ID: "featured-monthly", Name: "Featured listing", Kind: billing.PlanFeatured,
			Price: decimal.RequireFromString("99.00"), StripePriceID: "price_featured_monthly",
			Interval: "month", Active: true,
		},
		{
			ID: "leads-monthly", Name: "Lead subscription (20 leads/month)", Kind: billing.PlanLeadSubscription,
			Price: decimal.RequireFromString("149.00"), Credits: 20, StripePriceID: "price_leads_monthly",
			Interval: "month", Active: true,
		},
		{
			ID: "credits-10", Name: "10 lead credits", Kind: billing.PlanCreditPack,
			Price: decimal.RequireFromString("49.00"), Credits: 10, StripePriceID: "price_credits_10",
			Interval: "one_time", Active: true,
		},
	}
}
