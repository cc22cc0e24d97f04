package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tablescout/billing-cli/internal/model"
	"github.com/tablescout/billing-cli/internal/recon"
	"github.com/tablescout/billing-cli/internal/resilience"
	"github.com/tablescout/billing-cli/internal/resolver"
	"github.com/tablescout/billing-cli/pkg/stripeapi"
)

var reconcileConcurrency int

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one batch reconciliation pass against the billing provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("reconcile"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		policy, err := loadPolicy()
		if err != nil {
			return err
		}

		provider, err := stripeapi.NewClient(stripeapi.Config{
			APIKey:            cfg.Stripe.Key,
			RequestsPerSecond: cfg.Stripe.RequestsPerSecond,
			RequestTimeout:    time.Duration(cfg.Stripe.RequestTimeoutSecs) * time.Second,
			Retry: resilience.RetryConfig{
				MaxAttempts:    cfg.Stripe.MaxRetryAttempts,
				InitialBackoff: time.Duration(cfg.Stripe.InitialBackoffMilli) * time.Millisecond,
			},
		})
		if err != nil {
			return err
		}

		concurrency := cfg.Recon.Concurrency
		if reconcileConcurrency > 0 {
			concurrency = reconcileConcurrency
		}

		driver := recon.NewDriver(provider, st, resolver.New(st, policy), recon.Config{
			ConsumerPriceIDs:           cfg.Recon.ConsumerPriceIDs,
			PromoterPriceIDs:           cfg.Recon.PromoterPriceIDs,
			PremiumThresholdMinorUnits: cfg.Recon.PremiumThresholdMinorUnits,
			Concurrency:                concurrency,
		})

		report, err := driver.Reconcile(ctx)
		if err != nil {
			return err
		}

		printReport(report)
		return nil
	},
}

func printReport(r *model.ReconciliationReport) {
	fmt.Printf("Reconciliation run %s (%s)\n", r.RunID, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Printf("  total subscriptions: %d\n", r.Total)
	fmt.Printf("  already linked:      %d\n", r.AlreadyLinked)
	fmt.Printf("  skipped products:    %d\n", r.Skipped)
	fmt.Printf("  newly matched:       %d\n", len(r.NewlyMatched))
	for _, m := range r.NewlyMatched {
		fmt.Printf("    %s -> %s (%s, %s %d, tier %s)\n",
			m.SubscriptionID, m.EntityName, m.EntityID, m.Method, m.Confidence, m.Tier)
	}
	fmt.Printf("  unmatched:           %d\n", len(r.Unmatched))
	for _, id := range r.Unmatched {
		fmt.Printf("    %s\n", id)
	}
	if len(r.Errors) > 0 {
		fmt.Printf("  errors:              %d\n", len(r.Errors))
		for _, e := range r.Errors {
			fmt.Printf("    %s\n", e)
		}
	}
}

func init() {
	reconcileCmd.Flags().IntVar(&reconcileConcurrency, "concurrency", 0, "worker pool size (default from config)")
	rootCmd.AddCommand(reconcileCmd)
}
