package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tablescout/billing-cli/internal/model"
)

var unmatchedCmd = &cobra.Command{
	Use:   "unmatched",
	Short: "Review and resolve unmatched ledger records",
}

var unmatchedListFlags struct {
	status string
	limit  int
}

var unmatchedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unmatched ledger records",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("unmatched"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		recs, err := st.ListUnmatched(ctx, model.UnmatchedStatus(unmatchedListFlags.status), unmatchedListFlags.limit)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("no records")
			return nil
		}

		for _, r := range recs {
			fmt.Printf("%s  %-8s  %s  %q  %d attempts\n",
				r.ExternalSubscriptionID, r.Status, r.CustomerEmail,
				r.DeclaredBusinessName, len(r.MatchAttempts))
			if r.Status == model.UnmatchedMatched {
				fmt.Printf("    matched to %s by %s at %s\n",
					r.MatchedEntityID, r.MatchedBy, r.MatchedAt.Format("2006-01-02 15:04"))
			}
		}
		return nil
	},
}

var unmatchedConfirmBy string

var unmatchedConfirmCmd = &cobra.Command{
	Use:   "confirm <subscription-id> <entity-id>",
	Short: "Confirm a manual match for an unmatched record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("unmatched"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		subscriptionID, entityID := args[0], args[1]
		if err := st.ConfirmMatch(ctx, subscriptionID, entityID, unmatchedConfirmBy); err != nil {
			return err
		}
		fmt.Printf("confirmed %s -> %s\n", subscriptionID, entityID)
		return nil
	},
}

var unmatchedIgnoreCmd = &cobra.Command{
	Use:   "ignore <subscription-id>",
	Short: "Mark an unmatched record as ignored",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("unmatched"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.IgnoreUnmatched(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("ignored %s\n", args[0])
		return nil
	},
}

func init() {
	unmatchedListCmd.Flags().StringVar(&unmatchedListFlags.status, "status", "pending", "filter by status (pending|matched|ignored, empty for all)")
	unmatchedListCmd.Flags().IntVar(&unmatchedListFlags.limit, "limit", 50, "maximum records to list")
	unmatchedConfirmCmd.Flags().StringVar(&unmatchedConfirmBy, "by", "manual", "reviewer identifier recorded on the match")
	unmatchedCmd.AddCommand(unmatchedListCmd, unmatchedConfirmCmd, unmatchedIgnoreCmd)
	rootCmd.AddCommand(unmatchedCmd)
}
