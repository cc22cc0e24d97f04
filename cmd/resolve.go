package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tablescout/billing-cli/internal/model"
	"github.com/tablescout/billing-cli/internal/resolver"
)

var resolveFlags struct {
	customerID     string
	subscriptionID string
	email          string
	name           string
	phone          string
	businessName   string
	asJSON         bool
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a single billing identity against the entity store",
	Long:  "Runs the match cascade for one identity, the same path the webhook handler takes, and prints the result with the full attempt trail.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("resolve"); err != nil {
			return err
		}
		if resolveFlags.customerID == "" {
			return fmt.Errorf("--customer-id is required")
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

		identity := model.ExternalBillingIdentity{
			ExternalCustomerID: resolveFlags.customerID,
			Email:              resolveFlags.email,
			DisplayName:        resolveFlags.name,
			Phone:              resolveFlags.phone,
		}
		if resolveFlags.businessName != "" {
			identity.Metadata = map[string]string{
				model.MetadataBusinessNameKey: resolveFlags.businessName,
			}
		}

		result, err := resolver.New(st, policy).Resolve(ctx, identity, resolveFlags.subscriptionID)
		if err != nil {
			return err
		}

		if resolveFlags.asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		if result.Matched {
			fmt.Printf("matched: %s (%s) via %s, confidence %d\n",
				result.EntityName, result.EntityID, result.Method, result.Confidence)
		} else {
			fmt.Println("no match")
		}
		fmt.Println("attempts:")
		for _, a := range result.Attempts {
			status := "miss"
			if a.Found {
				status = fmt.Sprintf("hit %s (%d)", a.MatchedEntityID, a.Confidence)
			}
			fmt.Printf("  %-18s %-35q %s\n", a.Method, a.SearchedValue, status)
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveFlags.customerID, "customer-id", "", "external billing customer id (required)")
	resolveCmd.Flags().StringVar(&resolveFlags.subscriptionID, "subscription-id", "", "external subscription id being reconciled")
	resolveCmd.Flags().StringVar(&resolveFlags.email, "email", "", "customer email")
	resolveCmd.Flags().StringVar(&resolveFlags.name, "name", "", "customer display name")
	resolveCmd.Flags().StringVar(&resolveFlags.phone, "phone", "", "customer phone")
	resolveCmd.Flags().StringVar(&resolveFlags.businessName, "business-name", "", "declared business name (checkout metadata)")
	resolveCmd.Flags().BoolVar(&resolveFlags.asJSON, "json", false, "print the MatchResult as JSON")
	rootCmd.AddCommand(resolveCmd)
}
