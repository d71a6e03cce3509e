package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func accountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List the account IDs behind the configured Plaid item",
		Long: `Fetch and print the Plaid account IDs reachable with the configured
access token. Useful when first setting up a connection.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := plaidClient()
			if err != nil {
				return err
			}

			ids, err := client.GetAccounts(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to fetch accounts: %w", err)
			}

			if len(ids) == 0 {
				fmt.Println("No accounts found for this access token.")
				return nil
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}
