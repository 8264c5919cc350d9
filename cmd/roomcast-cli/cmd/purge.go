package cmd

import (
	"fmt"

	"github.com/nfrund/roomcast/internal/auth"
	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:   "purge-revoked",
	Short: "Delete expired revocation records",
	Long: `Removes revocation records whose expiry has passed. Records without an
expiry are kept. Safe to run while servers are live.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRevocations(cmd.Context(), func(revocations *auth.RevocationStore) error {
			n, err := revocations.PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired revocation records\n", n)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}
