package cmd

import (
	"fmt"
	"time"

	"github.com/nfrund/roomcast/internal/auth"
	"github.com/nfrund/roomcast/internal/domain"
	"github.com/spf13/cobra"
)

var (
	revokeType      string
	revokeExpiresAt string
)

var revokeCmd = &cobra.Command{
	Use:   "revoke <token>",
	Short: "Revoke a credential",
	Long: `Records the credential's hash in the revocation store. New handshakes
presenting it are refused. The expiry defaults to the credential's exp claim;
without one the record is kept until removed by hand.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]
		typ := domain.TokenType(revokeType)
		if !typ.Valid() {
			return fmt.Errorf("--type must be %q or %q", domain.TokenAccess, domain.TokenRefresh)
		}
		expiresAt, err := revocationExpiry(token, revokeExpiresAt)
		if err != nil {
			return err
		}

		return withRevocations(cmd.Context(), func(revocations *auth.RevocationStore) error {
			if err := revocations.Revoke(cmd.Context(), token, typ, expiresAt); err != nil {
				return err
			}
			if expiresAt != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s credential until %s\n", typ, expiresAt.Format(time.RFC3339))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s credential\n", typ)
			}
			return nil
		})
	},
}

func init() {
	revokeCmd.Flags().StringVar(&revokeType, "type", string(domain.TokenAccess), "credential type: access or refresh")
	revokeCmd.Flags().StringVar(&revokeExpiresAt, "expires-at", "", "RFC3339 time after which the record may be purged")
	rootCmd.AddCommand(revokeCmd)
}

// revocationExpiry prefers an explicit flag, then the unverified exp claim.
func revocationExpiry(token, flag string) (*time.Time, error) {
	if flag != "" {
		t, err := time.Parse(time.RFC3339, flag)
		if err != nil {
			return nil, fmt.Errorf("--expires-at: %w", err)
		}
		return &t, nil
	}
	claims, err := auth.ParseUnverified(token)
	if err != nil {
		// Opaque credentials carry no expiry.
		return nil, nil
	}
	return claims.ExpiresAtTime(), nil
}
