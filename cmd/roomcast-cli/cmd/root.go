package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/nfrund/roomcast/internal/app"
	"github.com/nfrund/roomcast/internal/auth"
	"github.com/nfrund/roomcast/internal/config"
	"github.com/nfrund/roomcast/internal/logging"
	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "roomcast-cli",
	Short: "Roomcast operator tool",
	Long: `roomcast-cli runs maintenance tasks against the roomcast store.

Available commands:
  revoke           Revoke an access or refresh credential
  purge-revoked    Delete revocation records whose credentials have expired
  version          Print the version

Configuration is read from the environment and .env, like the server.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

// withRevocations loads configuration, opens the store and runs fn against
// the revocation store. The store is closed afterwards.
func withRevocations(ctx context.Context, fn func(*auth.RevocationStore) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.New("text", logLevel)

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Shutdown(context.WithoutCancel(ctx)); err != nil {
			fmt.Fprintln(os.Stderr, "shutdown:", err)
		}
	}()

	revocations, err := a.Revocations()
	if err != nil {
		return err
	}
	return fn(revocations)
}
