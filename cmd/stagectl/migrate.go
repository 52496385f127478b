package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"capstone-hub/backend/pkg/database"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	})
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := database.RunMigrations(a.db, a.logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", a.cfg.Database.Driver)
	return nil
}
