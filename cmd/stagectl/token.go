package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"capstone-hub/backend/config"
	"capstone-hub/backend/pkg/jwt"
)

func init() {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development access token signed with auth.jwt_secret",
		Args:  cobra.NoArgs,
		RunE:  runToken,
	}
	tokenCmd.Flags().String("user", "dev-admin", "user id claim")
	tokenCmd.Flags().String("role", "admin", "role claim")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("token: auth.jwt_secret is not configured")
	}

	user, _ := cmd.Flags().GetString("user")
	role, _ := cmd.Flags().GetString("role")
	token, err := jwt.NewManager(&cfg.Auth).GenerateAccessToken(user, role)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
