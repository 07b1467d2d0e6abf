package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hitchin999/unifi-connect-display/internal/auth"
	"github.com/hitchin999/unifi-connect-display/internal/infrastructure/config"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token",
		Long: `Signs a token with security.jwt.secret from the config file. Viewers can
read devices and models; operators can also send commands and read the audit log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.resolveConfigPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if !cfg.AuthEnabled() {
				return fmt.Errorf("security.jwt.secret is not set; API authentication is disabled")
			}
			lifetime := ttl
			if lifetime <= 0 {
				lifetime = cfg.AccessTokenTTL()
			}

			token, err := auth.GenerateToken(auth.TokenRequest{
				Subject: subject,
				Role:    auth.Role(role),
				Issuer:  cfg.Security.JWT.Issuer,
				TTL:     lifetime,
			}, cfg.Security.JWT.Secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Token subject, recorded in the audit log (required)")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "Role: viewer or operator")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default: security.jwt.access_token_ttl)")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}
