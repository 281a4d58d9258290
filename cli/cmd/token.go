package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventfeed/cli/pkg/output"
	"github.com/telhawk-systems/eventfeed/pkg/credentials"
)

type tokenView struct {
	ClientID    string    `json:"client_id" yaml:"client_id"`
	AccessToken string    `json:"access_token" yaml:"access_token"`
	ValidUntil  time.Time `json:"valid_until" yaml:"valid_until"`
	NearExpiry  bool      `json:"near_expiry" yaml:"near_expiry"`
}

func printCredential(cmd *cobra.Command, cred *credentials.Credential) error {
	view := tokenView{
		ClientID:    cred.ClientID(),
		AccessToken: cred.AccessToken(),
		ValidUntil:  cred.ValidUntil(),
		NearExpiry:  cred.NearExpiry(),
	}
	return output.Print(outputFormat(cmd), view, func() *output.Table {
		t := output.NewTable("Client", "Token", "Valid Until", "Near Expiry")
		t.AddRow(view.ClientID, abbreviate(view.AccessToken), view.ValidUntil.Format(time.RFC3339), fmt.Sprintf("%t", view.NearExpiry))
		return t
	})
}

func abbreviate(token string) string {
	if len(token) <= 16 {
		return token
	}
	return token[:16] + "..."
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "OAuth2 token management",
	Long:  "Refresh, exchange, inspect and revoke the tokens used against the API",
}

var tokenRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cred, err := newCredential(ctx)
		if err != nil {
			return err
		}
		if err := cred.Refresh(ctx); err != nil {
			return fmt.Errorf("failed to refresh token: %w", err)
		}
		persistRotated(cred)
		return printCredential(cmd, cred)
	},
}

var tokenExchangeCmd = &cobra.Command{
	Use:   "exchange",
	Short: "Exchange an authorization code for a token pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		code, _ := cmd.Flags().GetString("code")
		redirect, _ := cmd.Flags().GetString("redirect-uri")

		cfg.Credentials.Code = code
		cfg.Credentials.AccessToken = ""
		cfg.Credentials.RefreshToken = ""
		if redirect != "" {
			cfg.Credentials.RedirectURI = redirect
		}

		cred, err := newCredential(cmd.Context())
		if err != nil {
			return err
		}
		persistRotated(cred)
		output.Success("Authorization code exchanged")
		if !saveTokens {
			output.Info("Refresh token: %s", cred.RefreshToken())
		}
		return printCredential(cmd, cred)
	},
}

var tokenInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the expiry of the configured access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Credentials.AccessToken == "" {
			return fmt.Errorf("no access token configured")
		}
		exp, err := credentials.ExpiryFromJWT(cfg.Credentials.AccessToken)
		if err != nil {
			return err
		}
		until := time.Unix(exp, 0)
		view := map[string]any{"valid_until": until, "expired": time.Now().After(until)}
		return output.Print(outputFormat(cmd), view, func() *output.Table {
			t := output.NewTable("Valid Until", "Expired")
			t.AddRow(until.Format(time.RFC3339), fmt.Sprintf("%t", time.Now().After(until)))
			return t
		})
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke the refresh token",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cred, err := newCredential(ctx)
		if err != nil {
			return err
		}
		if err := cred.Revoke(ctx); err != nil {
			return fmt.Errorf("failed to revoke token: %w", err)
		}
		output.Success("Refresh token revoked")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenRefreshCmd)
	tokenCmd.AddCommand(tokenExchangeCmd)
	tokenCmd.AddCommand(tokenInfoCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)

	tokenExchangeCmd.Flags().String("code", "", "Authorization code")
	tokenExchangeCmd.Flags().String("redirect-uri", "", "Redirect URI registered for the client (default: credentials.redirect_uri)")
	if err := tokenExchangeCmd.MarkFlagRequired("code"); err != nil {
		panic(fmt.Sprintf("failed to mark code as required: %v", err))
	}
}
