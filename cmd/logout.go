package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"oidcflow/internal/useragent"
	"oidcflow/pkg/oauth"
)

var (
	revokeRefresh bool

	logoutNoBrowser bool
	logoutURLOnly   bool
	logoutTimeout   time.Duration
)

// revokeCmd represents the revoke command
var revokeCmd = &cobra.Command{
	Use:   "revoke [provider]",
	Short: "Revoke the stored access or refresh token",
	Long: `Revoke a token of the stored session at the provider's revocation
endpoint.

The access token is revoked by default. With --refresh the refresh token is
revoked instead, which ends the session; it is then removed locally.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRevoke,
}

// logoutCmd represents the logout command
var logoutCmd = &cobra.Command{
	Use:   "logout [provider]",
	Short: "Sign out and remove the local session",
	Long: `Sign out of a provider.

When the provider supports RP-initiated logout, its end-session page is
opened in the browser so the provider session ends too. The local session
is removed in every case.

Examples:
  oidcflow logout corp
  oidcflow logout corp --url-only    # Print the end-session URL only`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogout,
}

func init() {
	revokeCmd.Flags().BoolVar(&revokeRefresh, "refresh", false, "Revoke the refresh token and remove the session")
	logoutCmd.Flags().BoolVar(&logoutNoBrowser, "no-browser", false, "Print the end-session URL instead of opening a browser")
	logoutCmd.Flags().BoolVar(&logoutURLOnly, "url-only", false, "Do not wait for the provider; print the end-session URL")
	logoutCmd.Flags().DurationVar(&logoutTimeout, "timeout", 2*time.Minute, "Stop waiting for the provider after this long")

	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(logoutCmd)
}

func runRevoke(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	name, err := providerArg(a, args)
	if err != nil {
		return err
	}

	if err := a.manager.Revoke(cmd.Context(), name, revokeRefresh); err != nil {
		return err
	}
	kind := "access token"
	if revokeRefresh {
		kind = "refresh token"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Revoked the %s for %s\n", text.FgGreen.Sprint("✓"), kind, name)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	name, err := providerArg(a, args)
	if err != nil {
		return err
	}

	var agent oauth.ExternalUserAgent
	if !logoutURLOnly {
		opts := []useragent.LoopbackOption{useragent.WithOutput(cmd.ErrOrStderr())}
		if logoutNoBrowser {
			opts = append(opts, useragent.WithoutBrowser())
		}
		loopback := useragent.NewLoopbackAgent(a.cfg.Callback, opts...)
		defer loopback.Close()
		agent = loopback
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), logoutTimeout)
	defer cancel()

	result, err := a.manager.Logout(ctx, name, agent)
	if result.EndSessionURL != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "To end the provider session, open:\n\n  %s\n\n", result.EndSessionURL)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Signed out of %s\n", text.FgGreen.Sprint("✓"), name)
	return nil
}
