package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"oidcflow/internal/useragent"
	"oidcflow/pkg/oauth"
)

// Login-specific flags
var (
	loginManual    bool
	loginNoBrowser bool
	loginTimeout   time.Duration

	deviceTimeout time.Duration
)

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login [provider]",
	Short: "Sign in with the browser",
	Long: `Sign in to a provider with the authorization code flow and PKCE.

The authorization page opens in your browser and the redirect is received
on a loopback listener. With --manual nothing listens; paste the URL the
browser ends up on instead.

The provider may be omitted when only one is configured.

Examples:
  oidcflow login                       # Sign in to the only configured provider
  oidcflow login corp                  # Sign in to the "corp" provider
  oidcflow login corp --no-browser     # Print the URL instead of opening it
  oidcflow login corp --manual         # Paste the redirect URL by hand`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

// deviceLoginCmd represents the device-login command
var deviceLoginCmd = &cobra.Command{
	Use:   "device-login [provider]",
	Short: "Sign in with a code on another device",
	Long: `Sign in with the device authorization grant.

A short code is shown together with a verification address. Open the
address on any device, enter the code and approve the request; this
command waits until the provider reports the outcome.

Examples:
  oidcflow device-login corp`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDeviceLogin,
}

func init() {
	loginCmd.Flags().BoolVar(&loginManual, "manual", false, "Paste the redirect URL instead of listening for it")
	loginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	loginCmd.Flags().DurationVar(&loginTimeout, "timeout", 5*time.Minute, "Give up when sign-in takes longer than this")
	deviceLoginCmd.Flags().DurationVar(&deviceTimeout, "timeout", 15*time.Minute, "Give up when approval takes longer than this")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(deviceLoginCmd)
}

// providerArg returns the provider named on the command line, or the only
// configured provider when none is named.
func providerArg(a *appContext, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	names := make([]string, 0, len(a.cfg.Providers))
	for name := range a.cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	switch len(names) {
	case 0:
		return "", fmt.Errorf("no providers configured in %s", a.configPath)
	case 1:
		return names[0], nil
	default:
		return "", fmt.Errorf("several providers are configured, name one of: %v", names)
	}
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	name, err := providerArg(a, args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), loginTimeout)
	defer cancel()

	var agent oauth.ExternalUserAgent
	if loginManual {
		agent = useragent.NewManualAgent(useragent.WithManualOutput(cmd.ErrOrStderr()))
	} else {
		opts := []useragent.LoopbackOption{useragent.WithOutput(cmd.ErrOrStderr())}
		if loginNoBrowser {
			opts = append(opts, useragent.WithoutBrowser())
		}
		loopback := useragent.NewLoopbackAgent(a.cfg.Callback, opts...)
		defer loopback.Close()
		agent = loopback
	}

	state, err := a.manager.Login(ctx, name, agent)
	if err != nil {
		return err
	}
	printSignedIn(cmd, name, state)
	return nil
}

func runDeviceLogin(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	name, err := providerArg(a, args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), deviceTimeout)
	defer cancel()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
	s.Suffix = " Waiting for approval..."
	defer s.Stop()

	state, err := a.manager.DeviceLogin(ctx, name, func(resp *oauth.DeviceAuthorizationResponse) {
		printDevicePrompt(cmd, resp)
		s.Start()
	})
	s.Stop()
	if err != nil {
		return err
	}
	printSignedIn(cmd, name, state)
	return nil
}

func printDevicePrompt(cmd *cobra.Command, resp *oauth.DeviceAuthorizationResponse) {
	w := cmd.ErrOrStderr()
	fmt.Fprintf(w, "To sign in, open %s\n", text.Bold.Sprint(resp.VerificationURI))
	fmt.Fprintf(w, "and enter the code %s\n", text.FgHiYellow.Sprint(resp.UserCode))
	if resp.VerificationURIComplete != "" {
		fmt.Fprintf(w, "\nOr open %s directly.\n", resp.VerificationURIComplete)
	}
	if !resp.Expiry.IsZero() {
		fmt.Fprintf(w, "\nThe code expires at %s.\n", resp.Expiry.Local().Format(time.Kitchen))
	}
	fmt.Fprintln(w)
}

func printSignedIn(cmd *cobra.Command, name string, state *oauth.AuthState) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s Signed in to %s", text.FgGreen.Sprint("✓"), name)
	if expiry := state.AccessTokenExpiry(); !expiry.IsZero() {
		fmt.Fprintf(cmd.OutOrStdout(), " (access token valid until %s)", expiry.Local().Format(time.RFC3339))
	}
	fmt.Fprintln(cmd.OutOrStdout())
}
