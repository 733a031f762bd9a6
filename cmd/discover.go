package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"oidcflow/pkg/oauth"
)

var discoverOutput string

// discoverCmd represents the discover command
var discoverCmd = &cobra.Command{
	Use:   "discover <provider|issuer>",
	Short: "Show the endpoints of a provider or issuer",
	Long: `Show the service configuration of a configured provider, or discover
the configuration of any issuer URL.

Examples:
  oidcflow discover corp
  oidcflow discover https://accounts.example.com -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().StringVarP(&discoverOutput, "output", "o", outputTable, "Output format (table, json, yaml)")

	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}

	var cfg *oauth.ServiceConfiguration
	if _, ok := a.cfg.Provider(args[0]); ok || !looksLikeURL(args[0]) {
		cfg, err = a.manager.ResolveConfiguration(cmd.Context(), args[0])
	} else {
		cfg, err = a.manager.Discover(cmd.Context(), args[0])
	}
	if err != nil {
		return err
	}

	if discoverOutput != outputTable {
		return writeStructured(cmd.OutOrStdout(), discoverOutput, cfg)
	}
	writeKeyValues(cmd.OutOrStdout(), map[string]string{
		"issuer":                        cfg.Issuer(),
		"authorization_endpoint":        cfg.AuthorizationEndpoint(),
		"token_endpoint":                cfg.TokenEndpoint(),
		"userinfo_endpoint":             cfg.UserinfoEndpoint(),
		"revocation_endpoint":           cfg.RevocationEndpoint(),
		"end_session_endpoint":          cfg.EndSessionEndpoint(),
		"registration_endpoint":         cfg.RegistrationEndpoint(),
		"device_authorization_endpoint": cfg.DeviceAuthorizationEndpoint(),
	})
	return nil
}

func looksLikeURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
