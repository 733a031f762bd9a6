package cmd

import (
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"oidcflow/internal/authflow"
	"oidcflow/internal/config"
	pkgstrings "oidcflow/pkg/strings"
)

// Register-specific flags
var (
	registerIssuer             string
	registerRedirectURIs       []string
	registerClientName         string
	registerAuthMethod         string
	registerInitialAccessToken string
	registerSave               string
	registerScopes             []string
	registerOutput             string
	registerShowSecret         bool
)

// registerCmd represents the register command
var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a client with an issuer",
	Long: `Register a new client with dynamic client registration.

The issuer is discovered to find its registration endpoint. With --save the
issued client is added to the configuration as a new provider, ready for
login.

Examples:
  oidcflow register --issuer https://accounts.example.com --save example
  oidcflow register --issuer https://accounts.example.com \
    --redirect-uri http://127.0.0.1:8765/callback --client-name "my laptop"`,
	Args: cobra.NoArgs,
	RunE: runRegister,
}

func init() {
	registerCmd.Flags().StringVar(&registerIssuer, "issuer", "", "Issuer URL to register with (required)")
	registerCmd.Flags().StringArrayVar(&registerRedirectURIs, "redirect-uri", nil, "Redirect URI to register (repeatable; default is the loopback callback)")
	registerCmd.Flags().StringVar(&registerClientName, "client-name", "oidcflow", "Human readable client name")
	registerCmd.Flags().StringVar(&registerAuthMethod, "auth-method", "", "Token endpoint authentication method to request (e.g. none, client_secret_basic)")
	registerCmd.Flags().StringVar(&registerInitialAccessToken, "initial-access-token", "", "Initial access token for providers that require one")
	registerCmd.Flags().StringVar(&registerSave, "save", "", "Save the client as a provider with this name")
	registerCmd.Flags().StringSliceVar(&registerScopes, "scopes", []string{"openid", "email", "profile"}, "Scopes of the saved provider")
	registerCmd.Flags().BoolVar(&registerShowSecret, "show-secret", false, "Print the client secret instead of masking it")
	registerCmd.Flags().StringVarP(&registerOutput, "output", "o", outputTable, "Output format (table, json, yaml)")
	_ = registerCmd.MarkFlagRequired("issuer")

	rootCmd.AddCommand(registerCmd)
}

func runRegister(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	if registerSave != "" {
		if _, exists := a.cfg.Provider(registerSave); exists {
			return fmt.Errorf("provider %q already exists in the configuration", registerSave)
		}
	}

	redirectURIs := registerRedirectURIs
	if len(redirectURIs) == 0 {
		redirectURIs = []string{authflow.DefaultRedirectURI(a.cfg.Callback)}
	}

	resp, err := a.manager.Register(cmd.Context(), authflow.RegistrationOptions{
		Issuer:             registerIssuer,
		RedirectURIs:       redirectURIs,
		ClientName:         registerClientName,
		AuthMethod:         registerAuthMethod,
		InitialAccessToken: registerInitialAccessToken,
	})
	if err != nil {
		return err
	}

	if registerSave != "" {
		cfg := a.cfg
		cfg.Providers[registerSave] = config.ProviderConfig{
			Issuer:       registerIssuer,
			ClientID:     resp.ClientID,
			ClientSecret: resp.ClientSecret,
			Scopes:       registerScopes,
			RedirectURI:  redirectURIs[0],
		}
		if err := config.SaveConfig(a.configPath, cfg); err != nil {
			return errors.Join(fmt.Errorf("client %s was registered but not saved", resp.ClientID), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Registered client %s and saved it as provider %s\n",
			text.FgGreen.Sprint("✓"), resp.ClientID, registerSave)
		return nil
	}

	secret := resp.ClientSecret
	if !registerShowSecret {
		secret = pkgstrings.Mask(secret)
	}
	if registerOutput != outputTable {
		return writeStructured(cmd.OutOrStdout(), registerOutput, map[string]string{
			"client_id":     resp.ClientID,
			"client_secret": secret,
		})
	}
	writeKeyValues(cmd.OutOrStdout(), map[string]string{
		"client_id":                  resp.ClientID,
		"client_secret":              secret,
		"token_endpoint_auth_method": resp.TokenEndpointAuthMethod,
		"registration_client_uri":    resp.RegistrationClientURI,
	})
	return nil
}
