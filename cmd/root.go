package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"oidcflow/internal/authflow"
	"oidcflow/internal/config"
	"oidcflow/internal/statestore"
	"oidcflow/pkg/logging"
	"oidcflow/pkg/oauth"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates there is no usable session and the user
	// has to log in.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the authorization server rejected a flow.
	ExitCodeAuthFailed = 3
)

// Global flags
var (
	configPath  string
	logLevel    string
	logFormat   string
	metricsFile string
)

// rootCmd represents the base command for the oidcflow application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "oidcflow",
	Short: "Sign in to OAuth 2.0 and OpenID Connect providers",
	Long: `oidcflow signs you in to OAuth 2.0 and OpenID Connect providers from the
command line and keeps the resulting sessions fresh.

It runs the authorization code flow with PKCE through your browser, the
device authorization flow for hosts without one, token refresh, revocation
and RP-initiated logout. Sessions are stored per provider and can be read
by scripts through the token command.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage:      true,
	PersistentPreRunE: initLogging,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "oidcflow version %s\n" .Version}}`)

	err := rootCmd.Execute()
	shutdownApp()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	if errors.Is(err, authflow.ErrAuthRequired) {
		return ExitCodeAuthRequired
	}

	var oauthErr *oauth.Error
	if errors.As(err, &oauthErr) {
		if isCancellation(err) {
			return ExitCodeError
		}
		if oauthErr.Domain != oauth.DomainGeneral || oauthErr.Code == oauth.CodeIDTokenFailedValidationError {
			return ExitCodeAuthFailed
		}
	}

	return ExitCodeError
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, oauth.NewError(oauth.DomainGeneral, oauth.CodeUserCanceledAuthorizationFlow, "", nil)) ||
		errors.Is(err, oauth.NewError(oauth.DomainGeneral, oauth.CodeProgramCanceledAuthorizationFlow, "", nil))
}

// initLogging applies the logging flags before any subcommand runs. The
// configuration file is read lazily by commands that need it.
func initLogging(cmd *cobra.Command, _ []string) error {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(logFormat)
	if err != nil {
		return err
	}
	logging.Init(level, format, cmd.ErrOrStderr())
	return nil
}

// appContext holds what a command needs to run flows. It is created on the
// first call to loadApp.
type appContext struct {
	configPath string
	cfg        config.Config
	store      statestore.Store
	manager    *authflow.Manager
	registry   *prometheus.Registry
}

var app *appContext

// loadApp reads the configuration, opens the session store and creates the
// flow manager.
func loadApp(ctx context.Context) (*appContext, error) {
	if app != nil {
		return app, nil
	}

	path := configPath
	if path == "" {
		var err error
		if path, err = config.GetDefaultConfigPath(); err != nil {
			return nil, err
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		var reported interface{ Report() string }
		if errors.As(err, &reported) {
			return nil, fmt.Errorf("invalid configuration:\n%s", reported.Report())
		}
		return nil, err
	}

	store, err := statestore.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	registry := prometheus.NewRegistry()
	app = &appContext{
		configPath: path,
		cfg:        cfg,
		store:      store,
		manager:    authflow.NewManager(cfg, store, authflow.WithMetrics(authflow.NewMetrics(registry))),
		registry:   registry,
	}
	return app, nil
}

// shutdownApp writes the metrics file and releases the store.
func shutdownApp() {
	if app == nil {
		return
	}
	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(metricsFile, app.registry); err != nil {
			logging.Error("CLI", err, "Failed to write metrics to %s", metricsFile)
		}
	}
	if closer, ok := app.store.(io.Closer); ok {
		_ = closer.Close()
	}
	app = nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration directory (default is $HOME/.config/oidcflow)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write flow metrics in Prometheus text format to this file on exit")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}
