// Package logging provides structured logging for oidcflow with unified
// log handling and flexible output formatting.
//
// This package is built on Go's standard slog package, providing consistent
// logging behavior with structured output and level filtering.
//
// # Log Levels
//   - **Debug**: Detailed information such as discovery fetches and refresh scheduling
//   - **Info**: General informational messages about flows and sessions
//   - **Warn**: Warning messages that indicate potential issues
//   - **Error**: Error messages for failures and exceptional conditions
//
// # Usage Examples
//
//	// Initialize with Info level logging to stderr
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	// Or pick the handler explicitly
//	logging.Init(logging.LevelDebug, logging.FormatJSON, os.Stderr)
//
//	logging.Info("AuthFlow", "Starting login for provider %s", name)
//	logging.Error("StateStore", err, "Failed to persist state for %s", name)
//
//	// Components that take a *slog.Logger get one scoped to a subsystem
//	client := oauth.NewClient(oauth.WithLogger(logging.Logger("OAuthClient")))
//
// # Subsystem Organization
//
// Logs are tagged with a subsystem to enable filtering:
//
//   - **ConfigLoader**: Configuration loading and validation
//   - **OAuthClient**: Discovery and token endpoint traffic
//   - **AuthFlow**: Login, refresh, revocation and logout
//   - **UserAgent**: Loopback callback server and browser launch
//   - **StateStore**: Persistence of authorization state
//   - **Audit**: Security audit events, see below
//
// # Security Audit Events
//
// Audit writes an INFO line prefixed with SECURITY_AUDIT and an "event"
// attribute for storing, deleting, revoking and invalidating credentials.
// Token values are never logged; use oauth.RedactedToken where a token must
// appear in a structured attribute.
//
// # Controller-Runtime Integration
//
// Init also installs the handler as the controller-runtime logger, so the
// Kubernetes state store logs through the same output without warnings
// about uninitialized loggers.
//
// # Thread Safety
//
// All functions are safe for concurrent use. Init may be called again to
// replace the logger, for example after the configuration file is loaded.
package logging
