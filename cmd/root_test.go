package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"oidcflow/internal/authflow"
	"oidcflow/pkg/oauth"
)

func TestSetVersion(t *testing.T) {
	original := rootCmd.Version
	defer func() { rootCmd.Version = original }()

	testVersion := "1.2.3-test"
	SetVersion(testVersion)

	if GetVersion() != testVersion {
		t.Errorf("Expected version to be %s, got %s", testVersion, GetVersion())
	}
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "oidcflow" {
		t.Errorf("Expected Use to be 'oidcflow', got %s", rootCmd.Use)
	}

	if rootCmd.Short == "" {
		t.Error("Expected Short description to be set")
	}

	if rootCmd.Long == "" {
		t.Error("Expected Long description to be set")
	}

	if !rootCmd.SilenceUsage {
		t.Error("Expected SilenceUsage to be true")
	}

	for _, name := range []string{"config", "log-level", "log-format", "metrics-file"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("Expected persistent flag --%s", name)
		}
	}
}

func TestVersionTemplate(t *testing.T) {
	testCmd := &cobra.Command{
		Use:     "test",
		Version: "1.0.0",
	}
	testCmd.SetVersionTemplate(`{{printf "oidcflow version %s\n" .Version}}`)

	var buf bytes.Buffer
	testCmd.SetOut(&buf)
	testCmd.SetArgs([]string{"--version"})
	if err := testCmd.Execute(); err != nil {
		t.Fatalf("Error executing version command: %v", err)
	}

	if got, want := buf.String(), "oidcflow version 1.0.0\n"; got != want {
		t.Errorf("Expected version output %q, got %q", want, got)
	}
}

func TestSubcommands(t *testing.T) {
	expectedCommands := []string{
		"version", "self-update", "login", "device-login", "token", "userinfo",
		"status", "discover", "revoke", "logout", "register",
	}

	found := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		found[cmd.Name()] = true
	}

	for _, expected := range expectedCommands {
		if !found[expected] {
			t.Errorf("Expected subcommand %s to be registered", expected)
		}
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "generic error",
			err:  errors.New("boom"),
			want: ExitCodeError,
		},
		{
			name: "auth required",
			err:  fmt.Errorf("%w: no session for provider %q", authflow.ErrAuthRequired, "corp"),
			want: ExitCodeAuthRequired,
		},
		{
			name: "invalidated session",
			err:  fmt.Errorf("%w: %w", authflow.ErrAuthRequired,
				oauth.NewOAuthError(oauth.DomainToken, map[string]any{"error": "invalid_grant"})),
			want: ExitCodeAuthRequired,
		},
		{
			name: "provider rejected the authorization",
			err:  fmt.Errorf("authorization failed: %w", oauth.NewOAuthError(oauth.DomainAuthorization, map[string]any{"error": "access_denied"})),
			want: ExitCodeAuthFailed,
		},
		{
			name: "id token failed validation",
			err:  oauth.NewError(oauth.DomainGeneral, oauth.CodeIDTokenFailedValidationError, "nonce mismatch", nil),
			want: ExitCodeAuthFailed,
		},
		{
			name: "network error",
			err:  oauth.NewError(oauth.DomainGeneral, oauth.CodeNetworkError, "connection refused", nil),
			want: ExitCodeError,
		},
		{
			name: "user cancelled",
			err:  oauth.NewError(oauth.DomainGeneral, oauth.CodeUserCanceledAuthorizationFlow, "cancelled", nil),
			want: ExitCodeError,
		},
		{
			name: "context cancelled",
			err:  fmt.Errorf("authorization failed: %w", context.Canceled),
			want: ExitCodeError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getExitCode(tt.err); got != tt.want {
				t.Errorf("getExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestRootCommandHelp(t *testing.T) {
	out, err := executeCommand(t, "--help")
	if err != nil {
		t.Fatalf("Error executing help command: %v", err)
	}

	if !strings.Contains(out, "oidcflow") {
		t.Errorf("Help output should contain 'oidcflow'. Got: %q", out)
	}
	if !strings.Contains(out, "authorization code flow with PKCE") {
		t.Errorf("Help output should contain the long description. Got: %q", out)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := executeCommand(t, "version", "--log-level", "chatty")
	if err == nil || !strings.Contains(err.Error(), "unknown log level") {
		t.Fatalf("Expected log level error, got %v", err)
	}
}
