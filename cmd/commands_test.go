package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidcflow/internal/authflow"
	"oidcflow/internal/config"
	"oidcflow/pkg/auth"
)

// executeCommand runs the root command with args and returns what it wrote
// to stdout. Flags are reset first so earlier runs do not leak into it.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	shutdownApp()
	return stdout.String(), err
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			var values []string
			if def := strings.Trim(f.DefValue, "[]"); def != "" {
				values = strings.Split(def, ",")
			}
			_ = sv.Replace(values)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// fakeIssuer serves discovery and registration for command tests.
type fakeIssuer struct {
	server *httptest.Server

	mu            sync.Mutex
	registrations []map[string]any
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()
	f := &fakeIssuer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{
			"issuer":                 f.server.URL,
			"authorization_endpoint": f.server.URL + "/authorize",
			"token_endpoint":         f.server.URL + "/token",
			"registration_endpoint":  f.server.URL + "/register",
			"end_session_endpoint":   f.server.URL + "/logout",
		})
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.registrations = append(f.registrations, body)
		f.mu.Unlock()
		writeTestJSON(w, http.StatusCreated, map[string]any{
			"client_id":                "issued-client",
			"client_secret":            "issued-secret",
			"client_secret_expires_at": 0,
		})
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func writeTestJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeTestConfig creates a configuration directory with one provider for
// issuer and returns its path.
func writeTestConfig(t *testing.T, issuer string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.GetDefaultConfig()
	cfg.Storage.Dir = filepath.Join(dir, "sessions")
	cfg.Providers["corp"] = config.ProviderConfig{
		Issuer:   issuer,
		ClientID: "cli",
		Scopes:   []string{"openid"},
	}
	require.NoError(t, config.SaveConfig(dir, cfg))
	return dir
}

func TestDiscoverCommand(t *testing.T) {
	issuer := newFakeIssuer(t)
	dir := writeTestConfig(t, issuer.server.URL)

	t.Run("configured provider", func(t *testing.T) {
		out, err := executeCommand(t, "--config", dir, "discover", "corp", "-o", "json")
		require.NoError(t, err)

		var doc map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &doc))
		assert.Equal(t, issuer.server.URL+"/token", doc["token_endpoint"])
		assert.Equal(t, issuer.server.URL+"/logout", doc["end_session_endpoint"])
	})

	t.Run("issuer URL", func(t *testing.T) {
		out, err := executeCommand(t, "--config", dir, "discover", issuer.server.URL, "-o", "yaml")
		require.NoError(t, err)
		assert.Contains(t, out, "authorization_endpoint: "+issuer.server.URL+"/authorize")
	})

	t.Run("table", func(t *testing.T) {
		out, err := executeCommand(t, "--config", dir, "discover", "corp")
		require.NoError(t, err)
		assert.Contains(t, out, "registration_endpoint")
		assert.Contains(t, out, issuer.server.URL+"/register")
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := executeCommand(t, "--config", dir, "discover", "nope")
		require.ErrorIs(t, err, authflow.ErrUnknownProvider)
	})
}

func TestStatusCommand_NotLoggedIn(t *testing.T) {
	dir := writeTestConfig(t, "https://idp.example.com")

	out, err := executeCommand(t, "--config", dir, "status", "-o", "json")
	require.NoError(t, err)

	var resp auth.StatusResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, "corp", resp.Sessions[0].Provider)
	assert.Equal(t, auth.StatusNotLoggedIn, resp.Sessions[0].Status)
	assert.Equal(t, "https://idp.example.com", resp.Sessions[0].Issuer)
}

func TestStatusCommand_WatchNeedsFileStore(t *testing.T) {
	dir := t.TempDir()
	cfg := config.GetDefaultConfig()
	cfg.Storage.Type = config.StorageTypeRedis
	cfg.Storage.Redis.Addr = "127.0.0.1:1"
	require.NoError(t, config.SaveConfig(dir, cfg))

	_, err := executeCommand(t, "--config", dir, "status", "--watch")
	require.Error(t, err)
}

func TestTokenCommand_WithoutSession(t *testing.T) {
	dir := writeTestConfig(t, "https://idp.example.com")

	_, err := executeCommand(t, "--config", dir, "token")
	require.ErrorIs(t, err, authflow.ErrAuthRequired)
	assert.Equal(t, ExitCodeAuthRequired, getExitCode(err))
}

func TestLogoutCommand_WithoutSession(t *testing.T) {
	dir := writeTestConfig(t, "https://idp.example.com")

	out, err := executeCommand(t, "--config", dir, "logout", "corp", "--url-only")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed out of corp")
}

func TestRegisterCommand_Save(t *testing.T) {
	issuer := newFakeIssuer(t)
	dir := writeTestConfig(t, "https://idp.example.com")

	out, err := executeCommand(t, "--config", dir, "register",
		"--issuer", issuer.server.URL,
		"--client-name", "laptop",
		"--auth-method", "none",
		"--save", "dynamic")
	require.NoError(t, err)
	assert.Contains(t, out, "issued-client")

	issuer.mu.Lock()
	require.Len(t, issuer.registrations, 1)
	body := issuer.registrations[0]
	issuer.mu.Unlock()
	assert.Equal(t, "laptop", body["client_name"])
	assert.Equal(t, "none", body["token_endpoint_auth_method"])
	assert.Equal(t, []any{"http://127.0.0.1:8765/callback"}, body["redirect_uris"])

	cfg, err := config.LoadConfig(dir)
	require.NoError(t, err)
	saved, ok := cfg.Provider("dynamic")
	require.True(t, ok)
	assert.Equal(t, "issued-client", saved.ClientID)
	assert.Equal(t, "issued-secret", saved.ClientSecret)
	assert.Equal(t, issuer.server.URL, saved.Issuer)
	assert.Equal(t, []string{"openid", "email", "profile"}, saved.Scopes)

	_, err = executeCommand(t, "--config", dir, "register", "--issuer", issuer.server.URL, "--save", "dynamic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestMetricsFile(t *testing.T) {
	issuer := newFakeIssuer(t)
	dir := writeTestConfig(t, issuer.server.URL)
	metrics := filepath.Join(t.TempDir(), "oidcflow.prom")

	_, err := executeCommand(t, "--config", dir, "--metrics-file", metrics, "token")
	require.Error(t, err)

	_, statErr := os.Stat(metrics)
	require.NoError(t, statErr)
}

func TestProviderArg(t *testing.T) {
	a := &appContext{configPath: "/tmp/cfg", cfg: config.GetDefaultConfig()}

	_, err := providerArg(a, nil)
	require.Error(t, err)

	a.cfg.Providers["corp"] = config.ProviderConfig{}
	name, err := providerArg(a, nil)
	require.NoError(t, err)
	assert.Equal(t, "corp", name)

	a.cfg.Providers["other"] = config.ProviderConfig{}
	_, err = providerArg(a, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[corp other]")

	name, err = providerArg(a, []string{"other"})
	require.NoError(t, err)
	assert.Equal(t, "other", name)
}

func TestConfigErrorIsReported(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("providers:\n  corp:\n    clientID: cli\n"), 0600))

	_, err := executeCommand(t, "--config", dir, "status")
	require.Error(t, err)
	assert.False(t, errors.Is(err, authflow.ErrAuthRequired))
	assert.Contains(t, err.Error(), "invalid configuration")
}
