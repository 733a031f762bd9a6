package authflow

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"oidcflow/internal/config"
	"oidcflow/internal/statestore"
	"oidcflow/pkg/oauth"
)

const (
	testClientID = "cli"
	testProvider = "corp"
)

// fakeProvider is an in-process OpenID provider covering every endpoint a
// Manager calls.
type fakeProvider struct {
	t      *testing.T
	server *httptest.Server

	mu             sync.Mutex
	nonce          string
	issued         int
	grants         []string
	refreshError   string
	pendingPolls   int
	revoked        []url.Values
	registrations  []map[string]any
	noEndSession   bool
	userinfoTokens []string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{t: t}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("/token", p.handleToken)
	mux.HandleFunc("/device", p.handleDevice)
	mux.HandleFunc("/revoke", p.handleRevoke)
	mux.HandleFunc("/register", p.handleRegister)
	mux.HandleFunc("/userinfo", p.handleUserinfo)

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) issuer() string { return p.server.URL }

func (p *fakeProvider) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(p.t, json.NewEncoder(w).Encode(body))
}

func (p *fakeProvider) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]any{
		"issuer":                        p.issuer(),
		"authorization_endpoint":        p.issuer() + "/authorize",
		"token_endpoint":                p.issuer() + "/token",
		"revocation_endpoint":           p.issuer() + "/revoke",
		"registration_endpoint":         p.issuer() + "/register",
		"device_authorization_endpoint": p.issuer() + "/device",
		"userinfo_endpoint":             p.issuer() + "/userinfo",
		"jwks_uri":                      p.issuer() + "/jwks",
		"response_types_supported":      []string{"code"},
	}
	p.mu.Lock()
	if !p.noEndSession {
		doc["end_session_endpoint"] = p.issuer() + "/logout"
	}
	p.mu.Unlock()
	p.writeJSON(w, http.StatusOK, doc)
}

func (p *fakeProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	require.NoError(p.t, r.ParseForm())
	grant := r.PostForm.Get("grant_type")

	p.mu.Lock()
	p.grants = append(p.grants, grant)
	refreshError := p.refreshError
	pending := p.pendingPolls > 0
	if grant == oauth.GrantTypeDeviceCode && pending {
		p.pendingPolls--
	}
	p.mu.Unlock()

	switch grant {
	case oauth.GrantTypeAuthorizationCode:
		if r.PostForm.Get("code") != "code-1" || r.PostForm.Get("code_verifier") == "" {
			p.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
			return
		}
	case oauth.GrantTypeRefreshToken:
		if refreshError != "" {
			p.writeJSON(w, http.StatusBadRequest, map[string]any{"error": refreshError})
			return
		}
	case oauth.GrantTypeDeviceCode:
		if pending {
			p.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "authorization_pending"})
			return
		}
	default:
		p.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
		return
	}

	p.writeJSON(w, http.StatusOK, p.issueTokens(grant != oauth.GrantTypeRefreshToken))
}

func (p *fakeProvider) issueTokens(withIDToken bool) map[string]any {
	p.mu.Lock()
	p.issued++
	n := p.issued
	nonce := p.nonce
	p.mu.Unlock()

	body := map[string]any{
		"access_token":  fmt.Sprintf("at-%d", n),
		"refresh_token": fmt.Sprintf("rt-%d", n),
		"token_type":    "Bearer",
		"expires_in":    3600,
		"scope":         "openid email",
	}
	if withIDToken {
		now := time.Now()
		claims := jwt.MapClaims{
			"iss":   p.issuer(),
			"sub":   "user-1",
			"aud":   testClientID,
			"exp":   now.Add(time.Hour).Unix(),
			"iat":   now.Unix(),
			"email": "user@example.com",
		}
		if nonce != "" {
			claims["nonce"] = nonce
		}
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
		require.NoError(p.t, err)
		body["id_token"] = raw
	}
	return body
}

func (p *fakeProvider) handleDevice(w http.ResponseWriter, _ *http.Request) {
	p.writeJSON(w, http.StatusOK, map[string]any{
		"device_code":      "dc-1",
		"user_code":        "ABCD-EFGH",
		"verification_uri": p.issuer() + "/activate",
		"expires_in":       60,
		"interval":         1,
	})
}

func (p *fakeProvider) handleRevoke(w http.ResponseWriter, r *http.Request) {
	require.NoError(p.t, r.ParseForm())
	p.mu.Lock()
	p.revoked = append(p.revoked, r.PostForm)
	p.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (p *fakeProvider) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	require.NoError(p.t, json.NewDecoder(r.Body).Decode(&body))
	p.mu.Lock()
	p.registrations = append(p.registrations, body)
	p.mu.Unlock()
	p.writeJSON(w, http.StatusCreated, map[string]any{
		"client_id":                "registered-client",
		"client_secret":            "registered-secret",
		"client_secret_expires_at": 0,
	})
}

func (p *fakeProvider) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	p.mu.Lock()
	p.userinfoTokens = append(p.userinfoTokens, token)
	p.mu.Unlock()
	p.writeJSON(w, http.StatusOK, map[string]any{"sub": "user-1", "email": "user@example.com"})
}

func (p *fakeProvider) set(fn func(p *fakeProvider)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *fakeProvider) revokedForms() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]url.Values(nil), p.revoked...)
}

func (p *fakeProvider) registrationBodies() []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string]any(nil), p.registrations...)
}

func (p *fakeProvider) userinfoCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.userinfoTokens...)
}

func (p *fakeProvider) grantTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.grants...)
}

// redirectingAgent plays the browser: it reads the request URL and sends
// the redirect straight back to the session.
type redirectingAgent struct {
	provider *fakeProvider
	redirect func(query url.Values) url.Values

	mu        sync.Mutex
	presented []string
	dismissed int
}

func (a *redirectingAgent) Present(request oauth.ExternalUserAgentRequest, session oauth.ExternalUserAgentSession) bool {
	raw, err := request.ExternalUserAgentURL()
	if err != nil {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	query := u.Query()

	a.mu.Lock()
	a.presented = append(a.presented, raw)
	a.mu.Unlock()
	if a.provider != nil {
		a.provider.mu.Lock()
		a.provider.nonce = query.Get("nonce")
		a.provider.mu.Unlock()
	}

	response := url.Values{"code": {"code-1"}, "state": {query.Get("state")}}
	if a.redirect != nil {
		response = a.redirect(query)
	}
	if response == nil {
		return true
	}
	go func() {
		_, _ = session.ResumeExternalUserAgentFlow(request.ExternalUserAgentRedirectURI() + "?" + response.Encode())
	}()
	return true
}

func (a *redirectingAgent) Dismiss(_ bool, onComplete func()) {
	a.mu.Lock()
	a.dismissed++
	a.mu.Unlock()
	onComplete()
}

func (a *redirectingAgent) lastURL(t *testing.T) *url.URL {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.presented)
	u, err := url.Parse(a.presented[len(a.presented)-1])
	require.NoError(t, err)
	return u
}

func testConfig(p *fakeProvider) config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Storage.Type = config.StorageTypeFile
	cfg.Providers[testProvider] = config.ProviderConfig{
		Issuer:                p.issuer(),
		ClientID:              testClientID,
		Scopes:                []string{"openid", "email"},
		RedirectURI:           "http://127.0.0.1:8765/callback",
		PostLogoutRedirectURI: "http://127.0.0.1:8765/logged-out",
	}
	return cfg
}

func newTestManager(t *testing.T, p *fakeProvider) (*Manager, *statestore.MemoryStore, *prometheus.Registry) {
	t.Helper()
	store := statestore.NewMemoryStore()
	reg := prometheus.NewRegistry()
	m := NewManager(testConfig(p), store,
		WithClient(oauth.NewClient(oauth.WithHTTPClient(p.server.Client()))),
		WithMetrics(NewMetrics(reg)))
	return m, store, reg
}
