package authflow

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidcflow/internal/config"
	"oidcflow/internal/statestore"
	"oidcflow/pkg/auth"
	"oidcflow/pkg/oauth"
)

func login(t *testing.T, m *Manager, p *fakeProvider) *oauth.AuthState {
	t.Helper()
	state, err := m.Login(context.Background(), testProvider, &redirectingAgent{provider: p})
	require.NoError(t, err)
	return state
}

func TestManager_Login(t *testing.T) {
	p := newFakeProvider(t)
	m, store, _ := newTestManager(t, p)
	agent := &redirectingAgent{provider: p}

	state, err := m.Login(context.Background(), testProvider, agent)
	require.NoError(t, err)

	assert.True(t, state.IsAuthorized())
	assert.Equal(t, "at-1", state.AccessToken())
	assert.Equal(t, "rt-1", state.RefreshToken())
	assert.NotEmpty(t, state.IDToken())

	authURL := agent.lastURL(t)
	query := authURL.Query()
	assert.Equal(t, p.issuer()+"/authorize", authURL.Scheme+"://"+authURL.Host+authURL.Path)
	assert.Equal(t, testClientID, query.Get("client_id"))
	assert.Equal(t, "http://127.0.0.1:8765/callback", query.Get("redirect_uri"))
	assert.Equal(t, "openid email", query.Get("scope"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	assert.NotEmpty(t, query.Get("code_challenge"))
	assert.NotEmpty(t, query.Get("nonce"))
	assert.Equal(t, 1, agent.dismissed)

	stored, err := store.Load(context.Background(), testProvider)
	require.NoError(t, err)
	assert.Equal(t, "at-1", stored.AccessToken())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.flows.WithLabelValues(flowAuthorizationCode, outcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.tokenRequests.WithLabelValues(oauth.GrantTypeAuthorizationCode, outcomeSuccess)))
}

func TestManager_LoginAccessDenied(t *testing.T) {
	p := newFakeProvider(t)
	m, store, _ := newTestManager(t, p)
	agent := &redirectingAgent{provider: p, redirect: func(q url.Values) url.Values {
		return url.Values{"error": {"access_denied"}, "state": {q.Get("state")}}
	}}

	_, err := m.Login(context.Background(), testProvider, agent)
	require.Error(t, err)
	assert.True(t, oauth.IsOAuthError(err, "access_denied"))

	_, err = store.Load(context.Background(), testProvider)
	assert.ErrorIs(t, err, statestore.ErrNotFound)
	assert.Empty(t, p.grantTypes())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.flows.WithLabelValues(flowAuthorizationCode, outcomeRejected)))
}

func TestManager_LoginStateMismatch(t *testing.T) {
	p := newFakeProvider(t)
	m, _, _ := newTestManager(t, p)
	agent := &redirectingAgent{provider: p, redirect: func(url.Values) url.Values {
		return url.Values{"code": {"code-1"}, "state": {"forged"}}
	}}

	_, err := m.Login(context.Background(), testProvider, agent)
	require.Error(t, err)
	assert.True(t, oauth.HasDomain(err, oauth.DomainAuthorization))
	assert.Empty(t, p.grantTypes(), "a forged state must not reach the token endpoint")
}

func TestManager_LoginCancelled(t *testing.T) {
	p := newFakeProvider(t)
	m, _, _ := newTestManager(t, p)
	agent := &redirectingAgent{provider: p, redirect: func(url.Values) url.Values { return nil }}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := m.Login(ctx, testProvider, agent)
	require.Error(t, err)
	assert.True(t, errors.Is(err, &oauth.Error{Domain: oauth.DomainGeneral, Code: oauth.CodeProgramCanceledAuthorizationFlow}))
	assert.Equal(t, 1, agent.dismissed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.flows.WithLabelValues(flowAuthorizationCode, outcomeCancelled)))
}

func TestManager_LoginUnknownProvider(t *testing.T) {
	p := newFakeProvider(t)
	m, _, _ := newTestManager(t, p)

	_, err := m.Login(context.Background(), "nope", &redirectingAgent{})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

// listeningAgent decides its own redirect URI like the loopback agent.
type listeningAgent struct {
	redirectingAgent
	uri string
}

func (a *listeningAgent) Listen() (string, error) { return a.uri, nil }

func TestManager_LoginWithListeningAgent(t *testing.T) {
	p := newFakeProvider(t)
	m, _, _ := newTestManager(t, p)
	agent := &listeningAgent{redirectingAgent: redirectingAgent{provider: p}, uri: "http://127.0.0.1:40123/callback"}

	_, err := m.Login(context.Background(), testProvider, agent)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:40123/callback", agent.lastURL(t).Query().Get("redirect_uri"))
}

func TestManager_FreshToken(t *testing.T) {
	p := newFakeProvider(t)
	m, store, _ := newTestManager(t, p)
	login(t, m, p)
	ctx := context.Background()

	tokens, err := m.FreshToken(ctx, testProvider, false)
	require.NoError(t, err)
	assert.Equal(t, "at-1", tokens.AccessToken)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.Equal(t, []string{oauth.GrantTypeAuthorizationCode}, p.grantTypes())

	tokens, err = m.FreshToken(ctx, testProvider, true)
	require.NoError(t, err)
	assert.Equal(t, "at-2", tokens.AccessToken)
	assert.NotEmpty(t, tokens.IDToken, "the ID token survives a refresh without one")
	assert.WithinDuration(t, time.Now().Add(time.Hour), tokens.Expiry, time.Minute)

	stored, err := store.Load(ctx, testProvider)
	require.NoError(t, err)
	assert.Equal(t, "at-2", stored.AccessToken())
	assert.Equal(t, "rt-2", stored.RefreshToken())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.refreshes.WithLabelValues(outcomeSuccess)))
}

func TestManager_FreshTokenInvalidGrant(t *testing.T) {
	p := newFakeProvider(t)
	m, _, _ := newTestManager(t, p)
	login(t, m, p)
	ctx := context.Background()

	p.set(func(p *fakeProvider) { p.refreshError = "invalid_grant" })

	_, err := m.FreshToken(ctx, testProvider, true)
	require.ErrorIs(t, err, ErrAuthRequired)
	assert.True(t, oauth.IsOAuthError(err, "invalid_grant"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.refreshes.WithLabelValues(outcomeRejected)))

	status := m.SessionStatus(ctx, testProvider)
	assert.Equal(t, auth.StatusInvalidated, status.Status)
	assert.Contains(t, status.Error, "invalid_grant")

	grants := len(p.grantTypes())
	_, err = m.FreshToken(ctx, testProvider, false)
	assert.ErrorIs(t, err, ErrAuthRequired)
	assert.Len(t, p.grantTypes(), grants, "an invalidated session must not be refreshed")
}

func TestManager_FreshTokenTransientFailureKeepsSession(t *testing.T) {
	p := newFakeProvider(t)
	m, _, _ := newTestManager(t, p)
	login(t, m, p)
	ctx := context.Background()

	p.server.Close()

	_, err := m.FreshToken(ctx, testProvider, true)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuthRequired)
	assert.True(t, oauth.IsTransient(err))

	status := m.SessionStatus(ctx, testProvider)
	assert.NotEqual(t, auth.StatusInvalidated, status.Status)
	assert.True(t, status.HasRefreshToken)
}

func TestManager_FreshTokenWithoutSession(t *testing.T) {
	p := newFakeProvider(t)
	m, _, _ := newTestManager(t, p)

	_, err := m.FreshToken(context.Background(), testProvider, false)
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestManager_TokenSourceAndUserinfo(t *testing.T) {
	p := newFakeProvider(t)
	m, _, _ := newTestManager(t, p)
	login(t, m, p)
	ctx := context.Background()

	ts, err := m.TokenSource(ctx, testProvider)
	require.NoError(t, err)
	token, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "at-1", token.AccessToken)

	claims, err := m.Userinfo(ctx, testProvider)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims["sub"])
	assert.Equal(t, []string{"at-1"}, p.userinfoCalls())
}

func TestManager_DeviceLogin(t *testing.T) {
	p := newFakeProvider(t)
	p.set(func(p *fakeProvider) { p.pendingPolls = 1 })
	m, store, _ := newTestManager(t, p)

	var prompted *oauth.DeviceAuthorizationResponse
	state, err := m.DeviceLogin(context.Background(), testProvider, func(resp *oauth.DeviceAuthorizationResponse) {
		prompted = resp
	})
	require.NoError(t, err)

	require.NotNil(t, prompted)
	assert.Equal(t, "ABCD-EFGH", prompted.UserCode)
	assert.Equal(t, "at-1", state.AccessToken())
	assert.Equal(t, []string{oauth.GrantTypeDeviceCode, oauth.GrantTypeDeviceCode}, p.grantTypes())

	_, err = store.Load(context.Background(), testProvider)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.flows.WithLabelValues(flowDevice, outcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.tokenRequests.WithLabelValues(oauth.GrantTypeDeviceCode, outcomeRejected)))
}

func TestManager_Revoke(t *testing.T) {
	p := newFakeProvider(t)
	m, store, _ := newTestManager(t, p)
	login(t, m, p)
	ctx := context.Background()

	require.NoError(t, m.Revoke(ctx, testProvider, false))
	_, err := store.Load(ctx, testProvider)
	require.NoError(t, err, "revoking the access token keeps the grant")

	require.NoError(t, m.Revoke(ctx, testProvider, true))
	_, err = store.Load(ctx, testProvider)
	assert.ErrorIs(t, err, statestore.ErrNotFound)

	revoked := p.revokedForms()
	require.Len(t, revoked, 2)
	assert.Equal(t, "at-1", revoked[0].Get("token"))
	assert.Equal(t, oauth.TokenTypeHintAccessToken, revoked[0].Get("token_type_hint"))
	assert.Equal(t, "rt-1", revoked[1].Get("token"))
	assert.Equal(t, oauth.TokenTypeHintRefreshToken, revoked[1].Get("token_type_hint"))
}

func TestManager_Logout(t *testing.T) {
	t.Run("presented through the agent", func(t *testing.T) {
		p := newFakeProvider(t)
		m, store, _ := newTestManager(t, p)
		state := login(t, m, p)
		agent := &redirectingAgent{redirect: func(q url.Values) url.Values {
			return url.Values{"state": {q.Get("state")}}
		}}

		result, err := m.Logout(context.Background(), testProvider, agent)
		require.NoError(t, err)
		assert.True(t, result.Presented)

		query := agent.lastURL(t).Query()
		assert.Equal(t, state.IDToken(), query.Get("id_token_hint"))
		assert.Equal(t, "http://127.0.0.1:8765/logged-out", query.Get("post_logout_redirect_uri"))

		_, err = store.Load(context.Background(), testProvider)
		assert.ErrorIs(t, err, statestore.ErrNotFound)
	})

	t.Run("URL only without an agent", func(t *testing.T) {
		p := newFakeProvider(t)
		m, store, _ := newTestManager(t, p)
		login(t, m, p)

		result, err := m.Logout(context.Background(), testProvider, nil)
		require.NoError(t, err)
		assert.False(t, result.Presented)
		assert.Contains(t, result.EndSessionURL, p.issuer()+"/logout?")

		_, err = store.Load(context.Background(), testProvider)
		assert.ErrorIs(t, err, statestore.ErrNotFound)
	})

	t.Run("provider without end-session endpoint", func(t *testing.T) {
		p := newFakeProvider(t)
		p.set(func(p *fakeProvider) { p.noEndSession = true })
		m, store, _ := newTestManager(t, p)
		login(t, m, p)

		result, err := m.Logout(context.Background(), testProvider, &redirectingAgent{})
		require.NoError(t, err)
		assert.Equal(t, LogoutResult{}, result)

		_, err = store.Load(context.Background(), testProvider)
		assert.ErrorIs(t, err, statestore.ErrNotFound)
	})

	t.Run("no session", func(t *testing.T) {
		p := newFakeProvider(t)
		m, _, _ := newTestManager(t, p)

		result, err := m.Logout(context.Background(), testProvider, nil)
		require.NoError(t, err)
		assert.Equal(t, LogoutResult{}, result)
	})
}

func TestManager_Register(t *testing.T) {
	p := newFakeProvider(t)
	m, _, _ := newTestManager(t, p)

	resp, err := m.Register(context.Background(), RegistrationOptions{
		Issuer:       p.issuer(),
		RedirectURIs: []string{"http://127.0.0.1:8765/callback"},
		ClientName:   "oidcflow test",
		AuthMethod:   oauth.AuthMethodNone,
	})
	require.NoError(t, err)
	assert.Equal(t, "registered-client", resp.ClientID)
	assert.Equal(t, "registered-secret", resp.ClientSecret)

	registrations := p.registrationBodies()
	require.Len(t, registrations, 1)
	body := registrations[0]
	assert.Equal(t, "oidcflow test", body["client_name"])
	assert.Equal(t, oauth.AuthMethodNone, body["token_endpoint_auth_method"])
	assert.Equal(t, []any{"http://127.0.0.1:8765/callback"}, body["redirect_uris"])

	_, err = m.Register(context.Background(), RegistrationOptions{})
	assert.Error(t, err)
}

func TestManager_Status(t *testing.T) {
	p := newFakeProvider(t)
	m, store, _ := newTestManager(t, p)
	m.cfg.Providers["other"] = config.ProviderConfig{Issuer: "https://other.example.com", ClientID: "x"}
	login(t, m, p)

	orphan := oauth.NewAuthState(nil, nil, nil)
	require.NoError(t, store.Save(context.Background(), "removed-provider", orphan))

	resp, err := m.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Sessions, 3)

	corp := resp.Sessions[0]
	assert.Equal(t, testProvider, corp.Provider)
	assert.Equal(t, auth.StatusAuthorized, corp.Status)
	assert.Equal(t, p.issuer(), corp.Issuer)
	assert.Equal(t, "user-1", corp.Subject)
	assert.Equal(t, "user@example.com", corp.Email)
	assert.True(t, corp.HasRefreshToken)
	require.NotNil(t, corp.AccessTokenExpiry)
	assert.True(t, corp.Authorized())

	other := resp.Sessions[1]
	assert.Equal(t, "other", other.Provider)
	assert.Equal(t, auth.StatusNotLoggedIn, other.Status)
	assert.Equal(t, "https://other.example.com", other.Issuer)

	removed := resp.Sessions[2]
	assert.Equal(t, "removed-provider", removed.Provider)
	assert.Equal(t, auth.StatusInvalidated, removed.Status)
	assert.False(t, removed.Authorized())
}

func TestManager_StatusExpired(t *testing.T) {
	p := newFakeProvider(t)
	m, _, _ := newTestManager(t, p)
	state := login(t, m, p)

	state.SetNeedsTokenRefresh()
	require.NoError(t, m.store.Save(context.Background(), testProvider, state))

	assert.Equal(t, auth.StatusExpired, m.SessionStatus(context.Background(), testProvider).Status)
}
