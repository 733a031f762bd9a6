package authflow

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"oidcflow/internal/config"
	"oidcflow/pkg/logging"
	"oidcflow/pkg/oauth"
)

// RedirectListener is implemented by agents that receive the redirect
// themselves. Their listener decides the redirect URI.
type RedirectListener interface {
	Listen() (string, error)
}

// Login runs the authorization code flow with PKCE for provider name through
// agent, exchanges the code and stores the new session.
func (m *Manager) Login(ctx context.Context, name string, agent oauth.ExternalUserAgent) (state *oauth.AuthState, err error) {
	defer func() { m.metrics.observeFlow(flowAuthorizationCode, err) }()

	p, err := m.provider(name)
	if err != nil {
		return nil, err
	}
	cfg, err := m.resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	redirectURI, err := m.redirectURI(p.RedirectURI, agent)
	if err != nil {
		return nil, err
	}

	var opts []oauth.AuthorizationOption
	if p.ClientSecret != "" {
		opts = append(opts, oauth.WithClientSecret(p.ClientSecret))
	}
	if len(p.AdditionalParameters) > 0 {
		opts = append(opts, oauth.WithAdditionalParameters(oauth.Params(p.AdditionalParameters)))
	}
	request, err := oauth.NewAuthorizationRequest(cfg, p.ClientID, redirectURI, scopesFor(p), opts...)
	if err != nil {
		return nil, err
	}

	m.logDroppedParameters(name, p.AdditionalParameters, request.AdditionalParameters)

	m.logger.Info("Starting authorization flow",
		"provider", name,
		"redirect_uri", redirectURI,
		"scope", request.Scope)

	authResponse, err := awaitFlow(ctx, func(complete func(*oauth.AuthorizationResponse, error)) *oauth.FlowSession[*oauth.AuthorizationResponse] {
		return oauth.PresentAuthorizationRequest(request, agent, complete)
	})
	if err != nil {
		return nil, fmt.Errorf("authorization failed: %w", err)
	}

	exchange, err := authResponse.TokenExchangeRequest(nil)
	if err != nil {
		return nil, err
	}
	tokenResponse, err := m.performer.PerformTokenRequest(ctx, exchange)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}
	idToken, err := oauth.ValidateIDToken(tokenResponse, authResponse)
	if err != nil {
		return nil, err
	}

	state = oauth.NewAuthState(authResponse, tokenResponse, nil)
	if err := m.save(ctx, name, state); err != nil {
		return nil, err
	}

	logging.Audit("login", "Signed in", "provider", name, "flow", flowAuthorizationCode, "subject", subjectOf(idToken))
	return state, nil
}

// redirectURI picks the redirect URI for a flow. A listening agent decides
// it; otherwise the configured URI is used, falling back to the default
// loopback callback.
func (m *Manager) redirectURI(configured string, agent oauth.ExternalUserAgent) (string, error) {
	if listener, ok := agent.(RedirectListener); ok {
		uri, err := listener.Listen()
		if err != nil {
			return "", fmt.Errorf("failed to start the redirect listener: %w", err)
		}
		return uri, nil
	}
	if configured != "" {
		return configured, nil
	}
	return DefaultRedirectURI(m.cfg.Callback), nil
}

// DefaultRedirectURI is the loopback redirect URI for cb with the default
// host, port and path filled in.
func DefaultRedirectURI(cb config.CallbackConfig) string {
	host, port, path := cb.Host, cb.Port, cb.Path
	if host == "" {
		host = config.DefaultCallbackHost
	}
	if port == 0 {
		port = config.DefaultCallbackPort
	}
	if path == "" {
		path = config.DefaultCallbackPath
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + path
}

func subjectOf(token *oauth.IDToken) string {
	if token == nil {
		return ""
	}
	return token.Subject
}
