package authflow

import (
	"context"
	"errors"
	"fmt"

	"oidcflow/internal/statestore"
	"oidcflow/pkg/logging"
	"oidcflow/pkg/oauth"
)

// LogoutResult describes what Logout did at the provider.
type LogoutResult struct {
	// EndSessionURL is the RP-initiated logout URL when it was not visited
	// through an agent. The user can open it to end the provider session.
	EndSessionURL string

	// Presented is true when the end-session request went through an agent
	// and the provider redirected back.
	Presented bool
}

// Logout deletes the local session of provider name. When the provider has
// an end-session endpoint, the request is presented through agent, or only
// returned as a URL when agent is nil or no post-logout redirect URI is
// available. The local session is deleted even if the end-session flow
// fails.
func (m *Manager) Logout(ctx context.Context, name string, agent oauth.ExternalUserAgent) (LogoutResult, error) {
	p, err := m.provider(name)
	if err != nil {
		return LogoutResult{}, err
	}
	state, err := m.store.Load(ctx, name)
	if errors.Is(err, statestore.ErrNotFound) {
		m.logger.Info("No session to log out of", "provider", name)
		return LogoutResult{}, nil
	}
	if err != nil {
		return LogoutResult{}, fmt.Errorf("failed to load session for provider %q: %w", name, err)
	}

	result, flowErr := m.endSession(ctx, name, state, p.PostLogoutRedirectURI, agent)

	if err := m.store.Delete(ctx, name); err != nil {
		return result, fmt.Errorf("failed to delete session for provider %q: %w", name, err)
	}
	logging.Audit("logout", "Signed out", "provider", name, "end_session", result.Presented)
	return result, flowErr
}

func (m *Manager) endSession(ctx context.Context, name string, state *oauth.AuthState, postLogoutRedirectURI string, agent oauth.ExternalUserAgent) (LogoutResult, error) {
	cfg := state.Configuration()
	if cfg == nil || cfg.EndSessionEndpoint() == "" {
		return LogoutResult{}, nil
	}

	if agent != nil {
		if listener, ok := agent.(RedirectListener); ok {
			uri, err := listener.Listen()
			if err != nil {
				return LogoutResult{}, fmt.Errorf("failed to start the redirect listener: %w", err)
			}
			postLogoutRedirectURI = uri
		}
	}

	request, err := oauth.NewEndSessionRequest(cfg, state.IDToken(), postLogoutRedirectURI, nil)
	if err != nil {
		return LogoutResult{}, err
	}

	if agent == nil || postLogoutRedirectURI == "" {
		endSessionURL, err := request.URL()
		if err != nil {
			return LogoutResult{}, err
		}
		return LogoutResult{EndSessionURL: endSessionURL}, nil
	}

	_, err = awaitFlow(ctx, func(complete func(*oauth.EndSessionResponse, error)) *oauth.FlowSession[*oauth.EndSessionResponse] {
		return oauth.PresentEndSessionRequest(request, agent, complete)
	})
	m.metrics.observeFlow(flowEndSession, err)
	if err != nil {
		return LogoutResult{}, fmt.Errorf("end-session flow for provider %q failed: %w", name, err)
	}
	return LogoutResult{Presented: true}, nil
}
