package authflow

import (
	"context"
	"fmt"

	"oidcflow/internal/config"
	"oidcflow/pkg/logging"
	"oidcflow/pkg/oauth"
)

// Revoke revokes the access token of provider name's session, or its
// refresh token when refresh is set (RFC 7009). Revoking the refresh token
// ends the grant, so the local session is deleted too.
func (m *Manager) Revoke(ctx context.Context, name string, refresh bool) error {
	p, err := m.provider(name)
	if err != nil {
		return err
	}
	state, err := m.load(ctx, name)
	if err != nil {
		return err
	}
	cfg, err := m.sessionConfiguration(ctx, state, p)
	if err != nil {
		return err
	}
	if cfg.RevocationEndpoint() == "" {
		return fmt.Errorf("provider %q has no revocation endpoint", name)
	}

	token, hint := state.AccessToken(), oauth.TokenTypeHintAccessToken
	if refresh {
		token, hint = state.RefreshToken(), oauth.TokenTypeHintRefreshToken
	}
	if token == "" {
		return fmt.Errorf("session for provider %q has no %s to revoke", name, hint)
	}

	request, err := oauth.NewRevokeTokenRequest(cfg, p.ClientID, p.ClientSecret, token, hint, nil)
	if err != nil {
		return err
	}
	if _, err := m.client.RevokeToken(ctx, request); err != nil {
		return fmt.Errorf("revocation failed: %w", err)
	}
	logging.Audit("token_revoked", "Token revoked", "provider", name, "token_type_hint", hint)

	if refresh {
		if err := m.store.Delete(ctx, name); err != nil {
			return fmt.Errorf("failed to delete session for provider %q: %w", name, err)
		}
	}
	return nil
}

// sessionConfiguration prefers the configuration stored with the session,
// which is the one its tokens were issued under.
func (m *Manager) sessionConfiguration(ctx context.Context, state *oauth.AuthState, p config.ProviderConfig) (*oauth.ServiceConfiguration, error) {
	if cfg := state.Configuration(); cfg != nil {
		return cfg, nil
	}
	return m.resolve(ctx, p)
}
