package authflow

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"oidcflow/pkg/oauth"
)

// Tokens is a usable token set for one provider.
type Tokens struct {
	AccessToken string    `json:"access_token"`
	IDToken     string    `json:"id_token,omitempty"`
	TokenType   string    `json:"token_type,omitempty"`
	Expiry      time.Time `json:"expiry,omitempty"`
}

// FreshToken returns tokens for provider name, refreshing them first when
// they are about to expire or forceRefresh is set. Concurrent callers on
// the same session share one refresh.
//
// A session that is missing or has been invalidated by the provider yields
// an error wrapping ErrAuthRequired.
func (m *Manager) FreshToken(ctx context.Context, name string, forceRefresh bool) (Tokens, error) {
	state, err := m.load(ctx, name)
	if err != nil {
		return Tokens{}, err
	}
	if !state.IsAuthorized() {
		if authErr := state.AuthorizationError(); authErr != nil {
			return Tokens{}, fmt.Errorf("%w: session for provider %q was invalidated: %w", ErrAuthRequired, name, authErr)
		}
		return Tokens{}, fmt.Errorf("%w: session for provider %q holds no tokens", ErrAuthRequired, name)
	}
	if forceRefresh {
		state.SetNeedsTokenRefresh()
	}

	accessToken, idToken, err := state.FreshTokens(ctx, m.performer)
	if err != nil {
		if oauth.InvalidatesAuthorization(err) {
			return Tokens{}, fmt.Errorf("%w: %w", ErrAuthRequired, err)
		}
		return Tokens{}, err
	}
	return Tokens{
		AccessToken: accessToken,
		IDToken:     idToken,
		TokenType:   state.TokenType(),
		Expiry:      state.AccessTokenExpiry(),
	}, nil
}

// TokenSource returns an oauth2.TokenSource backed by the stored session of
// provider name. Refreshed tokens are written back to the store.
func (m *Manager) TokenSource(ctx context.Context, name string) (oauth2.TokenSource, error) {
	state, err := m.load(ctx, name)
	if err != nil {
		return nil, err
	}
	return state.TokenSource(ctx, m.performer), nil
}

// Userinfo calls the userinfo endpoint with a fresh access token.
func (m *Manager) Userinfo(ctx context.Context, name string) (map[string]any, error) {
	state, err := m.load(ctx, name)
	if err != nil {
		return nil, err
	}
	accessToken, _, err := state.FreshTokens(ctx, m.performer)
	if err != nil {
		return nil, err
	}
	cfg := state.Configuration()
	if cfg == nil || cfg.UserinfoEndpoint() == "" {
		return nil, fmt.Errorf("provider %q has no userinfo endpoint", name)
	}
	return m.client.Userinfo(ctx, cfg, accessToken)
}
