package authflow

import (
	"context"
	"errors"
	"slices"

	"oidcflow/internal/statestore"
	"oidcflow/pkg/auth"
	"oidcflow/pkg/oauth"
)

// Status reports every configured provider and every stored session,
// sorted by name. It never refreshes tokens.
func (m *Manager) Status(ctx context.Context) (auth.StatusResponse, error) {
	keys, err := m.store.List(ctx)
	if err != nil {
		return auth.StatusResponse{}, err
	}
	names := keys
	for name := range m.cfg.Providers {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	resp := auth.StatusResponse{Sessions: make([]auth.SessionStatus, 0, len(names))}
	for _, name := range names {
		resp.Sessions = append(resp.Sessions, m.SessionStatus(ctx, name))
	}
	return resp, nil
}

// SessionStatus reports the stored session of one provider.
func (m *Manager) SessionStatus(ctx context.Context, name string) auth.SessionStatus {
	status := auth.SessionStatus{Provider: name}
	if p, ok := m.cfg.Provider(name); ok {
		status.Issuer = p.Issuer
	}

	state, err := m.store.Load(ctx, name)
	switch {
	case errors.Is(err, statestore.ErrNotFound):
		status.Status = auth.StatusNotLoggedIn
		return status
	case err != nil:
		status.Status = auth.StatusUnreadable
		status.Error = err.Error()
		return status
	}

	if cfg := state.Configuration(); cfg != nil && cfg.Issuer() != "" {
		status.Issuer = cfg.Issuer()
	}
	status.Scope = state.Scope()
	status.HasRefreshToken = state.RefreshToken() != ""
	if expiry := state.AccessTokenExpiry(); !expiry.IsZero() {
		status.AccessTokenExpiry = &expiry
	}
	if raw := state.IDToken(); raw != "" {
		if token, err := oauth.ParseIDToken(raw); err == nil {
			status.Subject = token.Subject
			status.Email, _ = token.Claims["email"].(string)
			if status.Issuer == "" {
				status.Issuer = token.Issuer
			}
		}
	}

	switch {
	case !state.IsAuthorized():
		status.Status = auth.StatusInvalidated
		if authErr := state.AuthorizationError(); authErr != nil {
			status.Error = authErr.Error()
		}
	case state.IsTokenFresh():
		status.Status = auth.StatusAuthorized
	default:
		status.Status = auth.StatusExpired
	}
	return status
}
