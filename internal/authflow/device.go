package authflow

import (
	"context"
	"fmt"
	"time"

	"oidcflow/pkg/logging"
	"oidcflow/pkg/oauth"
)

// DevicePrompt shows the user where to go and which code to enter.
type DevicePrompt func(*oauth.DeviceAuthorizationResponse)

// DeviceLogin runs the RFC 8628 device authorization grant for provider name
// and stores the new session. prompt is called once the user code is known;
// polling then runs until approval, denial, expiry of the code, or ctx.
func (m *Manager) DeviceLogin(ctx context.Context, name string, prompt DevicePrompt) (state *oauth.AuthState, err error) {
	defer func() { m.metrics.observeFlow(flowDevice, err) }()

	p, err := m.provider(name)
	if err != nil {
		return nil, err
	}
	cfg, err := m.resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	if !cfg.SupportsDeviceFlow() {
		return nil, fmt.Errorf("provider %q does not support the device authorization grant", name)
	}

	request, err := oauth.NewDeviceAuthorizationRequest(cfg, p.ClientID, p.ClientSecret, scopesFor(p), oauth.Params(p.AdditionalParameters))
	if err != nil {
		return nil, err
	}
	m.logDroppedParameters(name, p.AdditionalParameters, request.AdditionalParameters)
	authorization, err := m.client.AuthorizeDevice(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("device authorization failed: %w", err)
	}
	if prompt != nil {
		prompt(authorization)
	}

	tokenResponse, err := oauth.PollDeviceToken(ctx, m.performer, authorization, nil, func(err error, next time.Duration) {
		m.logger.Debug("Waiting for device approval", "reason", err, "next_poll", next)
	})
	if err != nil {
		return nil, fmt.Errorf("device flow failed: %w", err)
	}

	var subject string
	if tokenResponse.IDToken != "" {
		idToken, err := oauth.ParseIDToken(tokenResponse.IDToken)
		if err != nil {
			return nil, err
		}
		if err := idToken.Validate(oauth.IDTokenExpectations{Issuer: cfg.Issuer(), ClientID: p.ClientID}); err != nil {
			return nil, err
		}
		subject = idToken.Subject
	}

	state = oauth.NewAuthState(nil, tokenResponse, nil)
	if err := m.save(ctx, name, state); err != nil {
		return nil, err
	}

	logging.Audit("login", "Signed in", "provider", name, "flow", flowDevice, "subject", subject)
	return state, nil
}
