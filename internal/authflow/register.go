package authflow

import (
	"context"
	"errors"
	"fmt"

	"oidcflow/pkg/logging"
	"oidcflow/pkg/oauth"
)

// RegistrationOptions describes a dynamic client registration.
type RegistrationOptions struct {
	// Issuer is discovered to find the registration endpoint.
	Issuer string

	RedirectURIs []string

	// ClientName is sent as client_name when set.
	ClientName string

	// AuthMethod is the token_endpoint_auth_method to request. Empty lets
	// the provider choose.
	AuthMethod string

	// InitialAccessToken authorizes the registration on providers that
	// require one.
	InitialAccessToken string
}

// Register performs RFC 7591 dynamic client registration against the
// issuer in opts.
func (m *Manager) Register(ctx context.Context, opts RegistrationOptions) (*oauth.RegistrationResponse, error) {
	if opts.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	cfg, err := m.Discover(ctx, opts.Issuer)
	if err != nil {
		return nil, err
	}
	if cfg.RegistrationEndpoint() == "" {
		return nil, fmt.Errorf("issuer %s does not support dynamic client registration", opts.Issuer)
	}

	additional := oauth.Params{}
	if opts.ClientName != "" {
		additional["client_name"] = opts.ClientName
	}
	request, err := oauth.NewRegistrationRequest(cfg, opts.RedirectURIs, nil, nil, "", opts.AuthMethod, additional)
	if err != nil {
		return nil, err
	}
	request.InitialAccessToken = opts.InitialAccessToken

	response, err := m.client.Register(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("registration failed: %w", err)
	}
	logging.Audit("client_registered", "Client registered", "issuer", opts.Issuer, "client_id", response.ClientID)
	return response, nil
}
