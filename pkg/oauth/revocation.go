package oauth

import (
	"fmt"
	"net/url"
)

// Token type hints for revocation (RFC 7009 §2.1).
const (
	TokenTypeHintAccessToken  = "access_token"
	TokenTypeHintRefreshToken = "refresh_token"
)

var revokeTokenRequestReserved = []string{"token", "token_type_hint", "client_id", "client_secret"}

// RevokeTokenRequest asks the provider to revoke a token (RFC 7009).
type RevokeTokenRequest struct {
	Configuration        *ServiceConfiguration `json:"configuration"`
	ClientID             string                `json:"client_id"`
	ClientSecret         string                `json:"client_secret,omitempty"`
	Token                string                `json:"token"`
	TokenTypeHint        string                `json:"token_type_hint,omitempty"`
	AdditionalParameters Params                `json:"additional_parameters,omitempty"`
}

// NewRevokeTokenRequest builds a revocation request. The configuration must
// carry a revocation endpoint.
func NewRevokeTokenRequest(config *ServiceConfiguration, clientID, clientSecret, token, tokenTypeHint string, additional Params) (*RevokeTokenRequest, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: configuration is required", ErrInvalidConfiguration)
	}
	if config.RevocationEndpoint() == "" {
		return nil, fmt.Errorf("%w: no revocation endpoint", ErrInvalidConfiguration)
	}
	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if token == "" {
		return nil, fmt.Errorf("token is required")
	}
	return &RevokeTokenRequest{
		Configuration:        config,
		ClientID:             clientID,
		ClientSecret:         clientSecret,
		Token:                token,
		TokenTypeHint:        tokenTypeHint,
		AdditionalParameters: additional.without(revokeTokenRequestReserved),
	}, nil
}

// HTTPRequest describes the form POST to the revocation endpoint.
func (r *RevokeTokenRequest) HTTPRequest(auth ClientAuthentication) *HTTPRequest {
	if auth == nil {
		auth = DefaultClientAuthentication(r.ClientSecret)
	}
	form := url.Values{}
	for k, v := range r.AdditionalParameters {
		form.Set(k, v)
	}
	form.Set("token", r.Token)
	if r.TokenTypeHint != "" {
		form.Set("token_type_hint", r.TokenTypeHint)
	}
	return directRequest(r.Configuration.RevocationEndpoint(), r.ClientID, auth, form)
}

// RevokeTokenResponse is a successful revocation. RFC 7009 defines no body.
type RevokeTokenResponse struct {
	Request *RevokeTokenRequest `json:"request"`
}
