package oauth

import (
	"fmt"
	"strings"
	"time"
)

// Response types.
const (
	ResponseTypeCode    = "code"
	ResponseTypeToken   = "token"
	ResponseTypeIDToken = "id_token"
)

// ScopeOpenID marks a request as an OpenID Connect request.
const ScopeOpenID = "openid"

// authorizationRequestReserved lists parameters the request sets itself.
var authorizationRequestReserved = []string{
	"client_id", "client_secret", "response_type", "redirect_uri", "scope", "state", "nonce",
	"code_challenge", "code_challenge_method",
}

// AuthorizationRequest is an authorization endpoint request. It is built by
// NewAuthorizationRequest and should be treated as immutable.
//
// PKCE is always S256. The "plain" method is deliberately not supported:
// code_challenge and code_challenge_method are reserved keys, so it cannot be
// smuggled in through AdditionalParameters either.
type AuthorizationRequest struct {
	Configuration        *ServiceConfiguration `json:"configuration"`
	ClientID             string                `json:"client_id"`
	ClientSecret         string                `json:"client_secret,omitempty"`
	ResponseType         string                `json:"response_type"`
	Scope                string                `json:"scope,omitempty"`
	RedirectURI          string                `json:"redirect_uri"`
	State                string                `json:"state,omitempty"`
	Nonce                string                `json:"nonce,omitempty"`
	CodeVerifier         string                `json:"code_verifier,omitempty"`
	CodeChallenge        string                `json:"code_challenge,omitempty"`
	CodeChallengeMethod  string                `json:"code_challenge_method,omitempty"`
	AdditionalParameters Params                `json:"additional_parameters,omitempty"`
}

type authorizationOptions struct {
	clientSecret string
	responseType string
	state        *string
	nonce        *string
	codeVerifier *string
	additional   Params
}

// AuthorizationOption customizes NewAuthorizationRequest.
type AuthorizationOption func(*authorizationOptions)

// WithClientSecret sets the client secret used for the later code exchange.
func WithClientSecret(secret string) AuthorizationOption {
	return func(o *authorizationOptions) { o.clientSecret = secret }
}

// WithResponseType overrides the default "code" response type.
func WithResponseType(responseType string) AuthorizationOption {
	return func(o *authorizationOptions) { o.responseType = responseType }
}

// WithState sets an explicit state. An empty value omits the parameter.
func WithState(state string) AuthorizationOption {
	return func(o *authorizationOptions) { o.state = &state }
}

// WithNonce sets an explicit nonce. An empty value omits the parameter.
func WithNonce(nonce string) AuthorizationOption {
	return func(o *authorizationOptions) { o.nonce = &nonce }
}

// WithCodeVerifier sets an explicit PKCE verifier. An empty value disables PKCE.
func WithCodeVerifier(verifier string) AuthorizationOption {
	return func(o *authorizationOptions) { o.codeVerifier = &verifier }
}

// WithoutPKCE disables PKCE for providers that reject it.
func WithoutPKCE() AuthorizationOption {
	return WithCodeVerifier("")
}

// WithAdditionalParameters sets extra query parameters. Keys colliding with
// normative parameters are dropped.
func WithAdditionalParameters(params Params) AuthorizationOption {
	return func(o *authorizationOptions) { o.additional = params }
}

// NewAuthorizationRequest builds an authorization request. By default it uses
// the "code" response type, a random state, a random PKCE verifier and, when
// scopes include "openid", a random nonce.
func NewAuthorizationRequest(config *ServiceConfiguration, clientID, redirectURI string, scopes []string, opts ...AuthorizationOption) (*AuthorizationRequest, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: configuration is required", ErrInvalidConfiguration)
	}
	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if redirectURI == "" {
		return nil, fmt.Errorf("redirect URI is required")
	}

	o := authorizationOptions{responseType: ResponseTypeCode}
	for _, opt := range opts {
		opt(&o)
	}

	req := &AuthorizationRequest{
		Configuration:        config,
		ClientID:             clientID,
		ClientSecret:         o.clientSecret,
		ResponseType:         o.responseType,
		Scope:                JoinScopes(scopes),
		RedirectURI:          redirectURI,
		AdditionalParameters: o.additional.without(authorizationRequestReserved),
	}

	var err error
	if o.state != nil {
		req.State = *o.state
	} else if req.State, err = GenerateState(); err != nil {
		return nil, err
	}

	if o.nonce != nil {
		req.Nonce = *o.nonce
	} else if HasScope(req.Scope, ScopeOpenID) {
		if req.Nonce, err = GenerateNonce(); err != nil {
			return nil, err
		}
	}

	verifier := ""
	if o.codeVerifier != nil {
		verifier = *o.codeVerifier
	} else if strings.Contains(req.ResponseType, ResponseTypeCode) {
		if verifier, err = GenerateCodeVerifier(); err != nil {
			return nil, err
		}
	}
	if verifier != "" {
		req.CodeVerifier = verifier
		req.CodeChallenge = CodeChallengeS256(verifier)
		req.CodeChallengeMethod = CodeChallengeMethodS256
	}

	return req, nil
}

// URL returns the authorization endpoint URL with the request encoded in the
// query string.
func (r *AuthorizationRequest) URL() (string, error) {
	return buildQueryURL(r.Configuration.AuthorizationEndpoint(), []queryParam{
		{"response_type", r.ResponseType},
		{"client_id", r.ClientID},
		{"redirect_uri", r.RedirectURI},
		{"state", r.State},
		{"nonce", r.Nonce},
		{"scope", r.Scope},
		{"code_challenge_method", r.CodeChallengeMethod},
		{"code_challenge", r.CodeChallenge},
	}, r.AdditionalParameters)
}

// ExternalUserAgentURL implements ExternalUserAgentRequest.
func (r *AuthorizationRequest) ExternalUserAgentURL() (string, error) { return r.URL() }

// ExternalUserAgentRedirectURI implements ExternalUserAgentRequest.
func (r *AuthorizationRequest) ExternalUserAgentRedirectURI() string { return r.RedirectURI }

// authorizationResponseKeys are read into typed fields of AuthorizationResponse.
var authorizationResponseKeys = []string{
	"code", "state", "access_token", "token_type", "expires_in", "id_token", "scope",
}

// AuthorizationResponse is the result of a successful authorization request.
type AuthorizationResponse struct {
	Request              *AuthorizationRequest `json:"request"`
	Code                 string                `json:"code,omitempty"`
	State                string                `json:"state,omitempty"`
	AccessToken          string                `json:"access_token,omitempty"`
	TokenType            string                `json:"token_type,omitempty"`
	AccessTokenExpiry    time.Time             `json:"access_token_expiry"`
	IDToken              string                `json:"id_token,omitempty"`
	Scope                string                `json:"scope,omitempty"`
	AdditionalParameters Params                `json:"additional_parameters,omitempty"`
}

// NewAuthorizationResponse interprets the redirect parameters for request.
//
// The state is checked first: a mismatch is an authorization-domain client
// error whatever else the parameters contain. A provider "error" parameter
// yields an authorization-domain error carrying that code.
func NewAuthorizationResponse(request *AuthorizationRequest, params Params) (*AuthorizationResponse, error) {
	if err := checkRedirectParams(request.State, params); err != nil {
		return nil, err
	}

	resp := &AuthorizationResponse{
		Request:              request,
		Code:                 params["code"],
		State:                params["state"],
		AccessToken:          params["access_token"],
		TokenType:            params["token_type"],
		IDToken:              params["id_token"],
		Scope:                params["scope"],
		AdditionalParameters: params.without(authorizationResponseKeys),
	}
	if seconds, ok := expiresInSeconds(params["expires_in"]); ok {
		resp.AccessTokenExpiry = timeNow().Add(time.Duration(seconds) * time.Second)
	}

	for _, rt := range strings.Fields(request.ResponseType) {
		var missing string
		switch {
		case rt == ResponseTypeCode && resp.Code == "":
			missing = "code"
		case rt == ResponseTypeToken && resp.AccessToken == "":
			missing = "access_token"
		case rt == ResponseTypeIDToken && resp.IDToken == "":
			missing = "id_token"
		}
		if missing != "" {
			return nil, &Error{
				Domain:      DomainAuthorization,
				Code:        CodeOAuthClientError,
				Description: fmt.Sprintf("authorization response is missing %q", missing),
			}
		}
	}

	return resp, nil
}

// TokenExchangeRequest builds the authorization_code grant request that
// redeems this response's code, carrying the original PKCE verifier.
func (r *AuthorizationResponse) TokenExchangeRequest(additional Params) (*TokenRequest, error) {
	if r.Code == "" {
		return nil, fmt.Errorf("authorization response has no code to exchange")
	}
	grant := AuthorizationCodeGrant{
		Code:         r.Code,
		RedirectURI:  r.Request.RedirectURI,
		CodeVerifier: r.Request.CodeVerifier,
	}
	return NewTokenRequest(r.Request.Configuration, r.Request.ClientID, r.Request.ClientSecret, grant, "", additional)
}

// checkRedirectParams validates the echoed state before anything else and
// then surfaces a provider "error" parameter.
func checkRedirectParams(expectedState string, params Params) error {
	if params["state"] != expectedState {
		return &Error{
			Domain:      DomainAuthorization,
			Code:        CodeOAuthClientError,
			Description: "state mismatch: the returned state does not match the request",
		}
	}
	if params["error"] != "" {
		raw := make(map[string]any, len(params))
		for k, v := range params {
			raw[k] = v
		}
		return NewOAuthError(DomainAuthorization, raw)
	}
	return nil
}
