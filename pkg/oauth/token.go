package oauth

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

// Grant types.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
)

// timeNow is overridden in tests.
var timeNow = time.Now

// Grant is the grant-specific part of a TokenRequest. It is implemented only
// by AuthorizationCodeGrant, RefreshTokenGrant and DeviceCodeGrant.
type Grant interface {
	GrantType() string
	validate() error
	encode(form url.Values)
}

// AuthorizationCodeGrant redeems an authorization code (RFC 6749 §4.1.3).
type AuthorizationCodeGrant struct {
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	CodeVerifier string `json:"code_verifier,omitempty"`
}

// GrantType implements Grant.
func (AuthorizationCodeGrant) GrantType() string { return GrantTypeAuthorizationCode }

func (g AuthorizationCodeGrant) validate() error {
	if g.Code == "" {
		return fmt.Errorf("authorization_code grant requires a code")
	}
	if g.RedirectURI == "" {
		return fmt.Errorf("authorization_code grant requires a redirect URI")
	}
	return nil
}

func (g AuthorizationCodeGrant) encode(form url.Values) {
	form.Set("code", g.Code)
	form.Set("redirect_uri", g.RedirectURI)
	if g.CodeVerifier != "" {
		form.Set("code_verifier", g.CodeVerifier)
	}
}

// RefreshTokenGrant exchanges a refresh token (RFC 6749 §6).
type RefreshTokenGrant struct {
	RefreshToken string `json:"refresh_token"`
}

// GrantType implements Grant.
func (RefreshTokenGrant) GrantType() string { return GrantTypeRefreshToken }

func (g RefreshTokenGrant) validate() error {
	if g.RefreshToken == "" {
		return fmt.Errorf("refresh_token grant requires a refresh token")
	}
	return nil
}

func (g RefreshTokenGrant) encode(form url.Values) {
	form.Set("refresh_token", g.RefreshToken)
}

// DeviceCodeGrant polls for the tokens of a device authorization (RFC 8628 §3.4).
type DeviceCodeGrant struct {
	DeviceCode string `json:"device_code"`
}

// GrantType implements Grant.
func (DeviceCodeGrant) GrantType() string { return GrantTypeDeviceCode }

func (g DeviceCodeGrant) validate() error {
	if g.DeviceCode == "" {
		return fmt.Errorf("device_code grant requires a device code")
	}
	return nil
}

func (g DeviceCodeGrant) encode(form url.Values) {
	form.Set("device_code", g.DeviceCode)
}

var tokenRequestReserved = []string{
	"grant_type", "code", "redirect_uri", "code_verifier", "refresh_token", "device_code",
	"scope", "client_id", "client_secret",
}

// TokenRequest is a token endpoint request. Invalid grant combinations are
// rejected by NewTokenRequest.
type TokenRequest struct {
	Configuration        *ServiceConfiguration
	ClientID             string
	ClientSecret         string
	Grant                Grant
	Scope                string
	AdditionalParameters Params
}

// NewTokenRequest validates and builds a token request.
func NewTokenRequest(config *ServiceConfiguration, clientID, clientSecret string, grant Grant, scope string, additional Params) (*TokenRequest, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: configuration is required", ErrInvalidConfiguration)
	}
	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if grant == nil {
		return nil, fmt.Errorf("grant is required")
	}
	if err := grant.validate(); err != nil {
		return nil, err
	}
	return &TokenRequest{
		Configuration:        config,
		ClientID:             clientID,
		ClientSecret:         clientSecret,
		Grant:                grant,
		Scope:                scope,
		AdditionalParameters: additional.without(tokenRequestReserved),
	}, nil
}

// GrantType returns the grant_type parameter.
func (r *TokenRequest) GrantType() string {
	return r.Grant.GrantType()
}

// HTTPRequest describes the form POST to the token endpoint. A nil auth uses
// DefaultClientAuthentication for the request's secret.
func (r *TokenRequest) HTTPRequest(auth ClientAuthentication) *HTTPRequest {
	if auth == nil {
		auth = DefaultClientAuthentication(r.ClientSecret)
	}
	form := url.Values{}
	for k, v := range r.AdditionalParameters {
		form.Set(k, v)
	}
	form.Set("grant_type", r.Grant.GrantType())
	r.Grant.encode(form)
	if r.Scope != "" {
		form.Set("scope", r.Scope)
	}
	return directRequest(r.Configuration.TokenEndpoint(), r.ClientID, auth, form)
}

type tokenRequestJSON struct {
	Configuration        *ServiceConfiguration `json:"configuration"`
	ClientID             string                `json:"client_id"`
	ClientSecret         string                `json:"client_secret,omitempty"`
	GrantType            string                `json:"grant_type"`
	Grant                json.RawMessage       `json:"grant"`
	Scope                string                `json:"scope,omitempty"`
	AdditionalParameters Params                `json:"additional_parameters,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r *TokenRequest) MarshalJSON() ([]byte, error) {
	grant, err := json.Marshal(r.Grant)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tokenRequestJSON{
		Configuration:        r.Configuration,
		ClientID:             r.ClientID,
		ClientSecret:         r.ClientSecret,
		GrantType:            r.Grant.GrantType(),
		Grant:                grant,
		Scope:                r.Scope,
		AdditionalParameters: r.AdditionalParameters,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *TokenRequest) UnmarshalJSON(data []byte) error {
	var v tokenRequestJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	var grant Grant
	switch v.GrantType {
	case GrantTypeAuthorizationCode:
		var g AuthorizationCodeGrant
		if err := json.Unmarshal(v.Grant, &g); err != nil {
			return err
		}
		grant = g
	case GrantTypeRefreshToken:
		var g RefreshTokenGrant
		if err := json.Unmarshal(v.Grant, &g); err != nil {
			return err
		}
		grant = g
	case GrantTypeDeviceCode:
		var g DeviceCodeGrant
		if err := json.Unmarshal(v.Grant, &g); err != nil {
			return err
		}
		grant = g
	default:
		return fmt.Errorf("unknown grant type %q", v.GrantType)
	}
	decoded, err := NewTokenRequest(v.Configuration, v.ClientID, v.ClientSecret, grant, v.Scope, v.AdditionalParameters)
	if err != nil {
		return err
	}
	*r = *decoded
	return nil
}

// tokenResponseKeys are read into typed fields of TokenResponse.
var tokenResponseKeys = []string{
	"access_token", "token_type", "expires_in", "refresh_token", "id_token", "scope",
}

// TokenResponse is a successful token endpoint response.
type TokenResponse struct {
	Request      *TokenRequest `json:"request"`
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type,omitempty"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	IDToken      string        `json:"id_token,omitempty"`
	Scope        string        `json:"scope,omitempty"`

	// AccessTokenExpiry is fixed when the response is constructed from
	// expires_in. The zero value means no known expiry.
	AccessTokenExpiry time.Time `json:"access_token_expiry"`

	AdditionalParameters map[string]any `json:"additional_parameters,omitempty"`
}

// NewTokenResponse builds a response from the decoded token endpoint JSON.
// access_token is required; unknown fields land in AdditionalParameters.
func NewTokenResponse(request *TokenRequest, params map[string]any) (*TokenResponse, error) {
	accessToken := stringValue(params, "access_token")
	if accessToken == "" {
		return nil, NewError(DomainGeneral, CodeTokenResponseConstructionError,
			"token response is missing \"access_token\"", nil)
	}

	resp := &TokenResponse{
		Request:              request,
		AccessToken:          accessToken,
		TokenType:            stringValue(params, "token_type"),
		RefreshToken:         stringValue(params, "refresh_token"),
		IDToken:              stringValue(params, "id_token"),
		Scope:                stringValue(params, "scope"),
		AdditionalParameters: withoutKeys(params, tokenResponseKeys...),
	}
	if seconds, ok := expiresInSeconds(params["expires_in"]); ok {
		resp.AccessTokenExpiry = timeNow().Add(time.Duration(seconds) * time.Second)
	}
	return resp, nil
}

// Token converts the response to an oauth2.Token. The ID token, if any, is
// available through Extra("id_token").
func (r *TokenResponse) Token() *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  r.AccessToken,
		TokenType:    r.TokenType,
		RefreshToken: r.RefreshToken,
		Expiry:       r.AccessTokenExpiry,
	}
	if r.IDToken != "" {
		token = token.WithExtra(map[string]any{
			"id_token": r.IDToken,
		})
	}
	return token
}
