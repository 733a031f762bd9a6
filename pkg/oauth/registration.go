package oauth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

var registrationRequestReserved = []string{
	"redirect_uris", "response_types", "grant_types", "subject_type", "token_endpoint_auth_method",
}

// RegistrationRequest is an RFC 7591 dynamic client registration request.
// Only the request and response are modeled; what to register is up to
// the caller.
type RegistrationRequest struct {
	Configuration           *ServiceConfiguration `json:"configuration"`
	RedirectURIs            []string              `json:"redirect_uris"`
	ResponseTypes           []string              `json:"response_types,omitempty"`
	GrantTypes              []string              `json:"grant_types,omitempty"`
	SubjectType             string                `json:"subject_type,omitempty"`
	TokenEndpointAuthMethod string                `json:"token_endpoint_auth_method,omitempty"`
	InitialAccessToken      string                `json:"initial_access_token,omitempty"`
	AdditionalParameters    Params                `json:"additional_parameters,omitempty"`
}

// NewRegistrationRequest builds a registration request. The configuration
// must carry a registration endpoint.
func NewRegistrationRequest(config *ServiceConfiguration, redirectURIs, responseTypes, grantTypes []string, subjectType, authMethod string, additional Params) (*RegistrationRequest, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: configuration is required", ErrInvalidConfiguration)
	}
	if config.RegistrationEndpoint() == "" {
		return nil, fmt.Errorf("%w: no registration endpoint", ErrInvalidConfiguration)
	}
	if len(redirectURIs) == 0 {
		return nil, fmt.Errorf("at least one redirect URI is required")
	}
	return &RegistrationRequest{
		Configuration:           config,
		RedirectURIs:            redirectURIs,
		ResponseTypes:           responseTypes,
		GrantTypes:              grantTypes,
		SubjectType:             subjectType,
		TokenEndpointAuthMethod: authMethod,
		AdditionalParameters:    additional.without(registrationRequestReserved),
	}, nil
}

// HTTPRequest describes the JSON POST to the registration endpoint.
func (r *RegistrationRequest) HTTPRequest() (*HTTPRequest, error) {
	body := make(map[string]any, len(r.AdditionalParameters)+5)
	for k, v := range r.AdditionalParameters {
		body[k] = v
	}
	body["redirect_uris"] = r.RedirectURIs
	if len(r.ResponseTypes) > 0 {
		body["response_types"] = r.ResponseTypes
	}
	if len(r.GrantTypes) > 0 {
		body["grant_types"] = r.GrantTypes
	}
	if r.SubjectType != "" {
		body["subject_type"] = r.SubjectType
	}
	if r.TokenEndpointAuthMethod != "" {
		body["token_endpoint_auth_method"] = r.TokenEndpointAuthMethod
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, NewError(DomainGeneral, CodeJSONSerializationError, "failed to encode registration request", err)
	}

	header := make(http.Header)
	if r.InitialAccessToken != "" {
		header.Set("Authorization", "Bearer "+r.InitialAccessToken)
	}
	return &HTTPRequest{
		Method: http.MethodPost,
		URL:    r.Configuration.RegistrationEndpoint(),
		Header: header,
		JSON:   data,
	}, nil
}

var registrationResponseKeys = []string{
	"client_id", "client_id_issued_at", "client_secret", "client_secret_expires_at",
	"registration_access_token", "registration_client_uri", "token_endpoint_auth_method",
}

// RegistrationResponse is a successful registration (RFC 7591 §3.2.1).
type RegistrationResponse struct {
	Request                 *RegistrationRequest `json:"request"`
	ClientID                string               `json:"client_id"`
	ClientIDIssuedAt        time.Time            `json:"client_id_issued_at"`
	ClientSecret            string               `json:"client_secret,omitempty"`
	ClientSecretExpiresAt   time.Time            `json:"client_secret_expires_at"`
	RegistrationAccessToken string               `json:"registration_access_token,omitempty"`
	RegistrationClientURI   string               `json:"registration_client_uri,omitempty"`
	TokenEndpointAuthMethod string               `json:"token_endpoint_auth_method,omitempty"`
	AdditionalParameters    map[string]any       `json:"additional_parameters,omitempty"`
}

// NewRegistrationResponse builds a response from the decoded JSON body.
// client_id is required, and so is client_secret_expires_at whenever a
// client_secret is issued.
func NewRegistrationResponse(request *RegistrationRequest, params map[string]any) (*RegistrationResponse, error) {
	clientID := stringValue(params, "client_id")
	if clientID == "" {
		return nil, NewError(DomainGeneral, CodeRegistrationResponseConstructionErr,
			"registration response is missing \"client_id\"", nil)
	}
	resp := &RegistrationResponse{
		Request:                 request,
		ClientID:                clientID,
		ClientSecret:            stringValue(params, "client_secret"),
		RegistrationAccessToken: stringValue(params, "registration_access_token"),
		RegistrationClientURI:   stringValue(params, "registration_client_uri"),
		TokenEndpointAuthMethod: stringValue(params, "token_endpoint_auth_method"),
		AdditionalParameters:    withoutKeys(params, registrationResponseKeys...),
	}
	if issued, ok := expiresInSeconds(params["client_id_issued_at"]); ok && issued > 0 {
		resp.ClientIDIssuedAt = time.Unix(issued, 0).UTC()
	}
	expires, ok := expiresInSeconds(params["client_secret_expires_at"])
	if resp.ClientSecret != "" && !ok {
		return nil, NewError(DomainGeneral, CodeRegistrationResponseConstructionErr,
			"registration response is missing \"client_secret_expires_at\"", nil)
	}
	if expires > 0 {
		resp.ClientSecretExpiresAt = time.Unix(expires, 0).UTC()
	}
	return resp, nil
}
