package oauth

import "fmt"

var endSessionRequestReserved = []string{"id_token_hint", "post_logout_redirect_uri", "state"}

// EndSessionRequest is an OIDC RP-initiated logout request, presented to the
// user through an external user agent.
type EndSessionRequest struct {
	Configuration         *ServiceConfiguration `json:"configuration"`
	IDTokenHint           string                `json:"id_token_hint,omitempty"`
	PostLogoutRedirectURI string                `json:"post_logout_redirect_uri,omitempty"`
	State                 string                `json:"state,omitempty"`
	AdditionalParameters  Params                `json:"additional_parameters,omitempty"`
}

// NewEndSessionRequest builds a logout request with a random state. The
// configuration must carry an end-session endpoint.
func NewEndSessionRequest(config *ServiceConfiguration, idTokenHint, postLogoutRedirectURI string, additional Params) (*EndSessionRequest, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: configuration is required", ErrInvalidConfiguration)
	}
	if config.EndSessionEndpoint() == "" {
		return nil, fmt.Errorf("%w: no end-session endpoint", ErrInvalidConfiguration)
	}
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}
	return &EndSessionRequest{
		Configuration:         config,
		IDTokenHint:           idTokenHint,
		PostLogoutRedirectURI: postLogoutRedirectURI,
		State:                 state,
		AdditionalParameters:  additional.without(endSessionRequestReserved),
	}, nil
}

// URL returns the end-session endpoint URL with the request in the query.
func (r *EndSessionRequest) URL() (string, error) {
	return buildQueryURL(r.Configuration.EndSessionEndpoint(), []queryParam{
		{"id_token_hint", r.IDTokenHint},
		{"post_logout_redirect_uri", r.PostLogoutRedirectURI},
		{"state", r.State},
	}, r.AdditionalParameters)
}

// ExternalUserAgentURL implements ExternalUserAgentRequest.
func (r *EndSessionRequest) ExternalUserAgentURL() (string, error) { return r.URL() }

// ExternalUserAgentRedirectURI implements ExternalUserAgentRequest. The
// post-logout redirect URI is where the provider sends the user back.
func (r *EndSessionRequest) ExternalUserAgentRedirectURI() string { return r.PostLogoutRedirectURI }

// EndSessionResponse is the redirect back after logout.
type EndSessionResponse struct {
	Request              *EndSessionRequest `json:"request"`
	State                string             `json:"state,omitempty"`
	AdditionalParameters Params             `json:"additional_parameters,omitempty"`
}

// NewEndSessionResponse validates the returned state against request.
func NewEndSessionResponse(request *EndSessionRequest, params Params) (*EndSessionResponse, error) {
	if err := checkRedirectParams(request.State, params); err != nil {
		return nil, err
	}
	return &EndSessionResponse{
		Request:              request,
		State:                params["state"],
		AdditionalParameters: params.without([]string{"state"}),
	}, nil
}
