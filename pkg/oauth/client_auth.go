package oauth

import (
	"encoding/base64"
	"net/http"
	"net/url"
)

// Token endpoint authentication method names (RFC 7591 §2).
const (
	AuthMethodNone              = "none"
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
)

// ClientAuthentication applies client credentials to a request made
// directly to the provider (token, revocation, device authorization).
type ClientAuthentication interface {
	// Apply adds the credentials for clientID to the request headers or form body.
	Apply(clientID string, header http.Header, form url.Values)

	// Method returns the RFC 7591 token_endpoint_auth_method name.
	Method() string
}

// NoClientAuthentication is used by public clients: the client_id is sent in
// the body and nothing else. The zero value is ready to use and may be shared.
type NoClientAuthentication struct{}

// Apply implements ClientAuthentication.
func (NoClientAuthentication) Apply(clientID string, _ http.Header, form url.Values) {
	form.Set("client_id", clientID)
}

// Method implements ClientAuthentication.
func (NoClientAuthentication) Method() string { return AuthMethodNone }

// ClientSecretBasic sends the client credentials with HTTP Basic
// authentication, form-url-encoding both parts first (RFC 6749 §2.3.1).
type ClientSecretBasic struct {
	Secret string
}

// Apply implements ClientAuthentication.
func (a ClientSecretBasic) Apply(clientID string, header http.Header, _ url.Values) {
	credentials := url.QueryEscape(clientID) + ":" + url.QueryEscape(a.Secret)
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(credentials)))
}

// Method implements ClientAuthentication.
func (ClientSecretBasic) Method() string { return AuthMethodClientSecretBasic }

// ClientSecretPost sends the client credentials in the request body.
type ClientSecretPost struct {
	Secret string
}

// Apply implements ClientAuthentication.
func (a ClientSecretPost) Apply(clientID string, _ http.Header, form url.Values) {
	form.Set("client_id", clientID)
	form.Set("client_secret", a.Secret)
}

// Method implements ClientAuthentication.
func (ClientSecretPost) Method() string { return AuthMethodClientSecretPost }

// DefaultClientAuthentication picks ClientSecretBasic when a secret is
// configured and NoClientAuthentication otherwise.
func DefaultClientAuthentication(secret string) ClientAuthentication {
	if secret == "" {
		return NoClientAuthentication{}
	}
	return ClientSecretBasic{Secret: secret}
}

// ClientAuthenticationForMethod maps an RFC 7591 method name to its
// implementation. Unknown names fall back to DefaultClientAuthentication.
func ClientAuthenticationForMethod(method, secret string) ClientAuthentication {
	switch method {
	case AuthMethodNone:
		return NoClientAuthentication{}
	case AuthMethodClientSecretPost:
		return ClientSecretPost{Secret: secret}
	case AuthMethodClientSecretBasic:
		return ClientSecretBasic{Secret: secret}
	default:
		return DefaultClientAuthentication(secret)
	}
}

// directRequest builds a form POST to endpoint authenticated with auth.
func directRequest(endpoint, clientID string, auth ClientAuthentication, form url.Values) *HTTPRequest {
	header := make(http.Header)
	auth.Apply(clientID, header, form)
	return &HTTPRequest{
		Method: http.MethodPost,
		URL:    endpoint,
		Header: header,
		Form:   form,
	}
}
