package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"golang.org/x/oauth2"
)

// ErrInvalidConfiguration is wrapped by errors returned when a service
// configuration is built from missing or relative endpoints.
var ErrInvalidConfiguration = errors.New("invalid service configuration")

// ServiceConfiguration describes a provider's endpoints. It is immutable once
// constructed: the authorization and token endpoints are always present and
// absolute.
type ServiceConfiguration struct {
	authorizationEndpoint       string
	tokenEndpoint               string
	issuer                      string
	userinfoEndpoint            string
	revocationEndpoint          string
	endSessionEndpoint          string
	registrationEndpoint        string
	deviceAuthorizationEndpoint string
	discoveryDocument           *DiscoveryDocument
}

// ConfigurationOption sets an optional endpoint on a ServiceConfiguration.
type ConfigurationOption func(*ServiceConfiguration)

// WithIssuer sets the issuer identifier used for ID token validation.
func WithIssuer(issuer string) ConfigurationOption {
	return func(c *ServiceConfiguration) { c.issuer = issuer }
}

// WithUserinfoEndpoint sets the OIDC userinfo endpoint.
func WithUserinfoEndpoint(endpoint string) ConfigurationOption {
	return func(c *ServiceConfiguration) { c.userinfoEndpoint = endpoint }
}

// WithRevocationEndpoint sets the RFC 7009 revocation endpoint.
func WithRevocationEndpoint(endpoint string) ConfigurationOption {
	return func(c *ServiceConfiguration) { c.revocationEndpoint = endpoint }
}

// WithEndSessionEndpoint sets the OIDC RP-initiated logout endpoint.
func WithEndSessionEndpoint(endpoint string) ConfigurationOption {
	return func(c *ServiceConfiguration) { c.endSessionEndpoint = endpoint }
}

// WithRegistrationEndpoint sets the RFC 7591 registration endpoint.
func WithRegistrationEndpoint(endpoint string) ConfigurationOption {
	return func(c *ServiceConfiguration) { c.registrationEndpoint = endpoint }
}

// WithDeviceAuthorizationEndpoint sets the RFC 8628 device authorization endpoint.
func WithDeviceAuthorizationEndpoint(endpoint string) ConfigurationOption {
	return func(c *ServiceConfiguration) { c.deviceAuthorizationEndpoint = endpoint }
}

func withDiscoveryDocument(doc *DiscoveryDocument) ConfigurationOption {
	return func(c *ServiceConfiguration) { c.discoveryDocument = doc }
}

// NewServiceConfiguration builds a configuration from explicit endpoints.
// Every endpoint given must be an absolute URI.
func NewServiceConfiguration(authorizationEndpoint, tokenEndpoint string, opts ...ConfigurationOption) (*ServiceConfiguration, error) {
	c := newServiceConfiguration(authorizationEndpoint, tokenEndpoint, opts...)
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func newServiceConfiguration(authorizationEndpoint, tokenEndpoint string, opts ...ConfigurationOption) *ServiceConfiguration {
	c := &ServiceConfiguration{
		authorizationEndpoint: authorizationEndpoint,
		tokenEndpoint:         tokenEndpoint,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewDeviceServiceConfiguration builds a configuration for the device flow,
// which additionally requires the device authorization endpoint.
func NewDeviceServiceConfiguration(authorizationEndpoint, tokenEndpoint, deviceAuthorizationEndpoint string, opts ...ConfigurationOption) (*ServiceConfiguration, error) {
	if deviceAuthorizationEndpoint == "" {
		return nil, fmt.Errorf("%w: device_authorization_endpoint is required", ErrInvalidConfiguration)
	}
	opts = append(opts, WithDeviceAuthorizationEndpoint(deviceAuthorizationEndpoint))
	return NewServiceConfiguration(authorizationEndpoint, tokenEndpoint, opts...)
}

func (c *ServiceConfiguration) validate() error {
	if err := c.validateRequired(); err != nil {
		return err
	}
	optional := []struct {
		name, value string
	}{
		{"userinfo_endpoint", c.userinfoEndpoint},
		{"revocation_endpoint", c.revocationEndpoint},
		{"end_session_endpoint", c.endSessionEndpoint},
		{"registration_endpoint", c.registrationEndpoint},
		{"device_authorization_endpoint", c.deviceAuthorizationEndpoint},
	}
	for _, o := range optional {
		if o.value != "" && !isAbsoluteURI(o.value) {
			return fmt.Errorf("%w: %s %q is not an absolute URI", ErrInvalidConfiguration, o.name, o.value)
		}
	}
	return nil
}

// validateRequired checks only the authorization and token endpoints.
// Configurations derived from discovery keep their optional endpoints
// verbatim.
func (c *ServiceConfiguration) validateRequired() error {
	required := []struct {
		name, value string
	}{
		{"authorization_endpoint", c.authorizationEndpoint},
		{"token_endpoint", c.tokenEndpoint},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidConfiguration, r.name)
		}
		if !isAbsoluteURI(r.value) {
			return fmt.Errorf("%w: %s %q is not an absolute URI", ErrInvalidConfiguration, r.name, r.value)
		}
	}
	return nil
}

func isAbsoluteURI(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.IsAbs() && u.Host != ""
}

// AuthorizationEndpoint returns the authorization endpoint URI.
func (c *ServiceConfiguration) AuthorizationEndpoint() string { return c.authorizationEndpoint }

// TokenEndpoint returns the token endpoint URI.
func (c *ServiceConfiguration) TokenEndpoint() string { return c.tokenEndpoint }

// Issuer returns the issuer identifier, or "" when unknown.
func (c *ServiceConfiguration) Issuer() string { return c.issuer }

// UserinfoEndpoint returns the userinfo endpoint, or "".
func (c *ServiceConfiguration) UserinfoEndpoint() string { return c.userinfoEndpoint }

// RevocationEndpoint returns the revocation endpoint, or "".
func (c *ServiceConfiguration) RevocationEndpoint() string { return c.revocationEndpoint }

// EndSessionEndpoint returns the end-session endpoint, or "".
func (c *ServiceConfiguration) EndSessionEndpoint() string { return c.endSessionEndpoint }

// RegistrationEndpoint returns the registration endpoint, or "".
func (c *ServiceConfiguration) RegistrationEndpoint() string { return c.registrationEndpoint }

// DeviceAuthorizationEndpoint returns the device authorization endpoint, or "".
func (c *ServiceConfiguration) DeviceAuthorizationEndpoint() string {
	return c.deviceAuthorizationEndpoint
}

// DiscoveryDocument returns the document this configuration was derived
// from, or nil for explicitly configured endpoints.
func (c *ServiceConfiguration) DiscoveryDocument() *DiscoveryDocument { return c.discoveryDocument }

// SupportsDeviceFlow reports whether a device authorization endpoint is known.
func (c *ServiceConfiguration) SupportsDeviceFlow() bool {
	return c.deviceAuthorizationEndpoint != ""
}

// OAuth2Endpoint returns the endpoints in golang.org/x/oauth2 form.
func (c *ServiceConfiguration) OAuth2Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:       c.authorizationEndpoint,
		TokenURL:      c.tokenEndpoint,
		DeviceAuthURL: c.deviceAuthorizationEndpoint,
	}
}

type serviceConfigurationJSON struct {
	AuthorizationEndpoint       string             `json:"authorization_endpoint"`
	TokenEndpoint               string             `json:"token_endpoint"`
	Issuer                      string             `json:"issuer,omitempty"`
	UserinfoEndpoint            string             `json:"userinfo_endpoint,omitempty"`
	RevocationEndpoint          string             `json:"revocation_endpoint,omitempty"`
	EndSessionEndpoint          string             `json:"end_session_endpoint,omitempty"`
	RegistrationEndpoint        string             `json:"registration_endpoint,omitempty"`
	DeviceAuthorizationEndpoint string             `json:"device_authorization_endpoint,omitempty"`
	DiscoveryDocument           *DiscoveryDocument `json:"discovery_document,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c *ServiceConfiguration) MarshalJSON() ([]byte, error) {
	return json.Marshal(serviceConfigurationJSON{
		AuthorizationEndpoint:       c.authorizationEndpoint,
		TokenEndpoint:               c.tokenEndpoint,
		Issuer:                      c.issuer,
		UserinfoEndpoint:            c.userinfoEndpoint,
		RevocationEndpoint:          c.revocationEndpoint,
		EndSessionEndpoint:          c.endSessionEndpoint,
		RegistrationEndpoint:        c.registrationEndpoint,
		DeviceAuthorizationEndpoint: c.deviceAuthorizationEndpoint,
		DiscoveryDocument:           c.discoveryDocument,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The decoded endpoints are
// validated like NewServiceConfiguration does, except that a configuration
// carrying its discovery document keeps its optional endpoints verbatim.
func (c *ServiceConfiguration) UnmarshalJSON(data []byte) error {
	var v serviceConfigurationJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	decoded := ServiceConfiguration{
		authorizationEndpoint:       v.AuthorizationEndpoint,
		tokenEndpoint:               v.TokenEndpoint,
		issuer:                      v.Issuer,
		userinfoEndpoint:            v.UserinfoEndpoint,
		revocationEndpoint:          v.RevocationEndpoint,
		endSessionEndpoint:          v.EndSessionEndpoint,
		registrationEndpoint:        v.RegistrationEndpoint,
		deviceAuthorizationEndpoint: v.DeviceAuthorizationEndpoint,
		discoveryDocument:           v.DiscoveryDocument,
	}
	validate := decoded.validate
	if decoded.discoveryDocument != nil {
		validate = decoded.validateRequired
	}
	if err := validate(); err != nil {
		return err
	}
	*c = decoded
	return nil
}
