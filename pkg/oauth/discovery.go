package oauth

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Discovery document keys.
const (
	discoveryIssuer                      = "issuer"
	discoveryAuthorizationEndpoint       = "authorization_endpoint"
	discoveryTokenEndpoint               = "token_endpoint"
	discoveryUserinfoEndpoint            = "userinfo_endpoint"
	discoveryJWKSURI                     = "jwks_uri"
	discoveryRegistrationEndpoint        = "registration_endpoint"
	discoveryRevocationEndpoint          = "revocation_endpoint"
	discoveryEndSessionEndpoint          = "end_session_endpoint"
	discoveryDeviceAuthorizationEndpoint = "device_authorization_endpoint"
)

// DiscoveryDocument is a validated OpenID Connect discovery document (or
// RFC 8414 authorization server metadata). Every field is kept verbatim;
// the typed accessors read from the raw map.
type DiscoveryDocument struct {
	raw map[string]any
}

// ParseDiscoveryDocument decodes and validates a discovery document.
func ParseDiscoveryDocument(data []byte) (*DiscoveryDocument, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewError(DomainGeneral, CodeJSONDeserializationError, "failed to parse discovery document", err)
	}
	return NewDiscoveryDocument(raw)
}

// NewDiscoveryDocument validates an already-decoded discovery document.
// authorization_endpoint and token_endpoint must be present absolute URIs.
func NewDiscoveryDocument(raw map[string]any) (*DiscoveryDocument, error) {
	return newDiscoveryDocument(raw, discoveryAuthorizationEndpoint, discoveryTokenEndpoint)
}

// NewDeviceDiscoveryDocument is NewDiscoveryDocument for device-flow
// configurations: device_authorization_endpoint is required as well.
func NewDeviceDiscoveryDocument(raw map[string]any) (*DiscoveryDocument, error) {
	return newDiscoveryDocument(raw, discoveryAuthorizationEndpoint, discoveryTokenEndpoint, discoveryDeviceAuthorizationEndpoint)
}

func newDiscoveryDocument(raw map[string]any, required ...string) (*DiscoveryDocument, error) {
	if raw == nil {
		return nil, NewError(DomainGeneral, CodeInvalidDiscoveryDocument, "discovery document is empty", nil)
	}
	for _, key := range required {
		v, ok := raw[key]
		if !ok {
			return nil, NewError(DomainGeneral, CodeInvalidDiscoveryDocument,
				fmt.Sprintf("missing field %q", key), nil)
		}
		s, ok := v.(string)
		if !ok || !isAbsoluteURI(s) {
			return nil, NewError(DomainGeneral, CodeInvalidDiscoveryDocument,
				fmt.Sprintf("field %q is not an absolute URI", key), nil)
		}
	}
	return &DiscoveryDocument{raw: maps.Clone(raw)}, nil
}

// Raw returns a copy of the decoded document.
func (d *DiscoveryDocument) Raw() map[string]any {
	return maps.Clone(d.raw)
}

// Get returns the raw value stored under key.
func (d *DiscoveryDocument) Get(key string) (any, bool) {
	v, ok := d.raw[key]
	return v, ok
}

func (d *DiscoveryDocument) str(key string) string {
	return stringValue(d.raw, key)
}

func (d *DiscoveryDocument) strings(key string) []string {
	list, _ := d.raw[key].([]any)
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Issuer returns the issuer identifier. Like the other typed accessors it
// returns the zero value when the field is absent or has the wrong type.
func (d *DiscoveryDocument) Issuer() string { return d.str(discoveryIssuer) }

// AuthorizationEndpoint returns authorization_endpoint.
func (d *DiscoveryDocument) AuthorizationEndpoint() string { return d.str(discoveryAuthorizationEndpoint) }

// TokenEndpoint returns token_endpoint.
func (d *DiscoveryDocument) TokenEndpoint() string { return d.str(discoveryTokenEndpoint) }

// UserinfoEndpoint returns userinfo_endpoint.
func (d *DiscoveryDocument) UserinfoEndpoint() string { return d.str(discoveryUserinfoEndpoint) }

// JWKSURI returns jwks_uri.
func (d *DiscoveryDocument) JWKSURI() string { return d.str(discoveryJWKSURI) }

// RegistrationEndpoint returns registration_endpoint.
func (d *DiscoveryDocument) RegistrationEndpoint() string { return d.str(discoveryRegistrationEndpoint) }

// RevocationEndpoint returns revocation_endpoint.
func (d *DiscoveryDocument) RevocationEndpoint() string { return d.str(discoveryRevocationEndpoint) }

// EndSessionEndpoint returns end_session_endpoint.
func (d *DiscoveryDocument) EndSessionEndpoint() string { return d.str(discoveryEndSessionEndpoint) }

// DeviceAuthorizationEndpoint returns device_authorization_endpoint.
func (d *DiscoveryDocument) DeviceAuthorizationEndpoint() string {
	return d.str(discoveryDeviceAuthorizationEndpoint)
}

// ScopesSupported returns scopes_supported.
func (d *DiscoveryDocument) ScopesSupported() []string { return d.strings("scopes_supported") }

// ResponseTypesSupported returns response_types_supported.
func (d *DiscoveryDocument) ResponseTypesSupported() []string {
	return d.strings("response_types_supported")
}

// GrantTypesSupported returns grant_types_supported.
func (d *DiscoveryDocument) GrantTypesSupported() []string { return d.strings("grant_types_supported") }

// SubjectTypesSupported returns subject_types_supported.
func (d *DiscoveryDocument) SubjectTypesSupported() []string {
	return d.strings("subject_types_supported")
}

// IDTokenSigningAlgValuesSupported returns id_token_signing_alg_values_supported.
func (d *DiscoveryDocument) IDTokenSigningAlgValuesSupported() []string {
	return d.strings("id_token_signing_alg_values_supported")
}

// TokenEndpointAuthMethodsSupported returns token_endpoint_auth_methods_supported.
func (d *DiscoveryDocument) TokenEndpointAuthMethodsSupported() []string {
	return d.strings("token_endpoint_auth_methods_supported")
}

// CodeChallengeMethodsSupported returns code_challenge_methods_supported.
func (d *DiscoveryDocument) CodeChallengeMethodsSupported() []string {
	return d.strings("code_challenge_methods_supported")
}

// SupportsPKCE reports whether the provider advertises S256. Providers that
// advertise nothing are assumed to support it.
func (d *DiscoveryDocument) SupportsPKCE() bool {
	methods := d.CodeChallengeMethodsSupported()
	return len(methods) == 0 || slices.Contains(methods, CodeChallengeMethodS256)
}

// MarshalJSON implements json.Marshaler.
func (d *DiscoveryDocument) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.raw)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *DiscoveryDocument) UnmarshalJSON(data []byte) error {
	doc, err := ParseDiscoveryDocument(data)
	if err != nil {
		return err
	}
	*d = *doc
	return nil
}

// ServiceConfigurationFromDiscovery derives a configuration from doc. Only
// the authorization and token endpoints have to be absolute URIs; the other
// endpoints are stored as the document states them.
func ServiceConfigurationFromDiscovery(doc *DiscoveryDocument) (*ServiceConfiguration, error) {
	config := newServiceConfiguration(doc.AuthorizationEndpoint(), doc.TokenEndpoint(), discoveryOptions(doc)...)
	if err := config.validateRequired(); err != nil {
		return nil, NewError(DomainGeneral, CodeInvalidDiscoveryDocument, "discovery document yields no valid configuration", err)
	}
	return config, nil
}

// DeviceServiceConfigurationFromDiscovery derives a device-flow configuration
// from doc, failing when the document lacks an absolute
// device_authorization_endpoint.
func DeviceServiceConfigurationFromDiscovery(doc *DiscoveryDocument) (*ServiceConfiguration, error) {
	endpoint := doc.DeviceAuthorizationEndpoint()
	if endpoint == "" {
		return nil, NewError(DomainGeneral, CodeInvalidDiscoveryDocument,
			fmt.Sprintf("missing field %q", discoveryDeviceAuthorizationEndpoint), nil)
	}
	if !isAbsoluteURI(endpoint) {
		return nil, NewError(DomainGeneral, CodeInvalidDiscoveryDocument,
			fmt.Sprintf("%s %q is not an absolute URI", discoveryDeviceAuthorizationEndpoint, endpoint), nil)
	}
	return ServiceConfigurationFromDiscovery(doc)
}

func discoveryOptions(doc *DiscoveryDocument) []ConfigurationOption {
	opts := []ConfigurationOption{withDiscoveryDocument(doc)}
	for _, o := range []struct {
		value string
		opt   func(string) ConfigurationOption
	}{
		{doc.Issuer(), WithIssuer},
		{doc.UserinfoEndpoint(), WithUserinfoEndpoint},
		{doc.RevocationEndpoint(), WithRevocationEndpoint},
		{doc.EndSessionEndpoint(), WithEndSessionEndpoint},
		{doc.RegistrationEndpoint(), WithRegistrationEndpoint},
		{doc.DeviceAuthorizationEndpoint(), WithDeviceAuthorizationEndpoint},
	} {
		if o.value != "" {
			opts = append(opts, o.opt(o.value))
		}
	}
	return opts
}
