// Package authflow drives the OAuth 2.0 and OpenID Connect flows of the
// configured providers and keeps one session per provider in a
// statestore.Store.
//
// A Manager resolves each provider's service configuration from static
// endpoints, the known-issuer table or discovery, in that order. It then
// runs:
//
//   - Login: authorization code flow with PKCE through an external user agent
//   - DeviceLogin: RFC 8628 device authorization grant
//   - FreshToken: returns tokens, refreshing them when needed
//   - Revoke: RFC 7009 token revocation
//   - Logout: RP-initiated logout and local session removal
//   - Register: RFC 7591 dynamic client registration
//   - Status: a summary of every session
//
// Flow, refresh and token request outcomes are counted in Prometheus
// counters; see Metrics.
package authflow
