// Package oauth implements the client side of OAuth 2.0 and OpenID Connect
// for native applications (RFC 6749, RFC 7636, RFC 8252, RFC 8628).
//
// The package is split into a pure request/response layer and a small
// amount of stateful machinery on top of it.
//
// # Core Components
//
//   - ServiceConfiguration: validated provider endpoints, built by hand or
//     from a DiscoveryDocument
//   - AuthorizationRequest / AuthorizationResponse: front-channel requests
//     with PKCE, state and nonce generated by default
//   - TokenRequest / TokenResponse: back-channel grants (authorization code,
//     refresh token, device code)
//   - FlowSession: an exactly-once coordinator between an ExternalUserAgent
//     and the code waiting for the redirect
//   - AuthState: the authorization state of one user, with single-flight
//     token refresh and JSON persistence
//   - Error: a domain/code error taxonomy with helpers to classify failures
//   - Client: HTTP transport for discovery, token, revocation, registration
//     and device authorization endpoints
//
// # Usage
//
//	client := oauth.NewClient(oauth.WithLogger(logger))
//	config, err := client.DiscoverConfiguration(ctx, "https://accounts.example.com")
//
//	req, err := oauth.NewAuthorizationRequest(config, "client-id",
//		"http://127.0.0.1:8765/callback", []string{"openid", "profile"})
//	session := oauth.PresentAuthorizationRequest(req, agent, func(resp *oauth.AuthorizationResponse, err error) {
//		// exchange the code with client.ExchangeAuthorizationCode
//	})
//
//	state := oauth.NewAuthState(authResp, tokenResp, nil)
//	state.PerformActionWithFreshTokens(ctx, client, func(accessToken, idToken string, err error) {
//		// call the API
//	})
package oauth
