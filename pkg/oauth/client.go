package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultDiscoveryCacheTTL is the default TTL for cached discovery results.
	DefaultDiscoveryCacheTTL = 30 * time.Minute

	// maxResponseBytes caps how much of a provider response is read.
	maxResponseBytes = 1 << 20
)

// discoveryCacheEntry holds a cached configuration with its timestamp.
type discoveryCacheEntry struct {
	config    *ServiceConfiguration
	fetchedAt time.Time
}

// Client is the HTTP transport for the request types in this package: it
// fetches discovery documents and performs token, revocation, registration,
// device authorization and userinfo requests, mapping results into the
// error taxonomy.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	clientAuth ClientAuthentication

	// Discovery cache with mutex for thread safety
	discoveryMu    sync.RWMutex
	discoveryCache map[string]*discoveryCacheEntry
	discoveryTTL   time.Duration

	// singleflight group to deduplicate concurrent discovery fetches
	discoveryGroup singleflight.Group
}

// ClientOption configures the OAuth client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDiscoveryCacheTTL sets the discovery cache TTL.
func WithDiscoveryCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.discoveryTTL = ttl
	}
}

// WithClientAuthentication overrides how client credentials are sent. By
// default each request uses DefaultClientAuthentication for its secret.
func WithClientAuthentication(auth ClientAuthentication) ClientOption {
	return func(c *Client) {
		c.clientAuth = auth
	}
}

// NewClient creates a new OAuth client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:     &http.Client{Timeout: DefaultHTTPTimeout},
		logger:         slog.Default(),
		discoveryCache: make(map[string]*discoveryCacheEntry),
		discoveryTTL:   DefaultDiscoveryCacheTTL,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// DiscoverConfiguration fetches the issuer's discovery document and derives
// a ServiceConfiguration. It tries OpenID Connect discovery
// (/.well-known/openid-configuration) first, then RFC 8414
// (/.well-known/oauth-authorization-server).
//
// Results are cached with a TTL to reduce network requests.
func (c *Client) DiscoverConfiguration(ctx context.Context, issuer string) (*ServiceConfiguration, error) {
	issuer = strings.TrimSuffix(issuer, "/")

	if config, ok := c.cachedConfiguration(issuer); ok {
		return config, nil
	}

	// Use singleflight to deduplicate concurrent fetches
	result, err, _ := c.discoveryGroup.Do(issuer, func() (any, error) {
		// Double-check cache after acquiring singleflight lock
		if config, ok := c.cachedConfiguration(issuer); ok {
			return config, nil
		}
		return c.doDiscover(ctx, issuer)
	})
	if err != nil {
		return nil, err
	}

	return result.(*ServiceConfiguration), nil
}

func (c *Client) cachedConfiguration(issuer string) (*ServiceConfiguration, bool) {
	c.discoveryMu.RLock()
	defer c.discoveryMu.RUnlock()
	if entry, ok := c.discoveryCache[issuer]; ok && time.Since(entry.fetchedAt) < c.discoveryTTL {
		return entry.config, true
	}
	return nil, false
}

// doDiscover performs the actual HTTP fetches for discovery.
func (c *Client) doDiscover(ctx context.Context, issuer string) (*ServiceConfiguration, error) {
	config, err := c.DiscoverConfigurationFromURL(ctx, issuer+"/.well-known/openid-configuration")
	if err == nil {
		c.cacheConfiguration(issuer, config)
		return config, nil
	}

	c.logger.Debug("OIDC discovery failed, trying RFC 8414 metadata",
		"issuer", issuer,
		"error", err)

	config, err2 := c.DiscoverConfigurationFromURL(ctx, issuer+"/.well-known/oauth-authorization-server")
	if err2 == nil {
		c.cacheConfiguration(issuer, config)
		return config, nil
	}

	return nil, fmt.Errorf("failed to discover configuration for %s: %w", issuer, err)
}

// DiscoverConfigurationFromURL fetches and validates the discovery document
// at discoveryURL. Results are not cached.
func (c *Client) DiscoverConfigurationFromURL(ctx context.Context, discoveryURL string) (*ServiceConfiguration, error) {
	req, err := (&HTTPRequest{Method: http.MethodGet, URL: discoveryURL}).NewRequest(ctx)
	if err != nil {
		return nil, err
	}

	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, httpStatusError(status, body)
	}

	doc, err := ParseDiscoveryDocument(body)
	if err != nil {
		return nil, err
	}
	return ServiceConfigurationFromDiscovery(doc)
}

// cacheConfiguration stores a configuration in the cache.
func (c *Client) cacheConfiguration(issuer string, config *ServiceConfiguration) {
	c.discoveryMu.Lock()
	c.discoveryCache[issuer] = &discoveryCacheEntry{
		config:    config,
		fetchedAt: time.Now(),
	}
	c.discoveryMu.Unlock()

	c.logger.Debug("Cached service configuration",
		"issuer", issuer,
		"authorization_endpoint", config.AuthorizationEndpoint(),
		"token_endpoint", config.TokenEndpoint())
}

// ClearDiscoveryCache clears the discovery cache.
func (c *Client) ClearDiscoveryCache() {
	c.discoveryMu.Lock()
	c.discoveryCache = make(map[string]*discoveryCacheEntry)
	c.discoveryMu.Unlock()
}

// PerformTokenRequest implements TokenPerformer.
func (c *Client) PerformTokenRequest(ctx context.Context, request *TokenRequest) (*TokenResponse, error) {
	params, err := c.postForJSON(ctx, request.HTTPRequest(c.clientAuth), DomainToken)
	if err != nil {
		c.logger.Debug("Token request failed",
			"grant_type", request.GrantType(),
			"error", err)
		return nil, err
	}
	return NewTokenResponse(request, params)
}

// ExchangeAuthorizationCode redeems the code in authResponse and validates
// any returned ID token against the original request.
func (c *Client) ExchangeAuthorizationCode(ctx context.Context, authResponse *AuthorizationResponse, additional Params) (*TokenResponse, error) {
	request, err := authResponse.TokenExchangeRequest(additional)
	if err != nil {
		return nil, err
	}
	response, err := c.PerformTokenRequest(ctx, request)
	if err != nil {
		return nil, err
	}
	if _, err := ValidateIDToken(response, authResponse); err != nil {
		return nil, err
	}
	return response, nil
}

// RevokeToken performs an RFC 7009 revocation.
func (c *Client) RevokeToken(ctx context.Context, request *RevokeTokenRequest) (*RevokeTokenResponse, error) {
	req, err := request.HTTPRequest(c.clientAuth).NewRequest(ctx)
	if err != nil {
		return nil, err
	}
	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, classifyErrorResponse(DomainToken, status, body)
	}
	return &RevokeTokenResponse{Request: request}, nil
}

// Register performs an RFC 7591 dynamic client registration.
func (c *Client) Register(ctx context.Context, request *RegistrationRequest) (*RegistrationResponse, error) {
	desc, err := request.HTTPRequest()
	if err != nil {
		return nil, err
	}
	params, err := c.postForJSON(ctx, desc, DomainRegistration)
	if err != nil {
		return nil, err
	}
	return NewRegistrationResponse(request, params)
}

// AuthorizeDevice starts an RFC 8628 device authorization.
func (c *Client) AuthorizeDevice(ctx context.Context, request *DeviceAuthorizationRequest) (*DeviceAuthorizationResponse, error) {
	params, err := c.postForJSON(ctx, request.HTTPRequest(c.clientAuth), DomainToken)
	if err != nil {
		return nil, err
	}
	return NewDeviceAuthorizationResponse(request, params)
}

// Userinfo fetches the OIDC userinfo claims with accessToken. A 401 or 403
// is returned as a resource server error.
func (c *Client) Userinfo(ctx context.Context, config *ServiceConfiguration, accessToken string) (map[string]any, error) {
	if config.UserinfoEndpoint() == "" {
		return nil, fmt.Errorf("%w: no userinfo endpoint", ErrInvalidConfiguration)
	}
	req, err := (&HTTPRequest{
		Method: http.MethodGet,
		URL:    config.UserinfoEndpoint(),
		Header: http.Header{"Authorization": {"Bearer " + accessToken}},
	}).NewRequest(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewError(DomainGeneral, CodeNetworkError, "userinfo request failed", err)
	}
	defer resp.Body.Close()

	if err := ResourceServerError(resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, NewError(DomainGeneral, CodeNetworkError, "failed to read userinfo response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusError(resp.StatusCode, body)
	}
	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, NewError(DomainGeneral, CodeJSONDeserializationError, "failed to parse userinfo response", err)
	}
	return claims, nil
}

// postForJSON sends desc and decodes a JSON object from a 2xx response.
// Error responses are classified in domain.
func (c *Client) postForJSON(ctx context.Context, desc *HTTPRequest, domain Domain) (map[string]any, error) {
	req, err := desc.NewRequest(ctx)
	if err != nil {
		return nil, err
	}
	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, classifyErrorResponse(domain, status, body)
	}

	var params map[string]any
	if err := json.Unmarshal(body, &params); err != nil {
		return nil, NewError(DomainGeneral, CodeJSONDeserializationError, "failed to parse response", err)
	}
	return params, nil
}

// do sends req and reads the body. Transport failures are general-domain
// network errors, which never invalidate an AuthState.
func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, NewError(DomainGeneral, CodeNetworkError,
			fmt.Sprintf("%s %s failed", req.Method, req.URL.Redacted()), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, NewError(DomainGeneral, CodeNetworkError, "failed to read response", err)
	}
	return resp.StatusCode, body, nil
}

// classifyErrorResponse turns a non-2xx response into an error. A 400 or
// 401 carrying an RFC 6749 error object is an OAuth error in domain;
// anything else is an HTTP error and therefore transient.
func classifyErrorResponse(domain Domain, status int, body []byte) error {
	if status == http.StatusBadRequest || status == http.StatusUnauthorized {
		var payload map[string]any
		if json.Unmarshal(body, &payload) == nil && stringValue(payload, "error") != "" {
			return NewOAuthError(domain, payload)
		}
	}
	return httpStatusError(status, body)
}

func httpStatusError(status int, body []byte) error {
	description := http.StatusText(status)
	if status >= 500 {
		return &Error{
			Domain:      DomainGeneral,
			Code:        CodeServerError,
			Description: fmt.Sprintf("server responded with %d %s", status, description),
		}
	}
	const maxSnippet = 256
	snippet := string(body)
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}
	return &Error{
		Domain:      DomainHTTP,
		Code:        Code(status),
		Description: description,
		Response:    map[string]any{"body": snippet},
	}
}
