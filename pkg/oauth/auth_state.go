package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// tokenExpiryTolerance treats access tokens this close to expiry as expired.
const tokenExpiryTolerance = 60 * time.Second

// TokenPerformer performs a token request against the provider. Provider
// OAuth errors come back as DomainToken errors; transport failures as
// transient errors.
type TokenPerformer interface {
	PerformTokenRequest(ctx context.Context, request *TokenRequest) (*TokenResponse, error)
}

// TokenPerformerFunc adapts a function to TokenPerformer.
type TokenPerformerFunc func(ctx context.Context, request *TokenRequest) (*TokenResponse, error)

// PerformTokenRequest calls f.
func (f TokenPerformerFunc) PerformTokenRequest(ctx context.Context, request *TokenRequest) (*TokenResponse, error) {
	return f(ctx, request)
}

// FreshTokensAction receives the outcome of PerformActionWithFreshTokens.
type FreshTokensAction func(accessToken, idToken string, err error)

// AuthStateChangeDelegate is notified whenever persisted fields change.
type AuthStateChangeDelegate interface {
	DidChangeState(state *AuthState)
}

// AuthStateErrorDelegate is notified when an error invalidates the state.
type AuthStateErrorDelegate interface {
	DidEncounterAuthorizationError(state *AuthState, err error)
}

// AuthState is the long-lived authorization state of one session. All
// mutable fields form a single unit guarded by mu. Callers discard the
// AuthState to sign out.
type AuthState struct {
	mu sync.Mutex

	refreshToken      string
	scope             string
	accessToken       string
	tokenType         string
	accessTokenExpiry time.Time
	idToken           string

	lastAuthorizationResponse *AuthorizationResponse
	lastTokenResponse         *TokenResponse
	authorizationError        error
	needsTokenRefresh         bool

	refreshInFlight bool
	pendingActions  []FreshTokensAction

	stateChangeDelegate AuthStateChangeDelegate
	errorDelegate       AuthStateErrorDelegate
}

// NewAuthState creates a state from the outcome of an authorization and,
// optionally, the code exchange that followed. authResponse may be nil for
// flows without an authorization leg, such as the device flow.
func NewAuthState(authResponse *AuthorizationResponse, tokenResponse *TokenResponse, err error) *AuthState {
	s := &AuthState{}
	s.UpdateWithAuthorizationResponse(authResponse, err)
	if tokenResponse != nil {
		s.UpdateWithTokenResponse(tokenResponse, nil)
	}
	return s
}

// SetStateChangeDelegate replaces the state-change delegate. nil removes it.
func (s *AuthState) SetStateChangeDelegate(d AuthStateChangeDelegate) {
	s.mu.Lock()
	s.stateChangeDelegate = d
	s.mu.Unlock()
}

// SetErrorDelegate replaces the error delegate. nil removes it.
func (s *AuthState) SetErrorDelegate(d AuthStateErrorDelegate) {
	s.mu.Lock()
	s.errorDelegate = d
	s.mu.Unlock()
}

// UpdateWithAuthorizationResponse records the outcome of an authorization.
// Authorization-domain errors invalidate the state; other errors are
// ignored. A response starts a new grant: tokens from the previous grant are
// dropped.
func (s *AuthState) UpdateWithAuthorizationResponse(response *AuthorizationResponse, err error) {
	if err != nil {
		if HasDomain(err, DomainAuthorization) {
			s.UpdateWithAuthorizationError(err)
		}
		return
	}
	if response == nil {
		return
	}

	s.mu.Lock()
	s.lastAuthorizationResponse = response
	s.lastTokenResponse = nil
	s.refreshToken = ""
	s.idToken = response.IDToken
	s.accessToken = response.AccessToken
	s.tokenType = response.TokenType
	s.accessTokenExpiry = response.AccessTokenExpiry
	s.authorizationError = nil
	s.scope = response.Scope
	if s.scope == "" && response.Request != nil {
		// RFC 6749 §5.1: an absent scope equals the requested one.
		s.scope = response.Request.Scope
	}
	s.mu.Unlock()

	s.didChangeState()
}

// UpdateWithTokenResponse records the outcome of a token request.
// Token-domain errors invalidate the state; other errors are ignored. A
// response without a refresh token keeps the previous one, and a response
// without an ID token keeps the previous ID token.
func (s *AuthState) UpdateWithTokenResponse(response *TokenResponse, err error) {
	if err != nil {
		if HasDomain(err, DomainToken) {
			s.UpdateWithAuthorizationError(err)
		}
		return
	}
	if response == nil {
		return
	}

	s.mu.Lock()
	s.lastTokenResponse = response
	s.accessToken = response.AccessToken
	s.tokenType = response.TokenType
	s.accessTokenExpiry = response.AccessTokenExpiry
	if response.RefreshToken != "" {
		s.refreshToken = response.RefreshToken
	}
	if response.IDToken != "" {
		s.idToken = response.IDToken
	}
	if response.Scope != "" {
		s.scope = response.Scope
	}
	s.authorizationError = nil
	s.needsTokenRefresh = false
	s.mu.Unlock()

	s.didChangeState()
}

// UpdateWithAuthorizationError invalidates the state. Use it for errors
// observed out of band, such as a 401 from a resource server.
func (s *AuthState) UpdateWithAuthorizationError(err error) {
	s.mu.Lock()
	s.authorizationError = err
	s.accessToken = ""
	s.tokenType = ""
	s.accessTokenExpiry = time.Time{}
	s.idToken = ""
	s.refreshToken = ""
	s.mu.Unlock()

	s.didChangeState()
	s.didEncounterAuthorizationError(err)
}

// SetNeedsTokenRefresh forces the next PerformActionWithFreshTokens to
// refresh even if the cached access token has not expired.
func (s *AuthState) SetNeedsTokenRefresh() {
	s.mu.Lock()
	s.needsTokenRefresh = true
	s.mu.Unlock()
}

// PerformActionWithFreshTokens calls action with a fresh access token.
func (s *AuthState) PerformActionWithFreshTokens(ctx context.Context, performer TokenPerformer, action FreshTokensAction) {
	s.PerformActionWithFreshTokensAdditionalParameters(ctx, performer, nil, action)
}

// PerformActionWithFreshTokensAdditionalParameters calls action with a fresh
// access token, refreshing first when needed. additional is sent with the
// refresh request.
//
// A fresh cached token is passed to action immediately. Otherwise action is
// queued and at most one refresh runs, in its own goroutine; when it ends,
// every queued action runs once, in the order queued, with the same outcome.
// Without a refresh token action receives an error right away.
//
// The refresh is not cancelled when ctx is cancelled, since other callers may
// be waiting on it; ctx values are still passed to performer.
func (s *AuthState) PerformActionWithFreshTokensAdditionalParameters(ctx context.Context, performer TokenPerformer, additional Params, action FreshTokensAction) {
	s.mu.Lock()

	if s.isTokenFreshLocked() {
		accessToken, idToken := s.accessToken, s.idToken
		s.mu.Unlock()
		action(accessToken, idToken, nil)
		return
	}

	if s.refreshInFlight {
		s.pendingActions = append(s.pendingActions, action)
		s.mu.Unlock()
		return
	}

	if s.refreshToken == "" {
		err := s.authorizationError
		if err == nil {
			err = NewError(DomainGeneral, CodeTokenRefreshError, "unable to obtain a fresh token", ErrNoRefreshToken)
		}
		s.mu.Unlock()
		action("", "", err)
		return
	}

	request, err := s.tokenRefreshRequestLocked(additional)
	if err != nil {
		s.mu.Unlock()
		action("", "", NewError(DomainGeneral, CodeTokenRefreshError, "unable to build refresh request", err))
		return
	}

	s.pendingActions = append(s.pendingActions, action)
	s.refreshInFlight = true
	s.mu.Unlock()

	go s.refresh(context.WithoutCancel(ctx), performer, request)
}

func (s *AuthState) refresh(ctx context.Context, performer TokenPerformer, request *TokenRequest) {
	response, err := performer.PerformTokenRequest(ctx, request)
	s.UpdateWithTokenResponse(response, err)

	s.mu.Lock()
	actions := s.pendingActions
	s.pendingActions = nil
	s.refreshInFlight = false
	var accessToken, idToken string
	if err == nil {
		accessToken, idToken = s.accessToken, s.idToken
	}
	s.mu.Unlock()

	for _, action := range actions {
		action(accessToken, idToken, err)
	}
}

// FreshTokens is the blocking form of PerformActionWithFreshTokens. It
// returns early with ctx.Err() when ctx is done.
func (s *AuthState) FreshTokens(ctx context.Context, performer TokenPerformer) (accessToken, idToken string, err error) {
	type result struct {
		accessToken, idToken string
		err                  error
	}
	ch := make(chan result, 1)
	s.PerformActionWithFreshTokens(ctx, performer, func(a, i string, err error) {
		ch <- result{a, i, err}
	})
	select {
	case r := <-ch:
		return r.accessToken, r.idToken, r.err
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
}

// TokenSource returns an oauth2.TokenSource backed by FreshTokens.
func (s *AuthState) TokenSource(ctx context.Context, performer TokenPerformer) oauth2.TokenSource {
	return &authStateTokenSource{ctx: ctx, state: s, performer: performer}
}

type authStateTokenSource struct {
	ctx       context.Context
	state     *AuthState
	performer TokenPerformer
}

func (ts *authStateTokenSource) Token() (*oauth2.Token, error) {
	accessToken, idToken, err := ts.state.FreshTokens(ts.ctx, ts.performer)
	if err != nil {
		return nil, err
	}
	ts.state.mu.Lock()
	token := &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   ts.state.tokenType,
		Expiry:      ts.state.accessTokenExpiry,
	}
	ts.state.mu.Unlock()
	if idToken != "" {
		token = token.WithExtra(map[string]any{"id_token": idToken})
	}
	return token, nil
}

// TokenRefreshRequest builds the refresh_token grant request for the current
// state, or returns nil when no refresh token is held.
func (s *AuthState) TokenRefreshRequest(additional Params) *TokenRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshToken == "" {
		return nil
	}
	request, err := s.tokenRefreshRequestLocked(additional)
	if err != nil {
		return nil
	}
	return request
}

func (s *AuthState) tokenRefreshRequestLocked(additional Params) (*TokenRequest, error) {
	var (
		config       *ServiceConfiguration
		clientID     string
		clientSecret string
	)
	switch {
	case s.lastTokenResponse != nil && s.lastTokenResponse.Request != nil:
		r := s.lastTokenResponse.Request
		config, clientID, clientSecret = r.Configuration, r.ClientID, r.ClientSecret
	case s.lastAuthorizationResponse != nil && s.lastAuthorizationResponse.Request != nil:
		r := s.lastAuthorizationResponse.Request
		config, clientID, clientSecret = r.Configuration, r.ClientID, r.ClientSecret
	}
	return NewTokenRequest(config, clientID, clientSecret, RefreshTokenGrant{RefreshToken: s.refreshToken}, "", additional)
}

func (s *AuthState) isTokenFreshLocked() bool {
	if s.needsTokenRefresh || s.accessToken == "" {
		return false
	}
	if s.accessTokenExpiry.IsZero() {
		return true
	}
	return s.accessTokenExpiry.After(timeNow().Add(tokenExpiryTolerance))
}

// IsAuthorized reports whether the state holds no invalidating error and
// either a token or, before any token exchange, an authorization code.
func (s *AuthState) IsAuthorized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authorizationError != nil {
		return false
	}
	if s.accessToken != "" || s.idToken != "" {
		return true
	}
	return s.lastTokenResponse == nil &&
		s.lastAuthorizationResponse != nil &&
		s.lastAuthorizationResponse.Code != ""
}

// IsTokenFresh reports whether the cached access token can be used as is.
func (s *AuthState) IsTokenFresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isTokenFreshLocked()
}

// AccessToken returns the cached access token, which may be stale.
func (s *AuthState) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

// AccessTokenExpiry returns when the access token expires, zero if unknown.
func (s *AuthState) AccessTokenExpiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessTokenExpiry
}

// TokenType returns the type of the access token, usually "Bearer".
func (s *AuthState) TokenType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenType
}

// IDToken returns the most recent ID token.
func (s *AuthState) IDToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idToken
}

// RefreshToken returns the current refresh token.
func (s *AuthState) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken
}

// Scope returns the most recently granted scope.
func (s *AuthState) Scope() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// LastAuthorizationResponse returns the response the state was last updated with.
func (s *AuthState) LastAuthorizationResponse() *AuthorizationResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuthorizationResponse
}

// LastTokenResponse returns the most recent token response.
func (s *AuthState) LastTokenResponse() *TokenResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTokenResponse
}

// AuthorizationError returns the error that invalidated the state, if any.
func (s *AuthState) AuthorizationError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorizationError
}

// Configuration returns the service configuration of the current grant.
func (s *AuthState) Configuration() *ServiceConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.lastTokenResponse != nil && s.lastTokenResponse.Request != nil:
		return s.lastTokenResponse.Request.Configuration
	case s.lastAuthorizationResponse != nil && s.lastAuthorizationResponse.Request != nil:
		return s.lastAuthorizationResponse.Request.Configuration
	default:
		return nil
	}
}

func (s *AuthState) didChangeState() {
	s.mu.Lock()
	d := s.stateChangeDelegate
	s.mu.Unlock()
	if d != nil {
		d.DidChangeState(s)
	}
}

func (s *AuthState) didEncounterAuthorizationError(err error) {
	s.mu.Lock()
	d := s.errorDelegate
	s.mu.Unlock()
	if d != nil {
		d.DidEncounterAuthorizationError(s, err)
	}
}

// authStateJSON is the persisted form. The authorization error is kept as
// its message only.
type authStateJSON struct {
	RefreshToken              string                 `json:"refresh_token,omitempty"`
	Scope                     string                 `json:"scope,omitempty"`
	AccessToken               string                 `json:"access_token,omitempty"`
	TokenType                 string                 `json:"token_type,omitempty"`
	AccessTokenExpiry         time.Time              `json:"access_token_expiry"`
	IDToken                   string                 `json:"id_token,omitempty"`
	LastAuthorizationResponse *AuthorizationResponse `json:"last_authorization_response,omitempty"`
	LastTokenResponse         *TokenResponse         `json:"last_token_response,omitempty"`
	AuthorizationError        *persistedError        `json:"authorization_error,omitempty"`
	NeedsTokenRefresh         bool                   `json:"needs_token_refresh,omitempty"`
}

type persistedError struct {
	Domain      Domain `json:"domain"`
	Code        Code   `json:"code"`
	OAuthError  string `json:"error,omitempty"`
	Description string `json:"error_description,omitempty"`
}

// MarshalJSON implements json.Marshaler. Delegates and in-flight refresh
// bookkeeping are not persisted.
func (s *AuthState) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	v := authStateJSON{
		RefreshToken:              s.refreshToken,
		Scope:                     s.scope,
		AccessToken:               s.accessToken,
		TokenType:                 s.tokenType,
		AccessTokenExpiry:         s.accessTokenExpiry,
		IDToken:                   s.idToken,
		LastAuthorizationResponse: s.lastAuthorizationResponse,
		LastTokenResponse:         s.lastTokenResponse,
		NeedsTokenRefresh:         s.needsTokenRefresh,
	}
	if s.authorizationError != nil {
		v.AuthorizationError = &persistedError{Description: s.authorizationError.Error()}
		var oauthErr *Error
		if errors.As(s.authorizationError, &oauthErr) {
			v.AuthorizationError = &persistedError{
				Domain:      oauthErr.Domain,
				Code:        oauthErr.Code,
				OAuthError:  oauthErr.OAuthError,
				Description: oauthErr.Description,
			}
		}
	}
	s.mu.Unlock()
	return json.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *AuthState) UnmarshalJSON(data []byte) error {
	var v authStateJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return NewError(DomainGeneral, CodeJSONDeserializationError, "failed to decode auth state", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshToken = v.RefreshToken
	s.scope = v.Scope
	s.accessToken = v.AccessToken
	s.tokenType = v.TokenType
	s.accessTokenExpiry = v.AccessTokenExpiry
	s.idToken = v.IDToken
	s.lastAuthorizationResponse = v.LastAuthorizationResponse
	s.lastTokenResponse = v.LastTokenResponse
	s.needsTokenRefresh = v.NeedsTokenRefresh
	s.authorizationError = nil
	if e := v.AuthorizationError; e != nil {
		s.authorizationError = &Error{
			Domain:      e.Domain,
			Code:        e.Code,
			OAuthError:  e.OAuthError,
			Description: e.Description,
		}
	}
	return nil
}
