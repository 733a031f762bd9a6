package oauth

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultDevicePollInterval applies when the provider sends no interval
	// (RFC 8628 §3.2).
	DefaultDevicePollInterval = 5 * time.Second
)

// slowDownIncrement is added to the polling interval on every slow_down
// response. Overridden in tests.
var slowDownIncrement = 5 * time.Second

var deviceAuthorizationRequestReserved = []string{"client_id", "client_secret", "scope"}

// DeviceAuthorizationRequest starts an RFC 8628 device authorization.
type DeviceAuthorizationRequest struct {
	Configuration        *ServiceConfiguration `json:"configuration"`
	ClientID             string                `json:"client_id"`
	ClientSecret         string                `json:"client_secret,omitempty"`
	Scope                string                `json:"scope,omitempty"`
	AdditionalParameters Params                `json:"additional_parameters,omitempty"`
}

// NewDeviceAuthorizationRequest builds a device authorization request. The
// configuration must carry a device authorization endpoint.
func NewDeviceAuthorizationRequest(config *ServiceConfiguration, clientID, clientSecret string, scopes []string, additional Params) (*DeviceAuthorizationRequest, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: configuration is required", ErrInvalidConfiguration)
	}
	if !config.SupportsDeviceFlow() {
		return nil, fmt.Errorf("%w: no device authorization endpoint", ErrInvalidConfiguration)
	}
	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	return &DeviceAuthorizationRequest{
		Configuration:        config,
		ClientID:             clientID,
		ClientSecret:         clientSecret,
		Scope:                JoinScopes(scopes),
		AdditionalParameters: additional.without(deviceAuthorizationRequestReserved),
	}, nil
}

// HTTPRequest describes the form POST to the device authorization endpoint.
func (r *DeviceAuthorizationRequest) HTTPRequest(auth ClientAuthentication) *HTTPRequest {
	if auth == nil {
		auth = DefaultClientAuthentication(r.ClientSecret)
	}
	form := url.Values{}
	for k, v := range r.AdditionalParameters {
		form.Set(k, v)
	}
	if r.Scope != "" {
		form.Set("scope", r.Scope)
	}
	return directRequest(r.Configuration.DeviceAuthorizationEndpoint(), r.ClientID, auth, form)
}

var deviceAuthorizationResponseKeys = []string{
	"device_code", "user_code", "verification_uri", "verification_url",
	"verification_uri_complete", "expires_in", "interval",
}

// DeviceAuthorizationResponse tells the user where to go and which code to
// enter, and the client which device code to poll with.
type DeviceAuthorizationResponse struct {
	Request                 *DeviceAuthorizationRequest `json:"request"`
	DeviceCode              string                      `json:"device_code"`
	UserCode                string                      `json:"user_code"`
	VerificationURI         string                      `json:"verification_uri"`
	VerificationURIComplete string                      `json:"verification_uri_complete,omitempty"`
	Expiry                  time.Time                   `json:"expiry"`
	Interval                time.Duration               `json:"interval"`
	AdditionalParameters    map[string]any              `json:"additional_parameters,omitempty"`
}

// NewDeviceAuthorizationResponse builds a response from the decoded JSON.
// Some providers still send the draft "verification_url" name; it is accepted
// as verification_uri.
func NewDeviceAuthorizationResponse(request *DeviceAuthorizationRequest, params map[string]any) (*DeviceAuthorizationResponse, error) {
	resp := &DeviceAuthorizationResponse{
		Request:                 request,
		DeviceCode:              stringValue(params, "device_code"),
		UserCode:                stringValue(params, "user_code"),
		VerificationURI:         stringValue(params, "verification_uri"),
		VerificationURIComplete: stringValue(params, "verification_uri_complete"),
		Interval:                DefaultDevicePollInterval,
		AdditionalParameters:    withoutKeys(params, deviceAuthorizationResponseKeys...),
	}
	if resp.VerificationURI == "" {
		resp.VerificationURI = stringValue(params, "verification_url")
	}

	for _, f := range []struct{ name, value string }{
		{"device_code", resp.DeviceCode},
		{"user_code", resp.UserCode},
		{"verification_uri", resp.VerificationURI},
	} {
		if f.value == "" {
			return nil, NewError(DomainGeneral, CodeTokenResponseConstructionError,
				fmt.Sprintf("device authorization response is missing %q", f.name), nil)
		}
	}

	if seconds, ok := expiresInSeconds(params["expires_in"]); ok {
		resp.Expiry = timeNow().Add(time.Duration(seconds) * time.Second)
	}
	if seconds, ok := expiresInSeconds(params["interval"]); ok && seconds > 0 {
		resp.Interval = time.Duration(seconds) * time.Second
	}
	return resp, nil
}

// TokenPollRequest builds the device_code grant request for polling.
func (r *DeviceAuthorizationResponse) TokenPollRequest(additional Params) (*TokenRequest, error) {
	return NewTokenRequest(r.Request.Configuration, r.Request.ClientID, r.Request.ClientSecret,
		DeviceCodeGrant{DeviceCode: r.DeviceCode}, "", additional)
}

// devicePollBackOff is a constant interval that grows on slow_down.
type devicePollBackOff struct {
	mu       sync.Mutex
	interval time.Duration
}

func (b *devicePollBackOff) NextBackOff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interval
}

func (b *devicePollBackOff) Reset() {}

func (b *devicePollBackOff) slowDown() {
	b.mu.Lock()
	b.interval += slowDownIncrement
	b.mu.Unlock()
}

// PollDeviceToken polls the token endpoint until the user approves or denies
// the device authorization, the device code expires, or ctx is done.
//
// authorization_pending keeps polling at the current interval and slow_down
// increases the interval by five seconds. Any other error ends polling and is
// returned as is. The first poll happens after one interval.
func PollDeviceToken(ctx context.Context, performer TokenPerformer, resp *DeviceAuthorizationResponse, additional Params, notify func(err error, next time.Duration)) (*TokenResponse, error) {
	request, err := resp.TokenPollRequest(additional)
	if err != nil {
		return nil, err
	}

	if !resp.Expiry.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, resp.Expiry)
		defer cancel()
	}

	b := &devicePollBackOff{interval: resp.Interval}
	select {
	case <-ctx.Done():
		return nil, devicePollContextError(ctx)
	case <-time.After(b.NextBackOff()):
	}

	operation := func() (*TokenResponse, error) {
		token, err := performer.PerformTokenRequest(ctx, request)
		switch {
		case err == nil:
			return token, nil
		case IsOAuthError(err, "authorization_pending"):
			return nil, err
		case IsOAuthError(err, "slow_down"):
			b.slowDown()
			return nil, err
		default:
			return nil, backoff.Permanent(err)
		}
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(notify)))
	}

	token, err := backoff.Retry(ctx, operation, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, devicePollContextError(ctx)
		}
		return nil, err
	}
	return token, nil
}

func devicePollContextError(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return &Error{
			Domain:      DomainToken,
			Code:        CodeOAuthExpiredToken,
			OAuthError:  "expired_token",
			Description: "device code expired before the user completed authorization",
			Err:         ctx.Err(),
		}
	}
	return ctx.Err()
}
