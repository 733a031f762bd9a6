package oauth

import (
	"errors"
	"fmt"
	"testing"
)

func TestOAuthErrorCode(t *testing.T) {
	tests := []struct {
		in   string
		want Code
	}{
		{"invalid_request", CodeOAuthInvalidRequest},
		{"invalid_grant", CodeOAuthInvalidGrant},
		{"access_denied", CodeOAuthAccessDenied},
		{"authorization_pending", CodeOAuthAuthorizationPending},
		{"slow_down", CodeOAuthSlowDown},
		{"invalid_client_metadata", CodeOAuthInvalidClientMetadata},
		{"something_else", CodeOAuthOther},
		{"", CodeOAuthOther},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := OAuthErrorCode(tt.in); got != tt.want {
				t.Errorf("OAuthErrorCode(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewOAuthError(t *testing.T) {
	err := NewOAuthError(DomainToken, map[string]any{
		"error":             "invalid_grant",
		"error_description": "refresh token revoked",
		"error_uri":         "https://example.com/errors/invalid_grant",
	})

	if err.Code != CodeOAuthInvalidGrant {
		t.Errorf("Code = %d, want %d", err.Code, CodeOAuthInvalidGrant)
	}
	if err.OAuthError != "invalid_grant" {
		t.Errorf("OAuthError = %q, want invalid_grant", err.OAuthError)
	}
	if err.Description != "refresh token revoked" {
		t.Errorf("Description = %q", err.Description)
	}
	if err.URI != "https://example.com/errors/invalid_grant" {
		t.Errorf("URI = %q", err.URI)
	}
	if got, want := err.Error(), "oauth_token: invalid_grant: refresh token revoked"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestError_Error(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewError(DomainGeneral, CodeNetworkError, "token request failed", cause)

	if got, want := err.Error(), "general error -5: token request failed: connection refused"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestError_Is(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewOAuthError(DomainToken, map[string]any{"error": "invalid_grant"}))

	if !errors.Is(err, &Error{Domain: DomainToken, Code: CodeOAuthInvalidGrant}) {
		t.Error("expected match on domain and code")
	}
	if errors.Is(err, &Error{Domain: DomainAuthorization, Code: CodeOAuthInvalidGrant}) {
		t.Error("expected no match for a different domain")
	}
	if errors.Is(err, &Error{Domain: DomainToken, Code: CodeOAuthInvalidRequest}) {
		t.Error("expected no match for a different code")
	}
}

func TestInvalidatesAuthorization(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"authorization", NewOAuthError(DomainAuthorization, map[string]any{"error": "access_denied"}), true},
		{"token", NewOAuthError(DomainToken, map[string]any{"error": "invalid_grant"}), true},
		{"resource server", &Error{Domain: DomainResourceServer, Code: 401}, true},
		{"registration", NewOAuthError(DomainRegistration, map[string]any{"error": "invalid_client_metadata"}), false},
		{"network", NewError(DomainGeneral, CodeNetworkError, "offline", nil), false},
		{"server error", NewError(DomainGeneral, CodeServerError, "503", nil), false},
		{"http", &Error{Domain: DomainHTTP, Code: 404}, false},
		{"wrapped token", fmt.Errorf("refresh: %w", NewOAuthError(DomainToken, map[string]any{"error": "invalid_client"})), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InvalidatesAuthorization(tt.err); got != tt.want {
				t.Errorf("InvalidatesAuthorization() = %v, want %v", got, tt.want)
			}
			if tt.err != nil {
				if got := IsTransient(tt.err); got == tt.want {
					t.Errorf("IsTransient() = %v, want %v", got, !tt.want)
				}
			}
		})
	}
}

func TestIsOAuthError(t *testing.T) {
	err := fmt.Errorf("poll: %w", NewOAuthError(DomainToken, map[string]any{"error": "slow_down"}))

	if !IsOAuthError(err, "slow_down") {
		t.Error("expected slow_down to match")
	}
	if IsOAuthError(err, "authorization_pending") {
		t.Error("expected authorization_pending not to match")
	}
	if IsOAuthError(errors.New("slow_down"), "slow_down") {
		t.Error("expected plain errors not to match")
	}
}

func TestHasDomain(t *testing.T) {
	err := NewError(DomainGeneral, CodeJSONDeserializationError, "bad json", nil)

	if !HasDomain(err, DomainGeneral) {
		t.Error("expected general domain")
	}
	if HasDomain(err, DomainToken) {
		t.Error("expected not token domain")
	}
	if _, ok := ErrorDomain(errors.New("plain")); ok {
		t.Error("expected no domain for a plain error")
	}
}
