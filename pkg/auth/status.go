package auth

import (
	"time"
)

// Session states reported in SessionStatus.Status.
const (
	StatusAuthorized  = "authorized"
	StatusExpired     = "expired"
	StatusInvalidated = "invalidated"
	StatusNotLoggedIn = "not_logged_in"
	StatusUnreadable  = "error"
)

// StatusResponse represents the authentication state of every known provider.
type StatusResponse struct {
	// Sessions lists one entry per configured provider or stored session,
	// sorted by provider name.
	Sessions []SessionStatus `json:"sessions"`
}

// SessionStatus describes the stored authorization state for one provider.
type SessionStatus struct {
	// Provider is the name of the provider in the configuration, which is
	// also the key the session is stored under.
	Provider string `json:"provider"`

	// Status is one of the Status* constants.
	Status string `json:"status"`

	Issuer  string `json:"issuer,omitempty"`
	Subject string `json:"subject,omitempty"`
	Email   string `json:"email,omitempty"`
	Scope   string `json:"scope,omitempty"`

	// AccessTokenExpiry is nil when the provider did not report a lifetime.
	AccessTokenExpiry *time.Time `json:"access_token_expiry,omitempty"`

	HasRefreshToken bool `json:"has_refresh_token"`

	// Error is present when Status is StatusInvalidated or StatusUnreadable.
	Error string `json:"error,omitempty"`
}

// Authorized reports whether the session can produce tokens, possibly after
// a refresh.
func (s SessionStatus) Authorized() bool {
	return s.Status == StatusAuthorized || s.Status == StatusExpired
}
