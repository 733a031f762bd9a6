package oauth

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// BearerChallenge is a parsed WWW-Authenticate header (RFC 6750 §3).
type BearerChallenge struct {
	// Scheme is the authentication scheme, typically "Bearer".
	Scheme string

	// Realm is the protection realm.
	Realm string

	// Scope is the space-separated scope the resource requires.
	Scope string

	// Error is the error code, such as "invalid_token".
	Error string

	// ErrorDescription is a human-readable error description.
	ErrorDescription string

	// ErrorURI points at documentation for the error.
	ErrorURI string
}

var authParamRegex = regexp.MustCompile(`(\w+)="([^"]*)"`)

// ParseWWWAuthenticate parses a WWW-Authenticate header value.
//
// Example headers:
//
//	Bearer realm="example"
//	Bearer realm="example", error="invalid_token", error_description="The access token expired"
//	Bearer error="insufficient_scope", scope="openid profile"
func ParseWWWAuthenticate(header string) (*BearerChallenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}

	// Split into scheme and parameters
	scheme, rest, _ := strings.Cut(header, " ")
	challenge := &BearerChallenge{Scheme: scheme}

	for _, match := range authParamRegex.FindAllStringSubmatch(rest, -1) {
		value := match[2]
		switch strings.ToLower(match[1]) {
		case "realm":
			challenge.Realm = value
		case "scope":
			challenge.Scope = value
		case "error":
			challenge.Error = value
		case "error_description":
			challenge.ErrorDescription = value
		case "error_uri":
			challenge.ErrorURI = value
		}
	}

	return challenge, nil
}

// ResourceServerError returns a DomainResourceServer error for a 401 or 403
// response from a protected resource, and nil for any other status. The
// Bearer challenge, when present, supplies the OAuth error code. Feed the
// result to AuthState.UpdateWithAuthorizationError.
func ResourceServerError(resp *http.Response) error {
	if resp == nil || (resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden) {
		return nil
	}

	err := &Error{
		Domain:      DomainResourceServer,
		Code:        Code(resp.StatusCode),
		Description: http.StatusText(resp.StatusCode),
	}

	challenge, parseErr := ParseWWWAuthenticate(resp.Header.Get("WWW-Authenticate"))
	if parseErr != nil || challenge.Error == "" {
		return err
	}
	err.Code = OAuthErrorCode(challenge.Error)
	err.OAuthError = challenge.Error
	err.URI = challenge.ErrorURI
	if challenge.ErrorDescription != "" {
		err.Description = challenge.ErrorDescription
	}
	return err
}
