package oauth

import (
	"errors"
	"fmt"
	"strings"
)

// Domain identifies the namespace an Error's Code belongs to.
type Domain string

const (
	// DomainGeneral covers local failures: malformed documents, JSON problems,
	// cancellations and user-agent presentation failures.
	DomainGeneral Domain = "oidcflow.general"

	// DomainAuthorization covers errors returned by the authorization endpoint
	// plus client-side validation failures of the authorization leg.
	DomainAuthorization Domain = "oidcflow.oauth_authorization"

	// DomainToken covers errors returned by the token endpoint.
	DomainToken Domain = "oidcflow.oauth_token"

	// DomainRegistration covers errors returned by the registration endpoint.
	DomainRegistration Domain = "oidcflow.oauth_registration"

	// DomainResourceServer covers errors observed while calling a protected
	// resource, such as a 401 carrying a Bearer challenge.
	DomainResourceServer Domain = "oidcflow.resource_server_authorization"

	// DomainHTTP covers HTTP responses that carried no OAuth error payload.
	// The Code is the HTTP status.
	DomainHTTP Domain = "oidcflow.remote_http"
)

// Code is a numeric error code, interpreted relative to a Domain.
type Code int

// Codes in DomainGeneral.
const (
	CodeInvalidDiscoveryDocument            Code = -2
	CodeUserCanceledAuthorizationFlow       Code = -3
	CodeProgramCanceledAuthorizationFlow    Code = -4
	CodeNetworkError                        Code = -5
	CodeServerError                         Code = -6
	CodeJSONDeserializationError            Code = -7
	CodeTokenResponseConstructionError      Code = -8
	CodeExternalUserAgentOpenError          Code = -9
	CodeBrowserOpenError                    Code = -10
	CodeTokenRefreshError                   Code = -11
	CodeRegistrationResponseConstructionErr Code = -12
	CodeJSONSerializationError              Code = -13
	CodeIDTokenParsingError                 Code = -14
	CodeIDTokenFailedValidationError        Code = -15
)

// OAuth error codes shared by the authorization, token, registration and
// resource server domains.
const (
	CodeOAuthInvalidRequest          Code = -2
	CodeOAuthUnauthorizedClient      Code = -3
	CodeOAuthAccessDenied            Code = -4
	CodeOAuthUnsupportedResponseType Code = -5
	CodeOAuthInvalidScope            Code = -6
	CodeOAuthServerError             Code = -7
	CodeOAuthTemporarilyUnavailable  Code = -8
	CodeOAuthInvalidClient           Code = -9
	CodeOAuthInvalidGrant            Code = -10
	CodeOAuthUnsupportedGrantType    Code = -11
	CodeOAuthInvalidRedirectURI      Code = -12
	CodeOAuthInvalidClientMetadata   Code = -13
	CodeOAuthAuthorizationPending    Code = -14
	CodeOAuthSlowDown                Code = -15
	CodeOAuthExpiredToken            Code = -16
	CodeOAuthInvalidToken            Code = -17
	CodeOAuthInsufficientScope       Code = -18
	CodeOAuthUnsupportedTokenType    Code = -19
	CodeOAuthClientError             Code = -0xEFFF
	CodeOAuthOther                   Code = -0xF000
)

var oauthErrorCodes = map[string]Code{
	"invalid_request":           CodeOAuthInvalidRequest,
	"unauthorized_client":       CodeOAuthUnauthorizedClient,
	"access_denied":             CodeOAuthAccessDenied,
	"unsupported_response_type": CodeOAuthUnsupportedResponseType,
	"invalid_scope":             CodeOAuthInvalidScope,
	"server_error":              CodeOAuthServerError,
	"temporarily_unavailable":   CodeOAuthTemporarilyUnavailable,
	"invalid_client":            CodeOAuthInvalidClient,
	"invalid_grant":             CodeOAuthInvalidGrant,
	"unsupported_grant_type":    CodeOAuthUnsupportedGrantType,
	"invalid_redirect_uri":      CodeOAuthInvalidRedirectURI,
	"invalid_client_metadata":   CodeOAuthInvalidClientMetadata,
	"authorization_pending":     CodeOAuthAuthorizationPending,
	"slow_down":                 CodeOAuthSlowDown,
	"expired_token":             CodeOAuthExpiredToken,
	"invalid_token":             CodeOAuthInvalidToken,
	"insufficient_scope":        CodeOAuthInsufficientScope,
	"unsupported_token_type":    CodeOAuthUnsupportedTokenType,
}

// OAuthErrorCode maps an RFC 6749 "error" string to its Code. Unknown
// strings map to CodeOAuthOther.
func OAuthErrorCode(errorString string) Code {
	if code, ok := oauthErrorCodes[errorString]; ok {
		return code
	}
	return CodeOAuthOther
}

var (
	// ErrFlowCompleted is returned when a flow session receives a second
	// terminal signal. It indicates a programming error in the caller.
	ErrFlowCompleted = errors.New("flow session already completed")

	// ErrNoRefreshToken indicates the auth state holds neither a fresh access
	// token nor a refresh token to obtain one.
	ErrNoRefreshToken = errors.New("no valid access token and no refresh token available")
)

// Error is the error type produced by this package. Domain and Code place it
// in the fixed taxonomy; OAuthError carries the raw "error" string when the
// provider supplied one.
type Error struct {
	Domain      Domain
	Code        Code
	OAuthError  string
	Description string
	URI         string

	// Response is the decoded provider payload that produced this error, if any.
	Response map[string]any

	// Err is the underlying cause, if any.
	Err error
}

// NewError creates an Error in the given domain.
func NewError(domain Domain, code Code, description string, cause error) *Error {
	return &Error{
		Domain:      domain,
		Code:        code,
		Description: description,
		Err:         cause,
	}
}

// NewOAuthError builds an Error from a provider response carrying an
// RFC 6749 "error" field.
func NewOAuthError(domain Domain, response map[string]any) *Error {
	errorString := stringValue(response, "error")
	return &Error{
		Domain:      domain,
		Code:        OAuthErrorCode(errorString),
		OAuthError:  errorString,
		Description: stringValue(response, "error_description"),
		URI:         stringValue(response, "error_uri"),
		Response:    response,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(strings.TrimPrefix(string(e.Domain), "oidcflow."))
	if e.OAuthError != "" {
		b.WriteString(": ")
		b.WriteString(e.OAuthError)
	} else {
		fmt.Fprintf(&b, " error %d", e.Code)
	}
	if e.Description != "" {
		b.WriteString(": ")
		b.WriteString(e.Description)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Domain and Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Domain == t.Domain && e.Code == t.Code
}

// ErrorDomain returns the Domain of the first *Error in err's chain.
func ErrorDomain(err error) (Domain, bool) {
	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		return oauthErr.Domain, true
	}
	return "", false
}

// HasDomain reports whether err's chain holds an *Error in the given domain.
func HasDomain(err error, domain Domain) bool {
	d, ok := ErrorDomain(err)
	return ok && d == domain
}

// InvalidatesAuthorization reports whether err should invalidate an AuthState:
// only authorization, token and resource server errors do. Everything else is
// treated as transient.
func InvalidatesAuthorization(err error) bool {
	d, ok := ErrorDomain(err)
	if !ok {
		return false
	}
	switch d {
	case DomainAuthorization, DomainToken, DomainResourceServer:
		return true
	default:
		return false
	}
}

// IsTransient reports whether err is a non-nil error that must not
// invalidate an AuthState.
func IsTransient(err error) bool {
	return err != nil && !InvalidatesAuthorization(err)
}

// IsOAuthError reports whether err carries the given RFC 6749 error string.
func IsOAuthError(err error, errorString string) bool {
	var oauthErr *Error
	return errors.As(err, &oauthErr) && oauthErr.OAuthError == errorString
}

func stringValue(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
