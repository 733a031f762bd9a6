package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"oidcflow/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// addErr appends err when it is a ValidationError.
func (ve *ValidationErrors) addErr(err error) {
	if err == nil {
		return
	}
	if v, ok := err.(ValidationError); ok {
		*ve = append(*ve, v)
		return
	}
	ve.Add("", err.Error())
}

// ValidateRequired checks if a required string field is not empty
func ValidateRequired(field, value, entityType string) error {
	if strings.TrimSpace(value) == "" {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: fmt.Sprintf("is required for %s", entityType),
		}
	}
	return nil
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateAbsoluteURL checks that a non-empty value is an absolute URI.
// Custom schemes such as app://callback are accepted.
func ValidateAbsoluteURL(field, value string) error {
	if value == "" {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil || !u.IsAbs() {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: "must be an absolute URL",
		}
	}
	return nil
}

// Validate checks a loaded configuration and returns every problem found.
func Validate(c Config) ValidationErrors {
	var errs ValidationErrors

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs.Add("logLevel", "must be one of: debug, info, warn, error", c.LogLevel)
	}
	if _, err := logging.ParseFormat(c.LogFormat); err != nil {
		errs.Add("logFormat", "must be one of: text, json", c.LogFormat)
	}

	if c.Callback.Port < 0 || c.Callback.Port > 65535 {
		errs.Add("callback.port", "must be between 0 and 65535", c.Callback.Port)
	}
	if c.Callback.Path != "" && !strings.HasPrefix(c.Callback.Path, "/") {
		errs.Add("callback.path", "must start with '/'", c.Callback.Path)
	}

	errs.addErr(ValidateOneOf("storage.type", string(c.Storage.Type),
		[]string{string(StorageTypeFile), string(StorageTypeRedis), string(StorageTypeKubernetes)}))
	switch c.Storage.Type {
	case StorageTypeRedis:
		errs.addErr(ValidateRequired("storage.redis.addr", c.Storage.Redis.Addr, "redis storage"))
	case StorageTypeKubernetes:
		errs.addErr(ValidateRequired("storage.kubernetes.namespace", c.Storage.Kubernetes.Namespace, "kubernetes storage"))
	}

	for _, name := range sortedKeys(c.Providers) {
		validateProvider(&errs, name, c.Providers[name])
	}

	for _, issuer := range sortedKeys(c.KnownIssuers) {
		endpoints := c.KnownIssuers[issuer]
		prefix := "knownIssuers." + issuer
		errs.addErr(ValidateAbsoluteURL(prefix, issuer))
		errs.addErr(ValidateRequired(prefix+".authorizationEndpoint", endpoints.AuthorizationEndpoint, "a known issuer"))
		errs.addErr(ValidateRequired(prefix+".tokenEndpoint", endpoints.TokenEndpoint, "a known issuer"))
		errs.addErr(ValidateAbsoluteURL(prefix+".authorizationEndpoint", endpoints.AuthorizationEndpoint))
		errs.addErr(ValidateAbsoluteURL(prefix+".tokenEndpoint", endpoints.TokenEndpoint))
	}

	return errs
}

func validateProvider(errs *ValidationErrors, name string, p ProviderConfig) {
	prefix := "providers." + name
	if strings.ContainsAny(name, " /") {
		errs.Add(prefix, "provider names cannot contain spaces or slashes", name)
	}
	errs.addErr(ValidateRequired(prefix+".clientID", p.ClientID, "a provider"))

	if p.Issuer == "" && !p.HasStaticEndpoints() {
		errs.Add(prefix, "requires an issuer or both authorizationEndpoint and tokenEndpoint")
	}
	if (p.AuthorizationEndpoint == "") != (p.TokenEndpoint == "") {
		errs.Add(prefix, "authorizationEndpoint and tokenEndpoint must be set together")
	}

	for field, value := range map[string]string{
		"issuer":                      p.Issuer,
		"authorizationEndpoint":       p.AuthorizationEndpoint,
		"tokenEndpoint":               p.TokenEndpoint,
		"revocationEndpoint":          p.RevocationEndpoint,
		"endSessionEndpoint":          p.EndSessionEndpoint,
		"registrationEndpoint":        p.RegistrationEndpoint,
		"deviceAuthorizationEndpoint": p.DeviceAuthorizationEndpoint,
		"redirectURI":                 p.RedirectURI,
		"postLogoutRedirectURI":       p.PostLogoutRedirectURI,
	} {
		errs.addErr(ValidateAbsoluteURL(prefix+"."+field, value))
	}
}

func suggestionsFor(field string) []string {
	switch {
	case strings.HasSuffix(field, ".clientID"):
		return []string{"Register a client with the provider, or run 'oidcflow register --save'"}
	case strings.HasPrefix(field, "providers."):
		return []string{"Set 'issuer' to use OpenID Connect discovery, or set both endpoints explicitly"}
	case strings.HasPrefix(field, "storage."):
		return []string{"Use 'file' storage for single-user setups"}
	default:
		return nil
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
