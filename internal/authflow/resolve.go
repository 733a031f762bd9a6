package authflow

import (
	"context"
	"fmt"
	"strings"

	"oidcflow/internal/config"
	"oidcflow/pkg/oauth"
)

// ResolveConfiguration returns the service configuration of a provider.
//
// Static endpoints in the provider entry win. Otherwise the issuer is looked
// up in the known-issuer table, and only then discovered over the network.
func (m *Manager) ResolveConfiguration(ctx context.Context, name string) (*oauth.ServiceConfiguration, error) {
	p, err := m.provider(name)
	if err != nil {
		return nil, err
	}
	return m.resolve(ctx, p)
}

// Discover fetches the configuration of an issuer, using the client's
// discovery cache.
func (m *Manager) Discover(ctx context.Context, issuer string) (*oauth.ServiceConfiguration, error) {
	cfg, err := m.client.DiscoverConfiguration(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discovery failed for %s: %w", issuer, err)
	}
	m.logger.Debug("Discovered service configuration",
		"issuer", issuer,
		"token_endpoint", cfg.TokenEndpoint())
	return cfg, nil
}

func (m *Manager) resolve(ctx context.Context, p config.ProviderConfig) (*oauth.ServiceConfiguration, error) {
	if p.HasStaticEndpoints() {
		return staticConfiguration(p.AuthorizationEndpoint, p.TokenEndpoint, p.Issuer, p, config.KnownIssuerEndpoints{})
	}
	if known, ok := m.knownIssuer(p.Issuer); ok {
		m.logger.Debug("Using known issuer endpoints", "issuer", p.Issuer)
		return staticConfiguration(known.AuthorizationEndpoint, known.TokenEndpoint, p.Issuer, p, known)
	}
	return m.Discover(ctx, p.Issuer)
}

func (m *Manager) knownIssuer(issuer string) (config.KnownIssuerEndpoints, bool) {
	if issuer == "" {
		return config.KnownIssuerEndpoints{}, false
	}
	if known, ok := m.cfg.KnownIssuers[issuer]; ok {
		return known, true
	}
	trimmed := strings.TrimSuffix(issuer, "/")
	for key, known := range m.cfg.KnownIssuers {
		if strings.TrimSuffix(key, "/") == trimmed {
			return known, true
		}
	}
	return config.KnownIssuerEndpoints{}, false
}

// staticConfiguration builds a configuration from configured endpoints.
// Optional endpoints set on the provider override those of the known-issuer
// entry.
func staticConfiguration(authorizationEndpoint, tokenEndpoint, issuer string, p config.ProviderConfig, known config.KnownIssuerEndpoints) (*oauth.ServiceConfiguration, error) {
	var opts []oauth.ConfigurationOption
	if issuer != "" {
		opts = append(opts, oauth.WithIssuer(issuer))
	}
	if v := firstNonEmpty(p.RevocationEndpoint, known.RevocationEndpoint); v != "" {
		opts = append(opts, oauth.WithRevocationEndpoint(v))
	}
	if v := firstNonEmpty(p.EndSessionEndpoint, known.EndSessionEndpoint); v != "" {
		opts = append(opts, oauth.WithEndSessionEndpoint(v))
	}
	if v := firstNonEmpty(p.DeviceAuthorizationEndpoint, known.DeviceAuthorizationEndpoint); v != "" {
		opts = append(opts, oauth.WithDeviceAuthorizationEndpoint(v))
	}
	if p.RegistrationEndpoint != "" {
		opts = append(opts, oauth.WithRegistrationEndpoint(p.RegistrationEndpoint))
	}
	if known.UserinfoEndpoint != "" {
		opts = append(opts, oauth.WithUserinfoEndpoint(known.UserinfoEndpoint))
	}

	cfg, err := oauth.NewServiceConfiguration(authorizationEndpoint, tokenEndpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoints for issuer %q: %w", issuer, err)
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
