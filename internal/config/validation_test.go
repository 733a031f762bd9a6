package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	cfg := GetDefaultConfig()
	cfg.Providers["corp"] = ProviderConfig{Issuer: "https://login.example.com", ClientID: "cli"}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*Config)
		wantFields []string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:       "unknown log level",
			mutate:     func(c *Config) { c.LogLevel = "verbose" },
			wantFields: []string{"logLevel"},
		},
		{
			name:       "unknown log format",
			mutate:     func(c *Config) { c.LogFormat = "xml" },
			wantFields: []string{"logFormat"},
		},
		{
			name: "callback out of range",
			mutate: func(c *Config) {
				c.Callback.Port = 70000
				c.Callback.Path = "callback"
			},
			wantFields: []string{"callback.port", "callback.path"},
		},
		{
			name:       "unknown storage",
			mutate:     func(c *Config) { c.Storage.Type = "s3" },
			wantFields: []string{"storage.type"},
		},
		{
			name:       "redis without address",
			mutate:     func(c *Config) { c.Storage.Type = StorageTypeRedis },
			wantFields: []string{"storage.redis.addr"},
		},
		{
			name: "kubernetes without namespace",
			mutate: func(c *Config) {
				c.Storage.Type = StorageTypeKubernetes
				c.Storage.Kubernetes.Namespace = ""
			},
			wantFields: []string{"storage.kubernetes.namespace"},
		},
		{
			name: "only one static endpoint",
			mutate: func(c *Config) {
				c.Providers["half"] = ProviderConfig{
					Issuer:                "https://half.example.com",
					AuthorizationEndpoint: "https://half.example.com/authorize",
					ClientID:              "cli",
				}
			},
			wantFields: []string{"providers.half"},
		},
		{
			name: "relative endpoint",
			mutate: func(c *Config) {
				c.Providers["rel"] = ProviderConfig{
					AuthorizationEndpoint: "/authorize",
					TokenEndpoint:         "https://rel.example.com/token",
					ClientID:              "cli",
				}
			},
			wantFields: []string{"providers.rel.authorizationEndpoint"},
		},
		{
			name: "custom scheme redirect is accepted",
			mutate: func(c *Config) {
				p := c.Providers["corp"]
				p.RedirectURI = "app://callback"
				c.Providers["corp"] = p
			},
		},
		{
			name: "known issuer without token endpoint",
			mutate: func(c *Config) {
				c.KnownIssuers["https://accounts.example.com"] = KnownIssuerEndpoints{
					AuthorizationEndpoint: "https://accounts.example.com/auth",
				}
			},
			wantFields: []string{"knownIssuers.https://accounts.example.com.tokenEndpoint"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			errs := Validate(cfg)
			var fields []string
			for _, e := range errs {
				fields = append(fields, e.Field)
			}
			assert.ElementsMatch(t, tt.wantFields, fields)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	var errs ValidationErrors
	assert.Equal(t, "no validation errors", errs.Error())

	errs.Add("logLevel", "is invalid", "verbose")
	assert.Equal(t, "field 'logLevel': is invalid", errs.Error())

	errs.Add("", "something else")
	assert.Equal(t, "validation failed: field 'logLevel': is invalid; something else", errs.Error())
}

func TestConfigurationError_Error(t *testing.T) {
	err := NewConfigurationError("/tmp/config.yaml", "providers.corp", ErrorTypeValidation, "is broken")
	assert.Equal(t, "[validation] /tmp/config.yaml: providers.corp: is broken", err.Error())

	err.Field = ""
	err.LineNumber = 3
	assert.Equal(t, "[validation] /tmp/config.yaml: is broken", err.Error())
	assert.Equal(t, "/tmp/config.yaml:3: is broken", err.Report())

	collection := &ConfigurationErrorCollection{}
	assert.Equal(t, 0, collection.Count())
	collection.Add(err)
	collection.Add(err)
	assert.Contains(t, collection.Error(), "2 configuration errors")
}
