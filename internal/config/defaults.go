package config

const (
	// DefaultCallbackHost is the loopback address the callback listener binds to.
	DefaultCallbackHost = "127.0.0.1"

	// DefaultCallbackPort is the loopback port for browser redirects.
	DefaultCallbackPort = 8765

	// DefaultCallbackPath is the default path for OAuth callbacks
	DefaultCallbackPath = "/callback"

	// DefaultRedisKeyPrefix namespaces Redis keys written by the state store.
	DefaultRedisKeyPrefix = "oidcflow:session:"

	// DefaultSecretPrefix is prepended to Secret names written by the state store.
	DefaultSecretPrefix = "oidcflow-session-"

	// DefaultNamespace is used when no namespace is configured.
	DefaultNamespace = "default"
)

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Callback: CallbackConfig{
			Host: DefaultCallbackHost,
			Port: DefaultCallbackPort,
			Path: DefaultCallbackPath,
		},
		Storage: StorageConfig{
			Type: StorageTypeFile,
			Redis: RedisStorageConfig{
				KeyPrefix: DefaultRedisKeyPrefix,
			},
			Kubernetes: KubernetesStorageConfig{
				Namespace:    DefaultNamespace,
				SecretPrefix: DefaultSecretPrefix,
			},
		},
		Providers:    map[string]ProviderConfig{},
		KnownIssuers: map[string]KnownIssuerEndpoints{},
	}
}
