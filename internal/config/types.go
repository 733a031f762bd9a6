package config

// Config is the top-level configuration structure for oidcflow.
type Config struct {
	LogLevel     string                          `yaml:"logLevel,omitempty"`
	LogFormat    string                          `yaml:"logFormat,omitempty"`
	Callback     CallbackConfig                  `yaml:"callback,omitempty"`
	Storage      StorageConfig                   `yaml:"storage,omitempty"`
	Providers    map[string]ProviderConfig       `yaml:"providers,omitempty"`
	KnownIssuers map[string]KnownIssuerEndpoints `yaml:"knownIssuers,omitempty"`
}

// CallbackConfig configures the loopback listener used for browser logins.
type CallbackConfig struct {
	Host string `yaml:"host,omitempty"` // Host to bind to (default: 127.0.0.1)
	Port int    `yaml:"port,omitempty"` // Port to bind to (default: 8765, 0 picks a free port)
	Path string `yaml:"path,omitempty"` // Redirect path (default: /callback)
}

// StorageType selects the backend that persists authorization state.
type StorageType string

const (
	StorageTypeFile       StorageType = "file"
	StorageTypeRedis      StorageType = "redis"
	StorageTypeKubernetes StorageType = "kubernetes"
)

// StorageConfig selects and configures the state store.
type StorageConfig struct {
	Type       StorageType             `yaml:"type,omitempty"`
	Dir        string                  `yaml:"dir,omitempty"` // File store directory (default: <config dir>/sessions)
	Redis      RedisStorageConfig      `yaml:"redis,omitempty"`
	Kubernetes KubernetesStorageConfig `yaml:"kubernetes,omitempty"`
}

// RedisStorageConfig configures the Redis state store.
type RedisStorageConfig struct {
	Addr      string `yaml:"addr,omitempty"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty"`
}

// KubernetesStorageConfig configures the Secret-backed state store.
type KubernetesStorageConfig struct {
	Namespace    string `yaml:"namespace,omitempty"`
	SecretPrefix string `yaml:"secretPrefix,omitempty"`
}

// ProviderConfig describes one authorization server and the client
// registered with it. Either Issuer or both explicit endpoints must be set;
// explicit endpoints win over discovery.
type ProviderConfig struct {
	Issuer                      string            `yaml:"issuer,omitempty"`
	AuthorizationEndpoint       string            `yaml:"authorizationEndpoint,omitempty"`
	TokenEndpoint               string            `yaml:"tokenEndpoint,omitempty"`
	RevocationEndpoint          string            `yaml:"revocationEndpoint,omitempty"`
	EndSessionEndpoint          string            `yaml:"endSessionEndpoint,omitempty"`
	RegistrationEndpoint        string            `yaml:"registrationEndpoint,omitempty"`
	DeviceAuthorizationEndpoint string            `yaml:"deviceAuthorizationEndpoint,omitempty"`
	ClientID                    string            `yaml:"clientID,omitempty"`
	ClientSecret                string            `yaml:"clientSecret,omitempty"`
	Scopes                      []string          `yaml:"scopes,omitempty"`
	RedirectURI                 string            `yaml:"redirectURI,omitempty"`
	PostLogoutRedirectURI       string            `yaml:"postLogoutRedirectURI,omitempty"`
	AdditionalParameters        map[string]string `yaml:"additionalParameters,omitempty"`
}

// HasStaticEndpoints reports whether the provider can be used without
// discovery.
func (p ProviderConfig) HasStaticEndpoints() bool {
	return p.AuthorizationEndpoint != "" && p.TokenEndpoint != ""
}

// KnownIssuerEndpoints is a well-known issuer configuration kept as plain
// data, consulted before discovery.
type KnownIssuerEndpoints struct {
	AuthorizationEndpoint       string `yaml:"authorizationEndpoint"`
	TokenEndpoint               string `yaml:"tokenEndpoint"`
	RevocationEndpoint          string `yaml:"revocationEndpoint,omitempty"`
	EndSessionEndpoint          string `yaml:"endSessionEndpoint,omitempty"`
	UserinfoEndpoint            string `yaml:"userinfoEndpoint,omitempty"`
	DeviceAuthorizationEndpoint string `yaml:"deviceAuthorizationEndpoint,omitempty"`
}

// Provider returns the named provider.
func (c Config) Provider(name string) (ProviderConfig, bool) {
	p, ok := c.Providers[name]
	return p, ok
}
