// Package config provides configuration management for oidcflow.
//
// Configuration is loaded from a single directory, ~/.config/oidcflow by
// default, which can be overridden with the --config-path flag. The directory
// contains config.yaml and, for the file state store, a sessions/
// subdirectory.
//
// # Configuration Structure
//
//	logLevel: info            # debug, info, warn, error
//	logFormat: text           # text or json
//	callback:
//	  host: 127.0.0.1
//	  port: 8765              # 0 picks a free port
//	  path: /callback
//	storage:
//	  type: file              # file, redis or kubernetes
//	  dir: sessions           # relative to the config directory
//	  redis:
//	    addr: localhost:6379
//	    keyPrefix: "oidcflow:session:"
//	  kubernetes:
//	    namespace: default
//	    secretPrefix: oidcflow-session-
//	providers:
//	  corp:
//	    issuer: https://login.example.com
//	    clientID: my-cli
//	    scopes: [openid, profile, offline_access]
//	  legacy:
//	    authorizationEndpoint: https://legacy.example.com/oauth/authorize
//	    tokenEndpoint: https://legacy.example.com/oauth/token
//	    clientID: abc
//	    redirectURI: app://callback
//	knownIssuers:
//	  https://accounts.example.com:
//	    authorizationEndpoint: https://accounts.example.com/o/oauth2/auth
//	    tokenEndpoint: https://accounts.example.com/o/oauth2/token
//
// A provider needs either an issuer, used for OpenID Connect discovery, or
// both explicit endpoints. Entries in knownIssuers are consulted before
// discovery.
//
// # Errors
//
// LoadConfig reports a malformed file as a ConfigurationError carrying the
// YAML line number, and validation failures as a
// *ConfigurationErrorCollection with one entry per offending field.
package config
