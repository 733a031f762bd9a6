// Package statestore persists oauth.AuthState values between runs.
//
// Three backends implement Store: FileStore (one 0600 JSON file per session
// under a 0700 directory, with fsnotify-based change notification),
// RedisStore and SecretStore (one Kubernetes Secret per session). Every
// backend stores the same JSON record holding the session key, the update
// time and the serialized AuthState.
//
// A Persister attached to an AuthState saves it after every change,
// including refreshes and invalidations triggered deep inside token
// operations.
package statestore
