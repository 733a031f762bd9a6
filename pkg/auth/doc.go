// Package auth provides the session status types reported by the status
// command, in every output format it supports.
package auth
