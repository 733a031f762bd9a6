package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// pkceVerifierBytes is the number of random bytes for the PKCE code verifier.
	// 32 bytes encodes to 43 base64url characters, the minimum RFC 7636 allows.
	pkceVerifierBytes = 32

	// stateBytes is the number of random bytes for state and nonce values.
	stateBytes = 32

	// CodeChallengeMethodS256 is the only PKCE method the builders produce.
	CodeChallengeMethodS256 = "S256"
)

// PKCE holds a code verifier and its derived S256 challenge.
type PKCE struct {
	CodeVerifier        string
	CodeChallenge       string
	CodeChallengeMethod string
}

// GeneratePKCE generates a new code verifier and its S256 challenge.
func GeneratePKCE() (*PKCE, error) {
	verifier, err := GenerateCodeVerifier()
	if err != nil {
		return nil, err
	}

	return &PKCE{
		CodeVerifier:        verifier,
		CodeChallenge:       CodeChallengeS256(verifier),
		CodeChallengeMethod: CodeChallengeMethodS256,
	}, nil
}

// GenerateCodeVerifier returns 32 random bytes, base64url-encoded without padding.
func GenerateCodeVerifier() (string, error) {
	return randomURLSafe(pkceVerifierBytes, "code verifier")
}

// CodeChallengeS256 derives the S256 challenge for verifier:
// base64url_nopad(SHA-256(verifier)).
func CodeChallengeS256(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// GenerateState generates a random state parameter for OAuth.
// The state links the authorization response back to the original request
// and protects the redirect against CSRF.
func GenerateState() (string, error) {
	return randomURLSafe(stateBytes, "state")
}

// GenerateNonce generates a random nonce for OIDC ID token replay protection.
func GenerateNonce() (string, error) {
	return randomURLSafe(stateBytes, "nonce")
}

func randomURLSafe(n int, what string) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate %s: %w", what, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
