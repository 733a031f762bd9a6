package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func TestGeneratePKCE(t *testing.T) {
	pkce, err := GeneratePKCE()
	if err != nil {
		t.Fatalf("GeneratePKCE() error = %v", err)
	}

	// 32 random bytes encode to 43 base64url characters
	if len(pkce.CodeVerifier) != 43 {
		t.Errorf("CodeVerifier length = %d, want 43", len(pkce.CodeVerifier))
	}

	if pkce.CodeChallengeMethod != "S256" {
		t.Errorf("CodeChallengeMethod = %q, want %q", pkce.CodeChallengeMethod, "S256")
	}

	hash := sha256.Sum256([]byte(pkce.CodeVerifier))
	expectedChallenge := base64.RawURLEncoding.EncodeToString(hash[:])
	if pkce.CodeChallenge != expectedChallenge {
		t.Errorf("CodeChallenge = %q, want %q", pkce.CodeChallenge, expectedChallenge)
	}

	// Cross-check against golang.org/x/oauth2
	if stdlib := oauth2.S256ChallengeFromVerifier(pkce.CodeVerifier); pkce.CodeChallenge != stdlib {
		t.Errorf("CodeChallenge = %q, want oauth2 result %q", pkce.CodeChallenge, stdlib)
	}
}

func TestCodeChallengeS256(t *testing.T) {
	// RFC 7636 Appendix B
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	if got := CodeChallengeS256(verifier); got != want {
		t.Errorf("CodeChallengeS256() = %q, want %q", got, want)
	}
}

func TestGenerateState(t *testing.T) {
	state, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState() error = %v", err)
	}
	if len(state) != 43 {
		t.Errorf("state length = %d, want 43", len(state))
	}
	if strings.ContainsAny(state, "+/=") {
		t.Errorf("state %q is not URL-safe", state)
	}
}

func TestRandomValuesAreUnique(t *testing.T) {
	generators := map[string]func() (string, error){
		"verifier": func() (string, error) {
			pkce, err := GeneratePKCE()
			if err != nil {
				return "", err
			}
			return pkce.CodeVerifier, nil
		},
		"state": GenerateState,
		"nonce": GenerateNonce,
	}

	for name, generate := range generators {
		t.Run(name, func(t *testing.T) {
			seen := make(map[string]struct{}, 100)
			for range 100 {
				v, err := generate()
				if err != nil {
					t.Fatalf("generate error = %v", err)
				}
				if _, dup := seen[v]; dup {
					t.Fatalf("duplicate value %q", v)
				}
				seen[v] = struct{}{}
			}
		})
	}
}

func TestGenerateNonce(t *testing.T) {
	nonce, err := GenerateNonce()
	if err != nil {
		t.Fatalf("GenerateNonce() error = %v", err)
	}
	if len(nonce) != 43 {
		t.Errorf("nonce length = %d, want 43", len(nonce))
	}
}
