package oauth2_test

import (
	"crypto/sha256"
	"encoding/base64"
	"regexp"
	"strings"
	"testing"

	"github.com/gematik/solid-session/pkg/oauth2"
)

var base64urlAlphabet = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func TestGeneratePKCE(t *testing.T) {
	pair := oauth2.GeneratePKCE()

	if pair.CodeChallengeMethod != oauth2.CodeChallengeMethodS256 {
		t.Errorf("expected S256, got %s", pair.CodeChallengeMethod)
	}

	// 32 random bytes encode to 43 characters
	if len(pair.CodeVerifier) < 43 {
		t.Errorf("verifier too short: %d", len(pair.CodeVerifier))
	}

	hash := sha256.Sum256([]byte(pair.CodeVerifier))
	expected := base64.RawURLEncoding.EncodeToString(hash[:])
	if pair.CodeChallenge != expected {
		t.Errorf("expected challenge %s, got %s", expected, pair.CodeChallenge)
	}

	if strings.Contains(pair.CodeChallenge, "=") {
		t.Error("challenge must not be padded")
	}
	if !base64urlAlphabet.MatchString(pair.CodeChallenge) {
		t.Errorf("challenge is not base64url: %s", pair.CodeChallenge)
	}
	if !base64urlAlphabet.MatchString(pair.CodeVerifier) {
		t.Errorf("verifier is not base64url: %s", pair.CodeVerifier)
	}
}

func TestS256ChallengeIsDeterministic(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	// RFC 7636 Appendix B
	const expected = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	for i := 0; i < 3; i++ {
		if got := oauth2.S256ChallengeFromVerifier(verifier); got != expected {
			t.Fatalf("expected %s, got %s", expected, got)
		}
	}
}

func TestGeneratedValuesAreDistinct(t *testing.T) {
	const n = 500
	verifiers := make(map[string]struct{}, n)
	states := make(map[string]struct{}, n)

	for i := 0; i < n; i++ {
		pair := oauth2.GeneratePKCE()
		if _, ok := verifiers[pair.CodeVerifier]; ok {
			t.Fatalf("duplicate verifier after %d samples", i)
		}
		verifiers[pair.CodeVerifier] = struct{}{}

		state := oauth2.GenerateState()
		if _, ok := states[state]; ok {
			t.Fatalf("duplicate state after %d samples", i)
		}
		states[state] = struct{}{}
	}
}

func TestErrorString(t *testing.T) {
	err := &oauth2.Error{Code: "invalid_grant", Description: "code expired"}
	if err.Error() != "invalid_grant: code expired" {
		t.Errorf("unexpected error string: %s", err.Error())
	}

	err = &oauth2.Error{Code: "invalid_client"}
	if err.Error() != "invalid_client" {
		t.Errorf("unexpected error string: %s", err.Error())
	}
}
