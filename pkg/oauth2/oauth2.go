package oauth2

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

type CodeChallengeMethod string

const (
	CodeChallengeMethodS256 CodeChallengeMethod = "S256"
)

// PKCEPair is a RFC 7636 code verifier together with its derived challenge.
type PKCEPair struct {
	CodeVerifier        string
	CodeChallenge       string
	CodeChallengeMethod CodeChallengeMethod
}

// GeneratePKCE creates a fresh verifier with 256 bits of entropy and its S256 challenge.
func GeneratePKCE() *PKCEPair {
	// panics if the system randomness source fails
	verifier := oauth2.GenerateVerifier()
	return &PKCEPair{
		CodeVerifier:        verifier,
		CodeChallenge:       S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: CodeChallengeMethodS256,
	}
}

// S256ChallengeFromVerifier returns base64url(SHA-256(verifier)) without padding.
func S256ChallengeFromVerifier(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// GenerateState creates the anti-forgery value sent as the state parameter.
func GenerateState() string {
	return uuid.NewString()
}

// Error is the RFC 6749 error response body.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// TokenResponse is the RFC 6749 §5.1 token endpoint response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}
