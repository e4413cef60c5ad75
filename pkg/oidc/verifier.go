package oidc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// IDTokenVerifier checks ID tokens issued to one client against the provider's JWKS.
type IDTokenVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewIDTokenVerifier fetches signing keys from jwksURI lazily on first use.
// now may be nil.
func NewIDTokenVerifier(httpClient *http.Client, issuer, jwksURI, clientID string, now func() time.Time) *IDTokenVerifier {
	// the key set outlives any single request, so it gets its own context
	ctx := context.Background()
	if httpClient != nil {
		ctx = oidc.ClientContext(ctx, httpClient)
	}

	keySet := oidc.NewRemoteKeySet(ctx, jwksURI)
	return &IDTokenVerifier{
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{
			ClientID:             clientID,
			SupportedSigningAlgs: []string{oidc.ES256},
			Now:                  now,
		}),
	}
}

// IDToken carries the verified claims the session cares about.
type IDToken struct {
	Issuer   string
	Subject  string
	Audience []string
	Expiry   time.Time
	WebID    string
}

func (v *IDTokenVerifier) Verify(ctx context.Context, rawIDToken string) (*IDToken, error) {
	token, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("unable to verify id token: %w", err)
	}

	var claims struct {
		WebID string `json:"webid"`
	}
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("unable to decode id token claims: %w", err)
	}

	return &IDToken{
		Issuer:   token.Issuer,
		Subject:  token.Subject,
		Audience: token.Audience,
		Expiry:   token.Expiry,
		WebID:    claims.WebID,
	}, nil
}
