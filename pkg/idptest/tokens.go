package idptest

import (
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/segmentio/ksuid"
)

const accessTokenAudience = "solid"

// issueAccessToken signs a DPoP-bound access token for jkt.
func (p *Provider) issueAccessToken(clientID, scope, jkt string) (string, error) {
	now := p.now()

	accessJwt := jwt.New()
	accessJwt.Set(jwt.IssuerKey, p.issuer)
	accessJwt.Set(jwt.SubjectKey, p.webID)
	accessJwt.Set(jwt.AudienceKey, []string{accessTokenAudience, clientID})
	accessJwt.Set(jwt.IssuedAtKey, now.Unix())
	accessJwt.Set(jwt.ExpirationKey, now.Add(p.accessTTL).Unix())
	accessJwt.Set(jwt.JwtIDKey, ksuid.New().String())
	accessJwt.Set("webid", p.webID)
	accessJwt.Set("client_id", clientID)
	accessJwt.Set("scope", scope)
	accessJwt.Set("cnf", map[string]interface{}{"jkt": jkt})

	accessTokenBytes, err := jwt.Sign(accessJwt, jwt.WithKey(jwa.ES256, p.signingKey))
	if err != nil {
		return "", fmt.Errorf("unable to sign access token: %w", err)
	}
	return string(accessTokenBytes), nil
}

func (p *Provider) issueIDToken(clientID string) (string, error) {
	now := p.now()

	idJwt := jwt.New()
	idJwt.Set(jwt.IssuerKey, p.issuer)
	idJwt.Set(jwt.SubjectKey, p.webID)
	idJwt.Set(jwt.AudienceKey, []string{clientID})
	idJwt.Set(jwt.IssuedAtKey, now.Unix())
	idJwt.Set(jwt.ExpirationKey, now.Add(p.accessTTL).Unix())
	idJwt.Set("azp", clientID)
	idJwt.Set("webid", p.webID)

	signingKey := p.signingKey
	if p.takeForgedIDToken() {
		forged, err := newSigningKey()
		if err != nil {
			return "", err
		}
		signingKey = forged
	}

	idTokenBytes, err := jwt.Sign(idJwt, jwt.WithKey(jwa.ES256, signingKey))
	if err != nil {
		return "", fmt.Errorf("unable to sign id token: %w", err)
	}
	return string(idTokenBytes), nil
}

type accessTokenClaims struct {
	webID string
	jkt   string
}

func (p *Provider) verifyAccessToken(accessToken string) (*accessTokenClaims, error) {
	token, err := jwt.ParseString(
		accessToken,
		jwt.WithKeySet(p.jwks),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(accessTokenAudience),
		jwt.WithClock(jwt.ClockFunc(p.now)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to verify access token: %w", err)
	}

	claims := &accessTokenClaims{webID: token.Subject()}
	if webID, ok := token.Get("webid"); ok {
		if s, ok := webID.(string); ok {
			claims.webID = s
		}
	}
	if cnf, ok := token.Get("cnf"); ok {
		if cnfMap, ok := cnf.(map[string]interface{}); ok {
			claims.jkt, _ = cnfMap["jkt"].(string)
		}
	}
	if claims.jkt == "" {
		return nil, fmt.Errorf("access token is not DPoP bound")
	}
	return claims, nil
}
