// Implementation of https://www.rfc-editor.org/rfc/rfc9449.html
package dpop

import (
	"crypto"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/segmentio/ksuid"
)

const (
	DPoPHeaderName = "DPoP"
	DPoPJwtType    = "dpop+jwt"
	// Authorization scheme for DPoP-bound access tokens.
	AuthorizationScheme = "DPoP"
)

// DPoP is a proof-of-possession token bound to a single HTTP request.
type DPoP struct {
	Id              string
	HttpMethod      string
	HttpURI         string
	IssuedAt        time.Time
	AccessTokenHash string
	Nonce           string
	Key             jwk.Key
	KeyThumbprint   string
}

type Builder struct {
	dpop *DPoP
	now  func() time.Time
	err  error
}

func NewBuilder() *Builder {
	return &Builder{dpop: &DPoP{}, now: time.Now}
}

// Build fills in a fresh jti and the current time where missing.
func (b *Builder) Build() (*DPoP, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.dpop.Id == "" {
		b.dpop.Id = NewTokenId()
	}
	if b.dpop.IssuedAt.IsZero() {
		b.dpop.IssuedAt = b.now()
	}

	if err := b.dpop.validate(); err != nil {
		return nil, err
	}
	return b.dpop, nil
}

func (b *Builder) Id(id string) *Builder {
	b.dpop.Id = id
	return b
}

func (b *Builder) Clock(now func() time.Time) *Builder {
	if now != nil {
		b.now = now
	}
	return b
}

func (b *Builder) HttpMethod(httpMethod string) *Builder {
	b.dpop.HttpMethod = strings.ToUpper(httpMethod)
	return b
}

// HttpURI sets htu. Query and fragment of the target are dropped.
func (b *Builder) HttpURI(httpURI string) *Builder {
	htu, err := NormalizeHttpURI(httpURI)
	if err != nil {
		b.err = err
		return b
	}
	b.dpop.HttpURI = htu
	return b
}

func (b *Builder) HttpRequest(request *http.Request) *Builder {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	b.HttpMethod(method)
	return b.HttpURI(request.URL.String())
}

func (b *Builder) AccessTokenHash(accessTokenHash string) *Builder {
	b.dpop.AccessTokenHash = accessTokenHash
	return b
}

func (b *Builder) Nonce(nonce string) *Builder {
	b.dpop.Nonce = nonce
	return b
}

func (dpop *DPoP) validate() error {
	if dpop.Id == "" {
		return fmt.Errorf("JWT ID (jti) is required")
	}
	if dpop.HttpMethod == "" {
		return fmt.Errorf("HTTP Method (htm) is required")
	}
	if dpop.HttpURI == "" {
		return fmt.Errorf("HTTP URI (htu) is required")
	}
	if dpop.IssuedAt.IsZero() {
		return fmt.Errorf("DPoP issued at timestamp (iat) is required")
	}
	return nil
}

// Creates a new DPoP token ID.
func NewTokenId() string {
	return ksuid.New().String()
}

// NormalizeHttpURI reduces a target URL to scheme://host/path.
func NormalizeHttpURI(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid htu %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("htu must be an absolute URL: %q", raw)
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return u.Scheme + "://" + u.Host + path, nil
}

// AccessTokenHash computes the ath claim value for an access token.
func AccessTokenHash(accessToken string) string {
	hash := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// Signs the DPoP token with the given key pair and returns
// the compact serialized token.
func (dpop *DPoP) Sign(keyPair *KeyPair) (string, error) {
	if err := dpop.validate(); err != nil {
		return "", err
	}
	if keyPair == nil || keyPair.JwkPrivate == nil {
		return "", fmt.Errorf("no DPoP key pair")
	}

	token := jwt.New()
	token.Set(jwt.JwtIDKey, dpop.Id)
	token.Set("htm", dpop.HttpMethod)
	token.Set("htu", dpop.HttpURI)
	token.Set(jwt.IssuedAtKey, dpop.IssuedAt.Unix())

	if dpop.AccessTokenHash != "" {
		token.Set("ath", dpop.AccessTokenHash)
	}

	if dpop.Nonce != "" {
		token.Set("nonce", dpop.Nonce)
	}

	headers := jws.NewHeaders()
	headers.Set(jws.TypeKey, DPoPJwtType)
	headers.Set(jws.JWKKey, keyPair.JwkPublic)

	signed, err := jwt.Sign(
		token,
		jwt.WithKey(jwa.ES256, keyPair.JwkPrivate, jws.WithProtectedHeaders(headers)),
	)
	if err != nil {
		return "", fmt.Errorf("unable to sign DPoP token: %w", err)
	}
	return string(signed), nil
}

func Parse(token string) (*DPoP, error) {
	// DANGER, parsing the token without verifying the signature
	unsafeMessage, err := jws.Parse([]byte(token))
	if err != nil {
		return nil, fmt.Errorf("unable to parse token: %w", err)
	}

	if len(unsafeMessage.Signatures()) == 0 {
		return nil, fmt.Errorf("no signatures found")
	}

	protectedHeaders := unsafeMessage.Signatures()[0].ProtectedHeaders()
	if protectedHeaders == nil {
		return nil, fmt.Errorf("no protected headers found")
	}

	if protectedHeaders.Type() != DPoPJwtType {
		return nil, fmt.Errorf("invalid token type: %s", protectedHeaders.Type())
	}

	dpopKey := protectedHeaders.JWK()
	if dpopKey == nil {
		return nil, fmt.Errorf("JWK is not found or invalid")
	}

	// parse and verify now using the embedded key
	verifiedToken, err := jwt.Parse([]byte(token), jwt.WithKey(jwa.ES256, dpopKey))
	if err != nil {
		return nil, fmt.Errorf("unable to verify token: %w", err)
	}

	dpopToken := &DPoP{}

	if dpopToken.Id = verifiedToken.JwtID(); dpopToken.Id == "" {
		return nil, fmt.Errorf("claim jti is required")
	}

	if dpopToken.HttpMethod, err = stringClaim(verifiedToken, "htm", true); err != nil {
		return nil, err
	}

	if dpopToken.HttpURI, err = stringClaim(verifiedToken, "htu", true); err != nil {
		return nil, err
	}

	if dpopToken.IssuedAt = verifiedToken.IssuedAt(); dpopToken.IssuedAt.IsZero() {
		return nil, fmt.Errorf("claim iat is required")
	}

	if dpopToken.AccessTokenHash, err = stringClaim(verifiedToken, "ath", false); err != nil {
		return nil, err
	}

	if dpopToken.Nonce, err = stringClaim(verifiedToken, "nonce", false); err != nil {
		return nil, err
	}

	dpopToken.Key = dpopKey
	thumbprintBytes, err := dpopKey.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, err
	}
	dpopToken.KeyThumbprint = base64.RawURLEncoding.EncodeToString(thumbprintBytes)

	return dpopToken, nil
}

func stringClaim(token jwt.Token, name string, required bool) (string, error) {
	if claim, ok := token.Get(name); ok {
		if claimStr, ok := claim.(string); ok {
			return claimStr, nil
		}
		return "", fmt.Errorf("claim %s is not a string", name)
	}
	if required {
		return "", fmt.Errorf("claim %s is required", name)
	}
	return "", nil
}
