// Package idptest provides an in-process Solid-OIDC identity provider with
// dynamic registration, PKCE, DPoP-bound tokens and refresh token rotation.
package idptest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gematik/solid-session/pkg/dpop"
	"github.com/gematik/solid-session/pkg/nonce"
	"github.com/gematik/solid-session/pkg/oauth2"
	"github.com/gematik/solid-session/pkg/oidc"
	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/segmentio/ksuid"
)

const (
	RegistrationPath  = "/.oidc/reg"
	AuthorizationPath = "/.oidc/auth"
	TokenPath         = "/.oidc/token"
	JWKSPath          = "/.oidc/jwks"
	ProfilePath       = "/profile/card"
)

type registeredClient struct {
	secret       string
	redirectURIs []string
}

type authorizationGrant struct {
	clientID      string
	redirectURI   string
	codeChallenge string
	scope         string
}

type refreshGrant struct {
	clientID string
	scope    string
}

// TokenRequest is what the token endpoint received, after proof verification.
type TokenRequest struct {
	GrantType string
	Form      map[string]string
	// ClientAuth is "client_secret_basic" or "client_secret_post".
	ClientAuth string
	ClientID   string
	Proof      *dpop.DPoP
}

type injectedFailure struct {
	status int
	err    oauth2.Error
}

type Provider struct {
	issuer    string
	webID     string
	accessTTL time.Duration
	logger    *slog.Logger
	now       func() time.Time

	signingKey jwk.Key
	jwks       jwk.Set
	codes      nonce.Service
	proofs     *dpop.Middleware
	echo       *echo.Echo

	mu             sync.Mutex
	clients        map[string]*registeredClient
	grants         map[string]*authorizationGrant
	refreshTokens  map[string]*refreshGrant
	registrations  []oidc.RegistrationRequest
	tokenRequests  []TokenRequest
	failures       []injectedFailure
	forgedIDTokens int
}

type Option func(*Provider) error

// WithWebID sets the identity every authorization is approved for.
func WithWebID(webID string) Option {
	return func(p *Provider) error {
		p.webID = webID
		return nil
	}
}

func WithAccessTokenTTL(ttl time.Duration) Option {
	return func(p *Provider) error {
		if ttl <= 0 {
			return fmt.Errorf("access token ttl must be positive")
		}
		p.accessTTL = ttl
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) error {
		p.logger = logger
		return nil
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Provider) error {
		p.now = now
		return nil
	}
}

// New creates a provider for issuer, which must be the absolute URL the
// handler is served at, ending in "/".
func New(issuer string, opts ...Option) (*Provider, error) {
	if !strings.HasSuffix(issuer, "/") {
		issuer += "/"
	}

	p := &Provider{
		issuer:        issuer,
		webID:         issuer + strings.TrimPrefix(ProfilePath, "/") + "#me",
		accessTTL:     5 * time.Minute,
		logger:        slog.Default(),
		now:           time.Now,
		clients:       make(map[string]*registeredClient),
		grants:        make(map[string]*authorizationGrant),
		refreshTokens: make(map[string]*refreshGrant),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	if err := p.initKeys(); err != nil {
		return nil, err
	}

	codes, err := nonce.NewHashicorpNonceService()
	if err != nil {
		return nil, err
	}
	p.codes = codes

	p.proofs, err = dpop.NewMiddleware(dpop.WithMiddlewareClock(p.now))
	if err != nil {
		return nil, err
	}

	p.echo = echo.New()
	p.echo.HideBanner = true
	p.echo.HidePort = true
	p.mountRoutes()

	return p, nil
}

func newSigningKey() (jwk.Key, error) {
	rawKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("unable to generate signing key: %w", err)
	}
	key, err := jwk.FromRaw(rawKey)
	if err != nil {
		return nil, fmt.Errorf("unable to create signing JWK: %w", err)
	}
	key.Set(jwk.KeyIDKey, ksuid.New().String())
	key.Set(jwk.AlgorithmKey, jwa.ES256)
	key.Set(jwk.KeyUsageKey, jwk.ForSignature)
	return key, nil
}

func (p *Provider) initKeys() error {
	var err error
	p.signingKey, err = newSigningKey()
	if err != nil {
		return err
	}

	publicKey, err := p.signingKey.PublicKey()
	if err != nil {
		return fmt.Errorf("unable to derive public key: %w", err)
	}
	p.jwks = jwk.NewSet()
	return p.jwks.AddKey(publicKey)
}

func (p *Provider) Issuer() string {
	return p.issuer
}

// WebID is the identity the provider authenticates.
func (p *Provider) WebID() string {
	return p.webID
}

func (p *Provider) Handler() http.Handler {
	return p.echo
}

func (p *Provider) url(path string) string {
	return strings.TrimSuffix(p.issuer, "/") + path
}

func (p *Provider) TokenEndpoint() string {
	return p.url(TokenPath)
}

func (p *Provider) ProfileURL() string {
	return p.url(ProfilePath)
}

// Metadata is the document served at the discovery location.
func (p *Provider) Metadata() *oidc.ProviderMetadata {
	return &oidc.ProviderMetadata{
		Issuer:                                     p.issuer,
		AuthorizationEndpoint:                      p.url(AuthorizationPath),
		TokenEndpoint:                              p.url(TokenPath),
		RegistrationEndpoint:                       p.url(RegistrationPath),
		JwksURI:                                    p.url(JWKSPath),
		ScopesSupported:                            []string{"openid", "offline_access", "webid"},
		ResponseTypesSupported:                     []string{"code"},
		GrantTypesSupported:                        []string{oidc.GrantTypeAuthorizationCode, oidc.GrantTypeRefreshToken},
		TokenEndpointAuthMethodsSupported:          []string{oidc.AuthMethodClientSecretBasic, "client_secret_post"},
		IdTokenSigningAlgValuesSupported:           []string{"ES256"},
		DPoPSigningAlgValuesSupported:              []string{"ES256"},
		CodeChallengeMethodsSupported:              []string{string(oauth2.CodeChallengeMethodS256)},
		AuthorizationResponseIssParameterSupported: true,
	}
}

// TokenRequests returns every request that reached the token endpoint.
func (p *Provider) TokenRequests() []TokenRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TokenRequest(nil), p.tokenRequests...)
}

// Registrations returns the client metadata of every registration.
func (p *Provider) Registrations() []oidc.RegistrationRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]oidc.RegistrationRequest(nil), p.registrations...)
}

// FailNextTokenRequest makes the next token request fail with status and code.
func (p *Provider) FailNextTokenRequest(status int, code, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, injectedFailure{
		status: status,
		err:    oauth2.Error{Code: code, Description: description},
	})
}

// ForgeNextIDToken makes the next issued ID token carry a signature from a
// key that is not published in the provider's JWKS.
func (p *Provider) ForgeNextIDToken() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forgedIDTokens++
}

func (p *Provider) takeForgedIDToken() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.forgedIDTokens == 0 {
		return false
	}
	p.forgedIDTokens--
	return true
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (p *Provider) RevokeRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshTokens = make(map[string]*refreshGrant)
}

// SeedRefreshToken issues a refresh token for a registered client without
// running the authorization flow.
func (p *Provider) SeedRefreshToken(clientID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.clients[clientID]; !ok {
		return "", fmt.Errorf("unknown client %s", clientID)
	}
	return p.newRefreshTokenLocked(clientID, "openid offline_access webid"), nil
}

func (p *Provider) newRefreshTokenLocked(clientID, scope string) string {
	refreshToken := ksuid.New().String()
	p.refreshTokens[refreshToken] = &refreshGrant{clientID: clientID, scope: scope}
	return refreshToken
}
