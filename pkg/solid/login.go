package solid

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gematik/solid-session/pkg/dpop"
	"github.com/gematik/solid-session/pkg/oauth2"
	"github.com/gematik/solid-session/pkg/oidc"
	"github.com/gematik/solid-session/pkg/store"
	xoauth2 "golang.org/x/oauth2"
)

// startLogin persists the flow state step by step and returns the
// authorization URL. Every value is durable before the next step runs.
func (s *Session) startLogin(ctx context.Context, idp, redirectURI string) (string, error) {
	if err := s.store.Set(ctx, store.KeyIdp, idp); err != nil {
		return "", fmt.Errorf("persist %s: %w", store.KeyIdp, err)
	}

	metadata, err := oidc.Discover(ctx, s.httpClient, idp)
	if err != nil {
		return "", wrapErr(ErrProviderDiscovery, err)
	}
	if err := s.store.Set(ctx, store.KeyTokenEndpoint, metadata.TokenEndpoint); err != nil {
		return "", fmt.Errorf("persist %s: %w", store.KeyTokenEndpoint, err)
	}
	if metadata.JwksURI != "" {
		if err := s.store.Set(ctx, store.KeyJwksURI, metadata.JwksURI); err != nil {
			return "", fmt.Errorf("persist %s: %w", store.KeyJwksURI, err)
		}
	} else if err := s.store.Delete(ctx, store.KeyJwksURI); err != nil {
		return "", fmt.Errorf("clear %s: %w", store.KeyJwksURI, err)
	}

	registrationRequest := oidc.NewRegistrationRequest(redirectURI)
	registrationRequest.ClientName = s.clientName
	registration, err := oidc.Register(ctx, s.httpClient, metadata.RegistrationEndpoint, registrationRequest)
	if err != nil {
		return "", wrapErr(ErrClientRegistration, err)
	}
	if err := s.store.Set(ctx, store.KeyClientID, registration.ClientID); err != nil {
		return "", fmt.Errorf("persist %s: %w", store.KeyClientID, err)
	}
	if err := s.store.Set(ctx, store.KeyClientSecret, registration.ClientSecret); err != nil {
		return "", fmt.Errorf("persist %s: %w", store.KeyClientSecret, err)
	}

	pkce := oauth2.GeneratePKCE()
	if err := s.store.Set(ctx, store.KeyPKCECodeVerifier, pkce.CodeVerifier); err != nil {
		return "", fmt.Errorf("persist %s: %w", store.KeyPKCECodeVerifier, err)
	}

	state := oauth2.GenerateState()
	if err := s.store.Set(ctx, store.KeyCSRFToken, state); err != nil {
		return "", fmt.Errorf("persist %s: %w", store.KeyCSRFToken, err)
	}

	config := &xoauth2.Config{
		ClientID:    registration.ClientID,
		Endpoint:    xoauth2.Endpoint{AuthURL: metadata.AuthorizationEndpoint},
		RedirectURL: redirectURI,
		Scopes:      s.scopes,
	}
	authURL := config.AuthCodeURL(state,
		xoauth2.SetAuthURLParam("code_challenge_method", string(pkce.CodeChallengeMethod)),
		xoauth2.SetAuthURLParam("code_challenge", pkce.CodeChallenge),
		xoauth2.ApprovalForce,
	)

	s.logger.Info("Redirecting to authorization endpoint",
		"idp", idp,
		"client_id", registration.ClientID,
		"endpoint", metadata.AuthorizationEndpoint,
	)
	return authURL, nil
}

// completeLogin exchanges the authorization code found in the page URL.
// It returns a nil token set when the page carries no code. Nothing is
// persisted once a Login or Logout after gen took over the session.
func (s *Session) completeLogin(ctx context.Context, gen uint64) (*TokenSet, string, error) {
	current, err := url.Parse(s.page.URL())
	if err != nil {
		return nil, "", fmt.Errorf("parse page url: %w", err)
	}
	query := current.Query()

	code := query.Get("code")
	if code == "" {
		if errCode := query.Get("error"); errCode != "" {
			s.logger.Warn("Authorization failed at provider",
				"error", errCode,
				"error_description", query.Get("error_description"),
			)
		}
		return nil, "", nil
	}

	// without a pending login no issuer can be expected, which is an issuer failure
	idp, err := s.store.Get(ctx, store.KeyIdp)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", fmt.Errorf("%w: no login pending, got %q", ErrIssuerMismatch, query.Get("iss"))
	} else if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", store.KeyIdp, err)
	}
	if iss := query.Get("iss"); withTrailingSlash(iss) != withTrailingSlash(idp) {
		return nil, "", fmt.Errorf("%w: expected %q, got %q", ErrIssuerMismatch, withTrailingSlash(idp), iss)
	}

	// the token is consumed here so a replayed redirect can never match twice
	csrfToken, err := store.Take(ctx, s.store, store.KeyCSRFToken)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, "", fmt.Errorf("read %s: %w", store.KeyCSRFToken, err)
	}
	if csrfToken == "" || subtle.ConstantTimeCompare([]byte(csrfToken), []byte(query.Get("state"))) != 1 {
		return nil, "", ErrStateMismatch
	}

	query.Del("code")
	query.Del("state")
	query.Del("iss")
	current.RawQuery = query.Encode()
	s.page.ReplaceURL(current.String())

	redirect := *current
	redirect.Fragment = ""
	redirectURI := redirect.String()

	codeVerifier, err := store.Take(ctx, s.store, store.KeyPKCECodeVerifier)
	if err != nil {
		return nil, "", missingData(store.KeyPKCECodeVerifier, err)
	}
	clientID, err := s.store.Get(ctx, store.KeyClientID)
	if err != nil {
		return nil, "", missingData(store.KeyClientID, err)
	}
	clientSecret, err := s.store.Get(ctx, store.KeyClientSecret)
	if err != nil {
		return nil, "", missingData(store.KeyClientSecret, err)
	}
	tokenEndpoint, err := s.store.Get(ctx, store.KeyTokenEndpoint)
	if err != nil {
		return nil, "", missingData(store.KeyTokenEndpoint, err)
	}

	keyPair, err := dpop.NewKeyPair()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}

	config := &xoauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: xoauth2.Endpoint{
			TokenURL:  tokenEndpoint,
			AuthStyle: xoauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURI,
	}
	tok, err := config.Exchange(s.boundContext(ctx, keyPair), code, xoauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, "", wrapErr(ErrTokenExchange, err)
	}

	tokens := newTokenSet(tok, keyPair)

	var idTokenWebID string
	if tokens.IDToken != "" {
		if jwksURI, err := s.store.Get(ctx, store.KeyJwksURI); err == nil {
			verifier := oidc.NewIDTokenVerifier(s.httpClient, withTrailingSlash(idp), jwksURI, clientID, s.now)
			idToken, err := verifier.Verify(ctx, tokens.IDToken)
			if err != nil {
				return nil, "", wrapErr(ErrTokenExchange, err)
			}
			idTokenWebID = idToken.WebID
			if idTokenWebID == "" {
				idTokenWebID = idToken.Subject
			}
		}
	}

	// only a grant that passed verification may be renewed later
	if tokens.RefreshToken != "" {
		if err := s.persistIfCurrent(ctx, gen, store.KeyRefreshToken, tokens.RefreshToken); err != nil {
			return nil, "", fmt.Errorf("persist %s: %w", store.KeyRefreshToken, err)
		}
	}

	// the flow is finished, only what renew needs stays behind
	if err := s.store.Delete(ctx, store.KeyIdp, store.KeyJwksURI); err != nil {
		s.logger.Warn("Unable to clear flow state", "error", err)
	}

	webID, err := webIDFromAccessToken(tokens.AccessToken)
	if err != nil {
		s.logger.Warn("Unable to read WebID from access token", "error", err)
		webID = idTokenWebID
	}

	return tokens, webID, nil
}

// boundContext makes x/oauth2 send its token requests through a client
// that attaches a proof signed with keyPair.
func (s *Session) boundContext(ctx context.Context, keyPair *dpop.KeyPair) context.Context {
	client := *s.httpClient
	client.Transport = &dpop.Transport{Base: s.httpClient.Transport, KeyPair: keyPair, Clock: s.now}
	return context.WithValue(ctx, xoauth2.HTTPClient, &client)
}

func missingData(key string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrMissingSessionData, key)
	}
	return fmt.Errorf("read %s: %w", key, err)
}

func withTrailingSlash(s string) string {
	if s == "" || strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
