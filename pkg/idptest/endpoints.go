package idptest

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gematik/solid-session/pkg/dpop"
	"github.com/gematik/solid-session/pkg/oauth2"
	"github.com/gematik/solid-session/pkg/oidc"
	"github.com/gematik/solid-session/pkg/util"
	"github.com/labstack/echo/v4"
	"github.com/segmentio/ksuid"
)

func (p *Provider) errorLogMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err != nil {
			p.logger.Debug("Request failed", "error", err, "path", c.Path())
		}
		return err
	}
}

func (p *Provider) mountRoutes() {
	p.echo.Use(p.errorLogMiddleware)
	p.echo.GET(oidc.WellKnownPath, p.discoveryEndpoint)
	p.echo.POST(RegistrationPath, p.registrationEndpoint)
	p.echo.GET(AuthorizationPath, p.authorizationEndpoint)
	p.echo.POST(TokenPath, p.tokenEndpoint)
	p.echo.GET(JWKSPath, p.jwksEndpoint)
	p.echo.GET(ProfilePath, p.profileEndpoint)
}

func badRequest(code, description string) error {
	return echo.NewHTTPError(http.StatusBadRequest, oauth2.Error{
		Code:        code,
		Description: description,
	})
}

func (p *Provider) discoveryEndpoint(c echo.Context) error {
	return c.JSON(http.StatusOK, p.Metadata())
}

func (p *Provider) jwksEndpoint(c echo.Context) error {
	return c.JSON(http.StatusOK, &util.Jwks{Keys: p.jwks})
}

func (p *Provider) registrationEndpoint(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 64*1024))
	if err != nil {
		return badRequest("invalid_client_metadata", err.Error())
	}

	metadata, err := util.AnyToStruct[oidc.RegistrationRequest](body)
	if err != nil {
		return badRequest("invalid_redirect_uri", err.Error())
	}

	if !slices.Contains(metadata.GrantTypes, oidc.GrantTypeAuthorizationCode) {
		return badRequest("invalid_client_metadata", "authorization_code grant is required")
	}

	clientID := ksuid.New().String()
	clientSecret, err := randomString(32)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	p.mu.Lock()
	p.clients[clientID] = &registeredClient{
		secret:       clientSecret,
		redirectURIs: metadata.RedirectURIs,
	}
	p.registrations = append(p.registrations, *metadata)
	p.mu.Unlock()

	p.logger.Info("Client registered", "client_id", clientID, "redirect_uris", metadata.RedirectURIs)

	return c.JSON(http.StatusCreated, oidc.ClientRegistration{
		ClientID:                clientID,
		ClientSecret:            clientSecret,
		ClientIDIssuedAt:        p.now().Unix(),
		RedirectURIs:            metadata.RedirectURIs,
		TokenEndpointAuthMethod: metadata.TokenEndpointAuthMethod,
	})
}

// authorizationEndpoint approves every valid request for the configured WebID.
func (p *Provider) authorizationEndpoint(c echo.Context) error {
	var responseType, clientID, redirectURI, codeChallenge, codeChallengeMethod, state, scope string
	binderr := echo.FormFieldBinder(c).
		MustString("response_type", &responseType).
		MustString("client_id", &clientID).
		MustString("redirect_uri", &redirectURI).
		MustString("code_challenge", &codeChallenge).
		MustString("code_challenge_method", &codeChallengeMethod).
		MustString("state", &state).
		MustString("scope", &scope).
		BindError()

	if binderr != nil {
		return badRequest("invalid_request", binderr.Error())
	}

	p.mu.Lock()
	client, ok := p.clients[clientID]
	p.mu.Unlock()
	if !ok {
		return badRequest("invalid_request", "unknown client_id")
	}
	if !slices.Contains(client.redirectURIs, redirectURI) {
		return badRequest("invalid_request", "redirect_uri not registered")
	}

	if responseType != "code" {
		return p.redirectWithError(c, redirectURI, state, "unsupported_response_type", "only code is supported")
	}
	if codeChallengeMethod != string(oauth2.CodeChallengeMethodS256) {
		return p.redirectWithError(c, redirectURI, state, "invalid_request", "code_challenge_method must be S256")
	}
	if !slices.Contains(strings.Fields(scope), "openid") {
		return p.redirectWithError(c, redirectURI, state, "invalid_scope", "openid scope is required")
	}

	code, err := p.codes.Get()
	if err != nil {
		return p.redirectWithError(c, redirectURI, state, "server_error", err.Error())
	}

	p.mu.Lock()
	p.grants[code] = &authorizationGrant{
		clientID:      clientID,
		redirectURI:   redirectURI,
		codeChallenge: codeChallenge,
		scope:         scope,
	}
	p.mu.Unlock()

	return p.redirect(c, redirectURI, url.Values{
		"code":  {code},
		"state": {state},
		"iss":   {p.issuer},
	})
}

func (p *Provider) redirectWithError(c echo.Context, redirectURI, state, code, description string) error {
	params := url.Values{}
	if state != "" {
		params.Set("state", state)
	}
	params.Set("error", code)
	params.Set("error_description", description)
	params.Set("iss", p.issuer)
	return p.redirect(c, redirectURI, params)
}

func (p *Provider) redirect(c echo.Context, redirectURI string, params url.Values) error {
	target, err := url.Parse(redirectURI)
	if err != nil {
		return badRequest("invalid_request", err.Error())
	}
	query := target.Query()
	for name, values := range params {
		query[name] = values
	}
	target.RawQuery = query.Encode()
	return c.Redirect(http.StatusFound, target.String())
}

func (p *Provider) tokenEndpoint(c echo.Context) error {
	proof, dpopErr := p.proofs.VerifyRequest(c.Request(), p.url(c.Request().URL.RequestURI()), "")
	if dpopErr != nil {
		p.logger.Debug("Token request without valid proof", "error", dpopErr)
		dpopErr.WriteResponse(c.Response())
		return nil
	}

	form, err := c.FormParams()
	if err != nil {
		return badRequest("invalid_request", err.Error())
	}

	request := TokenRequest{
		GrantType: form.Get("grant_type"),
		Form:      make(map[string]string, len(form)),
		Proof:     proof,
	}
	for name := range form {
		request.Form[name] = form.Get(name)
	}

	clientID, clientSecret, basic := c.Request().BasicAuth()
	if basic {
		request.ClientAuth = oidc.AuthMethodClientSecretBasic
		// RFC 6749 §2.3.1 encodes credentials before base64
		if unescaped, err := url.QueryUnescape(clientID); err == nil {
			clientID = unescaped
		}
		if unescaped, err := url.QueryUnescape(clientSecret); err == nil {
			clientSecret = unescaped
		}
	} else {
		request.ClientAuth = "client_secret_post"
		clientID = form.Get("client_id")
		clientSecret = form.Get("client_secret")
	}
	request.ClientID = clientID

	p.mu.Lock()
	p.tokenRequests = append(p.tokenRequests, request)
	var failure *injectedFailure
	if len(p.failures) > 0 {
		failure = &p.failures[0]
		p.failures = p.failures[1:]
	}
	client, known := p.clients[clientID]
	p.mu.Unlock()

	if failure != nil {
		return echo.NewHTTPError(failure.status, failure.err)
	}

	if !known || subtle.ConstantTimeCompare([]byte(client.secret), []byte(clientSecret)) != 1 {
		return echo.NewHTTPError(http.StatusUnauthorized, oauth2.Error{
			Code:        "invalid_client",
			Description: "client authentication failed",
		})
	}

	switch request.GrantType {
	case oidc.GrantTypeAuthorizationCode:
		return p.authorizationCodeGrant(c, clientID, form, proof)
	case oidc.GrantTypeRefreshToken:
		return p.refreshTokenGrant(c, clientID, form, proof)
	default:
		return badRequest("unsupported_grant_type", fmt.Sprintf("grant type %q not supported", request.GrantType))
	}
}

func (p *Provider) authorizationCodeGrant(c echo.Context, clientID string, form url.Values, proof *dpop.DPoP) error {
	code := form.Get("code")
	if err := p.codes.Redeem(code); err != nil {
		return badRequest("invalid_grant", "authorization code is invalid or was already used")
	}

	p.mu.Lock()
	grant, ok := p.grants[code]
	delete(p.grants, code)
	p.mu.Unlock()

	if !ok || grant.clientID != clientID {
		return badRequest("invalid_grant", "authorization code was not issued to this client")
	}
	if grant.redirectURI != form.Get("redirect_uri") {
		return badRequest("invalid_grant", "redirect_uri mismatch")
	}
	if oauth2.S256ChallengeFromVerifier(form.Get("code_verifier")) != grant.codeChallenge {
		return badRequest("invalid_grant", "code_verifier does not match code_challenge")
	}

	return p.respondWithTokens(c, clientID, grant.scope, proof)
}

func (p *Provider) refreshTokenGrant(c echo.Context, clientID string, form url.Values, proof *dpop.DPoP) error {
	refreshToken := form.Get("refresh_token")

	p.mu.Lock()
	grant, ok := p.refreshTokens[refreshToken]
	if ok && grant.clientID == clientID {
		// rotation: every refresh token is single use
		delete(p.refreshTokens, refreshToken)
	}
	p.mu.Unlock()

	if !ok || grant.clientID != clientID {
		return badRequest("invalid_grant", "refresh token is invalid")
	}

	return p.respondWithTokens(c, clientID, grant.scope, proof)
}

func (p *Provider) respondWithTokens(c echo.Context, clientID, scope string, proof *dpop.DPoP) error {
	accessToken, err := p.issueAccessToken(clientID, scope, proof.KeyThumbprint)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, oauth2.Error{Code: "server_error", Description: err.Error()})
	}

	response := oauth2.TokenResponse{
		AccessToken: accessToken,
		TokenType:   dpop.AuthorizationScheme,
		ExpiresIn:   int(p.accessTTL.Seconds()),
		Scope:       scope,
	}

	scopes := strings.Fields(scope)
	if slices.Contains(scopes, "openid") {
		response.IDToken, err = p.issueIDToken(clientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, oauth2.Error{Code: "server_error", Description: err.Error()})
		}
	}
	if slices.Contains(scopes, "offline_access") {
		p.mu.Lock()
		response.RefreshToken = p.newRefreshTokenLocked(clientID, scope)
		p.mu.Unlock()
	}

	p.logger.Info("Tokens issued", "client_id", clientID, "jkt", proof.KeyThumbprint, "details", util.JWSToText(accessToken))

	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, response)
}

// profileEndpoint is a DPoP protected resource returning the WebID profile.
func (p *Provider) profileEndpoint(c echo.Context) error {
	authorization := c.Request().Header.Get("Authorization")
	if authorization == "" {
		return dpopFailure(c, dpop.ErrMissingAuthorizationHeader)
	}
	scheme, accessToken, found := strings.Cut(authorization, " ")
	if !found || !strings.EqualFold(scheme, dpop.AuthorizationScheme) {
		return dpopFailure(c, dpop.ErrInvalidAuthorizationHeader)
	}

	proof, dpopErr := p.proofs.VerifyRequest(c.Request(), p.url(c.Request().URL.RequestURI()), "")
	if dpopErr != nil {
		return dpopFailure(c, *dpopErr)
	}
	if proof.AccessTokenHash != "" && proof.AccessTokenHash != dpop.AccessTokenHash(accessToken) {
		return dpopFailure(c, dpop.ErrInvalidAccessTokenHash)
	}

	claims, err := p.verifyAccessToken(accessToken)
	if err != nil {
		p.logger.Debug("Invalid access token", "error", err)
		return dpopFailure(c, dpop.DPoPError{
			HttpStatus:  http.StatusUnauthorized,
			Code:        "invalid_token",
			Description: "access token is invalid",
		})
	}
	if claims.jkt != proof.KeyThumbprint {
		return dpopFailure(c, dpop.ErrInvalidDPoPKeyBinding)
	}

	profile := fmt.Sprintf("<%s> a <http://xmlns.com/foaf/0.1/Person> .\n", claims.webID)
	return c.Blob(http.StatusOK, "text/turtle", []byte(profile))
}

func dpopFailure(c echo.Context, err dpop.DPoPError) error {
	err.WriteResponse(c.Response())
	return nil
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("unable to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
