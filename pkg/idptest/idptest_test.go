package idptest_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gematik/solid-session/pkg/dpop"
	"github.com/gematik/solid-session/pkg/idptest"
	"github.com/gematik/solid-session/pkg/oauth2"
	"github.com/gematik/solid-session/pkg/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const redirectURI = "https://app.example/cb"

func newServer(t *testing.T) *idptest.Server {
	t.Helper()
	server, err := idptest.NewServer()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	return server
}

func noRedirectClient(base *http.Client) *http.Client {
	client := *base
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &client
}

// authorize registers a client and runs the authorization endpoint.
func authorize(t *testing.T, server *idptest.Server, pkce *oauth2.PKCEPair) (*oidc.ClientRegistration, url.Values) {
	t.Helper()
	ctx := context.Background()

	metadata, err := oidc.Discover(ctx, server.Client(), server.Issuer())
	require.NoError(t, err)

	registration, err := oidc.Register(ctx, server.Client(), metadata.RegistrationEndpoint, oidc.NewRegistrationRequest(redirectURI))
	require.NoError(t, err)

	authURL := metadata.AuthorizationEndpoint + "?" + url.Values{
		"response_type":         {"code"},
		"client_id":             {registration.ClientID},
		"redirect_uri":          {redirectURI},
		"scope":                 {"openid offline_access webid"},
		"state":                 {"state-1"},
		"code_challenge":        {pkce.CodeChallenge},
		"code_challenge_method": {"S256"},
	}.Encode()

	resp, err := noRedirectClient(server.Client()).Get(authURL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example", location.Host)
	return registration, location.Query()
}

func postToken(t *testing.T, server *idptest.Server, keyPair *dpop.KeyPair, form url.Values, basicUser, basicPassword string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, server.TokenEndpoint(), strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basicUser != "" {
		req.SetBasicAuth(basicUser, basicPassword)
	}

	client := server.Client()
	if keyPair != nil {
		client = dpop.NewClient(client, keyPair)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func TestDiscoveryDocument(t *testing.T) {
	server := newServer(t)

	metadata, err := oidc.Discover(context.Background(), server.Client(), server.Issuer())
	require.NoError(t, err)
	assert.Equal(t, server.Issuer(), metadata.Issuer)
	assert.True(t, strings.HasSuffix(server.Issuer(), "/"))
	assert.Equal(t, server.TokenEndpoint(), metadata.TokenEndpoint)
	assert.Contains(t, metadata.DPoPSigningAlgValuesSupported, "ES256")
}

func TestAuthorizationCodeAndRefreshGrant(t *testing.T) {
	server := newServer(t)
	pkce := oauth2.GeneratePKCE()

	registration, params := authorize(t, server, pkce)
	assert.Equal(t, "state-1", params.Get("state"))
	assert.Equal(t, server.Issuer(), params.Get("iss"))
	require.NotEmpty(t, params.Get("code"))

	keyPair, err := dpop.NewKeyPair()
	require.NoError(t, err)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {params.Get("code")},
		"code_verifier": {pkce.CodeVerifier},
		"redirect_uri":  {redirectURI},
		"client_id":     {registration.ClientID},
		"client_secret": {registration.ClientSecret},
	}
	resp := postToken(t, server, keyPair, form, "", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tokens oauth2.TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tokens))
	assert.Equal(t, "DPoP", tokens.TokenType)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.NotEmpty(t, tokens.IDToken)

	// the code is single use
	replay := postToken(t, server, keyPair, form, "", "")
	replay.Body.Close()
	assert.Equal(t, http.StatusBadRequest, replay.StatusCode)

	refreshForm := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokens.RefreshToken},
	}
	refreshed := postToken(t, server, keyPair, refreshForm, registration.ClientID, registration.ClientSecret)
	defer refreshed.Body.Close()
	require.Equal(t, http.StatusOK, refreshed.StatusCode)

	var rotated oauth2.TokenResponse
	require.NoError(t, json.NewDecoder(refreshed.Body).Decode(&rotated))
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	// rotated tokens are single use too
	reused := postToken(t, server, keyPair, refreshForm, registration.ClientID, registration.ClientSecret)
	reused.Body.Close()
	assert.Equal(t, http.StatusBadRequest, reused.StatusCode)

	requests := server.TokenRequests()
	require.Len(t, requests, 4)
	assert.Equal(t, "client_secret_post", requests[0].ClientAuth)
	assert.Equal(t, oidc.AuthMethodClientSecretBasic, requests[2].ClientAuth)
	assert.Equal(t, keyPair.Thumbprint, requests[2].Proof.KeyThumbprint)
}

func TestForgedIDToken(t *testing.T) {
	server := newServer(t)
	pkce := oauth2.GeneratePKCE()
	registration, params := authorize(t, server, pkce)

	keyPair, err := dpop.NewKeyPair()
	require.NoError(t, err)

	server.ForgeNextIDToken()
	resp := postToken(t, server, keyPair, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {params.Get("code")},
		"code_verifier": {pkce.CodeVerifier},
		"redirect_uri":  {redirectURI},
		"client_id":     {registration.ClientID},
		"client_secret": {registration.ClientSecret},
	}, "", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tokens oauth2.TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tokens))
	require.NotEmpty(t, tokens.IDToken)

	ctx := context.Background()
	metadata, err := oidc.Discover(ctx, server.Client(), server.Issuer())
	require.NoError(t, err)
	verifier := oidc.NewIDTokenVerifier(server.Client(), server.Issuer(), metadata.JwksURI, registration.ClientID, time.Now)
	_, err = verifier.Verify(ctx, tokens.IDToken)
	assert.Error(t, err)
}

func TestTokenEndpointRejectsBadRequests(t *testing.T) {
	server := newServer(t)
	pkce := oauth2.GeneratePKCE()
	registration, params := authorize(t, server, pkce)
	keyPair, _ := dpop.NewKeyPair()

	base := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {params.Get("code")},
		"code_verifier": {pkce.CodeVerifier},
		"redirect_uri":  {redirectURI},
		"client_id":     {registration.ClientID},
		"client_secret": {registration.ClientSecret},
	}

	t.Run("missing proof", func(t *testing.T) {
		resp := postToken(t, server, nil, base, "", "")
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "DPoP")
	})

	t.Run("wrong secret", func(t *testing.T) {
		form := url.Values{}
		for k, v := range base {
			form[k] = v
		}
		form.Set("client_secret", "wrong")
		resp := postToken(t, server, keyPair, form, "", "")
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("injected failure", func(t *testing.T) {
		server.FailNextTokenRequest(http.StatusBadRequest, "invalid_grant", "injected")
		resp := postToken(t, server, keyPair, base, "", "")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var oauthErr oauth2.Error
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&oauthErr))
		assert.Equal(t, "invalid_grant", oauthErr.Code)
	})

	t.Run("wrong verifier", func(t *testing.T) {
		form := url.Values{}
		for k, v := range base {
			form[k] = v
		}
		form.Set("code_verifier", oauth2.GeneratePKCE().CodeVerifier)
		resp := postToken(t, server, keyPair, form, "", "")
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAuthorizationEndpointRejectsUnknownRedirect(t *testing.T) {
	server := newServer(t)
	registration, err := oidc.Register(context.Background(), server.Client(), server.Metadata().RegistrationEndpoint, oidc.NewRegistrationRequest(redirectURI))
	require.NoError(t, err)

	authURL := server.Metadata().AuthorizationEndpoint + "?" + url.Values{
		"response_type":         {"code"},
		"client_id":             {registration.ClientID},
		"redirect_uri":          {"https://evil.example/cb"},
		"scope":                 {"openid"},
		"state":                 {"s"},
		"code_challenge":        {"c"},
		"code_challenge_method": {"S256"},
	}.Encode()

	resp, err := noRedirectClient(server.Client()).Get(authURL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProfileRequiresBoundToken(t *testing.T) {
	server := newServer(t)
	pkce := oauth2.GeneratePKCE()
	registration, params := authorize(t, server, pkce)
	keyPair, _ := dpop.NewKeyPair()

	resp := postToken(t, server, keyPair, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {params.Get("code")},
		"code_verifier": {pkce.CodeVerifier},
		"redirect_uri":  {redirectURI},
		"client_id":     {registration.ClientID},
		"client_secret": {registration.ClientSecret},
	}, "", "")
	var tokens oauth2.TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tokens))
	resp.Body.Close()

	fetch := func(kp *dpop.KeyPair) *http.Response {
		req, _ := http.NewRequest(http.MethodGet, server.ProfileURL(), nil)
		req.Header.Set("Authorization", "DPoP "+tokens.AccessToken)
		resp, err := dpop.NewClient(server.Client(), kp).Do(req)
		require.NoError(t, err)
		return resp
	}

	ok := fetch(keyPair)
	body, _ := io.ReadAll(ok.Body)
	ok.Body.Close()
	assert.Equal(t, http.StatusOK, ok.StatusCode)
	assert.Contains(t, string(body), server.WebID())

	otherKey, _ := dpop.NewKeyPair()
	stolen := fetch(otherKey)
	stolen.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, stolen.StatusCode)
}
