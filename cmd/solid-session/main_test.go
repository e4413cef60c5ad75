package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gematik/solid-session/pkg/idptest"
	"github.com/gematik/solid-session/pkg/solid"
	"github.com/gematik/solid-session/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SOLID_SESSION_IDP", "")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, defaultRedirectURI, cfg.RedirectURI)
	assert.Equal(t, "file", cfg.Store.Type)
	assert.True(t, strings.HasSuffix(cfg.Store.Path, "session.cbor"))
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("SOLID_SESSION_IDP", "")
	t.Setenv("TEST_VALKEY_PASSWORD", "s3cret")

	cfg, err := LoadConfig(writeConfig(t, `
idp: https://idp.example/
redirect_uri: http://127.0.0.1:9000/cb
scopes: [openid, webid]
store:
  type: valkey
  valkey:
    address: localhost:6379
    password: ${TEST_VALKEY_PASSWORD}
    ttl: 12h
`))
	require.NoError(t, err)
	assert.Equal(t, "https://idp.example/", cfg.IdP)
	assert.Equal(t, []string{"openid", "webid"}, cfg.Scopes)
	assert.Equal(t, "s3cret", cfg.Store.Valkey.Password.Value())
	assert.Equal(t, 12*time.Hour, cfg.Store.Valkey.TTL)
	assert.Equal(t, "solid-session:", cfg.Store.Valkey.Prefix)

	address, path, err := cfg.CallbackAddress()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", address)
	assert.Equal(t, "/cb", path)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SOLID_SESSION_IDP", "https://other.example/")

	cfg, err := LoadConfig(writeConfig(t, "idp: https://idp.example/\n"))
	require.NoError(t, err)
	assert.Equal(t, "https://other.example/", cfg.IdP)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Setenv("SOLID_SESSION_IDP", "")

	tests := map[string]string{
		"unknown store":       "store:\n  type: etcd\n",
		"sqlite without dsn":  "store:\n  type: sqlite\n",
		"valkey without addr": "store:\n  type: valkey\n",
		"firestore project":   "store:\n  type: firestore\n",
		"idp not a url":       "idp: not a url\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, content))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCallbackAddressRequiresHTTP(t *testing.T) {
	cfg := &Config{RedirectURI: "https://app.example/cb"}
	_, _, err := cfg.CallbackAddress()
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	cfg := defaultConfig()
	cfg.Store.Path = filepath.Join(t.TempDir(), "session.cbor")

	st, closeStore, err := cfg.OpenStore(context.Background())
	require.NoError(t, err)
	defer closeStore()
	assert.IsType(t, &store.FileStore{}, st)

	cfg.Store = StoreConfig{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "session.db")}
	st, closeSQLite, err := cfg.OpenStore(context.Background())
	require.NoError(t, err)
	defer closeSQLite()
	assert.IsType(t, &store.SQLiteStore{}, st)
}

func TestParseHeaders(t *testing.T) {
	header, err := parseHeaders([]string{"Content-Type: text/turtle", "Link: <a>; rel=\"type\""})
	require.NoError(t, err)
	assert.Equal(t, "text/turtle", header.Get("Content-Type"))
	assert.Equal(t, `<a>; rel="type"`, header.Get("Link"))

	_, err = parseHeaders([]string{"no-colon"})
	assert.Error(t, err)
}

func TestExpiryText(t *testing.T) {
	expiry := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	tokens := &solid.TokenSet{Expiry: expiry}

	assert.Equal(t, "2026-10-15T12:00:00Z", expiryText(tokens, expiry.Add(-time.Minute)))
	assert.Contains(t, expiryText(tokens, expiry.Add(time.Minute)), "(expired)")
}

func TestLoginThroughCallbackServer(t *testing.T) {
	idp, err := idptest.NewServer()
	require.NoError(t, err)
	defer idp.Close()

	page, err := newCallbackPage("127.0.0.1:0", "/callback")
	require.NoError(t, err)
	go page.Serve()
	defer page.Shutdown(context.Background())

	// the browser follows the provider's redirect to the callback server
	browser := idp.Client()
	page.openBrowser = func(target string) error {
		go func() {
			resp, err := browser.Get(target)
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}

	cfg := defaultConfig()
	cfg.RedirectURI = "http://" + page.listener.Addr().String() + "/callback"
	st := store.NewMemoryStore()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session := newSession(cfg, st, page)
	require.NoError(t, session.Login(ctx, idp.Issuer(), cfg.RedirectURI))
	require.NoError(t, page.Wait(ctx))
	require.NoError(t, session.RestoreSession(ctx))

	assert.True(t, session.IsActive())
	assert.Equal(t, idp.WebID(), session.WebID())
	assert.Equal(t, cfg.RedirectURI, page.URL())

	resp, err := session.HTTPClient().Get(idp.ProfileURL())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
