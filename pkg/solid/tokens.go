package solid

import (
	"fmt"
	"time"

	"github.com/gematik/solid-session/pkg/dpop"
	"github.com/lestrrat-go/jwx/v2/jwt"
	xoauth2 "golang.org/x/oauth2"
)

// TokenSet is the result of one grant. KeyPair is the key the access
// token is bound to and is never shared with another TokenSet.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	Scope        string
	Expiry       time.Time
	KeyPair      *dpop.KeyPair
}

// Expired reports whether the access token is past its expiry at now.
// Tokens without expiry never expire.
func (t *TokenSet) Expired(now time.Time) bool {
	return !t.Expiry.IsZero() && !now.Before(t.Expiry)
}

func newTokenSet(tok *xoauth2.Token, keyPair *dpop.KeyPair) *TokenSet {
	ts := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		KeyPair:      keyPair,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		ts.IDToken = idToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	return ts
}

// webIDFromAccessToken reads the webid claim, falling back to sub.
// The signature is not checked; the token is only ever sent back to servers
// which verify it themselves.
func webIDFromAccessToken(accessToken string) (string, error) {
	token, err := jwt.Parse([]byte(accessToken), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return "", fmt.Errorf("access token is not a JWT: %w", err)
	}

	if claim, ok := token.Get("webid"); ok {
		if webID, ok := claim.(string); ok && webID != "" {
			return webID, nil
		}
	}
	if sub := token.Subject(); sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("access token carries neither webid nor sub")
}
