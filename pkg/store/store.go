// Package store persists the secrets of a login across page navigations and restarts.
package store

import (
	"context"
	"errors"
)

// Keys written by the session. Values are opaque strings.
const (
	KeyIdp              = "idp"
	KeyClientID         = "client_id"
	KeyClientSecret     = "client_secret"
	KeyTokenEndpoint    = "token_endpoint"
	KeyPKCECodeVerifier = "pkce_code_verifier"
	KeyCSRFToken        = "csrf_token"
	KeyRefreshToken     = "refresh_token"
	KeyJwksURI          = "jwks_uri"
)

// AllKeys lists every key the session may write.
var AllKeys = []string{
	KeyIdp,
	KeyClientID,
	KeyClientSecret,
	KeyTokenEndpoint,
	KeyPKCECodeVerifier,
	KeyCSRFToken,
	KeyRefreshToken,
	KeyJwksURI,
}

var ErrNotFound = errors.New("key not found")

// Store is a durable string key-value store. A Set that returned nil
// must be visible to any later Get, including one from a new process.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Take reads a key and deletes it, so the value can be observed at most once.
func Take(ctx context.Context, s Store, key string) (string, error) {
	value, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if err := s.Delete(ctx, key); err != nil {
		return "", err
	}
	return value, nil
}
