package solid

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gematik/solid-session/pkg/dpop"
	"github.com/gematik/solid-session/pkg/store"
	xoauth2 "golang.org/x/oauth2"
)

type renewResult struct {
	tokens *TokenSet
	webID  string
}

// renew runs the refresh grant with the stored refresh token. Concurrent
// calls share one token request, since the provider may rotate the
// refresh token and reject the second use. Flights are keyed by
// generation so a restore after Logout never joins an older one.
func (s *Session) renew(ctx context.Context, gen uint64) (*TokenSet, string, error) {
	v, err, _ := s.renewGroup.Do(strconv.FormatUint(gen, 10), func() (interface{}, error) {
		tokens, webID, err := s.refreshGrant(ctx, gen)
		if err != nil {
			return nil, err
		}
		return &renewResult{tokens: tokens, webID: webID}, nil
	})
	if err != nil {
		return nil, "", err
	}
	result := v.(*renewResult)
	return result.tokens, result.webID, nil
}

func (s *Session) refreshGrant(ctx context.Context, gen uint64) (*TokenSet, string, error) {
	clientID, err := s.store.Get(ctx, store.KeyClientID)
	if err != nil {
		return nil, "", missingData(store.KeyClientID, err)
	}
	clientSecret, err := s.store.Get(ctx, store.KeyClientSecret)
	if err != nil {
		return nil, "", missingData(store.KeyClientSecret, err)
	}
	refreshToken, err := s.store.Get(ctx, store.KeyRefreshToken)
	if err != nil {
		return nil, "", missingData(store.KeyRefreshToken, err)
	}
	tokenEndpoint, err := s.store.Get(ctx, store.KeyTokenEndpoint)
	if err != nil {
		return nil, "", missingData(store.KeyTokenEndpoint, err)
	}

	// a refreshed token set never reuses the key of the previous one
	keyPair, err := dpop.NewKeyPair()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrRefresh, err)
	}

	config := &xoauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: xoauth2.Endpoint{
			TokenURL:  tokenEndpoint,
			AuthStyle: xoauth2.AuthStyleInHeader,
		},
	}
	tok, err := config.TokenSource(s.boundContext(ctx, keyPair), &xoauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, "", wrapErr(ErrRefresh, err)
	}

	tokens := newTokenSet(tok, keyPair)
	if tokens.RefreshToken != "" && tokens.RefreshToken != refreshToken {
		if err := s.persistIfCurrent(ctx, gen, store.KeyRefreshToken, tokens.RefreshToken); err != nil {
			return nil, "", fmt.Errorf("persist %s: %w", store.KeyRefreshToken, err)
		}
		s.logger.Debug("Refresh token rotated")
	}

	webID, err := webIDFromAccessToken(tokens.AccessToken)
	if err != nil {
		s.logger.Warn("Unable to read WebID from access token", "error", err)
	}

	return tokens, webID, nil
}
