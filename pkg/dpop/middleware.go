package dpop

import (
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Middleware verifies incoming DPoP proofs on the resource or token server side.
type Middleware struct {
	maxAge time.Duration
	now    func() time.Time

	seenMu sync.Mutex
	seen   map[string]time.Time
}

type MiddlewareOption func(*Middleware) error

// WithMaxAge rejects proofs whose iat is older than maxAge.
func WithMaxAge(maxAge time.Duration) MiddlewareOption {
	return func(m *Middleware) error {
		m.maxAge = maxAge
		return nil
	}
}

func WithMiddlewareClock(now func() time.Time) MiddlewareOption {
	return func(m *Middleware) error {
		m.now = now
		return nil
	}
}

func NewMiddleware(opts ...MiddlewareOption) (*Middleware, error) {
	m := &Middleware{
		maxAge: 5 * time.Minute,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// VerifyRequest checks the proof of the request against its method and fullUrl.
// A non-empty accessToken additionally requires a matching ath claim.
func (m *Middleware) VerifyRequest(request *http.Request, fullUrl string, accessToken string) (*DPoP, *DPoPError) {
	dpopStr := request.Header.Get(DPoPHeaderName)
	if dpopStr == "" {
		return nil, &ErrMissingHeader
	}

	dpop, err := Parse(dpopStr)
	if err != nil {
		return nil, &DPoPError{HttpStatus: http.StatusBadRequest, Code: "invalid_dpop_proof", Description: err.Error()}
	}

	if dpop.HttpMethod != request.Method {
		slog.Error("method mismatch", "dpop", dpop.HttpMethod, "request", request.Method)
		return nil, &ErrMethodMismatch
	}

	htu, err := NormalizeHttpURI(fullUrl)
	if err != nil || dpop.HttpURI != htu {
		slog.Error("url mismatch", "dpop", dpop.HttpURI, "request", fullUrl)
		return nil, &ErrURIMismatch
	}

	now := m.now()
	if m.maxAge > 0 && now.Sub(dpop.IssuedAt) > m.maxAge {
		return nil, &ErrProofTooOld
	}

	if accessToken != "" {
		if dpop.AccessTokenHash == "" {
			return nil, &ErrMissingAccessTokenHash
		}
		if dpop.AccessTokenHash != AccessTokenHash(accessToken) {
			return nil, &ErrInvalidAccessTokenHash
		}
	}

	if !m.remember(dpop.Id, now) {
		return nil, &ErrReplayedProof
	}

	return dpop, nil
}

// remember records jti and reports whether it was unseen.
func (m *Middleware) remember(jti string, now time.Time) bool {
	m.seenMu.Lock()
	defer m.seenMu.Unlock()

	for id, at := range m.seen {
		if now.Sub(at) > m.maxAge {
			delete(m.seen, id)
		}
	}

	if _, ok := m.seen[jti]; ok {
		return false
	}
	m.seen[jti] = now
	return true
}
