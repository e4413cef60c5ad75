// Package solid establishes and maintains a DPoP-bound Solid-OIDC session.
package solid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gematik/solid-session/pkg/store"
	"golang.org/x/sync/singleflight"
)

type State int

const (
	Unauthenticated State = iota
	PendingRedirect
	Active
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case PendingRedirect:
		return "pending_redirect"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var DefaultScopes = []string{"openid", "offline_access", "webid"}

// Session is the authentication state of one user agent.
// All methods are safe for concurrent use.
type Session struct {
	store      store.Store
	page       Page
	httpClient *http.Client
	logger     *slog.Logger
	scopes     []string
	clientName string
	now        func() time.Time

	mu         sync.RWMutex
	state      State
	current    *snapshot
	generation uint64

	// persistMu orders Logout against late writes of an older generation
	persistMu sync.Mutex

	renewGroup singleflight.Group
}

// snapshot is replaced as a whole, never modified in place.
type snapshot struct {
	tokens *TokenSet
	webID  string
}

type Option func(*Session)

// WithHTTPClient sets the client used for discovery, registration, token
// requests and AuthFetch. Defaults to http.DefaultClient.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Session) {
		if client != nil {
			s.httpClient = client
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithScopes(scopes ...string) Option {
	return func(s *Session) {
		s.scopes = scopes
	}
}

// WithClientName sets the client_name sent during dynamic registration.
func WithClientName(name string) Option {
	return func(s *Session) {
		s.clientName = name
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an unauthenticated session persisting its flow state in st.
func New(st store.Store, page Page, opts ...Option) *Session {
	s := &Session{
		store:      st,
		page:       page,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
		scopes:     DefaultScopes,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) IsActive() bool {
	return s.State() == Active
}

// WebID of the authenticated user, empty unless active.
func (s *Session) WebID() string {
	if snap := s.active(); snap != nil {
		return snap.webID
	}
	return ""
}

// Tokens returns the current token set or nil. The result must not be modified.
func (s *Session) Tokens() *TokenSet {
	if snap := s.active(); snap != nil {
		return snap.tokens
	}
	return nil
}

func (s *Session) active() *snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != Active {
		return nil
	}
	return s.current
}

// begin moves to state and starts a new generation. Results of work
// started under an older generation are dropped.
func (s *Session) begin(state State) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.current = nil
	s.state = state
	return s.generation
}

func (s *Session) currentGeneration() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

func (s *Session) isCurrent(gen uint64) bool {
	return s.currentGeneration() == gen
}

// activate installs the token set unless the session moved on since gen.
func (s *Session) activate(gen uint64, tokens *TokenSet, webID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	s.current = &snapshot{tokens: tokens, webID: webID}
	s.state = Active
	return true
}

func (s *Session) settle(gen uint64, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	s.current = nil
	s.state = state
}

// persistIfCurrent writes key unless a Login or Logout happened since gen.
func (s *Session) persistIfCurrent(ctx context.Context, gen uint64, key, value string) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if !s.isCurrent(gen) {
		s.logger.Debug("Session changed, not persisting", "key", key)
		return nil
	}
	return s.store.Set(ctx, key, value)
}

// Login starts the authorization code flow at idp and navigates the page away.
// redirectURI is where the provider sends the user agent back to.
func (s *Session) Login(ctx context.Context, idp, redirectURI string) error {
	gen := s.begin(Unauthenticated)

	authURL, err := s.startLogin(ctx, idp, redirectURI)
	if err != nil {
		return err
	}

	s.settle(gen, PendingRedirect)
	if err := s.page.Navigate(ctx, authURL); err != nil {
		s.settle(gen, Unauthenticated)
		return fmt.Errorf("navigate to authorization endpoint: %w", err)
	}
	return nil
}

// RestoreSession completes a pending redirect found in the page URL or,
// without one, renews the session from a stored refresh token.
//
// Errors of the redirect leg are returned and leave the session
// unauthenticated. A failed refresh is not an error: the session just
// stays unauthenticated. A Logout while this runs wins.
func (s *Session) RestoreSession(ctx context.Context) error {
	gen := s.currentGeneration()

	tokens, webID, err := s.completeLogin(ctx, gen)
	if err != nil {
		s.settle(gen, Unauthenticated)
		return err
	}
	if tokens != nil {
		if !s.activate(gen, tokens, webID) {
			s.logger.Debug("Session changed during login, tokens dropped")
			return nil
		}
		s.logger.Info("Session established from authorization code", "webid", webID)
		return nil
	}

	tokens, webID, err = s.renew(ctx, gen)
	if err != nil {
		if errors.Is(err, ErrMissingSessionData) {
			s.logger.Debug("No session to restore", "error", err)
		} else {
			s.logger.Warn("Unable to restore session", "error", err)
		}
		s.settle(gen, Unauthenticated)
		return nil
	}

	if !s.activate(gen, tokens, webID) {
		s.logger.Debug("Session changed during refresh, tokens dropped")
		return nil
	}
	s.logger.Info("Session restored from refresh token", "webid", webID)
	return nil
}

// Logout forgets the token set and every persisted value of the session.
// Restores still in flight are discarded when they finish.
func (s *Session) Logout(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.begin(Unauthenticated)
	if err := s.store.Delete(ctx, store.AllKeys...); err != nil {
		return fmt.Errorf("clear session store: %w", err)
	}
	return nil
}
