package solid

import (
	"errors"
	"fmt"
	"net/url"
)

// Error kinds. Returned errors wrap one kind and the underlying cause,
// both reachable with errors.Is and errors.As.
var (
	ErrProviderDiscovery  = errors.New("provider discovery failed")
	ErrClientRegistration = errors.New("client registration failed")
	ErrIssuerMismatch     = errors.New("issuer mismatch")
	ErrStateMismatch      = errors.New("state mismatch")
	ErrMissingSessionData = errors.New("missing session data")
	ErrTokenExchange      = errors.New("token exchange failed")
	ErrRefresh            = errors.New("refresh failed")
	ErrNetwork            = errors.New("network error")
)

// IsSecurityError reports whether err indicates a forged or substituted redirect.
func IsSecurityError(err error) bool {
	return errors.Is(err, ErrIssuerMismatch) || errors.Is(err, ErrStateMismatch)
}

func wrapErr(kind error, err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %w: %w", kind, ErrNetwork, err)
	}
	return fmt.Errorf("%w: %w", kind, err)
}
