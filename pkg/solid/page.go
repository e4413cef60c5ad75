package solid

import "context"

// Page is the location the user agent is currently showing.
type Page interface {
	// Navigate leaves the current page for url. Nothing after a
	// successful call is observable by the caller's flow.
	Navigate(ctx context.Context, url string) error
	// URL returns the current location including query and fragment.
	URL() string
	// ReplaceURL changes the visible location without navigating.
	ReplaceURL(url string)
}
