package solid

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gematik/solid-session/pkg/dpop"
)

// Request describes one call made through AuthFetch. Method defaults to GET.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   io.Reader
}

type fetchOptions struct {
	proofMethod     string
	proofURI        string
	accessTokenHash bool
}

type FetchOption func(*fetchOptions)

// WithProofTarget binds the proof to method and uri instead of the request's own.
func WithProofTarget(method, uri string) FetchOption {
	return func(o *fetchOptions) {
		o.proofMethod = method
		o.proofURI = uri
	}
}

// WithAccessTokenHash adds the ath claim to the proof.
func WithAccessTokenHash() FetchOption {
	return func(o *fetchOptions) {
		o.accessTokenHash = true
	}
}

// AuthFetch sends the request, bound to the current token set when the
// session is active. Inactive sessions send the request unchanged.
// Non-2xx responses are returned, not turned into errors.
func (s *Session) AuthFetch(ctx context.Context, request *Request, opts ...FetchOption) (*http.Response, error) {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, request.URL, request.Body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for name, values := range request.Header {
		req.Header[name] = append([]string(nil), values...)
	}

	if err := s.authorize(req, opts...); err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	return resp, nil
}

// authorize sets DPoP and Authorization headers if the session is active.
func (s *Session) authorize(req *http.Request, opts ...FetchOption) error {
	snap := s.active()
	if snap == nil {
		return nil
	}

	options := &fetchOptions{
		proofMethod: req.Method,
		proofURI:    req.URL.String(),
	}
	for _, opt := range opts {
		opt(options)
	}

	builder := dpop.NewBuilder().
		Clock(s.now).
		HttpMethod(options.proofMethod).
		HttpURI(options.proofURI)
	if options.accessTokenHash {
		builder.AccessTokenHash(dpop.AccessTokenHash(snap.tokens.AccessToken))
	}

	proof, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build DPoP proof: %w", err)
	}
	signed, err := proof.Sign(snap.tokens.KeyPair)
	if err != nil {
		return fmt.Errorf("sign DPoP proof: %w", err)
	}

	req.Header.Set(dpop.DPoPHeaderName, signed)
	req.Header.Set("Authorization", dpop.AuthorizationScheme+" "+snap.tokens.AccessToken)
	return nil
}

// HTTPClient returns a client whose requests all go through the session,
// for libraries that only accept an *http.Client.
func (s *Session) HTTPClient() *http.Client {
	client := *s.httpClient
	client.Transport = &sessionTransport{session: s, base: s.httpClient.Transport}
	return &client
}

type sessionTransport struct {
	session *Session
	base    http.RoundTripper
}

func (t *sessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	authorized := req.Clone(req.Context())
	if err := t.session.authorize(authorized); err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(authorized)
}
