package dpop

import (
	"fmt"
	"net/http"
	"time"
)

// signRequest attaches a fresh proof for the request's method and URL.
func signRequest(request *http.Request, keyPair *KeyPair, clock func() time.Time) error {
	token, err := NewBuilder().
		Clock(clock).
		HttpRequest(request).
		Build()
	if err != nil {
		return fmt.Errorf("build DPoP token: %w", err)
	}

	signed, err := token.Sign(keyPair)
	if err != nil {
		return err
	}

	request.Header.Set(DPoPHeaderName, signed)

	return nil
}

// Transport signs every outgoing request with KeyPair before handing it to Base.
type Transport struct {
	Base    http.RoundTripper
	KeyPair *KeyPair
	// Clock sets the iat of the proofs, time.Now if nil.
	Clock func() time.Time
}

func (t *Transport) RoundTrip(request *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request
	signed := request.Clone(request.Context())
	if err := signRequest(signed, t.KeyPair, t.Clock); err != nil {
		if request.Body != nil {
			request.Body.Close()
		}
		return nil, err
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(signed)
}

// NewClient returns an http.Client that binds every request to keyPair.
func NewClient(base *http.Client, keyPair *KeyPair) *http.Client {
	client := &http.Client{}
	if base != nil {
		*client = *base
	}
	client.Transport = &Transport{Base: client.Transport, KeyPair: keyPair}
	return client
}
