package dpop_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/gematik/solid-session/pkg/dpop"
)

func newProofRequest(t *testing.T, keyPair *dpop.KeyPair, method, target string, build func(*dpop.Builder)) *http.Request {
	t.Helper()
	builder := dpop.NewBuilder().HttpMethod(method).HttpURI(target)
	if build != nil {
		build(builder)
	}
	token, err := builder.Build()
	if err != nil {
		t.Fatal(err)
	}
	signed, err := token.Sign(keyPair)
	if err != nil {
		t.Fatal(err)
	}
	request, _ := http.NewRequest(method, target, nil)
	request.Header.Set(dpop.DPoPHeaderName, signed)
	return request
}

func TestVerifyRequest(t *testing.T) {
	keyPair, _ := dpop.NewKeyPair()
	m, _ := dpop.NewMiddleware()

	request := newProofRequest(t, keyPair, "POST", "https://idp.example/token", nil)
	proof, err := m.VerifyRequest(request, "https://idp.example/token", "")
	if err != nil {
		t.Fatal(err)
	}
	if proof.KeyThumbprint != keyPair.Thumbprint {
		t.Error("unexpected thumbprint")
	}

	// the same proof must not be accepted twice
	if _, err := m.VerifyRequest(request, "https://idp.example/token", ""); err == nil || err.Description != dpop.ErrReplayedProof.Description {
		t.Errorf("expected replay error, got %v", err)
	}
}

func TestVerifyRequestMismatches(t *testing.T) {
	keyPair, _ := dpop.NewKeyPair()
	m, _ := dpop.NewMiddleware()

	request, _ := http.NewRequest("GET", "https://srv/x", nil)
	if _, err := m.VerifyRequest(request, "https://srv/x", ""); err == nil || err.Description != dpop.ErrMissingHeader.Description {
		t.Errorf("expected missing header error, got %v", err)
	}

	request = newProofRequest(t, keyPair, "GET", "https://srv/x", nil)
	request.Method = "POST"
	if _, err := m.VerifyRequest(request, "https://srv/x", ""); err == nil || err.Description != dpop.ErrMethodMismatch.Description {
		t.Errorf("expected method mismatch, got %v", err)
	}

	request = newProofRequest(t, keyPair, "GET", "https://srv/x", nil)
	if _, err := m.VerifyRequest(request, "https://srv/y", ""); err == nil || err.Description != dpop.ErrURIMismatch.Description {
		t.Errorf("expected uri mismatch, got %v", err)
	}

	request = newProofRequest(t, keyPair, "GET", "https://srv/x", nil)
	if _, err := m.VerifyRequest(request, "https://srv/x", "access-token"); err == nil || err.Description != dpop.ErrMissingAccessTokenHash.Description {
		t.Errorf("expected missing ath, got %v", err)
	}

	request = newProofRequest(t, keyPair, "GET", "https://srv/x", func(b *dpop.Builder) {
		b.AccessTokenHash(dpop.AccessTokenHash("other-token"))
	})
	if _, err := m.VerifyRequest(request, "https://srv/x", "access-token"); err == nil || err.Description != dpop.ErrInvalidAccessTokenHash.Description {
		t.Errorf("expected invalid ath, got %v", err)
	}
}

func TestVerifyRequestMaxAge(t *testing.T) {
	keyPair, _ := dpop.NewKeyPair()
	m, _ := dpop.NewMiddleware(
		dpop.WithMaxAge(time.Minute),
		dpop.WithMiddlewareClock(func() time.Time { return time.Now().Add(2 * time.Minute) }),
	)

	request := newProofRequest(t, keyPair, "GET", "https://srv/x", nil)
	if _, err := m.VerifyRequest(request, "https://srv/x?query=ignored", ""); err == nil || err.Description != dpop.ErrProofTooOld.Description {
		t.Errorf("expected proof too old, got %v", err)
	}
}
