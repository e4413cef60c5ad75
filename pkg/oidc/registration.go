package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gematik/solid-session/pkg/oauth2"
	"github.com/gematik/solid-session/pkg/util"
)

const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"

	AuthMethodClientSecretBasic = "client_secret_basic"
)

// RegistrationRequest is the RFC 7591 client metadata sent to the registration endpoint.
type RegistrationRequest struct {
	RedirectURIs             []string `json:"redirect_uris" validate:"required,min=1,dive,url"`
	ClientName               string   `json:"client_name,omitempty"`
	GrantTypes               []string `json:"grant_types"`
	ResponseTypes            []string `json:"response_types"`
	IDTokenSignedResponseAlg string   `json:"id_token_signed_response_alg"`
	TokenEndpointAuthMethod  string   `json:"token_endpoint_auth_method"`
	ApplicationType          string   `json:"application_type"`
	SubjectType              string   `json:"subject_type"`
	DPoPBoundAccessTokens    bool     `json:"dpop_bound_access_tokens,omitempty"`
}

// NewRegistrationRequest returns the metadata of a confidential web client using
// both code and refresh grants with ES256 signed ID tokens.
func NewRegistrationRequest(redirectURIs ...string) *RegistrationRequest {
	return &RegistrationRequest{
		RedirectURIs:             redirectURIs,
		GrantTypes:               []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
		ResponseTypes:            []string{"code"},
		IDTokenSignedResponseAlg: "ES256",
		TokenEndpointAuthMethod:  AuthMethodClientSecretBasic,
		ApplicationType:          "web",
		SubjectType:              "public",
		DPoPBoundAccessTokens:    true,
	}
}

// ClientRegistration is the provider's answer to a successful registration.
type ClientRegistration struct {
	ClientID                string   `json:"client_id" validate:"required"`
	ClientSecret            string   `json:"client_secret" validate:"required"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// Register posts the client metadata to endpoint and returns the issued credentials.
func Register(ctx context.Context, httpClient *http.Client, endpoint string, registration *RegistrationRequest) (*ClientRegistration, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	body, err := json.Marshal(registration)
	if err != nil {
		return nil, fmt.Errorf("unable to encode registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("unable to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to register client: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
		var oauthErr oauth2.Error
		if json.Unmarshal(errBody, &oauthErr) == nil && oauthErr.Code != "" {
			return nil, fmt.Errorf("registration rejected with status %d: %w", resp.StatusCode, &oauthErr)
		}
		return nil, fmt.Errorf("registration failed with status %s", resp.Status)
	}

	client, err := util.DecodeJSON[ClientRegistration](resp.Body, maxDocumentSize)
	if err != nil {
		return nil, fmt.Errorf("unable to decode registration response: %w", err)
	}

	return client, nil
}
