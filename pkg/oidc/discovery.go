package oidc

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gematik/solid-session/pkg/util"
)

const (
	WellKnownPath = "/.well-known/openid-configuration"

	maxDocumentSize = 1 << 20
)

// ProviderMetadata is the subset of the OpenID provider configuration
// a Solid-OIDC client relies on.
type ProviderMetadata struct {
	Issuer                                     string   `json:"issuer" validate:"required,url"`
	AuthorizationEndpoint                      string   `json:"authorization_endpoint" validate:"required,url"`
	TokenEndpoint                              string   `json:"token_endpoint" validate:"required,url"`
	RegistrationEndpoint                       string   `json:"registration_endpoint" validate:"required,url"`
	JwksURI                                    string   `json:"jwks_uri,omitempty" validate:"omitempty,url"`
	UserinfoEndpoint                           string   `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint                         string   `json:"end_session_endpoint,omitempty"`
	ScopesSupported                            []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported                     []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported                        []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported          []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	IdTokenSigningAlgValuesSupported           []string `json:"id_token_signing_alg_values_supported,omitempty"`
	DPoPSigningAlgValuesSupported              []string `json:"dpop_signing_alg_values_supported,omitempty"`
	CodeChallengeMethodsSupported              []string `json:"code_challenge_methods_supported,omitempty"`
	AuthorizationResponseIssParameterSupported bool     `json:"authorization_response_iss_parameter_supported,omitempty"`
}

// DiscoveryURL returns the location of the provider configuration of idp.
func DiscoveryURL(idp string) string {
	return strings.TrimSuffix(idp, "/") + WellKnownPath
}

// Discover fetches and validates the provider configuration of idp.
func Discover(ctx context.Context, httpClient *http.Client, idp string) (*ProviderMetadata, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, DiscoveryURL(idp), nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to get discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status fetching discovery document: %s", resp.Status)
	}

	doc, err := util.DecodeJSON[ProviderMetadata](resp.Body, maxDocumentSize)
	if err != nil {
		return nil, fmt.Errorf("unable to decode discovery document: %w", err)
	}

	return doc, nil
}
