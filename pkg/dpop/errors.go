package dpop

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type DPoPError struct {
	HttpStatus  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e DPoPError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WWWAuthenticate is the challenge sent together with this error.
func (e DPoPError) WWWAuthenticate() string {
	return fmt.Sprintf(`DPoP algs="ES256", error="%s", error_description="%s"`, e.Code, e.Description)
}

func (e DPoPError) WriteResponse(writer http.ResponseWriter) {
	writer.Header().Set("Content-Type", "application/json")
	writer.Header().Set("WWW-Authenticate", e.WWWAuthenticate())
	writer.WriteHeader(e.HttpStatus)
	json.NewEncoder(writer).Encode(e)
}

var (
	ErrMissingHeader = DPoPError{
		HttpStatus:  http.StatusBadRequest,
		Code:        "invalid_dpop_proof",
		Description: "Missing DPoP header",
	}

	ErrMethodMismatch = DPoPError{
		HttpStatus:  http.StatusBadRequest,
		Code:        "invalid_dpop_proof",
		Description: "htm does not match the request method",
	}

	ErrURIMismatch = DPoPError{
		HttpStatus:  http.StatusBadRequest,
		Code:        "invalid_dpop_proof",
		Description: "htu does not match the request URI",
	}

	ErrProofTooOld = DPoPError{
		HttpStatus:  http.StatusBadRequest,
		Code:        "invalid_dpop_proof",
		Description: "DPoP is too old",
	}

	ErrReplayedProof = DPoPError{
		HttpStatus:  http.StatusBadRequest,
		Code:        "invalid_dpop_proof",
		Description: "DPoP jti has already been used",
	}

	ErrInvalidDPoPKeyBinding = DPoPError{
		HttpStatus:  http.StatusUnauthorized,
		Code:        "invalid_token",
		Description: "Invalid DPoP key binding",
	}

	ErrMissingAuthorizationHeader = DPoPError{
		HttpStatus:  http.StatusUnauthorized,
		Code:        "invalid_request",
		Description: "Missing authorization header",
	}

	ErrInvalidAuthorizationHeader = DPoPError{
		HttpStatus:  http.StatusUnauthorized,
		Code:        "invalid_request",
		Description: "Invalid authorization header",
	}

	ErrMissingAccessTokenHash = DPoPError{
		HttpStatus:  http.StatusBadRequest,
		Code:        "invalid_dpop_proof",
		Description: "Missing access token hash",
	}

	ErrInvalidAccessTokenHash = DPoPError{
		HttpStatus:  http.StatusBadRequest,
		Code:        "invalid_dpop_proof",
		Description: "Invalid access token hash",
	}
)
