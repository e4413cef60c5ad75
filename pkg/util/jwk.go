package util

import (
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Jwks makes a jwk.Set usable as a JSON document or field.
// A nil set encodes as an empty key list.
type Jwks struct {
	Keys jwk.Set
}

func (j *Jwks) MarshalJSON() ([]byte, error) {
	if j.Keys == nil {
		return []byte(`{"keys":[]}`), nil
	}
	return json.Marshal(j.Keys)
}

func (j *Jwks) UnmarshalJSON(data []byte) error {
	keys, err := jwk.Parse(data)
	if err != nil {
		return fmt.Errorf("unable to parse JWKS: %w", err)
	}
	j.Keys = keys
	return nil
}
