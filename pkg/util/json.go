package util

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// AnyToStruct converts obj (raw JSON bytes or any JSON-marshalable value)
// into T and validates the result.
func AnyToStruct[T any](obj interface{}) (*T, error) {
	var err error
	var asJson []byte
	asJson, ok := obj.([]byte)
	if !ok {
		asJson, err = json.Marshal(obj)
		if err != nil {
			return nil, err
		}
	}
	var result T
	err = json.Unmarshal(asJson, &result)
	if err != nil {
		return nil, err
	}
	err = validate.Struct(result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// DecodeJSON reads at most limit bytes from r and decodes them into a validated T.
func DecodeJSON[T any](r io.Reader, limit int64) (*T, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return AnyToStruct[T](body)
}
