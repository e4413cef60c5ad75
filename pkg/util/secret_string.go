package util

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

func NewSecretString(value string) SecretString {
	return SecretString{value}
}

// SecretString holds a secret that is masked when printed or logged.
type SecretString struct {
	value string
}

func (s SecretString) String() string {
	return "*****"
}

func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

func (s SecretString) Value() string {
	return s.value
}

func (s SecretString) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.value)
}

func (s *SecretString) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &s.value); err != nil {
		return fmt.Errorf("unable to unmarshal secret: %w", err)
	}
	return nil
}

func (s *SecretString) UnmarshalYAML(unmarshal func(any) error) error {
	if err := unmarshal(&s.value); err != nil {
		return fmt.Errorf("unable to unmarshal secret: %w", err)
	}
	return nil
}
