package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// SecretProvider resolves the HMAC key used to hash token values.
type SecretProvider interface {
	Secret() ([]byte, error)
}

var errSecretMissing = fmt.Errorf("%w: %s must be configured", ErrConfiguration, KeySecret)

// ViperSecret reads the secret from viper on every call so that a changed
// setting takes effect immediately.
type ViperSecret struct {
	V *viper.Viper
}

func (s ViperSecret) Secret() ([]byte, error) {
	if s.V == nil {
		return nil, errSecretMissing
	}
	secret := s.V.GetString(KeySecret)
	if secret == "" {
		return nil, errSecretMissing
	}
	return []byte(secret), nil
}

// StaticSecret is a fixed secret, mostly useful in tests.
type StaticSecret []byte

func (s StaticSecret) Secret() ([]byte, error) {
	if len(s) == 0 {
		return nil, errSecretMissing
	}
	return []byte(s), nil
}
