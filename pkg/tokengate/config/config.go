// Package config loads tokengate settings from the environment and an optional
// config file, and resolves the process-wide token secret.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ErrConfiguration marks a configuration bug, such as a missing secret or an
// unknown permission backend. It is never a user error and is not retryable.
var ErrConfiguration = errors.New("configuration error")

// EnvPrefix is prepended to every environment variable, e.g. TOKENGATE_SECRET.
const EnvPrefix = "TOKENGATE"

const (
	KeySecret             = "secret"
	KeyHeader             = "header"
	KeyHeaderPrefix       = "header_prefix"
	KeySharedHeader       = "shared_header"
	KeySessionSecret      = "session_secret"
	KeyDatabaseDriver     = "database.driver"
	KeyDatabaseDSN        = "database.dsn"
	KeyPermissionsDefault = "permissions.default"
	KeyPermissionBackends = "permissions.backends"
	KeyListen             = "listen"
	KeyVerbosity          = "verbosity"
)

const (
	DefaultHeader       = "Authorization"
	DefaultHeaderPrefix = "Access-Token"
	DefaultBackend      = "default"
)

// Settings is the typed view of everything except the token secret, which is
// read through a SecretProvider on every use.
type Settings struct {
	Header        string             `mapstructure:"header"`
	HeaderPrefix  string             `mapstructure:"header_prefix"`
	SharedHeader  bool               `mapstructure:"shared_header"`
	SessionSecret string             `mapstructure:"session_secret"`
	Listen        string             `mapstructure:"listen"`
	Verbosity     int                `mapstructure:"verbosity"`
	Database      DatabaseSettings   `mapstructure:"database"`
	Permissions   PermissionSettings `mapstructure:"permissions"`
}

// DatabaseSettings selects the gorm driver and its connection string.
type DatabaseSettings struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// PermissionSettings maps backend names to factory names, plus the name used
// when a caller does not pick one.
type PermissionSettings struct {
	Default  string                     `mapstructure:"default"`
	Backends map[string]BackendSettings `mapstructure:"backends"`
}

// BackendSettings names the registered factory that builds a backend.
type BackendSettings struct {
	Backend string `mapstructure:"backend"`
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeyHeader, DefaultHeader)
	v.SetDefault(KeyHeaderPrefix, DefaultHeaderPrefix)
	v.SetDefault(KeySharedHeader, false)
	v.SetDefault(KeySessionSecret, "")
	v.SetDefault(KeyListen, ":8080")
	v.SetDefault(KeyVerbosity, 0)
	v.SetDefault(KeyDatabaseDriver, "sqlite")
	v.SetDefault(KeyDatabaseDSN, "tokengate.db")
	v.SetDefault(KeyPermissionsDefault, DefaultBackend)
	v.SetDefault(KeyPermissionBackends, map[string]interface{}{
		DefaultBackend: map[string]interface{}{"backend": "token"},
		"user":         map[string]interface{}{"backend": "user"},
	})

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// ReadFile merges a config file into v. An empty path searches for
// tokengate.yaml in the working directory and $HOME/.tokengate; a missing
// file is not an error in that case.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		return v.ReadInConfig()
	}

	v.SetConfigName("tokengate")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.tokengate")

	var notFound viper.ConfigFileNotFoundError
	if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		return err
	}
	return nil
}

// Load decodes v into Settings and validates the parts that can be checked
// up front.
func Load(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}

	s.HeaderPrefix = strings.TrimSpace(s.HeaderPrefix)
	if s.Header == "" {
		return nil, fmt.Errorf("%w: %s must not be empty", ErrConfiguration, KeyHeader)
	}
	if s.HeaderPrefix == "" {
		return nil, fmt.Errorf("%w: %s must not be empty", ErrConfiguration, KeyHeaderPrefix)
	}

	for name, b := range s.Permissions.Backends {
		if b.Backend == "" {
			return nil, fmt.Errorf("%w: permission backend %q has no backend set", ErrConfiguration, name)
		}
	}

	return &s, nil
}

// BackendFactories flattens the permission settings into name -> factory name.
func (p PermissionSettings) BackendFactories() map[string]string {
	out := make(map[string]string, len(p.Backends))
	for name, b := range p.Backends {
		out[name] = b.Backend
	}
	return out
}

// RequireSessionSecret fails when no key for signing login sessions is set.
func (s *Settings) RequireSessionSecret() error {
	if s.SessionSecret == "" {
		return fmt.Errorf("%w: %s must be configured", ErrConfiguration, KeySessionSecret)
	}
	return nil
}
