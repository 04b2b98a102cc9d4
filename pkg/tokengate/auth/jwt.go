package auth

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mikepea/tokengate/pkg/tokengate/config"
)

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrExpiredSession = errors.New("session has expired")

	// ErrSessionSecretMissing is returned when a session is signed before a
	// session secret is configured.
	ErrSessionSecretMissing = fmt.Errorf("%w: %s must be configured", config.ErrConfiguration, config.KeySessionSecret)
)

// SessionClaims represents the claims of a login session JWT. Sessions are
// used by people managing their tokens; programmatic clients use tokens.
type SessionClaims struct {
	UserID     uint   `json:"user_id"`
	Email      string `json:"email"`
	SystemRole string `json:"system_role"`
	jwt.RegisteredClaims
}

var (
	sessionSecretMu sync.RWMutex
	sessionSecret   []byte
)

// SetSessionSecret configures the key used to sign session JWTs.
func SetSessionSecret(secret string) {
	sessionSecretMu.Lock()
	defer sessionSecretMu.Unlock()
	sessionSecret = []byte(secret)
}

// getSessionSecret returns the configured secret or the one from the
// environment. It is nil when neither is set.
func getSessionSecret() []byte {
	sessionSecretMu.RLock()
	defer sessionSecretMu.RUnlock()
	if len(sessionSecret) > 0 {
		return sessionSecret
	}

	if secret := os.Getenv("TOKENGATE_SESSION_SECRET"); secret != "" {
		return []byte(secret)
	}
	return nil
}

// getSessionDuration returns the session validity duration
func getSessionDuration() time.Duration {
	return 24 * time.Hour
}

// GenerateSessionToken creates a new session JWT for a user
func GenerateSessionToken(userID uint, email string, systemRole string) (string, error) {
	secret := getSessionSecret()
	if secret == nil {
		return "", ErrSessionSecretMissing
	}

	claims := &SessionClaims{
		UserID:     userID,
		Email:      email,
		SystemRole: systemRole,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(getSessionDuration())),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "tokengate",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateSessionToken validates a session JWT and returns the claims
func ValidateSessionToken(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSession
		}
		secret := getSessionSecret()
		if secret == nil {
			return nil, ErrSessionSecretMissing
		}
		return secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredSession
		}
		return nil, ErrInvalidSession
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidSession
	}

	return claims, nil
}
