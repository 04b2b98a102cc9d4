// Package tokens generates token values and derives the digests stored in
// their place.
//
// Every token is hashed with HMAC-SHA256 under one process-wide secret and no
// per-token salt. A client-presented value can therefore be hashed once and
// found with an indexed equality lookup instead of scanning and comparing
// every row. The cost is that all tokens share one key: anyone holding the
// secret and the table can test guesses against every token at once. Adding
// per-token salts would break lookup by hash, so don't.
package tokens

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/mikepea/tokengate/pkg/tokengate/config"
)

// Hasher derives token digests from the configured secret.
type Hasher struct {
	Secrets config.SecretProvider
}

// NewHasher returns a Hasher reading the secret from p.
func NewHasher(p config.SecretProvider) *Hasher {
	return &Hasher{Secrets: p}
}

// Hash returns the lowercase hex HMAC-SHA256 of value. The secret is resolved
// on every call; a missing secret yields an error wrapping
// config.ErrConfiguration.
func (h *Hasher) Hash(value string) (string, error) {
	if h == nil || h.Secrets == nil {
		return "", fmt.Errorf("%w: no secret provider", config.ErrConfiguration)
	}

	secret, err := h.Secrets.Secret()
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Generate creates a new random token value and its digest. The plaintext is
// the canonical string form of a version 4 UUID.
func (h *Hasher) Generate() (plaintext, hashed string, err error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", "", fmt.Errorf("generate token value: %w", err)
	}

	plaintext = id.String()
	hashed, err = h.Hash(plaintext)
	if err != nil {
		return "", "", err
	}
	return plaintext, hashed, nil
}
