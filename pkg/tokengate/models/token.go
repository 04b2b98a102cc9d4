package models

import (
	"time"
)

// HashedValueLength is the length of a hex encoded HMAC-SHA256 digest
const HashedValueLength = 64

// Token represents a personal access token (or API key) for programmatic access.
// Only the HMAC of the plaintext value is stored.
type Token struct {
	ID          uint       `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	UserID      uint       `gorm:"not null;uniqueIndex:idx_tokens_user_name" json:"user_id"`
	Name        string     `gorm:"size:255;not null;uniqueIndex:idx_tokens_user_name" json:"name"`
	Description string     `gorm:"not null;default:''" json:"description"`
	HashedValue string     `gorm:"size:64;not null;uniqueIndex" json:"-"`
	RevokedAt   *time.Time `gorm:"index" json:"revoked_at"`
	LastUsedAt  *time.Time `json:"last_used_at"`

	// Relationships
	User        User         `gorm:"foreignKey:UserID" json:"-"`
	Permissions []Permission `gorm:"many2many:token_permissions" json:"permissions,omitempty"`

	// permCache holds effective permission sets keyed by backend. It lives only
	// as long as this in-memory instance and is never persisted.
	permCache map[string]map[string]struct{}
}

// IsValid reports whether the token may be used to authenticate.
func (t *Token) IsValid() bool {
	return t.RevokedAt == nil
}

// CachedPermissions returns the permission set cached under key, if any.
func (t *Token) CachedPermissions(key string) (map[string]struct{}, bool) {
	perms, ok := t.permCache[key]
	return perms, ok
}

// CachePermissions stores the effective permission set for key on this instance.
func (t *Token) CachePermissions(key string, perms map[string]struct{}) {
	if t.permCache == nil {
		t.permCache = make(map[string]map[string]struct{})
	}
	t.permCache[key] = perms
}

// ClearPermissionCache forgets every cached permission set.
func (t *Token) ClearPermissionCache() {
	t.permCache = nil
}

func (t *Token) String() string {
	return t.Name
}
