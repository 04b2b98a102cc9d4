// Package permissions decides what an authenticated token may do.
//
// A Backend answers whether a token holds any of a set of permission names.
// Backends are built from named factories by a Registry, and Policy wraps a
// single check so it can be declared once and reused across routes. Names are
// matched exactly; there are no wildcards or hierarchies.
package permissions

import (
	"context"
	"errors"

	"github.com/mikepea/tokengate/pkg/tokengate/models"
	"github.com/mikepea/tokengate/pkg/tokengate/store"
)

// Factory names of the built-in backends.
const (
	FactoryUser  = "user"
	FactoryToken = "token"
)

// Backend checks permissions for a token.
type Backend interface {
	HasAnyPermission(ctx context.Context, token *models.Token, names ...string) (bool, error)
}

// Factory creates a backend instance.
type Factory func() (Backend, error)

// HasPermission checks a single permission name.
func HasPermission(ctx context.Context, b Backend, token *models.Token, name string) (bool, error) {
	return b.HasAnyPermission(ctx, token, name)
}

// Store is what the built-in backends read from.
type Store interface {
	Owner(ctx context.Context, token *models.Token) (*models.User, error)
	TokenPermissionNames(ctx context.Context, token *models.Token) ([]string, error)
}

// DefaultFactories returns the built-in backends bound to s.
func DefaultFactories(s Store) map[string]Factory {
	return map[string]Factory{
		FactoryUser: func() (Backend, error) {
			return NewUserBackend(s), nil
		},
		FactoryToken: func() (Backend, error) {
			return NewTokenBackend(s), nil
		},
	}
}

// UserBackend delegates to the permissions of the token's owner. The owner's
// effective set is read once per token instance and cached on it.
type UserBackend struct {
	store Store
}

func NewUserBackend(s Store) *UserBackend {
	return &UserBackend{store: s}
}

func (b *UserBackend) HasAnyPermission(ctx context.Context, token *models.Token, names ...string) (bool, error) {
	perms, err := b.permissions(ctx, token)
	if err != nil {
		return false, err
	}
	if _, ok := perms[allPermissions]; ok {
		return true, nil
	}

	for _, name := range names {
		if _, ok := perms[name]; ok {
			return true, nil
		}
	}
	return false, nil
}

// permissions returns the owner's effective permission set. An active
// superuser is recorded as allPermissions; a missing or inactive owner holds
// nothing.
func (b *UserBackend) permissions(ctx context.Context, token *models.Token) (map[string]struct{}, error) {
	if perms, ok := token.CachedPermissions(userCacheKey); ok {
		return perms, nil
	}

	owner, err := b.store.Owner(ctx, token)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	perms := map[string]struct{}{}
	switch {
	case owner == nil || !owner.Active:
	case owner.IsSuperuser():
		perms[allPermissions] = struct{}{}
	default:
		for _, p := range owner.Permissions {
			perms[p.Name] = struct{}{}
		}
	}

	token.CachePermissions(userCacheKey, perms)
	return perms, nil
}

const (
	userCacheKey = "user"

	// allPermissions marks an active superuser in a cached set.
	allPermissions = "*"
)

const tokenCacheKey = "token"

// TokenBackend checks grants attached directly to the token. The grant set is
// read once per token instance and cached on it; a fresh copy of the same row
// reads it again. Tokens of active superusers hold every permission.
type TokenBackend struct {
	store Store
}

func NewTokenBackend(s Store) *TokenBackend {
	return &TokenBackend{store: s}
}

func (b *TokenBackend) HasAnyPermission(ctx context.Context, token *models.Token, names ...string) (bool, error) {
	owner, err := b.owner(ctx, token)
	if err != nil {
		return false, err
	}
	if owner == nil {
		return false, nil
	}
	if owner.Active && owner.IsSuperuser() {
		return true, nil
	}

	grants, err := b.grants(ctx, token)
	if err != nil {
		return false, err
	}
	for _, name := range names {
		if _, ok := grants[name]; ok {
			return true, nil
		}
	}
	return false, nil
}

// owner returns the token's owner, loading it onto the token when the caller
// did not preload it.
func (b *TokenBackend) owner(ctx context.Context, token *models.Token) (*models.User, error) {
	if token.User.ID != 0 {
		return &token.User, nil
	}

	owner, err := b.store.Owner(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	token.User = *owner
	return &token.User, nil
}

func (b *TokenBackend) grants(ctx context.Context, token *models.Token) (map[string]struct{}, error) {
	if grants, ok := token.CachedPermissions(tokenCacheKey); ok {
		return grants, nil
	}

	names, err := b.store.TokenPermissionNames(ctx, token)
	if err != nil {
		return nil, err
	}

	grants := make(map[string]struct{}, len(names))
	for _, name := range names {
		grants[name] = struct{}{}
	}
	token.CachePermissions(tokenCacheKey, grants)
	return grants, nil
}
