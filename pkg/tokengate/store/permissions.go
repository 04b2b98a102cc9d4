package store

import (
	"context"
	"errors"

	"github.com/mikepea/tokengate/pkg/tokengate/models"
	"gorm.io/gorm"
)

// EnsurePermission returns the named catalog permission, creating it if needed.
func (s *Store) EnsurePermission(ctx context.Context, name string) (*models.Permission, error) {
	perm := models.Permission{Name: name}
	if err := s.db.WithContext(ctx).Where(models.Permission{Name: name}).FirstOrCreate(&perm).Error; err != nil {
		return nil, err
	}
	return &perm, nil
}

// ListPermissions returns the whole catalog ordered by name.
func (s *Store) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	var perms []models.Permission
	err := s.db.WithContext(ctx).Order("name").Find(&perms).Error
	return perms, err
}

// PermissionNames returns every catalog permission name.
func (s *Store) PermissionNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).Model(&models.Permission{}).Order("name").Pluck("name", &names).Error
	return names, err
}

// TokenPermissionNames returns the names granted directly to the token.
func (s *Store) TokenPermissionNames(ctx context.Context, token *models.Token) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Table("permissions").
		Joins("JOIN token_permissions ON token_permissions.permission_id = permissions.id").
		Where("token_permissions.token_id = ?", token.ID).
		Order("permissions.name").
		Pluck("permissions.name", &names).Error
	return names, err
}

// Owner loads the token's owner with the owner's permissions.
func (s *Store) Owner(ctx context.Context, token *models.Token) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Preload("Permissions").First(&user, token.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) lookupPermission(ctx context.Context, name string) (*models.Permission, error) {
	var perm models.Permission
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&perm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, wrapUnknownPermission(name)
	}
	if err != nil {
		return nil, err
	}
	return &perm, nil
}

// Grant attaches catalog permissions directly to the token. Any permission
// cache on the given instance is dropped.
func (s *Store) Grant(ctx context.Context, token *models.Token, names ...string) error {
	for _, name := range names {
		perm, err := s.lookupPermission(ctx, name)
		if err != nil {
			return err
		}
		if err := s.db.WithContext(ctx).Model(token).Association("Permissions").Append(perm); err != nil {
			return err
		}
	}
	token.ClearPermissionCache()
	return nil
}

// Ungrant removes permissions attached directly to the token.
func (s *Store) Ungrant(ctx context.Context, token *models.Token, names ...string) error {
	for _, name := range names {
		perm, err := s.lookupPermission(ctx, name)
		if err != nil {
			return err
		}
		if err := s.db.WithContext(ctx).Model(token).Association("Permissions").Delete(perm); err != nil {
			return err
		}
	}
	token.ClearPermissionCache()
	return nil
}

// GrantUser adds catalog permissions to a user's own permission set.
func (s *Store) GrantUser(ctx context.Context, user *models.User, names ...string) error {
	for _, name := range names {
		perm, err := s.lookupPermission(ctx, name)
		if err != nil {
			return err
		}
		if err := s.db.WithContext(ctx).Model(user).Association("Permissions").Append(perm); err != nil {
			return err
		}
	}
	return nil
}

// UngrantUser removes permissions from a user's own permission set.
func (s *Store) UngrantUser(ctx context.Context, user *models.User, names ...string) error {
	for _, name := range names {
		perm, err := s.lookupPermission(ctx, name)
		if err != nil {
			return err
		}
		if err := s.db.WithContext(ctx).Model(user).Association("Permissions").Delete(perm); err != nil {
			return err
		}
	}
	return nil
}
