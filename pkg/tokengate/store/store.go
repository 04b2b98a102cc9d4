// Package store persists tokens. Plaintext values never reach the database:
// every lookup and insert goes through the token hasher.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikepea/tokengate/pkg/tokengate/models"
	"github.com/mikepea/tokengate/pkg/tokengate/tokens"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDuplicateName     = errors.New("a token with this name already exists")
	ErrNotFound          = errors.New("token not found")
	ErrUnknownPermission = errors.New("permission does not exist")
)

// WriteOption adjusts how a write operation persists its change.
type WriteOption func(*writeOptions)

type writeOptions struct {
	commit bool
}

// WithoutCommit applies the change to the in-memory token only. The caller is
// responsible for persisting it later with Save.
func WithoutCommit() WriteOption {
	return func(o *writeOptions) {
		o.commit = false
	}
}

func applyOptions(opts []WriteOption) writeOptions {
	o := writeOptions{commit: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Store is the token store.
type Store struct {
	db     *gorm.DB
	hasher *tokens.Hasher
	now    func() time.Time
}

// New creates a token store backed by db.
func New(db *gorm.DB, hasher *tokens.Hasher) *Store {
	return &Store{db: db, hasher: hasher, now: time.Now}
}

// SetClock overrides the time source used for created, used and revoked stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Hasher returns the hasher used for lookups.
func (s *Store) Hasher() *tokens.Hasher {
	return s.hasher
}

// CreateToken generates a new token for owner and returns it together with its
// plaintext value. The plaintext is not stored anywhere and cannot be
// recovered later.
func (s *Store) CreateToken(ctx context.Context, owner *models.User, name, description string, opts ...WriteOption) (*models.Token, string, error) {
	o := applyOptions(opts)
	db := s.db.WithContext(ctx)

	var count int64
	if err := db.Model(&models.Token{}).Where("user_id = ? AND name = ?", owner.ID, name).Count(&count).Error; err != nil {
		return nil, "", err
	}
	if count > 0 {
		return nil, "", ErrDuplicateName
	}

	plaintext, hashed, err := s.hasher.Generate()
	if err != nil {
		return nil, "", err
	}

	token := &models.Token{
		UserID:      owner.ID,
		Name:        name,
		Description: description,
		HashedValue: hashed,
		CreatedAt:   s.now(),
	}

	if o.commit {
		if err := db.Omit(clause.Associations).Create(token).Error; err != nil {
			return nil, "", translate(err)
		}
	}

	token.User = *owner
	return token, plaintext, nil
}

// Save persists a token built or modified with WithoutCommit.
func (s *Store) Save(ctx context.Context, token *models.Token) error {
	return translate(s.db.WithContext(ctx).Omit(clause.Associations).Save(token).Error)
}

// FindValidByValue returns the unrevoked token whose digest matches value, with
// its owner loaded, or nil when there is none. The revocation filter is part
// of the same query as the digest match. Should more than one row match, the
// lowest id wins.
func (s *Store) FindValidByValue(ctx context.Context, value string) (*models.Token, error) {
	hashed, err := s.hasher.Hash(value)
	if err != nil {
		return nil, err
	}

	var token models.Token
	err = s.db.WithContext(ctx).
		Preload("User").
		Where("hashed_value = ? AND revoked_at IS NULL", hashed).
		First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// IsRevokedValue reports whether value matches a revoked token. It is only used
// to tell a revoked token apart from an unknown one in logs.
func (s *Store) IsRevokedValue(ctx context.Context, value string) (bool, error) {
	hashed, err := s.hasher.Hash(value)
	if err != nil {
		return false, err
	}

	var count int64
	err = s.db.WithContext(ctx).Model(&models.Token{}).
		Where("hashed_value = ? AND revoked_at IS NOT NULL", hashed).
		Count(&count).Error
	return count > 0, err
}

// MarkUsed stamps the token's last use with the current time.
func (s *Store) MarkUsed(ctx context.Context, token *models.Token, opts ...WriteOption) error {
	now := s.now()
	token.LastUsedAt = &now

	if !applyOptions(opts).commit {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Token{}).
		Where("id = ?", token.ID).
		Update("last_used_at", now).Error
}

// Revoke marks the token revoked. Revoking an already revoked token is a no-op
// and leaves the original timestamp untouched.
func (s *Store) Revoke(ctx context.Context, token *models.Token, opts ...WriteOption) error {
	if token.RevokedAt != nil {
		return nil
	}

	now := s.now()
	if !applyOptions(opts).commit {
		token.RevokedAt = &now
		return nil
	}

	db := s.db.WithContext(ctx)
	result := db.Model(&models.Token{}).
		Where("id = ? AND revoked_at IS NULL", token.ID).
		Update("revoked_at", now)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		// someone else got there first, or the row is gone
		var current models.Token
		if err := db.Select("id", "revoked_at").First(&current, token.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		token.RevokedAt = current.RevokedAt
		return nil
	}

	token.RevokedAt = &now
	return nil
}

// Get returns a token by id with its owner loaded.
func (s *Store) Get(ctx context.Context, id uint) (*models.Token, error) {
	var token models.Token
	if err := s.db.WithContext(ctx).Preload("User").First(&token, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &token, nil
}

// GetForUser returns one of the user's tokens by id.
func (s *Store) GetForUser(ctx context.Context, userID, id uint) (*models.Token, error) {
	var token models.Token
	err := s.db.WithContext(ctx).Preload("User").
		Where("id = ? AND user_id = ?", id, userID).
		First(&token).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &token, nil
}

// ListForUser returns the user's tokens, newest first, revoked ones included.
func (s *Store) ListForUser(ctx context.Context, userID uint) ([]models.Token, error) {
	var list []models.Token
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&list).Error
	return list, err
}

// ListOptions filters List.
type ListOptions struct {
	UserID    uint
	ValidOnly bool
}

// List returns tokens across all users, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]models.Token, error) {
	query := s.db.WithContext(ctx).Preload("User").Order("created_at DESC, id DESC")
	if opts.UserID != 0 {
		query = query.Where("user_id = ?", opts.UserID)
	}
	if opts.ValidOnly {
		query = query.Where("revoked_at IS NULL")
	}

	var list []models.Token
	err := query.Find(&list).Error
	return list, err
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateName
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// wrapUnknownPermission names the missing permission in the error.
func wrapUnknownPermission(name string) error {
	return fmt.Errorf("%w: %q", ErrUnknownPermission, name)
}
