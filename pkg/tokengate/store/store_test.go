package store

import (
	"context"
	"testing"
	"time"

	"github.com/mikepea/tokengate/pkg/tokengate/config"
	"github.com/mikepea/tokengate/pkg/tokengate/models"
	"github.com/mikepea/tokengate/pkg/tokengate/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func setupTestStore(t *testing.T) (*Store, *gorm.DB) {
	db := setupTestDB(t)
	return New(db, tokens.NewHasher(config.StaticSecret("test-secret"))), db
}

func createTestUser(t *testing.T, db *gorm.DB, email string) *models.User {
	user := models.User{
		Email:      email,
		Name:       "Test User",
		SystemRole: models.SystemRoleUser,
		Active:     true,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return &user
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestCreateToken(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, db, "test@example.com")

	token, plaintext, err := s.CreateToken(ctx, user, "ci", "for the pipeline")
	require.NoError(t, err)

	assert.NotZero(t, token.ID)
	assert.Equal(t, user.ID, token.UserID)
	assert.Equal(t, "ci", token.Name)
	assert.Equal(t, "for the pipeline", token.Description)
	assert.Nil(t, token.RevokedAt)
	assert.Nil(t, token.LastUsedAt)
	assert.NotEmpty(t, plaintext)

	expected, err := s.Hasher().Hash(plaintext)
	require.NoError(t, err)
	assert.Equal(t, expected, token.HashedValue)

	// only the digest is persisted
	var stored models.Token
	require.NoError(t, db.First(&stored, token.ID).Error)
	assert.Equal(t, expected, stored.HashedValue)
	assert.NotContains(t, stored.HashedValue, plaintext)
}

func TestCreateTokenDuplicateName(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, db, "alice@example.com")
	bob := createTestUser(t, db, "bob@example.com")

	_, _, err := s.CreateToken(ctx, alice, "ci", "")
	require.NoError(t, err)

	_, _, err = s.CreateToken(ctx, alice, "ci", "")
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, _, err = s.CreateToken(ctx, bob, "ci", "")
	assert.NoError(t, err)
}

func TestCreateTokenWithoutSecret(t *testing.T) {
	db := setupTestDB(t)
	s := New(db, tokens.NewHasher(config.StaticSecret("")))
	user := createTestUser(t, db, "test@example.com")

	_, _, err := s.CreateToken(context.Background(), user, "ci", "")
	assert.ErrorIs(t, err, config.ErrConfiguration)

	var count int64
	db.Model(&models.Token{}).Count(&count)
	assert.Zero(t, count)
}

func TestCreateTokenWithoutCommit(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, db, "test@example.com")

	token, plaintext, err := s.CreateToken(ctx, user, "ci", "", WithoutCommit())
	require.NoError(t, err)
	assert.Zero(t, token.ID)

	found, err := s.FindValidByValue(ctx, plaintext)
	require.NoError(t, err)
	assert.Nil(t, found)

	require.NoError(t, s.Save(ctx, token))
	assert.NotZero(t, token.ID)

	found, err = s.FindValidByValue(ctx, plaintext)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, token.ID, found.ID)
}

func TestFindValidByValue(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, db, "test@example.com")

	token, plaintext, err := s.CreateToken(ctx, user, "ci", "")
	require.NoError(t, err)

	found, err := s.FindValidByValue(ctx, plaintext)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, token.ID, found.ID)
	assert.Equal(t, user.Email, found.User.Email)

	found, err = s.FindValidByValue(ctx, "not-a-token")
	require.NoError(t, err)
	assert.Nil(t, found)

	require.NoError(t, s.Revoke(ctx, token))

	found, err = s.FindValidByValue(ctx, plaintext)
	require.NoError(t, err)
	assert.Nil(t, found)

	revoked, err := s.IsRevokedValue(ctx, plaintext)
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = s.IsRevokedValue(ctx, "not-a-token")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestFindValidByValueDependsOnSecret(t *testing.T) {
	db := setupTestDB(t)
	v := config.New()
	v.Set(config.KeySecret, "one")
	s := New(db, tokens.NewHasher(config.ViperSecret{V: v}))
	ctx := context.Background()
	user := createTestUser(t, db, "test@example.com")

	_, plaintext, err := s.CreateToken(ctx, user, "ci", "")
	require.NoError(t, err)

	v.Set(config.KeySecret, "two")
	found, err := s.FindValidByValue(ctx, plaintext)
	require.NoError(t, err)
	assert.Nil(t, found)

	v.Set(config.KeySecret, "")
	_, err = s.FindValidByValue(ctx, plaintext)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestMarkUsed(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.SetClock(clock.Now)
	user := createTestUser(t, db, "test@example.com")

	token, _, err := s.CreateToken(ctx, user, "ci", "")
	require.NoError(t, err)

	clock.Advance(time.Hour)
	require.NoError(t, s.MarkUsed(ctx, token))
	require.NotNil(t, token.LastUsedAt)
	assert.True(t, clock.now.Equal(*token.LastUsedAt))

	var stored models.Token
	require.NoError(t, db.First(&stored, token.ID).Error)
	require.NotNil(t, stored.LastUsedAt)
	assert.True(t, clock.now.Equal(*stored.LastUsedAt))
}

func TestMarkUsedWithoutCommit(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, db, "test@example.com")

	token, _, err := s.CreateToken(ctx, user, "ci", "")
	require.NoError(t, err)

	require.NoError(t, s.MarkUsed(ctx, token, WithoutCommit()))
	assert.NotNil(t, token.LastUsedAt)

	var stored models.Token
	require.NoError(t, db.First(&stored, token.ID).Error)
	assert.Nil(t, stored.LastUsedAt)
}

func TestRevokeIsIdempotent(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.SetClock(clock.Now)
	user := createTestUser(t, db, "test@example.com")

	token, _, err := s.CreateToken(ctx, user, "ci", "")
	require.NoError(t, err)

	// a second in-memory copy that has not seen the revoke
	stale, err := s.Get(ctx, token.ID)
	require.NoError(t, err)

	require.NoError(t, s.Revoke(ctx, token))
	require.NotNil(t, token.RevokedAt)
	first := *token.RevokedAt

	clock.Advance(time.Hour)
	require.NoError(t, s.Revoke(ctx, token))
	assert.True(t, first.Equal(*token.RevokedAt))

	require.NoError(t, s.Revoke(ctx, stale))
	require.NotNil(t, stale.RevokedAt)
	assert.True(t, first.Equal(*stale.RevokedAt))

	var stored models.Token
	require.NoError(t, db.First(&stored, token.ID).Error)
	require.NotNil(t, stored.RevokedAt)
	assert.True(t, first.Equal(*stored.RevokedAt))
}

func TestRevokeWithoutCommit(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, db, "test@example.com")

	token, plaintext, err := s.CreateToken(ctx, user, "ci", "")
	require.NoError(t, err)

	require.NoError(t, s.Revoke(ctx, token, WithoutCommit()))
	assert.NotNil(t, token.RevokedAt)

	found, err := s.FindValidByValue(ctx, plaintext)
	require.NoError(t, err)
	assert.NotNil(t, found)

	require.NoError(t, s.Save(ctx, token))

	found, err = s.FindValidByValue(ctx, plaintext)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestListAndGetForUser(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, db, "alice@example.com")
	bob := createTestUser(t, db, "bob@example.com")

	a1, _, err := s.CreateToken(ctx, alice, "one", "")
	require.NoError(t, err)
	_, _, err = s.CreateToken(ctx, alice, "two", "")
	require.NoError(t, err)
	b1, _, err := s.CreateToken(ctx, bob, "one", "")
	require.NoError(t, err)

	list, err := s.ListForUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	got, err := s.GetForUser(ctx, alice.ID, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, "one", got.Name)

	_, err = s.GetForUser(ctx, alice.ID, b1.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Revoke(ctx, a1))

	all, err := s.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	valid, err := s.List(ctx, ListOptions{ValidOnly: true})
	require.NoError(t, err)
	assert.Len(t, valid, 2)

	bobs, err := s.List(ctx, ListOptions{UserID: bob.ID})
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	assert.Equal(t, "bob@example.com", bobs[0].User.Email)
}

func TestGrants(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, db, "test@example.com")

	token, _, err := s.CreateToken(ctx, user, "ci", "")
	require.NoError(t, err)

	err = s.Grant(ctx, token, "links.read")
	assert.ErrorIs(t, err, ErrUnknownPermission)

	_, err = s.EnsurePermission(ctx, "links.read")
	require.NoError(t, err)
	_, err = s.EnsurePermission(ctx, "links.write")
	require.NoError(t, err)
	_, err = s.EnsurePermission(ctx, "links.read")
	require.NoError(t, err)

	names, err := s.PermissionNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"links.read", "links.write"}, names)

	token.CachePermissions("token", map[string]struct{}{})
	require.NoError(t, s.Grant(ctx, token, "links.read"))
	_, cached := token.CachedPermissions("token")
	assert.False(t, cached, "granting drops the instance cache")

	granted, err := s.TokenPermissionNames(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, []string{"links.read"}, granted)

	require.NoError(t, s.Ungrant(ctx, token, "links.read"))
	granted, err = s.TokenPermissionNames(ctx, token)
	require.NoError(t, err)
	assert.Empty(t, granted)
}

func TestUserGrantsAndOwner(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, db, "test@example.com")

	token, _, err := s.CreateToken(ctx, user, "ci", "")
	require.NoError(t, err)

	_, err = s.EnsurePermission(ctx, "links.read")
	require.NoError(t, err)
	require.NoError(t, s.GrantUser(ctx, user, "links.read"))

	owner, err := s.Owner(ctx, token)
	require.NoError(t, err)
	assert.True(t, owner.HasPerm("links.read"))

	require.NoError(t, s.UngrantUser(ctx, user, "links.read"))
	owner, err = s.Owner(ctx, token)
	require.NoError(t, err)
	assert.False(t, owner.HasPerm("links.read"))
}
