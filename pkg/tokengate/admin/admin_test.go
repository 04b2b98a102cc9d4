package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/tokengate/pkg/tokengate/auth"
	"github.com/mikepea/tokengate/pkg/tokengate/config"
	"github.com/mikepea/tokengate/pkg/tokengate/models"
	"github.com/mikepea/tokengate/pkg/tokengate/store"
	"github.com/mikepea/tokengate/pkg/tokengate/tokens"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	return db
}

func setupTestHandler(t *testing.T) (*Handler, *store.Store, *gorm.DB) {
	db := setupTestDB(t)
	s := store.New(db, tokens.NewHasher(config.StaticSecret("test-secret")))
	return NewHandler(db, s), s, db
}

// setupTestRouter registers every admin route behind a fake admin session.
func setupTestRouter(h *Handler, adminID uint) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	rg := r.Group("/admin", func(c *gin.Context) {
		c.Set(auth.ContextKeyUserID, adminID)
		c.Set(auth.ContextKeySystemRole, "admin")
		c.Next()
	})
	h.RegisterRoutes(rg)
	return r
}

func createTestUser(t *testing.T, db *gorm.DB, email, name string, role models.SystemRole) *models.User {
	hashedPassword, _ := auth.HashPassword("password123")
	user := &models.User{
		Email:        email,
		Name:         name,
		PasswordHash: hashedPassword,
		Active:       true,
		SystemRole:   role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

func serve(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListUsers(t *testing.T) {
	h, _, db := setupTestHandler(t)

	admin := createTestUser(t, db, "admin@test.com", "Admin User", models.SystemRoleAdmin)
	createTestUser(t, db, "john@test.com", "John Doe", models.SystemRoleUser)
	jane := createTestUser(t, db, "jane@test.com", "Jane Doe", models.SystemRoleUser)
	db.Model(jane).Update("active", false)

	r := setupTestRouter(h, admin.ID)

	w := serve(r, "GET", "/admin/users", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var users []UserResponse
	if err := json.Unmarshal(w.Body.Bytes(), &users); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if len(users) != 3 {
		t.Errorf("Expected 3 users, got %d", len(users))
	}

	w = serve(r, "GET", "/admin/users?q=john", nil)
	json.Unmarshal(w.Body.Bytes(), &users)
	if len(users) != 1 {
		t.Errorf("Expected 1 user matching search, got %d", len(users))
	}

	w = serve(r, "GET", "/admin/users?active=false", nil)
	json.Unmarshal(w.Body.Bytes(), &users)
	if len(users) != 1 || users[0].Email != "jane@test.com" {
		t.Errorf("Expected only the inactive user, got %+v", users)
	}
}

func TestGetUser(t *testing.T) {
	h, s, db := setupTestHandler(t)
	ctx := context.Background()

	admin := createTestUser(t, db, "admin@test.com", "Admin", models.SystemRoleAdmin)
	user := createTestUser(t, db, "user@test.com", "Test User", models.SystemRoleUser)

	s.CreateToken(ctx, user, "one", "")
	two, _, _ := s.CreateToken(ctx, user, "two", "")
	s.Revoke(ctx, two)

	r := setupTestRouter(h, admin.ID)

	w := serve(r, "GET", fmt.Sprintf("/admin/users/%d", user.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp UserResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Email != user.Email {
		t.Errorf("Expected email %s, got %s", user.Email, resp.Email)
	}
	if resp.TokenCount != 2 {
		t.Errorf("Expected 2 tokens, got %d", resp.TokenCount)
	}
	if resp.ActiveTokens != 1 {
		t.Errorf("Expected 1 active token, got %d", resp.ActiveTokens)
	}

	w = serve(r, "GET", "/admin/users/999", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestUpdateUser(t *testing.T) {
	h, _, db := setupTestHandler(t)

	admin := createTestUser(t, db, "admin@test.com", "Admin", models.SystemRoleAdmin)
	user := createTestUser(t, db, "user@test.com", "Test User", models.SystemRoleUser)

	r := setupTestRouter(h, admin.ID)

	newName := "Updated Name"
	newRole := "admin"
	w := serve(r, "PUT", fmt.Sprintf("/admin/users/%d", user.ID), UpdateUserRequest{
		Name:       &newName,
		SystemRole: &newRole,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp UserResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Name != newName {
		t.Errorf("Expected name %s, got %s", newName, resp.Name)
	}
	if resp.SystemRole != newRole {
		t.Errorf("Expected role %s, got %s", newRole, resp.SystemRole)
	}

	badRole := "root"
	w = serve(r, "PUT", fmt.Sprintf("/admin/users/%d", user.ID), UpdateUserRequest{SystemRole: &badRole})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for an invalid role, got %d", w.Code)
	}
}

func TestDeactivateUserStopsTokens(t *testing.T) {
	h, s, db := setupTestHandler(t)
	ctx := context.Background()

	admin := createTestUser(t, db, "admin@test.com", "Admin", models.SystemRoleAdmin)
	user := createTestUser(t, db, "user@test.com", "Test User", models.SystemRoleUser)
	_, plaintext, _ := s.CreateToken(ctx, user, "ci", "")

	r := setupTestRouter(h, admin.ID)

	inactive := false
	w := serve(r, "PUT", fmt.Sprintf("/admin/users/%d", user.ID), UpdateUserRequest{Active: &inactive})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	token, err := s.FindValidByValue(ctx, plaintext)
	if err != nil || token == nil {
		t.Fatalf("Deactivation should not revoke the token, got %v", err)
	}
	if token.User.Active {
		t.Error("Expected owner to be inactive")
	}
}

func TestUpdateUserCannotDemoteOrDeactivateSelf(t *testing.T) {
	h, _, db := setupTestHandler(t)

	admin := createTestUser(t, db, "admin@test.com", "Admin", models.SystemRoleAdmin)
	r := setupTestRouter(h, admin.ID)

	newRole := "user"
	w := serve(r, "PUT", fmt.Sprintf("/admin/users/%d", admin.ID), UpdateUserRequest{SystemRole: &newRole})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}

	inactive := false
	w = serve(r, "PUT", fmt.Sprintf("/admin/users/%d", admin.ID), UpdateUserRequest{Active: &inactive})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestDeleteUser(t *testing.T) {
	h, s, db := setupTestHandler(t)
	ctx := context.Background()

	admin := createTestUser(t, db, "admin@test.com", "Admin", models.SystemRoleAdmin)
	user := createTestUser(t, db, "user@test.com", "Test User", models.SystemRoleUser)
	token, plaintext, _ := s.CreateToken(ctx, user, "ci", "")

	r := setupTestRouter(h, admin.ID)

	w := serve(r, "DELETE", fmt.Sprintf("/admin/users/%d", user.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var count int64
	db.Model(&models.User{}).Where("id = ?", user.ID).Count(&count)
	if count != 0 {
		t.Errorf("Expected user to be deleted, but still exists")
	}

	var stored models.Token
	db.First(&stored, token.ID)
	if stored.RevokedAt == nil {
		t.Error("Expected the user's tokens to be revoked")
	}
	if found, _ := s.FindValidByValue(ctx, plaintext); found != nil {
		t.Error("Expected token to stop authenticating")
	}

	w = serve(r, "DELETE", fmt.Sprintf("/admin/users/%d", admin.ID), nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 deleting yourself, got %d", w.Code)
	}
}

func TestGetStats(t *testing.T) {
	h, s, db := setupTestHandler(t)
	ctx := context.Background()

	admin := createTestUser(t, db, "admin@test.com", "Admin", models.SystemRoleAdmin)
	user := createTestUser(t, db, "user@test.com", "User", models.SystemRoleUser)
	idle := createTestUser(t, db, "idle@test.com", "Idle", models.SystemRoleUser)
	db.Model(idle).Update("active", false)

	used, _, _ := s.CreateToken(ctx, user, "used", "")
	s.MarkUsed(ctx, used)
	revoked, _, _ := s.CreateToken(ctx, user, "revoked", "")
	s.Revoke(ctx, revoked)
	s.CreateToken(ctx, admin, "admin", "")
	s.EnsurePermission(ctx, "reports.view")

	r := setupTestRouter(h, admin.ID)

	w := serve(r, "GET", "/admin/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var stats StatsResponse
	json.Unmarshal(w.Body.Bytes(), &stats)

	if stats.TotalUsers != 3 {
		t.Errorf("Expected 3 users, got %d", stats.TotalUsers)
	}
	if stats.AdminUsers != 1 {
		t.Errorf("Expected 1 admin user, got %d", stats.AdminUsers)
	}
	if stats.InactiveUsers != 1 {
		t.Errorf("Expected 1 inactive user, got %d", stats.InactiveUsers)
	}
	if stats.TotalTokens != 3 {
		t.Errorf("Expected 3 tokens, got %d", stats.TotalTokens)
	}
	if stats.ActiveTokens != 2 {
		t.Errorf("Expected 2 active tokens, got %d", stats.ActiveTokens)
	}
	if stats.RevokedTokens != 1 {
		t.Errorf("Expected 1 revoked token, got %d", stats.RevokedTokens)
	}
	if stats.UsedTokens != 1 {
		t.Errorf("Expected 1 used token, got %d", stats.UsedTokens)
	}
	if stats.Permissions != 1 {
		t.Errorf("Expected 1 permission, got %d", stats.Permissions)
	}
}

func TestListAndRevokeTokens(t *testing.T) {
	h, s, db := setupTestHandler(t)
	ctx := context.Background()

	admin := createTestUser(t, db, "admin@test.com", "Admin", models.SystemRoleAdmin)
	user := createTestUser(t, db, "user@test.com", "User", models.SystemRoleUser)
	s.CreateToken(ctx, admin, "mine", "")
	token, _, _ := s.CreateToken(ctx, user, "theirs", "")

	r := setupTestRouter(h, admin.ID)

	w := serve(r, "GET", "/admin/tokens", nil)
	var list []AdminTokenResponse
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list) != 2 {
		t.Fatalf("Expected 2 tokens, got %d", len(list))
	}

	w = serve(r, "GET", fmt.Sprintf("/admin/tokens?user_id=%d", user.ID), nil)
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list) != 1 || list[0].UserEmail != "user@test.com" {
		t.Errorf("Expected only the user's token, got %+v", list)
	}

	w = serve(r, "DELETE", fmt.Sprintf("/admin/tokens/%d", token.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	w = serve(r, "GET", "/admin/tokens?valid=true", nil)
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list) != 1 || list[0].Name != "mine" {
		t.Errorf("Expected only the unrevoked token, got %+v", list)
	}

	w = serve(r, "DELETE", "/admin/tokens/999", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestPermissionCatalogAndGrants(t *testing.T) {
	h, s, db := setupTestHandler(t)
	ctx := context.Background()

	admin := createTestUser(t, db, "admin@test.com", "Admin", models.SystemRoleAdmin)
	user := createTestUser(t, db, "user@test.com", "User", models.SystemRoleUser)
	token, _, _ := s.CreateToken(ctx, user, "ci", "")

	r := setupTestRouter(h, admin.ID)

	w := serve(r, "POST", "/admin/permissions", PermissionRequest{Name: "reports.view"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	w = serve(r, "GET", "/admin/permissions", nil)
	var perms []models.Permission
	json.Unmarshal(w.Body.Bytes(), &perms)
	if len(perms) != 1 {
		t.Errorf("Expected 1 permission, got %d", len(perms))
	}

	w = serve(r, "POST", fmt.Sprintf("/admin/tokens/%d/permissions", token.ID), GrantRequest{Names: []string{"unknown"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for an unknown permission, got %d", w.Code)
	}

	w = serve(r, "POST", fmt.Sprintf("/admin/tokens/%d/permissions", token.ID), GrantRequest{Names: []string{"reports.view"}})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	names, _ := s.TokenPermissionNames(ctx, token)
	if len(names) != 1 || names[0] != "reports.view" {
		t.Errorf("Expected token grant, got %v", names)
	}

	w = serve(r, "DELETE", fmt.Sprintf("/admin/tokens/%d/permissions/reports.view", token.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	names, _ = s.TokenPermissionNames(ctx, token)
	if len(names) != 0 {
		t.Errorf("Expected no grants, got %v", names)
	}

	w = serve(r, "POST", fmt.Sprintf("/admin/users/%d/permissions", user.ID), GrantRequest{Names: []string{"reports.view"}})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp UserResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Permissions) != 1 || resp.Permissions[0] != "reports.view" {
		t.Errorf("Expected user grant, got %v", resp.Permissions)
	}

	w = serve(r, "DELETE", fmt.Sprintf("/admin/users/%d/permissions/reports.view", user.ID), nil)
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Permissions) != 0 {
		t.Errorf("Expected user grant removed, got %v", resp.Permissions)
	}
}
