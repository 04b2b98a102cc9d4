package admin

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/tokengate/pkg/tokengate/accesstokens"
	"github.com/mikepea/tokengate/pkg/tokengate/auth"
	"github.com/mikepea/tokengate/pkg/tokengate/logging"
	"github.com/mikepea/tokengate/pkg/tokengate/models"
	"github.com/mikepea/tokengate/pkg/tokengate/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler handles admin requests
type Handler struct {
	db    *gorm.DB
	store *store.Store
}

// NewHandler creates a new admin handler
func NewHandler(db *gorm.DB, s *store.Store) *Handler {
	return &Handler{db: db, store: s}
}

// UserResponse represents user data in admin responses
type UserResponse struct {
	ID           uint     `json:"id"`
	Email        string   `json:"email"`
	Name         string   `json:"name"`
	Active       bool     `json:"active"`
	SystemRole   string   `json:"system_role"`
	CreatedAt    string   `json:"created_at"`
	Permissions  []string `json:"permissions"`
	TokenCount   int64    `json:"token_count"`
	ActiveTokens int64    `json:"active_tokens"`
}

// UpdateUserRequest represents the request to update a user
type UpdateUserRequest struct {
	Name       *string `json:"name"`
	SystemRole *string `json:"system_role"`
	Active     *bool   `json:"active"`
}

// StatsResponse represents system statistics
type StatsResponse struct {
	TotalUsers    int64 `json:"total_users"`
	AdminUsers    int64 `json:"admin_users"`
	InactiveUsers int64 `json:"inactive_users"`
	TotalTokens   int64 `json:"total_tokens"`
	ActiveTokens  int64 `json:"active_tokens"`
	RevokedTokens int64 `json:"revoked_tokens"`
	UsedTokens    int64 `json:"used_tokens"`
	Permissions   int64 `json:"permissions"`
}

// AdminTokenResponse is a token as seen by an administrator.
type AdminTokenResponse struct {
	accesstokens.TokenResponse
	UserID    uint   `json:"user_id"`
	UserEmail string `json:"user_email"`
}

// PermissionRequest names a catalog permission to create.
type PermissionRequest struct {
	Name string `json:"name" binding:"required,max=255"`
}

// GrantRequest names catalog permissions to grant.
type GrantRequest struct {
	Names []string `json:"names" binding:"required,min=1"`
}

func (h *Handler) userResponse(user *models.User) UserResponse {
	var tokenCount, activeTokens int64
	h.db.Model(&models.Token{}).Where("user_id = ?", user.ID).Count(&tokenCount)
	h.db.Model(&models.Token{}).Where("user_id = ? AND revoked_at IS NULL", user.ID).Count(&activeTokens)

	perms := make([]string, len(user.Permissions))
	for i, p := range user.Permissions {
		perms[i] = p.Name
	}

	return UserResponse{
		ID:           user.ID,
		Email:        user.Email,
		Name:         user.Name,
		Active:       user.Active,
		SystemRole:   string(user.SystemRole),
		CreatedAt:    user.CreatedAt.Format("2006-01-02T15:04:05Z"),
		Permissions:  perms,
		TokenCount:   tokenCount,
		ActiveTokens: activeTokens,
	}
}

func parseID(c *gin.Context, what string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + what + " ID"})
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) loadUser(c *gin.Context) (*models.User, bool) {
	id, ok := parseID(c, "user")
	if !ok {
		return nil, false
	}

	var user models.User
	if err := h.db.Preload("Permissions").First(&user, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return nil, false
	}
	return &user, true
}

func (h *Handler) loadToken(c *gin.Context) (*models.Token, bool) {
	id, ok := parseID(c, "token")
	if !ok {
		return nil, false
	}

	token, err := h.store.Get(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Token not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch token"})
		return nil, false
	}
	return token, true
}

// ListUsers returns all users (admin only)
func (h *Handler) ListUsers(c *gin.Context) {
	var users []models.User

	query := h.db.Preload("Permissions").Order("created_at DESC")

	// Optional search by email or name
	if search := c.Query("q"); search != "" {
		query = query.Where("email LIKE ? OR name LIKE ?", "%"+search+"%", "%"+search+"%")
	}

	// Optional filter by role
	if role := c.Query("role"); role != "" {
		query = query.Where("system_role = ?", role)
	}

	if active := c.Query("active"); active != "" {
		query = query.Where("active = ?", active == "true")
	}

	if err := query.Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch users"})
		return
	}

	responses := make([]UserResponse, len(users))
	for i := range users {
		responses[i] = h.userResponse(&users[i])
	}

	c.JSON(http.StatusOK, responses)
}

// GetUser returns a single user by ID (admin only)
func (h *Handler) GetUser(c *gin.Context) {
	user, ok := h.loadUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.userResponse(user))
}

// UpdateUser updates a user's profile, role and active flag (admin only).
// Tokens of a deactivated user stop authenticating without being revoked.
func (h *Handler) UpdateUser(c *gin.Context) {
	user, ok := h.loadUser(c)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	currentUserID, _ := auth.GetUserID(c)
	if user.ID == currentUserID {
		if req.SystemRole != nil && *req.SystemRole != string(models.SystemRoleAdmin) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot demote yourself"})
			return
		}
		if req.Active != nil && !*req.Active {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot deactivate yourself"})
			return
		}
	}

	updates := make(map[string]interface{})
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.SystemRole != nil {
		if *req.SystemRole != string(models.SystemRoleAdmin) && *req.SystemRole != string(models.SystemRoleUser) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid system role"})
			return
		}
		updates["system_role"] = *req.SystemRole
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}

	if len(updates) > 0 {
		if err := h.db.Model(user).Updates(updates).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update user"})
			return
		}
		logging.L.Info("user updated", zap.Uint("user_id", user.ID), zap.Any("changes", updates))
	}

	// Reload user
	h.db.Preload("Permissions").First(user, user.ID)

	c.JSON(http.StatusOK, h.userResponse(user))
}

// DeleteUser soft-deletes a user and revokes their tokens (admin only)
func (h *Handler) DeleteUser(c *gin.Context) {
	id, ok := parseID(c, "user")
	if !ok {
		return
	}

	// Prevent admin from deleting themselves
	currentUserID, _ := auth.GetUserID(c)
	if id == currentUserID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot delete yourself"})
		return
	}

	var user models.User
	if err := h.db.First(&user, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Token{}).
			Where("user_id = ? AND revoked_at IS NULL", user.ID).
			Update("revoked_at", time.Now()).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})

	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete user"})
		return
	}

	logging.L.Info("user deleted", zap.Uint("user_id", user.ID))
	c.JSON(http.StatusOK, gin.H{"message": "User deleted successfully"})
}

// GetStats returns system-wide statistics (admin only)
func (h *Handler) GetStats(c *gin.Context) {
	var stats StatsResponse

	h.db.Model(&models.User{}).Count(&stats.TotalUsers)
	h.db.Model(&models.User{}).Where("system_role = ?", models.SystemRoleAdmin).Count(&stats.AdminUsers)
	h.db.Model(&models.User{}).Where("active = ?", false).Count(&stats.InactiveUsers)

	h.db.Model(&models.Token{}).Count(&stats.TotalTokens)
	h.db.Model(&models.Token{}).Where("revoked_at IS NULL").Count(&stats.ActiveTokens)
	h.db.Model(&models.Token{}).Where("revoked_at IS NOT NULL").Count(&stats.RevokedTokens)
	h.db.Model(&models.Token{}).Where("last_used_at IS NOT NULL").Count(&stats.UsedTokens)

	h.db.Model(&models.Permission{}).Count(&stats.Permissions)

	c.JSON(http.StatusOK, stats)
}

// ListTokens returns tokens across users, filtered by ?user_id and ?valid=true
func (h *Handler) ListTokens(c *gin.Context) {
	var opts store.ListOptions
	if raw := c.Query("user_id"); raw != "" {
		userID, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
			return
		}
		opts.UserID = uint(userID)
	}
	opts.ValidOnly = c.Query("valid") == "true"

	list, err := h.store.List(c.Request.Context(), opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch tokens"})
		return
	}

	responses := make([]AdminTokenResponse, len(list))
	for i := range list {
		responses[i] = AdminTokenResponse{
			TokenResponse: accesstokens.NewTokenResponse(&list[i]),
			UserID:        list[i].UserID,
			UserEmail:     list[i].User.Email,
		}
	}

	c.JSON(http.StatusOK, responses)
}

// RevokeToken revokes any user's token (admin only)
func (h *Handler) RevokeToken(c *gin.Context) {
	token, ok := h.loadToken(c)
	if !ok {
		return
	}

	if err := h.store.Revoke(c.Request.Context(), token); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke token"})
		return
	}

	logging.L.Info("token revoked by admin", zap.Uint("token_id", token.ID), zap.Uint("user_id", token.UserID))
	c.JSON(http.StatusOK, gin.H{"message": "Token revoked"})
}

// ListPermissions returns the permission catalog
func (h *Handler) ListPermissions(c *gin.Context) {
	perms, err := h.store.ListPermissions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch permissions"})
		return
	}
	c.JSON(http.StatusOK, perms)
}

// CreatePermission adds a name to the permission catalog
func (h *Handler) CreatePermission(c *gin.Context) {
	var req PermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	perm, err := h.store.EnsurePermission(c.Request.Context(), req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create permission"})
		return
	}
	c.JSON(http.StatusCreated, perm)
}

// GrantToken attaches permissions directly to a token
func (h *Handler) GrantToken(c *gin.Context) {
	token, ok := h.loadToken(c)
	if !ok {
		return
	}

	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.Grant(c.Request.Context(), token, req.Names...); err != nil {
		grantError(c, err)
		return
	}
	h.respondTokenPermissions(c, token)
}

// UngrantToken removes one permission from a token
func (h *Handler) UngrantToken(c *gin.Context) {
	token, ok := h.loadToken(c)
	if !ok {
		return
	}

	if err := h.store.Ungrant(c.Request.Context(), token, c.Param("name")); err != nil {
		grantError(c, err)
		return
	}
	h.respondTokenPermissions(c, token)
}

func (h *Handler) respondTokenPermissions(c *gin.Context, token *models.Token) {
	names, err := h.store.TokenPermissionNames(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch permissions"})
		return
	}

	resp := accesstokens.NewTokenResponse(token)
	resp.Permissions = names
	c.JSON(http.StatusOK, resp)
}

// GrantUser adds permissions to a user's own set
func (h *Handler) GrantUser(c *gin.Context) {
	user, ok := h.loadUser(c)
	if !ok {
		return
	}

	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.GrantUser(c.Request.Context(), user, req.Names...); err != nil {
		grantError(c, err)
		return
	}

	h.db.Preload("Permissions").First(user, user.ID)
	c.JSON(http.StatusOK, h.userResponse(user))
}

// UngrantUser removes one permission from a user's own set
func (h *Handler) UngrantUser(c *gin.Context) {
	user, ok := h.loadUser(c)
	if !ok {
		return
	}

	if err := h.store.UngrantUser(c.Request.Context(), user, c.Param("name")); err != nil {
		grantError(c, err)
		return
	}

	h.db.Preload("Permissions").First(user, user.ID)
	c.JSON(http.StatusOK, h.userResponse(user))
}

func grantError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrUnknownPermission) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logging.L.Error("update grants", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update permissions"})
}

// RegisterRoutes registers admin routes on the given router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/stats", h.GetStats)
	rg.GET("/users", h.ListUsers)
	rg.GET("/users/:id", h.GetUser)
	rg.PUT("/users/:id", h.UpdateUser)
	rg.DELETE("/users/:id", h.DeleteUser)
	rg.POST("/users/:id/permissions", h.GrantUser)
	rg.DELETE("/users/:id/permissions/:name", h.UngrantUser)
	rg.GET("/tokens", h.ListTokens)
	rg.DELETE("/tokens/:id", h.RevokeToken)
	rg.POST("/tokens/:id/permissions", h.GrantToken)
	rg.DELETE("/tokens/:id/permissions/:name", h.UngrantToken)
	rg.GET("/permissions", h.ListPermissions)
	rg.POST("/permissions", h.CreatePermission)
}
