// Package accesstokens serves the REST endpoints users manage their own
// personal access tokens with.
package accesstokens

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/tokengate/pkg/tokengate/auth"
	"github.com/mikepea/tokengate/pkg/tokengate/config"
	"github.com/mikepea/tokengate/pkg/tokengate/logging"
	"github.com/mikepea/tokengate/pkg/tokengate/models"
	"github.com/mikepea/tokengate/pkg/tokengate/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler handles access token requests
type Handler struct {
	db    *gorm.DB
	store *store.Store
}

// NewHandler creates a new access tokens handler
func NewHandler(db *gorm.DB, s *store.Store) *Handler {
	return &Handler{db: db, store: s}
}

// TokenResponse represents a token in responses. The plaintext is never part
// of it.
type TokenResponse struct {
	ID          uint       `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Valid       bool       `json:"valid"`
	Permissions []string   `json:"permissions,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at"`
	RevokedAt   *time.Time `json:"revoked_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NewTokenResponse converts a token model to its response form.
func NewTokenResponse(t *models.Token) TokenResponse {
	return TokenResponse{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Valid:       t.IsValid(),
		LastUsedAt:  t.LastUsedAt,
		RevokedAt:   t.RevokedAt,
		CreatedAt:   t.CreatedAt,
	}
}

// CreateTokenRequest represents a request to create a token
type CreateTokenRequest struct {
	Name        string `json:"name" binding:"required,max=255"`
	Description string `json:"description"`
}

// CreateTokenResponse includes the plaintext, shown this one time only
type CreateTokenResponse struct {
	TokenResponse
	PlainText string `json:"plain_text"`
}

// Create creates a new token for the authenticated user
func (h *Handler) Create(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req CreateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var owner models.User
	if err := h.db.WithContext(c.Request.Context()).First(&owner, userID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		return
	}

	token, plaintext, err := h.store.CreateToken(c.Request.Context(), &owner, req.Name, req.Description)
	switch {
	case errors.Is(err, store.ErrDuplicateName):
		c.JSON(http.StatusConflict, gin.H{"error": "You already have a token with this name"})
		return
	case errors.Is(err, config.ErrConfiguration):
		logging.L.Error("token secret is not configured", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation is unavailable"})
		return
	case err != nil:
		logging.L.Error("create token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}

	logging.L.Info("token created", zap.Uint("token_id", token.ID), zap.Uint("user_id", owner.ID))

	c.JSON(http.StatusCreated, CreateTokenResponse{
		TokenResponse: NewTokenResponse(token),
		PlainText:     plaintext,
	})
}

// List returns all tokens of the authenticated user, revoked ones included
func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	list, err := h.store.ListForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch tokens"})
		return
	}

	responses := make([]TokenResponse, len(list))
	for i := range list {
		responses[i] = NewTokenResponse(&list[i])
	}

	c.JSON(http.StatusOK, responses)
}

// Get returns one token with the permissions granted to it
func (h *Handler) Get(c *gin.Context) {
	token, ok := h.lookup(c)
	if !ok {
		return
	}

	names, err := h.store.TokenPermissionNames(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch token"})
		return
	}

	resp := NewTokenResponse(token)
	resp.Permissions = names
	c.JSON(http.StatusOK, resp)
}

// Delete revokes a token. The row is kept so its history stays visible.
func (h *Handler) Delete(c *gin.Context) {
	token, ok := h.lookup(c)
	if !ok {
		return
	}

	if err := h.store.Revoke(c.Request.Context(), token); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke token"})
		return
	}

	logging.L.Info("token revoked", zap.Uint("token_id", token.ID))
	c.JSON(http.StatusOK, gin.H{"message": "Token revoked"})
}

// lookup loads the :id token owned by the current user, writing the error
// response when it cannot.
func (h *Handler) lookup(c *gin.Context) (*models.Token, bool) {
	userID, _ := auth.GetUserID(c)
	tokenID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid token ID"})
		return nil, false
	}

	token, err := h.store.GetForUser(c.Request.Context(), userID, uint(tokenID))
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

// RegisterRoutes registers access token routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/access-tokens", h.Create)
	rg.GET("/access-tokens", h.List)
	rg.GET("/access-tokens/:id", h.Get)
	rg.DELETE("/access-tokens/:id", h.Delete)
}
