package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/tokengate/pkg/tokengate/logging"
	"github.com/mikepea/tokengate/pkg/tokengate/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// ContextKeyUserID is the key for user ID in gin context
	ContextKeyUserID = "user_id"
	// ContextKeyEmail is the key for email in gin context
	ContextKeyEmail = "email"
	// ContextKeySystemRole is the key for system role in gin context
	ContextKeySystemRole = "system_role"
	// ContextKeyPrincipal is the key for a resolved token principal in gin context
	ContextKeyPrincipal = "principal"
	// ContextKeyIdentity is the key for a lazily resolved identity in gin context
	ContextKeyIdentity = "identity"
)

// SessionMiddleware validates session JWTs and sets user info in context.
// The user is reloaded on every request, so a deactivated, deleted or demoted
// account loses access before its session expires.
func SessionMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		// Expect "Bearer <session>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := ValidateSessionToken(parts[1])
		if err != nil {
			if err == ErrExpiredSession {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Session has expired"})
			} else {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid session"})
			}
			c.Abort()
			return
		}

		var user models.User
		err = db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !user.Active) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": msgUserInactive})
			c.Abort()
			return
		}
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication is unavailable"})
			c.Abort()
			return
		}

		// Set user info in context
		c.Set(ContextKeyUserID, user.ID)
		c.Set(ContextKeyEmail, user.Email)
		c.Set(ContextKeySystemRole, string(user.SystemRole))

		c.Next()
	}
}

// CombinedMiddleware accepts either a token for the authenticator's scheme or
// a session JWT. The token scheme runs in shared header mode so that a
// "Bearer" session on the same header falls through to the session check.
func CombinedMiddleware(a *Authenticator, db *gorm.DB) gin.HandlerFunc {
	shared := a.WithSharedHeader()
	session := SessionMiddleware(db)

	return func(c *gin.Context) {
		p, err := shared.Authenticate(c.Request.Context(), c.Request)
		if err != nil {
			shared.abort(c, err)
			return
		}
		if p != nil {
			SetPrincipal(c, p)
			c.Next()
			return
		}
		session(c)
	}
}

// RequireAuthenticated rejects requests without a principal. In front of it,
// Authenticator.Middleware only offers a lazy identity; this is where it gets
// resolved.
func RequireAuthenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := GetPrincipal(c)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication is unavailable"})
			c.Abort()
			return
		}
		if p == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAdmin middleware checks if the user has admin system role
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(ContextKeySystemRole)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}

		if role != "admin" {
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// SetPrincipal stores a resolved principal, along with the plain user keys
// that handlers read, in the gin context.
func SetPrincipal(c *gin.Context, p *Principal) {
	c.Set(ContextKeyPrincipal, p)
	c.Set(ContextKeyUserID, p.User.ID)
	c.Set(ContextKeyEmail, p.User.Email)
	c.Set(ContextKeySystemRole, string(p.User.SystemRole))
}

// GetPrincipal returns the token principal for the request, resolving a lazy
// identity if that is all there is. It returns nil for anonymous requests.
func GetPrincipal(c *gin.Context) (*Principal, error) {
	if v, ok := c.Get(ContextKeyPrincipal); ok {
		return v.(*Principal), nil
	}

	id, ok := GetIdentity(c)
	if !ok {
		return nil, nil
	}

	p, err := id.Resolve()
	if err != nil {
		logging.L.Error("resolve identity", zap.Error(err))
		return nil, err
	}
	if p != nil {
		SetPrincipal(c, p)
	}
	return p, nil
}

// GetUserID returns the user ID from the gin context
func GetUserID(c *gin.Context) (uint, bool) {
	userID, exists := c.Get(ContextKeyUserID)
	if !exists {
		return 0, false
	}
	return userID.(uint), true
}

// GetEmail returns the email from the gin context
func GetEmail(c *gin.Context) (string, bool) {
	email, exists := c.Get(ContextKeyEmail)
	if !exists {
		return "", false
	}
	return email.(string), true
}

// GetSystemRole returns the system role from the gin context
func GetSystemRole(c *gin.Context) (string, bool) {
	role, exists := c.Get(ContextKeySystemRole)
	if !exists {
		return "", false
	}
	return role.(string), true
}

// GetIdentity returns the lazy identity stored by Authenticator.Middleware
// without resolving it.
func GetIdentity(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(ContextKeyIdentity)
	if !ok {
		return nil, false
	}
	return v.(*Identity), true
}
