package permissions

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/tokengate/pkg/tokengate/auth"
	"github.com/mikepea/tokengate/pkg/tokengate/config"
	"github.com/mikepea/tokengate/pkg/tokengate/logging"
	"github.com/mikepea/tokengate/pkg/tokengate/models"
	"go.uber.org/zap"
)

// Policy is a reusable single-permission check. An empty Backend uses the
// registry default.
type Policy struct {
	Permission string
	Backend    string
}

// NewPolicy declares a check for permission, optionally against a named
// backend.
func NewPolicy(permission string, backend ...string) Policy {
	p := Policy{Permission: permission}
	if len(backend) > 0 {
		p.Backend = backend[0]
	}
	return p
}

// Check reports whether token holds the permission. A nil token holds nothing.
func (p Policy) Check(ctx context.Context, reg *Registry, token *models.Token) (bool, error) {
	b, err := reg.Get(p.Backend)
	if err != nil {
		return false, err
	}
	if token == nil {
		return false, nil
	}

	allowed, err := HasPermission(ctx, b, token, p.Permission)
	if err != nil {
		return false, err
	}
	reg.recordCheck(reg.Resolve(p.Backend), allowed)
	return allowed, nil
}

// Require is gin middleware enforcing the policy on the request's token
// principal.
func (p Policy) Require(reg *Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := auth.GetPrincipal(c)
		if err != nil {
			p.abortError(c, err)
			return
		}
		if principal == nil || principal.Token == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication credentials were not provided."})
			c.Abort()
			return
		}

		allowed, err := p.Check(c.Request.Context(), reg, principal.Token)
		if err != nil {
			p.abortError(c, err)
			return
		}
		if !allowed {
			c.JSON(http.StatusForbidden, gin.H{"error": "You do not have permission to perform this action."})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (p Policy) abortError(c *gin.Context, err error) {
	if errors.Is(err, config.ErrConfiguration) {
		logging.L.Error("permission backend misconfigured", zap.String("permission", p.Permission), zap.Error(err))
	} else {
		logging.L.Error("permission check failed", zap.String("permission", p.Permission), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Permission check is unavailable"})
	c.Abort()
}
