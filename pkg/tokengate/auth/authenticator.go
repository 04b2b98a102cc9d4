package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/tokengate/pkg/tokengate/config"
	"github.com/mikepea/tokengate/pkg/tokengate/header"
	"github.com/mikepea/tokengate/pkg/tokengate/logging"
	"github.com/mikepea/tokengate/pkg/tokengate/metrics"
	"github.com/mikepea/tokengate/pkg/tokengate/models"
	"github.com/mikepea/tokengate/pkg/tokengate/store"
	"go.uber.org/zap"
)

// Kind classifies a failed authentication. It is recorded in logs and
// metrics only; callers see the same message for an unknown token and a
// revoked one.
type Kind string

const (
	KindMalformed Kind = "malformed"
	KindNoMatch   Kind = "no_match"
	KindRevoked   Kind = "revoked"
	KindInactive  Kind = "inactive"
)

const (
	msgInvalidToken = "Invalid token."
	msgUserInactive = "User inactive or deleted."
)

// AuthenticationError is returned when a credential was offered but does not
// authenticate anyone.
type AuthenticationError struct {
	Kind   Kind
	Reason string
}

func (e *AuthenticationError) Error() string {
	return e.Reason
}

// Principal is an authenticated user together with the token that
// authenticated them. Token is nil for session logins.
type Principal struct {
	User  *models.User
	Token *models.Token
}

// TokenStore is the part of the token store the authenticator needs.
type TokenStore interface {
	FindValidByValue(ctx context.Context, value string) (*models.Token, error)
	IsRevokedValue(ctx context.Context, value string) (bool, error)
	MarkUsed(ctx context.Context, token *models.Token, opts ...store.WriteOption) error
}

// Authenticator resolves requests to principals using one header scheme.
type Authenticator struct {
	parser  *header.Parser
	store   TokenStore
	metrics *metrics.Metrics
}

// NewAuthenticator creates an authenticator. m may be nil.
func NewAuthenticator(p *header.Parser, s TokenStore, m *metrics.Metrics) *Authenticator {
	return &Authenticator{parser: p, store: s, metrics: m}
}

// Parser returns the header parser in use.
func (a *Authenticator) Parser() *header.Parser {
	return a.parser
}

// Authenticate resolves the request synchronously. It returns nil and no
// error when the request offers no credential for this scheme, leaving the
// request to other authenticators.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	value, ok, err := a.parser.Parse(r)
	if err != nil {
		return nil, a.parseFailure(err)
	}
	if !ok {
		return nil, nil
	}
	return a.resolve(ctx, value)
}

func (a *Authenticator) parseFailure(err error) error {
	var perr *header.ParseError
	if !errors.As(err, &perr) {
		return err
	}
	a.metrics.Authentication(string(KindMalformed))
	logging.L.Debug("malformed credential header", zap.String("reason", perr.Msg))
	return &AuthenticationError{Kind: KindMalformed, Reason: perr.Msg}
}

// resolve looks up a candidate value and, on success, marks the token used.
func (a *Authenticator) resolve(ctx context.Context, value string) (*Principal, error) {
	token, err := a.store.FindValidByValue(ctx, value)
	if err != nil {
		if errors.Is(err, config.ErrConfiguration) {
			logging.L.Error("token lookup failed", zap.Error(err))
		}
		return nil, err
	}

	if token == nil {
		kind := KindNoMatch
		if revoked, err := a.store.IsRevokedValue(ctx, value); err == nil && revoked {
			kind = KindRevoked
		}
		return nil, a.fail(kind, msgInvalidToken, 0)
	}

	// a soft-deleted owner is not preloaded and reads as inactive
	if token.User.ID == 0 || !token.User.Active {
		return nil, a.fail(KindInactive, msgUserInactive, token.ID)
	}

	if err := a.store.MarkUsed(ctx, token); err != nil {
		return nil, err
	}

	a.metrics.Authentication("authenticated")
	logging.L.Debug("token authenticated", zap.Uint("token_id", token.ID), zap.Uint("user_id", token.UserID))

	return &Principal{User: &token.User, Token: token}, nil
}

func (a *Authenticator) fail(kind Kind, reason string, tokenID uint) error {
	a.metrics.Authentication(string(kind))
	logging.L.Info("token authentication failed", zap.String("kind", string(kind)), zap.Uint("token_id", tokenID))
	return &AuthenticationError{Kind: kind, Reason: reason}
}

// Middleware is the eager mode: it parses the header on every request but
// defers the lookup until something reads the identity. Requests without a
// credential pass through untouched; malformed headers are rejected with 401.
// An offered token that does not authenticate resolves to no principal.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		value, ok, err := a.parser.Parse(c.Request)
		if err != nil {
			a.abort(c, a.parseFailure(err))
			return
		}
		if !ok {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		c.Set(ContextKeyIdentity, NewIdentity(func() (*Principal, error) {
			p, err := a.resolve(ctx, value)
			var aerr *AuthenticationError
			if errors.As(err, &aerr) {
				return nil, nil
			}
			return p, err
		}))

		c.Next()
	}
}

// Required is the pull mode as middleware: the request must authenticate
// with this scheme or it is rejected.
func (a *Authenticator) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := a.Authenticate(c.Request.Context(), c.Request)
		if err != nil {
			a.abort(c, err)
			return
		}
		if p == nil {
			c.Header("WWW-Authenticate", a.parser.Challenge())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication credentials were not provided."})
			c.Abort()
			return
		}

		SetPrincipal(c, p)
		c.Next()
	}
}

// WithSharedHeader returns a copy of the authenticator that ignores header
// values belonging to other schemes.
func (a *Authenticator) WithSharedHeader() *Authenticator {
	p := *a.parser
	p.SharedHeader = true
	return &Authenticator{parser: &p, store: a.store, metrics: a.metrics}
}

// abort writes the response for an authentication error.
func (a *Authenticator) abort(c *gin.Context, err error) {
	var aerr *AuthenticationError
	switch {
	case errors.As(err, &aerr):
		c.Header("WWW-Authenticate", a.parser.Challenge())
		c.JSON(http.StatusUnauthorized, gin.H{"error": aerr.Reason})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication is unavailable"})
	}
	c.Abort()
}
