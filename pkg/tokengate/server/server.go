// Package server wires the tokengate HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/tokengate/pkg/tokengate/accesstokens"
	"github.com/mikepea/tokengate/pkg/tokengate/admin"
	"github.com/mikepea/tokengate/pkg/tokengate/auth"
	"github.com/mikepea/tokengate/pkg/tokengate/config"
	"github.com/mikepea/tokengate/pkg/tokengate/header"
	"github.com/mikepea/tokengate/pkg/tokengate/logging"
	"github.com/mikepea/tokengate/pkg/tokengate/metrics"
	"github.com/mikepea/tokengate/pkg/tokengate/permissions"
	"github.com/mikepea/tokengate/pkg/tokengate/store"
	"github.com/mikepea/tokengate/pkg/tokengate/tokens"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProtectedPermission guards GET /api/protected.
const ProtectedPermission = "tokengate.access_protected"

// Options configures New. Secrets, Metrics and Registry are optional.
type Options struct {
	DB       *gorm.DB
	Settings *config.Settings
	Secrets  config.SecretProvider
	Metrics  *metrics.Metrics
	Registry *permissions.Registry
}

// Server is the assembled HTTP API.
type Server struct {
	Engine        *gin.Engine
	Store         *store.Store
	Authenticator *auth.Authenticator
	Registry      *permissions.Registry
	Metrics       *metrics.Metrics
}

// New builds the router. The token secret is not read until the first token
// is hashed.
func New(opts Options) *Server {
	settings := opts.Settings
	if settings == nil {
		settings = &config.Settings{}
	}

	m := opts.Metrics
	if m == nil {
		m = metrics.New(opts.DB)
	}

	s := store.New(opts.DB, tokens.NewHasher(opts.Secrets))

	reg := opts.Registry
	if reg == nil {
		reg = permissions.NewRegistry(permissions.ConfigFromSettings(settings.Permissions), permissions.DefaultFactories(s))
	}
	reg.SetMetrics(m)

	parser := header.NewParser(settings.Header, settings.HeaderPrefix, settings.SharedHeader)
	authn := auth.NewAuthenticator(parser, s, m)

	srv := &Server{
		Store:         s,
		Authenticator: authn,
		Registry:      reg,
		Metrics:       m,
	}
	srv.Engine = srv.routes(opts.DB)
	return srv
}

func (srv *Server) routes(db *gorm.DB) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", srv.Metrics.Handler())

	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "ok",
				"service": "tokengate",
			})
		})

		// Session routes (public)
		authHandler := auth.NewHandler(db)
		authHandler.RegisterRoutes(api.Group("/auth"))

		// Token management accepts a session or a token
		tokensHandler := accesstokens.NewHandler(db, srv.Store)
		tokensHandler.RegisterRoutes(api.Group("", auth.CombinedMiddleware(srv.Authenticator, db)))

		// Admin routes (session only, admin role required)
		adminHandler := admin.NewHandler(db, srv.Store)
		adminGroup := api.Group("/admin")
		adminGroup.Use(auth.SessionMiddleware(db), auth.RequireAdmin())
		adminHandler.RegisterRoutes(adminGroup)

		// Token protected resources. The identity is resolved only by the
		// handlers and policies that read it.
		protected := api.Group("", srv.Authenticator.Middleware())
		protected.GET("/whoami", auth.RequireAuthenticated(), srv.whoami)
		protected.GET("/protected",
			permissions.NewPolicy(ProtectedPermission).Require(srv.Registry),
			func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"message": "access granted"})
			})
		protected.GET("/permissions/check", auth.RequireAuthenticated(), srv.checkPermission)
	}

	return r
}

func (srv *Server) whoami(c *gin.Context) {
	p, err := auth.GetPrincipal(c)
	if err != nil || p == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":  auth.NewUserResponse(p.User),
		"token": accesstokens.NewTokenResponse(p.Token),
	})
}

// checkPermission reports whether the calling token holds ?permission, using
// ?backend or the default backend.
func (srv *Server) checkPermission(c *gin.Context) {
	name := c.Query("permission")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "permission is required"})
		return
	}

	p, _ := auth.GetPrincipal(c)
	policy := permissions.NewPolicy(name, c.Query("backend"))
	allowed, err := policy.Check(c.Request.Context(), srv.Registry, p.Token)
	if errors.Is(err, config.ErrConfiguration) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Permission check is unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"permission": name,
		"backend":    srv.Registry.Resolve(policy.Backend),
		"allowed":    allowed,
	})
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (srv *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.L.Info("starting tokengate server", zap.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logging.L.Info("shutting down tokengate server")
	return httpServer.Shutdown(shutdownCtx)
}
