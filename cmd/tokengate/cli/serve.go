package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/tokengate/pkg/tokengate/auth"
	"github.com/mikepea/tokengate/pkg/tokengate/config"
	"github.com/mikepea/tokengate/pkg/tokengate/logging"
	"github.com/mikepea/tokengate/pkg/tokengate/models"
	"github.com/mikepea/tokengate/pkg/tokengate/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), v)
		},
	}

	cmd.Flags().String("listen", "", "address to listen on (default :8080)")
	cobra.CheckErr(v.BindPFlag(config.KeyListen, cmd.Flags().Lookup("listen")))

	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	a, err := openApp(v)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.settings.RequireSessionSecret(); err != nil {
		return err
	}

	if a.settings.Verbosity == 0 {
		gin.SetMode(gin.ReleaseMode)
	}

	// A missing secret only fails on first use.
	if _, err := a.secrets.Secret(); err != nil {
		logging.L.Warn("token operations will fail until the secret is set", zap.Error(err))
	}

	if err := ensureAdminExists(a.db); err != nil {
		return err
	}

	srv := server.New(server.Options{
		DB:       a.db,
		Settings: a.settings,
		Secrets:  a.secrets,
	})
	if err := srv.Registry.Boot(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx, a.settings.Listen)
}

// ensureAdminExists creates a default admin user if no admin exists in the database.
func ensureAdminExists(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.User{}).Where("system_role = ?", models.SystemRoleAdmin).Count(&count).Error; err != nil {
		return err
	}

	if count > 0 {
		return nil // Admin already exists
	}

	hashedPassword, err := auth.HashPassword("changeme")
	if err != nil {
		return err
	}

	adminUser := models.User{
		Email:        "admin@tokengate.local",
		Name:         "Admin",
		PasswordHash: hashedPassword,
		Active:       true,
		SystemRole:   models.SystemRoleAdmin,
	}

	if err := db.Create(&adminUser).Error; err != nil {
		return err
	}

	logging.L.Warn("created default admin user", zap.String("email", adminUser.Email), zap.String("password", "changeme"))
	return nil
}
