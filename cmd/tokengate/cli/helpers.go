package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/mikepea/tokengate/pkg/tokengate/auth"
	"github.com/mikepea/tokengate/pkg/tokengate/config"
	"github.com/mikepea/tokengate/pkg/tokengate/database"
	"github.com/mikepea/tokengate/pkg/tokengate/logging"
	"github.com/mikepea/tokengate/pkg/tokengate/models"
	"github.com/mikepea/tokengate/pkg/tokengate/store"
	"github.com/mikepea/tokengate/pkg/tokengate/tokens"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

// app holds what every command needs once configuration is loaded.
type app struct {
	settings *config.Settings
	secrets  config.SecretProvider
	db       *gorm.DB
	store    *store.Store
}

// openApp loads settings, connects to the database and brings the schema up
// to date.
func openApp(v *viper.Viper) (*app, error) {
	settings, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	logging.Initialize(settings.Verbosity)

	if settings.SessionSecret != "" {
		auth.SetSessionSecret(settings.SessionSecret)
	}

	if err := database.Connect(settings.Database.Driver, settings.Database.DSN); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	db := database.GetDB()

	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	secrets := config.ViperSecret{V: v}
	return &app{
		settings: settings,
		secrets:  secrets,
		db:       db,
		store:    store.New(db, tokens.NewHasher(secrets)),
	}, nil
}

func (a *app) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (a *app) userByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := a.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %q not found", email)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
