package models

import "gorm.io/gorm"

// AllModels returns all models for migration
// Note: Permission must be migrated before the join tables that reference it
func AllModels() []interface{} {
	return []interface{}{
		&Permission{},
		&User{},
		&Token{},
	}
}

// AutoMigrate runs GORM auto-migration for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
