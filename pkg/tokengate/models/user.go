package models

import (
	"time"

	"gorm.io/gorm"
)

// SystemRole represents a user's system-wide role
type SystemRole string

const (
	SystemRoleAdmin SystemRole = "admin"
	SystemRoleUser  SystemRole = "user"
)

// User represents a user in the system
type User struct {
	ID           uint           `gorm:"primarykey" json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
	Email        string         `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string         `json:"-"`
	Name         string         `gorm:"not null" json:"name"`
	Active       bool           `gorm:"default:true" json:"active"`
	SystemRole   SystemRole     `gorm:"type:varchar(20);default:'user'" json:"system_role"`

	// Relationships
	Permissions []Permission `gorm:"many2many:user_permissions" json:"permissions,omitempty"`
	Tokens      []Token      `gorm:"foreignKey:UserID" json:"tokens,omitempty"`
}

// IsSuperuser reports whether the user implicitly holds every permission.
func (u *User) IsSuperuser() bool {
	return u.SystemRole == SystemRoleAdmin
}

// HasPerm reports whether the user holds the named permission. Inactive users
// hold nothing, active superusers hold everything, everyone else holds exactly
// the permissions assigned to them. Permissions must be preloaded.
func (u *User) HasPerm(name string) bool {
	if !u.Active {
		return false
	}
	if u.IsSuperuser() {
		return true
	}
	for _, p := range u.Permissions {
		if p.Name == name {
			return true
		}
	}
	return false
}
