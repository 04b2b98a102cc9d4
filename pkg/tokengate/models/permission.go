package models

import "time"

// Permission is a named grant. Names are matched exactly and case-sensitively,
// conventionally in "app_label.codename" form.
type Permission struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Name      string    `gorm:"uniqueIndex;size:255;not null" json:"name"`
}
