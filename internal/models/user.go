package models

import "gorm.io/gorm"

// User represents a user in the system.
type User struct {
	gorm.Model
	DisplayName  string `gorm:"size:50;not null;index"`
	Email        string `gorm:"size:255;unique;not null"`
	PasswordHash string `gorm:"size:255;not null"`
	AvatarURL    string `gorm:"size:512"`
}
