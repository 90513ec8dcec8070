package model

import "time"

// Role values carried by the identity token.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User mirrors the profile of an account managed by the identity provider.
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false"`
	Username  string    `gorm:"uniqueIndex;size:100;not null"`
	FullName  string    `gorm:"size:100"`
	Email     string    `gorm:"size:120"`
	Role      string    `gorm:"size:16;not null;default:user"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
