package model

import "time"

// Lot represents a parking facility.
type Lot struct {
	ID         int64     `gorm:"primaryKey"`
	Name       string    `gorm:"size:128;not null"`
	Address    string    `gorm:"type:text;not null"`
	PostalCode string    `gorm:"size:10;not null"`
	HourlyRate float64   `gorm:"type:decimal(10,2);not null"`
	Capacity   int       `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`

	// Associations
	Spots []Spot `gorm:"foreignKey:LotID;constraint:OnDelete:CASCADE"`
}
