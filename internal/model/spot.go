package model

import "time"

// SpotStatus is the allocation state of a single spot.
type SpotStatus string

const (
	SpotAvailable SpotStatus = "A"
	SpotOccupied  SpotStatus = "O"
)

// Valid reports whether s is one of the known statuses.
func (s SpotStatus) Valid() bool {
	return s == SpotAvailable || s == SpotOccupied
}

// Spot represents an individually allocatable space inside a lot.
type Spot struct {
	ID        int64      `gorm:"primaryKey"`
	LotID     int64      `gorm:"index:idx_spots_lot_status;not null"`
	Status    SpotStatus `gorm:"size:1;index:idx_spots_lot_status;not null;default:A"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// Associations
	Lot Lot
}
