package model

import "time"

// Reservation is a claim on a spot by a user. A nil EndTime means the
// reservation is still open. ReleasedAt is set once the user gave the spot
// back; a released reservation is never active again, whatever its end.
type Reservation struct {
	ID          int64      `gorm:"primaryKey"`
	SpotID      int64      `gorm:"index;not null"`
	UserID      int64      `gorm:"index;not null"`
	StartTime   time.Time  `gorm:"not null"`
	EndTime     *time.Time `gorm:"index"`
	CostPerHour float64    `gorm:"type:decimal(10,2);not null"`
	ReleasedAt  *time.Time `gorm:"index"`
	CreatedAt   time.Time  `gorm:"not null"`
	UpdatedAt   time.Time  `gorm:"not null"`

	// Associations
	Spot Spot `gorm:"constraint:OnDelete:CASCADE"`
	User User `gorm:"constraint:OnDelete:CASCADE"`
}

// Completed reports whether the reservation has an end time.
func (r *Reservation) Completed() bool {
	return r.EndTime != nil
}

// ActiveAt reports whether the reservation is unreleased and either open
// or not yet elapsed at t.
func (r *Reservation) ActiveAt(t time.Time) bool {
	if r.ReleasedAt != nil {
		return false
	}
	return r.EndTime == nil || !r.EndTime.Before(t)
}

// LotName returns the name of the owning lot when the spot and lot
// associations were loaded.
func (r *Reservation) LotName() string {
	return r.Spot.Lot.Name
}
