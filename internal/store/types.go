package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when the database aborted the operation because
	// of a concurrent writer (serialization failure, deadlock, busy lock).
	ErrConflict = errors.New("concurrent update conflict")
)

// LotFilter narrows ListLots. Query is matched case-insensitively against
// the lot name, address and postal code.
type LotFilter struct {
	Query string
}

// ReservationFilter narrows ListReservations. Nil fields are ignored.
type ReservationFilter struct {
	UserID    *int64
	LotID     *int64
	HasEnded  *bool
	EndedFrom *time.Time // inclusive
	EndedTo   *time.Time // exclusive
}

// ElapsedClaim is an occupied spot whose most recent reservation has an end
// time in the past.
type ElapsedClaim struct {
	ReservationID int64
	SpotID        int64
	LotID         int64
	EndTime       time.Time
}
