package booking

import "time"

// EventType names an allocation state change.
type EventType string

const (
	EventBooked   EventType = "booked"
	EventReleased EventType = "released"
	EventExtended EventType = "extended"
	EventExpired  EventType = "expired"
)

// Event describes a committed change to a spot or reservation.
type Event struct {
	Type          EventType `json:"type"`
	LotID         int64     `json:"lot_id"`
	SpotID        int64     `json:"spot_id"`
	ReservationID int64     `json:"reservation_id"`
	At            time.Time `json:"at"`
}

// Publisher receives events after the change has been committed.
// Implementations must not block.
type Publisher interface {
	Publish(Event)
}

// Publishers fans an event out to several publishers.
type Publishers []Publisher

// Publish implements Publisher.
func (ps Publishers) Publish(e Event) {
	for _, p := range ps {
		p.Publish(e)
	}
}
