// Package pricing turns reservation durations into money.
package pricing

import (
	"errors"
	"math"
	"time"

	"slotly-backend/internal/model"
)

// ErrOpenReservation is returned when a cost is requested for a reservation
// that has no end time yet.
var ErrOpenReservation = errors.New("reservation has no end time")

// HoursBetween returns the wall-clock time between start and end in
// fractional hours.
func HoursBetween(start, end time.Time) float64 {
	return end.Sub(start).Hours()
}

// Cost returns the amount owed for a completed reservation. Sub-hour
// durations are billed proportionally.
func Cost(r model.Reservation) (float64, error) {
	if r.EndTime == nil {
		return 0, ErrOpenReservation
	}
	return r.CostPerHour * HoursBetween(r.StartTime, *r.EndTime), nil
}

// Total sums the cost of the completed reservations in rs. Open
// reservations are skipped.
func Total(rs []model.Reservation) float64 {
	var sum float64
	for _, r := range rs {
		c, err := Cost(r)
		if err != nil {
			continue
		}
		sum += c
	}
	return sum
}

// Round rounds an amount to cents.
func Round(amount float64) float64 {
	return math.Round(amount*100) / 100
}
