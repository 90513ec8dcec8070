package api

import (
	"time"

	"gopkg.in/guregu/null.v4"

	"slotly-backend/internal/analytics"
	"slotly-backend/internal/model"
	"slotly-backend/internal/pricing"
)

type lotResponse struct {
	ID             int64          `json:"id"`
	Name           string         `json:"name"`
	Address        string         `json:"address"`
	PostalCode     string         `json:"postal_code"`
	HourlyRate     float64        `json:"hourly_rate"`
	Capacity       int            `json:"capacity"`
	AvailableSpots int64          `json:"available_spots"`
	OccupiedSpots  int64          `json:"occupied_spots"`
	Spots          []spotResponse `json:"spots,omitempty"`
}

func newLotResponse(lot model.Lot, counts analytics.SpotCounts) lotResponse {
	return lotResponse{
		ID:             lot.ID,
		Name:           lot.Name,
		Address:        lot.Address,
		PostalCode:     lot.PostalCode,
		HourlyRate:     lot.HourlyRate,
		Capacity:       lot.Capacity,
		AvailableSpots: counts.Available,
		OccupiedSpots:  counts.Occupied,
	}
}

type spotResponse struct {
	ID     int64            `json:"id"`
	LotID  int64            `json:"lot_id"`
	Status model.SpotStatus `json:"status"`
}

func newSpotResponse(s model.Spot) spotResponse {
	return spotResponse{ID: s.ID, LotID: s.LotID, Status: s.Status}
}

func newSpotResponses(spots []model.Spot) []spotResponse {
	out := make([]spotResponse, len(spots))
	for i, s := range spots {
		out[i] = newSpotResponse(s)
	}
	return out
}

// reservationResponse renders a reservation with its cost. EndTime and Cost
// are null while the reservation is open.
type reservationResponse struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	SpotID      int64      `json:"spot_id"`
	LotID       int64      `json:"lot_id"`
	LotName     string     `json:"lot_name"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     null.Time  `json:"end_time"`
	CostPerHour float64    `json:"cost_per_hour"`
	Cost        null.Float `json:"cost"`
	Active      bool       `json:"active"`
}

func newReservationResponse(r model.Reservation, now time.Time) reservationResponse {
	resp := reservationResponse{
		ID:          r.ID,
		UserID:      r.UserID,
		SpotID:      r.SpotID,
		LotID:       r.Spot.LotID,
		LotName:     r.LotName(),
		StartTime:   r.StartTime,
		EndTime:     null.TimeFromPtr(r.EndTime),
		CostPerHour: r.CostPerHour,
		Active:      r.ActiveAt(now),
	}
	if cost, err := pricing.Cost(r); err == nil {
		resp.Cost = null.FloatFrom(pricing.Round(cost))
	}
	return resp
}

func newReservationResponses(rs []model.Reservation, now time.Time) []reservationResponse {
	out := make([]reservationResponse, len(rs))
	for i, r := range rs {
		out[i] = newReservationResponse(r, now)
	}
	return out
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

type salesResponse struct {
	analytics.SalesReport
	Reservations []reservationResponse `json:"reservations"`
}
