package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"slotly-backend/internal/analytics"
	"slotly-backend/internal/booking"
	"slotly-backend/internal/model"
	"slotly-backend/internal/parse"
)

type lotRequest struct {
	Name       string  `json:"name" binding:"required"`
	Address    string  `json:"address" binding:"required"`
	PostalCode string  `json:"postal_code" binding:"required"`
	HourlyRate float64 `json:"hourly_rate" binding:"gt=0"`
	Capacity   int     `json:"capacity" binding:"gte=0"`
	Spots      int     `json:"spots" binding:"gte=0"`
}

func (r lotRequest) input() booking.LotInput {
	return booking.LotInput{
		Name:       r.Name,
		Address:    r.Address,
		PostalCode: r.PostalCode,
		HourlyRate: r.HourlyRate,
		Capacity:   r.Capacity,
		Spots:      r.Spots,
	}
}

// CreateLot handles POST /api/admin/lots.
func (h *Handler) CreateLot(c *gin.Context) {
	var req lotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	lot, err := h.booking.CreateLot(c.Request.Context(), req.input())
	if err != nil {
		writeError(c, err)
		return
	}
	resp := newLotResponse(*lot, availableOnly(lot.Spots))
	resp.Spots = newSpotResponses(lot.Spots)
	c.JSON(http.StatusCreated, resp)
}

func availableOnly(spots []model.Spot) analytics.SpotCounts {
	var counts analytics.SpotCounts
	for _, s := range spots {
		if s.Status == model.SpotOccupied {
			counts.Occupied++
		} else {
			counts.Available++
		}
	}
	return counts
}

// UpdateLot handles PUT /api/admin/lots/:lot_id.
func (h *Handler) UpdateLot(c *gin.Context) {
	lotID, err := parse.ID(c.Param("lot_id"))
	if err != nil {
		badRequest(c, "invalid lot id")
		return
	}
	var req lotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	ctx := c.Request.Context()
	lot, err := h.booking.UpdateLot(ctx, lotID, req.input())
	if err != nil {
		writeError(c, err)
		return
	}
	counts, err := h.reports.LotSpotCounts(ctx, lotID)
	if err != nil {
		writeError(c, unavailable(err))
		return
	}
	c.JSON(http.StatusOK, newLotResponse(*lot, counts))
}

// DeleteLot handles DELETE /api/admin/lots/:lot_id.
func (h *Handler) DeleteLot(c *gin.Context) {
	lotID, err := parse.ID(c.Param("lot_id"))
	if err != nil {
		badRequest(c, "invalid lot id")
		return
	}
	if err := h.booking.DeleteLot(c.Request.Context(), lotID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListSpots handles GET /api/admin/lots/:lot_id/spots.
func (h *Handler) ListSpots(c *gin.Context) {
	lotID, err := parse.ID(c.Param("lot_id"))
	if err != nil {
		badRequest(c, "invalid lot id")
		return
	}
	spots, err := h.booking.Spots(c.Request.Context(), lotID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSpotResponses(spots))
}

type addSpotRequest struct {
	LotID int64 `json:"lot_id" binding:"required,gt=0"`
}

// AddSpot handles POST /api/admin/spots.
func (h *Handler) AddSpot(c *gin.Context) {
	var req addSpotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	spot, err := h.booking.AddSpot(c.Request.Context(), req.LotID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newSpotResponse(*spot))
}

type spotStatusRequest struct {
	Status model.SpotStatus `json:"status" binding:"required,oneof=A O"`
}

// SetSpotStatus handles PUT /api/admin/spots/:spot_id.
func (h *Handler) SetSpotStatus(c *gin.Context) {
	spotID, err := parse.ID(c.Param("spot_id"))
	if err != nil {
		badRequest(c, "invalid spot id")
		return
	}
	var req spotStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	spot, err := h.booking.SetSpotStatus(c.Request.Context(), spotID, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSpotResponse(*spot))
}

// DeleteSpot handles DELETE /api/admin/spots/:spot_id.
func (h *Handler) DeleteSpot(c *gin.Context) {
	spotID, err := parse.ID(c.Param("spot_id"))
	if err != nil {
		badRequest(c, "invalid spot id")
		return
	}
	if err := h.booking.DeleteSpot(c.Request.Context(), spotID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListUsers handles GET /api/admin/users.
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.store.ListUsers(c.Request.Context())
	if err != nil {
		writeError(c, unavailable(err))
		return
	}
	resp := make([]userResponse, len(users))
	for i, u := range users {
		resp[i] = userResponse{ID: u.ID, Username: u.Username, FullName: u.FullName, Email: u.Email, Role: u.Role}
	}
	c.JSON(http.StatusOK, resp)
}
