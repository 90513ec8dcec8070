package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"slotly-backend/internal/booking"
	"slotly-backend/internal/parse"
	"slotly-backend/internal/store"
)

type bookRequest struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Book handles POST /api/lots/:lot_id/reservations. Both times are
// optional: the reservation starts now and stays open by default.
func (h *Handler) Book(c *gin.Context) {
	lotID, err := parse.ID(c.Param("lot_id"))
	if err != nil {
		badRequest(c, "invalid lot id")
		return
	}
	var req bookRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	start, err := parse.OptionalTimestamp(req.StartTime, h.loc)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	end, err := parse.OptionalTimestamp(req.EndTime, h.loc)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	r, err := h.booking.Book(c.Request.Context(), booking.BookRequest{
		LotID:  lotID,
		UserID: callerIdentity(c).UserID,
		Start:  start,
		End:    end,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newReservationResponse(*r, h.now()))
}

// ListReservations handles GET /api/reservations?ended=&lot_id=.
func (h *Handler) ListReservations(c *gin.Context) {
	uid := callerIdentity(c).UserID
	filter := store.ReservationFilter{UserID: &uid}

	if raw := c.Query("ended"); raw != "" {
		ended, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "ended must be true or false")
			return
		}
		filter.HasEnded = &ended
	}
	if raw := c.Query("lot_id"); raw != "" {
		lotID, err := parse.ID(raw)
		if err != nil {
			badRequest(c, "invalid lot id")
			return
		}
		filter.LotID = &lotID
	}

	rs, err := h.booking.History(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newReservationResponses(rs, h.now()))
}

// GetReservation handles GET /api/reservations/:id.
func (h *Handler) GetReservation(c *gin.Context) {
	id, err := parse.ID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid reservation id")
		return
	}
	r, err := h.booking.Reservation(c.Request.Context(), id, callerIdentity(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newReservationResponse(*r, h.now()))
}

type releaseRequest struct {
	ReservationID *int64 `json:"reservation_id"`
	EndTime       string `json:"end_time"`
}

// Release handles POST /api/reservations/release. Without a reservation id
// the caller's oldest active reservation is released.
func (h *Handler) Release(c *gin.Context) {
	var req releaseRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	end, err := parse.OptionalTimestamp(req.EndTime, h.loc)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	r, err := h.booking.Release(c.Request.Context(), booking.ReleaseRequest{
		ReservationID: req.ReservationID,
		UserID:        callerIdentity(c).UserID,
		End:           end,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newReservationResponse(*r, h.now()))
}

type extendRequest struct {
	EndTime string `json:"end_time" binding:"required"`
}

// Extend handles POST /api/reservations/:id/extend.
func (h *Handler) Extend(c *gin.Context) {
	id, err := parse.ID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid reservation id")
		return
	}
	var req extendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	newEnd, err := parse.Timestamp(req.EndTime, h.loc)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	r, err := h.booking.Extend(c.Request.Context(), booking.ExtendRequest{
		ReservationID: id,
		UserID:        callerIdentity(c).UserID,
		NewEnd:        newEnd,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newReservationResponse(*r, h.now()))
}
