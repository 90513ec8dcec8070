package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"slotly-backend/internal/analytics"
	"slotly-backend/internal/store"
)

// MyAnalytics handles GET /api/me/analytics.
func (h *Handler) MyAnalytics(c *gin.Context) {
	uid := callerIdentity(c).UserID
	rs, err := h.booking.History(c.Request.Context(), store.ReservationFilter{UserID: &uid})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, analytics.Summarize(rs, h.now().In(h.loc), analytics.UserMonths))
}

// Sales handles GET /api/admin/sales.
func (h *Handler) Sales(c *gin.Context) {
	now := h.now()
	ended := true
	rs, err := h.booking.History(c.Request.Context(), store.ReservationFilter{HasEnded: &ended})
	if err != nil {
		writeError(c, err)
		return
	}
	report := analytics.Sales(rs, now.In(h.loc))
	c.JSON(http.StatusOK, salesResponse{
		SalesReport:  report,
		Reservations: newReservationResponses(report.Completed, now),
	})
}

// Summary handles GET /api/admin/summary.
func (h *Handler) Summary(c *gin.Context) {
	ctx := c.Request.Context()
	lots, err := h.booking.ListLots(ctx, "")
	if err != nil {
		writeError(c, err)
		return
	}
	counts, err := h.reports.SpotCounts(ctx)
	if err != nil {
		writeError(c, unavailable(err))
		return
	}
	ended := true
	rs, err := h.booking.History(ctx, store.ReservationFilter{HasEnded: &ended})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, analytics.LotOccupancy(lots, counts, rs))
}
