package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"slotly-backend/internal/parse"
)

// ListLots handles GET /api/lots?q=.
func (h *Handler) ListLots(c *gin.Context) {
	ctx := c.Request.Context()
	lots, err := h.booking.ListLots(ctx, c.Query("q"))
	if err != nil {
		writeError(c, err)
		return
	}
	counts, err := h.reports.SpotCounts(ctx)
	if err != nil {
		writeError(c, unavailable(err))
		return
	}

	resp := make([]lotResponse, len(lots))
	for i, lot := range lots {
		resp[i] = newLotResponse(lot, counts[lot.ID])
	}
	c.JSON(http.StatusOK, resp)
}

// GetLot handles GET /api/lots/:lot_id.
func (h *Handler) GetLot(c *gin.Context) {
	lotID, err := parse.ID(c.Param("lot_id"))
	if err != nil {
		badRequest(c, "invalid lot id")
		return
	}

	ctx := c.Request.Context()
	lot, err := h.booking.GetLot(ctx, lotID)
	if err != nil {
		writeError(c, err)
		return
	}
	spots, err := h.booking.Spots(ctx, lotID)
	if err != nil {
		writeError(c, err)
		return
	}
	counts, err := h.reports.LotSpotCounts(ctx, lotID)
	if err != nil {
		writeError(c, unavailable(err))
		return
	}

	resp := newLotResponse(*lot, counts)
	resp.Spots = newSpotResponses(spots)
	c.JSON(http.StatusOK, resp)
}
