package api

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"slotly-backend/internal/booking"
	"slotly-backend/internal/mw"
	"slotly-backend/internal/report"
	"slotly-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	booking *booking.Service
	reports *report.Reader
	webpush *webpush.Options
	loc     *time.Location
	now     func() time.Time
}

// NewHandler creates a new API handler. loc is the zone timestamps
// without an offset are read in, and the zone calendar months are cut in.
func NewHandler(s store.Store, svc *booking.Service, reports *report.Reader, webpushOptions *webpush.Options, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		store:   s,
		booking: svc,
		reports: reports,
		webpush: webpushOptions,
		loc:     loc,
		now:     time.Now,
	}
}

// errorStatus maps an error kind onto an HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, booking.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, booking.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, booking.ErrNoCapacity), errors.Is(err, booking.ErrConflict), errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, booking.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError is the single place errors become HTTP responses.
func writeError(c *gin.Context, err error) {
	status := errorStatus(err)
	log.Printf("[%s] %s %s -> %d: %v", c.GetString(mw.RequestIDKey), c.Request.Method, c.FullPath(), status, err)

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// unavailable classifies a failure of a read outside the booking service.
func unavailable(err error) error {
	return fmt.Errorf("%w: %v", booking.ErrStoreUnavailable, err)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

// bindOptionalJSON binds the request body when there is one.
func bindOptionalJSON(c *gin.Context, obj any) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
