package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"slotly-backend/config"
	"slotly-backend/internal/mw"
)

// RouterOptions carries the pieces of the router that live outside the
// handler.
type RouterOptions struct {
	// Live serves the websocket feed; the route is omitted when nil.
	Live gin.HandlerFunc
	// Limiter overrides the per-IP limiter built from the server config.
	Limiter *mw.IPRateLimiter
}

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg config.ServerConfig, h *Handler, auth *Authenticator, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(mw.RequestID(), gin.LoggerWithFormatter(logFormatter), gin.Recovery())
	r.TrustedPlatform = cfg.RequestIPHeader

	limiter := opts.Limiter
	if limiter == nil {
		limiter = mw.NewIPRateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	}

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(ttl, 2*ttl)
	caching := mw.Cache(cacheStore, ttl)

	api := r.Group("/api")
	api.Use(mw.RateLimiter(limiter), mw.Invalidate(cacheStore))
	{
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
		if opts.Live != nil {
			api.GET("/live", opts.Live)
		}

		authed := api.Group("", auth.Authenticate())
		authed.GET("/lots", h.ListLots)
		authed.GET("/lots/:lot_id", h.GetLot)
		authed.POST("/lots/:lot_id/reservations", h.Book)

		authed.GET("/reservations", h.ListReservations)
		authed.POST("/reservations/release", h.Release)
		authed.GET("/reservations/:id", h.GetReservation)
		authed.POST("/reservations/:id/extend", h.Extend)

		authed.GET("/me/analytics", h.MyAnalytics)

		authed.GET("/subscriptions", h.GetSubscription)
		authed.PUT("/subscriptions", h.PutSubscription)
		authed.DELETE("/subscriptions", h.DeleteSubscription)

		admin := authed.Group("/admin", RequireAdmin())
		admin.POST("/lots", h.CreateLot)
		admin.PUT("/lots/:lot_id", h.UpdateLot)
		admin.DELETE("/lots/:lot_id", h.DeleteLot)
		admin.GET("/lots/:lot_id/spots", h.ListSpots)
		admin.POST("/spots", h.AddSpot)
		admin.PUT("/spots/:spot_id", h.SetSpotStatus)
		admin.DELETE("/spots/:spot_id", h.DeleteSpot)
		admin.GET("/users", h.ListUsers)
		admin.GET("/sales", caching, h.Sales)
		admin.GET("/summary", caching, h.Summary)
	}

	return r
}

func logFormatter(p gin.LogFormatterParams) string {
	id, _ := p.Keys[mw.RequestIDKey].(string)
	return fmt.Sprintf("[GIN] %s | %s | %3d | %13v | %15s | %-7s %s\n",
		p.TimeStamp.Format("2006/01/02 - 15:04:05"), id, p.StatusCode, p.Latency, p.ClientIP, p.Method, p.Path)
}
