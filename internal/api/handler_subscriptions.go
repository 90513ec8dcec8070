package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"slotly-backend/internal/model"
	"slotly-backend/internal/store"
)

type putSubscriptionRequest struct {
	Endpoint       string  `json:"endpoint" binding:"required"`
	P256DH         string  `json:"p256dh" binding:"required"`
	Auth           string  `json:"auth" binding:"required"`
	SubscribedLots []int64 `json:"subscribed_lots"`
}

// PutSubscription creates or replaces the caller's subscription and the set
// of lots it watches.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	ctx := c.Request.Context()
	uid := callerIdentity(c).UserID
	if existing, err := h.store.GetSubscription(ctx, req.Endpoint); err == nil && existing.UserID != uid {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "subscription belongs to another user"})
		return
	}

	subscription := model.PushSubscription{
		Endpoint: req.Endpoint,
		UserID:   uid,
		P256DH:   req.P256DH,
		Auth:     req.Auth,
	}
	if err := h.store.PutSubscription(ctx, &subscription, req.SubscribedLots); err != nil {
		writeError(c, unavailable(err))
		return
	}

	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription removes the caller's subscription.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	if _, ok := h.ownedSubscription(c, req.Endpoint); !ok {
		return
	}
	if err := h.store.DeleteSubscription(c.Request.Context(), req.Endpoint); err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(c, unavailable(err))
		return
	}

	c.Status(http.StatusNoContent)
}

// rawQueryParam returns a query value without URL decoding. Push endpoints
// embed tokens whose escaping must survive the round trip.
func rawQueryParam(rawQuery, key string) (string, bool) {
	for _, kv := range strings.Split(rawQuery, "&") {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

// GetSubscription returns the lots watched by one of the caller's
// subscriptions.
func (h *Handler) GetSubscription(c *gin.Context) {
	raw, ok := rawQueryParam(c.Request.URL.RawQuery, "endpoint")
	if !ok || raw == "" {
		badRequest(c, "endpoint is required")
		return
	}

	subscription, ok := h.ownedSubscription(c, raw)
	if !ok {
		return
	}

	lotIDs := make([]int64, len(subscription.Lots))
	for i, lot := range subscription.Lots {
		lotIDs[i] = lot.ID
	}
	c.JSON(http.StatusOK, gin.H{"subscribed_lots": lotIDs})
}

// ownedSubscription loads a subscription of the caller, writing the error
// response itself when there is none.
func (h *Handler) ownedSubscription(c *gin.Context, endpoint string) (*model.PushSubscription, bool) {
	sub, err := h.store.GetSubscription(c.Request.Context(), endpoint)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		return nil, false
	case err != nil:
		writeError(c, unavailable(err))
		return nil, false
	case sub.UserID != callerIdentity(c).UserID:
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		return nil, false
	}
	return sub, true
}

// GetVAPIDPublicKey returns the application server key browsers need to
// create a subscription.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push notifications are not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": h.webpush.VAPIDPublicKey})
}
