package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func do(r http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[http.CanonicalHeaderKey(k)] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCache_ServesRepeatedGetFromStore(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)
	calls := 0

	r := gin.New()
	r.Use(Invalidate(store))
	r.GET("/report", Cache(store, time.Minute), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})
	r.POST("/mutate", func(c *gin.Context) { c.Status(http.StatusCreated) })
	r.POST("/fail", func(c *gin.Context) { c.Status(http.StatusConflict) })

	first := do(r, http.MethodGet, "/report", nil)
	assert.Equal(t, "MISS", first.Header().Get(CacheHeader))
	second := do(r, http.MethodGet, "/report", nil)
	assert.Equal(t, "HIT", second.Header().Get(CacheHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)

	// Failed mutations keep the cache; successful ones flush it.
	do(r, http.MethodPost, "/fail", nil)
	assert.Equal(t, "HIT", do(r, http.MethodGet, "/report", nil).Header().Get(CacheHeader))

	do(r, http.MethodPost, "/mutate", nil)
	third := do(r, http.MethodGet, "/report", nil)
	assert.Equal(t, "MISS", third.Header().Get(CacheHeader))
	assert.JSONEq(t, `{"calls":2}`, third.Body.String())
}

func TestCache_SkipsErrors(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)
	r := gin.New()
	r.GET("/broken", Cache(store, time.Minute), func(c *gin.Context) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "down"})
	})

	do(r, http.MethodGet, "/broken", nil)
	assert.Zero(t, store.ItemCount())
}

func TestRateLimiter_PerIP(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(1), 2)
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	r := gin.New()
	r.Use(RateLimiter(limiter))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := func(ip string) int {
		rq := httptest.NewRequest(http.MethodGet, "/", nil)
		rq.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, rq)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, req("10.0.0.1"))
	assert.Equal(t, http.StatusOK, req("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, req("10.0.0.1"))
	assert.Equal(t, http.StatusOK, req("10.0.0.2"))

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, req("10.0.0.1"))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(1), 1)
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.Allow("a")
	now = now.Add(10 * time.Minute)
	limiter.Allow("b")

	assert.Equal(t, 1, limiter.Cleanup(5*time.Minute))
	assert.Len(t, limiter.visitors, 1)
}

func TestRateLimiter_Disabled(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(NewIPRateLimiter(0, 0)))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", nil).Code)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		seen = c.GetString(RequestIDKey)
		c.Status(http.StatusOK)
	})

	w := do(r, http.MethodGet, "/", nil)
	_, err := uuid.Parse(w.Header().Get(RequestIDHeader))
	require.NoError(t, err)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

	incoming := uuid.NewString()
	w = do(r, http.MethodGet, "/", http.Header{RequestIDHeader: {incoming}})
	assert.Equal(t, incoming, w.Header().Get(RequestIDHeader))

	w = do(r, http.MethodGet, "/", http.Header{RequestIDHeader: {"not-a-uuid"}})
	assert.NotEqual(t, "not-a-uuid", w.Header().Get(RequestIDHeader))
}

func TestCache_DoesNotReplayRequestID(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/report", Cache(store, time.Minute), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	first := do(r, http.MethodGet, "/report", nil)
	second := do(r, http.MethodGet, "/report", nil)
	assert.Equal(t, "HIT", second.Header().Get(CacheHeader))
	assert.NotEqual(t, first.Header().Get(RequestIDHeader), second.Header().Get(RequestIDHeader))
}
