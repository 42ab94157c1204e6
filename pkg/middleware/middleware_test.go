package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-responder/backend/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimiterRejectsBurstOverflow(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(nil, RateLimiterOptions{
		Limit:          1,
		Burst:          2,
		ExpiryDuration: time.Minute,
		Now:            func() time.Time { return now },
	})

	r := gin.New()
	r.Use(errors.ErrorHandler(), rl.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.Equal(t, "1", w.Header().Get("Retry-After"))
			assert.Contains(t, w.Body.String(), errors.CodeRateLimited)
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "other clients keep their own budget")
}

func TestRateLimiterCleanupDropsIdleClients(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(nil, RateLimiterOptions{
		Limit:          1,
		Burst:          1,
		ExpiryDuration: time.Minute,
		Now:            func() time.Time { return now },
	})

	rl.getLimiter("a")
	rl.getLimiter("b")
	require.Equal(t, 2, rl.Clients())

	now = now.Add(30 * time.Second)
	rl.getLimiter("b")
	now = now.Add(45 * time.Second)

	assert.Equal(t, 1, rl.Cleanup())
	assert.Equal(t, 1, rl.Clients())
}

func TestRequestIDIsGeneratedOrKept(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/id", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c.Request.Context()))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/id", nil))
	generated := w.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, w.Body.String())

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set(RequestIDHeader, "upstream-1")
	r.ServeHTTP(w, req)
	assert.Equal(t, "upstream-1", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "upstream-1", w.Body.String())
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://seller.example"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://seller.example")
	r.ServeHTTP(w, req)
	assert.Equal(t, "https://seller.example", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/x", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
