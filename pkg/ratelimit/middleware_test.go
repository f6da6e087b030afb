package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"pusher/internal/config"
)

func TestRateLimitMiddleware_LimitsAfterBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := NewStore(RateLimitConfig{RPS: 0.001, Burst: 2, CleanupInterval: time.Minute, MaxAge: time.Minute})

	router := gin.New()
	router.Use(RateLimitMiddleware(store))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 1, store.Len())
}

func TestStore_Cleanup(t *testing.T) {
	store := NewStore(RateLimitConfig{RPS: 1, Burst: 1, MaxAge: time.Minute})
	store.Allow("a")
	store.cleanup(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, store.Len())
}

func TestFromSettings(t *testing.T) {
	c := FromSettings(config.RateLimitConfig{RPS: 5})
	assert.Equal(t, 5.0, c.RPS)
	assert.Equal(t, 20, c.Burst)
}
