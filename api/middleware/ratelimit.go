package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/use-agent/faceswap/config"
	"github.com/use-agent/faceswap/models"
	"golang.org/x/time/rate"
)

const (
	maxTrackedIdentities = 10_000
	limiterIdleTTL       = time.Hour
)

// RateLimit returns per-identity (API key fingerprint or IP) token-bucket
// rate limiting middleware powered by golang.org/x/time/rate.
//
// Limiters live in an expirable LRU, so identities idle for an hour are
// dropped and memory stays bounded. Rejections carry Retry-After.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := expirable.NewLRU[string, *rate.Limiter](maxTrackedIdentities, nil, limiterIdleTTL)

	getLimiter := func(identity string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters.Get(identity)
		if !ok {
			l = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
		}
		// Re-adding refreshes the idle deadline.
		limiters.Add(identity, l)
		return l
	}

	return func(c *gin.Context) {
		identity := c.GetString(IdentityKey)
		if identity == "" {
			identity = c.ClientIP()
		}

		r := getLimiter(identity).Reserve()
		if delay := r.Delay(); !r.OK() || delay > 0 {
			r.Cancel()
			retryAfter := 1
			if r.OK() {
				retryAfter = int(math.Ceil(delay.Seconds()))
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.SwapErrorResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeRateLimited,
					Message: "rate limit exceeded, please slow down",
				},
			})
			return
		}

		c.Next()
	}
}
