package ratelimit

import (
	"campusconnect/backend/internal/redisx"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Limiter struct {
	R   *redisx.Client
	now func() time.Time
}

func New(r *redisx.Client) *Limiter { return &Limiter{R: r, now: time.Now} }

// Allow records one hit for key and reports whether the hits of the last
// window, this one included, stay within limit. The count is returned
// either way. Hits are kept in a sorted set scored by time, so the window
// slides with every call; refused hits are taken back out and do not eat
// into the budget.
func (l *Limiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	k := "rl:" + key
	now := l.now().UnixMicro()
	member := uuid.NewString()

	pipe := l.R.R.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(now-window.Microseconds(), 10))
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(now), Member: member})
	card := pipe.ZCard(ctx, k)
	pipe.PExpire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}

	n := card.Val()
	if n <= limit {
		return true, n, nil
	}
	if err := l.R.R.ZRem(ctx, k, member).Err(); err != nil {
		return false, n, err
	}
	return false, n, nil
}

// Middleware limits the authenticated user to limit requests per window on
// the routes it guards. A Redis outage lets requests through.
func (l *Limiter) Middleware(scope string, limit int64, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("userID")
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated", "code": "UNAUTHENTICATED"})
			return
		}

		ok, n, err := l.Allow(c.Request.Context(), fmt.Sprintf("%s:%v", scope, userID), limit, window)
		if err != nil {
			log.Warn("rate limiter unavailable", "scope", scope, "err", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(max(limit-n, 0), 10))
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": fmt.Sprintf("rate limit exceeded (limit=%d per %s)", limit, window),
				"code":  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
