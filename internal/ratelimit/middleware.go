package ratelimit

import (
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/ZanzyTHEbar/fundscope/internal/errors"
	"github.com/ZanzyTHEbar/fundscope/internal/monitoring"
)

// KeyFunc derives the limiter key of a request.
type KeyFunc func(c *gin.Context) string

// ClientIPKey limits per client address.
func ClientIPKey(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// ActorOrIPKey limits per authenticated actor when one is set under
// actorKey, otherwise per client address.
func ActorOrIPKey(actorKey string) KeyFunc {
	return func(c *gin.Context) string {
		if actor := c.GetString(actorKey); actor != "" {
			return "actor:" + actor
		}
		return ClientIPKey(c)
	}
}

// Middleware enforces l on every request. A limiter failure lets the
// request through; a block is reported through the error handler as a
// rate-limit error.
func Middleware(l Limiter, key KeyFunc, metrics *monitoring.Metrics, logger *slog.Logger) gin.HandlerFunc {
	if key == nil {
		key = ClientIPKey
	}
	if logger == nil {
		logger = monitoring.Discard()
	}
	return func(c *gin.Context) {
		k := key(c)
		result, err := l.Allow(c.Request.Context(), k)
		if err != nil {
			logger.Error("Rate limit check failed", "key", k, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			if metrics != nil {
				metrics.IncrementRateLimitBlock()
			}
			secs := int(result.RetryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			_ = c.Error(apperrors.NewRateLimitError(result.RetryAfter))
			c.Abort()
			return
		}

		c.Next()
	}
}
