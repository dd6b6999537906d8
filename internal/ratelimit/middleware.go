package ratelimit

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/SonGiHyeon/CV-API/internal/errors"
)

// IPRateLimitMiddleware rejects clients over their per-minute budget with 429.
// It must run after errors.ErrorHandler so the AppError gets rendered.
func (rl *RateLimiter) IPRateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		result, err := rl.AllowIP(c.Request.Context(), ip)
		if err != nil {
			// a broken limiter never blocks traffic
			slog.Error("Rate limit check failed", "ip", ip, "error", err)
			c.Next()
			return
		}

		writeHeaders(c, "X-RateLimit", result)

		if !result.Allowed {
			reject(c, result)
			return
		}
		c.Next()
	}
}

// EndpointRateLimitMiddleware applies a tighter per-IP budget to one route
// group, keyed separately from the global IP budget.
func (rl *RateLimiter) EndpointRateLimitMiddleware(endpoint string, limit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		key := "ratelimit:endpoint:" + endpoint + ":" + ip

		result, err := rl.allow(c.Request.Context(), key, limit, time.Minute)
		if err != nil {
			slog.Error("Endpoint rate limit check failed", "endpoint", endpoint, "ip", ip, "error", err)
			c.Next()
			return
		}

		writeHeaders(c, "X-RateLimit-Endpoint", result)

		if !result.Allowed {
			if rl.metrics != nil {
				rl.metrics.IncrementRateLimitIPBlock()
			}
			reject(c, result)
			return
		}
		c.Next()
	}
}

func writeHeaders(c *gin.Context, prefix string, result *Result) {
	c.Header(prefix+"-Limit", strconv.Itoa(result.Limit))
	c.Header(prefix+"-Remaining", strconv.Itoa(result.Remaining))
	c.Header(prefix+"-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func reject(c *gin.Context, result *Result) {
	seconds := int(result.RetryAfter.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(seconds))
	_ = c.Error(apperrors.NewRateLimitError(strconv.Itoa(seconds) + "s"))
	c.Abort()
}
