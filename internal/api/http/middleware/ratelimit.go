package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rty23111-ctrl/agent-identity/internal/apperr"
	"github.com/rty23111-ctrl/agent-identity/internal/audit"
	"github.com/rty23111-ctrl/agent-identity/internal/metrics"
	"github.com/rty23111-ctrl/agent-identity/internal/ratelimit"
)

// RateLimit counts the request against bucket for the caller IP. Rejections
// are audited under action when one is given.
func RateLimit(l *ratelimit.Limiter, m *metrics.Metrics, bucket, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := l.Allow(c.Request.Context(), bucket, ClientIP(c))
		if err != nil {
			AbortWithError(c, apperr.Internal(fmt.Errorf("rate limit check failed: %w", err)))
			return
		}
		if d.Allowed {
			c.Next()
			return
		}

		if m != nil {
			m.RateLimitedTotal.WithLabelValues(bucket).Inc()
		}
		RecordAudit(c, action, audit.OutcomeDenied, http.StatusTooManyRequests,
			map[string]any{"reason": "rate-limited"}, "")
		c.Header("Retry-After", strconv.Itoa(d.RetryAfterSeconds))
		AbortWithError(c, apperr.RateLimited(map[string]any{
			"bucket":            d.Bucket,
			"ip":                d.IP,
			"maxRequests":       d.Limit,
			"windowSeconds":     d.WindowSeconds,
			"retryAfterSeconds": d.RetryAfterSeconds,
		}))
	}
}
