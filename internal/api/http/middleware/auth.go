package middleware

import (
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rty23111-ctrl/agent-identity/internal/apikey"
	"github.com/rty23111-ctrl/agent-identity/internal/apperr"
	"github.com/rty23111-ctrl/agent-identity/internal/audit"
)

const (
	apiKeyHeader = "X-API-Key"
)

var bearerPattern = regexp.MustCompile(`(?i)^Bearer\s+(.+)$`)

var errUnauthorized = apperr.Unauthorized(apperr.CodeUnauthorized, "Valid API key required").
	WithDetails(map[string]any{
		"accepted": []string{"x-api-key", "authorization: Bearer <token>"},
	})

// BearerToken extracts the token of an Authorization: Bearer header.
func BearerToken(r *http.Request) string {
	m := bearerPattern.FindStringSubmatch(strings.TrimSpace(r.Header.Get("Authorization")))
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// APIKeyAuth guards admin routes with a shared key, given in plain text or
// as a bcrypt hash. With neither configured the routes are open.
func APIKeyAuth(apiKey, apiKeyHash string) gin.HandlerFunc {
	apiKey = strings.TrimSpace(apiKey)
	apiKeyHash = strings.TrimSpace(apiKeyHash)

	return func(c *gin.Context) {
		if apiKey == "" && apiKeyHash == "" {
			c.Next()
			return
		}

		providedKey := strings.TrimSpace(c.GetHeader(apiKeyHeader))
		if providedKey == "" {
			providedKey = BearerToken(c.Request)
		}

		if providedKey == "" || !apikey.Matches(providedKey, apiKey, apiKeyHash) {
			slog.Warn("Invalid API key attempt",
				"path", c.Request.URL.Path,
				"client_ip", ClientIP(c))
			RecordAudit(c, "auth.api", audit.OutcomeDenied, http.StatusUnauthorized,
				map[string]any{"reason": "missing-or-invalid-api-key"}, "")
			AbortWithError(c, errUnauthorized)
			return
		}

		c.Next()
	}
}
