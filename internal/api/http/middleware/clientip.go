package middleware

import (
	"github.com/gin-gonic/gin"
)

const ClientIPKey = "client_ip"

// ClientIPExtractor resolves the caller address once per request.
// Forwarding headers only count when the engine trusts the peer or a
// platform header; see http.ConfigureEngine.
func ClientIPExtractor() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ClientIPKey, resolveClientIP(c))
		c.Next()
	}
}

func ClientIP(c *gin.Context) string {
	if ip := c.GetString(ClientIPKey); ip != "" {
		return ip
	}
	return resolveClientIP(c)
}

func resolveClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}
