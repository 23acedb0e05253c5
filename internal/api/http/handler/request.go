package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const maxBodyBytes = 1 << 20

// readBody returns the raw request body, or nil when it cannot be read.
// The parsers report a nil body as invalid JSON.
func readBody(ctx *gin.Context) []byte {
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxBodyBytes)
	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		return nil
	}
	return body
}

// requestOrigin is the scheme and host the caller used to reach us.
func requestOrigin(ctx *gin.Context) string {
	scheme := "http"
	if ctx.Request.TLS != nil {
		scheme = "https"
	}
	if proto := strings.TrimSpace(ctx.GetHeader("X-Forwarded-Proto")); proto != "" {
		scheme = strings.ToLower(strings.Split(proto, ",")[0])
	}
	return scheme + "://" + ctx.Request.Host
}
