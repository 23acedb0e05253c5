package http

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
)

type Config struct {
	Port uint `mapstructure:"port"`
	// AdminAPIKey and AdminAPIKeyHash (bcrypt) guard the admin routes.
	// Either may be set; with neither the routes are open.
	AdminAPIKey     string   `mapstructure:"admin_api_key"`
	AdminAPIKeyHash string   `mapstructure:"admin_api_key_hash"`
	CORSOrigins     []string `mapstructure:"cors_origins"`
	// TrustedProxies are the IPs or CIDRs whose X-Forwarded-For is
	// believed. Empty trusts no proxy.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
	// TrustedPlatform names an edge whose client IP header is believed
	// from any peer: cloudflare, google-app-engine or a header name. Only
	// set it when the edge is the sole way in.
	TrustedPlatform string `mapstructure:"trusted_platform"`
}

// ConfigureEngine applies the client IP trust settings. gin trusts every
// proxy until told otherwise, so this must run before serving.
func ConfigureEngine(engine *gin.Engine, cfg Config) error {
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return fmt.Errorf("invalid trusted proxies: %w", err)
	}
	engine.TrustedPlatform = platformHeader(cfg.TrustedPlatform)
	return nil
}

func platformHeader(platform string) string {
	switch p := strings.TrimSpace(platform); strings.ToLower(p) {
	case "":
		return ""
	case "cloudflare":
		return gin.PlatformCloudflare
	case "google-app-engine":
		return gin.PlatformGoogleAppEngine
	default:
		return p
	}
}
