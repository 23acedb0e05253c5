package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rty23111-ctrl/agent-identity/internal/apperr"
	"github.com/rty23111-ctrl/agent-identity/internal/webhook"
)

const PaidTestRequestKey = "paid_test_request"

var errPaidDisabled = apperr.NotFound(apperr.CodePaidExtensionDisabled, "Paid extension is not enabled")

// PaidGate hides the paid routes unless the extension is enabled or the
// request is a loopback test request carrying testToken.
func PaidGate(enabled bool, testToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		test := IsPaidTestRequest(c, testToken)
		c.Set(PaidTestRequestKey, test)
		if !enabled && !test {
			AbortWithError(c, errPaidDisabled)
			return
		}
		c.Next()
	}
}

// IsPaidTestRequest reports whether the request may use the paid test
// bypass.
func IsPaidTestRequest(c *gin.Context, testToken string) bool {
	if v, ok := c.Get(PaidTestRequestKey); ok {
		return v.(bool)
	}
	return webhook.IsTestRequest(c.Request.RemoteAddr, c.GetHeader(webhook.TestTokenHeader), testToken)
}
