package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rty23111-ctrl/agent-identity/internal/audit"
)

const auditEmitterKey = "audit_emitter"

func Audit(e *audit.Emitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(auditEmitterKey, e)
		c.Next()
	}
}

// RecordAudit emits one audit event for the current request. It is a no-op
// without an enabled emitter or an action.
func RecordAudit(c *gin.Context, action, outcome string, status int, details map[string]any, clientID string) {
	if action == "" {
		return
	}
	v, _ := c.Get(auditEmitterKey)
	e, _ := v.(*audit.Emitter)
	if !e.Enabled() {
		return
	}
	e.Emit(audit.Event{
		RequestID: GetRequestID(c),
		Action:    action,
		Outcome:   outcome,
		Status:    status,
		ClientID:  clientID,
		IP:        ClientIP(c),
		Method:    c.Request.Method,
		Path:      c.Request.URL.Path,
		Details:   details,
	})
}
