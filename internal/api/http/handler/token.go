package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rty23111-ctrl/agent-identity/internal/api/http/dto"
	"github.com/rty23111-ctrl/agent-identity/internal/api/http/middleware"
	"github.com/rty23111-ctrl/agent-identity/internal/apperr"
	"github.com/rty23111-ctrl/agent-identity/internal/audit"
	"github.com/rty23111-ctrl/agent-identity/internal/clients"
	"github.com/rty23111-ctrl/agent-identity/internal/metrics"
	"github.com/rty23111-ctrl/agent-identity/internal/token"
)

type TokenHandler struct {
	clients *clients.Service
	tokens  *token.Service
	ttl     time.Duration
	metrics *metrics.Metrics
}

func NewTokenHandler(clientService *clients.Service, tokenService *token.Service, ttl time.Duration, m *metrics.Metrics) *TokenHandler {
	return &TokenHandler{
		clients: clientService,
		tokens:  tokenService,
		ttl:     ttl,
		metrics: m,
	}
}

// Issue signs a token for a registered client with its stored
// capabilities.
func (h *TokenHandler) Issue(ctx *gin.Context) {
	req, appErr := dto.ParseIssueTokenRequest(readBody(ctx))
	if appErr != nil {
		reason := "invalid-client-id-body"
		if appErr.Code == apperr.CodeInvalidJSON {
			reason = reasonInvalidJSON
		}
		middleware.RecordAudit(ctx, ActionIssueToken, audit.OutcomeFailure, appErr.Status, map[string]any{"reason": reason}, "")
		middleware.AbortWithError(ctx, appErr)
		return
	}

	client, err := h.clients.Get(ctx.Request.Context(), req.ClientID)
	if errors.Is(err, clients.ErrClientNotFound) {
		middleware.RecordAudit(ctx, ActionIssueToken, audit.OutcomeFailure, http.StatusNotFound,
			map[string]any{"reason": reasonClientNotFound}, req.ClientID)
		middleware.AbortWithError(ctx, errClientNotFound)
		return
	}
	if err != nil {
		middleware.AbortWithError(ctx, err)
		return
	}

	signed, source, err := h.tokens.Issue(client.ClientID, client.Capabilities, h.ttl, req.PrivateKey)
	if err != nil {
		appErr := keyError(err)
		middleware.RecordAudit(ctx, ActionIssueToken, audit.OutcomeFailure, appErr.Status,
			map[string]any{"reason": keyFailureReason(err), "message": appErr.Message}, req.ClientID)
		middleware.AbortWithError(ctx, appErr)
		return
	}

	if h.metrics != nil {
		h.metrics.TokensIssuedTotal.WithLabelValues(string(source)).Inc()
	}
	middleware.RecordAudit(ctx, ActionIssueToken, audit.OutcomeSuccess, http.StatusOK,
		map[string]any{"exp": signed.Payload.ExpiresAt, "keySource": string(source)}, req.ClientID)
	ctx.JSON(http.StatusOK, signed)
}

// Validate checks signature, expiry and that the client is still
// registered, in that order.
func (h *TokenHandler) Validate(ctx *gin.Context) {
	req, appErr := dto.ParseValidateRequest(readBody(ctx))
	if appErr != nil {
		reason := "invalid-token-format"
		if appErr.Code == apperr.CodeInvalidJSON {
			reason = reasonInvalidJSON
		}
		middleware.RecordAudit(ctx, ActionValidateToken, audit.OutcomeFailure, appErr.Status, map[string]any{"reason": reason}, "")
		middleware.AbortWithError(ctx, appErr)
		return
	}
	clientID := req.Token.Payload.ClientID

	result, source, err := h.tokens.Verify(req.Token, req.PublicKey)
	if err != nil {
		appErr := keyError(err)
		middleware.RecordAudit(ctx, ActionValidateToken, audit.OutcomeFailure, appErr.Status,
			map[string]any{"reason": keyFailureReason(err), "message": appErr.Message}, clientID)
		middleware.AbortWithError(ctx, appErr)
		return
	}

	if !result.SignatureValid {
		h.recordValidation("invalid_signature")
		middleware.RecordAudit(ctx, ActionValidateToken, audit.OutcomeFailure, http.StatusUnauthorized,
			map[string]any{"reason": "invalid-signature"}, clientID)
		middleware.AbortWithError(ctx, errInvalidSignature)
		return
	}
	if result.Expired {
		details := map[string]any{"exp": req.Token.Payload.ExpiresAt, "now": result.Now}
		h.recordValidation("expired")
		middleware.RecordAudit(ctx, ActionValidateToken, audit.OutcomeFailure, http.StatusUnauthorized,
			map[string]any{"reason": "expired", "exp": req.Token.Payload.ExpiresAt, "now": result.Now}, clientID)
		middleware.AbortWithError(ctx, errTokenExpired.WithDetails(details))
		return
	}

	_, err = h.clients.Get(ctx.Request.Context(), clientID)
	if errors.Is(err, clients.ErrClientNotFound) {
		h.recordValidation("client_not_found")
		middleware.RecordAudit(ctx, ActionValidateToken, audit.OutcomeFailure, http.StatusNotFound,
			map[string]any{"reason": reasonClientNotFound}, clientID)
		middleware.AbortWithError(ctx, errClientNotFound.WithDetails(map[string]any{"clientId": clientID}))
		return
	}
	if err != nil {
		middleware.AbortWithError(ctx, err)
		return
	}

	h.recordValidation("valid")
	middleware.RecordAudit(ctx, ActionValidateToken, audit.OutcomeSuccess, http.StatusOK,
		map[string]any{"keySource": string(source)}, clientID)
	ctx.JSON(http.StatusOK, dto.ValidateResponse{Valid: true, Payload: req.Token.Payload})
}

func (h *TokenHandler) recordValidation(result string) {
	if h.metrics != nil {
		h.metrics.TokenValidationsTotal.WithLabelValues(result).Inc()
	}
}
