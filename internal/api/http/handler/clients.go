package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rty23111-ctrl/agent-identity/internal/api/http/dto"
	"github.com/rty23111-ctrl/agent-identity/internal/api/http/middleware"
	"github.com/rty23111-ctrl/agent-identity/internal/apperr"
	"github.com/rty23111-ctrl/agent-identity/internal/audit"
	"github.com/rty23111-ctrl/agent-identity/internal/clients"
	"github.com/rty23111-ctrl/agent-identity/internal/paid"
)

type ClientHandler struct {
	clients *clients.Service
	paid    *paid.Service
}

func NewClientHandler(clientService *clients.Service, paidService *paid.Service) *ClientHandler {
	return &ClientHandler{
		clients: clientService,
		paid:    paidService,
	}
}

// Register adds a client. With the paid extension enabled a client without
// an active instance gets a checkout instead of a registration.
func (h *ClientHandler) Register(ctx *gin.Context) {
	req, appErr := dto.ParseRegisterRequest(readBody(ctx))
	if appErr != nil {
		reason := "invalid-client-id-body"
		if appErr.Code == apperr.CodeInvalidJSON {
			reason = reasonInvalidJSON
		}
		middleware.RecordAudit(ctx, ActionRegister, audit.OutcomeFailure, appErr.Status, map[string]any{"reason": reason}, "")
		middleware.AbortWithError(ctx, appErr)
		return
	}

	if h.paid != nil && h.paid.Enabled() {
		checkout, err := h.paid.RequireCheckout(ctx.Request.Context(), paid.CheckoutInput{
			AgentID:    req.ClientID,
			SuccessURL: req.SuccessURL,
			CancelURL:  req.CancelURL,
			Origin:     requestOrigin(ctx),
		}, middleware.IsPaidTestRequest(ctx, h.paid.TestToken()))
		if err != nil {
			appErr := paidError(err)
			middleware.RecordAudit(ctx, ActionRegister, audit.OutcomeFailure, appErr.Status,
				map[string]any{"reason": "checkout-create-failed", "message": appErr.Message}, req.ClientID)
			middleware.AbortWithError(ctx, appErr)
			return
		}
		if checkout != nil {
			middleware.RecordAudit(ctx, ActionRegister, audit.OutcomePendingPayment, http.StatusOK,
				map[string]any{"checkoutUrl": checkout.CheckoutURL}, req.ClientID)
			ctx.JSON(http.StatusOK, dto.PaymentRequiredResponse{
				PaymentRequired: true,
				CheckoutURL:     checkout.CheckoutURL,
				AgentID:         req.ClientID,
				Status:          string(checkout.Status),
			})
			return
		}
	}

	_, _, err := h.clients.Register(ctx.Request.Context(), req.ClientID)
	if err != nil {
		middleware.AbortWithError(ctx, err)
		return
	}
	total, err := h.clients.Count(ctx.Request.Context())
	if err != nil {
		middleware.AbortWithError(ctx, err)
		return
	}

	middleware.RecordAudit(ctx, ActionRegister, audit.OutcomeSuccess, http.StatusOK,
		map[string]any{"totalClients": total}, req.ClientID)
	ctx.JSON(http.StatusOK, dto.RegisterResponse{
		Registered:   req.ClientID,
		TotalClients: total,
	})
}

func (h *ClientHandler) List(ctx *gin.Context) {
	limitRaw, present := ctx.GetQuery("limit")
	limit, appErr := dto.ParseLimit(limitRaw, present)
	if appErr != nil {
		middleware.RecordAudit(ctx, ActionListClients, audit.OutcomeFailure, appErr.Status,
			map[string]any{"reason": "invalid-limit", "limit": limitRaw}, "")
		middleware.AbortWithError(ctx, appErr)
		return
	}

	page, err := h.clients.List(ctx.Request.Context(), limit, ctx.Query("cursor"))
	if err != nil {
		middleware.AbortWithError(ctx, err)
		return
	}

	resp := dto.ListClientsResponse{
		Clients: page.Clients,
		Pagination: dto.Pagination{
			Limit:   limit,
			HasMore: page.HasMore,
		},
	}
	if resp.Clients == nil {
		resp.Clients = []clients.Client{}
	}
	if page.NextCursor != "" {
		resp.Pagination.NextCursor = &page.NextCursor
	}

	middleware.RecordAudit(ctx, ActionListClients, audit.OutcomeSuccess, http.StatusOK,
		map[string]any{"count": len(resp.Clients), "hasMore": page.HasMore}, "")
	ctx.JSON(http.StatusOK, resp)
}

// Purge deletes every registered client. Rate-limit counters and paid
// instance records are kept.
func (h *ClientHandler) Purge(ctx *gin.Context) {
	deleted, err := h.clients.DeleteAll(ctx.Request.Context())
	if err != nil {
		middleware.AbortWithError(ctx, err)
		return
	}

	middleware.RecordAudit(ctx, ActionPurgeClients, audit.OutcomeSuccess, http.StatusOK,
		map[string]any{"deletedCount": deleted}, "")
	ctx.JSON(http.StatusOK, dto.PurgeClientsResponse{DeletedCount: deleted, Remaining: 0})
}

func (h *ClientHandler) Delete(ctx *gin.Context) {
	clientID := strings.TrimSpace(ctx.Param("id"))
	if !clients.ValidID(clientID) {
		middleware.RecordAudit(ctx, ActionDeleteClient, audit.OutcomeFailure, http.StatusBadRequest,
			map[string]any{"reason": "invalid-client-id", "clientId": clientID}, "")
		middleware.AbortWithError(ctx, errInvalidClientID)
		return
	}

	removed, err := h.clients.Delete(ctx.Request.Context(), clientID)
	if err != nil {
		middleware.AbortWithError(ctx, err)
		return
	}
	if !removed {
		middleware.RecordAudit(ctx, ActionDeleteClient, audit.OutcomeFailure, http.StatusNotFound,
			map[string]any{"reason": reasonClientNotFound}, clientID)
		middleware.AbortWithError(ctx, errClientNotFound)
		return
	}

	middleware.RecordAudit(ctx, ActionDeleteClient, audit.OutcomeSuccess, http.StatusOK, nil, clientID)
	ctx.JSON(http.StatusOK, dto.DeleteClientResponse{Deleted: clientID})
}
