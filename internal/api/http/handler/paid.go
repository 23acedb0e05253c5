package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rty23111-ctrl/agent-identity/internal/api/http/dto"
	"github.com/rty23111-ctrl/agent-identity/internal/api/http/middleware"
	"github.com/rty23111-ctrl/agent-identity/internal/paid"
	"github.com/rty23111-ctrl/agent-identity/internal/webhook"
)

type PaidHandler struct {
	paid     *paid.Service
	verifier *webhook.Verifier
}

func NewPaidHandler(paidService *paid.Service, verifier *webhook.Verifier) *PaidHandler {
	return &PaidHandler{
		paid:     paidService,
		verifier: verifier,
	}
}

func (h *PaidHandler) testRequest(ctx *gin.Context) bool {
	return middleware.IsPaidTestRequest(ctx, h.paid.TestToken())
}

func (h *PaidHandler) Checkout(ctx *gin.Context) {
	req, appErr := dto.ParseCheckoutRequest(readBody(ctx))
	if appErr != nil {
		middleware.AbortWithError(ctx, appErr)
		return
	}

	result, err := h.paid.CreateCheckout(ctx.Request.Context(), paid.CheckoutInput{
		AgentID:    req.AgentID,
		Email:      req.Email,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		Origin:     requestOrigin(ctx),
	}, h.testRequest(ctx))
	if err != nil {
		middleware.AbortWithError(ctx, paidError(err))
		return
	}

	ctx.JSON(http.StatusOK, dto.CheckoutResponse{
		AgentID:           result.AgentID,
		Status:            result.Status,
		CheckoutSessionID: result.CheckoutSessionID,
		CheckoutURL:       result.CheckoutURL,
	})
}

// Webhook accepts payment provider events. In test mode, and for test
// requests, only the loopback test bypass authenticates the call.
func (h *PaidHandler) Webhook(ctx *gin.Context) {
	body := readBody(ctx)
	test := h.testRequest(ctx)

	var valid bool
	if h.paid.TestMode() || test {
		valid = test
	} else {
		valid = h.verifier.Verify(body, ctx.GetHeader(webhook.SignatureHeader))
	}
	if !valid {
		slog.Warn("Rejected webhook with invalid signature", "client_ip", middleware.ClientIP(ctx))
		middleware.AbortWithError(ctx, errInvalidWebhook)
		return
	}

	ev, err := paid.ParseEvent(body)
	if err != nil {
		middleware.AbortWithError(ctx, paidError(err))
		return
	}

	res, err := h.paid.HandleEvent(ctx.Request.Context(), ev, test)
	if err != nil {
		middleware.AbortWithError(ctx, paidError(err))
		return
	}

	slog.Info("Webhook event handled",
		"event_id", ev.ID,
		"type", ev.Type,
		"agent_id", res.AgentID,
		"outcome", res.Outcome)
	ctx.JSON(http.StatusOK, dto.WebhookResponse{Received: true})
}

func (h *PaidHandler) Instance(ctx *gin.Context) {
	record, err := h.paid.Get(ctx.Request.Context(), strings.TrimSpace(ctx.Param("agentId")))
	if err != nil {
		middleware.AbortWithError(ctx, paidError(err))
		return
	}
	ctx.JSON(http.StatusOK, dto.NewInstanceResponse(record))
}

// Callback lets an asynchronous provisioner report progress. It is
// authenticated by the provisioner bearer token, not the admin key.
func (h *PaidHandler) Callback(ctx *gin.Context) {
	if !h.paid.AuthorizeCallback(middleware.BearerToken(ctx.Request)) {
		slog.Warn("Rejected provisioner callback", "client_ip", middleware.ClientIP(ctx))
		middleware.AbortWithError(ctx, errCallbackAuth)
		return
	}

	req, appErr := dto.ParseCallbackRequest(readBody(ctx))
	if appErr != nil {
		middleware.AbortWithError(ctx, appErr)
		return
	}

	record, err := h.paid.ApplyCallback(ctx.Request.Context(), req.Input())
	if err != nil {
		middleware.AbortWithError(ctx, paidError(err))
		return
	}

	ctx.JSON(http.StatusOK, dto.CallbackResponse{
		OK:        true,
		AgentID:   record.AgentID,
		Status:    record.Status,
		UpdatedAt: record.UpdatedAt,
	})
}
