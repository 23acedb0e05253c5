package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rty23111-ctrl/agent-identity/internal/api/http/dto"
)

var capabilities = []string{
	"client:register",
	"client:delete",
	"client:purge",
	"token:issue",
	"token:validate",
	"clients:list",
	"audit:webhook",
	"instance:paid-provision",
}

type HealthHandler struct {
	version     string
	paidEnabled bool
}

func NewHealthHandler(version string, paidEnabled bool) *HealthHandler {
	return &HealthHandler{
		version:     version,
		paidEnabled: paidEnabled,
	}
}

func (h *HealthHandler) Check(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, dto.HealthResponse{Status: "ok"})
}

func (h *HealthHandler) Capabilities(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, dto.CapabilitiesResponse{Capabilities: capabilities})
}

// Discovery serves the well-known pointer document for agents.
func (h *HealthHandler) Discovery(ctx *gin.Context) {
	origin := requestOrigin(ctx)
	version := h.version
	if version == "" {
		version = "dev"
	}

	ctx.JSON(http.StatusOK, dto.DiscoveryResponse{
		Name:        "agent-identity",
		Description: "Client registry and signed token service",
		Version:     version,
		API: dto.DiscoveryAPI{
			Capabilities: origin + "/capabilities",
			Health:       origin + "/health",
			Metrics:      origin + "/metrics",
		},
		Authentication: dto.DiscoveryAuth{
			Type: "api-key-optional",
			Note: "When an admin API key is configured, /api/* endpoints require x-api-key or Bearer token",
		},
		PaidExtension: dto.DiscoveryPaid{
			Enabled:        h.paidEnabled,
			Checkout:       origin + "/api/paid/checkout",
			InstanceStatus: fmt.Sprintf("%s/api/paid/instances/{agentId}", origin),
		},
	})
}
