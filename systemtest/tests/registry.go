package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	internalhttp "github.com/rty23111-ctrl/agent-identity/internal/api/http"
	"github.com/rty23111-ctrl/agent-identity/internal/api/http/dto"
	"github.com/rty23111-ctrl/agent-identity/internal/audit"
	"github.com/rty23111-ctrl/agent-identity/internal/clients"
	"github.com/rty23111-ctrl/agent-identity/internal/keys"
	"github.com/rty23111-ctrl/agent-identity/internal/kv"
	"github.com/rty23111-ctrl/agent-identity/internal/metrics"
	"github.com/rty23111-ctrl/agent-identity/internal/paid"
	"github.com/rty23111-ctrl/agent-identity/internal/ratelimit"
	"github.com/rty23111-ctrl/agent-identity/internal/token"
	"github.com/rty23111-ctrl/agent-identity/internal/webhook"
	"github.com/rty23111-ctrl/agent-identity/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminKey  = "system-admin-key"
	paidToken = "system-paid-token"
)

// NewRouter wires the full HTTP surface on store the way the server does.
func NewRouter(t *testing.T, store kv.Store) (*gin.Engine, *worker.Dispatcher) {
	t.Helper()

	priv, pub, err := keys.GeneratePEMPair(keys.DefaultKeyBits)
	require.NoError(t, err)
	resolver, err := keys.NewResolver(keys.Config{PrivateKey: priv, PublicKey: pub})
	require.NoError(t, err)

	m := metrics.New()
	dispatcher := worker.NewDispatcher(worker.Config{})
	m.RegisterDispatcher(dispatcher)

	cfg := paid.Config{Enabled: true, TestMode: true, TestToken: paidToken}
	httpCfg := internalhttp.Config{AdminAPIKey: adminKey}
	engine := gin.New()
	require.NoError(t, internalhttp.ConfigureEngine(engine, httpCfg))
	internalhttp.SetupRoute(engine, httpCfg, &internalhttp.Services{
		Clients:  clients.NewService(store),
		Tokens:   token.NewService(resolver),
		Paid:     paid.NewService(cfg, store, dispatcher, paid.WithMetrics(m)),
		Verifier: webhook.NewVerifier("", webhook.DefaultTolerance),
		Limiter:  ratelimit.NewLimiter(store, ratelimit.DefaultConfig()),
		Audit:    audit.NewEmitter(audit.Config{}, dispatcher, m),
		Metrics:  m,
		TokenTTL: time.Hour,
		Version:  "systemtest",
	})
	return engine, dispatcher
}

// TestRegistryFlow drives a paid registration end to end: checkout, test
// webhook, registration, token issue and validation, listing and deletion.
func TestRegistryFlow(t *testing.T, router *gin.Engine, dispatcher *worker.Dispatcher) {
	admin := map[string]string{"X-API-Key": adminKey}

	rr := doJSON(router, http.MethodPost, "/api/register", `{"clientId":"sys-agent"}`, admin)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var gated dto.PaymentRequiredResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &gated))
	require.True(t, gated.PaymentRequired)

	sessionID := gated.CheckoutURL[strings.Index(gated.CheckoutURL, "sessionId=")+len("sessionId="):]
	event := `{"id":"evt_sys","type":"checkout.session.completed","data":{"object":{"id":"` + sessionID + `"}}}`
	rr = doTestRequest(router, http.MethodPost, "/api/paid/webhook", event)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	dispatcher.Wait()

	rr = doJSON(router, http.MethodGet, "/api/paid/instances/sys-agent", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var inst dto.InstanceResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &inst))
	assert.Equal(t, paid.StatusActive, inst.Status)

	rr = doJSON(router, http.MethodPost, "/api/register", `{"clientId":"sys-agent"}`, admin)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"registered":"sys-agent","totalClients":1}`, rr.Body.String())

	rr = doJSON(router, http.MethodPost, "/api/token", `{"clientId":"sys-agent"}`, admin)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	signed := rr.Body.String()

	rr = doJSON(router, http.MethodPost, "/api/validate", `{"token":`+signed+`}`, admin)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doJSON(router, http.MethodGet, "/api/clients?limit=10", "", admin)
	require.Equal(t, http.StatusOK, rr.Code)
	var page dto.ListClientsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Clients, 1)
	assert.Equal(t, "sys-agent", page.Clients[0].ClientID)

	rr = doJSON(router, http.MethodDelete, "/api/clients/sys-agent", "", admin)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(router, http.MethodPost, "/api/validate", signed, admin)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func doTestRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:50000"
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.TestTokenHeader, paidToken)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func doJSON(router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}
