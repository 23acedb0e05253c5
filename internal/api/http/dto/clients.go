package dto

import (
	"strconv"
	"strings"

	"github.com/rty23111-ctrl/agent-identity/internal/apperr"
	"github.com/rty23111-ctrl/agent-identity/internal/clients"
)

type RegisterRequest struct {
	ClientID   string
	SuccessURL string
	CancelURL  string
}

// ParseRegisterRequest accepts {clientId} plus the checkout redirect
// overrides used when registration is payment-gated.
func ParseRegisterRequest(body []byte) (*RegisterRequest, *apperr.Error) {
	f, appErr := parseObject(body, []string{"clientId", "successUrl", "cancelUrl"},
		"Body supports only clientId, successUrl, cancelUrl")
	if appErr != nil {
		return nil, appErr
	}

	req := &RegisterRequest{}
	if req.ClientID, appErr = f.clientID("clientId", apperr.CodeClientIDRequired, apperr.CodeInvalidClientID); appErr != nil {
		return nil, appErr
	}
	if req.SuccessURL, appErr = f.optionalStr("successUrl"); appErr != nil {
		return nil, appErr
	}
	if req.CancelURL, appErr = f.optionalStr("cancelUrl"); appErr != nil {
		return nil, appErr
	}
	return req, nil
}

type RegisterResponse struct {
	Registered   string `json:"registered"`
	TotalClients int    `json:"totalClients"`
}

type PaymentRequiredResponse struct {
	Registered      *string `json:"registered"`
	PaymentRequired bool    `json:"paymentRequired"`
	CheckoutURL     string  `json:"checkoutUrl"`
	AgentID         string  `json:"agentId"`
	Status          string  `json:"status,omitempty"`
}

// ParseLimit reads the list page size. An absent limit is the default.
func ParseLimit(raw string, present bool) (int, *apperr.Error) {
	if !present {
		return clients.DefaultLimit, nil
	}
	limit, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || limit < 1 || limit > clients.MaxLimit {
		return 0, apperr.Validation(apperr.CodeInvalidLimit, "limit must be an integer between 1 and 100").
			WithDetails(map[string]any{"limit": raw})
	}
	return limit, nil
}

type Pagination struct {
	Limit      int     `json:"limit"`
	NextCursor *string `json:"nextCursor"`
	HasMore    bool    `json:"hasMore"`
}

type ListClientsResponse struct {
	Clients    []clients.Client `json:"clients"`
	Pagination Pagination       `json:"pagination"`
}

type PurgeClientsResponse struct {
	DeletedCount int `json:"deletedCount"`
	Remaining    int `json:"remaining"`
}

type DeleteClientResponse struct {
	Deleted string `json:"deleted"`
}
