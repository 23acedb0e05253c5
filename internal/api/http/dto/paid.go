package dto

import (
	"regexp"

	"github.com/rty23111-ctrl/agent-identity/internal/apperr"
	"github.com/rty23111-ctrl/agent-identity/internal/paid"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type CheckoutRequest struct {
	AgentID    string
	Email      string
	SuccessURL string
	CancelURL  string
}

func ParseCheckoutRequest(body []byte) (*CheckoutRequest, *apperr.Error) {
	f, appErr := parseObject(body, []string{"agentId", "email", "successUrl", "cancelUrl"},
		"Body supports only agentId, email, successUrl, cancelUrl")
	if appErr != nil {
		return nil, appErr
	}

	req := &CheckoutRequest{}
	if req.AgentID, appErr = f.clientID("agentId", apperr.CodeInvalidAgentID, apperr.CodeInvalidAgentID); appErr != nil {
		return nil, appErr
	}
	if req.Email, appErr = f.optionalStr("email"); appErr != nil {
		return nil, appErr
	}
	if req.Email != "" && !emailPattern.MatchString(req.Email) {
		return nil, apperr.Validation(apperr.CodeInvalidEmail, "email must be valid")
	}
	if req.SuccessURL, appErr = f.optionalStr("successUrl"); appErr != nil {
		return nil, appErr
	}
	if req.CancelURL, appErr = f.optionalStr("cancelUrl"); appErr != nil {
		return nil, appErr
	}
	return req, nil
}

type CheckoutResponse struct {
	AgentID           string      `json:"agentId"`
	Status            paid.Status `json:"status"`
	CheckoutSessionID string      `json:"checkoutSessionId"`
	CheckoutURL       string      `json:"checkoutUrl"`
}

type WebhookResponse struct {
	Received bool `json:"received"`
}

// InstanceResponse is the public status snapshot of a paid instance.
// Optional fields are always present, null when unset.
type InstanceResponse struct {
	AgentID     string      `json:"agentId"`
	Status      paid.Status `json:"status"`
	CreatedAt   int64       `json:"createdAt"`
	UpdatedAt   int64       `json:"updatedAt"`
	InstanceURL *string     `json:"instanceUrl"`
	CheckoutURL *string     `json:"checkoutUrl"`
	LastError   *string     `json:"lastError"`
}

func NewInstanceResponse(r *paid.Record) InstanceResponse {
	return InstanceResponse{
		AgentID:     r.AgentID,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		InstanceURL: nullable(r.InstanceURL),
		CheckoutURL: nullable(r.CheckoutURL),
		LastError:   nullable(r.LastError),
	}
}

type CallbackRequest struct {
	AgentID        string
	Status         paid.Status
	InstanceURL    string
	ProvisionJobID string
	Error          string
}

func ParseCallbackRequest(body []byte) (*CallbackRequest, *apperr.Error) {
	f, appErr := parseObject(body, []string{"agentId", "status", "instanceUrl", "provisionJobId", "error"},
		"Body supports only agentId, status, instanceUrl, provisionJobId, error")
	if appErr != nil {
		return nil, appErr
	}

	req := &CallbackRequest{}
	if req.AgentID, appErr = f.clientID("agentId", apperr.CodeInvalidAgentID, apperr.CodeInvalidAgentID); appErr != nil {
		return nil, appErr
	}
	raw, _, _ := f.str("status")
	status, ok := paid.ParseStatus(raw)
	if !ok {
		return nil, apperr.Validation(apperr.CodeInvalidStatus,
			"status must be one of pending_payment, provisioning, active, past_due, canceled, provision_failed")
	}
	req.Status = status
	if req.InstanceURL, appErr = f.optionalStr("instanceUrl"); appErr != nil {
		return nil, appErr
	}
	if req.ProvisionJobID, appErr = f.optionalStr("provisionJobId"); appErr != nil {
		return nil, appErr
	}
	if req.Error, appErr = f.optionalStr("error"); appErr != nil {
		return nil, appErr
	}
	return req, nil
}

func (r *CallbackRequest) Input() paid.CallbackInput {
	return paid.CallbackInput{
		AgentID:        r.AgentID,
		Status:         string(r.Status),
		InstanceURL:    r.InstanceURL,
		ProvisionJobID: r.ProvisionJobID,
		Error:          r.Error,
	}
}

type CallbackResponse struct {
	OK        bool        `json:"ok"`
	AgentID   string      `json:"agentId"`
	Status    paid.Status `json:"status"`
	UpdatedAt int64       `json:"updatedAt"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
