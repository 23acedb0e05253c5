package handler

import (
	"errors"
	"net/http"

	"github.com/rty23111-ctrl/agent-identity/internal/apperr"
	"github.com/rty23111-ctrl/agent-identity/internal/clients"
	"github.com/rty23111-ctrl/agent-identity/internal/keys"
	"github.com/rty23111-ctrl/agent-identity/internal/paid"
	"github.com/rty23111-ctrl/agent-identity/internal/token"
)

// Audit actions.
const (
	ActionRegister      = "client.register"
	ActionListClients   = "client.list"
	ActionPurgeClients  = "client.purge"
	ActionDeleteClient  = "client.delete"
	ActionIssueToken    = "token.issue"
	ActionValidateToken = "token.validate"
)

const (
	reasonInvalidJSON    = "invalid-json"
	reasonClientNotFound = "client-not-found"

	statusList = "pending_payment, provisioning, active, past_due, canceled, provision_failed"
)

var (
	errClientNotFound   = apperr.NotFound(apperr.CodeClientNotFound, "Unknown client")
	errInstanceNotFound = apperr.NotFound(apperr.CodeInstanceNotFound, "Unknown paid instance")
	errInvalidClientID  = apperr.Validation(apperr.CodeInvalidClientID, "clientId must match "+clients.IDPattern)
	errInvalidAgentID   = apperr.Validation(apperr.CodeInvalidAgentID, "agentId must match "+clients.IDPattern)
	errInvalidStatus    = apperr.Validation(apperr.CodeInvalidStatus, "status must be one of "+statusList)
	errInvalidSignature = apperr.Unauthorized(apperr.CodeInvalidSignature, "Token signature is invalid")
	errTokenExpired     = apperr.Unauthorized(apperr.CodeTokenExpired, "Token has expired")
	errInvalidWebhook   = apperr.Unauthorized(apperr.CodeInvalidWebhookSignature, "Invalid webhook signature")
	errWebhookPayload   = apperr.Validation(apperr.CodeInvalidWebhookPayload, "Webhook payload is invalid")
	errCallbackAuth     = apperr.Unauthorized(apperr.CodeUnauthorized, "Valid provisioner bearer token required")
)

// keyError maps key resolution failures. Caller supplied material is a 400,
// the service's own keys a 500.
func keyError(err error) *apperr.Error {
	switch {
	case errors.Is(err, keys.ErrInvalidPrivateKey):
		return apperr.Validation(apperr.CodeInvalidPrivateKey, "Provided privateKey could not be used for signing").Wrap(err)
	case errors.Is(err, keys.ErrInvalidPublicKey):
		return apperr.Validation(apperr.CodeInvalidPublicKey, "Provided publicKey could not be used for verification").Wrap(err)
	case errors.Is(err, keys.ErrSigningKeyUnavailable):
		return apperr.New(apperr.CodeSigningKeyUnavailable, "Service signing key is unavailable", http.StatusInternalServerError).Wrap(err)
	case errors.Is(err, keys.ErrVerifyKeyUnavailable):
		return apperr.New(apperr.CodeVerifyKeyUnavailable, "Service verification key is unavailable", http.StatusInternalServerError).Wrap(err)
	case errors.Is(err, token.ErrMalformedToken), errors.Is(err, token.ErrMalformedPayload):
		return apperr.Validation(apperr.CodeInvalidTokenFormat, "Token must include payload {clientId, iat, exp, cap[]} and sig").Wrap(err)
	}
	return apperr.Internal(err)
}

func keyFailureReason(err error) string {
	switch {
	case errors.Is(err, keys.ErrInvalidPrivateKey):
		return "invalid-request-private-key"
	case errors.Is(err, keys.ErrInvalidPublicKey):
		return "invalid-request-public-key"
	case errors.Is(err, keys.ErrSigningKeyUnavailable):
		return "service-private-key-missing-or-invalid"
	case errors.Is(err, keys.ErrVerifyKeyUnavailable):
		return "service-public-key-missing-or-invalid"
	}
	return "internal-error"
}

func paidError(err error) *apperr.Error {
	switch {
	case errors.Is(err, paid.ErrInvalidAgentID):
		return errInvalidAgentID
	case errors.Is(err, paid.ErrInstanceNotFound):
		return errInstanceNotFound
	case errors.Is(err, paid.ErrInvalidStatus):
		return errInvalidStatus
	case errors.Is(err, paid.ErrInvalidPayload):
		return errWebhookPayload.Wrap(err)
	case errors.Is(err, paid.ErrNotConfigured):
		return apperr.New(apperr.CodeCheckoutCreateFailed, "Checkout provider is not configured", http.StatusInternalServerError).Wrap(err)
	case errors.Is(err, paid.ErrCheckoutFailed):
		return apperr.New(apperr.CodeCheckoutCreateFailed, "Unable to create checkout session", http.StatusInternalServerError).Wrap(err)
	}
	return apperr.Internal(err)
}
