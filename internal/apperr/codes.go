package apperr

const (
	CodeInvalidJSON          = "INVALID_JSON"
	CodeInvalidRequestSchema = "INVALID_REQUEST_SCHEMA"
	CodeClientIDRequired     = "CLIENT_ID_REQUIRED"
	CodeInvalidClientID      = "INVALID_CLIENT_ID"
	CodeInvalidAgentID       = "INVALID_AGENT_ID"
	CodeInvalidEmail         = "INVALID_EMAIL"
	CodeInvalidLimit         = "INVALID_LIMIT"
	CodeInvalidStatus        = "INVALID_STATUS"
	CodeInvalidTokenFormat   = "INVALID_TOKEN_FORMAT"
	CodeInvalidPrivateKey    = "INVALID_PRIVATE_KEY"
	CodeInvalidPublicKey     = "INVALID_PUBLIC_KEY"

	CodeSigningKeyUnavailable = "SIGNING_KEY_UNAVAILABLE"
	CodeVerifyKeyUnavailable  = "VERIFY_KEY_UNAVAILABLE"

	CodeUnauthorized            = "UNAUTHORIZED"
	CodeInvalidSignature        = "INVALID_SIGNATURE"
	CodeTokenExpired            = "TOKEN_EXPIRED"
	CodeInvalidWebhookSignature = "INVALID_WEBHOOK_SIGNATURE"
	CodeInvalidWebhookPayload   = "INVALID_WEBHOOK_PAYLOAD"

	CodeClientNotFound   = "CLIENT_NOT_FOUND"
	CodeInstanceNotFound = "INSTANCE_NOT_FOUND"
	CodeNotFound         = "NOT_FOUND"

	CodePaidExtensionDisabled = "PAID_EXTENSION_DISABLED"
	CodeCheckoutCreateFailed  = "CHECKOUT_CREATE_FAILED"

	CodeRateLimited = "RATE_LIMITED"
	CodeInternal    = "INTERNAL_ERROR"
)
