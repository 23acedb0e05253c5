package paid

import "errors"

type Status string

const (
	StatusPendingPayment  Status = "pending_payment"
	StatusProvisioning    Status = "provisioning"
	StatusActive          Status = "active"
	StatusPastDue         Status = "past_due"
	StatusCanceled        Status = "canceled"
	StatusProvisionFailed Status = "provision_failed"
)

var AllStatuses = []Status{
	StatusPendingPayment,
	StatusProvisioning,
	StatusActive,
	StatusPastDue,
	StatusCanceled,
	StatusProvisionFailed,
}

func ParseStatus(s string) (Status, bool) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

var (
	ErrInstanceNotFound = errors.New("paid instance not found")
	ErrInvalidAgentID   = errors.New("invalid agent id")
	ErrInvalidStatus    = errors.New("invalid instance status")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
	ErrCheckoutFailed   = errors.New("checkout session creation failed")
	ErrNotConfigured    = errors.New("paid extension is not configured")
)

// Record is the per-agent paid instance state stored under
// paid:instance:<agentId>. Timestamps are unix milliseconds.
type Record struct {
	AgentID           string `json:"agentId"`
	Status            Status `json:"status"`
	CreatedAt         int64  `json:"createdAt"`
	UpdatedAt         int64  `json:"updatedAt"`
	CheckoutSessionID string `json:"checkoutSessionId,omitempty"`
	CheckoutURL       string `json:"checkoutUrl,omitempty"`
	CustomerID        string `json:"customerId,omitempty"`
	SubscriptionID    string `json:"subscriptionId,omitempty"`
	PlanID            string `json:"planId,omitempty"`
	InstanceURL       string `json:"instanceUrl,omitempty"`
	ProvisionJobID    string `json:"provisionJobId,omitempty"`
	LastError         string `json:"lastError,omitempty"`
}

type CheckoutInput struct {
	AgentID    string
	Email      string
	SuccessURL string
	CancelURL  string
	// Origin is the scheme and host the request arrived on, used for
	// default redirect URLs.
	Origin string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type CheckoutResult struct {
	AgentID           string
	Status            Status
	CheckoutSessionID string
	CheckoutURL       string
}

type CallbackInput struct {
	AgentID        string
	Status         string
	InstanceURL    string
	ProvisionJobID string
	Error          string
}

// Event is a parsed payment provider webhook event.
type Event struct {
	ID     string
	Type   string
	Object map[string]any
}

const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

// Outcomes reported by HandleEvent.
const (
	OutcomeIgnored    = "ignored"
	OutcomeDispatched = "dispatched"
	OutcomeReplayed   = "replayed"
	OutcomeUpdated    = "updated"
	OutcomeUnchanged  = "unchanged"
)

type EventResult struct {
	AgentID string
	Outcome string
	Status  Status
}
