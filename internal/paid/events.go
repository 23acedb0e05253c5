package paid

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseEvent decodes a webhook body. The body must be an object with a
// string type and an object at data.object.
func ParseEvent(body []byte) (*Event, error) {
	var raw struct {
		ID   string  `json:"id"`
		Type *string `json:"type"`
		Data *struct {
			Object map[string]any `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if raw.Type == nil || raw.Data == nil {
		return nil, fmt.Errorf("%w: type and data are required", ErrInvalidPayload)
	}
	if raw.Data.Object == nil {
		return nil, fmt.Errorf("%w: event object is missing", ErrInvalidPayload)
	}
	return &Event{ID: raw.ID, Type: *raw.Type, Object: raw.Data.Object}, nil
}

func (e *Event) str(key string) string {
	v, _ := e.Object[key].(string)
	return v
}

func (e *Event) metadata(key string) string {
	md, _ := e.Object["metadata"].(map[string]any)
	v, _ := md[key].(string)
	return v
}

// subscriptionID is the object id for subscription objects and the
// subscription field for invoices.
func (e *Event) subscriptionID() string {
	if id := e.str("id"); strings.HasPrefix(id, "sub_") {
		return id
	}
	return e.str("subscription")
}

// providerStatus maps a subscription status reported by the provider.
func providerStatus(s string) (Status, bool) {
	switch s {
	case "active", "trialing":
		return StatusActive, true
	case "past_due", "unpaid":
		return StatusPastDue, true
	case "canceled", "incomplete_expired":
		return StatusCanceled, true
	}
	return "", false
}

// lifecycleAllowed reports whether a subscription lifecycle event may move
// an instance from one status to another. Activation from provisioning is
// left to the provisioner.
func lifecycleAllowed(from, to Status) bool {
	if from == to {
		return true
	}
	switch to {
	case StatusActive:
		return from == StatusPastDue
	case StatusPastDue:
		return from == StatusActive
	case StatusCanceled:
		return from == StatusProvisioning || from == StatusActive || from == StatusPastDue
	}
	return false
}
