package dto

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"

	"github.com/rty23111-ctrl/agent-identity/internal/apperr"
	"github.com/rty23111-ctrl/agent-identity/internal/clients"
	"github.com/rty23111-ctrl/agent-identity/internal/keys"
)

var clientIDMessage = "clientId must match " + clients.IDPattern

// fields is a decoded JSON object whose values are still raw.
type fields map[string]json.RawMessage

// parseObject decodes body as a JSON object. A non-nil allowed list rejects
// any other key with schemaMessage.
func parseObject(body []byte, allowed []string, schemaMessage string) (fields, *apperr.Error) {
	if !json.Valid(body) {
		return nil, apperr.Validation(apperr.CodeInvalidJSON, "Body must be valid JSON")
	}
	var f fields
	if err := json.Unmarshal(body, &f); err != nil || f == nil {
		return nil, apperr.Validation(apperr.CodeInvalidRequestSchema, "Body must be a JSON object")
	}
	if allowed != nil {
		for k := range f {
			if !slices.Contains(allowed, k) {
				return nil, apperr.Validation(apperr.CodeInvalidRequestSchema, schemaMessage)
			}
		}
	}
	return f, nil
}

func (f fields) has(name string) bool {
	_, ok := f[name]
	return ok
}

// str returns the trimmed string at name. present is false when the key is
// absent, ok is false when the value is not a string.
func (f fields) str(name string) (value string, present, ok bool) {
	raw, found := f[name]
	if !found {
		return "", false, true
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", true, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", true, false
	}
	return strings.TrimSpace(s), true, true
}

// optionalStr reads an optional string field, rejecting other types.
func (f fields) optionalStr(name string) (string, *apperr.Error) {
	v, _, ok := f.str(name)
	if !ok {
		return "", apperr.Validation(apperr.CodeInvalidRequestSchema, name+" must be a string")
	}
	return v, nil
}

// clientID reads the required id field named name. Absent or non-string
// values report requiredCode, bad patterns invalidCode.
func (f fields) clientID(name, requiredCode, invalidCode string) (string, *apperr.Error) {
	v, present, ok := f.str(name)
	if !present || !ok {
		return "", apperr.Validation(requiredCode, name+" required")
	}
	if !clients.ValidID(v) {
		return "", apperr.Validation(invalidCode, strings.Replace(clientIDMessage, "clientId", name, 1))
	}
	return v, nil
}

// pem reads an optional PEM override. A present value must be a non-empty
// string carrying PEM markers.
func (f fields) pem(name, code string) (string, *apperr.Error) {
	v, present, ok := f.str(name)
	if !present {
		return "", nil
	}
	if !ok || v == "" {
		return "", apperr.Validation(code, name+" must be a non-empty PEM string")
	}
	if !keys.IsLikelyPEM(v) {
		return "", apperr.Validation(code, name+" must be PEM formatted")
	}
	return v, nil
}
