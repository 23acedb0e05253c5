package dto

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"

	"github.com/rty23111-ctrl/agent-identity/internal/apperr"
	"github.com/rty23111-ctrl/agent-identity/internal/clients"
	"github.com/rty23111-ctrl/agent-identity/internal/token"
)

type IssueTokenRequest struct {
	ClientID   string
	PrivateKey string
	PublicKey  string
}

// ParseIssueTokenRequest accepts {clientId, privateKey?, publicKey?}. The
// public key is checked for shape only; issuing never uses it.
func ParseIssueTokenRequest(body []byte) (*IssueTokenRequest, *apperr.Error) {
	f, appErr := parseObject(body, []string{"clientId", "privateKey", "publicKey"},
		"Body supports only clientId, privateKey, publicKey")
	if appErr != nil {
		return nil, appErr
	}

	req := &IssueTokenRequest{}
	if req.ClientID, appErr = f.clientID("clientId", apperr.CodeClientIDRequired, apperr.CodeInvalidClientID); appErr != nil {
		return nil, appErr
	}
	if req.PrivateKey, appErr = f.pem("privateKey", apperr.CodeInvalidPrivateKey); appErr != nil {
		return nil, appErr
	}
	if req.PublicKey, appErr = f.pem("publicKey", apperr.CodeInvalidPublicKey); appErr != nil {
		return nil, appErr
	}
	return req, nil
}

type ValidateRequest struct {
	Token     token.SignedToken
	PublicKey string
}

var errTokenFormat = apperr.Validation(apperr.CodeInvalidTokenFormat,
	"Token must include payload {clientId, iat, exp, cap[]} and sig")

// ParseValidateRequest accepts a bare {payload, sig} token or the
// {token: {payload, sig}} envelope, each with an optional publicKey.
func ParseValidateRequest(body []byte) (*ValidateRequest, *apperr.Error) {
	f, appErr := parseObject(body, nil, "")
	if appErr != nil {
		return nil, appErr
	}

	direct := f.has("payload") || f.has("sig")
	envelope := f.has("token")

	var candidate json.RawMessage
	switch {
	case direct && envelope:
		return nil, apperr.Validation(apperr.CodeInvalidRequestSchema, "Use either {payload,sig} or {token}, not both")
	case direct:
		if _, appErr := parseObject(body, []string{"payload", "sig", "publicKey"},
			"Direct validate body supports only payload, sig, publicKey"); appErr != nil {
			return nil, appErr
		}
		candidate, _ = json.Marshal(map[string]json.RawMessage{"payload": f["payload"], "sig": f["sig"]})
	case envelope:
		if _, appErr := parseObject(body, []string{"token", "publicKey"},
			"Envelope validate body supports only token and publicKey"); appErr != nil {
			return nil, appErr
		}
		candidate = f["token"]
	default:
		candidate = body
	}

	tok, ok := parseSignedToken(candidate)
	if !ok {
		return nil, errTokenFormat
	}

	req := &ValidateRequest{Token: tok}
	if req.PublicKey, appErr = f.pem("publicKey", apperr.CodeInvalidPublicKey); appErr != nil {
		return nil, appErr
	}
	return req, nil
}

type wirePayload struct {
	ClientID     *string  `json:"clientId"`
	IssuedAt     *int64   `json:"iat"`
	ExpiresAt    *int64   `json:"exp"`
	Capabilities []string `json:"cap"`
}

type wireToken struct {
	Payload json.RawMessage `json:"payload"`
	Sig     *string         `json:"sig"`
}

// parseSignedToken checks the token shape strictly. Unknown keys are
// rejected at both levels since they would fall outside the signature.
func parseSignedToken(raw json.RawMessage) (token.SignedToken, bool) {
	var wt wireToken
	if !decodeStrict(raw, &wt, "payload", "sig") || wt.Sig == nil || strings.TrimSpace(*wt.Sig) == "" {
		return token.SignedToken{}, false
	}

	var wp wirePayload
	if !decodeStrict(wt.Payload, &wp, "clientId", "iat", "exp", "cap") {
		return token.SignedToken{}, false
	}
	if wp.ClientID == nil || !clients.ValidID(*wp.ClientID) ||
		wp.IssuedAt == nil || wp.ExpiresAt == nil || wp.Capabilities == nil {
		return token.SignedToken{}, false
	}

	return token.SignedToken{
		Payload: token.Payload{
			ClientID:     *wp.ClientID,
			IssuedAt:     *wp.IssuedAt,
			ExpiresAt:    *wp.ExpiresAt,
			Capabilities: wp.Capabilities,
		},
		Signature: *wt.Sig,
	}, true
}

// decodeStrict decodes a JSON object into v, rejecting null, trailing
// data and any key not spelled exactly as one of keys. encoding/json
// alone would fold "ClientID" onto "clientId".
func decodeStrict(raw json.RawMessage, v any, keys ...string) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return false
	}
	for k := range fields {
		if !slices.Contains(keys, k) {
			return false
		}
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return false
	}
	return !dec.More()
}

type ValidateResponse struct {
	Valid   bool          `json:"valid"`
	Payload token.Payload `json:"payload"`
}
