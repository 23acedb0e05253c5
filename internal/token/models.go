package token

// Payload is the signed part of a token. Field names are part of the
// canonical form: renaming or adding a field invalidates every token issued
// before the change.
type Payload struct {
	ClientID     string   `json:"clientId"`
	IssuedAt     int64    `json:"iat"`
	ExpiresAt    int64    `json:"exp"`
	Capabilities []string `json:"cap"`
}

type SignedToken struct {
	Payload   Payload `json:"payload"`
	Signature string  `json:"sig"`
}

type Reason string

const (
	ReasonInvalidSignature Reason = "INVALID_SIGNATURE"
	ReasonExpired          Reason = "TOKEN_EXPIRED"
)

// VerifyResult reports the signature and expiry checks separately. Valid is
// true only when both pass.
type VerifyResult struct {
	Valid          bool
	Reason         Reason
	SignatureValid bool
	Expired        bool
	Now            int64
}
