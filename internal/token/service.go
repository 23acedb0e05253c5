package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rty23111-ctrl/agent-identity/internal/canonical"
	"github.com/rty23111-ctrl/agent-identity/internal/clients"
	"github.com/rty23111-ctrl/agent-identity/internal/keys"
)

var (
	ErrMalformedToken   = errors.New("token signature is missing or not base64")
	ErrMalformedPayload = errors.New("token payload is malformed")
	ErrInvalidTTL       = errors.New("token ttl must be positive")
)

const DefaultTTL = time.Hour

type Config struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

func (c Config) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return DefaultTTL
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// Service signs and verifies tokens. It does not consult the client
// registry.
type Service struct {
	keys *keys.Resolver
	now  func() time.Time
}

func NewService(resolver *keys.Resolver) *Service {
	return &Service{
		keys: resolver,
		now:  time.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Issue signs a payload for clientID valid for ttl. A non-empty
// privateKeyOverride is used instead of the service key.
func (s *Service) Issue(clientID string, capabilities []string, ttl time.Duration, privateKeyOverride string) (SignedToken, keys.Source, error) {
	if ttl < time.Second {
		return SignedToken{}, "", ErrInvalidTTL
	}
	if capabilities == nil {
		capabilities = []string{}
	}

	key, source, err := s.keys.SigningKey(privateKeyOverride)
	if err != nil {
		return SignedToken{}, source, err
	}

	iat := s.now().Unix()
	payload := Payload{
		ClientID:     clientID,
		IssuedAt:     iat,
		ExpiresAt:    iat + int64(ttl/time.Second),
		Capabilities: append([]string(nil), capabilities...),
	}
	if err := validatePayload(payload); err != nil {
		return SignedToken{}, source, err
	}

	signingString, err := canonical.Canonicalize(payload)
	if err != nil {
		return SignedToken{}, source, fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	sig, err := jwt.SigningMethodRS256.Sign(signingString, key)
	if err != nil {
		errKind := keys.ErrSigningKeyUnavailable
		if source == keys.SourceRequest {
			errKind = keys.ErrInvalidPrivateKey
		}
		return SignedToken{}, source, fmt.Errorf("%w: %v", errKind, err)
	}

	return SignedToken{
		Payload:   payload,
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, source, nil
}

// Verify checks the signature over the canonical payload and the expiry.
// Shape errors are returned before any key is resolved; key errors are
// returned as errors, signature and expiry outcomes through VerifyResult.
func (s *Service) Verify(tok SignedToken, publicKeyOverride string) (VerifyResult, keys.Source, error) {
	sig, err := decodeSignature(tok.Signature)
	if err != nil {
		return VerifyResult{}, "", err
	}
	if err := validatePayload(tok.Payload); err != nil {
		return VerifyResult{}, "", err
	}

	key, source, err := s.keys.VerifyKey(publicKeyOverride)
	if err != nil {
		return VerifyResult{}, source, err
	}

	signingString, err := canonical.Canonicalize(tok.Payload)
	if err != nil {
		return VerifyResult{}, source, fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	now := s.now().Unix()
	result := VerifyResult{
		SignatureValid: jwt.SigningMethodRS256.Verify(signingString, sig, key) == nil,
		Expired:        tok.Payload.ExpiresAt < now,
		Now:            now,
	}

	switch {
	case !result.SignatureValid:
		result.Reason = ReasonInvalidSignature
	case result.Expired:
		result.Reason = ReasonExpired
	default:
		result.Valid = true
	}
	return result, source, nil
}

func decodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimSpace(sig)
	if sig == "" {
		return nil, ErrMalformedToken
	}
	b, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return b, nil
}

func validatePayload(p Payload) error {
	if !clients.ValidID(p.ClientID) {
		return fmt.Errorf("%w: invalid clientId", ErrMalformedPayload)
	}
	if p.Capabilities == nil {
		return fmt.Errorf("%w: cap must be a list", ErrMalformedPayload)
	}
	return nil
}
