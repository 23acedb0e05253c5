package keys

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidPrivateKey     = errors.New("provided private key could not be used for signing")
	ErrInvalidPublicKey      = errors.New("provided public key could not be used for verification")
	ErrSigningKeyUnavailable = errors.New("service signing key is unavailable")
	ErrVerifyKeyUnavailable  = errors.New("service verification key is unavailable")
)

var (
	pemBegin = regexp.MustCompile(`-----BEGIN [A-Z ]+-----`)
	pemEnd   = regexp.MustCompile(`-----END [A-Z ]+-----`)
)

// Source reports where the key used for an operation came from.
type Source string

const (
	SourceRequest Source = "request"
	SourceService Source = "service"
)

type Config struct {
	PrivateKey     string `mapstructure:"private_key"`
	PublicKey      string `mapstructure:"public_key"`
	PrivateKeyFile string `mapstructure:"private_key_file"`
	PublicKeyFile  string `mapstructure:"public_key_file"`
}

// Resolver picks the RSA key for a single signing or verification call.
// Material is kept as text and parsed on every call.
type Resolver struct {
	privateMaterial string
	publicMaterial  string
}

func NewResolver(cfg Config) (*Resolver, error) {
	privateMaterial := strings.TrimSpace(cfg.PrivateKey)
	if privateMaterial == "" && cfg.PrivateKeyFile != "" {
		b, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key file: %w", err)
		}
		privateMaterial = strings.TrimSpace(string(b))
	}

	publicMaterial := strings.TrimSpace(cfg.PublicKey)
	if publicMaterial == "" && cfg.PublicKeyFile != "" {
		b, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key file: %w", err)
		}
		publicMaterial = strings.TrimSpace(string(b))
	}

	return &Resolver{
		privateMaterial: privateMaterial,
		publicMaterial:  publicMaterial,
	}, nil
}

// IsLikelyPEM reports whether s carries PEM begin and end markers.
func IsLikelyPEM(s string) bool {
	return pemBegin.MatchString(s) && pemEnd.MatchString(s)
}

// SigningKey resolves the private key. A non-empty override takes priority
// over the service key for this call only.
func (r *Resolver) SigningKey(override string) (*rsa.PrivateKey, Source, error) {
	if override = strings.TrimSpace(override); override != "" {
		if !IsLikelyPEM(override) {
			return nil, SourceRequest, ErrInvalidPrivateKey
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(override))
		if err != nil {
			return nil, SourceRequest, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		return key, SourceRequest, nil
	}

	if r.privateMaterial == "" {
		return nil, SourceService, ErrSigningKeyUnavailable
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(toPEM(r.privateMaterial, "PRIVATE KEY"))
	if err != nil {
		return nil, SourceService, fmt.Errorf("%w: %v", ErrSigningKeyUnavailable, err)
	}
	return key, SourceService, nil
}

// VerifyKey resolves the public key, preferring override when non-empty.
func (r *Resolver) VerifyKey(override string) (*rsa.PublicKey, Source, error) {
	if override = strings.TrimSpace(override); override != "" {
		if !IsLikelyPEM(override) {
			return nil, SourceRequest, ErrInvalidPublicKey
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(override))
		if err != nil {
			return nil, SourceRequest, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		return key, SourceRequest, nil
	}

	if r.publicMaterial == "" {
		return nil, SourceService, ErrVerifyKeyUnavailable
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(toPEM(r.publicMaterial, "PUBLIC KEY"))
	if err != nil {
		return nil, SourceService, fmt.Errorf("%w: %v", ErrVerifyKeyUnavailable, err)
	}
	return key, SourceService, nil
}

// toPEM accepts either PEM text or bare base64 DER and returns PEM bytes.
func toPEM(material, blockType string) []byte {
	if IsLikelyPEM(material) {
		return []byte(material)
	}
	der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(material), ""))
	if err != nil {
		return []byte(material)
	}
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
}
