package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureHeader = "Stripe-Signature"
	TestTokenHeader = "X-Paid-Test-Token"

	DefaultTolerance = 300 * time.Second
)

// Verifier checks the t=<unix>,v1=<hex> signature header sent with payment
// provider events.
type Verifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier returns a verifier for secret. A tolerance of zero accepts any
// timestamp; a negative one selects DefaultTolerance.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance < 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{
		secret:    strings.TrimSpace(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

func (v *Verifier) SetClock(now func() time.Time) {
	v.now = now
}

func (v *Verifier) Configured() bool {
	return v.secret != ""
}

// Verify reports whether header carries a v1 signature of body made with the
// shared secret. Missing secret, missing header, unparsable header and stale
// timestamps are all rejections.
func (v *Verifier) Verify(body []byte, header string) bool {
	if v.secret == "" {
		return false
	}
	timestamp, candidates := parseHeader(header)
	if timestamp == "" || len(candidates) == 0 {
		return false
	}

	if v.tolerance > 0 {
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return false
		}
		age := v.now().Sub(time.Unix(ts, 0))
		if age < 0 {
			age = -age
		}
		if age > v.tolerance {
			return false
		}
	}

	expected := []byte(ComputeSignature(v.secret, timestamp, body))
	matched := 0
	for _, c := range candidates {
		// no early exit: every candidate is compared
		matched |= subtle.ConstantTimeCompare([]byte(c), expected)
	}
	return matched == 1
}

// ComputeSignature returns hex(HMAC-SHA256(secret, "<timestamp>.<body>")).
func ComputeSignature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeaderValue builds a header value for body signed at ts.
func SignatureHeaderValue(secret string, ts time.Time, body []byte) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", t, ComputeSignature(secret, t, body))
}

func parseHeader(header string) (string, []string) {
	var timestamp string
	var candidates []string
	for _, part := range strings.Split(strings.TrimSpace(header), ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || val == "" {
			continue
		}
		switch k {
		case "t":
			timestamp = val
		case "v1":
			candidates = append(candidates, val)
		}
	}
	return timestamp, candidates
}

// IsTestRequest reports whether a request may use the paid test bypass: the
// TCP peer must be loopback and the provided token must equal the configured
// non-empty test token. Forwarding headers are never consulted.
func IsTestRequest(remoteAddr, provided, expected string) bool {
	expected = strings.TrimSpace(expected)
	provided = strings.TrimSpace(provided)
	if expected == "" || provided == "" {
		return false
	}
	if !IsLoopback(remoteAddr) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

func IsLoopback(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
