package paid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const defaultStripeAPIBase = "https://api.stripe.com"

type CheckoutProvider interface {
	CreateSession(ctx context.Context, in CheckoutInput) (CheckoutSession, error)
}

// StripeCheckout creates subscription checkout sessions through the Stripe
// REST API.
type StripeCheckout struct {
	secretKey  string
	priceID    string
	apiBase    string
	httpClient *http.Client
}

func NewStripeCheckout(cfg Config, httpClient *http.Client) *StripeCheckout {
	base := strings.TrimRight(strings.TrimSpace(cfg.StripeAPIBase), "/")
	if base == "" {
		base = defaultStripeAPIBase
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &StripeCheckout{
		secretKey:  strings.TrimSpace(cfg.StripeSecretKey),
		priceID:    strings.TrimSpace(cfg.StripePriceID),
		apiBase:    base,
		httpClient: httpClient,
	}
}

func (s *StripeCheckout) CreateSession(ctx context.Context, in CheckoutInput) (CheckoutSession, error) {
	if s.secretKey == "" {
		return CheckoutSession{}, fmt.Errorf("%w: stripe secret key is not configured", ErrNotConfigured)
	}
	if s.priceID == "" {
		return CheckoutSession{}, fmt.Errorf("%w: stripe price id is not configured", ErrNotConfigured)
	}

	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("client_reference_id", in.AgentID)
	form.Set("success_url", in.SuccessURL)
	form.Set("cancel_url", in.CancelURL)
	form.Set("line_items[0][price]", s.priceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("metadata[agentId]", in.AgentID)
	if in.Email != "" {
		form.Set("customer_email", in.Email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.apiBase+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return CheckoutSession{}, fmt.Errorf("%w: stripe returned status %d", ErrCheckoutFailed, resp.StatusCode)
	}

	var session struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &session); err != nil {
		return CheckoutSession{}, fmt.Errorf("%w: invalid stripe response", ErrCheckoutFailed)
	}
	if session.ID == "" || session.URL == "" {
		return CheckoutSession{}, fmt.Errorf("%w: stripe response missing id or url", ErrCheckoutFailed)
	}
	return CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// TestCheckout fabricates sessions that never leave the process.
type TestCheckout struct{}

func (TestCheckout) CreateSession(_ context.Context, in CheckoutInput) (CheckoutSession, error) {
	id := randomID("cs_test_")
	q := url.Values{}
	q.Set("paid", "test-checkout")
	q.Set("agentId", in.AgentID)
	q.Set("sessionId", id)
	return CheckoutSession{
		ID:  id,
		URL: in.Origin + "/dashboard?" + q.Encode(),
	}, nil
}

// randomID returns prefix followed by 16 hex characters.
func randomID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
