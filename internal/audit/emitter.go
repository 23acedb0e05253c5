package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rty23111-ctrl/agent-identity/internal/metrics"
	"github.com/rty23111-ctrl/agent-identity/internal/worker"
)

const (
	OutcomeSuccess        = "success"
	OutcomeFailure        = "failure"
	OutcomeDenied         = "denied"
	OutcomePendingPayment = "pending_payment"

	EventHeader     = "X-Agent-Identity-Event"
	RequestIDHeader = "X-Agent-Identity-Request-Id"

	defaultTimeoutMs = 1500
	minTimeoutMs     = 200
)

type Config struct {
	WebhookURL string `mapstructure:"webhook_url"`
	AuthToken  string `mapstructure:"auth_token"`
	TimeoutMs  int    `mapstructure:"timeout_ms"`
}

func (c Config) Timeout() time.Duration {
	ms := c.TimeoutMs
	if ms == 0 {
		ms = defaultTimeoutMs
	}
	if ms < minTimeoutMs {
		ms = minTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

type Event struct {
	RequestID string         `json:"requestId"`
	Timestamp string         `json:"timestamp"`
	Action    string         `json:"action"`
	Outcome   string         `json:"outcome"`
	Status    int            `json:"status"`
	ClientID  string         `json:"clientId,omitempty"`
	IP        string         `json:"ip"`
	Method    string         `json:"method"`
	Path      string         `json:"path"`
	Details   map[string]any `json:"details"`
}

type Submitter interface {
	Submit(name string, timeout time.Duration, task worker.Task) error
}

// Emitter delivers audit events to an HTTP sink without blocking the
// caller. Delivery is best effort: failures are logged and dropped.
type Emitter struct {
	cfg        Config
	httpClient *http.Client
	dispatcher Submitter
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewEmitter(cfg Config, dispatcher Submitter, m *metrics.Metrics) *Emitter {
	cfg.WebhookURL = strings.TrimSpace(cfg.WebhookURL)
	return &Emitter{
		cfg:        cfg,
		httpClient: &http.Client{},
		dispatcher: dispatcher,
		metrics:    m,
		now:        time.Now,
	}
}

func (e *Emitter) Enabled() bool {
	return e != nil && e.cfg.WebhookURL != ""
}

// Emit stamps the event and schedules its delivery.
func (e *Emitter) Emit(event Event) {
	if !e.Enabled() {
		return
	}
	if event.Timestamp == "" {
		event.Timestamp = e.now().UTC().Format("2006-01-02T15:04:05.000Z")
	}

	err := e.dispatcher.Submit("audit:"+event.Action, e.cfg.Timeout(), func(ctx context.Context) error {
		return e.deliver(ctx, event)
	})
	if err != nil {
		e.record("dropped")
	}
}

func (e *Emitter) deliver(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		e.record("error")
		return fmt.Errorf("failed to encode audit event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		e.record("error")
		return fmt.Errorf("failed to build audit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, event.Action)
	req.Header.Set(RequestIDHeader, event.RequestID)
	if e.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.AuthToken)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.record("error")
		return fmt.Errorf("audit delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e.record("non_2xx")
		slog.Warn("Audit webhook returned non-2xx response",
			"status", resp.StatusCode,
			"action", event.Action)
		return nil
	}
	e.record("delivered")
	return nil
}

func (e *Emitter) record(outcome string) {
	if e.metrics != nil {
		e.metrics.AuditDeliveriesTotal.WithLabelValues(outcome).Inc()
	}
}
