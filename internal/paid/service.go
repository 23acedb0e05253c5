package paid

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/rty23111-ctrl/agent-identity/internal/clients"
	"github.com/rty23111-ctrl/agent-identity/internal/kv"
	"github.com/rty23111-ctrl/agent-identity/internal/metrics"
	"github.com/rty23111-ctrl/agent-identity/internal/worker"
)

const (
	testInstanceBase = "https://test-instance.local/"

	failureWriteTimeout = 5 * time.Second
)

type Submitter interface {
	Submit(name string, timeout time.Duration, task worker.Task) error
}

type Service struct {
	cfg          Config
	records      recordStore
	checkout     CheckoutProvider
	testCheckout CheckoutProvider
	provisioner  Provisioner
	dispatcher   Submitter
	metrics      *metrics.Metrics
	now          func() time.Time
}

type Option func(*Service)

func WithCheckoutProvider(p CheckoutProvider) Option {
	return func(s *Service) { s.checkout = p }
}

func WithProvisioner(p Provisioner) Option {
	return func(s *Service) { s.provisioner = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the state machine. Without options it talks to Stripe
// and, when a provisioner URL is configured, to that provisioner.
func NewService(cfg Config, store kv.Store, dispatcher Submitter, opts ...Option) *Service {
	s := &Service{
		cfg:          cfg,
		records:      recordStore{kv: store},
		checkout:     NewStripeCheckout(cfg, nil),
		testCheckout: TestCheckout{},
		dispatcher:   dispatcher,
		now:          time.Now,
	}
	if strings.TrimSpace(cfg.ProvisionerURL) != "" {
		s.provisioner = NewHTTPProvisioner(cfg.ProvisionerURL, cfg.ProvisionerAuthToken, nil)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Enabled() bool {
	return s.cfg.Enabled
}

// TestMode reports whether the extension runs against the synthetic
// checkout and provisioner.
func (s *Service) TestMode() bool {
	return s.cfg.TestMode
}

// TestToken is the shared token that unlocks the loopback test bypass.
func (s *Service) TestToken() string {
	return s.cfg.TestToken
}

func (s *Service) testMode(force bool) bool {
	return s.cfg.TestMode || force
}

func (s *Service) millis() int64 {
	return s.now().UnixMilli()
}

// CreateCheckout starts a checkout for agentID and parks the instance in
// pending_payment. Earlier ids and createdAt are preserved.
func (s *Service) CreateCheckout(ctx context.Context, in CheckoutInput, forceTest bool) (*CheckoutResult, error) {
	if !clients.ValidID(in.AgentID) {
		return nil, ErrInvalidAgentID
	}
	in.SuccessURL = firstNonEmpty(in.SuccessURL, s.cfg.SuccessURL, redirectURL(in.Origin, "success", in.AgentID))
	in.CancelURL = firstNonEmpty(in.CancelURL, s.cfg.CancelURL, redirectURL(in.Origin, "cancel", in.AgentID))

	provider := s.checkout
	if s.testMode(forceTest) {
		provider = s.testCheckout
	}
	session, err := provider.CreateSession(ctx, in)
	if err != nil {
		return nil, err
	}

	existing, err := s.records.get(ctx, in.AgentID)
	if err != nil && !errors.Is(err, ErrInstanceNotFound) {
		return nil, err
	}

	now := s.millis()
	next := &Record{AgentID: in.AgentID, CreatedAt: now}
	if existing != nil {
		copied := *existing
		next = &copied
	}
	next.Status = StatusPendingPayment
	next.UpdatedAt = now
	next.CheckoutSessionID = session.ID
	next.CheckoutURL = session.URL
	next.PlanID = s.cfg.StripePriceID
	next.LastError = ""

	if err := s.records.put(ctx, next); err != nil {
		return nil, err
	}
	if err := s.records.indexSession(ctx, session.ID, in.AgentID); err != nil {
		return nil, err
	}

	slog.Info("Checkout session created",
		"agent_id", in.AgentID,
		"checkout_session_id", session.ID)
	return &CheckoutResult{
		AgentID:           in.AgentID,
		Status:            next.Status,
		CheckoutSessionID: session.ID,
		CheckoutURL:       session.URL,
	}, nil
}

// RequireCheckout gates registration of a payment-gated client. It returns
// nil when the agent already has an active instance. A paid instance that
// is still provisioning or past_due is reported as is; only an absent,
// pending, canceled or failed instance gets a new checkout.
func (s *Service) RequireCheckout(ctx context.Context, in CheckoutInput, forceTest bool) (*CheckoutResult, error) {
	existing, err := s.records.get(ctx, in.AgentID)
	if err != nil && !errors.Is(err, ErrInstanceNotFound) {
		return nil, err
	}
	if existing != nil {
		switch existing.Status {
		case StatusActive:
			return nil, nil
		case StatusProvisioning, StatusPastDue:
			return &CheckoutResult{
				AgentID:           existing.AgentID,
				Status:            existing.Status,
				CheckoutSessionID: existing.CheckoutSessionID,
				CheckoutURL:       existing.CheckoutURL,
			}, nil
		}
	}
	return s.CreateCheckout(ctx, in, forceTest)
}

func (s *Service) Get(ctx context.Context, agentID string) (*Record, error) {
	if !clients.ValidID(agentID) {
		return nil, ErrInvalidAgentID
	}
	return s.records.get(ctx, agentID)
}

// HandleEvent applies a verified webhook event. Unknown event types and
// events that cannot be correlated to an instance are ignored.
func (s *Service) HandleEvent(ctx context.Context, ev *Event, forceTest bool) (*EventResult, error) {
	var (
		res *EventResult
		err error
	)
	switch ev.Type {
	case EventCheckoutCompleted:
		res, err = s.checkoutCompleted(ctx, ev, forceTest)
	case EventSubscriptionUpdated, EventSubscriptionDeleted, EventInvoicePaymentFailed:
		res, err = s.subscriptionChanged(ctx, ev)
	default:
		res = &EventResult{Outcome: OutcomeIgnored}
	}
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.WebhookEventsTotal.WithLabelValues(ev.Type, res.Outcome).Inc()
	}
	return res, nil
}

func (s *Service) checkoutCompleted(ctx context.Context, ev *Event, forceTest bool) (*EventResult, error) {
	sessionID := ev.str("id")

	var agentID string
	if sessionID != "" {
		mapped, err := s.records.agentBySession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		agentID = mapped
	}
	agentID = firstNonEmpty(agentID, ev.str("client_reference_id"), ev.metadata("agentId"))
	if !clients.ValidID(agentID) {
		slog.Warn("Ignoring checkout completion without a valid agent", "checkout_session_id", sessionID)
		return &EventResult{Outcome: OutcomeIgnored}, nil
	}

	existing, err := s.records.get(ctx, agentID)
	if err != nil && !errors.Is(err, ErrInstanceNotFound) {
		return nil, err
	}

	now := s.millis()
	next := &Record{AgentID: agentID, CreatedAt: now}
	if existing != nil {
		copied := *existing
		next = &copied
	}

	// A replayed completion must not provision twice, and canceled is
	// terminal: a new subscription goes through CreateCheckout first.
	replay := existing != nil && (existing.Status == StatusProvisioning ||
		existing.Status == StatusActive || existing.Status == StatusPastDue ||
		existing.Status == StatusCanceled)
	if !replay {
		next.Status = StatusProvisioning
		next.LastError = ""
	}
	next.UpdatedAt = now
	next.CheckoutSessionID = firstNonEmpty(sessionID, next.CheckoutSessionID)
	next.CustomerID = firstNonEmpty(ev.str("customer"), next.CustomerID)
	next.SubscriptionID = firstNonEmpty(ev.str("subscription"), next.SubscriptionID)
	next.PlanID = firstNonEmpty(next.PlanID, s.cfg.StripePriceID)

	if err := s.records.put(ctx, next); err != nil {
		return nil, err
	}
	if next.SubscriptionID != "" {
		if err := s.records.indexSubscription(ctx, next.SubscriptionID, agentID); err != nil {
			return nil, err
		}
	}
	if sessionID != "" {
		if err := s.records.indexSession(ctx, sessionID, agentID); err != nil {
			return nil, err
		}
	}

	if replay {
		slog.Info("Checkout completion replayed, keeping status",
			"agent_id", agentID,
			"event_id", ev.ID,
			"status", next.Status)
		outcome := OutcomeReplayed
		if next.Status == StatusCanceled {
			outcome = OutcomeUnchanged
		}
		return &EventResult{AgentID: agentID, Outcome: outcome, Status: next.Status}, nil
	}

	s.dispatchProvisioning(ctx, agentID, forceTest)
	return &EventResult{AgentID: agentID, Outcome: OutcomeDispatched, Status: next.Status}, nil
}

func (s *Service) dispatchProvisioning(ctx context.Context, agentID string, forceTest bool) {
	err := s.dispatcher.Submit("provision:"+agentID, s.cfg.ProvisionTimeout(), func(taskCtx context.Context) error {
		return s.Provision(taskCtx, agentID, forceTest)
	})
	if err == nil {
		return
	}

	slog.Error("Failed to schedule provisioning", "agent_id", agentID, "error", err)
	s.markFailed(ctx, agentID, "provisioning could not be scheduled")
}

func (s *Service) subscriptionChanged(ctx context.Context, ev *Event) (*EventResult, error) {
	subscriptionID := ev.subscriptionID()
	if subscriptionID == "" {
		return &EventResult{Outcome: OutcomeIgnored}, nil
	}
	agentID, err := s.records.agentBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if agentID == "" {
		return &EventResult{Outcome: OutcomeIgnored}, nil
	}

	existing, err := s.records.get(ctx, agentID)
	if errors.Is(err, ErrInstanceNotFound) {
		return &EventResult{AgentID: agentID, Outcome: OutcomeIgnored}, nil
	}
	if err != nil {
		return nil, err
	}

	target := existing.Status
	switch ev.Type {
	case EventSubscriptionDeleted:
		target = StatusCanceled
	case EventInvoicePaymentFailed:
		target = StatusPastDue
	default:
		if st, ok := providerStatus(ev.str("status")); ok {
			target = st
		}
	}

	outcome := OutcomeUpdated
	if !lifecycleAllowed(existing.Status, target) {
		slog.Warn("Ignoring subscription transition",
			"agent_id", agentID,
			"event_id", ev.ID,
			"from", existing.Status,
			"to", target,
			"event_type", ev.Type)
		target = existing.Status
		outcome = OutcomeUnchanged
	}

	next := *existing
	next.Status = target
	next.SubscriptionID = subscriptionID
	next.UpdatedAt = s.millis()
	if err := s.records.put(ctx, &next); err != nil {
		return nil, err
	}

	slog.Info("Subscription event applied",
		"agent_id", agentID,
		"event_type", ev.Type,
		"status", next.Status)
	return &EventResult{AgentID: agentID, Outcome: outcome, Status: next.Status}, nil
}

// Provision runs one provisioning attempt for an instance in the
// provisioning state. It is not retried; failures land in
// provision_failed with a readable lastError.
func (s *Service) Provision(ctx context.Context, agentID string, forceTest bool) error {
	record, err := s.records.get(ctx, agentID)
	if err != nil {
		return err
	}
	if record.Status != StatusProvisioning {
		slog.Info("Skipping provisioning, instance moved on",
			"agent_id", agentID,
			"status", record.Status)
		return nil
	}

	if s.provisioner == nil {
		if s.testMode(forceTest) {
			record.Status = StatusActive
			record.InstanceURL = firstNonEmpty(record.InstanceURL, testInstanceBase+url.PathEscape(agentID))
			record.ProvisionJobID = firstNonEmpty(record.ProvisionJobID, randomID("job_test_"))
			record.LastError = ""
			record.UpdatedAt = s.millis()
			s.recordProvisioning(record.Status)
			return s.records.put(ctx, record)
		}
		s.markFailed(ctx, agentID, "provisioner URL is not configured")
		return errors.New("provisioner URL is not configured")
	}

	result, err := s.provisioner.Provision(ctx, ProvisionRequest{
		AgentID:        record.AgentID,
		CustomerID:     optional(record.CustomerID),
		SubscriptionID: optional(record.SubscriptionID),
		PlanID:         optional(record.PlanID),
		IdempotencyKey: record.AgentID + ":" + record.CheckoutSessionID,
	})
	if err != nil {
		s.markFailed(ctx, agentID, err.Error())
		return err
	}

	record.InstanceURL = firstNonEmpty(result.InstanceURL, record.InstanceURL)
	record.ProvisionJobID = firstNonEmpty(result.JobID, record.ProvisionJobID)
	if result.InstanceURL != "" {
		record.Status = StatusActive
	}
	record.LastError = ""
	record.UpdatedAt = s.millis()
	if err := s.records.put(ctx, record); err != nil {
		return err
	}

	s.recordProvisioning(record.Status)
	slog.Info("Provisioning attempt finished",
		"agent_id", agentID,
		"status", record.Status,
		"job_id", record.ProvisionJobID)
	return nil
}

// markFailed records provision_failed. The write uses its own deadline so
// an expired task context still leaves an observable failure.
func (s *Service) markFailed(ctx context.Context, agentID, reason string) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	record, err := s.records.get(writeCtx, agentID)
	if err != nil {
		slog.Error("Failed to load instance to record provisioning failure", "agent_id", agentID, "error", err)
		return
	}
	record.Status = StatusProvisionFailed
	record.LastError = reason
	record.UpdatedAt = s.millis()
	if err := s.records.put(writeCtx, record); err != nil {
		slog.Error("Failed to record provisioning failure", "agent_id", agentID, "error", err)
		return
	}

	s.recordProvisioning(StatusProvisionFailed)
	slog.Warn("Provisioning failed", "agent_id", agentID, "reason", reason)
}

func (s *Service) recordProvisioning(st Status) {
	if s.metrics != nil {
		s.metrics.ProvisioningTotal.WithLabelValues(string(st)).Inc()
	}
}

// AuthorizeCallback checks the provisioner bearer token. No configured
// token means the callback is closed.
func (s *Service) AuthorizeCallback(bearer string) bool {
	expected := strings.TrimSpace(s.cfg.ProvisionerAuthToken)
	bearer = strings.TrimSpace(bearer)
	if expected == "" || bearer == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(bearer), []byte(expected)) == 1
}

// ApplyCallback lets the provisioner assert an instance status directly.
func (s *Service) ApplyCallback(ctx context.Context, in CallbackInput) (*Record, error) {
	if !clients.ValidID(in.AgentID) {
		return nil, ErrInvalidAgentID
	}
	status, ok := ParseStatus(in.Status)
	if !ok {
		return nil, ErrInvalidStatus
	}

	record, err := s.records.get(ctx, in.AgentID)
	if err != nil {
		return nil, err
	}

	record.Status = status
	record.UpdatedAt = s.millis()
	record.InstanceURL = firstNonEmpty(in.InstanceURL, record.InstanceURL)
	record.ProvisionJobID = firstNonEmpty(in.ProvisionJobID, record.ProvisionJobID)
	record.LastError = in.Error
	if err := s.records.put(ctx, record); err != nil {
		return nil, err
	}

	slog.Info("Provisioner callback applied",
		"agent_id", in.AgentID,
		"status", status)
	return record, nil
}

func redirectURL(origin, outcome, agentID string) string {
	q := url.Values{}
	q.Set("paid", outcome)
	q.Set("agentId", agentID)
	return fmt.Sprintf("%s/dashboard?%s", origin, q.Encode())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
