package paid

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rty23111-ctrl/agent-identity/internal/kv"
	"github.com/rty23111-ctrl/agent-identity/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvisioner struct {
	mu       sync.Mutex
	calls    []ProvisionRequest
	result   ProvisionResult
	err      error
	blockCtx bool
}

func (f *fakeProvisioner) Provision(ctx context.Context, req ProvisionRequest) (ProvisionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.blockCtx {
		<-ctx.Done()
		return ProvisionResult{}, ctx.Err()
	}
	return f.result, f.err
}

func (f *fakeProvisioner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeCheckout struct {
	session CheckoutSession
	err     error
	last    CheckoutInput
}

func (f *fakeCheckout) CreateSession(_ context.Context, in CheckoutInput) (CheckoutSession, error) {
	f.last = in
	return f.session, f.err
}

type fixture struct {
	svc        *Service
	store      *kv.MemoryStore
	dispatcher *worker.Dispatcher
	prov       *fakeProvisioner
	checkout   *fakeCheckout
	now        time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store:      kv.NewMemoryStore(),
		dispatcher: worker.NewDispatcher(worker.Config{}),
		prov:       &fakeProvisioner{result: ProvisionResult{InstanceURL: "https://inst.example/agent-1", JobID: "job_1"}},
		checkout:   &fakeCheckout{session: CheckoutSession{ID: "cs_live_1", URL: "https://checkout.example/cs_live_1"}},
		now:        time.UnixMilli(1_700_000_000_000),
	}
	if cfg.StripePriceID == "" {
		cfg.StripePriceID = "price_123"
	}
	f.svc = NewService(cfg, f.store, f.dispatcher,
		WithCheckoutProvider(f.checkout),
		WithProvisioner(f.prov),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func (f *fixture) record(t *testing.T, agentID string) *Record {
	t.Helper()
	r, err := f.svc.Get(context.Background(), agentID)
	require.NoError(t, err)
	return r
}

func completedEvent(sessionID, agentRef, subscription string) *Event {
	obj := map[string]any{"id": sessionID, "customer": "cus_1"}
	if agentRef != "" {
		obj["client_reference_id"] = agentRef
	}
	if subscription != "" {
		obj["subscription"] = subscription
	}
	return &Event{Type: EventCheckoutCompleted, Object: obj}
}

func TestCreateCheckout_PendingPaymentAndIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Enabled: true})

	res, err := f.svc.CreateCheckout(ctx, CheckoutInput{AgentID: "agent-1", Origin: "https://id.example"}, false)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPayment, res.Status)
	assert.Equal(t, "cs_live_1", res.CheckoutSessionID)

	assert.Equal(t, "https://id.example/dashboard?agentId=agent-1&paid=success", f.checkout.last.SuccessURL)
	assert.Equal(t, "https://id.example/dashboard?agentId=agent-1&paid=cancel", f.checkout.last.CancelURL)

	r := f.record(t, "agent-1")
	assert.Equal(t, StatusPendingPayment, r.Status)
	assert.Equal(t, "price_123", r.PlanID)
	assert.Equal(t, f.now.UnixMilli(), r.CreatedAt)

	agent, ok, err := kv.GetString(ctx, f.store, "paid:session:cs_live_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "agent-1", agent)
}

func TestCreateCheckout_PreservesCreatedAtAndIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Enabled: true})
	created := f.now

	_, err := f.svc.CreateCheckout(ctx, CheckoutInput{AgentID: "agent-1"}, false)
	require.NoError(t, err)
	_, err = f.svc.HandleEvent(ctx, completedEvent("cs_live_1", "", "sub_1"), false)
	require.NoError(t, err)
	f.dispatcher.Wait()

	f.now = f.now.Add(time.Hour)
	f.checkout.session = CheckoutSession{ID: "cs_live_2", URL: "https://checkout.example/cs_live_2"}
	_, err = f.svc.CreateCheckout(ctx, CheckoutInput{AgentID: "agent-1", SuccessURL: "https://app/ok"}, false)
	require.NoError(t, err)

	r := f.record(t, "agent-1")
	assert.Equal(t, StatusPendingPayment, r.Status)
	assert.Equal(t, created.UnixMilli(), r.CreatedAt)
	assert.Equal(t, "sub_1", r.SubscriptionID)
	assert.Equal(t, "cus_1", r.CustomerID)
	assert.Equal(t, "cs_live_2", r.CheckoutSessionID)
	assert.Equal(t, "https://app/ok", f.checkout.last.SuccessURL)
}

func TestCreateCheckout_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Enabled: true})

	_, err := f.svc.CreateCheckout(ctx, CheckoutInput{AgentID: "x"}, false)
	assert.ErrorIs(t, err, ErrInvalidAgentID)

	f.checkout.err = ErrCheckoutFailed
	_, err = f.svc.CreateCheckout(ctx, CheckoutInput{AgentID: "agent-1"}, false)
	assert.ErrorIs(t, err, ErrCheckoutFailed)

	_, err = f.svc.Get(ctx, "agent-1")
	assert.ErrorIs(t, err, ErrInstanceNotFound, "failed checkout leaves no record")
}

func TestCreateCheckout_TestMode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Enabled: true})

	res, err := f.svc.CreateCheckout(ctx, CheckoutInput{AgentID: "agent-1", Origin: "http://127.0.0.1:8787"}, true)
	require.NoError(t, err)
	assert.Regexp(t, `^cs_test_[0-9a-f]{16}$`, res.CheckoutSessionID)

	u, err := url.Parse(res.CheckoutURL)
	require.NoError(t, err)
	assert.Equal(t, "/dashboard", u.Path)
	assert.Equal(t, "test-checkout", u.Query().Get("paid"))
	assert.Equal(t, "agent-1", u.Query().Get("agentId"))
	assert.Equal(t, res.CheckoutSessionID, u.Query().Get("sessionId"))
	assert.Empty(t, f.checkout.last.AgentID, "live provider is not called in test mode")
}

func TestRequireCheckout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Enabled: true})

	res, err := f.svc.RequireCheckout(ctx, CheckoutInput{AgentID: "agent-1"}, false)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "cs_live_1", res.CheckoutSessionID)

	_, err = f.svc.HandleEvent(ctx, completedEvent("cs_live_1", "", ""), false)
	require.NoError(t, err)
	f.dispatcher.Wait()
	require.Equal(t, StatusActive, f.record(t, "agent-1").Status)

	res, err = f.svc.RequireCheckout(ctx, CheckoutInput{AgentID: "agent-1"}, false)
	require.NoError(t, err)
	assert.Nil(t, res, "active instance needs no checkout")
}

func TestRequireCheckout_KeepsPaidInstance(t *testing.T) {
	ctx := context.Background()

	t.Run("provisioning", func(t *testing.T) {
		f := newFixture(t, Config{Enabled: true})
		f.prov.result = ProvisionResult{JobID: "job_async"}
		_, err := f.svc.HandleEvent(ctx, completedEvent("cs_1", "agent-1", "sub_1"), false)
		require.NoError(t, err)
		f.dispatcher.Wait()
		before := f.record(t, "agent-1")
		require.Equal(t, StatusProvisioning, before.Status)

		res, err := f.svc.RequireCheckout(ctx, CheckoutInput{AgentID: "agent-1"}, false)
		require.NoError(t, err)
		require.NotNil(t, res, "registration stays gated until active")
		assert.Equal(t, StatusProvisioning, res.Status)
		assert.Equal(t, "cs_1", res.CheckoutSessionID)
		assert.Empty(t, f.checkout.last.AgentID, "no second checkout session")
		assert.Equal(t, before, f.record(t, "agent-1"))

		// the pending attempt can still complete
		f.prov.result = ProvisionResult{InstanceURL: "https://inst.example/agent-1"}
		require.NoError(t, f.svc.Provision(ctx, "agent-1", false))
		assert.Equal(t, StatusActive, f.record(t, "agent-1").Status)
		assert.Equal(t, 2, f.prov.count())
	})

	t.Run("past due", func(t *testing.T) {
		f := activeFixture(t)
		_, err := f.svc.HandleEvent(ctx, &Event{Type: EventInvoicePaymentFailed,
			Object: map[string]any{"id": "in_1", "subscription": "sub_1"}}, false)
		require.NoError(t, err)
		before := f.record(t, "agent-1")
		require.Equal(t, StatusPastDue, before.Status)

		res, err := f.svc.RequireCheckout(ctx, CheckoutInput{AgentID: "agent-1"}, false)
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, StatusPastDue, res.Status)
		assert.Empty(t, f.checkout.last.AgentID)
		assert.Equal(t, before, f.record(t, "agent-1"))

		// recovery through the subscription stays possible
		_, err = f.svc.HandleEvent(ctx, subscriptionEvent(EventSubscriptionUpdated, "sub_1", "active"), false)
		require.NoError(t, err)
		assert.Equal(t, StatusActive, f.record(t, "agent-1").Status)
	})

	t.Run("canceled starts a new checkout", func(t *testing.T) {
		f := activeFixture(t)
		_, err := f.svc.HandleEvent(ctx, subscriptionEvent(EventSubscriptionDeleted, "sub_1", ""), false)
		require.NoError(t, err)
		f.checkout.session = CheckoutSession{ID: "cs_live_9", URL: "https://checkout.example/cs_live_9"}

		res, err := f.svc.RequireCheckout(ctx, CheckoutInput{AgentID: "agent-1"}, false)
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, StatusPendingPayment, res.Status)
		assert.Equal(t, "cs_live_9", res.CheckoutSessionID)
		assert.Equal(t, "agent-1", f.checkout.last.AgentID)
	})

	t.Run("failed starts a new checkout", func(t *testing.T) {
		f := newFixture(t, Config{Enabled: true})
		f.prov.err = &StatusError{StatusCode: 500}
		_, err := f.svc.HandleEvent(ctx, completedEvent("cs_1", "agent-1", ""), false)
		require.NoError(t, err)
		f.dispatcher.Wait()
		require.Equal(t, StatusProvisionFailed, f.record(t, "agent-1").Status)

		res, err := f.svc.RequireCheckout(ctx, CheckoutInput{AgentID: "agent-1"}, false)
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, StatusPendingPayment, res.Status)
	})
}

func TestCheckoutCompleted_ProvisionsToActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Enabled: true})

	_, err := f.svc.CreateCheckout(ctx, CheckoutInput{AgentID: "agent-1"}, false)
	require.NoError(t, err)

	res, err := f.svc.HandleEvent(ctx, completedEvent("cs_live_1", "", "sub_1"), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, res.Outcome)
	assert.Equal(t, "agent-1", res.AgentID)
	f.dispatcher.Wait()

	r := f.record(t, "agent-1")
	assert.Equal(t, StatusActive, r.Status)
	assert.Equal(t, "https://inst.example/agent-1", r.InstanceURL)
	assert.Equal(t, "job_1", r.ProvisionJobID)
	assert.Equal(t, "cus_1", r.CustomerID)

	require.Equal(t, 1, f.prov.count())
	call := f.prov.calls[0]
	assert.Equal(t, "agent-1", call.AgentID)
	assert.Equal(t, "agent-1:cs_live_1", call.IdempotencyKey)
	require.NotNil(t, call.SubscriptionID)
	assert.Equal(t, "sub_1", *call.SubscriptionID)
	require.NotNil(t, call.PlanID)
	assert.Equal(t, "price_123", *call.PlanID)

	agent, ok, err := kv.GetString(ctx, f.store, "paid:subscription:sub_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "agent-1", agent)
}

func TestCheckoutCompleted_AgentResolution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Enabled: true})

	res, err := f.svc.HandleEvent(ctx, completedEvent("cs_unknown", "ref-agent", ""), false)
	require.NoError(t, err)
	assert.Equal(t, "ref-agent", res.AgentID)

	meta := &Event{Type: EventCheckoutCompleted, Object: map[string]any{
		"id":       "cs_other",
		"metadata": map[string]any{"agentId": "meta-agent"},
	}}
	res, err = f.svc.HandleEvent(ctx, meta, false)
	require.NoError(t, err)
	assert.Equal(t, "meta-agent", res.AgentID)

	res, err = f.svc.HandleEvent(ctx, completedEvent("cs_none", "", ""), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	res, err = f.svc.HandleEvent(ctx, completedEvent("cs_bad", "no", ""), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	f.dispatcher.Wait()
}

func TestCheckoutCompleted_ReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Enabled: true})

	_, err := f.svc.CreateCheckout(ctx, CheckoutInput{AgentID: "agent-1"}, false)
	require.NoError(t, err)

	ev := completedEvent("cs_live_1", "agent-1", "sub_1")
	_, err = f.svc.HandleEvent(ctx, ev, false)
	require.NoError(t, err)
	f.dispatcher.Wait()
	first := f.record(t, "agent-1")
	require.Equal(t, StatusActive, first.Status)

	f.now = f.now.Add(time.Minute)
	res, err := f.svc.HandleEvent(ctx, ev, false)
	require.NoError(t, err)
	f.dispatcher.Wait()

	assert.Equal(t, OutcomeReplayed, res.Outcome)
	assert.Equal(t, 1, f.prov.count(), "no second provisioning call")

	second := f.record(t, "agent-1")
	assert.Equal(t, StatusActive, second.Status)
	assert.Equal(t, first.InstanceURL, second.InstanceURL)
	assert.Greater(t, second.UpdatedAt, first.UpdatedAt)

	for _, prefix := range []string{"paid:session:", "paid:subscription:", "paid:instance:"} {
		keys, err := f.store.List(ctx, prefix)
		require.NoError(t, err)
		assert.Len(t, keys, 1, prefix)
	}
}

func TestCheckoutCompleted_ReplayWhileProvisioning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Enabled: true})
	f.prov.result = ProvisionResult{JobID: "job_async"}

	ev := completedEvent("cs_live_1", "agent-1", "")
	_, err := f.svc.HandleEvent(ctx, ev, false)
	require.NoError(t, err)
	f.dispatcher.Wait()
	require.Equal(t, StatusProvisioning, f.record(t, "agent-1").Status)

	res, err := f.svc.HandleEvent(ctx, ev, false)
	require.NoError(t, err)
	f.dispatcher.Wait()

	assert.Equal(t, OutcomeReplayed, res.Outcome)
	assert.Equal(t, 1, f.prov.count())
	r := f.record(t, "agent-1")
	assert.Equal(t, StatusProvisioning, r.Status)
	assert.Equal(t, "job_async", r.ProvisionJobID)
}

func TestCheckoutCompleted_RetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Enabled: true})
	f.prov.err = &StatusError{StatusCode: 502}

	ev := completedEvent("cs_live_1", "agent-1", "")
	_, err := f.svc.HandleEvent(ctx, ev, false)
	require.NoError(t, err)
	f.dispatcher.Wait()

	r := f.record(t, "agent-1")
	assert.Equal(t, StatusProvisionFailed, r.Status)
	assert.Equal(t, "provisioner failed with status 502", r.LastError)

	f.prov.err = nil
	res, err := f.svc.HandleEvent(ctx, ev, false)
	require.NoError(t, err)
	f.dispatcher.Wait()

	assert.Equal(t, OutcomeDispatched, res.Outcome)
	assert.Equal(t, 2, f.prov.count())
	r = f.record(t, "agent-1")
	assert.Equal(t, StatusActive, r.Status)
	assert.Empty(t, r.LastError)
}

func TestCheckoutCompleted_ReplayAfterCancelIsTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Enabled: true})

	_, err := f.svc.CreateCheckout(ctx, CheckoutInput{AgentID: "agent-1"}, false)
	require.NoError(t, err)
	ev := completedEvent("cs_live_1", "", "sub_1")
	_, err = f.svc.HandleEvent(ctx, ev, false)
	require.NoError(t, err)
	f.dispatcher.Wait()
	require.Equal(t, StatusActive, f.record(t, "agent-1").Status)

	_, err = f.svc.HandleEvent(ctx, subscriptionEvent(EventSubscriptionDeleted, "sub_1", ""), false)
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, f.record(t, "agent-1").Status)

	res, err := f.svc.HandleEvent(ctx, ev, false)
	require.NoError(t, err)
	f.dispatcher.Wait()
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, StatusCanceled, res.Status)
	assert.Equal(t, StatusCanceled, f.record(t, "agent-1").Status)
	assert.Equal(t, 1, f.prov.count(), "replay after cancel does not provision again")

	// a new subscription starts over from a fresh checkout
	f.checkout.session = CheckoutSession{ID: "cs_live_2", URL: "https://checkout.example/cs_live_2"}
	_, err = f.svc.CreateCheckout(ctx, CheckoutInput{AgentID: "agent-1"}, false)
	require.NoError(t, err)
	res, err = f.svc.HandleEvent(ctx, completedEvent("cs_live_2", "", "sub_2"), false)
	require.NoError(t, err)
	f.dispatcher.Wait()
	assert.Equal(t, OutcomeDispatched, res.Outcome)
	assert.Equal(t, StatusActive, f.record(t, "agent-1").Status)
	assert.Equal(t, 2, f.prov.count())
}

func TestProvision_TransportErrorAndTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Enabled: true, ProvisionTimeoutSeconds: 1})
	f.prov.err = errors.New("dial tcp: connection refused")

	_, err := f.svc.HandleEvent(ctx, completedEvent("cs_1", "agent-1", ""), false)
	require.NoError(t, err)
	f.dispatcher.Wait()
	r := f.record(t, "agent-1")
	assert.Equal(t, StatusProvisionFailed, r.Status)
	assert.Equal(t, "dial tcp: connection refused", r.LastError)

	f.prov.err = nil
	f.prov.blockCtx = true
	_, err = f.svc.HandleEvent(ctx, completedEvent("cs_2", "agent-2", ""), false)
	require.NoError(t, err)
	f.dispatcher.Wait()
	r = f.record(t, "agent-2")
	assert.Equal(t, StatusProvisionFailed, r.Status)
	assert.Contains(t, r.LastError, "deadline exceeded")
}

func TestProvision_NoProvisioner(t *testing.T) {
	ctx := context.Background()

	t.Run("test mode", func(t *testing.T) {
		f := newFixture(t, Config{Enabled: true, TestMode: true})
		f.svc.provisioner = nil

		_, err := f.svc.HandleEvent(ctx, completedEvent("cs_1", "agent-1", ""), false)
		require.NoError(t, err)
		f.dispatcher.Wait()

		r := f.record(t, "agent-1")
		assert.Equal(t, StatusActive, r.Status)
		assert.Equal(t, "https://test-instance.local/agent-1", r.InstanceURL)
		assert.Regexp(t, `^job_test_[0-9a-f]{16}$`, r.ProvisionJobID)
	})

	t.Run("forced test request", func(t *testing.T) {
		f := newFixture(t, Config{Enabled: true})
		f.svc.provisioner = nil

		_, err := f.svc.HandleEvent(ctx, completedEvent("cs_1", "agent-1", ""), true)
		require.NoError(t, err)
		f.dispatcher.Wait()
		assert.Equal(t, StatusActive, f.record(t, "agent-1").Status)
	})

	t.Run("live mode", func(t *testing.T) {
		f := newFixture(t, Config{Enabled: true})
		f.svc.provisioner = nil

		_, err := f.svc.HandleEvent(ctx, completedEvent("cs_1", "agent-1", ""), false)
		require.NoError(t, err)
		f.dispatcher.Wait()

		r := f.record(t, "agent-1")
		assert.Equal(t, StatusProvisionFailed, r.Status)
		assert.Equal(t, "provisioner URL is not configured", r.LastError)
		assert.Empty(t, r.InstanceURL)
	})
}

func TestProvision_SkipsWhenNotProvisioning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Enabled: true})
	_, err := f.svc.CreateCheckout(ctx, CheckoutInput{AgentID: "agent-1"}, false)
	require.NoError(t, err)

	require.NoError(t, f.svc.Provision(ctx, "agent-1", false))
	assert.Zero(t, f.prov.count())
	assert.Equal(t, StatusPendingPayment, f.record(t, "agent-1").Status)
}

func TestProvision_DispatchAfterShutdown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Enabled: true})
	require.NoError(t, f.dispatcher.Shutdown(ctx))

	_, err := f.svc.HandleEvent(ctx, completedEvent("cs_1", "agent-1", ""), false)
	require.NoError(t, err)

	r := f.record(t, "agent-1")
	assert.Equal(t, StatusProvisionFailed, r.Status)
	assert.Equal(t, "provisioning could not be scheduled", r.LastError)
}

func activeFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, Config{Enabled: true})
	_, err := f.svc.HandleEvent(context.Background(), completedEvent("cs_1", "agent-1", "sub_1"), false)
	require.NoError(t, err)
	f.dispatcher.Wait()
	require.Equal(t, StatusActive, f.record(t, "agent-1").Status)
	return f
}

func subscriptionEvent(typ, id, status string) *Event {
	obj := map[string]any{"id": id}
	if status != "" {
		obj["status"] = status
	}
	return &Event{Type: typ, Object: obj}
}

func TestSubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	f := activeFixture(t)

	steps := []struct {
		event *Event
		want  Status
	}{
		{subscriptionEvent(EventSubscriptionUpdated, "sub_1", "past_due"), StatusPastDue},
		{subscriptionEvent(EventSubscriptionUpdated, "sub_1", "active"), StatusActive},
		{subscriptionEvent(EventSubscriptionUpdated, "sub_1", "unpaid"), StatusPastDue},
		{subscriptionEvent(EventSubscriptionUpdated, "sub_1", "trialing"), StatusActive},
		{&Event{Type: EventInvoicePaymentFailed, Object: map[string]any{"id": "in_1", "subscription": "sub_1"}}, StatusPastDue},
		{subscriptionEvent(EventSubscriptionUpdated, "sub_1", "incomplete"), StatusPastDue},
		{subscriptionEvent(EventSubscriptionDeleted, "sub_1", "active"), StatusCanceled},
		{subscriptionEvent(EventSubscriptionUpdated, "sub_1", "active"), StatusCanceled},
	}
	for i, step := range steps {
		_, err := f.svc.HandleEvent(ctx, step.event, false)
		require.NoError(t, err)
		assert.Equal(t, step.want, f.record(t, "agent-1").Status, "step %d", i)
	}
}

func TestSubscriptionUpdated_CanceledStatus(t *testing.T) {
	ctx := context.Background()
	f := activeFixture(t)

	_, err := f.svc.HandleEvent(ctx, subscriptionEvent(EventSubscriptionUpdated, "sub_1", "incomplete_expired"), false)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, f.record(t, "agent-1").Status)
}

func TestSubscriptionEvents_Uncorrelated(t *testing.T) {
	ctx := context.Background()
	f := activeFixture(t)

	for _, ev := range []*Event{
		subscriptionEvent(EventSubscriptionDeleted, "sub_unknown", ""),
		{Type: EventInvoicePaymentFailed, Object: map[string]any{"id": "in_1"}},
		{Type: "charge.refunded", Object: map[string]any{"id": "ch_1"}},
	} {
		res, err := f.svc.HandleEvent(ctx, ev, false)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, res.Outcome)
	}
	assert.Equal(t, StatusActive, f.record(t, "agent-1").Status)
}

func TestSubscriptionUpdated_DoesNotActivateProvisioning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Enabled: true})
	f.prov.result = ProvisionResult{JobID: "job_async"}

	_, err := f.svc.HandleEvent(ctx, completedEvent("cs_1", "agent-1", "sub_1"), false)
	require.NoError(t, err)
	f.dispatcher.Wait()

	res, err := f.svc.HandleEvent(ctx, subscriptionEvent(EventSubscriptionUpdated, "sub_1", "active"), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, StatusProvisioning, f.record(t, "agent-1").Status)

	// a payment failure before the instance is up does not skip ahead
	res, err = f.svc.HandleEvent(ctx, &Event{ID: "evt_failed", Type: EventInvoicePaymentFailed,
		Object: map[string]any{"id": "in_1", "subscription": "sub_1"}}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, StatusProvisioning, f.record(t, "agent-1").Status)
}

func TestApplyCallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Enabled: true, ProvisionerAuthToken: "prov-secret"})
	f.prov.result = ProvisionResult{JobID: "job_async"}

	_, err := f.svc.ApplyCallback(ctx, CallbackInput{AgentID: "agent-1", Status: "active"})
	assert.ErrorIs(t, err, ErrInstanceNotFound)

	_, err = f.svc.HandleEvent(ctx, completedEvent("cs_1", "agent-1", ""), false)
	require.NoError(t, err)
	f.dispatcher.Wait()

	_, err = f.svc.ApplyCallback(ctx, CallbackInput{AgentID: "agent-1", Status: "running"})
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = f.svc.ApplyCallback(ctx, CallbackInput{AgentID: "?", Status: "active"})
	assert.ErrorIs(t, err, ErrInvalidAgentID)

	f.now = f.now.Add(time.Second)
	r, err := f.svc.ApplyCallback(ctx, CallbackInput{
		AgentID:     "agent-1",
		Status:      "active",
		InstanceURL: "https://ready.example",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, r.Status)
	assert.Equal(t, "https://ready.example", r.InstanceURL)
	assert.Equal(t, "job_async", r.ProvisionJobID)
	assert.Equal(t, f.now.UnixMilli(), r.UpdatedAt)

	r, err = f.svc.ApplyCallback(ctx, CallbackInput{AgentID: "agent-1", Status: "provision_failed", Error: "disk full"})
	require.NoError(t, err)
	assert.Equal(t, "disk full", r.LastError)
	assert.Equal(t, "https://ready.example", r.InstanceURL)

	for _, st := range AllStatuses {
		_, err := f.svc.ApplyCallback(ctx, CallbackInput{AgentID: "agent-1", Status: string(st)})
		assert.NoError(t, err, st)
	}
}

func TestAuthorizeCallback(t *testing.T) {
	f := newFixture(t, Config{ProvisionerAuthToken: " prov-secret "})
	assert.True(t, f.svc.AuthorizeCallback("prov-secret"))
	assert.False(t, f.svc.AuthorizeCallback("wrong"))
	assert.False(t, f.svc.AuthorizeCallback(""))

	closed := newFixture(t, Config{})
	assert.False(t, closed.svc.AuthorizeCallback(""))
	assert.False(t, closed.svc.AuthorizeCallback("anything"))
}

func TestLifecycleAllowed(t *testing.T) {
	assert.True(t, lifecycleAllowed(StatusActive, StatusPastDue))
	assert.True(t, lifecycleAllowed(StatusPastDue, StatusActive))
	assert.True(t, lifecycleAllowed(StatusProvisioning, StatusCanceled))
	assert.False(t, lifecycleAllowed(StatusProvisionFailed, StatusActive))
	assert.False(t, lifecycleAllowed(StatusCanceled, StatusActive))
	assert.False(t, lifecycleAllowed(StatusPendingPayment, StatusCanceled))
}
