package audit

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rty23111-ctrl/agent-identity/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	header http.Header
	body   []byte
}

func newSink(t *testing.T, status int) (*httptest.Server, func() []captured) {
	t.Helper()
	var mu sync.Mutex
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, captured{header: r.Header.Clone(), body: body})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), got...)
	}
}

func TestEmit_DeliversEvent(t *testing.T) {
	srv, received := newSink(t, http.StatusNoContent)
	d := worker.NewDispatcher(worker.Config{})
	e := NewEmitter(Config{WebhookURL: srv.URL, AuthToken: "sink-token"}, d, nil)
	e.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	e.Emit(Event{
		RequestID: "req-1",
		Action:    "token.issue",
		Outcome:   OutcomeSuccess,
		Status:    200,
		ClientID:  "agent-1",
		IP:        "1.2.3.4",
		Method:    "POST",
		Path:      "/api/token",
		Details:   map[string]any{"keySource": "service"},
	})
	d.Wait()

	got := received()
	require.Len(t, got, 1)
	assert.Equal(t, "token.issue", got[0].header.Get(EventHeader))
	assert.Equal(t, "req-1", got[0].header.Get(RequestIDHeader))
	assert.Equal(t, "Bearer sink-token", got[0].header.Get("Authorization"))
	assert.Equal(t, "application/json", got[0].header.Get("Content-Type"))

	var event map[string]any
	require.NoError(t, json.Unmarshal(got[0].body, &event))
	assert.Equal(t, "2024-05-01T12:00:00.000Z", event["timestamp"])
	assert.Equal(t, "agent-1", event["clientId"])
	assert.Equal(t, float64(200), event["status"])
	assert.Equal(t, map[string]any{"keySource": "service"}, event["details"])
}

func TestEmit_NullDetailsAndNoClient(t *testing.T) {
	srv, received := newSink(t, http.StatusOK)
	d := worker.NewDispatcher(worker.Config{})
	e := NewEmitter(Config{WebhookURL: srv.URL}, d, nil)

	e.Emit(Event{RequestID: "r", Action: "client.list", Outcome: OutcomeSuccess, Status: 200})
	d.Wait()

	got := received()
	require.Len(t, got, 1)
	assert.Empty(t, got[0].header.Get("Authorization"))

	var event map[string]any
	require.NoError(t, json.Unmarshal(got[0].body, &event))
	assert.Nil(t, event["details"])
	assert.NotContains(t, event, "clientId")
}

func TestEmit_DisabledWithoutURL(t *testing.T) {
	d := worker.NewDispatcher(worker.Config{})
	e := NewEmitter(Config{WebhookURL: "  "}, d, nil)
	assert.False(t, e.Enabled())

	e.Emit(Event{Action: "client.register"})
	d.Wait()
	assert.Zero(t, d.Stats().Submitted)

	var nilEmitter *Emitter
	assert.False(t, nilEmitter.Enabled())
	nilEmitter.Emit(Event{Action: "x"})
}

func TestEmit_FailuresAreSwallowed(t *testing.T) {
	srv, received := newSink(t, http.StatusInternalServerError)
	d := worker.NewDispatcher(worker.Config{})
	e := NewEmitter(Config{WebhookURL: srv.URL}, d, nil)

	e.Emit(Event{RequestID: "r", Action: "client.delete"})
	d.Wait()
	assert.Len(t, received(), 1)
	assert.Zero(t, d.Stats().Failed, "non-2xx is logged, not a task failure")

	unreachable := NewEmitter(Config{WebhookURL: "http://127.0.0.1:1"}, d, nil)
	unreachable.Emit(Event{RequestID: "r", Action: "client.delete"})
	d.Wait()
	assert.Equal(t, int64(1), d.Stats().Failed)
}

func TestConfigTimeout(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, Config{}.Timeout())
	assert.Equal(t, 200*time.Millisecond, Config{TimeoutMs: 50}.Timeout())
	assert.Equal(t, 3*time.Second, Config{TimeoutMs: 3000}.Timeout())
}
