package clients

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rty23111-ctrl/agent-identity/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *kv.MemoryStore) {
	t.Helper()
	store := kv.NewMemoryStore()
	svc := NewService(store)
	svc.SetClock(func() time.Time { return time.UnixMilli(1700000000123) })
	return svc, store
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"agent-1", true},
		{"a.b_c", true},
		{"abc", true},
		{"ab", false},
		{"", false},
		{"has space", false},
		{"client:x", false},
		{strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidID(tt.id))
		})
	}
}

func TestRegister_CreatesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	c, created, err := svc.Register(ctx, "agent-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "agent-1", c.ClientID)
	assert.Equal(t, int64(1700000000123), c.CreatedAt)
	assert.Equal(t, []string{"token:issue", "token:validate"}, c.Capabilities)

	svc.SetClock(func() time.Time { return time.UnixMilli(1800000000000) })
	again, created, err := svc.Register(ctx, "agent-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c, again, "existing record is returned unchanged")

	n, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegister_InvalidID(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, err := svc.Register(context.Background(), "x")
	assert.ErrorIs(t, err, ErrInvalidClientID)
}

func TestRegister_StoresPlainJSON(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	_, _, err := svc.Register(ctx, "agent-1")
	require.NoError(t, err)

	raw, err := store.Get(ctx, "client:agent-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"clientId":"agent-1","createdAt":1700000000123,"cap":["token:issue","token:validate"]}`, string(raw))
}

func TestGetAndDelete(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Get(ctx, "agent-1")
	assert.ErrorIs(t, err, ErrClientNotFound)

	_, _, err = svc.Register(ctx, "agent-1")
	require.NoError(t, err)

	ok, err := svc.Delete(ctx, "agent-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Delete(ctx, "agent-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.Get(ctx, "agent-1")
	assert.ErrorIs(t, err, ErrClientNotFound)

	page, err := svc.List(ctx, 100, "")
	require.NoError(t, err)
	assert.Empty(t, page.Clients)
}

func TestGet_MalformedRecordIsAbsent(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	require.NoError(t, store.Put(ctx, "client:broken", []byte("not json"), 0))

	_, err := svc.Get(ctx, "broken")
	assert.ErrorIs(t, err, ErrClientNotFound)

	n, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	for _, id := range []string{"aaa", "bbb", "ccc"} {
		_, _, err := svc.Register(ctx, id)
		require.NoError(t, err)
	}
	require.NoError(t, store.Put(ctx, "rate:register:1.2.3.4:1", []byte("3"), 0))

	n, err := svc.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	count, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = store.Get(ctx, "rate:register:1.2.3.4:1")
	assert.NoError(t, err, "non-client keys survive a purge")
}

func TestList_PaginatesEveryClientOnce(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	var want []string
	for i := 24; i >= 0; i-- {
		id := fmt.Sprintf("agent-%02d", i)
		_, _, err := svc.Register(ctx, id)
		require.NoError(t, err)
	}
	for i := 0; i < 25; i++ {
		want = append(want, fmt.Sprintf("agent-%02d", i))
	}

	for _, limit := range []int{1, 2, 7, 24, 25, 100} {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			var got []string
			cursor := ""
			for pages := 0; pages < 100; pages++ {
				page, err := svc.List(ctx, limit, cursor)
				require.NoError(t, err)
				assert.LessOrEqual(t, len(page.Clients), limit)
				for _, c := range page.Clients {
					got = append(got, c.ClientID)
				}
				if !page.HasMore {
					assert.Empty(t, page.NextCursor)
					break
				}
				require.NotEmpty(t, page.NextCursor)
				cursor = page.NextCursor
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestList_ThreeSingleItemPages(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	for _, id := range []string{"ccc", "aaa", "bbb"} {
		_, _, err := svc.Register(ctx, id)
		require.NoError(t, err)
	}

	first, err := svc.List(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, first.Clients, 1)
	assert.Equal(t, "aaa", first.Clients[0].ClientID)
	assert.True(t, first.HasMore)

	second, err := svc.List(ctx, 1, first.NextCursor)
	require.NoError(t, err)
	require.Len(t, second.Clients, 1)
	assert.Equal(t, "bbb", second.Clients[0].ClientID)
	assert.True(t, second.HasMore)

	third, err := svc.List(ctx, 1, second.NextCursor)
	require.NoError(t, err)
	require.Len(t, third.Clients, 1)
	assert.Equal(t, "ccc", third.Clients[0].ClientID)
	assert.False(t, third.HasMore)
}

func TestList_MalformedCursorRestarts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	for _, id := range []string{"aaa", "bbb"} {
		_, _, err := svc.Register(ctx, id)
		require.NoError(t, err)
	}

	for _, cursor := range []string{
		"%%%not-base64",
		base64.StdEncoding.EncodeToString([]byte("not json")),
		base64.StdEncoding.EncodeToString([]byte(`{"offset":-4}`)),
		base64.StdEncoding.EncodeToString([]byte(`{"offset":1.5}`)),
	} {
		page, err := svc.List(ctx, 1, cursor)
		require.NoError(t, err)
		require.Len(t, page.Clients, 1)
		assert.Equal(t, "aaa", page.Clients[0].ClientID, cursor)
	}
}

func TestList_CursorPastEnd(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	_, _, err := svc.Register(ctx, "aaa")
	require.NoError(t, err)

	page, err := svc.List(ctx, 10, encodeCursor(50))
	require.NoError(t, err)
	assert.Empty(t, page.Clients)
	assert.False(t, page.HasMore)
}

func TestList_ClampsLimit(t *testing.T) {
	svc, _ := newTestService(t)
	page, err := svc.List(context.Background(), 0, "")
	require.NoError(t, err)
	assert.Equal(t, 1, page.Limit)

	page, err = svc.List(context.Background(), 1000, "")
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, page.Limit)
}

func TestCursorEncoding(t *testing.T) {
	c := encodeCursor(3)
	raw, err := base64.StdEncoding.DecodeString(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"offset":3}`, string(raw))
	assert.Equal(t, 3, decodeCursor(c))
	assert.Equal(t, 0, decodeCursor(""))
}
