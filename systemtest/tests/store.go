package tests

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rty23111-ctrl/agent-identity/internal/clients"
	"github.com/rty23111-ctrl/agent-identity/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStoreContract checks the behaviour every KV backend must share.
func TestStoreContract(t *testing.T, store kv.Store) {
	ctx := context.Background()

	t.Run("get put delete", func(t *testing.T) {
		_, err := store.Get(ctx, "contract:missing")
		assert.ErrorIs(t, err, kv.ErrNotFound)

		require.NoError(t, store.Put(ctx, "contract:a", []byte(`{"v":1}`), 0))
		v, err := store.Get(ctx, "contract:a")
		require.NoError(t, err)
		assert.Equal(t, `{"v":1}`, string(v))

		require.NoError(t, store.Put(ctx, "contract:a", []byte(`{"v":2}`), 0))
		v, err = store.Get(ctx, "contract:a")
		require.NoError(t, err)
		assert.Equal(t, `{"v":2}`, string(v))

		require.NoError(t, store.Delete(ctx, "contract:a"))
		_, err = store.Get(ctx, "contract:a")
		assert.ErrorIs(t, err, kv.ErrNotFound)
		assert.NoError(t, store.Delete(ctx, "contract:a"), "deleting a missing key is fine")
	})

	t.Run("list by prefix", func(t *testing.T) {
		for _, key := range []string{"list:c", "list:a", "list:b", "listx", "other:a", "list:%_"} {
			require.NoError(t, store.Put(ctx, key, []byte("1"), 0))
		}
		keys, err := store.List(ctx, "list:")
		require.NoError(t, err)
		assert.Equal(t, []string{"list:%_", "list:a", "list:b", "list:c"}, keys)

		keys, err = store.List(ctx, "list:%")
		require.NoError(t, err)
		assert.Equal(t, []string{"list:%_"}, keys, "prefix is matched literally")
	})

	t.Run("expiry", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "ttl:short", []byte("1"), time.Second))
		_, err := store.Get(ctx, "ttl:short")
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			_, err := store.Get(ctx, "ttl:short")
			return err != nil
		}, 5*time.Second, 100*time.Millisecond)

		keys, err := store.List(ctx, "ttl:")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("concurrent increments", func(t *testing.T) {
		inc, ok := store.(kv.Incrementer)
		if !ok {
			t.Skip("backend has no atomic increment")
		}

		const workers, perWorker = 8, 25
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					_, err := inc.Incr(ctx, "rate:contract", time.Minute)
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		v, err := store.Get(ctx, "rate:contract")
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(workers*perWorker), string(v))
	})

	t.Run("legacy migration", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "legacy-agent", []byte(`{"clientId":"legacy-agent","createdAt":1,"cap":["token:issue"]}`), 0))
		require.NoError(t, store.Put(ctx, "not-a-client", []byte(`plain`), 0))

		svc := clients.NewService(store)
		report, err := svc.MigrateLegacy(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Migrated)

		c, err := svc.Get(ctx, "legacy-agent")
		require.NoError(t, err)
		assert.Equal(t, int64(1), c.CreatedAt)
		_, err = store.Get(ctx, "legacy-agent")
		assert.ErrorIs(t, err, kv.ErrNotFound)

		report, err = svc.MigrateLegacy(ctx)
		require.NoError(t, err)
		assert.Zero(t, report.Migrated, "second run finds nothing to move")

		_, err = svc.DeleteAll(ctx)
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, "not-a-client"))
	})
}
