package paid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rty23111-ctrl/agent-identity/internal/kv"
)

const (
	InstanceKeyPrefix     = "paid:instance:"
	SessionKeyPrefix      = "paid:session:"
	SubscriptionKeyPrefix = "paid:subscription:"
)

type recordStore struct {
	kv kv.Store
}

func (s recordStore) get(ctx context.Context, agentID string) (*Record, error) {
	raw, err := s.kv.Get(ctx, InstanceKeyPrefix+agentID)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load paid instance: %w", err)
	}

	var r Record
	if err := json.Unmarshal(raw, &r); err != nil || r.AgentID == "" || r.Status == "" {
		return nil, ErrInstanceNotFound
	}
	return &r, nil
}

func (s recordStore) put(ctx context.Context, r *Record) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode paid instance: %w", err)
	}
	if err := s.kv.Put(ctx, InstanceKeyPrefix+r.AgentID, raw, 0); err != nil {
		return fmt.Errorf("failed to store paid instance: %w", err)
	}
	return nil
}

func (s recordStore) agentBySession(ctx context.Context, sessionID string) (string, error) {
	id, _, err := kv.GetString(ctx, s.kv, SessionKeyPrefix+sessionID)
	return id, err
}

func (s recordStore) agentBySubscription(ctx context.Context, subscriptionID string) (string, error) {
	id, _, err := kv.GetString(ctx, s.kv, SubscriptionKeyPrefix+subscriptionID)
	return id, err
}

func (s recordStore) indexSession(ctx context.Context, sessionID, agentID string) error {
	return s.putIndexOnce(ctx, SessionKeyPrefix+sessionID, agentID)
}

func (s recordStore) indexSubscription(ctx context.Context, subscriptionID, agentID string) error {
	return s.putIndexOnce(ctx, SubscriptionKeyPrefix+subscriptionID, agentID)
}

// putIndexOnce writes an index entry only when the key is absent.
func (s recordStore) putIndexOnce(ctx context.Context, key, agentID string) error {
	_, exists, err := kv.GetString(ctx, s.kv, key)
	if err != nil {
		return fmt.Errorf("failed to read index %q: %w", key, err)
	}
	if exists {
		return nil
	}
	if err := s.kv.Put(ctx, key, []byte(agentID), 0); err != nil {
		return fmt.Errorf("failed to write index %q: %w", key, err)
	}
	return nil
}
