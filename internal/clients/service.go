package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rty23111-ctrl/agent-identity/internal/kv"
)

const KeyPrefix = "client:"

var ErrClientNotFound = errors.New("client not found")

func Key(clientID string) string {
	return KeyPrefix + clientID
}

type Service struct {
	store kv.Store
	now   func() time.Time
}

func NewService(store kv.Store) *Service {
	return &Service{store: store, now: time.Now}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Register creates the client if it does not exist yet. An existing record
// is returned unchanged with created=false.
func (s *Service) Register(ctx context.Context, clientID string) (*Client, bool, error) {
	if err := ValidateID(clientID); err != nil {
		return nil, false, err
	}

	existing, err := s.Get(ctx, clientID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrClientNotFound) {
		return nil, false, err
	}

	client := &Client{
		ClientID:     clientID,
		CreatedAt:    s.now().UnixMilli(),
		Capabilities: append([]string(nil), DefaultCapabilities...),
	}
	raw, err := json.Marshal(client)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode client: %w", err)
	}
	if err := s.store.Put(ctx, Key(clientID), raw, 0); err != nil {
		return nil, false, fmt.Errorf("failed to store client: %w", err)
	}

	slog.Info("Client registered", "client_id", clientID)
	return client, true, nil
}

func (s *Service) Get(ctx context.Context, clientID string) (*Client, error) {
	raw, err := s.store.Get(ctx, Key(clientID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	client, ok := decodeClient(raw)
	if !ok {
		slog.Warn("Ignoring malformed client record", "client_id", clientID)
		return nil, ErrClientNotFound
	}
	return client, nil
}

// Delete reports whether a record existed.
func (s *Service) Delete(ctx context.Context, clientID string) (bool, error) {
	_, err := s.store.Get(ctx, Key(clientID))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load client: %w", err)
	}
	if err := s.store.Delete(ctx, Key(clientID)); err != nil {
		return false, fmt.Errorf("failed to delete client: %w", err)
	}

	slog.Info("Client deleted", "client_id", clientID)
	return true, nil
}

func (s *Service) DeleteAll(ctx context.Context) (int, error) {
	all, err := s.all(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, c := range all {
		ok, err := s.Delete(ctx, c.ClientID)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}

	slog.Info("Clients purged", "deleted_count", deleted)
	return deleted, nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	all, err := s.all(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// List returns one page in ascending clientId order. It loads and sorts the
// whole registry on every call, which bounds it to moderate registry sizes.
func (s *Service) List(ctx context.Context, limit int, cursor string) (*Page, error) {
	limit = clampLimit(limit)
	all, err := s.all(ctx)
	if err != nil {
		return nil, err
	}

	offset := decodeCursor(cursor)
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}

	page := &Page{
		Clients: all[offset:end],
		Limit:   limit,
		HasMore: end < len(all),
	}
	if page.HasMore {
		page.NextCursor = encodeCursor(end)
	}
	return page, nil
}

// all loads every well-formed client record. Keys come back sorted from the
// store and ids share one prefix, so key order is clientId order.
func (s *Service) all(ctx context.Context) ([]Client, error) {
	keys, err := s.store.List(ctx, KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}

	out := make([]Client, 0, len(keys))
	for _, key := range keys {
		raw, err := s.store.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load client: %w", err)
		}
		client, ok := decodeClient(raw)
		if !ok || client.ClientID != strings.TrimPrefix(key, KeyPrefix) {
			continue
		}
		out = append(out, *client)
	}
	return out, nil
}

func decodeClient(raw []byte) (*Client, bool) {
	var c Client
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, false
	}
	if c.ClientID == "" || c.Capabilities == nil {
		return nil, false
	}
	return &c, true
}
