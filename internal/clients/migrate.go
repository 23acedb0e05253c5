package clients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rty23111-ctrl/agent-identity/internal/kv"
)

// MigrateLegacy moves client records stored under their bare id to the
// client:<id> key. Bare keys cannot collide with any prefixed key since
// client ids never contain a colon. When both keys exist the prefixed
// record wins and the bare one is dropped.
func (s *Service) MigrateLegacy(ctx context.Context) (*MigrationReport, error) {
	keys, err := s.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	report := &MigrationReport{}
	for _, key := range keys {
		if !ValidID(key) {
			continue
		}
		report.Scanned++

		raw, err := s.store.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return report, fmt.Errorf("failed to load legacy client %q: %w", key, err)
		}

		client, ok := decodeClient(raw)
		if !ok || client.ClientID != key {
			slog.Warn("Skipping legacy key that is not a client record", "key", key)
			report.Skipped++
			continue
		}

		_, err = s.store.Get(ctx, Key(key))
		switch {
		case errors.Is(err, kv.ErrNotFound):
			if err := s.store.Put(ctx, Key(key), raw, 0); err != nil {
				return report, fmt.Errorf("failed to store migrated client %q: %w", key, err)
			}
		case err != nil:
			return report, fmt.Errorf("failed to load client %q: %w", key, err)
		default:
			slog.Info("Client already migrated, dropping legacy copy", "client_id", key)
		}

		if err := s.store.Delete(ctx, key); err != nil {
			return report, fmt.Errorf("failed to delete legacy client %q: %w", key, err)
		}
		report.Migrated++
	}

	slog.Info("Legacy client migration finished",
		"scanned", report.Scanned,
		"migrated", report.Migrated,
		"skipped", report.Skipped)
	return report, nil
}
