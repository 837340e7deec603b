package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/atelierlabs/atelier-mentor/internal/store"
)

const ttlWorkerInterval = 5 * time.Minute

// CleanupCallback is called for each session abandoned by the TTL worker.
type CleanupCallback func(sessionID string)

// StartTTLWorker runs a background goroutine that periodically sweeps for
// idle sessions, closes any live streams attached to them, and removes
// their records.
func (m *Manager) StartTTLWorker(ctx context.Context, ttl time.Duration, onCleanup CleanupCallback) {
	ticker := time.NewTicker(ttlWorkerInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session TTL worker started", "interval", ttlWorkerInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				m.sweepStaleSessions(ctx, ttl, onCleanup)
			case <-ctx.Done():
				slog.Info("Session TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (m *Manager) sweepStaleSessions(ctx context.Context, ttl time.Duration, onCleanup CleanupCallback) {
	staleIDs, err := m.repo.GetStaleSessionIDs(ctx, ttl)
	if err != nil {
		slog.Error("TTL worker failed to get stale sessions", "error", err)
		return
	}
	if len(staleIDs) == 0 {
		return
	}

	slog.Info("TTL worker found stale sessions", "count", len(staleIDs))

	for _, id := range staleIDs {
		if onCleanup != nil {
			onCleanup(id)
		}
	}

	err = store.WithRetry(ctx, "cleanup stale sessions", func() error {
		deleted, cleanupErr := m.repo.CleanupStaleSessions(ctx, ttl)
		if cleanupErr != nil {
			return cleanupErr
		}
		if deleted > 0 {
			slog.Info("TTL worker removed stale sessions", "count", deleted)
		}
		return nil
	})
	if err != nil {
		slog.Warn("TTL worker failed to cleanup stale sessions after retries", "error", err)
		return
	}

	// Locks are dropped only once the rows are gone; a turn racing the
	// sweep still serializes on the session's existing mutex.
	for _, id := range staleIDs {
		m.forgetLock(id)
	}
}
