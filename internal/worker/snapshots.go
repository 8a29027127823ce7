// Package worker runs the periodic aggregation jobs: activity snapshots for
// the analysis engine and workspace asset mirroring.
package worker

import (
	"context"
	"log/slog"
	"time"

	"teampulse/internal/db"
	"teampulse/internal/events"
	"teampulse/internal/models"
	"teampulse/internal/orchestrator"
	"teampulse/internal/store"
)

// SnapshotWorker periodically aggregates every connected user's recent
// activity, persists per-service counts, and notifies the analysis engine.
// It reuses the same orchestrator as the synchronous API path so worker and
// request-time views of a user's data can never diverge.
type SnapshotWorker struct {
	logger    *slog.Logger
	store     *store.Store
	orch      *orchestrator.Orchestrator
	writer    *db.SnapshotWriter
	publisher events.Publisher // nil when AMQP is not configured
	interval  time.Duration
	window    time.Duration
}

func NewSnapshotWorker(logger *slog.Logger, st *store.Store, orch *orchestrator.Orchestrator, writer *db.SnapshotWriter, pub events.Publisher, interval, window time.Duration) *SnapshotWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &SnapshotWorker{
		logger:    logger,
		store:     st,
		orch:      orch,
		writer:    writer,
		publisher: pub,
		interval:  interval,
		window:    window,
	}
}

func (w *SnapshotWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycleCtx, cancel := context.WithTimeout(ctx, w.interval)
			w.runCycle(cycleCtx)
			cancel()
		}
	}
}

type serviceCounts struct {
	messages int
	meetings int
}

// snapshotEvent is the payload published per user cycle.
type snapshotEvent struct {
	UserID      string    `json:"userId"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	Services    []struct {
		Service  models.Service `json:"service"`
		Messages int            `json:"messages"`
		Meetings int            `json:"meetings"`
	} `json:"services"`
}

func (w *SnapshotWorker) runCycle(ctx context.Context) {
	start := time.Now()
	w.logger.Info("snapshot_cycle_started", "window", w.window.String())

	users, err := w.store.ListUsersWithIntegrations(ctx)
	if err != nil {
		w.logger.Error("snapshot_user_list_failed", "error", err)
		return
	}

	processed := 0
	for _, userID := range users {
		select {
		case <-ctx.Done():
			w.logger.Warn("snapshot_cycle_cancelled", "processed", processed)
			return
		default:
		}

		if err := w.snapshotUser(ctx, userID); err != nil {
			w.logger.Warn("snapshot_user_failed", "user_id", userID, "error", err)
			continue
		}
		processed++
	}

	w.logger.Info("snapshot_cycle_completed",
		"users", processed,
		"elapsed", time.Since(start).String(),
	)
}

func (w *SnapshotWorker) snapshotUser(ctx context.Context, userID string) error {
	windowEnd := time.Now().UTC()
	windowStart := windowEnd.Add(-w.window)

	opts := models.FetchOptions{
		DateFrom: &windowStart,
		DateTo:   &windowEnd,
		Limit:    500,
	}

	resp := w.orch.Aggregate(ctx, userID, models.KindActivities, opts)
	if !resp.Success {
		w.logger.Warn("snapshot_aggregate_failed", "user_id", userID, "error", resp.Error)
		return nil // nothing to persist, not fatal for the cycle
	}

	counts := make(map[models.Service]*serviceCounts)
	for _, rec := range resp.Data {
		act, ok := rec.(models.UnifiedActivity)
		if !ok {
			continue
		}
		c := counts[act.Service]
		if c == nil {
			c = &serviceCounts{}
			counts[act.Service] = c
		}
		switch act.Kind {
		case "meeting":
			c.meetings++
		default:
			c.messages++
		}
	}

	if len(counts) == 0 {
		return nil
	}

	computedAt := time.Now().UTC()
	rows := make([][]interface{}, 0, len(counts))
	ev := snapshotEvent{UserID: userID, WindowStart: windowStart, WindowEnd: windowEnd}
	for svc, c := range counts {
		rows = append(rows, []interface{}{
			userID, string(svc), windowStart, windowEnd, c.messages, c.meetings, computedAt,
		})
		ev.Services = append(ev.Services, struct {
			Service  models.Service `json:"service"`
			Messages int            `json:"messages"`
			Meetings int            `json:"meetings"`
		}{Service: svc, Messages: c.messages, Meetings: c.meetings})
	}

	if err := w.writer.WriteSnapshots(ctx, rows); err != nil {
		return err
	}

	if w.publisher != nil {
		if err := w.publisher.Publish(ctx, "activity.snapshot", "activity_snapshot", ev); err != nil {
			// delivery is best-effort; the analysis engine re-reads snapshots anyway
			w.logger.Warn("snapshot_publish_failed", "user_id", userID, "error", err)
		}
	}
	return nil
}
