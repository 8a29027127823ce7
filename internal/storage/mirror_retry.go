package storage

import (
	"context"
	"log/slog"
	"time"

	"teampulse/internal/db"
)

// MirrorRetryJob sweeps workspace_assets rows whose mirror never completed
// (provider CDN was down, image was oversized at the time) and retries them.
// Rows are produced by the UI layer when it renders a workspace it has not
// seen before.
type MirrorRetryJob struct {
	db     *db.DB
	store  ObjectStore
	logger *slog.Logger
}

func NewMirrorRetryJob(logger *slog.Logger, dbConn *db.DB, store ObjectStore) *MirrorRetryJob {
	return &MirrorRetryJob{
		db:     dbConn,
		store:  store,
		logger: logger,
	}
}

func (j *MirrorRetryJob) Start(ctx context.Context) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()

	j.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycleCtx, cancel := context.WithTimeout(ctx, 1*time.Hour)
			j.runCycle(cycleCtx)
			cancel()
		}
	}
}

func (j *MirrorRetryJob) runCycle(ctx context.Context) {
	j.logger.Info("mirror_retry_cycle_started")

	rows, err := j.db.Pool.Query(ctx,
		`SELECT id, service, source_url
		 FROM workspace_assets
		 WHERE mirror_url IS NULL
		 AND source_url != ''
		 LIMIT 100`,
	)
	if err != nil {
		j.logger.Warn("failed_to_fetch_pending_assets", "error", err)
		return
	}
	defer rows.Close()

	type pending struct {
		id        int64
		service   string
		sourceURL string
	}
	var batch []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.service, &p.sourceURL); err != nil {
			continue
		}
		batch = append(batch, p)
	}

	count := 0
	for _, p := range batch {
		select {
		case <-ctx.Done():
			return
		default:
		}

		url, err := j.store.MirrorImage(p.sourceURL, "workspaces/"+p.service)
		if err != nil {
			j.logger.Warn("mirror_retry_failed", "asset_id", p.id, "service", p.service, "error", err)
			continue
		}

		_, err = j.db.Pool.Exec(ctx,
			`UPDATE workspace_assets SET mirror_url = $1, mirrored_at = NOW() WHERE id = $2`,
			url, p.id,
		)
		if err != nil {
			j.logger.Warn("failed_to_update_asset", "asset_id", p.id, "error", err)
			continue
		}

		count++
		// pace uploads; the provider CDNs throttle hotlink-style bursts
		time.Sleep(1 * time.Second)
	}

	j.logger.Info("mirror_retry_cycle_completed", "processed", count)
}
