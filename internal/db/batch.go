package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// BatchConfig holds configuration for bulk snapshot writes.
type BatchConfig struct {
	BatchSize  int
	MaxRetries int
	RetryDelay time.Duration
	OnProgress func(processed, total int)
}

func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchSize:  100,
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
	}
}

// BatchInsert performs a chunked bulk insert via COPY.
// Returns the total number of rows inserted and any error encountered.
func (d *DB) BatchInsert(ctx context.Context, tableName string, columns []string, values [][]interface{}, cfg BatchConfig) (int, error) {
	if len(values) == 0 {
		return 0, nil
	}

	totalInserted := 0
	totalRows := len(values)

	for i := 0; i < len(values); i += cfg.BatchSize {
		end := i + cfg.BatchSize
		if end > len(values) {
			end = len(values)
		}

		batch := values[i:end]
		inserted, err := d.insertBatch(ctx, tableName, columns, batch, cfg.MaxRetries, cfg.RetryDelay)
		if err != nil {
			return totalInserted, fmt.Errorf("batch insert failed at offset %d: %w", i, err)
		}

		totalInserted += inserted

		if cfg.OnProgress != nil {
			cfg.OnProgress(totalInserted, totalRows)
		}
	}

	return totalInserted, nil
}

func (d *DB) insertBatch(ctx context.Context, tableName string, columns []string, batch [][]interface{}, maxRetries int, retryDelay time.Duration) (int, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		rowsCopied, err := d.Pool.CopyFrom(
			ctx,
			[]string{tableName},
			columns,
			&batchSource{rows: batch},
		)
		if err == nil {
			return int(rowsCopied), nil
		}

		lastErr = err
		if attempt < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	return 0, lastErr
}

// batchSource implements pgx.CopyFromSource.
type batchSource struct {
	rows  [][]interface{}
	index int
}

func (b *batchSource) Next() bool {
	b.index++
	return b.index <= len(b.rows)
}

func (b *batchSource) Values() ([]interface{}, error) {
	return b.rows[b.index-1], nil
}

func (b *batchSource) Err() error {
	return nil
}

// SnapshotWriter persists activity snapshot rows in bulk with progress logging.
type SnapshotWriter struct {
	db     *DB
	logger *slog.Logger
}

func NewSnapshotWriter(db *DB, logger *slog.Logger) *SnapshotWriter {
	return &SnapshotWriter{
		db:     db,
		logger: logger,
	}
}

var snapshotColumns = []string{
	"user_id", "service", "window_start", "window_end",
	"message_count", "meeting_count", "computed_at",
}

// WriteSnapshots inserts computed activity_snapshots rows.
func (sw *SnapshotWriter) WriteSnapshots(ctx context.Context, records [][]interface{}) error {
	if len(records) == 0 {
		return nil
	}

	cfg := DefaultBatchConfig()
	cfg.OnProgress = func(processed, total int) {
		sw.logger.Debug("snapshot_write_progress",
			"processed", processed,
			"total", total,
		)
	}

	startTime := time.Now()
	inserted, err := sw.db.BatchInsert(ctx, "activity_snapshots", snapshotColumns, records, cfg)
	elapsed := time.Since(startTime)

	if err != nil {
		sw.logger.Error("snapshot_write_failed",
			"error", err,
			"inserted", inserted,
			"elapsed", elapsed.String(),
		)
		return err
	}

	sw.logger.Info("snapshot_write_complete",
		"rows", inserted,
		"elapsed", elapsed.String(),
	)

	return nil
}
