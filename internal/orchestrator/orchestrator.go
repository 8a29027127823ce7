// Package orchestrator coordinates multi-service fetch, normalization, merge,
// sort, and truncation into one response envelope.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"teampulse/internal/integrations"
	"teampulse/internal/models"
	"teampulse/internal/normalize"
)

// CredentialSource is the read side of the credential store.
type CredentialSource interface {
	GetActiveIntegrations(ctx context.Context, userID string, services ...models.Service) ([]models.Integration, error)
}

// FetcherRegistry resolves fetchers per service and record kind.
type FetcherRegistry interface {
	For(svc models.Service) (integrations.Fetcher, bool)
	ServicesFor(kind models.RecordKind) []models.Service
}

type Orchestrator struct {
	store    CredentialSource
	registry FetcherRegistry
	logger   *slog.Logger
}

func New(st CredentialSource, reg FetcherRegistry, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{store: st, registry: reg, logger: logger}
}

// serviceResult is one service's fetch-and-normalize outcome. Slots are
// pre-allocated per integration so no locking is needed during the fan-out.
type serviceResult struct {
	service models.Service
	records []models.UnifiedRecord
	page    integrations.Page
	err     error
}

// Aggregate resolves the user's active integrations for the record kind, fans
// out one fetch-and-normalize pipeline per service, then merges, sorts
// descending by timestamp, and truncates. One service failing contributes
// nothing; only all services failing flips success to false.
func (o *Orchestrator) Aggregate(ctx context.Context, userID string, kind models.RecordKind, opts models.FetchOptions) models.ServiceDataResponse {
	limit := opts.Limit
	if limit <= 0 {
		limit = models.DefaultLimit
	}
	opts.Limit = limit

	relevant := o.registry.ServicesFor(kind)
	integs, err := o.store.GetActiveIntegrations(ctx, userID, relevant...)
	if err != nil {
		o.logger.Error("integration_lookup_failed", "user_id", userID, "error", err)
		return models.ServiceDataResponse{
			Success:    false,
			Data:       []models.UnifiedRecord{},
			Pagination: models.Pagination{},
			Error:      "failed_to_resolve_integrations",
		}
	}

	if len(integs) == 0 {
		return models.ServiceDataResponse{
			Success:    true,
			Data:       []models.UnifiedRecord{},
			Pagination: models.Pagination{},
		}
	}

	results := make([]serviceResult, len(integs))
	var wg sync.WaitGroup
	for i := range integs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.fetchService(ctx, &integs[i], kind, opts)
		}(i)
	}
	wg.Wait()

	merged := make([]models.UnifiedRecord, 0, limit)
	sources := make([]models.SourceStatus, 0, len(integs))
	hasMore := false
	failures := 0
	for _, res := range results {
		status := models.SourceStatus{Service: res.service, Records: len(res.records)}
		if res.err != nil {
			status.Error = res.err.Error()
			// a missing/inactive credential is "no data", not a hard failure
			if !errors.Is(res.err, integrations.ErrIntegrationNotFound) {
				failures++
			}
			o.logger.Warn("service_fetch_failed", "service", res.service, "user_id", userID, "error", res.err)
		}
		sources = append(sources, status)
		hasMore = hasMore || res.page.HasMore
		merged = append(merged, res.records...)
	}

	if failures == len(integs) {
		return models.ServiceDataResponse{
			Success:    false,
			Data:       []models.UnifiedRecord{},
			Pagination: models.Pagination{},
			Sources:    sources,
			Error:      "all_integrations_failed",
		}
	}

	// stable: equal timestamps keep discovery order
	sort.SliceStable(merged, func(a, b int) bool {
		return merged[a].RecordTimestamp().After(merged[b].RecordTimestamp())
	})

	total := len(merged)
	if total > limit {
		hasMore = true
		merged = merged[:limit]
	}

	resp := models.ServiceDataResponse{
		Success: true,
		Data:    merged,
		Pagination: models.Pagination{
			HasMore:    hasMore,
			TotalCount: total,
		},
		Sources: sources,
	}
	// a provider continuation token only survives a single-source aggregate
	if len(integs) == 1 {
		resp.Pagination.NextCursor = results[0].page.NextCursor
	}
	return resp
}

func (o *Orchestrator) fetchService(ctx context.Context, integ *models.Integration, kind models.RecordKind, opts models.FetchOptions) serviceResult {
	res := serviceResult{service: integ.Service}

	fetcher, ok := o.registry.For(integ.Service)
	if !ok || !fetcher.Supports(kind) {
		return res
	}

	raw, page, err := fetcher.Fetch(ctx, integ, kind, opts)
	if err != nil {
		res.err = err
		return res
	}
	res.page = page

	for _, r := range raw {
		rec, err := normalize.Record(r, opts.IncludeMetadata)
		if err != nil {
			if errors.Is(err, normalize.ErrNotConferencing) {
				continue
			}
			o.logger.Debug("record_dropped", "service", integ.Service, "error", err)
			continue
		}
		if !o.wantsRecord(rec, kind) {
			continue
		}
		if !opts.InWindow(rec.RecordTimestamp()) {
			continue
		}
		if kind == models.KindActivities {
			rec = normalize.ToActivity(rec)
		}
		res.records = append(res.records, rec)
	}
	return res
}

// wantsRecord filters cross-kind fetch results: a Teams activities fetch
// yields both messages and events, but a messages aggregate must never leak a
// meeting row.
func (o *Orchestrator) wantsRecord(rec models.UnifiedRecord, kind models.RecordKind) bool {
	switch kind {
	case models.KindMessages:
		_, ok := rec.(models.UnifiedMessage)
		return ok
	case models.KindMeetings:
		_, ok := rec.(models.UnifiedMeeting)
		return ok
	}
	return true
}
