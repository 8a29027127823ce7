package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"teampulse/internal/models"
	"teampulse/internal/oauth"
	"teampulse/internal/redis"
	"teampulse/internal/store"
)

// Fetcher knows one provider's auth header, pagination, and endpoint shape.
// Fetch pulls raw records bounded by the options window; it never mutates the
// credential store except through the lazy refresh flow.
type Fetcher interface {
	Service() models.Service
	Supports(kind models.RecordKind) bool
	Fetch(ctx context.Context, integ *models.Integration, kind models.RecordKind, opts models.FetchOptions) (records []models.RawRecord, page Page, err error)
}

// Page reports whether the provider had more data beyond what was returned.
// NextCursor is the provider's own continuation token where one exists; it is
// opaque to everything between the provider and the caller.
type Page struct {
	HasMore    bool
	NextCursor string
}

// Deps is everything a fetcher needs; one shared HTTP client, one pacer and
// one breaker per provider.
type Deps struct {
	Logger         *slog.Logger
	Redis          *redis.Client
	HTTPClient     *http.Client
	Store          *store.Store
	OAuth          *oauth.Manager
	ChannelCeiling int
	PaceInterval   time.Duration
}

type base struct {
	svc     models.Service
	logger  *slog.Logger
	client  *http.Client
	redis   *redis.Client
	store   *store.Store
	oauth   *oauth.Manager
	pacer   *Pacer
	breaker *CircuitBreaker
	ceiling int
	retry   RetryConfig
}

func newBase(d Deps, svc models.Service) base {
	ceiling := d.ChannelCeiling
	if ceiling <= 0 {
		ceiling = 10
	}
	client := d.HTTPClient
	if client == nil {
		client = NewHTTPClient()
	}
	return base{
		svc:     svc,
		logger:  d.Logger,
		client:  client,
		redis:   d.Redis,
		store:   d.Store,
		oauth:   d.OAuth,
		pacer:   NewPacer(d.PaceInterval),
		breaker: NewCircuitBreaker(),
		ceiling: ceiling,
		retry:   DefaultRetryConfig(),
	}
}

func (b *base) Service() models.Service { return b.svc }

// checkCredential enforces the fetch input contract.
func (b *base) checkCredential(integ *models.Integration) error {
	if integ == nil || !integ.IsActive || integ.AccessToken == "" {
		return ErrIntegrationNotFound
	}
	return nil
}

// getJSON performs one logical call and decodes a 2xx body into out.
// Transport failures, 429 and 5xx are retried with backoff (provider
// Retry-After wins); the final non-2xx status comes back with a nil error so
// callers decide whether to degrade or abort. Requests here are bodyless GETs
// so the same *http.Request is safe to replay.
func (b *base) getJSON(ctx context.Context, req *http.Request, out any) (int, error) {
	cfg := b.retry

	var resp *http.Response
	var err error
	for attempt := 0; ; attempt++ {
		resp, err = b.client.Do(req)

		retryable := err != nil
		if err == nil {
			retryable = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		}
		if !retryable || attempt >= cfg.MaxRetries {
			break
		}

		var retryAfter time.Duration
		if err == nil {
			if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
			resp.Body.Close()
		}

		timer := time.NewTimer(CalculateBackoff(cfg, attempt, retryAfter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, nil
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, err
	}
	return resp.StatusCode, nil
}

// primaryErr maps a failed primary listing call onto the error taxonomy.
func (b *base) primaryErr(status int, err error) error {
	if err != nil {
		return &NetworkError{Service: b.svc, Err: err}
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return ErrUnauthorized
	}
	return &UpstreamError{Service: b.svc, Status: status}
}

// refreshToken runs the lazy refresh flow after an upstream 401: one refresh
// grant, tokens persisted, integ updated in place. Returns false when the
// credential cannot be rescued; the caller then marks it invalid.
func (b *base) refreshToken(ctx context.Context, integ *models.Integration) bool {
	if b.oauth == nil || b.store == nil || integ.RefreshToken == "" || !b.oauth.Configured(b.svc) {
		return false
	}

	tok, err := b.oauth.Refresh(ctx, b.svc, integ.RefreshToken)
	if err != nil {
		b.logger.Warn("token_refresh_failed", "service", b.svc, "user_id", integ.UserID, "error", err)
		return false
	}

	if err := b.store.UpdateTokens(ctx, integ.ID, tok.AccessToken, tok.RefreshToken); err != nil {
		b.logger.Warn("token_refresh_persist_failed", "service", b.svc, "user_id", integ.UserID, "error", err)
		// keep going with the fresh token anyway; next fetch re-refreshes
	}

	integ.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		integ.RefreshToken = tok.RefreshToken
	}
	b.logger.Info("token_refreshed", "service", b.svc, "user_id", integ.UserID)
	return true
}

// guard wraps one fetch attempt with the credential check, the circuit
// breaker, and the lazy refresh flow. fn reads the token off integ on each
// call so a refresh between attempts takes effect.
func (b *base) guard(ctx context.Context, integ *models.Integration, fn func() ([]models.RawRecord, Page, error)) ([]models.RawRecord, Page, error) {
	if err := b.checkCredential(integ); err != nil {
		return nil, Page{}, err
	}
	if !b.breaker.Allow() {
		b.logger.Warn("circuit_open", "service", b.svc, "user_id", integ.UserID)
		return nil, Page{}, ErrCircuitOpen
	}

	recs, page, err := fn()
	if errors.Is(err, ErrUnauthorized) && b.refreshToken(ctx, integ) {
		recs, page, err = fn()
	}
	if errors.Is(err, ErrUnauthorized) && b.store != nil {
		b.store.MarkInvalid(ctx, integ, "upstream_unauthorized")
	}

	var ue *UpstreamError
	var ne *NetworkError
	switch {
	case err == nil:
		b.breaker.RecordSuccess()
	case errors.As(err, &ue), errors.As(err, &ne):
		b.breaker.RecordFailure()
	}
	return recs, page, err
}

// cachedJSON serves a sub-resource listing (channel/room lists) from redis,
// filling on miss. Fill errors are returned untouched; cache errors are not
// fatal, the fill result is still used.
func cachedJSON[T any](ctx context.Context, b *base, key string, ttl time.Duration, fill func() (T, error)) (T, error) {
	var zero T
	if b.redis != nil {
		if cached, err := b.redis.Get(ctx, key); err == nil && cached != "" {
			var v T
			if err := json.Unmarshal([]byte(cached), &v); err == nil {
				return v, nil
			}
		}
	}

	v, err := fill()
	if err != nil {
		return zero, err
	}

	if b.redis != nil {
		if raw, err := json.Marshal(v); err == nil {
			_ = b.redis.Set(ctx, key, string(raw), ttl)
		}
	}
	return v, nil
}

// Registry maps services to their fetchers.
type Registry struct {
	fetchers map[models.Service]Fetcher
}

func NewRegistry(d Deps) *Registry {
	r := &Registry{fetchers: make(map[models.Service]Fetcher, 7)}
	for _, f := range []Fetcher{
		NewSlackFetcher(d),
		NewDiscordFetcher(d),
		NewTeamsFetcher(d),
		NewGoogleFetcher(d),
		NewLineWorksFetcher(d),
		NewChatWorkFetcher(d),
		NewZoomFetcher(d),
	} {
		r.fetchers[f.Service()] = f
	}
	return r
}

func (r *Registry) For(svc models.Service) (Fetcher, bool) {
	f, ok := r.fetchers[svc]
	return f, ok
}

// ServicesFor lists the services whose fetchers can produce the record kind.
func (r *Registry) ServicesFor(kind models.RecordKind) []models.Service {
	out := make([]models.Service, 0, len(r.fetchers))
	for _, svc := range models.AllServices() {
		if f, ok := r.fetchers[svc]; ok && f.Supports(kind) {
			out = append(out, svc)
		}
	}
	return out
}
