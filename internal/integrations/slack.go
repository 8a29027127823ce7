package integrations

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"teampulse/internal/models"
)

const slackAPIBase = "https://slack.com/api"

// SlackFetcher reads conversations.list then conversations.history per
// channel. Slack wraps every response in an ok/error envelope, so HTTP 200
// does not mean success.
type SlackFetcher struct {
	base
	apiBase string
}

func NewSlackFetcher(d Deps) *SlackFetcher {
	return &SlackFetcher{base: newBase(d, models.ServiceSlack), apiBase: slackAPIBase}
}

func (f *SlackFetcher) Supports(kind models.RecordKind) bool {
	return kind == models.KindMessages || kind == models.KindActivities
}

type slackChannel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type slackListResponse struct {
	OK               bool           `json:"ok"`
	Error            string         `json:"error"`
	Channels         []slackChannel `json:"channels"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

type slackHistoryResponse struct {
	OK               bool                     `json:"ok"`
	Error            string                   `json:"error"`
	Messages         []models.RawSlackMessage `json:"messages"`
	HasMore          bool                     `json:"has_more"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

func slackAuthFailed(apiErr string) bool {
	switch apiErr {
	case "invalid_auth", "token_revoked", "token_expired", "account_inactive", "not_authed":
		return true
	}
	return false
}

func (f *SlackFetcher) Fetch(ctx context.Context, integ *models.Integration, kind models.RecordKind, opts models.FetchOptions) ([]models.RawRecord, Page, error) {
	return f.guard(ctx, integ, func() ([]models.RawRecord, Page, error) {
		return f.fetchOnce(ctx, integ, opts)
	})
}

func (f *SlackFetcher) fetchOnce(ctx context.Context, integ *models.Integration, opts models.FetchOptions) ([]models.RawRecord, Page, error) {
	channels, err := f.listChannels(ctx, integ)
	if err != nil {
		return nil, Page{}, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = models.DefaultLimit
	}

	var out []models.RawRecord
	var page Page
	fetched := 0
	for _, ch := range channels {
		if fetched >= f.ceiling {
			page.HasMore = true
			break
		}
		if !opts.WantsChannel(ch.ID) {
			continue
		}
		fetched++

		if err := f.pacer.Wait(ctx); err != nil {
			return out, page, &NetworkError{Service: f.svc, Err: err}
		}

		msgs, chMore, next, err := f.channelHistory(ctx, integ.AccessToken, ch, limit, opts)
		if err != nil {
			// sub-resource failure: log and move on, partial data is fine
			f.logger.Warn("channel_history_failed", "service", f.svc, "channel_id", ch.ID, "error", err)
			continue
		}
		page.HasMore = page.HasMore || chMore
		// a continuation token is only meaningful against one channel
		if len(opts.Channels) == 1 {
			page.NextCursor = next
		}
		out = append(out, msgs...)
	}

	return out, page, nil
}

func (f *SlackFetcher) listChannels(ctx context.Context, integ *models.Integration) ([]slackChannel, error) {
	key := fmt.Sprintf("channels:slack:%d", integ.ID)
	return cachedJSON(ctx, &f.base, key, 5*time.Minute, func() ([]slackChannel, error) {
		q := url.Values{}
		q.Set("types", "public_channel,private_channel")
		q.Set("exclude_archived", "true")
		q.Set("limit", "200")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.apiBase+"/conversations.list?"+q.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed_to_create_request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+integ.AccessToken)

		var body slackListResponse
		status, err := f.getJSON(ctx, req, &body)
		if err != nil || status != http.StatusOK {
			return nil, f.primaryErr(status, err)
		}
		if !body.OK {
			if slackAuthFailed(body.Error) {
				return nil, ErrUnauthorized
			}
			return nil, &UpstreamError{Service: f.svc, Status: status}
		}
		return body.Channels, nil
	})
}

func (f *SlackFetcher) channelHistory(ctx context.Context, token string, ch slackChannel, limit int, opts models.FetchOptions) ([]models.RawRecord, bool, string, error) {
	q := url.Values{}
	q.Set("channel", ch.ID)
	q.Set("limit", strconv.Itoa(limit))
	if opts.DateFrom != nil {
		q.Set("oldest", fmt.Sprintf("%d.000000", opts.DateFrom.Unix()))
	}
	if opts.DateTo != nil {
		q.Set("latest", fmt.Sprintf("%d.999999", opts.DateTo.Unix()))
	}
	// cursor passthrough only makes sense against a single channel
	if opts.Cursor != "" && len(opts.Channels) == 1 {
		q.Set("cursor", opts.Cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.apiBase+"/conversations.history?"+q.Encode(), nil)
	if err != nil {
		return nil, false, "", fmt.Errorf("failed_to_create_request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var body slackHistoryResponse
	status, err := f.getJSON(ctx, req, &body)
	if err != nil {
		return nil, false, "", err
	}
	if status != http.StatusOK || !body.OK {
		return nil, false, "", fmt.Errorf("history_error: status=%d api_error=%s", status, body.Error)
	}

	out := make([]models.RawRecord, 0, len(body.Messages))
	for _, m := range body.Messages {
		m.ChannelID = ch.ID
		m.ChannelName = ch.Name
		out = append(out, m)
	}
	hasMore := body.HasMore || body.ResponseMetadata.NextCursor != ""
	return out, hasMore, body.ResponseMetadata.NextCursor, nil
}
