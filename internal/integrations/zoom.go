package integrations

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"teampulse/internal/models"
)

const zoomAPIBase = "https://api.zoom.us/v2"

// ZoomFetcher lists the user's meetings. One call, token-paginated; no
// per-channel fan-out to pace.
type ZoomFetcher struct {
	base
	apiBase string
}

func NewZoomFetcher(d Deps) *ZoomFetcher {
	return &ZoomFetcher{base: newBase(d, models.ServiceZoom), apiBase: zoomAPIBase}
}

func (f *ZoomFetcher) Supports(kind models.RecordKind) bool {
	return kind == models.KindMeetings || kind == models.KindActivities
}

type zoomMeetingsPage struct {
	Meetings      []models.RawZoomMeeting `json:"meetings"`
	NextPageToken string                  `json:"next_page_token"`
	TotalRecords  int                     `json:"total_records"`
}

func (f *ZoomFetcher) Fetch(ctx context.Context, integ *models.Integration, kind models.RecordKind, opts models.FetchOptions) ([]models.RawRecord, Page, error) {
	return f.guard(ctx, integ, func() ([]models.RawRecord, Page, error) {
		return f.fetchOnce(ctx, integ, opts)
	})
}

func (f *ZoomFetcher) fetchOnce(ctx context.Context, integ *models.Integration, opts models.FetchOptions) ([]models.RawRecord, Page, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = models.DefaultLimit
	}
	if limit > 300 {
		limit = 300
	}

	q := url.Values{}
	q.Set("type", "previous_meetings")
	q.Set("page_size", strconv.Itoa(limit))
	if opts.DateFrom != nil {
		q.Set("from", opts.DateFrom.UTC().Format("2006-01-02"))
	}
	if opts.DateTo != nil {
		q.Set("to", opts.DateTo.UTC().Format("2006-01-02"))
	}
	if opts.Cursor != "" {
		q.Set("next_page_token", opts.Cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.apiBase+"/users/me/meetings?"+q.Encode(), nil)
	if err != nil {
		return nil, Page{}, fmt.Errorf("failed_to_create_request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+integ.AccessToken)

	var body zoomMeetingsPage
	status, err := f.getJSON(ctx, req, &body)
	if err != nil || status != http.StatusOK {
		return nil, Page{}, f.primaryErr(status, err)
	}

	out := make([]models.RawRecord, 0, len(body.Meetings))
	for _, m := range body.Meetings {
		out = append(out, m)
	}
	return out, Page{HasMore: body.NextPageToken != "", NextCursor: body.NextPageToken}, nil
}
