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

const googleCalendarBase = "https://www.googleapis.com/calendar/v3"

// GoogleFetcher reads the primary calendar. Which events count as meetings is
// decided downstream; the fetcher returns every event in the window.
type GoogleFetcher struct {
	base
	apiBase string
}

func NewGoogleFetcher(d Deps) *GoogleFetcher {
	return &GoogleFetcher{base: newBase(d, models.ServiceGoogle), apiBase: googleCalendarBase}
}

func (f *GoogleFetcher) Supports(kind models.RecordKind) bool {
	return kind == models.KindMeetings || kind == models.KindActivities
}

type googleEventsPage struct {
	Items         []models.RawGoogleEvent `json:"items"`
	NextPageToken string                  `json:"nextPageToken"`
}

func (f *GoogleFetcher) Fetch(ctx context.Context, integ *models.Integration, kind models.RecordKind, opts models.FetchOptions) ([]models.RawRecord, Page, error) {
	return f.guard(ctx, integ, func() ([]models.RawRecord, Page, error) {
		return f.fetchOnce(ctx, integ, opts)
	})
}

func (f *GoogleFetcher) fetchOnce(ctx context.Context, integ *models.Integration, opts models.FetchOptions) ([]models.RawRecord, Page, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = models.DefaultLimit
	}
	if limit > 250 {
		limit = 250
	}

	q := url.Values{}
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	q.Set("maxResults", strconv.Itoa(limit))
	if opts.DateFrom != nil {
		q.Set("timeMin", opts.DateFrom.UTC().Format(time.RFC3339))
	}
	if opts.DateTo != nil {
		q.Set("timeMax", opts.DateTo.UTC().Format(time.RFC3339))
	}
	if opts.Cursor != "" {
		q.Set("pageToken", opts.Cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.apiBase+"/calendars/primary/events?"+q.Encode(), nil)
	if err != nil {
		return nil, Page{}, fmt.Errorf("failed_to_create_request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+integ.AccessToken)

	var body googleEventsPage
	status, err := f.getJSON(ctx, req, &body)
	if err != nil || status != http.StatusOK {
		return nil, Page{}, f.primaryErr(status, err)
	}

	out := make([]models.RawRecord, 0, len(body.Items))
	for _, ev := range body.Items {
		out = append(out, ev)
	}
	return out, Page{HasMore: body.NextPageToken != "", NextCursor: body.NextPageToken}, nil
}
