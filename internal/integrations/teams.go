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

const graphAPIBase = "https://graph.microsoft.com/v1.0"

// TeamsFetcher covers both sides of Microsoft Graph: channel messages
// (joinedTeams -> channels -> messages) and calendar events, which qualify as
// meetings only when they carry an online-meeting component.
type TeamsFetcher struct {
	base
	apiBase string
}

func NewTeamsFetcher(d Deps) *TeamsFetcher {
	return &TeamsFetcher{base: newBase(d, models.ServiceTeams), apiBase: graphAPIBase}
}

func (f *TeamsFetcher) Supports(kind models.RecordKind) bool {
	switch kind {
	case models.KindMessages, models.KindMeetings, models.KindActivities:
		return true
	}
	return false
}

type graphTeam struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type graphChannel struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	// filled in after listing; tagged so the redis cache round-trips them
	TeamID   string `json:"teamId,omitempty"`
	TeamName string `json:"teamName,omitempty"`
}

type graphPage[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

func (f *TeamsFetcher) Fetch(ctx context.Context, integ *models.Integration, kind models.RecordKind, opts models.FetchOptions) ([]models.RawRecord, Page, error) {
	return f.guard(ctx, integ, func() ([]models.RawRecord, Page, error) {
		switch kind {
		case models.KindMeetings:
			return f.fetchEvents(ctx, integ, opts)
		case models.KindMessages:
			return f.fetchMessages(ctx, integ, opts)
		default: // activities wants both
			msgs, msgsPage, err := f.fetchMessages(ctx, integ, opts)
			if err != nil {
				return nil, Page{}, err
			}
			events, evPage, err := f.fetchEvents(ctx, integ, opts)
			if err != nil {
				// messages already in hand; events degrade to partial
				f.logger.Warn("calendar_fetch_failed", "service", f.svc, "error", err)
				return msgs, msgsPage, nil
			}
			return append(msgs, events...), Page{HasMore: msgsPage.HasMore || evPage.HasMore}, nil
		}
	})
}

func (f *TeamsFetcher) fetchMessages(ctx context.Context, integ *models.Integration, opts models.FetchOptions) ([]models.RawRecord, Page, error) {
	channels, err := f.listChannels(ctx, integ)
	if err != nil {
		return nil, Page{}, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = models.DefaultLimit
	}
	if limit > 50 {
		limit = 50 // Graph caps $top on chatMessage listings
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

		u := fmt.Sprintf("%s/teams/%s/channels/%s/messages?$top=%d",
			f.apiBase, url.PathEscape(ch.TeamID), url.PathEscape(ch.ID), limit)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			continue
		}
		req.Header.Set("Authorization", "Bearer "+integ.AccessToken)

		var msgPage graphPage[models.RawTeamsMessage]
		status, err := f.getJSON(ctx, req, &msgPage)
		if err != nil || status != http.StatusOK {
			f.logger.Warn("channel_messages_failed", "service", f.svc, "channel_id", ch.ID, "status", status, "error", err)
			continue
		}
		if msgPage.NextLink != "" {
			page.HasMore = true
		}
		for _, m := range msgPage.Value {
			m.ChannelName = ch.DisplayName
			out = append(out, m)
		}
	}
	return out, page, nil
}

func (f *TeamsFetcher) fetchEvents(ctx context.Context, integ *models.Integration, opts models.FetchOptions) ([]models.RawRecord, Page, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = models.DefaultLimit
	}

	var u string
	if opts.DateFrom != nil && opts.DateTo != nil {
		q := url.Values{}
		q.Set("startDateTime", opts.DateFrom.UTC().Format(time.RFC3339))
		q.Set("endDateTime", opts.DateTo.UTC().Format(time.RFC3339))
		q.Set("$top", strconv.Itoa(limit))
		u = f.apiBase + "/me/calendarView?" + q.Encode()
	} else {
		u = f.apiBase + "/me/events?$top=" + strconv.Itoa(limit) + "&$orderby=start/dateTime%20desc"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, Page{}, fmt.Errorf("failed_to_create_request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+integ.AccessToken)
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)

	var evPage graphPage[models.RawTeamsEvent]
	status, err := f.getJSON(ctx, req, &evPage)
	if err != nil || status != http.StatusOK {
		return nil, Page{}, f.primaryErr(status, err)
	}

	out := make([]models.RawRecord, 0, len(evPage.Value))
	for _, ev := range evPage.Value {
		out = append(out, ev)
	}
	return out, Page{HasMore: evPage.NextLink != ""}, nil
}

func (f *TeamsFetcher) listChannels(ctx context.Context, integ *models.Integration) ([]graphChannel, error) {
	key := fmt.Sprintf("channels:teams:%d", integ.ID)
	return cachedJSON(ctx, &f.base, key, 5*time.Minute, func() ([]graphChannel, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.apiBase+"/me/joinedTeams", nil)
		if err != nil {
			return nil, fmt.Errorf("failed_to_create_request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+integ.AccessToken)

		var teams graphPage[graphTeam]
		status, err := f.getJSON(ctx, req, &teams)
		if err != nil || status != http.StatusOK {
			return nil, f.primaryErr(status, err)
		}

		var channels []graphChannel
		for i, team := range teams.Value {
			if i >= f.ceiling {
				break
			}
			if err := f.pacer.Wait(ctx); err != nil {
				return nil, &NetworkError{Service: f.svc, Err: err}
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet,
				f.apiBase+"/teams/"+url.PathEscape(team.ID)+"/channels", nil)
			if err != nil {
				continue
			}
			req.Header.Set("Authorization", "Bearer "+integ.AccessToken)

			var page graphPage[graphChannel]
			status, err := f.getJSON(ctx, req, &page)
			if err != nil || status != http.StatusOK {
				f.logger.Warn("team_channels_failed", "service", f.svc, "team_id", team.ID, "status", status, "error", err)
				continue
			}
			for _, ch := range page.Value {
				ch.TeamID = team.ID
				ch.TeamName = team.DisplayName
				channels = append(channels, ch)
			}
		}
		return channels, nil
	})
}
