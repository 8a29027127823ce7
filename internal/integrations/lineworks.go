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

const lineWorksAPIBase = "https://www.worksapis.com/v1.0"

// LineWorksFetcher reads talk rooms then messages per room. The API has no
// server-side time window, so the window is enforced downstream.
type LineWorksFetcher struct {
	base
	apiBase string
}

func NewLineWorksFetcher(d Deps) *LineWorksFetcher {
	return &LineWorksFetcher{base: newBase(d, models.ServiceLineWorks), apiBase: lineWorksAPIBase}
}

func (f *LineWorksFetcher) Supports(kind models.RecordKind) bool {
	return kind == models.KindMessages || kind == models.KindActivities
}

type lineWorksRoom struct {
	RoomID string `json:"roomId"`
	Title  string `json:"title"`
}

type lineWorksRoomsPage struct {
	Rooms []lineWorksRoom `json:"rooms"`
}

type lineWorksMessagesPage struct {
	Messages []models.RawLineWorksMessage `json:"messages"`
	HasNext  bool                         `json:"hasNext"`
}

func (f *LineWorksFetcher) Fetch(ctx context.Context, integ *models.Integration, kind models.RecordKind, opts models.FetchOptions) ([]models.RawRecord, Page, error) {
	return f.guard(ctx, integ, func() ([]models.RawRecord, Page, error) {
		return f.fetchOnce(ctx, integ, opts)
	})
}

func (f *LineWorksFetcher) fetchOnce(ctx context.Context, integ *models.Integration, opts models.FetchOptions) ([]models.RawRecord, Page, error) {
	rooms, err := f.listRooms(ctx, integ)
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
	for _, room := range rooms {
		if fetched >= f.ceiling {
			page.HasMore = true
			break
		}
		if !opts.WantsChannel(room.RoomID) {
			continue
		}
		fetched++

		if err := f.pacer.Wait(ctx); err != nil {
			return out, page, &NetworkError{Service: f.svc, Err: err}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			f.apiBase+"/rooms/"+url.PathEscape(room.RoomID)+"/messages?count="+strconv.Itoa(limit), nil)
		if err != nil {
			continue
		}
		req.Header.Set("Authorization", "Bearer "+integ.AccessToken)

		var body lineWorksMessagesPage
		status, err := f.getJSON(ctx, req, &body)
		if err != nil || status != http.StatusOK {
			f.logger.Warn("room_messages_failed", "service", f.svc, "room_id", room.RoomID, "status", status, "error", err)
			continue
		}
		page.HasMore = page.HasMore || body.HasNext
		for _, m := range body.Messages {
			m.RoomID = room.RoomID
			m.RoomName = room.Title
			out = append(out, m)
		}
	}
	return out, page, nil
}

func (f *LineWorksFetcher) listRooms(ctx context.Context, integ *models.Integration) ([]lineWorksRoom, error) {
	key := fmt.Sprintf("channels:lineworks:%d", integ.ID)
	return cachedJSON(ctx, &f.base, key, 5*time.Minute, func() ([]lineWorksRoom, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.apiBase+"/rooms?count=100", nil)
		if err != nil {
			return nil, fmt.Errorf("failed_to_create_request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+integ.AccessToken)

		var body lineWorksRoomsPage
		status, err := f.getJSON(ctx, req, &body)
		if err != nil || status != http.StatusOK {
			return nil, f.primaryErr(status, err)
		}
		return body.Rooms, nil
	})
}
