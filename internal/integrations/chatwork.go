package integrations

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"teampulse/internal/models"
)

const chatWorkAPIBase = "https://api.chatwork.com/v2"

// ChatWorkFetcher reads rooms then messages per room. ChatWork authenticates
// with a dedicated header instead of a bearer token, answers 204 for an empty
// room, and returns at most 100 messages per call with no cursor.
type ChatWorkFetcher struct {
	base
	apiBase string
}

func NewChatWorkFetcher(d Deps) *ChatWorkFetcher {
	return &ChatWorkFetcher{base: newBase(d, models.ServiceChatWork), apiBase: chatWorkAPIBase}
}

func (f *ChatWorkFetcher) Supports(kind models.RecordKind) bool {
	return kind == models.KindMessages || kind == models.KindActivities
}

type chatWorkRoom struct {
	RoomID int64  `json:"room_id"`
	Name   string `json:"name"`
}

func (f *ChatWorkFetcher) Fetch(ctx context.Context, integ *models.Integration, kind models.RecordKind, opts models.FetchOptions) ([]models.RawRecord, Page, error) {
	return f.guard(ctx, integ, func() ([]models.RawRecord, Page, error) {
		return f.fetchOnce(ctx, integ, opts)
	})
}

func (f *ChatWorkFetcher) fetchOnce(ctx context.Context, integ *models.Integration, opts models.FetchOptions) ([]models.RawRecord, Page, error) {
	rooms, err := f.listRooms(ctx, integ)
	if err != nil {
		return nil, Page{}, err
	}

	var out []models.RawRecord
	var page Page
	fetched := 0
	for _, room := range rooms {
		roomID := strconv.FormatInt(room.RoomID, 10)
		if fetched >= f.ceiling {
			page.HasMore = true
			break
		}
		if !opts.WantsChannel(roomID) {
			continue
		}
		fetched++

		if err := f.pacer.Wait(ctx); err != nil {
			return out, page, &NetworkError{Service: f.svc, Err: err}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			f.apiBase+"/rooms/"+roomID+"/messages?force=1", nil)
		if err != nil {
			continue
		}
		req.Header.Set("X-ChatWorkToken", integ.AccessToken)

		var msgs []models.RawChatWorkMessage
		status, err := f.getJSON(ctx, req, &msgs)
		if err != nil {
			f.logger.Warn("room_messages_failed", "service", f.svc, "room_id", roomID, "error", err)
			continue
		}
		if status == http.StatusNoContent {
			continue // empty room
		}
		if status != http.StatusOK {
			f.logger.Warn("room_messages_failed", "service", f.svc, "room_id", roomID, "status", status)
			continue
		}
		for _, m := range msgs {
			m.RoomID = roomID
			m.RoomName = room.Name
			out = append(out, m)
		}
	}
	return out, page, nil
}

func (f *ChatWorkFetcher) listRooms(ctx context.Context, integ *models.Integration) ([]chatWorkRoom, error) {
	key := fmt.Sprintf("channels:chatwork:%d", integ.ID)
	return cachedJSON(ctx, &f.base, key, 5*time.Minute, func() ([]chatWorkRoom, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.apiBase+"/rooms", nil)
		if err != nil {
			return nil, fmt.Errorf("failed_to_create_request: %w", err)
		}
		req.Header.Set("X-ChatWorkToken", integ.AccessToken)

		var rooms []chatWorkRoom
		status, err := f.getJSON(ctx, req, &rooms)
		if err != nil || (status != http.StatusOK && status != http.StatusNoContent) {
			return nil, f.primaryErr(status, err)
		}
		return rooms, nil
	})
}
