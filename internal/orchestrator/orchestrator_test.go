package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"teampulse/internal/integrations"
	"teampulse/internal/models"
)

type stubFetcher struct {
	svc     models.Service
	kinds   []models.RecordKind
	records []models.RawRecord
	page    integrations.Page
	err     error
}

func (f *stubFetcher) Service() models.Service { return f.svc }

func (f *stubFetcher) Supports(kind models.RecordKind) bool {
	for _, k := range f.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (f *stubFetcher) Fetch(ctx context.Context, integ *models.Integration, kind models.RecordKind, opts models.FetchOptions) ([]models.RawRecord, integrations.Page, error) {
	return f.records, f.page, f.err
}

type stubRegistry struct {
	fetchers map[models.Service]integrations.Fetcher
}

func (r *stubRegistry) For(svc models.Service) (integrations.Fetcher, bool) {
	f, ok := r.fetchers[svc]
	return f, ok
}

func (r *stubRegistry) ServicesFor(kind models.RecordKind) []models.Service {
	var out []models.Service
	for _, svc := range models.AllServices() {
		if f, ok := r.fetchers[svc]; ok && f.Supports(kind) {
			out = append(out, svc)
		}
	}
	return out
}

type stubStore struct {
	integrations []models.Integration
	err          error
}

func (s *stubStore) GetActiveIntegrations(ctx context.Context, userID string, services ...models.Service) ([]models.Integration, error) {
	if s.err != nil {
		return nil, s.err
	}
	want := make(map[models.Service]bool, len(services))
	for _, svc := range services {
		want[svc] = true
	}
	var out []models.Integration
	for _, integ := range s.integrations {
		if want[integ.Service] {
			out = append(out, integ)
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func slackRaw(ch string, ts int64) models.RawSlackMessage {
	return models.RawSlackMessage{
		ChannelID: ch,
		Ts:        fmt.Sprintf("%d.000000", ts),
		User:      "U1",
		Text:      "hello",
	}
}

func discordRaw(id string, ts int64) models.RawDiscordMessage {
	raw := models.RawDiscordMessage{
		ID:        id,
		ChannelID: "D1",
		Content:   "hi",
		Timestamp: time.Unix(ts, 0).UTC().Format(time.RFC3339),
	}
	raw.Author.ID = "A1"
	return raw
}

func chatworkRaw(id string, ts int64) models.RawChatWorkMessage {
	raw := models.RawChatWorkMessage{
		MessageID: id,
		RoomID:    "R1",
		Body:      "oi",
		SendTime:  ts,
	}
	raw.Account.AccountID = 7
	return raw
}

func zoomRaw(id int64, start time.Time) models.RawZoomMeeting {
	return models.RawZoomMeeting{
		ID:        id,
		UUID:      fmt.Sprintf("uu-%d", id),
		Topic:     "sync",
		HostID:    "H1",
		StartTime: start.UTC().Format(time.RFC3339),
		Duration:  30,
		JoinURL:   "https://zoom.us/j/1",
	}
}

func messageKinds() []models.RecordKind {
	return []models.RecordKind{models.KindMessages, models.KindActivities}
}

func integFor(svc models.Service) models.Integration {
	return models.Integration{ID: int64(len(svc)), UserID: "u1", Service: svc, AccessToken: "tok", IsActive: true}
}

func TestAggregate_PartialFailureKeepsSuccess(t *testing.T) {
	reg := &stubRegistry{fetchers: map[models.Service]integrations.Fetcher{
		models.ServiceSlack: &stubFetcher{
			svc:     models.ServiceSlack,
			kinds:   messageKinds(),
			records: []models.RawRecord{slackRaw("C1", 1690000000), slackRaw("C1", 1690000100)},
		},
		models.ServiceDiscord: &stubFetcher{
			svc:   models.ServiceDiscord,
			kinds: messageKinds(),
			err:   &integrations.UpstreamError{Service: models.ServiceDiscord, Status: 500},
		},
	}}
	st := &stubStore{integrations: []models.Integration{integFor(models.ServiceSlack), integFor(models.ServiceDiscord)}}

	resp := New(st, reg, testLogger()).Aggregate(context.Background(), "u1", models.KindMessages, models.FetchOptions{})

	if !resp.Success {
		t.Fatalf("one healthy source must keep success=true: %+v", resp)
	}
	if len(resp.Data) != 2 {
		t.Errorf("expected 2 records from the healthy source, got %d", len(resp.Data))
	}
	var discordStatus *models.SourceStatus
	for i := range resp.Sources {
		if resp.Sources[i].Service == models.ServiceDiscord {
			discordStatus = &resp.Sources[i]
		}
	}
	if discordStatus == nil || discordStatus.Error == "" {
		t.Error("failed source must surface in diagnostics")
	}
}

func TestAggregate_AllSourcesFailed(t *testing.T) {
	reg := &stubRegistry{fetchers: map[models.Service]integrations.Fetcher{
		models.ServiceSlack: &stubFetcher{
			svc: models.ServiceSlack, kinds: messageKinds(),
			err: &integrations.NetworkError{Service: models.ServiceSlack, Err: context.DeadlineExceeded},
		},
		models.ServiceDiscord: &stubFetcher{
			svc: models.ServiceDiscord, kinds: messageKinds(),
			err: &integrations.UpstreamError{Service: models.ServiceDiscord, Status: 502},
		},
	}}
	st := &stubStore{integrations: []models.Integration{integFor(models.ServiceSlack), integFor(models.ServiceDiscord)}}

	resp := New(st, reg, testLogger()).Aggregate(context.Background(), "u1", models.KindMessages, models.FetchOptions{})

	if resp.Success {
		t.Fatal("expected success=false when every source failed")
	}
	if resp.Error != "all_integrations_failed" {
		t.Errorf("unexpected error code: %q", resp.Error)
	}
	if len(resp.Data) != 0 {
		t.Errorf("expected empty data, got %d records", len(resp.Data))
	}
}

func TestAggregate_StoreFailure(t *testing.T) {
	reg := &stubRegistry{fetchers: map[models.Service]integrations.Fetcher{}}
	st := &stubStore{err: context.DeadlineExceeded}

	resp := New(st, reg, testLogger()).Aggregate(context.Background(), "u1", models.KindMessages, models.FetchOptions{})

	if resp.Success {
		t.Fatal("expected success=false on credential lookup failure")
	}
	if resp.Error != "failed_to_resolve_integrations" {
		t.Errorf("unexpected error code: %q", resp.Error)
	}
}

func TestAggregate_NoIntegrations(t *testing.T) {
	reg := &stubRegistry{fetchers: map[models.Service]integrations.Fetcher{
		models.ServiceSlack: &stubFetcher{svc: models.ServiceSlack, kinds: messageKinds()},
	}}
	st := &stubStore{}

	resp := New(st, reg, testLogger()).Aggregate(context.Background(), "u1", models.KindMessages, models.FetchOptions{})

	if !resp.Success {
		t.Fatal("no connections is not an error")
	}
	if resp.Data == nil || len(resp.Data) != 0 {
		t.Errorf("expected empty non-nil data, got %v", resp.Data)
	}
}

func TestAggregate_SortsDescendingAndTruncates(t *testing.T) {
	var slackRecs, discordRecs, chatworkRecs []models.RawRecord
	base := int64(1690000000)
	for i := int64(0); i < 20; i++ {
		slackRecs = append(slackRecs, slackRaw("C1", base+i*3))
		discordRecs = append(discordRecs, discordRaw(fmt.Sprintf("d%d", i), base+i*3+1))
		chatworkRecs = append(chatworkRecs, chatworkRaw(fmt.Sprintf("c%d", i), base+i*3+2))
	}
	reg := &stubRegistry{fetchers: map[models.Service]integrations.Fetcher{
		models.ServiceSlack:    &stubFetcher{svc: models.ServiceSlack, kinds: messageKinds(), records: slackRecs},
		models.ServiceDiscord:  &stubFetcher{svc: models.ServiceDiscord, kinds: messageKinds(), records: discordRecs},
		models.ServiceChatWork: &stubFetcher{svc: models.ServiceChatWork, kinds: messageKinds(), records: chatworkRecs},
	}}
	st := &stubStore{integrations: []models.Integration{
		integFor(models.ServiceSlack), integFor(models.ServiceDiscord), integFor(models.ServiceChatWork),
	}}

	resp := New(st, reg, testLogger()).Aggregate(context.Background(), "u1", models.KindMessages, models.FetchOptions{Limit: 10})

	if !resp.Success {
		t.Fatalf("unexpected failure: %+v", resp)
	}
	if len(resp.Data) != 10 {
		t.Fatalf("expected exactly 10 records after truncation, got %d", len(resp.Data))
	}
	if resp.Pagination.TotalCount != 60 {
		t.Errorf("expected totalCount=60 before truncation, got %d", resp.Pagination.TotalCount)
	}
	if !resp.Pagination.HasMore {
		t.Error("truncation must set hasMore")
	}
	for i := 1; i < len(resp.Data); i++ {
		if resp.Data[i].RecordTimestamp().After(resp.Data[i-1].RecordTimestamp()) {
			t.Fatalf("records out of order at %d: %v after %v",
				i, resp.Data[i].RecordTimestamp(), resp.Data[i-1].RecordTimestamp())
		}
	}
	// newest instant across all three sources must survive the cut
	newest := time.Unix(base+19*3+2, 0).UTC()
	if !resp.Data[0].RecordTimestamp().Equal(newest) {
		t.Errorf("expected newest record first, got %v", resp.Data[0].RecordTimestamp())
	}
}

func TestAggregate_KindWithoutCapableSources(t *testing.T) {
	// only a slack connection; slack never produces meetings
	reg := &stubRegistry{fetchers: map[models.Service]integrations.Fetcher{
		models.ServiceSlack: &stubFetcher{
			svc: models.ServiceSlack, kinds: messageKinds(),
			records: []models.RawRecord{slackRaw("C1", 1690000000)},
		},
	}}
	st := &stubStore{integrations: []models.Integration{integFor(models.ServiceSlack)}}

	resp := New(st, reg, testLogger()).Aggregate(context.Background(), "u1", models.KindMeetings, models.FetchOptions{})

	if !resp.Success {
		t.Fatalf("expected success=true, got %+v", resp)
	}
	if len(resp.Data) != 0 {
		t.Errorf("expected no meeting data, got %d records", len(resp.Data))
	}
	if resp.Error != "" {
		t.Errorf("expected no error, got %q", resp.Error)
	}
}

func TestAggregate_DateWindowFiltering(t *testing.T) {
	reg := &stubRegistry{fetchers: map[models.Service]integrations.Fetcher{
		models.ServiceSlack: &stubFetcher{
			svc: models.ServiceSlack, kinds: messageKinds(),
			records: []models.RawRecord{
				slackRaw("C1", 1690000000),
				slackRaw("C1", 1690005000),
				slackRaw("C1", 1690010000),
			},
		},
	}}
	st := &stubStore{integrations: []models.Integration{integFor(models.ServiceSlack)}}

	from := time.Unix(1690004000, 0).UTC()
	to := time.Unix(1690006000, 0).UTC()
	resp := New(st, reg, testLogger()).Aggregate(context.Background(), "u1", models.KindMessages, models.FetchOptions{
		DateFrom: &from,
		DateTo:   &to,
	})

	if len(resp.Data) != 1 {
		t.Fatalf("expected 1 record inside the window, got %d", len(resp.Data))
	}
	ts := resp.Data[0].RecordTimestamp()
	if ts.Before(from) || ts.After(to) {
		t.Errorf("record %v escaped the window [%v, %v]", ts, from, to)
	}
}

func TestAggregate_CursorSurfacesForSingleSource(t *testing.T) {
	slack := &stubFetcher{
		svc: models.ServiceSlack, kinds: messageKinds(),
		records: []models.RawRecord{slackRaw("C1", 1690000000)},
		page:    integrations.Page{HasMore: true, NextCursor: "cur-123"},
	}
	reg := &stubRegistry{fetchers: map[models.Service]integrations.Fetcher{models.ServiceSlack: slack}}
	st := &stubStore{integrations: []models.Integration{integFor(models.ServiceSlack)}}

	resp := New(st, reg, testLogger()).Aggregate(context.Background(), "u1", models.KindMessages, models.FetchOptions{})
	if resp.Pagination.NextCursor != "cur-123" {
		t.Errorf("single-source cursor must pass through, got %q", resp.Pagination.NextCursor)
	}
	if !resp.Pagination.HasMore {
		t.Error("provider hasMore must propagate")
	}

	// a second source makes the provider cursor meaningless
	reg.fetchers[models.ServiceDiscord] = &stubFetcher{
		svc: models.ServiceDiscord, kinds: messageKinds(),
		records: []models.RawRecord{discordRaw("d1", 1690000001)},
	}
	st.integrations = append(st.integrations, integFor(models.ServiceDiscord))

	resp = New(st, reg, testLogger()).Aggregate(context.Background(), "u1", models.KindMessages, models.FetchOptions{})
	if resp.Pagination.NextCursor != "" {
		t.Errorf("multi-source aggregate must not expose a provider cursor, got %q", resp.Pagination.NextCursor)
	}
}

func TestAggregate_CrossKindLeakage(t *testing.T) {
	// an activities-capable fetcher hands back both messages and meetings;
	// a messages aggregate must drop the meeting rows
	reg := &stubRegistry{fetchers: map[models.Service]integrations.Fetcher{
		models.ServiceZoom: &stubFetcher{
			svc:   models.ServiceZoom,
			kinds: []models.RecordKind{models.KindMessages, models.KindMeetings, models.KindActivities},
			records: []models.RawRecord{
				slackRaw("C1", 1690000000),
				zoomRaw(1, time.Unix(1690000100, 0)),
			},
		},
	}}
	st := &stubStore{integrations: []models.Integration{integFor(models.ServiceZoom)}}

	resp := New(st, reg, testLogger()).Aggregate(context.Background(), "u1", models.KindMessages, models.FetchOptions{})
	if len(resp.Data) != 1 {
		t.Fatalf("expected the meeting row to be filtered, got %d records", len(resp.Data))
	}
	if _, ok := resp.Data[0].(models.UnifiedMessage); !ok {
		t.Errorf("expected UnifiedMessage, got %T", resp.Data[0])
	}
}

func TestAggregate_ActivitiesUnifyBothKinds(t *testing.T) {
	reg := &stubRegistry{fetchers: map[models.Service]integrations.Fetcher{
		models.ServiceZoom: &stubFetcher{
			svc:   models.ServiceZoom,
			kinds: []models.RecordKind{models.KindActivities},
			records: []models.RawRecord{
				slackRaw("C1", 1690000000),
				zoomRaw(1, time.Unix(1690000100, 0)),
			},
		},
	}}
	st := &stubStore{integrations: []models.Integration{integFor(models.ServiceZoom)}}

	resp := New(st, reg, testLogger()).Aggregate(context.Background(), "u1", models.KindActivities, models.FetchOptions{})
	if len(resp.Data) != 2 {
		t.Fatalf("expected 2 activity rows, got %d", len(resp.Data))
	}
	kinds := map[string]bool{}
	for _, rec := range resp.Data {
		act, ok := rec.(models.UnifiedActivity)
		if !ok {
			t.Fatalf("expected UnifiedActivity, got %T", rec)
		}
		kinds[act.Kind] = true
	}
	if !kinds["message"] || !kinds["meeting"] {
		t.Errorf("expected both activity kinds, got %v", kinds)
	}
}

func TestAggregate_StableOrderOnEqualTimestamps(t *testing.T) {
	reg := &stubRegistry{fetchers: map[models.Service]integrations.Fetcher{
		models.ServiceSlack: &stubFetcher{
			svc: models.ServiceSlack, kinds: messageKinds(),
			records: []models.RawRecord{slackRaw("C1", 1690000000)},
		},
		models.ServiceDiscord: &stubFetcher{
			svc: models.ServiceDiscord, kinds: messageKinds(),
			records: []models.RawRecord{discordRaw("d1", 1690000000)},
		},
	}}
	st := &stubStore{integrations: []models.Integration{
		integFor(models.ServiceSlack), integFor(models.ServiceDiscord),
	}}

	resp := New(st, reg, testLogger()).Aggregate(context.Background(), "u1", models.KindMessages, models.FetchOptions{})
	if len(resp.Data) != 2 {
		t.Fatalf("expected 2 records, got %d", len(resp.Data))
	}
	if resp.Data[0].RecordService() != models.ServiceSlack {
		t.Errorf("equal timestamps must keep integration order, got %s first", resp.Data[0].RecordService())
	}
}
