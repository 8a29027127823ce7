package integrations

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"teampulse/internal/models"
)

func testDeps() Deps {
	return Deps{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		HTTPClient:     &http.Client{Timeout: 5 * time.Second},
		ChannelCeiling: 10,
		PaceInterval:   time.Millisecond,
	}
}

func testIntegration(svc models.Service) *models.Integration {
	return &models.Integration{
		ID:          1,
		UserID:      "u1",
		Service:     svc,
		AccessToken: "xoxp-test",
		IsActive:    true,
	}
}

func TestSlackFetch_MergesChannelHistories(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer xoxp-test" {
			t.Errorf("unexpected auth header: %q", got)
		}
		switch r.URL.Path {
		case "/conversations.list":
			w.Write([]byte(`{"ok":true,"channels":[{"id":"C1","name":"general"},{"id":"C2","name":"random"}]}`))
		case "/conversations.history":
			ch := r.URL.Query().Get("channel")
			w.Write([]byte(`{"ok":true,"messages":[{"ts":"1690000000.000100","user":"U1","text":"from ` + ch + `"}],"has_more":false}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewSlackFetcher(testDeps())
	f.apiBase = srv.URL

	records, page, err := f.Fetch(context.Background(), testIntegration(models.ServiceSlack), models.KindMessages, models.FetchOptions{Limit: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if page.HasMore {
		t.Error("expected hasMore=false")
	}

	msg, ok := records[0].(models.RawSlackMessage)
	if !ok {
		t.Fatalf("expected RawSlackMessage, got %T", records[0])
	}
	if msg.ChannelID != "C1" || msg.ChannelName != "general" {
		t.Errorf("channel annotation missing: %+v", msg)
	}
}

func TestSlackFetch_InvalidAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"error":"invalid_auth"}`))
	}))
	defer srv.Close()

	f := NewSlackFetcher(testDeps())
	f.apiBase = srv.URL

	_, _, err := f.Fetch(context.Background(), testIntegration(models.ServiceSlack), models.KindMessages, models.FetchOptions{})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSlackFetch_PartialChannelFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversations.list":
			w.Write([]byte(`{"ok":true,"channels":[{"id":"C1","name":"ok"},{"id":"C2","name":"broken"}]}`))
		case "/conversations.history":
			if r.URL.Query().Get("channel") == "C2" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{"ok":true,"messages":[{"ts":"1690000000.000100","user":"U1","text":"hi"}]}`))
		}
	}))
	defer srv.Close()

	f := NewSlackFetcher(testDeps())
	f.apiBase = srv.URL
	f.retry.MaxRetries = 0

	records, _, err := f.Fetch(context.Background(), testIntegration(models.ServiceSlack), models.KindMessages, models.FetchOptions{})
	if err != nil {
		t.Fatalf("per-channel failure must not abort the fetch: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record from the healthy channel, got %d", len(records))
	}
}

func TestSlackFetch_ChannelAllowList(t *testing.T) {
	var historyCalls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversations.list":
			w.Write([]byte(`{"ok":true,"channels":[{"id":"C1","name":"a"},{"id":"C2","name":"b"},{"id":"C3","name":"c"}]}`))
		case "/conversations.history":
			historyCalls = append(historyCalls, r.URL.Query().Get("channel"))
			w.Write([]byte(`{"ok":true,"messages":[]}`))
		}
	}))
	defer srv.Close()

	f := NewSlackFetcher(testDeps())
	f.apiBase = srv.URL

	_, _, err := f.Fetch(context.Background(), testIntegration(models.ServiceSlack), models.KindMessages, models.FetchOptions{Channels: []string{"C2"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(historyCalls) != 1 || historyCalls[0] != "C2" {
		t.Errorf("expected only C2 to be fetched, got %v", historyCalls)
	}
}

func TestSlackFetch_MissingCredential(t *testing.T) {
	f := NewSlackFetcher(testDeps())

	integ := testIntegration(models.ServiceSlack)
	integ.AccessToken = ""

	_, _, err := f.Fetch(context.Background(), integ, models.KindMessages, models.FetchOptions{})
	if !errors.Is(err, ErrIntegrationNotFound) {
		t.Errorf("expected ErrIntegrationNotFound, got %v", err)
	}

	integ = testIntegration(models.ServiceSlack)
	integ.IsActive = false
	_, _, err = f.Fetch(context.Background(), integ, models.KindMessages, models.FetchOptions{})
	if !errors.Is(err, ErrIntegrationNotFound) {
		t.Errorf("expected ErrIntegrationNotFound for inactive, got %v", err)
	}
}

func TestSlackFetch_ChannelCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversations.list":
			w.Write([]byte(`{"ok":true,"channels":[{"id":"C1","name":"a"},{"id":"C2","name":"b"},{"id":"C3","name":"c"}]}`))
		case "/conversations.history":
			w.Write([]byte(`{"ok":true,"messages":[{"ts":"1690000000.000100","user":"U1","text":"x"}]}`))
		}
	}))
	defer srv.Close()

	deps := testDeps()
	deps.ChannelCeiling = 2
	f := NewSlackFetcher(deps)
	f.apiBase = srv.URL

	records, page, err := f.Fetch(context.Background(), testIntegration(models.ServiceSlack), models.KindMessages, models.FetchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected ceiling of 2 channels, got %d records", len(records))
	}
	if !page.HasMore {
		t.Error("hitting the ceiling must report more data upstream")
	}
}

func TestSlackFetch_RetriesTransientUpstreamError(t *testing.T) {
	listCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversations.list":
			listCalls++
			if listCalls == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"ok":true,"channels":[{"id":"C1","name":"a"}]}`))
		case "/conversations.history":
			w.Write([]byte(`{"ok":true,"messages":[{"ts":"1690000000.000100","user":"U1","text":"x"}]}`))
		}
	}))
	defer srv.Close()

	f := NewSlackFetcher(testDeps())
	f.apiBase = srv.URL
	f.retry = RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2}

	records, _, err := f.Fetch(context.Background(), testIntegration(models.ServiceSlack), models.KindMessages, models.FetchOptions{})
	if err != nil {
		t.Fatalf("transient 503 must be retried away: %v", err)
	}
	if listCalls != 2 {
		t.Errorf("expected 2 listing attempts, got %d", listCalls)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 record, got %d", len(records))
	}
}

func TestChatWorkFetch_EmptyRoom204(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-ChatWorkToken"); got != "xoxp-test" {
			t.Errorf("unexpected token header: %q", got)
		}
		switch r.URL.Path {
		case "/rooms":
			w.Write([]byte(`[{"room_id":1,"name":"empty"},{"room_id":2,"name":"busy"}]`))
		case "/rooms/1/messages":
			w.WriteHeader(http.StatusNoContent)
		case "/rooms/2/messages":
			w.Write([]byte(`[{"message_id":"m1","body":"oi","send_time":1690000000,"account":{"account_id":7,"name":"d"}}]`))
		}
	}))
	defer srv.Close()

	f := NewChatWorkFetcher(testDeps())
	f.apiBase = srv.URL

	records, _, err := f.Fetch(context.Background(), testIntegration(models.ServiceChatWork), models.KindMessages, models.FetchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	msg := records[0].(models.RawChatWorkMessage)
	if msg.RoomID != "2" || msg.RoomName != "busy" {
		t.Errorf("room annotation missing: %+v", msg)
	}
}
