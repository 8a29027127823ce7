package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func queryContext(t *testing.T, rawQuery string) *gin.Context {
	t.Helper()
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/data/messages?"+rawQuery, nil)
	return c
}

func TestParseFetchOptions_Defaults(t *testing.T) {
	opts, err := parseFetchOptions(queryContext(t, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Limit != 100 {
		t.Errorf("expected default limit 100, got %d", opts.Limit)
	}
	if opts.DateFrom != nil || opts.DateTo != nil {
		t.Error("expected open date window by default")
	}
	if opts.IncludeMetadata {
		t.Error("metadata must be off by default")
	}
}

func TestParseFetchOptions_BareDates(t *testing.T) {
	opts, err := parseFetchOptions(queryContext(t, "dateFrom=2023-07-01&dateTo=2023-07-02"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantFrom := time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)
	if !opts.DateFrom.Equal(wantFrom) {
		t.Errorf("expected dateFrom %v, got %v", wantFrom, *opts.DateFrom)
	}

	// a bare dateTo date is inclusive through the end of that day
	wantTo := time.Date(2023, 7, 2, 23, 59, 59, 999999999, time.UTC)
	if !opts.DateTo.Equal(wantTo) {
		t.Errorf("expected dateTo %v, got %v", wantTo, *opts.DateTo)
	}
}

func TestParseFetchOptions_RFC3339Passthrough(t *testing.T) {
	opts, err := parseFetchOptions(queryContext(t, "dateTo=2023-07-02T10%3A30%3A00Z"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2023, 7, 2, 10, 30, 0, 0, time.UTC)
	if !opts.DateTo.Equal(want) {
		t.Errorf("explicit instant must not be pushed to end of day, got %v", *opts.DateTo)
	}
}

func TestParseFetchOptions_InvertedWindow(t *testing.T) {
	_, err := parseFetchOptions(queryContext(t, "dateFrom=2023-07-10&dateTo=2023-07-01"))
	if err == nil {
		t.Error("expected error for dateTo before dateFrom")
	}
}

func TestParseFetchOptions_MalformedDate(t *testing.T) {
	_, err := parseFetchOptions(queryContext(t, "dateFrom=yesterday"))
	if err == nil {
		t.Error("expected error for malformed dateFrom")
	}
}

func TestParseFetchOptions_LimitBounds(t *testing.T) {
	opts, err := parseFetchOptions(queryContext(t, "limit=9999"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Limit != 500 {
		t.Errorf("expected limit capped at 500, got %d", opts.Limit)
	}

	for _, bad := range []string{"limit=0", "limit=-5", "limit=abc"} {
		if _, err := parseFetchOptions(queryContext(t, bad)); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestParseFetchOptions_ChannelsCSV(t *testing.T) {
	opts, err := parseFetchOptions(queryContext(t, "channels=C1%2C+C2%2C%2CC3"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"C1", "C2", "C3"}
	if len(opts.Channels) != len(want) {
		t.Fatalf("expected %v, got %v", want, opts.Channels)
	}
	for i := range want {
		if opts.Channels[i] != want[i] {
			t.Errorf("channel %d: expected %q, got %q", i, want[i], opts.Channels[i])
		}
	}
}

func TestParseFetchOptions_MetadataAndCursor(t *testing.T) {
	opts, err := parseFetchOptions(queryContext(t, "includeMetadata=true&cursor=abc123"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !opts.IncludeMetadata {
		t.Error("expected metadata enabled")
	}
	if opts.Cursor != "abc123" {
		t.Errorf("expected cursor passthrough, got %q", opts.Cursor)
	}

	opts, _ = parseFetchOptions(queryContext(t, "includeMetadata=yes"))
	if opts.IncludeMetadata {
		t.Error("only the literal \"true\" enables metadata")
	}
}

func TestAggregateCacheKey(t *testing.T) {
	a := aggregateCacheKey("u1", "messages", "limit=10")
	b := aggregateCacheKey("u1", "messages", "limit=10")
	if a != b {
		t.Error("cache key must be deterministic")
	}
	if !strings.HasPrefix(a, "aggregate:") {
		t.Errorf("unexpected key shape: %q", a)
	}

	if a == aggregateCacheKey("u2", "messages", "limit=10") {
		t.Error("different users must not share a cache entry")
	}
	if a == aggregateCacheKey("u1", "meetings", "limit=10") {
		t.Error("different kinds must not share a cache entry")
	}
	if a == aggregateCacheKey("u1", "messages", "limit=20") {
		t.Error("different queries must not share a cache entry")
	}
}

func TestUserAuthMiddleware_MissingIdentity(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/data/messages", nil)

	s.userAuthMiddleware()(c)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if !c.IsAborted() {
		t.Error("expected the chain to be aborted")
	}
}

func TestUserAuthMiddleware_HeaderIdentity(t *testing.T) {
	s := &Server{}
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/data/messages", nil)
	c.Request.Header.Set("X-User-ID", "user-42")

	s.userAuthMiddleware()(c)

	if c.IsAborted() {
		t.Fatal("expected the request to pass")
	}
	if got := s.userID(c); got != "user-42" {
		t.Errorf("expected user-42, got %q", got)
	}
}

func TestUserAuthMiddleware_BearerFallback(t *testing.T) {
	s := &Server{}
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/data/messages", nil)
	c.Request.Header.Set("Authorization", "Bearer user-99")

	s.userAuthMiddleware()(c)

	if got := s.userID(c); got != "user-99" {
		t.Errorf("expected user-99 from bearer token, got %q", got)
	}
}

func TestSanitizeInput(t *testing.T) {
	got := sanitizeInput("hello\x00world\x1b[31m\n")
	if got != "helloworld[31m\n" {
		t.Errorf("unexpected sanitized value: %q", got)
	}
}
