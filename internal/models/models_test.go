package models

import (
	"testing"
	"time"
)

func TestParseService(t *testing.T) {
	svc, err := ParseService("  Slack ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc != ServiceSlack {
		t.Errorf("expected slack, got %s", svc)
	}

	if _, err := ParseService("telegram"); err == nil {
		t.Error("expected error for unknown service")
	}
	if _, err := ParseService(""); err == nil {
		t.Error("expected error for empty service")
	}
}

func TestParseRecordKind(t *testing.T) {
	for _, in := range []string{"messages", "MEETINGS", " activities "} {
		if _, err := ParseRecordKind(in); err != nil {
			t.Errorf("%q: unexpected error: %v", in, err)
		}
	}
	if _, err := ParseRecordKind("events"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestFetchOptions_InWindow(t *testing.T) {
	from := time.Unix(1000, 0)
	to := time.Unix(2000, 0)

	open := FetchOptions{}
	if !open.InWindow(time.Unix(1, 0)) {
		t.Error("open window must admit everything")
	}

	bounded := FetchOptions{DateFrom: &from, DateTo: &to}
	if bounded.InWindow(time.Unix(999, 0)) {
		t.Error("instant before dateFrom must be excluded")
	}
	if bounded.InWindow(time.Unix(2001, 0)) {
		t.Error("instant after dateTo must be excluded")
	}
	// both bounds are inclusive
	if !bounded.InWindow(from) || !bounded.InWindow(to) {
		t.Error("boundary instants must be admitted")
	}
}

func TestFetchOptions_WantsChannel(t *testing.T) {
	open := FetchOptions{}
	if !open.WantsChannel("anything") {
		t.Error("empty allow-list must admit everything")
	}

	filtered := FetchOptions{Channels: []string{"C1", "C2"}}
	if !filtered.WantsChannel("C2") {
		t.Error("listed channel must be admitted")
	}
	if filtered.WantsChannel("C3") {
		t.Error("unlisted channel must be rejected")
	}
}

func TestAllServices_Copy(t *testing.T) {
	a := AllServices()
	a[0] = Service("mutated")
	if AllServices()[0] != ServiceSlack {
		t.Error("AllServices must return a defensive copy")
	}
}
