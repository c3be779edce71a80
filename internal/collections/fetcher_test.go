package collections

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

const feedBody = `{"success":true,"collections":[
	{"service":"Recycling Collection Service","date":"15/03/2026 00:00:00","day":"Sunday","round":"R1","schedule":"S1"}
]}`

func newTestFetcher(baseURL string) *Fetcher {
	return NewFetcher(baseURL, "100012345", 2*time.Second, 12*time.Hour, zap.NewNop())
}

func TestFetchParsesFeed(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/100012345" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, feedBody)
	}))
	defer server.Close()

	entries := newTestFetcher(server.URL).Fetch(context.Background())
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Service != "Recycling Collection Service" {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestFetchUsesFreshCache(t *testing.T) {
	t.Parallel()

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, feedBody)
	}))
	defer server.Close()

	f := newTestFetcher(server.URL)
	f.Fetch(context.Background())
	f.Fetch(context.Background())

	if calls != 1 {
		t.Fatalf("expected a single feed call, got %d", calls)
	}
}

func TestFetchRefetchesAfterTTL(t *testing.T) {
	t.Parallel()

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, feedBody)
	}))
	defer server.Close()

	f := newTestFetcher(server.URL)
	f.Fetch(context.Background())

	// Age the cache past its TTL.
	f.mu.Lock()
	f.cachedAt = f.cachedAt.Add(-13 * time.Hour)
	f.mu.Unlock()

	f.Fetch(context.Background())
	if calls != 2 {
		t.Fatalf("expected refetch after TTL, got %d calls", calls)
	}
}

func TestFetchFailureWithoutCacheReturnsEmpty(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	entries := newTestFetcher(server.URL).Fetch(context.Background())
	if len(entries) != 0 {
		t.Fatalf("expected empty schedule, got %d entries", len(entries))
	}
}

func TestFetchFailureServesStaleCache(t *testing.T) {
	t.Parallel()

	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, feedBody)
	}))
	defer server.Close()

	f := newTestFetcher(server.URL)
	f.Fetch(context.Background())

	healthy = false
	f.mu.Lock()
	f.cachedAt = f.cachedAt.Add(-48 * time.Hour)
	f.mu.Unlock()

	entries := f.Fetch(context.Background())
	if len(entries) != 1 {
		t.Fatalf("expected stale cache to be served, got %d entries", len(entries))
	}
}

func TestFetchTreatsUnsuccessfulFlagAsFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"collections":[{"service":"x","date":"15/03/2026 00:00:00"}]}`)
	}))
	defer server.Close()

	entries := newTestFetcher(server.URL).Fetch(context.Background())
	if len(entries) != 0 {
		t.Fatalf("success=false should yield empty schedule, got %d entries", len(entries))
	}
}

func TestEntryDateKey(t *testing.T) {
	t.Parallel()

	key, err := EntryDateKey(Entry{Date: "15/03/2026 00:00:00"})
	if err != nil {
		t.Fatalf("EntryDateKey: %v", err)
	}
	if key != "2026-03-15" {
		t.Fatalf("key = %q, want 2026-03-15", key)
	}

	if _, err := EntryDateKey(Entry{Date: "soon"}); err == nil {
		t.Fatalf("expected error for malformed feed date")
	}
}
