package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"hallboard/internal/collections"
	"hallboard/internal/display"
	"hallboard/internal/model"
	"hallboard/internal/store"
)

type testPipeline struct {
	db           *gorm.DB
	store        *store.Store
	orchestrator *Orchestrator
	devicePushes *int
	lastBody     *string
}

// newTestPipeline wires a full pipeline over an in-memory database, a
// fake council feed and a fake device.
func newTestPipeline(t *testing.T, feedHandler http.HandlerFunc) *testPipeline {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_fk=1", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite memory: %v", err)
	}
	if err := db.AutoMigrate(&model.ReminderEvent{}, &model.CollectionEntry{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	feed := httptest.NewServer(feedHandler)
	t.Cleanup(feed.Close)

	pushes := 0
	lastBody := ""
	device := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushes++
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read device body: %v", err)
		}
		lastBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(device.Close)

	recordStore := store.New(db, 1000, zap.NewNop())
	fetcher := collections.NewFetcher(feed.URL, "100012345", 2*time.Second, 12*time.Hour, zap.NewNop())
	pusher := display.NewPusher(device.URL, "secret", "title", "message", zap.NewNop())
	orchestrator := New(fetcher, recordStore, pusher, time.UTC, zap.NewNop())

	return &testPipeline{
		db:           db,
		store:        recordStore,
		orchestrator: orchestrator,
		devicePushes: &pushes,
		lastBody:     &lastBody,
	}
}

// feedWithTomorrow returns a handler serving a successful feed whose
// only entry is due tomorrow.
func feedWithTomorrow(service string) http.HandlerFunc {
	tomorrow := time.Now().UTC().AddDate(0, 0, 1).Format("02/01/2006")
	body := fmt.Sprintf(`{"success":true,"collections":[{"service":%q,"date":"%s 00:00:00","day":"","round":"R1","schedule":"S1"}]}`, service, tomorrow)
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}
}

func TestScheduledRunEndToEnd(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t, feedWithTomorrow("Recycling Collection Service"))

	res := p.orchestrator.RunScheduled(context.Background())
	if !res.Success {
		t.Fatalf("run failed: %+v", res)
	}
	if res.Fetched != 1 || res.Stored != 1 || res.Collections != 1 {
		t.Fatalf("unexpected metrics: %+v", res)
	}
	if !res.Pushed || *p.devicePushes != 1 {
		t.Fatalf("expected exactly one device push, got %d (pushed=%v)", *p.devicePushes, res.Pushed)
	}
	if !strings.Contains(*p.lastBody, "collect Red bin tmr") {
		t.Fatalf("device body missing collection line: %s", *p.lastBody)
	}
}

func TestScheduledRunSurvivesFeedOutage(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	res := p.orchestrator.RunScheduled(context.Background())
	if !res.Success {
		t.Fatalf("feed outage must not fail the run: %+v", res)
	}
	if res.Fetched != 0 || res.Stored != 0 {
		t.Fatalf("unexpected metrics during outage: %+v", res)
	}
	if *p.devicePushes != 1 {
		t.Fatalf("display should still be updated, got %d pushes", *p.devicePushes)
	}
}

func TestOnDemandRunSkipsFeed(t *testing.T) {
	t.Parallel()

	feedCalls := 0
	p := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		feedCalls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	today := time.Now().UTC().Format(model.DateKeyLayout)
	if _, err := p.store.UpsertEvent(context.Background(), today, "bring cake"); err != nil {
		t.Fatalf("seed event: %v", err)
	}

	res := p.orchestrator.RunOnDemand(context.Background())
	if !res.Success {
		t.Fatalf("on-demand run failed: %+v", res)
	}
	if feedCalls != 0 {
		t.Fatalf("on-demand run must not call the feed, got %d calls", feedCalls)
	}
	if res.Events != 1 {
		t.Fatalf("expected 1 event in metrics: %+v", res)
	}
	if !strings.Contains(*p.lastBody, "bring cake") {
		t.Fatalf("device body missing reminder: %s", *p.lastBody)
	}
}

func TestRunFailsOnStorageErrorWithoutPushing(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t, feedWithTomorrow("Recycling Collection Service"))

	// Break the events table so the query step raises mid-run.
	if err := p.db.Migrator().DropTable(&model.ReminderEvent{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	res := p.orchestrator.RunScheduled(context.Background())
	if res.Success {
		t.Fatalf("expected run failure, got %+v", res)
	}
	if res.Err == "" {
		t.Fatalf("expected error message in result")
	}
	if *p.devicePushes != 0 {
		t.Fatalf("no push may happen after a storage failure, got %d", *p.devicePushes)
	}
}
