package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"hallboard/internal/collections"
	"hallboard/internal/display"
	"hallboard/internal/model"
	"hallboard/internal/store"
)

// Result summarises one pipeline run.
type Result struct {
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`

	Fetched     int  `json:"fetched"`
	Stored      int  `json:"stored"`
	Events      int  `json:"events"`
	Collections int  `json:"collections"`
	Pushed      bool `json:"pushed"`

	Err string `json:"error,omitempty"`
}

// Orchestrator sequences the update pipeline: fetch the schedule, store
// it, read today's reminders and tomorrow's collections, render, push.
// Only storage errors fail a run; fetch and push problems are absorbed
// by their own components. Runs are not retried here; the next trigger
// is the retry.
type Orchestrator struct {
	fetcher  *collections.Fetcher
	store    *store.Store
	pusher   *display.Pusher
	location *time.Location
	log      *zap.Logger
	now      func() time.Time
}

// New creates an Orchestrator. location fixes what "today" and
// "tomorrow" mean for the household.
func New(fetcher *collections.Fetcher, recordStore *store.Store, pusher *display.Pusher, location *time.Location, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		fetcher:  fetcher,
		store:    recordStore,
		pusher:   pusher,
		location: location,
		log:      log,
		now:      time.Now,
	}
}

// RunScheduled refreshes the stored schedule from the feed and then
// updates the display.
func (o *Orchestrator) RunScheduled(ctx context.Context) Result {
	start := o.now()
	var res Result

	raw := o.fetcher.Fetch(ctx)
	res.Fetched = len(raw)

	stored, err := o.store.StoreCollections(ctx, raw)
	res.Stored = stored
	if err != nil {
		return o.fail(res, start, err)
	}

	return o.updateDisplay(ctx, res, start)
}

// RunOnDemand updates the display from already-stored data, without
// touching the feed. Called after a reminder write.
func (o *Orchestrator) RunOnDemand(ctx context.Context) Result {
	return o.updateDisplay(ctx, Result{}, o.now())
}

func (o *Orchestrator) updateDisplay(ctx context.Context, res Result, start time.Time) Result {
	today := o.now().In(o.location)
	todayKey := today.Format(model.DateKeyLayout)
	tomorrowKey := today.AddDate(0, 0, 1).Format(model.DateKeyLayout)

	tomorrowCollections, err := o.store.CollectionsByDate(ctx, tomorrowKey)
	if err != nil {
		return o.fail(res, start, err)
	}
	res.Collections = len(tomorrowCollections)

	events, err := o.store.EventsByDate(ctx, todayKey)
	if err != nil {
		return o.fail(res, start, err)
	}
	res.Events = len(events)

	payload := display.Render(today, events, tomorrowCollections)
	res.Pushed = o.pusher.Push(ctx, payload)

	res.Success = true
	res.Duration = o.now().Sub(start)
	o.log.Info("pipeline run complete",
		zap.Int("fetched", res.Fetched),
		zap.Int("stored", res.Stored),
		zap.Int("events", res.Events),
		zap.Int("collections", res.Collections),
		zap.Bool("pushed", res.Pushed),
		zap.Duration("duration", res.Duration))
	return res
}

func (o *Orchestrator) fail(res Result, start time.Time, err error) Result {
	res.Success = false
	res.Err = err.Error()
	res.Duration = o.now().Sub(start)
	// Error level so the production logger attaches a stacktrace.
	o.log.Error("pipeline run failed", zap.Error(err), zap.Duration("duration", res.Duration))
	return res
}
