package collections

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"hallboard/internal/model"
)

// Entry is one raw collection item as delivered by the council feed.
// Dates arrive as "DD/MM/YYYY HH:MM:SS".
type Entry struct {
	Service  string `json:"service"`
	Date     string `json:"date"`
	Day      string `json:"day"`
	Round    string `json:"round"`
	Schedule string `json:"schedule"`
}

type feedResponse struct {
	Success     bool    `json:"success"`
	Collections []Entry `json:"collections"`
}

const sourceDateLayout = "02/01/2006 15:04:05"

// EntryDateKey translates a raw entry's feed date into the canonical
// day key.
func EntryDateKey(e Entry) (string, error) {
	for _, layout := range []string{sourceDateLayout, "02/01/2006"} {
		if day, err := time.Parse(layout, e.Date); err == nil {
			return day.Format(model.DateKeyLayout), nil
		}
	}
	return "", fmt.Errorf("unrecognised feed date %q", e.Date)
}

// Fetcher retrieves the upcoming collection schedule for one property.
// Results are cached in-process; when the feed is unreachable the last
// good result is served regardless of age. Fetch never returns an
// error, only a possibly empty list.
type Fetcher struct {
	baseURL    string
	propertyID string
	client     *http.Client
	ttl        time.Duration
	log        *zap.Logger

	mu       sync.Mutex
	cached   []Entry
	cachedAt time.Time
	now      func() time.Time
}

// NewFetcher creates a Fetcher. timeout bounds each feed request; ttl
// is how long a fresh result suppresses further network calls.
func NewFetcher(baseURL, propertyID string, timeout, ttl time.Duration, log *zap.Logger) *Fetcher {
	return &Fetcher{
		baseURL:    baseURL,
		propertyID: propertyID,
		client:     &http.Client{Timeout: timeout},
		ttl:        ttl,
		log:        log,
		now:        time.Now,
	}
}

// Fetch returns the upcoming schedule, from cache when it is still
// fresh. Feed failures fall back to the cached list, or to an empty
// list when nothing has ever been fetched.
func (f *Fetcher) Fetch(ctx context.Context) []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.cachedAt.IsZero() && f.now().Sub(f.cachedAt) < f.ttl {
		return f.cached
	}

	entries, err := f.fetchRemote(ctx)
	if err != nil {
		if !f.cachedAt.IsZero() {
			f.log.Warn("schedule fetch failed, serving cached schedule",
				zap.Error(err),
				zap.Time("cached_at", f.cachedAt))
			return f.cached
		}
		f.log.Warn("schedule fetch failed with no cache, serving empty schedule", zap.Error(err))
		return nil
	}

	f.cached = entries
	f.cachedAt = f.now()
	return entries
}

func (f *Fetcher) fetchRemote(ctx context.Context) ([]Entry, error) {
	url := fmt.Sprintf("%s/%s", f.baseURL, f.propertyID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	var feed feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	// The feed reports application-level failure in-band.
	if !feed.Success {
		return nil, fmt.Errorf("feed reported success=false")
	}
	return feed.Collections, nil
}
