package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hallboard/internal/collections"
	"hallboard/internal/model"
)

// Store persists reminder events and collection entries keyed by
// calendar day. Storage errors are returned unchanged; retrying is the
// caller's concern.
type Store struct {
	db      *gorm.DB
	limiter *rate.Limiter
	log     *zap.Logger
	now     func() time.Time
}

// New creates a Store. writesPerSec caps the batch-write rate of
// StoreCollections; values below 1 fall back to 1.
func New(db *gorm.DB, writesPerSec int, log *zap.Logger) *Store {
	if writesPerSec < 1 {
		writesPerSec = 1
	}
	return &Store{
		db:      db,
		limiter: rate.NewLimiter(rate.Limit(writesPerSec), 1),
		log:     log,
		now:     time.Now,
	}
}

// NormalizeDate converts an inbound date in "YYYY/MM/DD" or
// "YYYY-MM-DD" form into the canonical day key.
func NormalizeDate(raw string) (string, error) {
	for _, layout := range []string{model.DateKeyLayout, "2006/01/02"} {
		if day, err := time.Parse(layout, raw); err == nil {
			return day.Format(model.DateKeyLayout), nil
		}
	}
	return "", fmt.Errorf("unrecognised date %q", raw)
}

// EventsByDate returns all reminder events stored for the given day, in
// storage order.
func (s *Store) EventsByDate(ctx context.Context, date string) ([]model.ReminderEvent, error) {
	var events []model.ReminderEvent
	err := s.db.WithContext(ctx).
		Where("date = ?", date).
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("query events for %s: %w", date, err)
	}
	return events, nil
}

// CreateEvent unconditionally inserts a reminder event, generating the
// ID, timestamps and expiry when absent. Callers that need several
// events on one day use this directly; UpsertEvent keeps one per day.
func (s *Store) CreateEvent(ctx context.Context, event model.ReminderEvent) (model.ReminderEvent, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	event.UpdatedAt = event.CreatedAt
	if event.ExpiresAt.IsZero() {
		event.ExpiresAt = s.expiryForKey(event.Date)
	}
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		return model.ReminderEvent{}, fmt.Errorf("create event for %s: %w", event.Date, err)
	}
	return event, nil
}

// UpdateEventText overwrites the text of an existing event.
func (s *Store) UpdateEventText(ctx context.Context, date, id, text string) (model.ReminderEvent, error) {
	return s.updateEventText(s.db.WithContext(ctx), date, id, text)
}

func (s *Store) updateEventText(db *gorm.DB, date, id, text string) (model.ReminderEvent, error) {
	var event model.ReminderEvent
	if err := db.Where("date = ? AND id = ?", date, id).First(&event).Error; err != nil {
		return model.ReminderEvent{}, fmt.Errorf("load event %s/%s: %w", date, id, err)
	}
	event.Text = text
	event.UpdatedAt = s.now()
	if err := db.Save(&event).Error; err != nil {
		return model.ReminderEvent{}, fmt.Errorf("update event %s/%s: %w", date, id, err)
	}
	return event, nil
}

// UpsertEvent stores text as the single logical event for a day:
// the first existing event is overwritten, otherwise a new one is
// created. The read and the write run in one transaction, and on
// PostgreSQL the day is additionally serialized with an advisory lock:
// under READ COMMITTED a transaction alone would let two concurrent
// upserts both see the day empty and both create.
func (s *Store) UpsertEvent(ctx context.Context, date, text string) (model.ReminderEvent, error) {
	var result model.ReminderEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockDay(tx, date); err != nil {
			return err
		}

		var existing []model.ReminderEvent
		if err := tx.Where("date = ?", date).Order("created_at ASC").Limit(1).Find(&existing).Error; err != nil {
			return fmt.Errorf("query events for %s: %w", date, err)
		}
		if len(existing) > 0 {
			updated, err := s.updateEventText(tx, date, existing[0].ID, text)
			if err != nil {
				return err
			}
			result = updated
			return nil
		}

		event := model.ReminderEvent{
			ID:        uuid.NewString(),
			Date:      date,
			Text:      text,
			CreatedAt: s.now(),
			UpdatedAt: s.now(),
			ExpiresAt: s.expiryForKey(date),
		}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("create event for %s: %w", date, err)
		}
		result = event
		return nil
	})
	if err != nil {
		return model.ReminderEvent{}, err
	}
	return result, nil
}

// CollectionsByDate returns the collection entries stored for a day.
func (s *Store) CollectionsByDate(ctx context.Context, date string) ([]model.CollectionEntry, error) {
	var entries []model.CollectionEntry
	err := s.db.WithContext(ctx).
		Where("date = ?", date).
		Order("service_name ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("query collections for %s: %w", date, err)
	}
	return entries, nil
}

// StoreCollections writes raw feed entries one at a time, translating
// the feed's DD/MM/YYYY dates into the canonical key and overwriting on
// (date, service). Writes are throttled by the configured rate limit
// rather than issued in parallel. Entries with unparseable dates are
// skipped; the count of rows written is returned.
func (s *Store) StoreCollections(ctx context.Context, raw []collections.Entry) (int, error) {
	stored := 0
	for _, item := range raw {
		day, err := collections.EntryDateKey(item)
		if err != nil {
			s.log.Warn("skipping collection entry with unparseable date",
				zap.String("date", item.Date),
				zap.String("service", item.Service))
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return stored, fmt.Errorf("write throttle: %w", err)
		}

		entry := model.CollectionEntry{
			Date:        day,
			ServiceName: item.Service,
			DayOfWeek:   item.Day,
			RoundID:     item.Round,
			ScheduleID:  item.Schedule,
			UpdatedAt:   s.now(),
			ExpiresAt:   s.expiryForKey(day),
		}
		err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "date"}, {Name: "service_name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"day_of_week", "round_id", "schedule_id", "updated_at", "expires_at",
			}),
		}).Create(&entry).Error
		if err != nil {
			return stored, fmt.Errorf("store collection %s/%s: %w", day, item.Service, err)
		}
		stored++
	}
	return stored, nil
}

// PruneExpired removes records whose retention window has elapsed. The
// pipeline never calls this; a daily maintenance job does.
func (s *Store) PruneExpired(ctx context.Context) (int64, error) {
	now := s.now()
	var removed int64

	res := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&model.ReminderEvent{})
	if res.Error != nil {
		return removed, fmt.Errorf("prune events: %w", res.Error)
	}
	removed += res.RowsAffected

	res = s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&model.CollectionEntry{})
	if res.Error != nil {
		return removed, fmt.Errorf("prune collections: %w", res.Error)
	}
	removed += res.RowsAffected
	return removed, nil
}

// lockDay takes a transaction-scoped advisory lock on the day so
// concurrent upserts serialize. Only PostgreSQL needs (and has) it;
// SQLite's single-writer locking already serializes transactions.
func lockDay(tx *gorm.DB, date string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", date).Error; err != nil {
		return fmt.Errorf("lock day %s: %w", date, err)
	}
	return nil
}

// expiryForKey derives the retention deadline from a canonical day key.
// An unparseable key yields a deadline relative to now, which only
// happens if a caller bypassed NormalizeDate.
func (s *Store) expiryForKey(date string) time.Time {
	day, err := time.Parse(model.DateKeyLayout, date)
	if err != nil {
		return s.now().Add(model.RetentionPeriod)
	}
	return model.ExpiryFor(day)
}
