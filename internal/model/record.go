package model

import "time"

// DateKeyLayout is the canonical calendar-day key shared by both record
// kinds. All dates are stored and queried in this shape.
const DateKeyLayout = "2006-01-02"

// RetentionPeriod is how long a record outlives its calendar day before
// the storage layer is allowed to prune it.
const RetentionPeriod = 90 * 24 * time.Hour

// ReminderEvent is a user-authored note attached to a calendar day and
// rendered into the display body.
type ReminderEvent struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Date      string    `gorm:"index;size:10;not null" json:"date"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}

// CollectionEntry is one waste-collection service due on a calendar day,
// refreshed from the council schedule feed. A row is identified by
// (Date, ServiceName); re-fetching the feed overwrites in place.
type CollectionEntry struct {
	Date        string    `gorm:"primaryKey;size:10" json:"date"`
	ServiceName string    `gorm:"primaryKey;size:128" json:"service_name"`
	DayOfWeek   string    `gorm:"size:16" json:"day_of_week"`
	RoundID     string    `gorm:"size:32" json:"round_id"`
	ScheduleID  string    `gorm:"size:32" json:"schedule_id"`
	UpdatedAt   time.Time `json:"updated_at"`
	ExpiresAt   time.Time `gorm:"index" json:"expires_at"`
}

// ExpiryFor returns the prune deadline for a record keyed on the given
// day.
func ExpiryFor(day time.Time) time.Time {
	return day.Add(RetentionPeriod)
}
