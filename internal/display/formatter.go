package display

import (
	"strings"
	"time"
	"unicode/utf8"

	"hallboard/internal/model"
)

// Character budgets for the single-line display. The device truncates
// anything longer, so the formatter enforces them before pushing.
const (
	HeaderWidth  = 25
	LineWidth    = 27
	MaxBodyLines = 3

	// MaxReminderTextLen bounds inbound reminder text, newlines
	// included. Anything longer could never be shown in full.
	MaxReminderTextLen = MaxBodyLines * LineWidth
)

const headerLayout = "2006/01/02"

// Payload is the rendered text pushed to the device. It is rebuilt on
// every run and never persisted.
type Payload struct {
	Header string
	Body   string
}

// friendlyServiceNames maps council service labels to the short names
// shown on the display. Unknown services pass through unchanged.
var friendlyServiceNames = map[string]string{
	"Recycling Collection Service":      "Red bin",
	"Domestic Waste Collection Service": "Black bin",
	"Food Waste Collection Service":     "Food bin",
	"Garden Waste Collection Service":   "Green bin",
}

// Render builds the display payload for today's events and tomorrow's
// collections. It treats every input as possibly empty and never fails;
// each returned field fits its budget.
func Render(today time.Time, events []model.ReminderEvent, tomorrowCollections []model.CollectionEntry) Payload {
	lines := make([]string, 0, MaxBodyLines+1)

	if collect := collectionLine(tomorrowCollections); collect != "" {
		lines = append(lines, collect)
	}
	lines = append(lines, eventLines(events)...)

	return Payload{
		Header: truncate(today.Format(headerLayout), HeaderWidth),
		Body:   strings.Join(lines, "\n"),
	}
}

// collectionLine renders tomorrow's collections as a single reminder
// line, or "" when nothing is due.
func collectionLine(entries []model.CollectionEntry) string {
	if len(entries) == 0 {
		return ""
	}

	seen := make(map[string]bool, len(entries))
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.ServiceName
		if friendly, ok := friendlyServiceNames[name]; ok {
			name = friendly
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}

	return truncate("collect "+strings.Join(names, ", ")+" tmr", LineWidth)
}

// eventLines flattens event texts into exactly MaxBodyLines lines,
// splitting embedded line breaks, hard-truncating each line and padding
// with empty lines when fewer were produced.
func eventLines(events []model.ReminderEvent) []string {
	lines := make([]string, 0, MaxBodyLines)
	for _, event := range events {
		for _, candidate := range strings.Split(event.Text, "\n") {
			if len(lines) == MaxBodyLines {
				return lines
			}
			lines = append(lines, truncate(candidate, LineWidth))
		}
	}
	for len(lines) < MaxBodyLines {
		lines = append(lines, "")
	}
	return lines
}

// truncate cuts s to at most width bytes, with no word-boundary
// awareness. The cut backs up to the nearest rune boundary so a
// multi-byte character is dropped whole instead of leaving invalid
// UTF-8 for the device to mangle.
func truncate(s string, width int) string {
	if len(s) <= width {
		return s
	}
	cut := width
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
