package model

import "time"

// BookingEvent is one merged reservation slot for one facility on one day.
// Values are produced by booking.Synthesize and never modified afterwards;
// a new load replaces the whole set.
type BookingEvent struct {
	// ID is a decimal counter, "1", "2", ... scoped to one synthesis run.
	ID string `json:"id"`

	// ResourceID is the canonical facility id (also its display name and
	// colour key). Unknown rooms use their raw label.
	ResourceID string `json:"resourceId"`

	// Title is the reservee name or the configured placeholder.
	Title string `json:"title"`

	// Room is the room label exactly as it appeared in the export.
	Room string `json:"room"`

	// Date is the row's date text, normally "YYYY-MM-DD".
	Date string `json:"date"`

	// StartTime / EndTime are "HH:MM" 24-hour clock text.
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`

	Color string `json:"color"`
}

// Week is a Sunday-aligned 7-day window holding the events that fall in it.
type Week struct {
	Start  time.Time
	End    time.Time // Start + 6 days
	Events []BookingEvent
}

// Days returns the seven dates of the week in order.
func (w Week) Days() []time.Time {
	days := make([]time.Time, 0, 7)
	for d := 0; d < 7; d++ {
		days = append(days, w.Start.AddDate(0, 0, d))
	}
	return days
}
