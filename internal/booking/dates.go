package booking

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "easybook/internal/log"
	"easybook/internal/model"
)

// DateLayout is the canonical event date form.
const DateLayout = "2006-01-02"

// padDays is how far the timeline extends before the first and after the
// last booked day.
const padDays = 7

var dateLayouts = []string{DateLayout, "2006/01/02", "2006/1/2", "2006-1-2"}

// ParseDate parses an event date as a UTC calendar day.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatDate renders a calendar day as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// dateSpan returns the earliest and latest parseable event dates.
func dateSpan(events []model.BookingEvent) (minDate, maxDate time.Time, ok bool) {
	for _, ev := range events {
		d, parsed := ParseDate(ev.Date)
		if !parsed {
			appLog.Debug("event date not parseable; left out of span", "id", ev.ID, "date", ev.Date)
			continue
		}
		if !ok || d.Before(minDate) {
			minDate = d
		}
		if !ok || d.After(maxDate) {
			maxDate = d
		}
		ok = true
	}
	return minDate, maxDate, ok
}

// PlanDates returns the days a timeline should show for events, using the
// current month when there is nothing to show.
func PlanDates(events []model.BookingEvent) []time.Time {
	return PlanDatesAt(events, time.Now())
}

// PlanDatesAt is PlanDates with an explicit clock. With events it returns
// every day from a week before the first event through a week after the
// last. Without events it returns every day of now's month.
func PlanDatesAt(events []model.BookingEvent, now time.Time) []time.Time {
	minDate, maxDate, ok := dateSpan(events)
	if !ok {
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		last := first.AddDate(0, 1, -1)
		return daysBetween(first, last)
	}
	return daysBetween(minDate.AddDate(0, 0, -padDays), maxDate.AddDate(0, 0, padDays))
}

// daysBetween lists every day in [from, to].
func daysBetween(from, to time.Time) []time.Time {
	return recur(rrule.DAILY, day(from), day(to))
}

// recur expands a DAILY or WEEKLY rule from start until end inclusive.
func recur(freq rrule.Frequency, start, end time.Time) []time.Time {
	if end.Before(start) {
		return []time.Time{}
	}
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    freq,
		Dtstart: start,
		Until:   end,
	})
	if err != nil {
		appLog.Error("date rule failed; stepping manually", err, "start", FormatDate(start), "end", FormatDate(end))
		step := 1
		if freq == rrule.WEEKLY {
			step = 7
		}
		out := make([]time.Time, 0)
		for d := start; !d.After(end); d = d.AddDate(0, 0, step) {
			out = append(out, d)
		}
		return out
	}
	return r.All()
}

// GroupWeeks partitions events into Sunday-aligned weeks, keeping only
// weeks that hold at least one event. Events with unparseable dates are
// not placed in any week.
func GroupWeeks(events []model.BookingEvent) []model.Week {
	minDate, maxDate, ok := dateSpan(events)
	if !ok {
		return []model.Week{}
	}

	firstSunday := minDate.AddDate(0, 0, -int(minDate.Weekday()))
	weeks := make([]model.Week, 0)
	for _, start := range recur(rrule.WEEKLY, firstSunday, maxDate) {
		end := start.AddDate(0, 0, 6)
		var inWeek []model.BookingEvent
		for _, ev := range events {
			d, parsed := ParseDate(ev.Date)
			if !parsed || d.Before(start) || d.After(end) {
				continue
			}
			inWeek = append(inWeek, ev)
		}
		if len(inWeek) == 0 {
			continue
		}
		weeks = append(weeks, model.Week{Start: start, End: end, Events: inWeek})
	}
	return weeks
}

// FindWeek returns the week starting on start, if any.
func FindWeek(weeks []model.Week, start time.Time) (model.Week, bool) {
	start = day(start)
	for _, w := range weeks {
		if w.Start.Equal(start) {
			return w, true
		}
	}
	return model.Week{}, false
}
