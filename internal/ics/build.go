package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"easybook/internal/booking"
	appLog "easybook/internal/log"
	"easybook/internal/model"
)

const productID = "-//easybook//facility bookings//JA"

// uidNamespace scopes event UIDs so the same booking always maps to the same
// UID across loads.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:easybook:booking"))

// BuildResult carries the serialized calendar and how many events could
// not be expressed as timed VEVENTs.
type BuildResult struct {
	Body    string
	Events  int
	Skipped int
}

// Build renders events as an iCalendar feed. Dates and times are read in
// loc; events whose date or slot times are not well-formed are skipped.
func Build(events []model.BookingEvent, loc *time.Location, name string) BuildResult {
	if loc == nil {
		loc = time.Local
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetName(name)
		cal.SetXWRCalName(name)
	}
	cal.SetXWRTimezone(loc.String())

	stamp := time.Now().UTC()
	var res BuildResult
	for _, ev := range events {
		start, end, ok := EventTimes(ev, loc)
		if !ok {
			res.Skipped++
			appLog.Debug("ics: event times not well-formed; skipping",
				"id", ev.ID, "date", ev.Date, "start", ev.StartTime, "end", ev.EndTime)
			continue
		}

		vev := cal.AddEvent(EventUID(ev))
		vev.SetDtStampTime(stamp)
		vev.SetStartAt(start)
		vev.SetEndAt(end)
		vev.SetSummary(fmt.Sprintf("%s (%s)", ev.Title, ev.Room))
		vev.SetLocation(ev.Room)
		vev.SetDescription(ev.ResourceID)
		vev.AddProperty(ical.ComponentPropertyCategories, ev.ResourceID)
		res.Events++
	}

	res.Body = cal.Serialize()
	return res
}

// EventTimes resolves an event's date and slot text to absolute times.
func EventTimes(ev model.BookingEvent, loc *time.Location) (time.Time, time.Time, bool) {
	d, ok := booking.ParseDate(ev.Date)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	slot := booking.TimeSlot{Start: ev.StartTime, End: ev.EndTime}
	if !slot.Valid() {
		return time.Time{}, time.Time{}, false
	}
	startMin, _ := booking.Minutes(slot.Start)
	endMin, _ := booking.Minutes(slot.End)

	midnight := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return midnight.Add(time.Duration(startMin) * time.Minute),
		midnight.Add(time.Duration(endMin) * time.Minute),
		true
}

// EventUID derives a stable UID from the booking's content. The sequential
// event id is left out because it shifts whenever rows are added.
func EventUID(ev model.BookingEvent) string {
	key := strings.Join([]string{ev.Date, ev.ResourceID, ev.Room, ev.StartTime, ev.EndTime, ev.Title}, "\x1f")
	return uuid.NewSHA1(uidNamespace, []byte(key)).String() + "@easybook"
}
