package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"

	"easybook/internal/booking"
	"easybook/internal/model"
)

const isoLocal = "2006-01-02T15:04:05"

// JSONEvent is the record shape of events.json: the booking fields plus the
// calendar-style calendarId and ISO local start/end. Start and End are
// empty when the date or times are not well-formed.
type JSONEvent struct {
	model.BookingEvent
	CalendarID string `json:"calendarId"`
	Start      string `json:"start,omitempty"`
	End        string `json:"end,omitempty"`
}

// CSVEvent is one line of the flat CSV export.
type CSVEvent struct {
	ID         string `csv:"id"`
	ResourceID string `csv:"resourceId"`
	Title      string `csv:"title"`
	Room       string `csv:"room"`
	Date       string `csv:"date"`
	StartTime  string `csv:"startTime"`
	EndTime    string `csv:"endTime"`
	Color      string `csv:"color"`
}

// LocalTimes returns the naive ISO start and end of ev. "24:00" rolls over
// to the next day.
func LocalTimes(ev model.BookingEvent) (string, string, bool) {
	d, ok := booking.ParseDate(ev.Date)
	if !ok {
		return "", "", false
	}
	s, sok := booking.Minutes(ev.StartTime)
	e, eok := booking.Minutes(ev.EndTime)
	if !sok || !eok {
		return "", "", false
	}
	start := d.Add(time.Duration(s) * time.Minute)
	end := d.Add(time.Duration(e) * time.Minute)
	return start.Format(isoLocal), end.Format(isoLocal), true
}

// JSONEvents converts events to their events.json records.
func JSONEvents(events []model.BookingEvent) []JSONEvent {
	out := make([]JSONEvent, 0, len(events))
	for _, ev := range events {
		rec := JSONEvent{BookingEvent: ev, CalendarID: ev.ResourceID}
		rec.Start, rec.End, _ = LocalTimes(ev)
		out = append(out, rec)
	}
	return out
}

// WriteJSON writes events as an indented JSON array.
func WriteJSON(w io.Writer, events []model.BookingEvent) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(JSONEvents(events)); err != nil {
		return fmt.Errorf("report: write json: %w", err)
	}
	return nil
}

// WriteCSV writes events as a header-first CSV.
func WriteCSV(w io.Writer, events []model.BookingEvent) error {
	rows := make([]*CSVEvent, 0, len(events))
	for _, ev := range events {
		rows = append(rows, &CSVEvent{
			ID: ev.ID, ResourceID: ev.ResourceID, Title: ev.Title, Room: ev.Room,
			Date: ev.Date, StartTime: ev.StartTime, EndTime: ev.EndTime, Color: ev.Color,
		})
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("report: write csv: %w", err)
	}
	return nil
}
