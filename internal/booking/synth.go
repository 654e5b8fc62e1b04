package booking

import (
	"strconv"
	"strings"

	"easybook/internal/model"
)

// Row is one CSV record keyed by header name. Rows are never modified.
type Row map[string]string

// Value returns the trimmed value of key, or "" when absent.
func (r Row) Value(key string) string {
	if key == "" {
		return ""
	}
	return strings.TrimSpace(r[key])
}

// SkipReason names why a row, room or slot segment produced no event.
type SkipReason string

const (
	SkipBlankDate        SkipReason = "blank_date"
	SkipBlankRooms       SkipReason = "blank_rooms"
	SkipNoTimeColumn     SkipReason = "no_time_column"
	SkipBlankSlots       SkipReason = "blank_slots"
	SkipMissingSeparator SkipReason = "missing_separator"
	SkipEmptyBound       SkipReason = "empty_bound"
)

// Skip is one dropped unit of input. Room and Segment are empty for
// row-level skips.
type Skip struct {
	Row     int // zero-based index into the input rows
	Room    string
	Segment string
	Reason  SkipReason
}

// Stats counts what a synthesis run saw. Unresolved rooms and unknown
// reservees still produce events; they are counted, not skipped.
type Stats struct {
	Rows         int
	RowsSkipped  int
	Rooms        int
	RoomsSkipped int
	Segments     int // rejected slot segments
	Unresolved   int
	UnknownNames int
	Events       int
}

// Result is the outcome of Synthesize.
type Result struct {
	Events []model.BookingEvent
	Skips  []Skip
	Stats  Stats
}

// SkipsByReason tallies Skips by reason.
func (r Result) SkipsByReason() map[SkipReason]int {
	out := make(map[SkipReason]int)
	for _, s := range r.Skips {
		out[s.Reason]++
	}
	return out
}

// Synthesize turns rows into booking events: one event per merged slot per
// room per row. Event ids count from 1 across the whole run. colors may be
// nil, in which case every event gets the mapping's default colour.
func Synthesize(rows []Row, m Mapping, colors *ColorTable) Result {
	m.Normalize()

	res := Result{Events: make([]model.BookingEvent, 0)}
	nextID := 1

	for i, row := range rows {
		res.Stats.Rows++

		date := row.Value(m.DateColumn)
		if date == "" {
			res.skipRow(i, SkipBlankDate)
			continue
		}
		rooms := row.Value(m.RoomColumn)
		if rooms == "" {
			res.skipRow(i, SkipBlankRooms)
			continue
		}

		name := attendeeName(row, m.NameColumns)
		if name == "" {
			name = m.PlaceholderName
			res.Stats.UnknownNames++
		}

		for _, room := range splitRooms(rooms) {
			res.Stats.Rooms++

			resourceID := room
			timeColumn := m.FallbackTimeColumn
			if f, ok := m.Match(room); ok {
				resourceID = f.ID
				timeColumn = f.TimeColumn
			} else {
				res.Stats.Unresolved++
			}
			if timeColumn == "" {
				res.skipRoom(i, room, SkipNoTimeColumn)
				continue
			}

			slotText := row.Value(timeColumn)
			if slotText == "" {
				res.skipRoom(i, room, SkipBlankSlots)
				continue
			}

			slots, rejected := ParseSlotsDetailed(slotText)
			for _, rj := range rejected {
				res.Stats.Segments++
				res.Skips = append(res.Skips, Skip{Row: i, Room: room, Segment: rj.Segment, Reason: rj.Reason})
			}

			color := m.DefaultColor
			if c, ok := colors.Color(resourceID); ok {
				color = c
			}

			for _, slot := range MergeSlots(slots) {
				res.Events = append(res.Events, model.BookingEvent{
					ID:         strconv.Itoa(nextID),
					ResourceID: resourceID,
					Title:      name,
					Room:       room,
					Date:       date,
					StartTime:  slot.Start,
					EndTime:    slot.End,
					Color:      color,
				})
				nextID++
			}
		}
	}

	res.Stats.Events = len(res.Events)
	return res
}

func (r *Result) skipRow(i int, reason SkipReason) {
	r.Stats.RowsSkipped++
	r.Skips = append(r.Skips, Skip{Row: i, Reason: reason})
}

func (r *Result) skipRoom(i int, room string, reason SkipReason) {
	r.Stats.RoomsSkipped++
	r.Skips = append(r.Skips, Skip{Row: i, Room: room, Reason: reason})
}

// attendeeName joins the non-blank name columns with single spaces.
func attendeeName(row Row, columns []string) string {
	parts := make([]string, 0, len(columns))
	for _, c := range columns {
		if v := row.Value(c); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func splitRooms(rooms string) []string {
	out := make([]string, 0)
	for _, r := range strings.Split(rooms, segmentSep) {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
