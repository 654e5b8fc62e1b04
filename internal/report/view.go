package report

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"easybook/internal/booking"
	"easybook/internal/model"
)

// NoEventsText is shown when there is nothing to draw.
const NoEventsText = "予約がありません"

var dayNames = [7]string{"日", "月", "火", "水", "木", "金", "土"}

// DisplayDate formats t as "M/D(曜)".
func DisplayDate(t time.Time) string {
	return fmt.Sprintf("%d/%d(%s)", int(t.Month()), t.Day(), dayNames[t.Weekday()])
}

// ShortDate formats t as "M/D".
func ShortDate(t time.Time) string {
	return fmt.Sprintf("%d/%d", int(t.Month()), t.Day())
}

// WeekTitle is the heading of a weekly table.
func WeekTitle(w model.Week) string {
	return fmt.Sprintf("施設予約表 %s - %s", ShortDate(w.Start), ShortDate(w.End))
}

// Column is one date column of a grid.
type Column struct {
	Date  time.Time
	Key   string // YYYY-MM-DD
	Label string // M/D(曜)
}

// Cell holds the events of one facility on one day. More counts events
// that did not fit.
type Cell struct {
	Events []model.BookingEvent
	More   int
}

// Row is one facility line of a grid.
type Row struct {
	ResourceID string
	Color      string
	Tint       string
	Cells      []Cell
}

// Grid is the facility × date layout shared by the timeline, the weekly
// table and the spreadsheet export.
type Grid struct {
	Title   string
	Columns []Column
	Rows    []Row
	Events  int
}

// Empty reports whether the grid has no events at all.
func (g Grid) Empty() bool { return g.Events == 0 }

// Resources returns facility ids in mapping order followed by any ids that
// only appear on events (unresolved rooms), in first-seen order.
func Resources(events []model.BookingEvent, m booking.Mapping) []string {
	ids := m.FacilityIDs()
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for _, ev := range events {
		if !seen[ev.ResourceID] {
			seen[ev.ResourceID] = true
			ids = append(ids, ev.ResourceID)
		}
	}
	return ids
}

// BuildGrid lays events out over dates. maxPerCell <= 0 means unlimited.
func BuildGrid(events []model.BookingEvent, dates []time.Time, m booking.Mapping, colors *booking.ColorTable, maxPerCell int) Grid {
	g := Grid{Columns: make([]Column, 0, len(dates))}
	for _, d := range dates {
		g.Columns = append(g.Columns, Column{Date: d, Key: booking.FormatDate(d), Label: DisplayDate(d)})
	}

	type cellKey struct{ resource, date string }
	byCell := make(map[cellKey][]model.BookingEvent)
	for _, ev := range events {
		d, ok := booking.ParseDate(ev.Date)
		if !ok {
			continue
		}
		k := cellKey{ev.ResourceID, booking.FormatDate(d)}
		byCell[k] = append(byCell[k], ev)
	}

	for _, id := range Resources(events, m) {
		color := colors.Lookup(id, m.DefaultColor)
		row := Row{ResourceID: id, Color: color, Tint: Tint(color), Cells: make([]Cell, len(g.Columns))}
		for i, col := range g.Columns {
			evs := byCell[cellKey{id, col.Key}]
			if len(evs) == 0 {
				continue
			}
			evs = sortByStart(evs)
			g.Events += len(evs)
			if maxPerCell > 0 && len(evs) > maxPerCell {
				row.Cells[i] = Cell{Events: evs[:maxPerCell], More: len(evs) - maxPerCell}
			} else {
				row.Cells[i] = Cell{Events: evs}
			}
		}
		g.Rows = append(g.Rows, row)
	}
	return g
}

// Timeline builds the day-by-day view over the planned date range.
func Timeline(events []model.BookingEvent, m booking.Mapping, colors *booking.ColorTable, now time.Time) Grid {
	return BuildGrid(events, booking.PlanDatesAt(events, now), m, colors, 0)
}

// WeekGrid builds the weekly table for one week.
func WeekGrid(w model.Week, m booking.Mapping, colors *booking.ColorTable, maxPerCell int) Grid {
	g := BuildGrid(w.Events, w.Days(), m, colors, maxPerCell)
	g.Title = WeekTitle(w)
	return g
}

func sortByStart(evs []model.BookingEvent) []model.BookingEvent {
	out := append([]model.BookingEvent(nil), evs...)
	sort.SliceStable(out, func(i, j int) bool {
		a, aok := booking.Minutes(out[i].StartTime)
		b, bok := booking.Minutes(out[j].StartTime)
		if aok != bok {
			return aok
		}
		return a < b
	})
	return out
}

var hslRe = regexp.MustCompile(`^hsl\(\s*(\d+(?:\.\d+)?)\s*,\s*(\d+(?:\.\d+)?)%\s*,\s*(\d+(?:\.\d+)?)%\s*\)$`)

// Tint returns a translucent variant of a "#rrggbb" or "hsl(...)" colour for
// facility header cells. Other values are returned unchanged.
func Tint(color string) string {
	c := strings.TrimSpace(color)
	if m := hslRe.FindStringSubmatch(c); m != nil {
		return fmt.Sprintf("hsla(%s, %s%%, %s%%, 0.125)", m[1], m[2], m[3])
	}
	if len(c) == 7 && c[0] == '#' {
		return c + "20"
	}
	return c
}

// HexColor converts a "#rrggbb" or "hsl(...)" colour to "RRGGBB". ok is false
// for anything else.
func HexColor(color string) (string, bool) {
	c := strings.TrimSpace(color)
	if len(c) == 7 && c[0] == '#' {
		if _, err := strconv.ParseUint(c[1:], 16, 32); err == nil {
			return strings.ToUpper(c[1:]), true
		}
		return "", false
	}
	m := hslRe.FindStringSubmatch(c)
	if m == nil {
		return "", false
	}
	h, _ := strconv.ParseFloat(m[1], 64)
	s, _ := strconv.ParseFloat(m[2], 64)
	l, _ := strconv.ParseFloat(m[3], 64)
	r, g, b := hslToRGB(math.Mod(h, 360), s/100, l/100)
	return fmt.Sprintf("%02X%02X%02X", r, g, b), true
}

func hslToRGB(h, s, l float64) (uint8, uint8, uint8) {
	c := (1 - math.Abs(2*l-1)) * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := l - c/2
	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	conv := func(v float64) uint8 { return uint8(math.Round((v + m) * 255)) }
	return conv(r), conv(g), conv(b)
}
