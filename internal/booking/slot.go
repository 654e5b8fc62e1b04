package booking

import (
	"sort"
	"strconv"
	"strings"
)

// Range separators and colon variants found in portal exports. Shift-JIS
// decoders disagree on whether 0x8160 is U+FF5E or U+301C, so both count.
const (
	rangeSep        = "～"
	rangeSepWave    = "〜"
	fullWidthColon  = "："
	segmentSep      = ";"
	invalidMinutes  = -1
	minutesPerHour  = 60
	maxClockMinutes = 24 * minutesPerHour
)

// TimeSlot is a start/end pair in "HH:MM" text form.
type TimeSlot struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Rejected records a slot segment that could not be turned into a TimeSlot.
type Rejected struct {
	Segment string
	Reason  SkipReason
}

// ParseSlots splits slot text such as "09:00～10:00;10:00～11:00" into
// TimeSlots. Malformed segments are dropped.
func ParseSlots(text string) []TimeSlot {
	slots, _ := ParseSlotsDetailed(text)
	return slots
}

// ParseSlotsDetailed is ParseSlots that also reports dropped segments.
// Blank segments (for example a trailing ';') are ignored without a report.
func ParseSlotsDetailed(text string) ([]TimeSlot, []Rejected) {
	if strings.TrimSpace(text) == "" {
		return []TimeSlot{}, nil
	}

	slots := make([]TimeSlot, 0)
	var rejected []Rejected
	for _, seg := range strings.Split(text, segmentSep) {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		slot, reason := parseSegment(seg)
		if reason != "" {
			rejected = append(rejected, Rejected{Segment: seg, Reason: reason})
			continue
		}
		slots = append(slots, slot)
	}
	return slots, rejected
}

func parseSegment(seg string) (TimeSlot, SkipReason) {
	seg = strings.ReplaceAll(seg, rangeSepWave, rangeSep)
	if !strings.Contains(seg, rangeSep) {
		return TimeSlot{}, SkipMissingSeparator
	}
	// Only the first two parts count: "a～b～c" reads as a～b.
	parts := strings.Split(seg, rangeSep)
	start := normalizeClock(parts[0])
	end := normalizeClock(parts[1])
	if start == "" || end == "" {
		return TimeSlot{}, SkipEmptyBound
	}
	return TimeSlot{Start: start, End: end}, ""
}

func normalizeClock(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, fullWidthColon, ":"))
}

// Minutes converts "HH:MM" to minutes since midnight. The second result is
// false when either part is not an integer.
func Minutes(clock string) (int, bool) {
	h, m, ok := strings.Cut(strings.TrimSpace(clock), ":")
	if !ok {
		return invalidMinutes, false
	}
	hour, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return invalidMinutes, false
	}
	minute, err := strconv.Atoi(strings.TrimSpace(m))
	if err != nil {
		return invalidMinutes, false
	}
	return hour*minutesPerHour + minute, true
}

// Valid reports whether both ends are in-range clock times and start < end.
func (s TimeSlot) Valid() bool {
	start, ok := Minutes(s.Start)
	if !ok {
		return false
	}
	end, ok := Minutes(s.End)
	if !ok {
		return false
	}
	return start >= 0 && end <= maxClockMinutes && start < end
}

// MergeSlots sorts slots by start time and joins each slot whose start text
// equals the previous end text. The input slice is not modified.
//
// The result is independent of input order. It is idempotent only when
// every slot is Valid; a zero-length or inverted slot left in the output can
// be joined by a second merge.
func MergeSlots(slots []TimeSlot) []TimeSlot {
	if len(slots) == 0 {
		return []TimeSlot{}
	}

	sorted := append([]TimeSlot(nil), slots...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return slotLess(sorted[i], sorted[j])
	})

	merged := make([]TimeSlot, 0, len(sorted))
	current := sorted[0]
	for _, next := range sorted[1:] {
		if next.Start == current.End {
			current.End = next.End
			continue
		}
		merged = append(merged, current)
		current = next
	}
	return append(merged, current)
}

// slotLess orders by start minutes, then end minutes, then raw text, so the
// merge result does not depend on input order. Unparseable times sort last.
func slotLess(a, b TimeSlot) bool {
	if c := compareClock(a.Start, b.Start); c != 0 {
		return c < 0
	}
	if c := compareClock(a.End, b.End); c != 0 {
		return c < 0
	}
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.End < b.End
}

func compareClock(a, b string) int {
	am, aok := Minutes(a)
	bm, bok := Minutes(b)
	switch {
	case aok && !bok:
		return -1
	case !aok && bok:
		return 1
	case !aok && !bok:
		return 0
	case am < bm:
		return -1
	case am > bm:
		return 1
	}
	return 0
}
