package booking

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// ColorTable assigns each facility id a random HSL colour. A table is
// created once per configuration and never mutated; Rekey derives a new one.
type ColorTable struct {
	colors map[string]string
	rnd    *rand.Rand
}

// NewColorTable generates a colour for every id. A nil rnd seeds one from
// the clock.
func NewColorTable(ids []string, rnd *rand.Rand) *ColorTable {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	t := &ColorTable{colors: make(map[string]string, len(ids)), rnd: rnd}
	for _, id := range ids {
		if _, ok := t.colors[id]; !ok {
			t.colors[id] = randomColor(rnd)
		}
	}
	return t
}

// Color returns the colour bound to id.
func (t *ColorTable) Color(id string) (string, bool) {
	if t == nil {
		return "", false
	}
	c, ok := t.colors[id]
	return c, ok
}

// Lookup is Color with a fallback for unknown ids.
func (t *ColorTable) Lookup(id, fallback string) string {
	if c, ok := t.Color(id); ok {
		return c
	}
	return fallback
}

// Len returns the number of entries.
func (t *ColorTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.colors)
}

// Snapshot copies the table into a plain map for serialisation.
func (t *ColorTable) Snapshot() map[string]string {
	out := make(map[string]string, t.Len())
	if t == nil {
		return out
	}
	for k, v := range t.colors {
		out[k] = v
	}
	return out
}

// Rekey builds the table for a new id list. Ids already present keep their
// colour. A new id that equals a dropped id ignoring case and surrounding
// space takes over the dropped id's colour. Everything else gets a fresh one.
func (t *ColorTable) Rekey(ids []string) *ColorTable {
	if t == nil {
		return NewColorTable(ids, nil)
	}

	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	orphans := make(map[string]string)
	for id, c := range t.colors {
		if !keep[id] {
			orphans[foldID(id)] = c
		}
	}

	next := &ColorTable{colors: make(map[string]string, len(ids)), rnd: t.rnd}
	for _, id := range ids {
		if _, done := next.colors[id]; done {
			continue
		}
		if c, ok := t.colors[id]; ok {
			next.colors[id] = c
			continue
		}
		if c, ok := orphans[foldID(id)]; ok {
			next.colors[id] = c
			delete(orphans, foldID(id))
			continue
		}
		next.colors[id] = randomColor(t.rnd)
	}
	return next
}

func foldID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// randomColor picks hue 0-359, saturation 70-89% and lightness 50-69%.
func randomColor(rnd *rand.Rand) string {
	hue := rnd.Intn(360)
	saturation := 70 + rnd.Intn(20)
	lightness := 50 + rnd.Intn(20)
	return fmt.Sprintf("hsl(%d, %d%%, %d%%)", hue, saturation, lightness)
}
