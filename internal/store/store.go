package store

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"easybook/internal/booking"
	appLog "easybook/internal/log"
	"easybook/internal/model"
	"easybook/internal/source"
)

// ErrNoSnapshot is returned when nothing has been loaded yet.
var ErrNoSnapshot = errors.New("store: no bookings loaded")

// Snapshot is the complete, read-only state produced by one load. Callers
// must not modify anything reachable from it.
type Snapshot struct {
	LoadID   string
	Source   string
	Encoding string
	LoadedAt time.Time

	Mapping booking.Mapping
	Colors  *booking.ColorTable
	Rows    []booking.Row
	Result  booking.Result
	Weeks   []model.Week
}

// Events returns the synthesized events.
func (s *Snapshot) Events() []model.BookingEvent {
	if s == nil {
		return nil
	}
	return s.Result.Events
}

// Loaded reports whether the snapshot came from an actual export.
func (s *Snapshot) Loaded() bool {
	return s != nil && s.Source != ""
}

// Store holds the current snapshot. Each load builds a new snapshot and
// swaps it in whole; a failed load leaves the previous one in place.
type Store struct {
	mu     sync.RWMutex
	cur    *Snapshot
	hooks  []func(*Snapshot)
	hookMu sync.Mutex
}

// New creates a store with an empty snapshot for mapping. rnd seeds the
// colour table and may be nil.
func New(m booking.Mapping, rnd *rand.Rand) (*Store, error) {
	m = m.Clone()
	m.Normalize()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	s := &Store{}
	s.cur = build(m, booking.NewColorTable(m.FacilityIDs(), rnd), nil, "", "")
	return s, nil
}

// OnLoad registers fn to run after every successful load or mapping change.
func (s *Store) OnLoad(fn func(*Snapshot)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Current returns the active snapshot. It is never nil.
func (s *Store) Current() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// LoadBatch synthesizes a parsed export with the active mapping and
// installs the result.
func (s *Store) LoadBatch(b source.Batch) *Snapshot {
	s.mu.Lock()
	prev := s.cur
	next := build(prev.Mapping, prev.Colors, b.Rows, b.Name, b.Encoding)
	s.cur = next
	s.mu.Unlock()

	logLoad(next)
	s.notify(next)
	return next
}

// LoadFile reads, decodes and parses an export file then installs it.
func (s *Store) LoadFile(path, encoding string) (*Snapshot, error) {
	b, err := source.ReadFile(path, encoding)
	if err != nil {
		appLog.Error("load failed; keeping previous bookings", err, "path", path)
		return nil, err
	}
	return s.LoadBatch(b), nil
}

// LoadReader is LoadFile for an uploaded stream.
func (s *Store) LoadReader(r io.Reader, name, encoding string) (*Snapshot, error) {
	b, err := source.Read(r, name, encoding)
	if err != nil {
		appLog.Error("load failed; keeping previous bookings", err, "name", name)
		return nil, err
	}
	return s.LoadBatch(b), nil
}

// SetMapping installs a new mapping, rekeys the colour table and
// re-synthesizes the last loaded rows.
func (s *Store) SetMapping(m booking.Mapping) (*Snapshot, error) {
	m = m.Clone()
	m.Normalize()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	s.mu.Lock()
	prev := s.cur
	colors := prev.Colors.Rekey(m.FacilityIDs())
	next := build(m, colors, prev.Rows, prev.Source, prev.Encoding)
	s.cur = next
	s.mu.Unlock()

	appLog.Info("mapping updated", "facilities", len(m.Facilities), "events", len(next.Result.Events))
	s.notify(next)
	return next, nil
}

func (s *Store) notify(snap *Snapshot) {
	s.hookMu.Lock()
	hooks := append(([]func(*Snapshot))(nil), s.hooks...)
	s.hookMu.Unlock()
	for _, fn := range hooks {
		fn(snap)
	}
}

func build(m booking.Mapping, colors *booking.ColorTable, rows []booking.Row, name, encoding string) *Snapshot {
	res := booking.Synthesize(rows, m, colors)
	return &Snapshot{
		LoadID:   uuid.NewString(),
		Source:   name,
		Encoding: encoding,
		LoadedAt: time.Now(),
		Mapping:  m,
		Colors:   colors,
		Rows:     rows,
		Result:   res,
		Weeks:    booking.GroupWeeks(res.Events),
	}
}

func logLoad(snap *Snapshot) {
	st := snap.Result.Stats
	appLog.Info("bookings loaded",
		"load_id", snap.LoadID,
		"source", snap.Source,
		"encoding", snap.Encoding,
		"rows", st.Rows,
		"rows_skipped", st.RowsSkipped,
		"rooms_skipped", st.RoomsSkipped,
		"segments_rejected", st.Segments,
		"unresolved_rooms", st.Unresolved,
		"events", st.Events,
		"weeks", len(snap.Weeks),
	)
	for _, sk := range snap.Result.Skips {
		appLog.Debug("skipped", "row", sk.Row, "room", sk.Room, "segment", sk.Segment, "reason", string(sk.Reason))
	}
}
