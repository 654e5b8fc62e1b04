package booking

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultPlaceholderName is used when every name column of a row is blank.
	DefaultPlaceholderName = "予約者不明"
	// DefaultColor is used for resources that have no colour table entry.
	DefaultColor = "#007bff"
)

// FacilityRule binds a canonical facility to the column holding its slot
// text and the keywords that identify it inside a raw room label.
type FacilityRule struct {
	// ID is the canonical resource identity, display name and colour key.
	ID string `yaml:"id" json:"id"`
	// TimeColumn is the row key whose value holds this facility's slot text.
	TimeColumn string `yaml:"time_column" json:"time_column"`
	// Keywords are matched as substrings of the raw room label.
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// Mapping describes how a portal export row is read. Facilities are
// evaluated in order and the first matching rule wins.
type Mapping struct {
	DateColumn  string   `yaml:"date_column" json:"date_column"`
	RoomColumn  string   `yaml:"room_column" json:"room_column"`
	NameColumns []string `yaml:"name_columns" json:"name_columns"`

	// PlaceholderName replaces an empty attendee name.
	PlaceholderName string `yaml:"placeholder_name" json:"placeholder_name"`
	// DefaultColor is used for resource ids missing from the colour table.
	DefaultColor string `yaml:"default_color" json:"default_color"`
	// FallbackTimeColumn, if set, supplies slot text for rooms that match no
	// facility rule. Without it such rooms are skipped.
	FallbackTimeColumn string `yaml:"fallback_time_column,omitempty" json:"fallback_time_column,omitempty"`

	Facilities []FacilityRule `yaml:"facilities" json:"facilities"`
}

// DefaultMapping returns the built-in layout of the reservation portal
// export.
func DefaultMapping() Mapping {
	return Mapping{
		DateColumn: "5:date",
		RoomColumn: "1:checkbox",
		NameColumns: []string{
			"244:lastname",
			"244:firstname",
			"91:lastname",
			"91:firstname",
		},
		PlaceholderName: DefaultPlaceholderName,
		DefaultColor:    DefaultColor,
		Facilities: []FacilityRule{
			{ID: "会議室(さくら)", TimeColumn: "7:checkbox", Keywords: []string{"会議室", "さくら"}},
			{ID: "相談室(スミレ・コスモス)", TimeColumn: "8:checkbox", Keywords: []string{"相談室", "スミレ", "コスモス"}},
			{ID: "テレワークルームA", TimeColumn: "234:checkbox", Keywords: []string{"テレワークルームA"}},
			{ID: "テレワークルームB", TimeColumn: "235:checkbox", Keywords: []string{"テレワークルームB"}},
		},
	}
}

// Normalize fills in the optional presentation defaults.
func (m *Mapping) Normalize() {
	if strings.TrimSpace(m.PlaceholderName) == "" {
		m.PlaceholderName = DefaultPlaceholderName
	}
	if strings.TrimSpace(m.DefaultColor) == "" {
		m.DefaultColor = DefaultColor
	}
}

// Validate checks that the mapping can drive a synthesis run.
func (m Mapping) Validate() error {
	if strings.TrimSpace(m.DateColumn) == "" {
		return errors.New("mapping: empty date column")
	}
	if strings.TrimSpace(m.RoomColumn) == "" {
		return errors.New("mapping: empty room column")
	}
	seen := make(map[string]bool, len(m.Facilities))
	for i, f := range m.Facilities {
		if strings.TrimSpace(f.ID) == "" {
			return fmt.Errorf("mapping: facility %d: empty id", i)
		}
		if seen[f.ID] {
			return fmt.Errorf("mapping: duplicate facility id %q", f.ID)
		}
		seen[f.ID] = true
		if strings.TrimSpace(f.TimeColumn) == "" {
			return fmt.Errorf("mapping: facility %q: empty time column", f.ID)
		}
		if len(f.keywords()) == 0 {
			return fmt.Errorf("mapping: facility %q: no keywords", f.ID)
		}
	}
	return nil
}

// FacilityIDs returns the facility ids in declared order.
func (m Mapping) FacilityIDs() []string {
	ids := make([]string, 0, len(m.Facilities))
	for _, f := range m.Facilities {
		ids = append(ids, f.ID)
	}
	return ids
}

// Clone returns a deep copy so callers can edit without touching a live
// snapshot.
func (m Mapping) Clone() Mapping {
	out := m
	out.NameColumns = append([]string(nil), m.NameColumns...)
	out.Facilities = make([]FacilityRule, len(m.Facilities))
	for i, f := range m.Facilities {
		f.Keywords = append([]string(nil), f.Keywords...)
		out.Facilities[i] = f
	}
	return out
}

func (f FacilityRule) keywords() []string {
	out := make([]string, 0, len(f.Keywords))
	for _, k := range f.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func (f FacilityRule) matches(label string) bool {
	for _, k := range f.keywords() {
		if strings.Contains(label, k) {
			return true
		}
	}
	return false
}

// Match returns the first facility rule with a keyword contained in label.
func (m Mapping) Match(label string) (FacilityRule, bool) {
	for _, f := range m.Facilities {
		if f.matches(label) {
			return f, true
		}
	}
	return FacilityRule{}, false
}

// Resolve maps a raw room label to its canonical facility id. Labels that
// match no rule resolve to themselves.
func Resolve(label string, m Mapping) string {
	if f, ok := m.Match(label); ok {
		return f.ID
	}
	return label
}
