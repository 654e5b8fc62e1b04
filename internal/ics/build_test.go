package ics

import (
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"easybook/internal/model"
)

func sample(id, date, start, end string) model.BookingEvent {
	return model.BookingEvent{
		ID: id, ResourceID: "会議室(さくら)", Title: "山田 太郎", Room: "さくら",
		Date: date, StartTime: start, EndTime: end, Color: "#007bff",
	}
}

func TestBuildRoundTrip(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	events := []model.BookingEvent{
		sample("1", "2024-06-03", "09:00", "11:00"),
		sample("2", "2024-06-03", "朝", "昼"),
		sample("3", "someday", "09:00", "10:00"),
		sample("4", "2024/06/04", "23:30", "24:00"),
	}

	res := Build(events, tokyo, "施設予約")
	assert.Equal(t, 2, res.Events)
	assert.Equal(t, 2, res.Skipped)

	cal, err := ical.ParseCalendar(strings.NewReader(res.Body))
	require.NoError(t, err)
	vevents := cal.Events()
	require.Len(t, vevents, 2)

	first := vevents[0]
	assert.Equal(t, "山田 太郎 (さくら)", first.GetProperty(ical.ComponentPropertySummary).Value)
	assert.Equal(t, "さくら", first.GetProperty(ical.ComponentPropertyLocation).Value)
	assert.Equal(t, EventUID(events[0]), first.GetProperty(ical.ComponentPropertyUniqueId).Value)

	start, err := first.GetStartAt()
	require.NoError(t, err)
	assert.True(t, start.Equal(time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)), start)
	end, err := first.GetEndAt()
	require.NoError(t, err)
	assert.True(t, end.Equal(time.Date(2024, 6, 3, 2, 0, 0, 0, time.UTC)), end)

	end, err = vevents[1].GetEndAt()
	require.NoError(t, err)
	assert.True(t, end.Equal(time.Date(2024, 6, 4, 15, 0, 0, 0, time.UTC)), end)
}

func TestEventUIDStable(t *testing.T) {
	a := sample("1", "2024-06-03", "09:00", "11:00")
	b := a
	b.ID = "42"
	assert.Equal(t, EventUID(a), EventUID(b))

	c := a
	c.EndTime = "12:00"
	assert.NotEqual(t, EventUID(a), EventUID(c))
	assert.True(t, strings.HasSuffix(EventUID(a), "@easybook"))
}

func TestEventTimesNilSafeLocation(t *testing.T) {
	res := Build(nil, nil, "")
	assert.Equal(t, 0, res.Events)
	assert.Contains(t, res.Body, "BEGIN:VCALENDAR")
}
