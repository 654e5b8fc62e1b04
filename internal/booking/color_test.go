package booking

import (
	"math/rand"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hslRe = regexp.MustCompile(`^hsl\((\d+), (\d+)%, (\d+)%\)$`)

func TestNewColorTable(t *testing.T) {
	ids := DefaultMapping().FacilityIDs()
	table := NewColorTable(ids, rand.New(rand.NewSource(3)))

	require.Equal(t, len(ids), table.Len())
	for _, id := range ids {
		c, ok := table.Color(id)
		require.True(t, ok, id)
		assert.Regexp(t, hslRe, c)
	}
	_, ok := table.Color("missing")
	assert.False(t, ok)
	assert.Equal(t, "#fff", table.Lookup("missing", "#fff"))
}

func TestRandomColorRanges(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		c := randomColor(rnd)
		m := hslRe.FindStringSubmatch(c)
		require.Len(t, m, 4, c)
		h, _ := strconv.Atoi(m[1])
		s, _ := strconv.Atoi(m[2])
		l, _ := strconv.Atoi(m[3])
		assert.True(t, h >= 0 && h < 360, c)
		assert.True(t, s >= 70 && s < 90, c)
		assert.True(t, l >= 50 && l < 70, c)
	}
}

func TestColorTableDeterministicWithSeed(t *testing.T) {
	ids := []string{"a", "b"}
	a := NewColorTable(ids, rand.New(rand.NewSource(9))).Snapshot()
	b := NewColorTable(ids, rand.New(rand.NewSource(9))).Snapshot()
	assert.Equal(t, a, b)
}

func TestNilColorTable(t *testing.T) {
	var table *ColorTable
	_, ok := table.Color("x")
	assert.False(t, ok)
	assert.Equal(t, 0, table.Len())
	assert.Empty(t, table.Snapshot())
	assert.Equal(t, 2, table.Rekey([]string{"a", "b"}).Len())
}

func TestColorTableRekey(t *testing.T) {
	old := NewColorTable([]string{"Room A", "Room B", "Hall"}, rand.New(rand.NewSource(5)))
	oldColors := old.Snapshot()

	next := old.Rekey([]string{" room a ", "Room B", "Studio"})

	assert.Equal(t, 3, next.Len())
	c, _ := next.Color(" room a ")
	assert.Equal(t, oldColors["Room A"], c, "case-only rename keeps colour")
	c, _ = next.Color("Room B")
	assert.Equal(t, oldColors["Room B"], c, "kept id keeps colour")
	c, ok := next.Color("Studio")
	require.True(t, ok)
	assert.Regexp(t, hslRe, c)
	_, ok = next.Color("Hall")
	assert.False(t, ok, "dropped id is gone")

	// the original table is untouched
	assert.Equal(t, oldColors, old.Snapshot())
}
