package imv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fieldFromScan builds a field whose scanned cells are cells in row-major
// order. Padding cells are filled with noise that must never be counted.
func fieldFromScan(t *testing.T, width, height int, cells []Cell) *Field {
	t.Helper()
	g, err := NewGeometry(width, height)
	require.NoError(t, err)
	require.Len(t, cells, g.MBX*g.MBY)
	raw := make([]Cell, 0, g.Stride()*g.MBY)
	for j := 0; j < g.MBY; j++ {
		raw = append(raw, cells[j*g.MBX:(j+1)*g.MBX]...)
		raw = append(raw, Cell{X: 100, Y: 100, SAD: 1})
	}
	f, err := ParseField(g, encodeCells(raw), 0)
	require.NoError(t, err)
	return f
}

func TestStatsScenario(t *testing.T) {
	f := fieldFromScan(t, 48, 32, []Cell{
		{3, 0, 100}, {0, 0, 0}, {-2, 1, 50},
		{0, 0, 0}, {4, 0, 90}, {1, -1, 200},
	})
	st := f.Stats()

	// mean(100, 50, 90, 200) = 110
	assert.InDelta(t, 121.0, st.AvgSAD, 1e-9)
	assert.Equal(t, 3, st.GoodCount)
	assert.InDelta(t, 5.0/3.0, st.AvgX, 1e-9)
	assert.InDelta(t, 1.0/3.0, st.AvgY, 1e-9)
}

func TestStatsAllSentinel(t *testing.T) {
	f := fieldFromScan(t, 32, 32, make([]Cell, 4))
	assert.Equal(t, Stats{}, f.Stats())
}

func TestStatsIgnoresStillCellsWithError(t *testing.T) {
	f := fieldFromScan(t, 32, 32, []Cell{
		{0, 0, 1000}, {2, 2, 10},
		{0, 0, 0}, {0, 0, 0},
	})
	st := f.Stats()
	assert.InDelta(t, 11.0, st.AvgSAD, 1e-9)
	assert.Equal(t, 1, st.GoodCount)
	assert.InDelta(t, 2.0, st.AvgX, 1e-9)
}

func TestStatsZeroSADMovingCell(t *testing.T) {
	f := fieldFromScan(t, 32, 16, []Cell{{1, 0, 0}, {-1, 0, 0}})
	st := f.Stats()
	assert.Equal(t, 0.0, st.AvgSAD)
	assert.Equal(t, 2, st.GoodCount)
	assert.Equal(t, 0.0, st.AvgX)
}
