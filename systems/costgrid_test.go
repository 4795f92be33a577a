package systems

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
)

func TestNewCostGridRejectsBadShape(t *testing.T) {
	tests := []struct {
		name     string
		cellSize float64
		w, h     int
		want     error
	}{
		{"zero cell size", 0, 4, 4, ErrInvalidCellSize},
		{"negative cell size", -2, 4, 4, ErrInvalidCellSize},
		{"NaN cell size", math.NaN(), 4, 4, ErrInvalidCellSize},
		{"zero width", 1, 0, 4, ErrEmptyGrid},
		{"negative height", 1, 4, -1, ErrEmptyGrid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCostGrid(r2.Vec{}, tc.cellSize, tc.w, tc.h)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestWorldCellConversionClamps(t *testing.T) {
	g, err := NewCostGrid(r2.Vec{X: 10, Y: -5}, 2, 8, 4)
	require.NoError(t, err)

	assert.Equal(t, Cell{X: 0, Z: 0}, g.WorldToCell(r2.Vec{X: 10, Y: -5}))
	assert.Equal(t, Cell{X: 2, Z: 1}, g.WorldToCell(r2.Vec{X: 15.9, Y: -2.5}))
	assert.Equal(t, Cell{X: 0, Z: 0}, g.WorldToCell(r2.Vec{X: -100, Y: -100}), "below range clamps to first cell")
	assert.Equal(t, Cell{X: 7, Z: 3}, g.WorldToCell(r2.Vec{X: 1e9, Y: 1e9}), "above range clamps to last cell")
	assert.Equal(t, Cell{X: 0, Z: 0}, g.WorldToCell(r2.Vec{X: math.NaN(), Y: math.NaN()}))

	assert.Equal(t, r2.Vec{X: 11, Y: -4}, g.CellToWorld(Cell{X: 0, Z: 0}))
	assert.Equal(t, r2.Vec{X: 25, Y: 2}, g.CellToWorld(Cell{X: 7, Z: 3}))
	assert.Equal(t, g.CellToWorld(Cell{X: 7, Z: 3}), g.CellToWorld(Cell{X: 50, Z: 50}))

	// Round trip through cell centers
	for z := 0; z < g.Height(); z++ {
		for x := 0; x < g.Width(); x++ {
			c := Cell{X: x, Z: z}
			assert.Equal(t, c, g.WorldToCell(g.CellToWorld(c)))
		}
	}
}

func TestMarkRegionUsesCellCenters(t *testing.T) {
	g := newOpenGrid(t, 10, 10)

	// Centers at 2.5 and 3.5 lie inside [2.5, 3.9]; 4.5 does not.
	affected := g.MarkRegion(r2.Box{Min: r2.Vec{X: 2.5, Y: 2.5}, Max: r2.Vec{X: 3.9, Y: 2.6}}, CostImpassable)
	assert.ElementsMatch(t, []Cell{{2, 2}, {3, 2}}, affected)
	assert.False(t, g.IsWalkable(Cell{2, 2}))
	assert.False(t, g.IsWalkable(Cell{3, 2}))
	assert.True(t, g.IsWalkable(Cell{4, 2}))
	assert.True(t, g.IsWalkable(Cell{2, 3}))

	// Inverted bounds are normalized
	affected = g.MarkRegion(r2.Box{Min: r2.Vec{X: 6, Y: 6}, Max: r2.Vec{X: 5, Y: 5}}, 4)
	assert.ElementsMatch(t, []Cell{{5, 5}}, affected)
	assert.Equal(t, uint8(4), g.Cost(Cell{5, 5}))

	// A box between centers touches nothing
	assert.Empty(t, g.MarkRegion(r2.Box{Min: r2.Vec{X: 7.6, Y: 7.6}, Max: r2.Vec{X: 8.4, Y: 8.4}}, CostImpassable))

	// Out-of-range boxes are clipped
	affected = g.MarkRegion(r2.Box{Min: r2.Vec{X: -50, Y: 9}, Max: r2.Vec{X: 0.5, Y: 50}}, CostImpassable)
	assert.ElementsMatch(t, []Cell{{0, 9}}, affected)
}

func TestCostGridVersionAndSnapshot(t *testing.T) {
	g := newOpenGrid(t, 4, 4)
	v0 := g.Version()

	view := g.Snapshot()
	g.SetCost(Cell{1, 1}, CostImpassable)
	assert.Greater(t, g.Version(), v0)

	assert.True(t, view.IsWalkable(Cell{1, 1}), "snapshots do not see later edits")
	assert.Equal(t, v0, view.Version())
	assert.False(t, g.IsWalkable(Cell{1, 1}))

	assert.Equal(t, CostImpassable, g.Cost(Cell{-1, 0}), "out of bounds is impassable")
	g.SetCost(Cell{9, 9}, 3) // ignored
	assert.Equal(t, CostImpassable, g.Cost(Cell{9, 9}))
}

func TestSnapToWalkable(t *testing.T) {
	g := newOpenGrid(t, 9, 9)
	blockRect(g, 2, 2, 6, 6)
	g.SetCost(Cell{7, 4}, CostImpassable)

	view := g.Snapshot()
	got, ok := view.SnapToWalkable(Cell{4, 4}, 5)
	require.True(t, ok)
	assert.Equal(t, 9, (got.X-4)*(got.X-4)+(got.Z-4)*(got.Z-4), "nearest ring with an open cell is 3 away")

	open, ok := view.SnapToWalkable(Cell{0, 0}, 3)
	assert.True(t, ok)
	assert.Equal(t, Cell{0, 0}, open)

	g.Fill(CostImpassable)
	_, ok = g.Snapshot().SnapToWalkable(Cell{4, 4}, 10)
	assert.False(t, ok)
}
