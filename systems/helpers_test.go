package systems

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
)

// newOpenGrid returns a w x h grid of unit cells at the origin, all cost 1.
func newOpenGrid(t *testing.T, w, h int) *CostGrid {
	t.Helper()
	g, err := NewCostGrid(r2.Vec{}, 1, w, h)
	require.NoError(t, err)
	return g
}

// solveFor solves a field for goals over the grid's current costs.
func solveFor(t *testing.T, g *CostGrid, rule CornerRule, goals ...Cell) *Field {
	t.Helper()
	key, cells := KeyFor(goals)
	f, err := NewSolver(FrontierBucket, rule).Solve(context.Background(), g.Snapshot(), key, cells)
	require.NoError(t, err)
	return f
}

// walkField follows per-cell directions from start and returns the visited cells.
func walkField(f *Field, start Cell, maxSteps int) []Cell {
	path := []Cell{start}
	c := start
	for range maxSteps {
		if f.IsGoal(c) {
			break
		}
		d := f.Direction(c)
		if d == (r2.Vec{}) {
			break
		}
		c = Cell{X: c.X + roundUnit(d.X), Z: c.Z + roundUnit(d.Y)}
		path = append(path, c)
	}
	return path
}

func roundUnit(v float64) int {
	switch {
	case v > 0.3:
		return 1
	case v < -0.3:
		return -1
	}
	return 0
}

// blockRect marks cells [x0,x1]x[z0,z1] impassable.
func blockRect(g *CostGrid, x0, z0, x1, z1 int) []Cell {
	return g.MarkRegion(r2.Box{
		Min: r2.Vec{X: float64(x0) + 0.5, Y: float64(z0) + 0.5},
		Max: r2.Vec{X: float64(x1) + 0.5, Y: float64(z1) + 0.5},
	}, CostImpassable)
}
