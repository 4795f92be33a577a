package systems

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
)

// Field is a solved integration and direction field for one goal key.
// It is immutable once published and shared by every agent using the key.
type Field struct {
	gridShape

	Key         GoalKey
	Goals       []Cell
	GridVersion uint64        // CostGrid version the field was solved against
	SolveTime   time.Duration // Wall time spent integrating and building directions

	integration []uint32
	dirX, dirZ  []float32
}

// Integration returns the distance-to-goal at c, or Unreachable.
func (f *Field) Integration(c Cell) uint32 {
	if !f.InBounds(c) {
		return Unreachable
	}
	return f.integration[f.index(c)]
}

// Reachable reports whether the wavefront reached c.
func (f *Field) Reachable(c Cell) bool {
	return f.Integration(c) != Unreachable
}

// IsGoal reports whether c was a seeded destination.
func (f *Field) IsGoal(c Cell) bool {
	return f.Integration(c) == 0
}

// Direction returns the per-cell flow direction at c.
func (f *Field) Direction(c Cell) r2.Vec {
	if !f.InBounds(c) {
		return r2.Vec{}
	}
	i := f.index(c)
	return r2.Vec{X: float64(f.dirX[i]), Y: float64(f.dirZ[i])}
}

// ReachableCount returns the number of cells with finite integration.
func (f *Field) ReachableCount() int {
	n := 0
	for _, v := range f.integration {
		if v != Unreachable {
			n++
		}
	}
	return n
}

// Sample bilinearly interpolates the direction field at world position p across
// the four enclosing cell centers. Unreachable corners are excluded and the
// remaining weights renormalized. ok is false when no corner is reachable.
func (f *Field) Sample(p r2.Vec) (dir r2.Vec, ok bool) {
	gx := (p.X-f.origin.X)/f.cellSize - 0.5
	gz := (p.Y-f.origin.Y)/f.cellSize - 0.5
	if math.IsNaN(gx) || math.IsNaN(gz) {
		return r2.Vec{}, false
	}

	x0 := math.Floor(gx)
	z0 := math.Floor(gz)
	tx := gx - x0
	tz := gz - z0
	ix := floatToInt(x0)
	iz := floatToInt(z0)

	var sum r2.Vec
	var weight float64
	for _, corner := range [4]struct {
		dx, dz int
		w      float64
	}{
		{0, 0, (1 - tx) * (1 - tz)},
		{1, 0, tx * (1 - tz)},
		{0, 1, (1 - tx) * tz},
		{1, 1, tx * tz},
	} {
		if corner.w <= 0 {
			continue
		}
		c := Cell{
			X: clampInt(ix+corner.dx, 0, f.width-1),
			Z: clampInt(iz+corner.dz, 0, f.height-1),
		}
		i := f.index(c)
		if f.integration[i] == Unreachable {
			continue
		}
		sum.X += corner.w * float64(f.dirX[i])
		sum.Y += corner.w * float64(f.dirZ[i])
		weight += corner.w
	}

	if weight < epsilon {
		return r2.Vec{}, false
	}
	return r2.Scale(1/weight, sum), true
}

// Touches reports whether editing any of cells could change this field:
// an edited cell is a destination, or it or one of its neighbors was reached
// by the wavefront.
func (f *Field) Touches(cells []Cell) bool {
	goals := make(map[Cell]struct{}, len(f.Goals))
	for _, g := range f.Goals {
		goals[g] = struct{}{}
	}
	for _, c := range cells {
		if _, ok := goals[c]; ok {
			return true
		}
		if f.Reachable(c) {
			return true
		}
		for _, off := range neighborOffsets {
			if f.Reachable(Cell{X: c.X + off.dx, Z: c.Z + off.dz}) {
				return true
			}
		}
	}
	return false
}

// IntegrationValues returns a copy of the raw integration array in row-major order.
func (f *Field) IntegrationValues() []uint32 {
	out := make([]uint32, len(f.integration))
	copy(out, f.integration)
	return out
}

// DirectionValues returns copies of the per-cell direction components in row-major order.
func (f *Field) DirectionValues() (x, z []float32) {
	x = make([]float32, len(f.dirX))
	z = make([]float32, len(f.dirZ))
	copy(x, f.dirX)
	copy(z, f.dirZ)
	return x, z
}
