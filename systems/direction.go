package systems

import "math"

// neighborUnit holds the normalized direction to each entry of neighborOffsets.
var neighborUnit = func() (units [8][2]float32) {
	for i, off := range neighborOffsets {
		l := math.Hypot(float64(off.dx), float64(off.dz))
		units[i] = [2]float32{float32(float64(off.dx) / l), float32(float64(off.dz) / l)}
	}
	return units
}()

// BuildDirections derives the flow direction for every cell from an integration field.
// Each reachable non-goal cell points at its lowest-integration neighbor; ties keep
// the first in enumeration order. Goal, impassable and unreachable cells get zero.
func BuildDirections(view *CostView, integration []uint32, rule CornerRule) (dirX, dirZ []float32) {
	dirX = make([]float32, len(integration))
	dirZ = make([]float32, len(integration))

	for idx, own := range integration {
		if own == Unreachable || own == 0 {
			continue
		}
		c := view.cellAt(idx)
		best, bestN := own, -1
		for i, off := range neighborOffsets {
			n := Cell{X: c.X + off.dx, Z: c.Z + off.dz}
			if !view.IsWalkable(n) {
				continue
			}
			if off.diagonal && !diagonalAllowed(view, c, off.dx, off.dz, rule) {
				continue
			}
			if v := integration[view.index(n)]; v < best {
				best, bestN = v, i
			}
		}
		if bestN >= 0 {
			dirX[idx] = neighborUnit[bestN][0]
			dirZ[idx] = neighborUnit[bestN][1]
		}
	}
	return dirX, dirZ
}
