package systems

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// epsilon is the tolerance used for near-zero vector and quadratic tests.
const epsilon = 1e-9

// clamp01 clamps a value to the [0, 1] range.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// clampInt clamps an int between minVal and maxVal.
func clampInt(v, minVal, maxVal int) int {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}

// unitOrZero returns v scaled to length 1, or the zero vector when v is
// too short to carry a direction.
func unitOrZero(v r2.Vec) r2.Vec {
	n := r2.Norm(v)
	if n < epsilon {
		return r2.Vec{}
	}
	return r2.Scale(1/n, v)
}

// clampLength limits the length of v to maxLen.
func clampLength(v r2.Vec, maxLen float64) r2.Vec {
	n := r2.Norm(v)
	if n <= maxLen || n < epsilon {
		return v
	}
	return r2.Scale(maxLen/n, v)
}

// finite reports whether both components are finite numbers.
func finite(v r2.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) && !math.IsNaN(v.Y) && !math.IsInf(v.Y, 0)
}

// distance returns the Euclidean distance between two points.
func distance(a, b r2.Vec) float64 {
	return r2.Norm(r2.Sub(a, b))
}
