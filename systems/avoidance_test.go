package systems

import (
	"math"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
)

var testAvoidance = AvoidanceParams{
	DetectionRadius:  10,
	SeparationWeight: 2,
	Horizon:          3,
	Padding:          0.1,
	MinTimeToCollide: 0.05,
	MaxNeighbors:     16,
}

func TestTimeToCollision(t *testing.T) {
	tests := []struct {
		name   string
		p, v   r2.Vec
		r      float64
		want   float64
		wantOK bool
	}{
		{"head on", r2.Vec{X: 10}, r2.Vec{X: -2}, 1, 4.5, true},
		{"receding", r2.Vec{X: 10}, r2.Vec{X: 2}, 1, 0, false},
		{"parallel miss", r2.Vec{X: 10, Y: 3}, r2.Vec{X: -2}, 1, 0, false},
		{"no relative motion", r2.Vec{X: 2}, r2.Vec{}, 1, 0, false},
		{"grazing", r2.Vec{X: 10, Y: 1}, r2.Vec{X: -1}, 1, 10, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := TimeToCollision(tc.p, tc.v, tc.r)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.InDelta(t, tc.want, got, 1e-6)
			}
		})
	}
}

func TestAvoidPairDegenerateCases(t *testing.T) {
	self := Mover{Pos: r2.Vec{X: 1, Y: 1}, Radius: 0.5}

	coincident := AvoidPair(self, Mover{Pos: self.Pos, Radius: 0.5}, testAvoidance)
	assert.Equal(t, r2.Vec{}, coincident)

	still := AvoidPair(self, Mover{Pos: r2.Vec{X: 5, Y: 1}, Radius: 0.5}, testAvoidance)
	assert.Equal(t, r2.Vec{}, still, "no relative velocity means no threat")

	far := AvoidPair(
		Mover{Pos: r2.Vec{}, Vel: r2.Vec{X: 1}, Radius: 0.5},
		Mover{Pos: r2.Vec{X: 100}, Vel: r2.Vec{X: -1}, Radius: 0.5},
		testAvoidance)
	assert.Equal(t, r2.Vec{}, far, "collisions beyond the horizon are ignored")

	overlap := AvoidPair(self, Mover{Pos: r2.Vec{X: 1.5, Y: 1}, Radius: 0.5}, testAvoidance)
	assert.Less(t, overlap.X, 0.0, "overlapping agents are pushed apart")
	assert.True(t, finite(overlap))
}

func TestAvoidPairSidesAreOpposite(t *testing.T) {
	a := Mover{Pos: r2.Vec{X: 0, Y: 0.2}, Vel: r2.Vec{X: 1}, Radius: 0.5}
	b := Mover{Pos: r2.Vec{X: 4, Y: 0}, Vel: r2.Vec{X: -1}, Radius: 0.5}

	pa := AvoidPair(a, b, testAvoidance)
	pb := AvoidPair(b, a, testAvoidance)
	assert.Greater(t, pa.Y, 0.0, "a is above b and passes above")
	assert.Less(t, pb.Y, 0.0)
	assert.InDelta(t, 0, r2.Dot(pa, r2.Sub(b.Vel, a.Vel)), 1e-9, "push is perpendicular to relative velocity")
}

// simulatePair runs two agents with fixed preferred velocities under avoidance
// and returns the minimum center distance seen.
func simulatePair(t *testing.T, p0, v0, p1, v1 r2.Vec, maxSpeed float64) float64 {
	t.Helper()
	const dt = 0.02
	movers := []Mover{{Pos: p0, Vel: v0, Radius: 0.5}, {Pos: p1, Vel: v1, Radius: 0.5}}
	preferred := []r2.Vec{v0, v1}
	avoider := NewAvoider(testAvoidance)

	minSep := math.Inf(1)
	for range 1000 {
		query := BruteForce{Positions: []r2.Vec{movers[0].Pos, movers[1].Pos}}
		next := make([]r2.Vec, 2)
		for i := range movers {
			push := avoider.Compute(i, movers, query)
			next[i] = clampLength(r2.Add(preferred[i], push), maxSpeed)
			require.True(t, finite(next[i]), "non-finite velocity")
		}
		for i := range movers {
			movers[i].Vel = next[i]
			movers[i].Pos = r2.Add(movers[i].Pos, r2.Scale(dt, next[i]))
		}
		minSep = math.Min(minSep, distance(movers[0].Pos, movers[1].Pos))
	}
	return minSep
}

func TestAvoidanceKeepsSeparation(t *testing.T) {
	const combined = 1.0
	for _, angle := range []float64{180, 150, 135, 90, 60, 45} {
		for _, speed := range []float64{0.8, 1.0, 1.5} {
			rad := angle * math.Pi / 180
			// Both reach the origin at t=6 if nothing intervenes
			v0 := r2.Vec{X: speed}
			v1 := r2.Vec{X: speed * math.Cos(rad), Y: speed * math.Sin(rad)}
			p0 := r2.Scale(-6, v0)
			p1 := r2.Scale(-6, v1)

			minSep := simulatePair(t, p0, v0, p1, v1, 2)
			assert.GreaterOrEqual(t, minSep, combined-0.05,
				"angle %.0f speed %.1f: agents came within %.3f", angle, speed, minSep)
		}
	}
}

func TestSpatialHashMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	positions := make([]r2.Vec, 400)
	for i := range positions {
		positions[i] = r2.Vec{X: rng.Float64() * 60, Y: rng.Float64() * 40}
	}

	hash := NewSpatialHash(r2.Vec{}, 60, 40, 4)
	hash.Rebuild(positions)
	brute := BruteForce{Positions: positions}

	for q := 0; q < 50; q++ {
		self := rng.IntN(len(positions))
		got := hash.QueryRadiusInto(nil, positions[self], 4, self, MaxQueryResults)
		want := brute.QueryRadiusInto(nil, positions[self], 4, self, MaxQueryResults)
		require.Less(t, len(want), MaxQueryResults)
		assert.Equal(t, neighborIndices(want), neighborIndices(got))
		for _, n := range got {
			assert.InDelta(t, r2.Dot(n.Delta, n.Delta), n.DistSq, 1e-9)
			assert.NotEqual(t, self, n.Index)
		}
	}
}

func TestSpatialHashLimitAndClamp(t *testing.T) {
	positions := make([]r2.Vec, 50)
	for i := range positions {
		positions[i] = r2.Vec{X: -5, Y: -5} // outside the area, clamped to the corner cell
	}
	hash := NewSpatialHash(r2.Vec{}, 10, 10, 2)
	hash.Rebuild(positions)

	got := hash.QueryRadiusInto(nil, r2.Vec{X: -5, Y: -5}, 1, -1, 8)
	assert.Len(t, got, 8)

	hash.Clear()
	assert.Empty(t, hash.QueryRadiusInto(nil, r2.Vec{}, 100, -1, 0))
}

func neighborIndices(ns []Neighbor) []int {
	out := make([]int, len(ns))
	for i, n := range ns {
		out[i] = n.Index
	}
	sort.Ints(out)
	return out
}
