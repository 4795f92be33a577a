package systems

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/crowdflow/config"
)

// AvoidanceParams configures the local avoidance solver.
type AvoidanceParams struct {
	DetectionRadius  float64 // Neighbor query radius
	SeparationWeight float64 // Push magnitude numerator
	Horizon          float64 // Only collisions within this many seconds are acted on
	Padding          float64 // Added to the combined radius
	MinTimeToCollide float64 // Floor on time-to-collision when scaling the push
	MaxNeighbors     int
}

// AvoidanceParamsFromConfig converts config values.
func AvoidanceParamsFromConfig(cfg config.AvoidanceConfig) AvoidanceParams {
	return AvoidanceParams{
		DetectionRadius:  cfg.DetectionRadius,
		SeparationWeight: cfg.SeparationWeight,
		Horizon:          cfg.Horizon,
		Padding:          cfg.Padding,
		MinTimeToCollide: max(cfg.MinTimeToCollide, epsilon),
		MaxNeighbors:     cfg.MaxNeighbors,
	}
}

// Mover is the kinematic state avoidance reasons about.
type Mover struct {
	Pos    r2.Vec
	Vel    r2.Vec
	Radius float64
}

// TimeToCollision solves |p + v·t| = r for the smallest positive t, where p and v
// are the other agent's position and velocity relative to self. ok is false when
// there is no closing motion or the paths never come within r.
func TimeToCollision(p, v r2.Vec, r float64) (t float64, ok bool) {
	a := r2.Dot(v, v)
	if a < epsilon {
		return 0, false
	}
	b := 2 * r2.Dot(p, v)
	c := r2.Dot(p, p) - r*r
	disc := b*b - 4*a*c
	if disc < 0 {
		return 0, false
	}
	sq := math.Sqrt(disc)
	t0 := (-b - sq) / (2 * a)
	t1 := (-b + sq) / (2 * a)
	switch {
	case t0 > 0:
		return t0, true
	case t1 > 0:
		// Already inside r and separating or overlapping
		return t1, true
	}
	return 0, false
}

// AvoidPair returns the velocity adjustment self should make for other.
func AvoidPair(self, other Mover, params AvoidanceParams) r2.Vec {
	p := r2.Sub(other.Pos, self.Pos)
	v := r2.Sub(other.Vel, self.Vel)
	r := self.Radius + other.Radius + params.Padding
	distSq := r2.Dot(p, p)

	if distSq < epsilon {
		// Coincident: no defined direction to separate along
		return r2.Vec{}
	}
	if distSq < r*r {
		// Overlapping: push straight apart at maximum urgency
		push := params.SeparationWeight / params.MinTimeToCollide
		return r2.Scale(-push, unitOrZero(p))
	}

	t, ok := TimeToCollision(p, v, r)
	if !ok || t > params.Horizon {
		return r2.Vec{}
	}

	// Offset of the other agent at closest approach; steer away from it,
	// which is perpendicular to v and the smaller turn.
	tca := -r2.Dot(p, v) / r2.Dot(v, v)
	closest := r2.Add(p, r2.Scale(tca, v))
	side := unitOrZero(r2.Scale(-1, closest))
	if side == (r2.Vec{}) {
		// Dead-on approach; pick the right-hand perpendicular of v
		side = unitOrZero(r2.Vec{X: v.Y, Y: -v.X})
	}

	push := params.SeparationWeight / math.Max(t, params.MinTimeToCollide)
	return r2.Scale(push, side)
}

// Avoider computes avoidance for one agent against a rebuilt neighbor query.
// Each worker owns its Avoider so the scratch buffer is never shared.
type Avoider struct {
	params  AvoidanceParams
	scratch []Neighbor
}

// NewAvoider creates an avoider with a reusable neighbor buffer.
func NewAvoider(params AvoidanceParams) *Avoider {
	return &Avoider{params: params, scratch: make([]Neighbor, 0, MaxQueryResults)}
}

// Params returns the avoider's parameters.
func (a *Avoider) Params() AvoidanceParams { return a.params }

// Compute sums the avoidance contributions of every threatening neighbor of
// movers[self]. The query must index the same slots as movers.
func (a *Avoider) Compute(self int, movers []Mover, query NeighborQuery) r2.Vec {
	me := movers[self]
	a.scratch = query.QueryRadiusInto(a.scratch[:0], me.Pos, a.params.DetectionRadius, self, a.params.MaxNeighbors)

	var total r2.Vec
	for _, n := range a.scratch {
		total = r2.Add(total, AvoidPair(me, movers[n.Index], a.params))
	}
	if !finite(total) {
		return r2.Vec{}
	}
	return total
}
