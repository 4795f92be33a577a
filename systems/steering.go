package systems

import (
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/crowdflow/components"
	"github.com/pthm-cable/crowdflow/config"
)

// arrivalTolerance is added to the stopping distance when testing for arrival,
// since the linear ramp approaches it asymptotically.
const arrivalTolerance = 0.02

// SteeringParams configures the agent steering unit.
type SteeringParams struct {
	DampingTime          float64
	SlowdownRadius       float64
	StoppingDistance     float64
	BlockedGrace         float64
	FormationBlendRadius float64
}

// SteeringParamsFromConfig converts config values.
func SteeringParamsFromConfig(cfg config.SteeringConfig) SteeringParams {
	return SteeringParams{
		DampingTime:          cfg.DampingTime,
		SlowdownRadius:       cfg.SlowdownRadius,
		StoppingDistance:     cfg.StoppingDistance,
		BlockedGrace:         cfg.BlockedGrace,
		FormationBlendRadius: cfg.FormationBlendRadius,
	}
}

// arrivalRamp scales speed linearly from 1 at the slowdown radius to 0 at the stopping distance.
func (p SteeringParams) arrivalRamp(dist float64) float64 {
	span := p.SlowdownRadius - p.StoppingDistance
	if span <= 0 {
		return 1
	}
	return clamp01((dist - p.StoppingDistance) / span)
}

// SteerInput is one agent's view of the world for a steering update.
type SteerInput struct {
	Position  r2.Vec
	Velocity  r2.Vec
	Field     *Field // nil when the agent has no destination
	Nav       components.Nav
	Body      components.Body
	Avoidance r2.Vec // Summed local avoidance, before behavior scaling
}

// Steer computes the agent's next velocity and updates its steering state.
// The result is always finite and no longer than the body's max speed.
func Steer(p SteeringParams, in SteerInput, st *components.Steering, dt float64) r2.Vec {
	var desired r2.Vec
	limit := in.Body.MaxSpeed

	if in.Field == nil || !in.Nav.Active() {
		st.NoGuidance = 0
		st.Blocked = false
		st.Arrived = false
	} else {
		beh := BehaviorID(in.Nav.Behavior).Behavior()
		toDest := r2.Sub(in.Nav.Destination(), in.Position)
		dist := r2.Norm(toDest)

		sample, ok := in.Field.Sample(in.Position)
		if !ok {
			st.NoGuidance += dt
			if st.NoGuidance >= p.BlockedGrace {
				st.Blocked = true
			}
			st.Arrived = false
		} else {
			st.NoGuidance = 0
			st.Blocked = false

			if dist <= p.StoppingDistance+arrivalTolerance {
				st.Arrived = true
				st.Rate = r2.Vec{}
				return r2.Vec{}
			}
			st.Arrived = false

			dir := beh.Direction(DirectionInput{
				Flow:        unitOrZero(sample),
				Seek:        unitOrZero(toDest),
				Distance:    dist,
				CellSize:    in.Field.CellSize(),
				BlendRadius: p.FormationBlendRadius,
				HasOffset:   in.Nav.Offset != (r2.Vec{}),
			})
			speed := in.Body.MaxSpeed * beh.SpeedScale * p.arrivalRamp(dist)
			avoid := r2.Scale(beh.AvoidanceScale, in.Avoidance)
			desired = r2.Add(r2.Scale(speed, dir), avoid)
			limit = min(limit, speed+r2.Norm(avoid))
		}
	}

	out, rate := SmoothDamp(in.Velocity, desired, st.Rate, p.DampingTime, dt)
	out = clampLength(out, limit)
	if !finite(out) || !finite(rate) {
		st.Rate = r2.Vec{}
		return r2.Vec{}
	}
	st.Rate = rate
	return out
}
