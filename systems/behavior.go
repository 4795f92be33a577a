package systems

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"
)

// BehaviorID selects an entry of the behavior table.
type BehaviorID uint8

const (
	BehaviorFlow      BehaviorID = iota // Follow the shared field, seek the exact point at the end
	BehaviorFormation                   // Blend toward a per-agent offset slot near the destination
	BehaviorCautious                    // Slower, with stronger avoidance
	numBehaviors
)

// DirectionInput is everything a behavior may use to pick a heading.
type DirectionInput struct {
	Flow        r2.Vec  // Unit sampled field direction; zero inside goal cells
	Seek        r2.Vec  // Unit vector toward the agent's own destination
	Distance    float64 // Distance to the agent's own destination
	CellSize    float64
	BlendRadius float64 // Formation blend radius
	HasOffset   bool
}

// Behavior is one steering variant: a pure heading function plus weight multipliers.
type Behavior struct {
	Name           string
	Direction      func(in DirectionInput) r2.Vec
	SpeedScale     float64 // Multiplies the agent's max speed
	AvoidanceScale float64 // Multiplies the avoidance contribution
}

var behaviors = [numBehaviors]Behavior{
	BehaviorFlow: {
		Name:           "flow",
		Direction:      flowDirection,
		SpeedScale:     1,
		AvoidanceScale: 1,
	},
	BehaviorFormation: {
		Name:           "formation",
		Direction:      formationDirection,
		SpeedScale:     1,
		AvoidanceScale: 1,
	},
	BehaviorCautious: {
		Name:           "cautious",
		Direction:      flowDirection,
		SpeedScale:     0.6,
		AvoidanceScale: 2,
	},
}

// Behavior returns the table entry for id, falling back to flow.
func (id BehaviorID) Behavior() Behavior {
	if id >= numBehaviors {
		return behaviors[BehaviorFlow]
	}
	return behaviors[id]
}

// Valid reports whether id names a table entry.
func (id BehaviorID) Valid() bool { return id < numBehaviors }

func (id BehaviorID) String() string {
	return id.Behavior().Name
}

// ParseBehavior looks a behavior up by name.
func ParseBehavior(name string) (BehaviorID, error) {
	for i, b := range behaviors {
		if b.Name == name {
			return BehaviorID(i), nil
		}
	}
	return 0, fmt.Errorf("unknown behavior %q", name)
}

// blendToward mixes flow toward seek with weight w in [0, 1].
func blendToward(flow, seek r2.Vec, w float64) r2.Vec {
	if flow == (r2.Vec{}) {
		return seek
	}
	dir := unitOrZero(r2.Add(r2.Scale(1-w, flow), r2.Scale(w, seek)))
	if dir == (r2.Vec{}) {
		return seek
	}
	return dir
}

// flowDirection follows the field and hands over to direct seeking within two cells.
func flowDirection(in DirectionInput) r2.Vec {
	w := clamp01(1 - in.Distance/(2*in.CellSize))
	return blendToward(in.Flow, in.Seek, w)
}

// formationDirection lets the offset slot dominate inside the blend radius.
func formationDirection(in DirectionInput) r2.Vec {
	if !in.HasOffset || in.BlendRadius <= 0 {
		return flowDirection(in)
	}
	w := clamp01(1 - in.Distance/in.BlendRadius)
	return blendToward(in.Flow, in.Seek, w)
}
