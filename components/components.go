// Package components defines ECS components for the crowd simulation.
package components

import "gonum.org/v1/gonum/spatial/r2"

// AgentID is the stable external identifier of an agent.
// ECS entities are recycled; IDs never are.
type AgentID uint64

// Agent tags an entity as a steered agent.
type Agent struct {
	ID AgentID
}

// Nav holds the agent's current destination.
type Nav struct {
	Key      string // Goal key of the shared field; empty when idle
	Target   r2.Vec // World point the field was requested around
	Offset   r2.Vec // Formation offset added to Target
	Behavior uint8  // Index into the behavior table
}

// Active reports whether the agent has a destination.
func (n *Nav) Active() bool { return n.Key != "" }

// Destination returns the agent's own final point.
func (n *Nav) Destination() r2.Vec { return r2.Add(n.Target, n.Offset) }

// Steering holds per-agent smoothing and guidance state.
type Steering struct {
	Rate       r2.Vec  // Critical damping filter velocity
	NoGuidance float64 // Seconds since the field last offered a direction
	Blocked    bool    // No guidance for longer than the grace period
	Arrived    bool    // Within stopping distance of the destination
}

// Reset clears the steering state for a new destination.
func (s *Steering) Reset() {
	*s = Steering{}
}

// LOD holds the agent's update-frequency bookkeeping.
type LOD struct {
	Tier       uint8 // Last assigned tier
	LastUpdate int64 // Tick of the last steering update; -1 before the first
}
