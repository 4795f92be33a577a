package sim

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/crowdflow/components"
	"github.com/pthm-cable/crowdflow/systems"
	"github.com/pthm-cable/crowdflow/telemetry"
)

// AgentState is a copy of one agent's externally visible state.
type AgentState struct {
	ID          components.AgentID
	Position    r2.Vec
	Velocity    r2.Vec
	Radius      float64
	Key         systems.GoalKey // empty when idle
	Destination r2.Vec
	Behavior    systems.BehaviorID
	Tier        systems.Tier
	Blocked     bool
	Arrived     bool
}

func (s *Sim) agentState(e ecs.Entity) AgentState {
	agent, pos, vel, body, st, nav, lod := s.agentMapper.Get(e)
	return stateOf(agent, pos, vel, body, st, nav, lod)
}

func stateOf(agent *components.Agent, pos *components.Position, vel *components.Velocity,
	body *components.Body, st *components.Steering, nav *components.Nav, lod *components.LOD) AgentState {
	out := AgentState{
		ID:       agent.ID,
		Position: pos.Vec(),
		Velocity: vel.Vec(),
		Radius:   body.Radius,
		Key:      systems.GoalKey(nav.Key),
		Behavior: systems.BehaviorID(nav.Behavior),
		Tier:     systems.Tier(lod.Tier),
		Blocked:  st.Blocked,
		Arrived:  st.Arrived,
	}
	if nav.Active() {
		out.Destination = nav.Destination()
	}
	return out
}

// Agent returns a copy of one agent's state.
func (s *Sim) Agent(id components.AgentID) (AgentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return AgentState{}, fmt.Errorf("agent %d: %w", id, ErrUnknownAgent)
	}
	return s.agentState(e), nil
}

// Blocked reports whether the agent has gone without guidance for longer than
// the blocked grace period.
func (s *Sim) Blocked(id components.AgentID) (bool, error) {
	st, err := s.Agent(id)
	return st.Blocked, err
}

// Agents appends a copy of every agent's state to dst, ordered by ID.
func (s *Sim) Agents(dst []AgentState) []AgentState {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := len(dst)
	query := s.agentFilter.Query()
	for query.Next() {
		dst = append(dst, stateOf(query.Get()))
	}
	slices.SortFunc(dst[start:], func(a, b AgentState) int { return cmp.Compare(a.ID, b.ID) })
	return dst
}

// Grid returns a read-only view of the current costs.
func (s *Sim) Grid() *systems.CostView {
	return s.grid.Snapshot()
}

// Field returns the cached field for key without solving or touching recency.
// Fields are immutable.
func (s *Sim) Field(key systems.GoalKey) (*systems.Field, bool) {
	return s.cache.Peek(key)
}

// CacheStats returns the field cache counters.
func (s *Sim) CacheStats() systems.CacheStats {
	return s.cache.Stats()
}

// CachedFields returns the number of fields in the cache.
func (s *Sim) CachedFields() int {
	return s.cache.Len()
}

// Perf returns tick timing over the current perf window.
func (s *Sim) Perf() telemetry.PerfStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perf.Stats()
}

// ViewFocus returns the viewer focus used for LOD tiers.
func (s *Sim) ViewFocus() r2.Vec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera.Focus()
}
