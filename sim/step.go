package sim

import (
	"context"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/crowdflow/components"
	"github.com/pthm-cable/crowdflow/systems"
	"github.com/pthm-cable/crowdflow/telemetry"
)

// Step runs one simulation tick: scheduled events fire, the neighbor index is
// rebuilt, the scaling controller picks the agents due this tick, their fields
// are resolved, and each picked agent gets a new velocity. Agents not picked
// keep their last velocity. Positions are left to the kinematic owner
// (Advance, or an external owner calling SetPosition).
//
// A cancelled context aborts the tick before any agent state is written.
func (s *Sim) Step(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dt := s.cfg.Steering.DT
	p := s.parallel

	s.perf.StartTick()

	s.perf.StartPhase(telemetry.PhaseEvents)
	s.processEvents()

	s.perf.StartPhase(telemetry.PhaseSpatial)
	s.snapshotAgents()
	query := s.neighborQuery()

	s.perf.StartPhase(telemetry.PhaseSelect)
	p.lod = p.lod[:0]
	for i := range p.snapshots {
		snap := &p.snapshots[i]
		p.lod = append(p.lod, systems.LODInput{
			Distance:   s.camera.DistanceTo(snap.Pos),
			LastUpdate: snap.LOD.LastUpdate,
		})
	}
	p.selections = s.scaler.Select(s.tick, p.lod, p.selections[:0])

	s.perf.StartPhase(telemetry.PhaseResolve)
	if err := s.resolveFields(ctx); err != nil {
		s.perf.EndTick()
		return err
	}

	s.perf.StartPhase(telemetry.PhaseSteer)
	if err := s.computeSteering(ctx, query, dt); err != nil {
		s.perf.EndTick()
		return err
	}

	s.perf.StartPhase(telemetry.PhaseApply)
	s.applyIntents()

	s.perf.EndTick()
	s.tick++
	s.flushTelemetry()
	return nil
}

// snapshotAgents copies every agent's state into the snapshot buffers.
// Snapshot slots double as neighbor-index and mover slots.
func (s *Sim) snapshotAgents() {
	p := s.parallel
	p.snapshots = p.snapshots[:0]
	p.positions = p.positions[:0]
	p.movers = p.movers[:0]

	query := s.agentFilter.Query()
	for query.Next() {
		agent, pos, vel, body, st, nav, lod := query.Get()
		snap := agentSnapshot{
			Entity:   query.Entity(),
			ID:       agent.ID,
			Pos:      pos.Vec(),
			Vel:      vel.Vec(),
			Body:     *body,
			Nav:      *nav,
			Steering: *st,
			LOD:      *lod,
		}
		p.snapshots = append(p.snapshots, snap)
		p.positions = append(p.positions, snap.Pos)
		p.movers = append(p.movers, systems.Mover{Pos: snap.Pos, Vel: snap.Vel, Radius: body.Radius})
	}
}

// neighborQuery returns an index over the current snapshot. Small crowds use
// an all-pairs scan; larger ones rebuild the spatial hash.
func (s *Sim) neighborQuery() systems.NeighborQuery {
	p := s.parallel
	if len(p.positions) <= s.cfg.Avoidance.NaiveScanLimit {
		return systems.BruteForce{Positions: p.positions}
	}
	s.hash.Rebuild(p.positions)
	return s.hash
}

// resolveFields looks up the field of every selected agent with a
// destination. Each key is fetched once per tick.
func (s *Sim) resolveFields(ctx context.Context) error {
	p := s.parallel
	if cap(p.fields) < len(p.selections) {
		p.fields = make([]*systems.Field, len(p.selections))
	}
	p.fields = p.fields[:len(p.selections)]

	resolved := make(map[string]*systems.Field)
	for i, sel := range p.selections {
		nav := &p.snapshots[sel.Index].Nav
		if !nav.Active() {
			p.fields[i] = nil
			continue
		}
		f, ok := resolved[nav.Key]
		if !ok {
			var err error
			f, err = s.cache.GetOrSolve(ctx, systems.GoalKey(nav.Key))
			if err != nil {
				return fmt.Errorf("resolving field %s: %w", nav.Key, err)
			}
			resolved[nav.Key] = f
		}
		p.fields[i] = f
	}
	return nil
}

// applyIntents writes computed results back to the ECS components.
func (s *Sim) applyIntents() {
	p := s.parallel
	for i, sel := range p.selections {
		snap := &p.snapshots[sel.Index]
		in := &p.intents[i]

		_, _, vel, _, st, _, lod := s.agentMapper.Get(snap.Entity)
		s.recordTransitions(snap, *st, in.Steering)

		vel.X, vel.Y = in.Vel.X, in.Vel.Y
		*st = in.Steering
		lod.Tier = uint8(sel.Tier)
		lod.LastUpdate = s.tick
	}
	s.collector.RecordUpdates(len(p.selections))
}

func (s *Sim) recordTransitions(snap *agentSnapshot, prev, next components.Steering) {
	if next.Blocked && !prev.Blocked {
		s.collector.RecordBlocked()
		slog.Debug("agent blocked",
			"tick", s.tick,
			"agent", snap.ID,
			"goal_key", snap.Nav.Key,
			"x", snap.Pos.X,
			"z", snap.Pos.Y,
		)
	}
	if next.Arrived && !prev.Arrived {
		s.collector.RecordArrival()
	}
}

// ComputeVelocity runs the steering unit for a single agent outside the
// batched step, against the current positions of every other agent. The new
// velocity and steering state are stored and returned, and the agent is not
// due again until its tier divisor has elapsed.
func (s *Sim) ComputeVelocity(ctx context.Context, id components.AgentID, dt float64) (r2.Vec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return r2.Vec{}, fmt.Errorf("compute velocity %d: %w", id, ErrUnknownAgent)
	}

	s.snapshotAgents()
	p := s.parallel
	self := -1
	for i := range p.snapshots {
		if p.snapshots[i].Entity == e {
			self = i
			break
		}
	}
	if self < 0 {
		return r2.Vec{}, fmt.Errorf("compute velocity %d: %w", id, ErrUnknownAgent)
	}
	snap := &p.snapshots[self]

	var field *systems.Field
	if snap.Nav.Active() {
		var err error
		field, err = s.cache.GetOrSolve(ctx, systems.GoalKey(snap.Nav.Key))
		if err != nil {
			return r2.Vec{}, fmt.Errorf("resolving field %s: %w", snap.Nav.Key, err)
		}
	}

	tier := s.scaler.TierFor(s.camera.DistanceTo(snap.Pos))
	var avoid r2.Vec
	if field != nil && tier != systems.TierFar {
		avoid = p.avoiders[0].Compute(self, p.movers, s.neighborQuery())
	}

	st := snap.Steering
	out := systems.Steer(s.steering, systems.SteerInput{
		Position:  snap.Pos,
		Velocity:  snap.Vel,
		Field:     field,
		Nav:       snap.Nav,
		Body:      snap.Body,
		Avoidance: avoid,
	}, &st, dt)

	_, _, vel, _, live, _, lod := s.agentMapper.Get(e)
	s.recordTransitions(snap, *live, st)
	vel.X, vel.Y = out.X, out.Y
	*live = st
	// Counts as this tick's update so Step does not steer the agent again
	lod.Tier = uint8(tier)
	lod.LastUpdate = s.tick
	return out, nil
}

// Advance integrates every agent's velocity into its position over dt,
// keeping agents inside the grid. It is the default kinematic owner; hosts
// with their own physics call SetPosition instead.
func (s *Sim) Advance(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lo := s.grid.Origin()
	hi := r2.Add(lo, r2.Vec{
		X: float64(s.grid.Width()) * s.grid.CellSize(),
		Y: float64(s.grid.Height()) * s.grid.CellSize(),
	})

	query := s.agentFilter.Query()
	for query.Next() {
		_, pos, vel, _, _, _, _ := query.Get()
		pos.X = min(max(pos.X+vel.X*dt, lo.X), hi.X)
		pos.Y = min(max(pos.Y+vel.Y*dt, lo.Y), hi.Y)
	}
}
