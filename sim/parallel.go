package sim

import (
	"context"
	"runtime"

	"github.com/mlange-42/ark/ecs"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/crowdflow/components"
	"github.com/pthm-cable/crowdflow/systems"
)

// agentSnapshot captures read-only state for the compute phase.
type agentSnapshot struct {
	Entity   ecs.Entity
	ID       components.AgentID
	Pos      r2.Vec
	Vel      r2.Vec
	Body     components.Body
	Nav      components.Nav
	Steering components.Steering
	LOD      components.LOD
}

// intent captures computed outputs to apply after the compute phase.
type intent struct {
	Vel      r2.Vec
	Steering components.Steering
}

// parallelState holds per-tick buffers reused across steps.
type parallelState struct {
	snapshots  []agentSnapshot
	positions  []r2.Vec
	movers     []systems.Mover
	lod        []systems.LODInput
	selections []systems.Selection
	fields     []*systems.Field // per selection; nil when the agent is idle
	intents    []intent         // per selection

	// One avoider per worker; each owns its neighbor buffer.
	avoiders  []*systems.Avoider
	workers   int
	threshold int
}

func newParallelState(workers, threshold int, params systems.AvoidanceParams) *parallelState {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	avoiders := make([]*systems.Avoider, workers)
	for i := range avoiders {
		avoiders[i] = systems.NewAvoider(params)
	}
	return &parallelState{
		avoiders:   avoiders,
		workers:    workers,
		threshold:  threshold,
		snapshots:  make([]agentSnapshot, 0, 512),
		positions:  make([]r2.Vec, 0, 512),
		movers:     make([]systems.Mover, 0, 512),
		lod:        make([]systems.LODInput, 0, 512),
		selections: make([]systems.Selection, 0, 512),
	}
}

// computeSteering runs the steering unit for every selected agent. Below the
// threshold it stays on the calling goroutine; above it the selections are
// split into one contiguous chunk per worker.
func (s *Sim) computeSteering(ctx context.Context, query systems.NeighborQuery, dt float64) error {
	p := s.parallel
	n := len(p.selections)
	if cap(p.intents) < n {
		p.intents = make([]intent, n)
	}
	p.intents = p.intents[:n]
	if n == 0 {
		return nil
	}

	if n < p.threshold || p.workers == 1 {
		s.computeChunk(0, n, p.avoiders[0], query, dt)
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	chunkSize := (n + p.workers - 1) / p.workers
	for w := 0; w < p.workers; w++ {
		start := w * chunkSize
		end := min(start+chunkSize, n)
		if start >= end {
			break
		}
		avoider := p.avoiders[w]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.computeChunk(start, end, avoider, query, dt)
			return nil
		})
	}
	return g.Wait()
}

// computeChunk steers selections [i0, i1). It only reads snapshots and fields
// and only writes its own slice of intents.
func (s *Sim) computeChunk(i0, i1 int, avoider *systems.Avoider, query systems.NeighborQuery, dt float64) {
	p := s.parallel
	for i := i0; i < i1; i++ {
		sel := p.selections[i]
		snap := &p.snapshots[sel.Index]
		field := p.fields[i]

		var avoid r2.Vec
		if sel.Avoid && field != nil {
			avoid = avoider.Compute(sel.Index, p.movers, query)
		}

		st := snap.Steering
		vel := systems.Steer(s.steering, systems.SteerInput{
			Position:  snap.Pos,
			Velocity:  snap.Vel,
			Field:     field,
			Nav:       snap.Nav,
			Body:      snap.Body,
			Avoidance: avoid,
		}, &st, dt*float64(sel.Elapsed))

		p.intents[i] = intent{Vel: vel, Steering: st}
	}
}
