package sim

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/crowdflow/components"
	"github.com/pthm-cable/crowdflow/systems"
)

func TestSharedGoalScenario(t *testing.T) {
	s := newTestSim(t, testConfig(64, 64))
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))

	dest := r2.Vec{X: 32.5, Y: 32.5}
	h, err := s.RequestField(ctx, dest)
	require.NoError(t, err)

	for range 50 {
		id := s.Spawn(r2.Vec{X: 1 + rng.Float64()*62, Y: 1 + rng.Float64()*62})
		require.NoError(t, s.SetDestination(id, h, r2.Vec{}, systems.BehaviorFlow))
	}
	require.NoError(t, s.Step(ctx))
	assert.Equal(t, uint64(1), s.CacheStats().Solves, "all agents share one solve")

	field, ok := s.Field(h.Key)
	require.True(t, ok)

	var sum float64
	var n int
	for _, a := range s.Agents(nil) {
		toDest := r2.Sub(dest, a.Position)
		if r2.Norm(toDest) < 2 {
			continue
		}
		dir, ok := field.Sample(a.Position)
		require.True(t, ok)
		sum += r2.Dot(r2.Unit(dir), r2.Unit(toDest))
		n++
	}
	require.Positive(t, n)
	assert.Greater(t, sum/float64(n), 0.8, "sampled directions point toward the destination on average")

	startDist := meanDistance(s.Agents(nil), dest)
	stepN(t, s, 100, true)
	assertSaneVelocities(t, s)
	assert.Less(t, meanDistance(s.Agents(nil), dest), 0.5*startDist)
}

func meanDistance(agents []AgentState, p r2.Vec) float64 {
	var sum float64
	for _, a := range agents {
		sum += r2.Norm(r2.Sub(p, a.Position))
	}
	return sum / float64(len(agents))
}

func TestBlockedGoalScenario(t *testing.T) {
	s := newTestSim(t, testConfig(32, 32))
	ctx := context.Background()

	// Destination cell (20,20) is impassable before the solve.
	marked := s.MarkRegion(r2.Box{Min: r2.Vec{X: 20, Y: 20}, Max: r2.Vec{X: 21, Y: 21}}, systems.CostImpassable)
	require.Equal(t, []systems.Cell{{X: 20, Z: 20}}, marked)

	h, err := s.RequestField(ctx, r2.Vec{X: 20.5, Y: 20.5})
	require.NoError(t, err)

	var ids []components.AgentID
	start := make(map[components.AgentID]r2.Vec)
	for i := range 10 {
		p := r2.Vec{X: 2.5 + float64(i)*2, Y: 4.5}
		id := s.Spawn(p)
		require.NoError(t, s.SetDestination(id, h, r2.Vec{}, systems.BehaviorFlow))
		ids = append(ids, id)
		start[id] = p
	}

	stepN(t, s, 10, true)

	for _, id := range ids {
		st, err := s.Agent(id)
		require.NoError(t, err)
		assert.True(t, st.Blocked, "agent %d should report blocked", id)
		assert.Equal(t, r2.Vec{}, st.Velocity)
		assert.Equal(t, start[id], st.Position, "blocked agents stay put")

		blocked, err := s.Blocked(id)
		require.NoError(t, err)
		assert.True(t, blocked)
	}

	// Reopening the destination clears the blocked state.
	s.MarkRegion(r2.Box{Min: r2.Vec{X: 20, Y: 20}, Max: r2.Vec{X: 21, Y: 21}}, systems.CostOpen)
	stepN(t, s, 2, true)
	for _, id := range ids {
		blocked, err := s.Blocked(id)
		require.NoError(t, err)
		assert.False(t, blocked)
	}
}

func TestRegionEditScenario(t *testing.T) {
	for _, policy := range []string{"all", "footprint"} {
		t.Run(policy, func(t *testing.T) {
			cfg := testConfig(32, 32)
			cfg.Cache.Invalidation = policy
			s := newTestSim(t, cfg)
			ctx := context.Background()

			id := s.Spawn(r2.Vec{X: 4.5, Y: 16.5})
			h, err := s.RequestField(ctx, r2.Vec{X: 28.5, Y: 16.5})
			require.NoError(t, err)
			require.NoError(t, s.SetDestination(id, h, r2.Vec{}, systems.BehaviorFlow))
			require.NoError(t, s.Step(ctx))

			before, ok := s.Field(h.Key)
			require.True(t, ok)
			startCell := systems.Cell{X: 4, Z: 16}
			require.Contains(t, walkCells(before, startCell, 100), systems.Cell{X: 16, Z: 16},
				"the open-grid path runs straight along the row")

			// Wall across the straight path with a gap at the top.
			s.MarkRegion(r2.Box{Min: r2.Vec{X: 16, Y: 4}, Max: r2.Vec{X: 17, Y: 30}}, systems.CostImpassable)
			require.NoError(t, s.Step(ctx))

			after, ok := s.Field(h.Key)
			require.True(t, ok)
			assert.NotSame(t, before, after, "the edit forced a re-solve")

			view := s.Grid()
			path := walkCells(after, startCell, 200)
			require.True(t, after.IsGoal(path[len(path)-1]), "the new field still reaches the goal")
			for _, c := range path {
				assert.True(t, view.IsWalkable(c), "path crosses the new wall at %v", c)
			}
			assert.Greater(t, after.Integration(startCell), before.Integration(startCell))
		})
	}
}

// walkCells follows per-cell directions from start.
func walkCells(f *systems.Field, start systems.Cell, maxSteps int) []systems.Cell {
	path := []systems.Cell{start}
	c := start
	for range maxSteps {
		if f.IsGoal(c) {
			break
		}
		d := f.Direction(c)
		if d == (r2.Vec{}) {
			break
		}
		c = systems.Cell{X: c.X + sign(d.X), Z: c.Z + sign(d.Y)}
		path = append(path, c)
	}
	return path
}

func sign(v float64) int {
	switch {
	case v > 0.3:
		return 1
	case v < -0.3:
		return -1
	}
	return 0
}

func TestCrossingCrowdsStayFinite(t *testing.T) {
	cfg := testConfig(40, 40)
	cfg.Avoidance.NaiveScanLimit = 8
	s := newTestSim(t, cfg)
	ctx := context.Background()

	east, err := s.RequestField(ctx, r2.Vec{X: 37.5, Y: 20.5})
	require.NoError(t, err)
	west, err := s.RequestField(ctx, r2.Vec{X: 2.5, Y: 20.5})
	require.NoError(t, err)

	for i := range 12 {
		z := 14.5 + float64(i)
		a := s.Spawn(r2.Vec{X: 4.5, Y: z})
		require.NoError(t, s.SetDestination(a, east, r2.Vec{}, systems.BehaviorFlow))
		b := s.Spawn(r2.Vec{X: 35.5, Y: z})
		require.NoError(t, s.SetDestination(b, west, r2.Vec{}, systems.BehaviorCautious))
	}

	for range 80 {
		require.NoError(t, s.Step(ctx))
		s.Advance(cfg.Steering.DT)
		assertSaneVelocities(t, s)
	}
	assert.Equal(t, uint64(2), s.CacheStats().Solves)
}
