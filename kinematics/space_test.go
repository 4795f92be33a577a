package kinematics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/crowdflow/config"
	"github.com/pthm-cable/crowdflow/sim"
	"github.com/pthm-cable/crowdflow/systems"
)

func newSim(t *testing.T, w, h int) *sim.Sim {
	t.Helper()
	cfg := config.Default()
	cfg.Grid.Width = w
	cfg.Grid.Height = h
	cfg.Grid.CellSize = 1
	cfg.Scaling.BatchSize = 0
	cfg.Steering.DT = 0.05

	grid, err := sim.NewGrid(cfg.Grid)
	require.NoError(t, err)
	s, err := sim.New(cfg, grid, sim.Options{})
	require.NoError(t, err)
	return s
}

func TestSyncStaticsMergesRows(t *testing.T) {
	s := newSim(t, 10, 10)
	space := NewSpace()

	space.SyncStatics(s.Grid())
	assert.Equal(t, 4, space.StaticShapes(), "open grid has only the border")

	// A 3x2 block is one box per row.
	s.MarkRegion(r2.Box{Min: r2.Vec{X: 2, Y: 2}, Max: r2.Vec{X: 5, Y: 4}}, systems.CostImpassable)
	space.SyncStatics(s.Grid())
	assert.Equal(t, 4+2, space.StaticShapes())

	// Same version is a no-op.
	space.SyncStatics(s.Grid())
	assert.Equal(t, 6, space.StaticShapes())
}

func TestSyncTracksAgents(t *testing.T) {
	space := NewSpace()
	agents := []sim.AgentState{
		{ID: 1, Position: r2.Vec{X: 1, Y: 1}, Radius: 0.4},
		{ID: 2, Position: r2.Vec{X: 3, Y: 1}, Radius: 0.4},
	}
	space.Sync(agents)
	assert.Equal(t, 2, space.Bodies())

	space.Sync(agents[1:])
	assert.Equal(t, 1, space.Bodies())
	_, ok := space.Position(1)
	assert.False(t, ok)
	p, ok := space.Position(2)
	require.True(t, ok)
	assert.Equal(t, r2.Vec{X: 3, Y: 1}, p)
}

func TestWallStopsAgent(t *testing.T) {
	s := newSim(t, 12, 8)
	s.MarkRegion(r2.Box{Min: r2.Vec{X: 6, Y: 0}, Max: r2.Vec{X: 7, Y: 8}}, systems.CostImpassable)

	space := NewSpace()
	space.SyncStatics(s.Grid())

	agent := sim.AgentState{ID: 7, Position: r2.Vec{X: 4.5, Y: 4.5}, Velocity: r2.Vec{X: 3}, Radius: 0.4}
	for range 60 {
		space.Sync([]sim.AgentState{agent})
		space.Step(0.05)
	}

	p, ok := space.Position(7)
	require.True(t, ok)
	assert.Greater(t, p.X, 5.0, "agent moved toward the wall")
	assert.LessOrEqual(t, p.X, 6.0-0.4+0.15, "agent stays outside the wall cells")
}

func TestUpdateWritesPositions(t *testing.T) {
	s := newSim(t, 16, 16)
	ctx := context.Background()

	h, err := s.RequestField(ctx, r2.Vec{X: 14.5, Y: 8.5})
	require.NoError(t, err)
	id := s.Spawn(r2.Vec{X: 2.5, Y: 8.5})
	require.NoError(t, s.SetDestination(id, h, r2.Vec{}, systems.BehaviorFlow))

	space := NewSpace()
	for range 40 {
		require.NoError(t, s.Step(ctx))
		require.NoError(t, space.Update(s, 0.05))
	}

	st, err := s.Agent(id)
	require.NoError(t, err)
	assert.Greater(t, st.Position.X, 4.0, "physics positions were written back")
	body, ok := space.Position(id)
	require.True(t, ok)
	assert.Equal(t, body, st.Position)

	require.NoError(t, s.Despawn(id))
	require.NoError(t, space.Update(s, 0.05))
	assert.Zero(t, space.Bodies())
}
