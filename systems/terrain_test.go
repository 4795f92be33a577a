package systems

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pthm-cable/crowdflow/config"
)

func TestTerrainDeterministicAndBounded(t *testing.T) {
	cfg := config.TerrainConfig{Seed: 42, Scale: 0.1, MaxCost: 6, WallThreshold: 0.55}

	a := newOpenGrid(t, 48, 48)
	b := newOpenGrid(t, 48, 48)
	wallsA := NewTerrainGenerator(cfg).Apply(a)
	wallsB := NewTerrainGenerator(cfg).Apply(b)

	assert.Equal(t, wallsA, wallsB)
	assert.Equal(t, a.Snapshot().costs, b.Snapshot().costs, "same seed gives the same map")

	open := 0
	for _, c := range a.Snapshot().costs {
		assert.LessOrEqual(t, c, uint8(6))
		if c > 0 {
			open++
		}
	}
	assert.Equal(t, 48*48-wallsA, open)
	assert.Positive(t, open)
}

func TestTerrainNoWalls(t *testing.T) {
	gen := NewTerrainGenerator(config.TerrainConfig{Seed: 1, Scale: 0.1, MaxCost: 1, WallThreshold: 2})
	g := newOpenGrid(t, 16, 16)
	assert.Zero(t, gen.Apply(g))
	for _, c := range g.Snapshot().costs {
		assert.Equal(t, CostOpen, c)
	}
}
