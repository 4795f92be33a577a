package systems

import (
	"github.com/ojrac/opensimplex-go"

	"github.com/pthm-cable/crowdflow/config"
)

// terrainOctaves is the number of fractal noise layers summed per cell.
const terrainOctaves = 3

// TerrainGenerator fills a cost grid with procedural rough ground and walls.
type TerrainGenerator struct {
	noise         opensimplex.Noise
	scale         float64
	maxCost       uint8
	wallThreshold float64
}

// NewTerrainGenerator creates a generator from terrain config.
func NewTerrainGenerator(cfg config.TerrainConfig) *TerrainGenerator {
	maxCost := cfg.MaxCost
	if maxCost < 1 {
		maxCost = 1
	}
	if maxCost > 255 {
		maxCost = 255
	}
	return &TerrainGenerator{
		noise:         opensimplex.New(cfg.Seed),
		scale:         cfg.Scale,
		maxCost:       uint8(maxCost),
		wallThreshold: cfg.WallThreshold,
	}
}

// Sample returns fractal noise in [0, 1] at cell coordinates.
func (t *TerrainGenerator) Sample(x, z float64) float64 {
	sum, amp, freq, norm := 0.0, 1.0, t.scale, 0.0
	for range terrainOctaves {
		sum += amp * t.noise.Eval2(x*freq, z*freq)
		norm += amp
		amp *= 0.5
		freq *= 2
	}
	return clamp01((sum/norm + 1) / 2)
}

// CostAt maps the noise at a cell to a traversal cost.
// Values above the wall threshold are impassable; the rest scale from 1 to maxCost.
func (t *TerrainGenerator) CostAt(c Cell) uint8 {
	n := t.Sample(float64(c.X), float64(c.Z))
	if n > t.wallThreshold {
		return CostImpassable
	}
	if t.maxCost == 1 || t.wallThreshold <= 0 {
		return CostOpen
	}
	rough := n / t.wallThreshold
	return CostOpen + uint8(rough*float64(t.maxCost-1)+0.5)
}

// Apply writes generated costs into every cell of g and returns the count of walls.
func (t *TerrainGenerator) Apply(g *CostGrid) int {
	walls := 0
	for z := 0; z < g.Height(); z++ {
		for x := 0; x < g.Width(); x++ {
			c := Cell{X: x, Z: z}
			cost := t.CostAt(c)
			if cost == CostImpassable {
				walls++
			}
			g.SetCost(c, cost)
		}
	}
	return walls
}
