package systems

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r2"
)

// Construction errors for cost grids.
var (
	ErrInvalidCellSize = errors.New("cell size must be positive and finite")
	ErrEmptyGrid       = errors.New("grid width and height must be positive")
)

// Cost values. Zero disables traversal; any other value is a difficulty multiplier.
const (
	CostImpassable uint8 = 0
	CostOpen       uint8 = 1
)

// Cell addresses one grid element. World X maps to X, world Y maps to Z.
type Cell struct {
	X, Z int
}

// gridShape holds the coordinate mapping shared by grids, views and fields.
type gridShape struct {
	origin   r2.Vec
	cellSize float64
	width    int
	height   int
}

// Width returns the number of cells along X.
func (s gridShape) Width() int { return s.width }

// Height returns the number of cells along Z.
func (s gridShape) Height() int { return s.height }

// CellSize returns the world length of one cell edge.
func (s gridShape) CellSize() float64 { return s.cellSize }

// Origin returns the world position of cell (0,0)'s lower corner.
func (s gridShape) Origin() r2.Vec { return s.origin }

// InBounds reports whether c addresses a cell of the grid.
func (s gridShape) InBounds(c Cell) bool {
	return c.X >= 0 && c.X < s.width && c.Z >= 0 && c.Z < s.height
}

// WorldToCell returns the cell containing p, clamped to the grid.
func (s gridShape) WorldToCell(p r2.Vec) Cell {
	fx := math.Floor((p.X - s.origin.X) / s.cellSize)
	fz := math.Floor((p.Y - s.origin.Y) / s.cellSize)
	return Cell{
		X: clampInt(floatToInt(fx), 0, s.width-1),
		Z: clampInt(floatToInt(fz), 0, s.height-1),
	}
}

// CellToWorld returns the world center of c, clamping c to the grid first.
func (s gridShape) CellToWorld(c Cell) r2.Vec {
	x := clampInt(c.X, 0, s.width-1)
	z := clampInt(c.Z, 0, s.height-1)
	return r2.Vec{
		X: s.origin.X + (float64(x)+0.5)*s.cellSize,
		Y: s.origin.Y + (float64(z)+0.5)*s.cellSize,
	}
}

func (s gridShape) index(c Cell) int {
	return c.Z*s.width + c.X
}

func (s gridShape) cellAt(idx int) Cell {
	return Cell{X: idx % s.width, Z: idx / s.width}
}

// floatToInt converts with saturation so NaN and huge inputs still clamp.
func floatToInt(f float64) int {
	switch {
	case math.IsNaN(f):
		return 0
	case f > math.MaxInt32:
		return math.MaxInt32
	case f < math.MinInt32:
		return math.MinInt32
	}
	return int(f)
}

// CostGrid is the single-owner traversal cost map for one navigable surface.
// Shape is fixed at construction; costs change through SetCost and MarkRegion.
type CostGrid struct {
	gridShape

	mu      sync.RWMutex
	costs   []uint8
	maxCost uint8
	version uint64
}

// NewCostGrid creates a grid with every cell open (cost 1).
func NewCostGrid(origin r2.Vec, cellSize float64, width, height int) (*CostGrid, error) {
	if !(cellSize > 0) || math.IsInf(cellSize, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCellSize, cellSize)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrEmptyGrid, width, height)
	}

	costs := make([]uint8, width*height)
	for i := range costs {
		costs[i] = CostOpen
	}
	return &CostGrid{
		gridShape: gridShape{origin: origin, cellSize: cellSize, width: width, height: height},
		costs:     costs,
		maxCost:   CostOpen,
	}, nil
}

// Cost returns the cost of c. Out-of-bounds cells are impassable.
func (g *CostGrid) Cost(c Cell) uint8 {
	if !g.InBounds(c) {
		return CostImpassable
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.costs[g.index(c)]
}

// IsWalkable reports whether c can be entered.
func (g *CostGrid) IsWalkable(c Cell) bool {
	return g.Cost(c) > CostImpassable
}

// Version increments on every cost change.
func (g *CostGrid) Version() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

// SetCost sets a single cell. Out-of-bounds cells are ignored.
func (g *CostGrid) SetCost(c Cell, cost uint8) {
	if !g.InBounds(c) {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.costs[g.index(c)] = cost
	if cost > g.maxCost {
		g.maxCost = cost
	}
	g.version++
}

// MarkRegion sets every cell whose center lies inside bounds (inclusive) to cost
// and returns the affected cells. Callers must invalidate any field cache built
// over this grid with the returned cells before agents sample again.
func (g *CostGrid) MarkRegion(bounds r2.Box, cost uint8) []Cell {
	minX, maxX := math.Min(bounds.Min.X, bounds.Max.X), math.Max(bounds.Min.X, bounds.Max.X)
	minZ, maxZ := math.Min(bounds.Min.Y, bounds.Max.Y), math.Max(bounds.Min.Y, bounds.Max.Y)

	// Cell i's center is origin + (i+0.5)*size
	x0 := floatToInt(math.Ceil((minX-g.origin.X)/g.cellSize - 0.5))
	x1 := floatToInt(math.Floor((maxX-g.origin.X)/g.cellSize - 0.5))
	z0 := floatToInt(math.Ceil((minZ-g.origin.Y)/g.cellSize - 0.5))
	z1 := floatToInt(math.Floor((maxZ-g.origin.Y)/g.cellSize - 0.5))
	x0, z0 = max(x0, 0), max(z0, 0)
	x1, z1 = min(x1, g.width-1), min(z1, g.height-1)
	if x0 > x1 || z0 > z1 {
		return nil
	}

	affected := make([]Cell, 0, (x1-x0+1)*(z1-z0+1))

	g.mu.Lock()
	defer g.mu.Unlock()
	for z := z0; z <= z1; z++ {
		for x := x0; x <= x1; x++ {
			c := Cell{X: x, Z: z}
			g.costs[g.index(c)] = cost
			affected = append(affected, c)
		}
	}
	if cost > g.maxCost {
		g.maxCost = cost
	}
	g.version++
	return affected
}

// Fill sets every cell to cost.
func (g *CostGrid) Fill(cost uint8) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.costs {
		g.costs[i] = cost
	}
	g.maxCost = max(cost, CostOpen)
	g.version++
}

// Snapshot returns an immutable copy of the current costs for solving.
func (g *CostGrid) Snapshot() *CostView {
	g.mu.RLock()
	defer g.mu.RUnlock()
	costs := make([]uint8, len(g.costs))
	copy(costs, g.costs)
	return &CostView{
		gridShape: g.gridShape,
		costs:     costs,
		maxCost:   g.maxCost,
		version:   g.version,
	}
}

// CostView is a read-only snapshot of a CostGrid at one version.
type CostView struct {
	gridShape
	costs   []uint8
	maxCost uint8
	version uint64
}

// Cost returns the cost of c. Out-of-bounds cells are impassable.
func (v *CostView) Cost(c Cell) uint8 {
	if !v.InBounds(c) {
		return CostImpassable
	}
	return v.costs[v.index(c)]
}

// IsWalkable reports whether c can be entered.
func (v *CostView) IsWalkable(c Cell) bool {
	return v.Cost(c) > CostImpassable
}

// Version returns the grid version this view was taken at.
func (v *CostView) Version() uint64 { return v.version }

// Values returns a copy of the costs in row-major order.
func (v *CostView) Values() []uint8 {
	out := make([]uint8, len(v.costs))
	copy(out, v.costs)
	return out
}

// MaxCost returns an upper bound on any cell cost in the view.
func (v *CostView) MaxCost() uint8 { return v.maxCost }

// SnapToWalkable returns the nearest walkable cell to c by expanding square rings,
// or false if the grid has no walkable cell within maxRadius.
func (v *CostView) SnapToWalkable(c Cell, maxRadius int) (Cell, bool) {
	c = Cell{X: clampInt(c.X, 0, v.width-1), Z: clampInt(c.Z, 0, v.height-1)}
	if v.IsWalkable(c) {
		return c, true
	}
	for r := 1; r <= maxRadius; r++ {
		best, bestD, found := Cell{}, math.MaxInt, false
		for dz := -r; dz <= r; dz++ {
			for dx := -r; dx <= r; dx++ {
				if abs(dx) != r && abs(dz) != r {
					continue
				}
				n := Cell{X: c.X + dx, Z: c.Z + dz}
				if !v.IsWalkable(n) {
					continue
				}
				if d := dx*dx + dz*dz; d < bestD {
					best, bestD, found = n, d, true
				}
			}
		}
		if found {
			return best, true
		}
	}
	return c, false
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
