// Package systems provides the navigation and steering systems for the crowd simulation.
package systems

import (
	"gonum.org/v1/gonum/spatial/r2"
)

// Neighbor holds a nearby agent with precomputed spatial data.
type Neighbor struct {
	Index  int     // Slot of the neighbor in the positions passed to Rebuild
	Delta  r2.Vec  // Neighbor position minus query origin
	DistSq float64 // Squared distance (avoid sqrt in hot path)
}

// NeighborQuery finds agents near a point. Implementations must not be
// mutated while queries are in flight.
type NeighborQuery interface {
	QueryRadiusInto(dst []Neighbor, p r2.Vec, radius float64, exclude, limit int) []Neighbor
}

// MaxQueryResults caps the number of neighbors returned by spatial queries.
// This prevents density spikes from causing unbounded work.
const MaxQueryResults = 128

// SpatialHash provides sublinear neighbor lookups using a fixed cell grid.
// Rebuild it once per tick before any query runs.
type SpatialHash struct {
	origin    r2.Vec
	cellSize  float64
	cols      int
	rows      int
	cells     [][]int32
	positions []r2.Vec
}

// NewSpatialHash creates a hash covering width x height world units from origin.
// Positions outside the area are clamped into the border cells.
func NewSpatialHash(origin r2.Vec, width, height, cellSize float64) *SpatialHash {
	cols := int(width/cellSize) + 1
	rows := int(height/cellSize) + 1

	cells := make([][]int32, cols*rows)
	for i := range cells {
		cells[i] = make([]int32, 0, 8)
	}

	return &SpatialHash{
		origin:   origin,
		cellSize: cellSize,
		cols:     cols,
		rows:     rows,
		cells:    cells,
	}
}

// Clear removes all agents from the hash.
func (h *SpatialHash) Clear() {
	for i := range h.cells {
		h.cells[i] = h.cells[i][:0]
	}
	h.positions = h.positions[:0]
}

// Rebuild clears the hash and inserts every position, indexed by slot.
func (h *SpatialHash) Rebuild(positions []r2.Vec) {
	h.Clear()
	h.positions = append(h.positions, positions...)
	for i, p := range h.positions {
		idx := h.cellIndex(p)
		h.cells[idx] = append(h.cells[idx], int32(i))
	}
}

// QueryRadiusInto appends agents within radius of p to dst, skipping exclude,
// stopping at limit results (MaxQueryResults when limit <= 0).
func (h *SpatialHash) QueryRadiusInto(dst []Neighbor, p r2.Vec, radius float64, exclude, limit int) []Neighbor {
	if limit <= 0 || limit > MaxQueryResults {
		limit = MaxQueryResults
	}
	cellRadius := int(radius/h.cellSize) + 1
	centerCol, centerRow := h.colRow(p)
	radiusSq := radius * radius
	found := 0

	for dr := -cellRadius; dr <= cellRadius; dr++ {
		row := centerRow + dr
		if row < 0 || row >= h.rows {
			continue
		}
		for dc := -cellRadius; dc <= cellRadius; dc++ {
			col := centerCol + dc
			if col < 0 || col >= h.cols {
				continue
			}
			for _, i := range h.cells[row*h.cols+col] {
				if int(i) == exclude {
					continue
				}
				d := r2.Sub(h.positions[i], p)
				distSq := r2.Dot(d, d)
				if distSq <= radiusSq {
					dst = append(dst, Neighbor{Index: int(i), Delta: d, DistSq: distSq})
					found++
					if found >= limit {
						return dst
					}
				}
			}
		}
	}

	return dst
}

func (h *SpatialHash) colRow(p r2.Vec) (int, int) {
	col := clampInt(floatToInt((p.X-h.origin.X)/h.cellSize), 0, h.cols-1)
	row := clampInt(floatToInt((p.Y-h.origin.Y)/h.cellSize), 0, h.rows-1)
	return col, row
}

func (h *SpatialHash) cellIndex(p r2.Vec) int {
	col, row := h.colRow(p)
	return row*h.cols + col
}

// BruteForce is an all-pairs NeighborQuery. Every query is O(N), so a tick
// costs O(N²): a performance cliff beyond a few dozen agents. It exists for
// small populations and as a reference in tests.
type BruteForce struct {
	Positions []r2.Vec
}

// QueryRadiusInto scans every position.
func (b BruteForce) QueryRadiusInto(dst []Neighbor, p r2.Vec, radius float64, exclude, limit int) []Neighbor {
	if limit <= 0 || limit > MaxQueryResults {
		limit = MaxQueryResults
	}
	radiusSq := radius * radius
	found := 0
	for i, q := range b.Positions {
		if i == exclude {
			continue
		}
		d := r2.Sub(q, p)
		distSq := r2.Dot(d, d)
		if distSq <= radiusSq {
			dst = append(dst, Neighbor{Index: i, Delta: d, DistSq: distSq})
			found++
			if found >= limit {
				break
			}
		}
	}
	return dst
}
