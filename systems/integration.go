package systems

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNoDestinations is returned when a solve is requested with an empty goal set.
var ErrNoDestinations = errors.New("no destination cells")

// Integration values are fixed point so the bucket frontier applies.
const (
	IntegrationScale uint32 = 100 // One cardinal step over a cost-1 cell
	diagonalStep     uint32 = 141 // IntegrationScale * sqrt(2), rounded

	// Unreachable marks cells the wavefront never reached.
	Unreachable uint32 = math.MaxUint32
)

// cancelCheckInterval is how many pops pass between context checks.
const cancelCheckInterval = 4096

// CornerRule controls diagonal steps past impassable orthogonal neighbors.
type CornerRule uint8

const (
	CornerBoth   CornerRule = iota // Block a diagonal only when both orthogonals are impassable
	CornerEither                   // Block a diagonal when either orthogonal is impassable
)

// ParseCornerRule converts a config name to a CornerRule.
func ParseCornerRule(name string) (CornerRule, error) {
	switch name {
	case "both", "":
		return CornerBoth, nil
	case "either":
		return CornerEither, nil
	}
	return 0, fmt.Errorf("unknown corner rule %q", name)
}

func (r CornerRule) String() string {
	if r == CornerEither {
		return "either"
	}
	return "both"
}

// neighborOffsets is the fixed enumeration order: cardinals, then diagonals.
var neighborOffsets = [8]struct {
	dx, dz   int
	diagonal bool
}{
	{0, -1, false}, {1, 0, false}, {0, 1, false}, {-1, 0, false},
	{1, -1, true}, {1, 1, true}, {-1, 1, true}, {-1, -1, true},
}

// diagonalAllowed applies the corner rule to a diagonal step from c by (dx, dz).
func diagonalAllowed(v *CostView, c Cell, dx, dz int, rule CornerRule) bool {
	a := v.IsWalkable(Cell{X: c.X + dx, Z: c.Z})
	b := v.IsWalkable(Cell{X: c.X, Z: c.Z + dz})
	if rule == CornerEither {
		return a && b
	}
	return a || b
}

// Solver runs wavefront propagation and direction building over cost views.
// A Solver holds no per-solve state and is safe for concurrent use.
type Solver struct {
	frontier FrontierKind
	corner   CornerRule
}

// NewSolver creates a solver with the given frontier and corner rule.
func NewSolver(frontier FrontierKind, corner CornerRule) *Solver {
	return &Solver{frontier: frontier, corner: corner}
}

// CornerRule returns the solver's corner rule.
func (s *Solver) CornerRule() CornerRule { return s.corner }

// Integrate computes distance-to-goal for every cell as one multi-source wavefront.
// Goals that are out of bounds or impassable are not seeded; if none remain,
// every cell is Unreachable. The result is only returned on completion.
func (s *Solver) Integrate(ctx context.Context, view *CostView, goals []Cell) ([]uint32, error) {
	if len(goals) == 0 {
		return nil, ErrNoDestinations
	}

	integration := make([]uint32, view.width*view.height)
	for i := range integration {
		integration[i] = Unreachable
	}

	maxEdge := diagonalStep * uint32(max(view.maxCost, CostOpen))
	q := newFrontier(s.frontier, maxEdge)
	for _, g := range goals {
		if !view.IsWalkable(g) {
			continue
		}
		idx := view.index(g)
		if integration[idx] == 0 {
			continue
		}
		integration[idx] = 0
		q.push(int32(idx), 0)
	}

	pops := 0
	for {
		idx, key, ok := q.pop()
		if !ok {
			break
		}
		pops++
		if pops%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if key > integration[idx] {
			continue // Superseded by a cheaper entry
		}

		c := view.cellAt(int(idx))
		for _, off := range neighborOffsets {
			n := Cell{X: c.X + off.dx, Z: c.Z + off.dz}
			cost := view.Cost(n)
			if cost == CostImpassable {
				continue
			}
			step := IntegrationScale
			if off.diagonal {
				if !diagonalAllowed(view, c, off.dx, off.dz, s.corner) {
					continue
				}
				step = diagonalStep
			}
			candidate := uint64(key) + uint64(step)*uint64(cost)
			if candidate >= uint64(Unreachable) {
				candidate = uint64(Unreachable) - 1
			}
			nIdx := view.index(n)
			if uint32(candidate) < integration[nIdx] {
				integration[nIdx] = uint32(candidate)
				q.push(int32(nIdx), uint32(candidate))
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return integration, nil
}

// Solve integrates goals over view and builds the immutable Field for key.
func (s *Solver) Solve(ctx context.Context, view *CostView, key GoalKey, goals []Cell) (*Field, error) {
	start := time.Now()
	integration, err := s.Integrate(ctx, view, goals)
	if err != nil {
		return nil, fmt.Errorf("integrating %s: %w", key, err)
	}
	dirX, dirZ := BuildDirections(view, integration, s.corner)

	kept := make([]Cell, len(goals))
	copy(kept, goals)
	return &Field{
		gridShape:   view.gridShape,
		Key:         key,
		Goals:       kept,
		GridVersion: view.version,
		SolveTime:   time.Since(start),
		integration: integration,
		dirX:        dirX,
		dirZ:        dirZ,
	}, nil
}
