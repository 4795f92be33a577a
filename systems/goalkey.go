package systems

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r2"
)

// GoalKey identifies a field by its canonical destination cell set,
// encoded as sorted unique "x:z" pairs joined by "|".
type GoalKey string

// KeyFor returns the canonical key for goals and the sorted, deduplicated cells.
func KeyFor(goals []Cell) (GoalKey, []Cell) {
	cells := slices.Clone(goals)
	slices.SortFunc(cells, func(a, b Cell) int {
		if c := cmp.Compare(a.Z, b.Z); c != 0 {
			return c
		}
		return cmp.Compare(a.X, b.X)
	})
	cells = slices.Compact(cells)

	var sb strings.Builder
	for i, c := range cells {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(strconv.Itoa(c.X))
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(c.Z))
	}
	return GoalKey(sb.String()), cells
}

// Cells decodes the destination cells from k.
func (k GoalKey) Cells() ([]Cell, error) {
	if k == "" {
		return nil, ErrNoDestinations
	}
	parts := strings.Split(string(k), "|")
	cells := make([]Cell, 0, len(parts))
	for _, p := range parts {
		xs, zs, ok := strings.Cut(p, ":")
		if !ok {
			return nil, fmt.Errorf("malformed goal key entry %q", p)
		}
		x, err := strconv.Atoi(xs)
		if err != nil {
			return nil, fmt.Errorf("goal key x in %q: %w", p, err)
		}
		z, err := strconv.Atoi(zs)
		if err != nil {
			return nil, fmt.Errorf("goal key z in %q: %w", p, err)
		}
		cells = append(cells, Cell{X: x, Z: z})
	}
	return cells, nil
}

// FieldHandle is what command logic hands to agents: the key of a shared field
// plus the world-space point the destination set was requested around.
type FieldHandle struct {
	Key    GoalKey
	Target r2.Vec
}

// Valid reports whether h names a field.
func (h FieldHandle) Valid() bool { return h.Key != "" }
