package systems

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// InvalidationPolicy selects how much of the cache a grid edit drops.
type InvalidationPolicy uint8

const (
	InvalidateAll       InvalidationPolicy = iota // Drop every entry on any edit
	InvalidateFootprint                           // Drop only entries whose reachable set touches the edit
)

// ParseInvalidation converts a config name to an InvalidationPolicy.
func ParseInvalidation(name string) (InvalidationPolicy, error) {
	switch name {
	case "all", "":
		return InvalidateAll, nil
	case "footprint":
		return InvalidateFootprint, nil
	}
	return 0, fmt.Errorf("unknown invalidation policy %q", name)
}

// CacheStats are cumulative field cache counters.
type CacheStats struct {
	Hits          uint64
	Misses        uint64
	Solves        uint64
	Evictions     uint64
	Invalidations uint64 // Entries dropped by grid edits
}

// FieldCache is a capacity-bounded LRU of solved fields over one CostGrid.
// Concurrent requests for one key share a single solve; solves for different
// keys run concurrently. A field is only inserted if no invalidation happened
// while it was being solved, and is never served once the grid has changed
// in a way no invalidation accounted for.
type FieldCache struct {
	grid   *CostGrid
	solver *Solver
	policy InvalidationPolicy

	mu         sync.Mutex
	entries    *lru.Cache[GoalKey, *cacheEntry]
	generation uint64
	seen       uint64 // grid version at the last invalidation
	stats      CacheStats

	group singleflight.Group
}

// cacheEntry pairs a field with the grid version it is known to be correct for.
type cacheEntry struct {
	field *Field
	valid uint64
}

// NewFieldCache creates a cache holding at most capacity fields.
func NewFieldCache(grid *CostGrid, solver *Solver, capacity int, policy InvalidationPolicy) (*FieldCache, error) {
	entries, err := lru.New[GoalKey, *cacheEntry](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating field cache: %w", err)
	}
	return &FieldCache{
		grid:    grid,
		solver:  solver,
		policy:  policy,
		entries: entries,
		seen:    grid.Version(),
	}, nil
}

// GetOrSolve returns the cached field for key, solving and inserting it on a miss.
// A cached field whose grid changed without an invalidation counts as a miss.
// If ctx is cancelled mid-solve the error is returned and nothing is published.
func (c *FieldCache) GetOrSolve(ctx context.Context, key GoalKey) (*Field, error) {
	c.mu.Lock()
	if f, ok := c.lookup(key); ok {
		c.stats.Hits++
		c.mu.Unlock()
		return f, nil
	}
	c.stats.Misses++
	c.mu.Unlock()

	for {
		v, err, _ := c.group.Do(string(key), func() (any, error) {
			return c.solve(ctx, key)
		})
		if err == nil {
			return v.(*Field), nil
		}
		// A shared flight can fail on the leading caller's context; retry with ours
		if isContextErr(err) && ctx.Err() == nil {
			continue
		}
		return nil, err
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// lookup returns a fresh cached field and updates recency. Stale entries are
// dropped. Callers hold c.mu.
func (c *FieldCache) lookup(key GoalKey) (*Field, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if e.valid != c.grid.Version() {
		c.entries.Remove(key)
		c.stats.Invalidations++
		slog.Debug("stale field dropped", "goal_key", key, "field_version", e.valid)
		return nil, false
	}
	return e.field, true
}

func (c *FieldCache) solve(ctx context.Context, key GoalKey) (*Field, error) {
	// A previous flight may have published this key after our miss
	c.mu.Lock()
	if e, ok := c.entries.Peek(key); ok && e.valid == c.grid.Version() {
		c.mu.Unlock()
		return e.field, nil
	}
	c.mu.Unlock()

	goals, err := key.Cells()
	if err != nil {
		return nil, err
	}

	for {
		c.mu.Lock()
		gen := c.generation
		c.mu.Unlock()
		view := c.grid.Snapshot()

		f, err := c.solver.Solve(ctx, view, key, goals)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.stats.Solves++
		if gen == c.generation && view.Version() == c.grid.Version() {
			if c.entries.Add(key, &cacheEntry{field: f, valid: f.GridVersion}) {
				c.stats.Evictions++
				slog.Debug("field cache eviction", "goal_key", key)
			}
			c.mu.Unlock()
			slog.Debug("field solved", "goal_key", key, "solve_us", f.SolveTime.Microseconds(),
				"reachable", f.ReachableCount())
			return f, nil
		}
		c.mu.Unlock()
		// The grid changed under the solve; never publish a stale field
	}
}

// Peek returns a fresh cached field without solving or updating recency.
func (c *FieldCache) Peek(key GoalKey) (*Field, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Peek(key)
	if !ok || e.valid != c.grid.Version() {
		return nil, false
	}
	return e.field, true
}

// InvalidateRegion drops fields that an edit of cells could affect and returns
// how many were dropped. Call it after every CostGrid mutation.
//
// Under the footprint policy a field survives only if it was valid just before
// this edit, the edit was the grid's only change since the last invalidation,
// and the wavefront never reached the edited cells.
func (c *FieldCache) InvalidateRegion(cells []Cell) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	now := c.grid.Version()
	single := now == c.seen+1
	dropped := 0
	if c.policy == InvalidateAll {
		dropped = c.entries.Len()
		c.entries.Purge()
	} else {
		for _, key := range c.entries.Keys() {
			e, ok := c.entries.Peek(key)
			if !ok {
				continue
			}
			if e.valid == now || (single && e.valid == c.seen && !e.field.Touches(cells)) {
				e.valid = now
				continue
			}
			c.entries.Remove(key)
			dropped++
		}
	}
	c.seen = now
	c.stats.Invalidations += uint64(dropped)
	slog.Debug("field cache invalidated", "cells", len(cells), "dropped", dropped)
	return dropped
}

// InvalidateAll drops every cached field.
func (c *FieldCache) InvalidateAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.seen = c.grid.Version()
	dropped := c.entries.Len()
	c.entries.Purge()
	c.stats.Invalidations += uint64(dropped)
	return dropped
}

// Warm solves every key concurrently and returns the first error.
func (c *FieldCache) Warm(ctx context.Context, keys ...GoalKey) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		g.Go(func() error {
			_, err := c.GetOrSolve(ctx, key)
			return err
		})
	}
	return g.Wait()
}

// Len returns the number of cached fields.
func (c *FieldCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Stats returns a copy of the cumulative counters.
func (c *FieldCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
