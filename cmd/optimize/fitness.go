package main

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/crowdflow/config"
	"github.com/pthm-cable/crowdflow/sim"
	"github.com/pthm-cable/crowdflow/systems"
	"github.com/pthm-cable/crowdflow/telemetry"
)

// FitnessEvaluator runs headless crossing-crowd scenarios and computes fitness.
type FitnessEvaluator struct {
	params     *ParamVector
	maxTicks   int64
	agents     int
	seeds      []int64
	baseConfig *config.Config

	mu          sync.Mutex
	lastQuality float64 // quality from most recent Evaluate call
	lastArrived float64 // arrival fraction from most recent Evaluate call
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, maxTicks int64, agents int, seeds []int64, baseCfg *config.Config) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:     params,
		maxTicks:   maxTicks,
		agents:     agents,
		seeds:      seeds,
		baseConfig: baseCfg,
	}
}

// LastQuality returns the quality score from the most recent evaluation.
func (fe *FitnessEvaluator) LastQuality() float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastQuality
}

// LastArrived returns the mean arrival fraction from the most recent evaluation.
func (fe *FitnessEvaluator) LastArrived() float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastArrived
}

// runResult holds the results from a single simulation run.
type runResult struct {
	arrivedFrac float64
	windowStats []telemetry.WindowStats // collected via StatsCallback each window
	failed      bool
}

// Evaluate computes fitness for a parameter vector (lower = better).
// Fitness is the negative arrival fraction scaled by up to 20% for quality.
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	results := make([]runResult, len(fe.seeds))
	var wg sync.WaitGroup
	for i, seed := range fe.seeds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = fe.runSimulation(x, seed)
		}()
	}
	wg.Wait()

	var totalFitness, totalQuality, totalArrived float64
	for _, r := range results {
		quality := fe.computeQuality(r.windowStats)
		totalFitness += computeFitness(r, quality)
		totalQuality += quality
		totalArrived += r.arrivedFrac
	}
	n := float64(len(fe.seeds))

	fe.mu.Lock()
	fe.lastQuality = totalQuality / n
	fe.lastArrived = totalArrived / n
	fe.mu.Unlock()

	return totalFitness / n
}

// runSimulation runs two opposing crowds across seeded terrain for maxTicks.
func (fe *FitnessEvaluator) runSimulation(x []float64, seed int64) runResult {
	cfg := fe.baseConfig.Clone()
	fe.params.ApplyToConfig(cfg, x)
	cfg.Terrain.Seed = seed
	cfg.Parallel.Workers = 1 // seeds already run in parallel

	var result runResult
	fail := func(err error) runResult {
		slog.Warn("evaluation run failed", "seed", seed, "error", err)
		return runResult{failed: true}
	}

	grid, err := sim.NewGrid(cfg.Grid)
	if err != nil {
		return fail(err)
	}

	s, err := sim.New(cfg, grid, sim.Options{
		StatsCallback: func(ws telemetry.WindowStats) {
			result.windowStats = append(result.windowStats, ws)
		},
	})
	if err != nil {
		return fail(err)
	}
	s.ApplyTerrain(systems.NewTerrainGenerator(cfg.Terrain))

	ctx := context.Background()
	view := s.Grid()
	w, h := view.Width(), view.Height()
	rng := rand.New(rand.NewSource(seed))

	openPoint := func(x0, x1 int) r2.Vec {
		for {
			c := systems.Cell{X: x0 + rng.Intn(x1-x0), Z: rng.Intn(h)}
			if view.IsWalkable(c) {
				return view.CellToWorld(c)
			}
		}
	}

	east, err := s.RequestField(ctx, openPoint(w*7/8, w))
	if err != nil {
		return fail(err)
	}
	west, err := s.RequestField(ctx, openPoint(0, w/8))
	if err != nil {
		return fail(err)
	}

	for i := range fe.agents {
		behavior := systems.BehaviorFlow
		if i%4 == 3 {
			behavior = systems.BehaviorCautious
		}
		if i%2 == 0 {
			id := s.Spawn(openPoint(0, w/4))
			err = s.SetDestination(id, east, r2.Vec{}, behavior)
		} else {
			id := s.Spawn(openPoint(w*3/4, w))
			err = s.SetDestination(id, west, r2.Vec{}, behavior)
		}
		if err != nil {
			return fail(err)
		}
	}

	dt := cfg.Steering.DT
	for s.Tick() < fe.maxTicks {
		if err := s.Step(ctx); err != nil {
			return fail(err)
		}
		s.Advance(dt)
	}

	arrived := 0
	for _, a := range s.Agents(nil) {
		if a.Arrived {
			arrived++
		}
	}
	result.arrivedFrac = float64(arrived) / float64(max(fe.agents, 1))
	return result
}

// computeFitness calculates the scalar fitness (lower = better).
// Formula: -(arrived × (1.0 + 0.2 × quality)). Failed runs score zero.
func computeFitness(r runResult, quality float64) float64 {
	if r.failed {
		return 0
	}
	return -(r.arrivedFrac * (1.0 + 0.2*quality))
}

// Quality component weights.
const (
	qualityWeightFlow    = 0.5
	qualityWeightBlocked = 0.3
	qualityWeightSpread  = 0.2

	qualityWarmupWindows = 1 // skip first N windows (warmup)
)

// computeQuality scores crowd motion in [0, 1] from window stats: median
// speed of moving agents relative to max speed, few blocked agents, and a
// narrow gap between slow and median walkers.
func (fe *FitnessEvaluator) computeQuality(windows []telemetry.WindowStats) float64 {
	if len(windows) <= qualityWarmupWindows {
		return 0
	}
	maxSpeed := fe.baseConfig.Steering.MaxSpeed

	var flow, blocked, spread []float64
	for _, w := range windows[qualityWarmupWindows:] {
		if w.Agents == 0 {
			continue
		}
		blocked = append(blocked, 1-float64(w.Blocked)/float64(w.Agents))
		if w.Active == 0 || w.SpeedP50 <= 0 {
			continue
		}
		flow = append(flow, clamp01(w.SpeedP50/maxSpeed))
		spread = append(spread, clamp01(w.SpeedP10/w.SpeedP50))
	}
	if len(blocked) == 0 {
		return 0
	}

	quality := qualityWeightBlocked * stat.Mean(blocked, nil)
	if len(flow) > 0 {
		quality += qualityWeightFlow*stat.Mean(flow, nil) + qualityWeightSpread*stat.Mean(spread, nil)
	}
	return clamp01(quality)
}

// clamp01 clamps x to [0, 1].
func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return min(max(x, 0), 1)
}
