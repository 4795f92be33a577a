// Command crowdbench runs a headless crowd on noise terrain and reports
// per-window statistics and tick timing.
package main

import (
	"context"
	"flag"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/crowdflow/components"
	"github.com/pthm-cable/crowdflow/config"
	"github.com/pthm-cable/crowdflow/kinematics"
	"github.com/pthm-cable/crowdflow/overlay"
	"github.com/pthm-cable/crowdflow/sim"
	"github.com/pthm-cable/crowdflow/systems"
	"github.com/pthm-cable/crowdflow/telemetry"
)

// respawnDelay is how long arrived agents linger before being replaced.
const respawnDelay = 30

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	agents := flag.Int("agents", 2000, "Number of agents")
	goals := flag.Int("goals", 4, "Number of shared destinations")
	seed := flag.Int64("seed", 0, "RNG seed (0 = time-based)")
	maxTicks := flag.Int64("max-ticks", 3000, "Stop after N ticks (0 = until interrupted)")
	logStats := flag.Bool("log-stats", false, "Output stats windows via slog")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	carveAt := flag.Int64("carve-at", 0, "Tick at which a wall is carved through the middle (0 = never)")
	physics := flag.Bool("physics", false, "Move agents with the cp physics space instead of plain integration")
	overlayAddr := flag.String("overlay-addr", "", "Serve overlay frames on this address (overrides config)")
	snapshotPath := flag.String("snapshot", "", "Write a compressed overlay snapshot here on exit (default: <output-dir>/final.snap.zst)")
	watch := flag.Bool("watch", false, "Reload tuning when the config file changes")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *overlayAddr != "" {
		cfg.Overlay.Addr = *overlayAddr
	}

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(rngSeed))

	if err := run(cfg, runOptions{
		configPath: *configPath,
		agents:     *agents,
		goals:      *goals,
		seed:       rngSeed,
		maxTicks:   *maxTicks,
		logStats:   *logStats,
		outputDir:  *outputDir,
		carveAt:    *carveAt,
		physics:    *physics,
		snapshot:   *snapshotPath,
		watch:      *watch,
	}, rng); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

type runOptions struct {
	configPath string
	agents     int
	goals      int
	seed       int64
	maxTicks   int64
	logStats   bool
	outputDir  string
	carveAt    int64
	physics    bool
	snapshot   string
	watch      bool
}

func run(cfg *config.Config, opts runOptions, rng *rand.Rand) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	grid, err := sim.NewGrid(cfg.Grid)
	if err != nil {
		return err
	}

	output, err := telemetry.NewOutputManager(opts.outputDir)
	if err != nil {
		return err
	}
	if output != nil {
		defer output.Close()
		if err := output.WriteConfig(cfg); err != nil {
			return err
		}
	}

	s, err := sim.New(cfg, grid, sim.Options{Output: output, LogStats: opts.logStats})
	if err != nil {
		return err
	}
	walls := s.ApplyTerrain(systems.NewTerrainGenerator(cfg.Terrain))

	slog.Info("starting crowd bench",
		"seed", opts.seed,
		"agents", opts.agents,
		"goals", opts.goals,
		"grid_w", cfg.Grid.Width,
		"grid_h", cfg.Grid.Height,
		"walls", walls,
		"max_ticks", opts.maxTicks,
		"physics", opts.physics,
	)

	b := &bench{sim: s, rng: rng, view: s.Grid(), pending: make(map[components.AgentID]bool)}
	if err := b.requestGoals(ctx, opts.goals); err != nil {
		return err
	}
	for range opts.agents {
		if err := b.spawn(); err != nil {
			return err
		}
	}

	if opts.watch && opts.configPath != "" {
		w, err := config.Watch(opts.configPath, func(next *config.Config) {
			if err := s.ApplyTuning(next); err != nil {
				slog.Warn("tuning rejected", "error", err)
			}
		})
		if err != nil {
			return err
		}
		defer w.Close()
	}

	var server *overlay.Server
	if cfg.Overlay.Addr != "" {
		server = overlay.NewServer()
		go func() {
			if err := server.ListenAndServe(ctx, cfg.Overlay.Addr); err != nil {
				slog.Error("overlay server stopped", "error", err)
			}
		}()
	}

	var space *kinematics.Space
	if opts.physics {
		space = kinematics.NewSpace()
	}

	dt := cfg.Steering.DT
	start := time.Now()
	for opts.maxTicks == 0 || s.Tick() < opts.maxTicks {
		if err := s.Step(ctx); err != nil {
			if ctx.Err() != nil {
				slog.Info("interrupted", "tick", s.Tick())
				break
			}
			return err
		}

		if space != nil {
			if err := space.Update(s, dt); err != nil {
				return err
			}
		} else {
			s.Advance(dt)
		}

		tick := s.Tick()
		if opts.carveAt > 0 && tick == opts.carveAt {
			b.carve()
		}
		if tick%respawnDelay == 0 {
			if err := b.recycleArrived(); err != nil {
				return err
			}
		}
		if server != nil && server.Clients() > 0 && tick%int64(cfg.Overlay.IntervalTicks) == 0 {
			if err := server.Publish(overlay.Capture(s, b.handles[0].Key)); err != nil {
				slog.Warn("overlay publish failed", "error", err)
			}
		}
	}

	elapsed := time.Since(start)
	cache := s.CacheStats()
	slog.Info("crowd bench finished",
		"ticks", s.Tick(),
		"elapsed", elapsed.Round(time.Millisecond).String(),
		"ticks_per_sec", float64(s.Tick())/elapsed.Seconds(),
		"agents", s.Len(),
		"solves", cache.Solves,
		"hits", cache.Hits,
		"evictions", cache.Evictions,
	)
	s.Perf().LogStats()

	snapshot := opts.snapshot
	if snapshot == "" {
		snapshot = output.Path("final.snap.zst")
	}
	if snapshot != "" {
		if err := overlay.WriteSnapshot(snapshot, overlay.Capture(s, b.handles[0].Key)); err != nil {
			return err
		}
		slog.Info("snapshot written", "path", snapshot)
	}
	return nil
}

// bench drives agent churn for one run.
type bench struct {
	sim     *sim.Sim
	rng     *rand.Rand
	view    *systems.CostView
	handles []systems.FieldHandle
	pending map[components.AgentID]bool // arrived agents waiting to despawn
	spawned int
}

func (b *bench) randomOpenPoint() (r2.Vec, bool) {
	w, h := b.view.Width(), b.view.Height()
	c := systems.Cell{X: b.rng.Intn(w), Z: b.rng.Intn(h)}
	c, ok := b.view.SnapToWalkable(c, max(w, h)/4)
	if !ok {
		return r2.Vec{}, false
	}
	return b.view.CellToWorld(c), true
}

func (b *bench) requestGoals(ctx context.Context, n int) error {
	groups := make([][]r2.Vec, 0, max(n, 1))
	for len(groups) < cap(groups) {
		if p, ok := b.randomOpenPoint(); ok {
			groups = append(groups, []r2.Vec{p})
		}
	}
	handles, err := b.sim.RequestFields(ctx, groups...)
	if err != nil {
		return err
	}
	b.handles = handles
	return nil
}

func (b *bench) spawn() error {
	p, ok := b.randomOpenPoint()
	for !ok {
		p, ok = b.randomOpenPoint()
	}
	id := b.sim.Spawn(p)
	b.spawned++

	h := b.handles[b.rng.Intn(len(b.handles))]
	behavior := systems.BehaviorFlow
	var offset r2.Vec
	switch {
	case b.spawned%7 == 0:
		behavior = systems.BehaviorCautious
	case b.spawned%5 == 0:
		behavior = systems.BehaviorFormation
		offset = r2.Vec{X: b.rng.Float64()*6 - 3, Y: b.rng.Float64()*6 - 3}
	}
	return b.sim.SetDestination(id, h, offset, behavior)
}

// recycleArrived schedules arrived agents for removal and spawns replacements.
func (b *bench) recycleArrived() error {
	for _, a := range b.sim.Agents(nil) {
		if !a.Arrived || b.pending[a.ID] {
			continue
		}
		if err := b.sim.DespawnAfter(a.ID, respawnDelay); err != nil {
			return err
		}
		b.pending[a.ID] = true
		if err := b.spawn(); err != nil {
			return err
		}
	}
	for id := range b.pending {
		if _, err := b.sim.Agent(id); err != nil {
			delete(b.pending, id)
		}
	}
	return nil
}

// carve drops a wall across the middle of the grid with a gap at each end.
func (b *bench) carve() {
	o := b.view.Origin()
	size := b.view.CellSize()
	w, h := float64(b.view.Width())*size, float64(b.view.Height())*size
	midX := o.X + w/2
	cells := b.sim.MarkRegion(r2.Box{
		Min: r2.Vec{X: midX - size, Y: o.Y + h*0.15},
		Max: r2.Vec{X: midX + size, Y: o.Y + h*0.85},
	}, systems.CostImpassable)
	b.view = b.sim.Grid()
	slog.Info("wall carved", "tick", b.sim.Tick(), "cells", len(cells), "cached_fields", b.sim.CachedFields())
}
