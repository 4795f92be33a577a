// Package sim hosts the crowd: agent registration, destinations, grid edits,
// and the per-tick steering step that drives every other system.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/crowdflow/camera"
	"github.com/pthm-cable/crowdflow/components"
	"github.com/pthm-cable/crowdflow/config"
	"github.com/pthm-cable/crowdflow/systems"
	"github.com/pthm-cable/crowdflow/telemetry"
)

// ErrUnknownAgent is returned for IDs that were never spawned or already despawned.
var ErrUnknownAgent = errors.New("unknown agent")

// Options configures host-side telemetry.
type Options struct {
	// StatsCallback receives every flushed stats window.
	StatsCallback func(telemetry.WindowStats)
	// Output receives stats, perf, and bookmark rows. Nil disables CSV output.
	Output *telemetry.OutputManager
	// LogStats logs stats and perf windows at Info level.
	LogStats bool
}

// Sim owns one cost grid, its field cache, and the agents steering over it.
// All methods are safe for concurrent use.
type Sim struct {
	mu   sync.Mutex
	cfg  *config.Config
	opts Options

	world *ecs.World

	agentMapper *ecs.Map7[
		components.Agent,
		components.Position,
		components.Velocity,
		components.Body,
		components.Steering,
		components.Nav,
		components.LOD,
	]
	agentFilter *ecs.Filter7[
		components.Agent,
		components.Position,
		components.Velocity,
		components.Body,
		components.Steering,
		components.Nav,
		components.LOD,
	]

	entities map[components.AgentID]ecs.Entity
	nextID   components.AgentID

	grid   *systems.CostGrid
	cache  *systems.FieldCache
	hash   *systems.SpatialHash
	scaler *systems.ScalingController
	events systems.Scheduler[event]
	camera *camera.Camera

	steering  systems.SteeringParams
	avoidance systems.AvoidanceParams
	body      components.Body

	parallel *parallelState

	perf      *telemetry.PerfCollector
	collector *telemetry.Collector
	bookmarks *telemetry.BookmarkDetector

	tick int64
}

// NewGrid creates an open cost grid with the configured shape.
func NewGrid(cfg config.GridConfig) (*systems.CostGrid, error) {
	return systems.NewCostGrid(r2.Vec{X: cfg.OriginX, Y: cfg.OriginZ}, cfg.CellSize, cfg.Width, cfg.Height)
}

// New creates a simulation over grid. The sim becomes the grid's single owner:
// later edits must go through MarkRegion so cached fields are invalidated.
func New(cfg *config.Config, grid *systems.CostGrid, opts Options) (*Sim, error) {
	cfg = cfg.Clone()
	if err := cfg.Refresh(); err != nil {
		return nil, err
	}

	rule, err := systems.ParseCornerRule(cfg.Grid.CornerRule)
	if err != nil {
		return nil, err
	}
	frontier, err := systems.ParseFrontier(cfg.Solver.Frontier)
	if err != nil {
		return nil, err
	}
	policy, err := systems.ParseInvalidation(cfg.Cache.Invalidation)
	if err != nil {
		return nil, err
	}
	cache, err := systems.NewFieldCache(grid, systems.NewSolver(frontier, rule), cfg.Cache.Capacity, policy)
	if err != nil {
		return nil, fmt.Errorf("creating field cache: %w", err)
	}

	worldW := float64(grid.Width()) * grid.CellSize()
	worldH := float64(grid.Height()) * grid.CellSize()
	bounds := r2.Box{Min: grid.Origin(), Max: r2.Add(grid.Origin(), r2.Vec{X: worldW, Y: worldH})}

	hashCell := cfg.Avoidance.DetectionRadius
	if hashCell <= 0 {
		hashCell = grid.CellSize()
	}

	world := ecs.NewWorld()

	s := &Sim{
		cfg:  cfg,
		opts: opts,

		world: world,
		agentMapper: ecs.NewMap7[
			components.Agent,
			components.Position,
			components.Velocity,
			components.Body,
			components.Steering,
			components.Nav,
			components.LOD,
		](world),
		agentFilter: ecs.NewFilter7[
			components.Agent,
			components.Position,
			components.Velocity,
			components.Body,
			components.Steering,
			components.Nav,
			components.LOD,
		](world),

		entities: make(map[components.AgentID]ecs.Entity),
		nextID:   1,

		grid:   grid,
		cache:  cache,
		hash:   systems.NewSpatialHash(grid.Origin(), worldW, worldH, hashCell),
		scaler: systems.NewScalingController(systems.ScalingParamsFromConfig(cfg)),
		camera: camera.New(worldW, worldH, bounds),

		perf:      telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow),
		collector: telemetry.NewCollector(float64(cfg.Telemetry.PerfWindow)*cfg.Steering.DT, cfg.Steering.DT),
		bookmarks: telemetry.NewBookmarkDetector(10),
	}
	s.applyTuning(cfg)

	slog.Debug("sim created",
		"grid_w", grid.Width(),
		"grid_h", grid.Height(),
		"cell_size", grid.CellSize(),
		"corner_rule", rule.String(),
		"frontier", frontier.String(),
		"cache_capacity", cfg.Cache.Capacity,
		"workers", cfg.Derived.Workers,
	)
	return s, nil
}

// ApplyTuning replaces steering, avoidance, scaling, and parallel settings.
// Grid shape, solver, and cache settings are fixed at construction.
func (s *Sim) ApplyTuning(cfg *config.Config) error {
	cfg = cfg.Clone()
	if err := cfg.Refresh(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg.Avoidance = cfg.Avoidance
	s.cfg.Steering = cfg.Steering
	s.cfg.Scaling = cfg.Scaling
	s.cfg.Parallel = cfg.Parallel
	s.cfg.Derived.Workers = cfg.Derived.Workers
	s.cfg.Derived.BatchLimit = cfg.Derived.BatchLimit
	s.applyTuning(s.cfg)

	slog.Info("tuning applied",
		"max_speed", cfg.Steering.MaxSpeed,
		"damping_time", cfg.Steering.DampingTime,
		"separation_weight", cfg.Avoidance.SeparationWeight,
		"batch_limit", cfg.Derived.BatchLimit,
	)
	return nil
}

func (s *Sim) applyTuning(cfg *config.Config) {
	s.steering = systems.SteeringParamsFromConfig(cfg.Steering)
	s.avoidance = systems.AvoidanceParamsFromConfig(cfg.Avoidance)
	s.body = components.BodyFromConfig(cfg.Steering)
	s.scaler.SetParams(systems.ScalingParamsFromConfig(cfg))
	s.parallel = newParallelState(cfg.Derived.Workers, cfg.Parallel.Threshold, s.avoidance)
}

// Spawn registers an agent with the configured default body.
func (s *Sim) Spawn(pos r2.Vec) components.AgentID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawn(pos, s.body)
}

// SpawnBody registers an agent with an explicit body.
func (s *Sim) SpawnBody(pos r2.Vec, body components.Body) components.AgentID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawn(pos, body)
}

func (s *Sim) spawn(pos r2.Vec, body components.Body) components.AgentID {
	id := s.nextID
	s.nextID++

	agent := components.Agent{ID: id}
	p := components.Position{X: pos.X, Y: pos.Y}
	vel := components.Velocity{}
	st := components.Steering{}
	nav := components.Nav{}
	lod := components.LOD{LastUpdate: -1}

	s.entities[id] = s.agentMapper.NewEntity(&agent, &p, &vel, &body, &st, &nav, &lod)
	s.collector.RecordSpawn()
	return id
}

// Despawn removes an agent. It stops taking part in avoidance immediately
// and any events scheduled for it are dropped.
func (s *Sim) Despawn(id components.AgentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.despawn(id)
}

func (s *Sim) despawn(id components.AgentID) error {
	e, ok := s.entities[id]
	if !ok {
		return fmt.Errorf("despawn %d: %w", id, ErrUnknownAgent)
	}
	s.world.RemoveEntity(e)
	delete(s.entities, id)
	s.events.Cancel(func(ev event) bool { return ev.Agent == id })
	s.collector.RecordDespawn()
	return nil
}

// Len returns the number of registered agents.
func (s *Sim) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

// Tick returns the number of completed steps.
func (s *Sim) Tick() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// MarkRegion sets the cost of every cell whose center lies in bounds and
// invalidates affected fields before returning. It returns the edited cells.
func (s *Sim) MarkRegion(bounds r2.Box, cost uint8) []systems.Cell {
	s.mu.Lock()
	defer s.mu.Unlock()

	cells := s.grid.MarkRegion(bounds, cost)
	if len(cells) == 0 {
		return nil
	}
	dropped := s.cache.InvalidateRegion(cells)
	s.collector.RecordGridEdit()

	slog.Debug("region marked",
		"tick", s.tick,
		"cells", len(cells),
		"cost", cost,
		"invalidated", dropped,
	)
	return cells
}

// RequestField returns a handle to the shared field for the given world-space
// destinations, solving it now if it is not cached. Destinations outside the
// grid are clamped to the border. Destinations in impassable cells are kept
// and yield a field with no guidance.
func (s *Sim) RequestField(ctx context.Context, destinations ...r2.Vec) (systems.FieldHandle, error) {
	h, err := s.handleFor(destinations)
	if err != nil {
		return systems.FieldHandle{}, err
	}
	if _, err := s.cache.GetOrSolve(ctx, h.Key); err != nil {
		return systems.FieldHandle{}, fmt.Errorf("requesting field %s: %w", h.Key, err)
	}
	return h, nil
}

// RequestFields is RequestField for several destination groups at once. The
// missing fields are solved concurrently.
func (s *Sim) RequestFields(ctx context.Context, groups ...[]r2.Vec) ([]systems.FieldHandle, error) {
	handles := make([]systems.FieldHandle, len(groups))
	keys := make([]systems.GoalKey, len(groups))
	for i, g := range groups {
		h, err := s.handleFor(g)
		if err != nil {
			return nil, fmt.Errorf("destination group %d: %w", i, err)
		}
		handles[i] = h
		keys[i] = h.Key
	}
	if err := s.cache.Warm(ctx, keys...); err != nil {
		return nil, fmt.Errorf("requesting fields: %w", err)
	}
	return handles, nil
}

func (s *Sim) handleFor(destinations []r2.Vec) (systems.FieldHandle, error) {
	if len(destinations) == 0 {
		return systems.FieldHandle{}, systems.ErrNoDestinations
	}
	goals := make([]systems.Cell, len(destinations))
	var center r2.Vec
	for i, d := range destinations {
		goals[i] = s.grid.WorldToCell(d)
		center = r2.Add(center, d)
	}
	key, _ := systems.KeyFor(goals)
	return systems.FieldHandle{
		Key:    key,
		Target: r2.Scale(1/float64(len(destinations)), center),
	}, nil
}

// ApplyTerrain rewrites every cell cost from t and drops all cached fields.
// It returns the number of impassable cells.
func (s *Sim) ApplyTerrain(t *systems.TerrainGenerator) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	walls := t.Apply(s.grid)
	dropped := s.cache.InvalidateAll()
	s.collector.RecordGridEdit()
	slog.Info("terrain applied", "tick", s.tick, "walls", walls, "invalidated", dropped)
	return walls
}

// SetDestination points an agent at a field. The agent's own destination is
// the handle's target plus offset; a non-zero offset makes it hold a
// formation slot.
func (s *Sim) SetDestination(id components.AgentID, h systems.FieldHandle, offset r2.Vec, behavior systems.BehaviorID) error {
	if !h.Valid() {
		return systems.ErrNoDestinations
	}
	if !behavior.Valid() {
		return fmt.Errorf("unknown behavior %d", behavior)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return fmt.Errorf("set destination %d: %w", id, ErrUnknownAgent)
	}
	_, _, _, _, st, nav, _ := s.agentMapper.Get(e)
	*nav = components.Nav{
		Key:      string(h.Key),
		Target:   h.Target,
		Offset:   offset,
		Behavior: uint8(behavior),
	}
	rate := st.Rate
	st.Reset()
	st.Rate = rate
	return nil
}

// Stop clears an agent's destination. Its velocity decays to zero.
func (s *Sim) Stop(id components.AgentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop(id)
}

func (s *Sim) stop(id components.AgentID) error {
	e, ok := s.entities[id]
	if !ok {
		return fmt.Errorf("stop %d: %w", id, ErrUnknownAgent)
	}
	_, _, _, _, st, nav, _ := s.agentMapper.Get(e)
	*nav = components.Nav{}
	rate := st.Rate
	st.Reset()
	st.Rate = rate
	return nil
}

// SetPosition moves an agent. Kinematic owners call this after integrating
// the velocity returned by Step or ComputeVelocity.
func (s *Sim) SetPosition(id components.AgentID, p r2.Vec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return fmt.Errorf("set position %d: %w", id, ErrUnknownAgent)
	}
	_, pos, _, _, _, _, _ := s.agentMapper.Get(e)
	pos.X, pos.Y = p.X, p.Y
	return nil
}

// Focus moves the viewer focus used for LOD tiers.
func (s *Sim) Focus(p r2.Vec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.camera.MoveTo(p.X, p.Y)
}
