// Package config provides configuration loading and access for the crowd simulation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Validation errors. Config.Validate joins every failure it finds.
var (
	ErrInvalidCellSize = errors.New("grid cell size must be positive")
	ErrEmptyGrid       = errors.New("grid width and height must be positive")
	ErrInvalidCapacity = errors.New("cache capacity must be positive")
	ErrInvalidBatch    = errors.New("scaling batch settings must not be negative")
	ErrInvalidTiers    = errors.New("scaling tier distances and divisors are inconsistent")
	ErrInvalidSteering = errors.New("steering parameters are inconsistent")
)

// Config holds all simulation configuration parameters.
type Config struct {
	Grid      GridConfig      `yaml:"grid"`
	Solver    SolverConfig    `yaml:"solver"`
	Cache     CacheConfig     `yaml:"cache"`
	Avoidance AvoidanceConfig `yaml:"avoidance"`
	Steering  SteeringConfig  `yaml:"steering"`
	Scaling   ScalingConfig   `yaml:"scaling"`
	Parallel  ParallelConfig  `yaml:"parallel"`
	Terrain   TerrainConfig   `yaml:"terrain"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Overlay   OverlayConfig   `yaml:"overlay"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// GridConfig describes the cost grid. Shape is fixed at construction.
type GridConfig struct {
	OriginX    float64 `yaml:"origin_x"`    // World X of cell (0,0)'s corner
	OriginZ    float64 `yaml:"origin_z"`    // World Z of cell (0,0)'s corner
	CellSize   float64 `yaml:"cell_size"`   // World units per cell edge
	Width      int     `yaml:"width"`       // Cells along X
	Height     int     `yaml:"height"`      // Cells along Z
	CornerRule string  `yaml:"corner_rule"` // "both" or "either"
}

// SolverConfig selects the integration frontier.
type SolverConfig struct {
	Frontier string `yaml:"frontier"` // "bucket" or "heap"
}

// CacheConfig holds field cache parameters.
type CacheConfig struct {
	Capacity     int    `yaml:"capacity"`
	Invalidation string `yaml:"invalidation"` // "all" or "footprint"
}

// AvoidanceConfig holds local avoidance parameters.
type AvoidanceConfig struct {
	DetectionRadius  float64 `yaml:"detection_radius"`  // Neighbor query radius
	SeparationWeight float64 `yaml:"separation_weight"` // Push strength numerator (units)
	Horizon          float64 `yaml:"horizon"`           // Look-ahead in seconds
	Padding          float64 `yaml:"padding"`           // Added to combined radius
	MinTimeToCollide float64 `yaml:"min_time_to_collide"`
	MaxNeighbors     int     `yaml:"max_neighbors"`
	NaiveScanLimit   int     `yaml:"naive_scan_limit"` // Populations up to this size skip the spatial hash
}

// SteeringConfig holds per-agent steering defaults.
type SteeringConfig struct {
	MaxSpeed             float64 `yaml:"max_speed"`
	Radius               float64 `yaml:"radius"`
	DampingTime          float64 `yaml:"damping_time"`           // Critical damping time constant (s)
	SlowdownRadius       float64 `yaml:"slowdown_radius"`        // Arrival deceleration starts here
	StoppingDistance     float64 `yaml:"stopping_distance"`      // Speed reaches zero here
	BlockedGrace         float64 `yaml:"blocked_grace"`          // Seconds without guidance before "blocked"
	FormationBlendRadius float64 `yaml:"formation_blend_radius"` // Offset dominates inside this distance
	DT                   float64 `yaml:"dt"`                     // Seconds per tick
}

// ScalingConfig holds batching and LOD tier parameters.
type ScalingConfig struct {
	BatchSize      int     `yaml:"batch_size"`       // Agents per batch (0 = single batch)
	BatchesPerTick int     `yaml:"batches_per_tick"` // Batches processed per tick (0 = all)
	NearDistance   float64 `yaml:"near_distance"`
	MidDistance    float64 `yaml:"mid_distance"`
	MidDivisor     int     `yaml:"mid_divisor"` // Mid tier updates every Nth tick
	FarDivisor     int     `yaml:"far_divisor"` // Far tier updates every Mth tick
}

// ParallelConfig controls the worker fan-out for agent updates.
type ParallelConfig struct {
	Threshold int `yaml:"threshold"` // Minimum agents before going parallel
	Workers   int `yaml:"workers"`   // 0 = GOMAXPROCS
}

// TerrainConfig holds procedural cost generation parameters.
type TerrainConfig struct {
	Seed          int64   `yaml:"seed"`
	Scale         float64 `yaml:"scale"`          // Noise frequency per cell
	MaxCost       int     `yaml:"max_cost"`       // Roughest traversable cost
	WallThreshold float64 `yaml:"wall_threshold"` // Noise above this is impassable
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	PerfWindow int `yaml:"perf_window"` // Ticks per perf window
}

// OverlayConfig holds debug overlay parameters.
type OverlayConfig struct {
	Addr          string `yaml:"addr"`           // Empty disables the observer server
	IntervalTicks int    `yaml:"interval_ticks"` // Ticks between frames
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	Workers    int     // Resolved worker count
	WorldW     float64 // Grid width in world units
	WorldH     float64 // Grid height in world units
	BatchLimit int     // Max agents updated per tick (0 = unbounded)
}

// Default returns the embedded default configuration.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Refresh(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Refresh validates the config and recomputes derived values.
// Call it after editing fields of a loaded config.
func (c *Config) Refresh() error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	c.computeDerived()
	return nil
}

// Validate reports every construction-time configuration error.
func (c *Config) Validate() error {
	var errs []error

	if c.Grid.CellSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidCellSize, c.Grid.CellSize))
	}
	if c.Grid.Width <= 0 || c.Grid.Height <= 0 {
		errs = append(errs, fmt.Errorf("%w: %dx%d", ErrEmptyGrid, c.Grid.Width, c.Grid.Height))
	}
	switch c.Grid.CornerRule {
	case "both", "either":
	default:
		errs = append(errs, fmt.Errorf("unknown corner rule %q", c.Grid.CornerRule))
	}
	switch c.Solver.Frontier {
	case "bucket", "heap":
	default:
		errs = append(errs, fmt.Errorf("unknown solver frontier %q", c.Solver.Frontier))
	}
	if c.Cache.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidCapacity, c.Cache.Capacity))
	}
	switch c.Cache.Invalidation {
	case "all", "footprint":
	default:
		errs = append(errs, fmt.Errorf("unknown cache invalidation policy %q", c.Cache.Invalidation))
	}
	if c.Scaling.BatchSize < 0 || c.Scaling.BatchesPerTick < 0 {
		errs = append(errs, ErrInvalidBatch)
	}
	if c.Scaling.NearDistance < 0 || c.Scaling.MidDistance < c.Scaling.NearDistance ||
		c.Scaling.MidDivisor < 1 || c.Scaling.FarDivisor < c.Scaling.MidDivisor {
		errs = append(errs, ErrInvalidTiers)
	}
	s := c.Steering
	if s.MaxSpeed <= 0 || s.Radius < 0 || s.DampingTime <= 0 || s.DT <= 0 ||
		s.StoppingDistance < 0 || s.SlowdownRadius <= s.StoppingDistance {
		errs = append(errs, ErrInvalidSteering)
	}
	if c.Telemetry.PerfWindow < 1 {
		errs = append(errs, fmt.Errorf("telemetry perf window must be at least 1, got %d", c.Telemetry.PerfWindow))
	}
	if c.Overlay.IntervalTicks < 1 {
		errs = append(errs, fmt.Errorf("overlay interval must be at least 1 tick, got %d", c.Overlay.IntervalTicks))
	}

	return errors.Join(errs...)
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.Workers = c.Parallel.Workers
	if c.Derived.Workers <= 0 {
		c.Derived.Workers = runtime.GOMAXPROCS(0)
	}
	c.Derived.WorldW = float64(c.Grid.Width) * c.Grid.CellSize
	c.Derived.WorldH = float64(c.Grid.Height) * c.Grid.CellSize

	c.Derived.BatchLimit = 0
	if c.Scaling.BatchSize > 0 && c.Scaling.BatchesPerTick > 0 {
		c.Derived.BatchLimit = c.Scaling.BatchSize * c.Scaling.BatchesPerTick
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	dup := *c
	return &dup
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
