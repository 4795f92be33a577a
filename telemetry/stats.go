package telemetry

import (
	"log/slog"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated crowd statistics for a tick window.
type WindowStats struct {
	WindowStartTick int64   `csv:"-"`
	WindowEndTick   int64   `csv:"window_end"`
	SimTimeSec      float64 `csv:"sim_time"`

	// Population at window end
	Agents  int `csv:"agents"`
	Active  int `csv:"active"` // agents with a destination
	Arrived int `csv:"arrived"`
	Blocked int `csv:"blocked"`

	// Events during window
	Spawns       int `csv:"spawns"`
	Despawns     int `csv:"despawns"`
	Arrivals     int `csv:"arrivals"`
	NewlyBlocked int `csv:"newly_blocked"`
	Updates      int `csv:"updates"` // steering evaluations performed
	GridEdits    int `csv:"grid_edits"`

	// Speed distribution of active agents (sampled at window end)
	SpeedMean float64 `csv:"speed_mean"`
	SpeedP10  float64 `csv:"speed_p10"`
	SpeedP50  float64 `csv:"speed_p50"`
	SpeedP90  float64 `csv:"speed_p90"`

	// Field cache activity during window
	CacheHits          uint64  `csv:"cache_hits"`
	CacheMisses        uint64  `csv:"cache_misses"`
	CacheSolves        uint64  `csv:"cache_solves"`
	CacheEvictions     uint64  `csv:"cache_evictions"`
	CacheInvalidations uint64  `csv:"cache_invalidations"`
	CacheHitRate       float64 `csv:"cache_hit_rate"`
	CachedFields       int     `csv:"cached_fields"`
}

// ComputeSpeedStats returns the mean and percentiles of the given speeds.
func ComputeSpeedStats(values []float64) (mean, p10, p50, p90 float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	mean = stat.Mean(sorted, nil)
	p10 = stat.Quantile(0.10, stat.Empirical, sorted, nil)
	p50 = stat.Quantile(0.50, stat.Empirical, sorted, nil)
	p90 = stat.Quantile(0.90, stat.Empirical, sorted, nil)
	return mean, p10, p50, p90
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("window_start", s.WindowStartTick),
		slog.Int64("window_end", s.WindowEndTick),
		slog.Float64("sim_time", s.SimTimeSec),
		slog.Int("agents", s.Agents),
		slog.Int("active", s.Active),
		slog.Int("arrived", s.Arrived),
		slog.Int("blocked", s.Blocked),
		slog.Int("spawns", s.Spawns),
		slog.Int("despawns", s.Despawns),
		slog.Int("arrivals", s.Arrivals),
		slog.Int("newly_blocked", s.NewlyBlocked),
		slog.Int("updates", s.Updates),
		slog.Int("grid_edits", s.GridEdits),
		slog.Float64("speed_mean", s.SpeedMean),
		slog.Float64("speed_p10", s.SpeedP10),
		slog.Float64("speed_p50", s.SpeedP50),
		slog.Float64("speed_p90", s.SpeedP90),
		slog.Uint64("cache_hits", s.CacheHits),
		slog.Uint64("cache_misses", s.CacheMisses),
		slog.Uint64("cache_solves", s.CacheSolves),
		slog.Uint64("cache_evictions", s.CacheEvictions),
		slog.Uint64("cache_invalidations", s.CacheInvalidations),
		slog.Float64("cache_hit_rate", s.CacheHitRate),
		slog.Int("cached_fields", s.CachedFields),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats",
		"window_end", s.WindowEndTick,
		"sim_time", s.SimTimeSec,
		"agents", s.Agents,
		"active", s.Active,
		"arrived", s.Arrived,
		"blocked", s.Blocked,
		"speed_p50", s.SpeedP50,
		"cache_hit_rate", s.CacheHitRate,
		"cache_solves", s.CacheSolves,
	)
}
