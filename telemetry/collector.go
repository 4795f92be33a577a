package telemetry

// Collector accumulates events within tick windows and produces WindowStats.
type Collector struct {
	windowDurationTicks int64
	dt                  float64

	windowStartTick int64

	// Event counters for current window
	spawns       int
	despawns     int
	arrivals     int
	newlyBlocked int
	updates      int
	gridEdits    int

	// Cache counters at the start of the window
	lastCache CacheCounters
}

// NewCollector creates a new stats collector.
// windowDurationSec: how long each stats window lasts in simulation seconds
// dt: seconds per tick (used for tick-to-time conversion)
func NewCollector(windowDurationSec, dt float64) *Collector {
	ticksPerWindow := int64(1)
	if dt > 0 {
		ticksPerWindow = int64(windowDurationSec / dt)
	}
	if ticksPerWindow < 1 {
		ticksPerWindow = 1
	}
	return &Collector{
		windowDurationTicks: ticksPerWindow,
		dt:                  dt,
	}
}

// RecordSpawn records an agent entering the crowd.
func (c *Collector) RecordSpawn() { c.spawns++ }

// RecordDespawn records an agent leaving the crowd.
func (c *Collector) RecordDespawn() { c.despawns++ }

// RecordArrival records an agent reaching its destination.
func (c *Collector) RecordArrival() { c.arrivals++ }

// RecordBlocked records an agent transitioning into the blocked state.
func (c *Collector) RecordBlocked() { c.newlyBlocked++ }

// RecordUpdates records n steering evaluations.
func (c *Collector) RecordUpdates(n int) { c.updates += n }

// RecordGridEdit records a cost grid modification.
func (c *Collector) RecordGridEdit() { c.gridEdits++ }

// ShouldFlush returns true if enough ticks have passed to flush the window.
func (c *Collector) ShouldFlush(currentTick int64) bool {
	return currentTick-c.windowStartTick >= c.windowDurationTicks
}

// CacheCounters mirrors the field cache's cumulative counters.
type CacheCounters struct {
	Hits          uint64
	Misses        uint64
	Solves        uint64
	Evictions     uint64
	Invalidations uint64
	Len           int
}

// Population is the crowd state sampled at window end.
type Population struct {
	Agents  int
	Active  int
	Arrived int
	Blocked int
	Speeds  []float64 // speeds of active agents
}

// Flush produces a WindowStats and resets counters for the next window.
// Cache counters are cumulative; the window reports their increase.
func (c *Collector) Flush(currentTick int64, pop Population, cache CacheCounters) WindowStats {
	mean, p10, p50, p90 := ComputeSpeedStats(pop.Speeds)

	hits := sub(cache.Hits, c.lastCache.Hits)
	misses := sub(cache.Misses, c.lastCache.Misses)
	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	stats := WindowStats{
		WindowStartTick: c.windowStartTick,
		WindowEndTick:   currentTick,
		SimTimeSec:      float64(currentTick) * c.dt,

		Agents:  pop.Agents,
		Active:  pop.Active,
		Arrived: pop.Arrived,
		Blocked: pop.Blocked,

		Spawns:       c.spawns,
		Despawns:     c.despawns,
		Arrivals:     c.arrivals,
		NewlyBlocked: c.newlyBlocked,
		Updates:      c.updates,
		GridEdits:    c.gridEdits,

		SpeedMean: mean,
		SpeedP10:  p10,
		SpeedP50:  p50,
		SpeedP90:  p90,

		CacheHits:          hits,
		CacheMisses:        misses,
		CacheSolves:        sub(cache.Solves, c.lastCache.Solves),
		CacheEvictions:     sub(cache.Evictions, c.lastCache.Evictions),
		CacheInvalidations: sub(cache.Invalidations, c.lastCache.Invalidations),
		CacheHitRate:       hitRate,
		CachedFields:       cache.Len,
	}

	c.windowStartTick = currentTick
	c.spawns = 0
	c.despawns = 0
	c.arrivals = 0
	c.newlyBlocked = 0
	c.updates = 0
	c.gridEdits = 0
	c.lastCache = cache

	return stats
}

// WindowDurationTicks returns the number of ticks per window.
func (c *Collector) WindowDurationTicks() int64 {
	return c.windowDurationTicks
}

func sub(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return a - b
}
