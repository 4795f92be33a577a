package sim

import (
	"log/slog"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/crowdflow/telemetry"
)

// flushTelemetry checks if the stats window should be flushed and handles bookmarks.
func (s *Sim) flushTelemetry() {
	if !s.collector.ShouldFlush(s.tick) {
		return
	}

	cs := s.cache.Stats()
	stats := s.collector.Flush(s.tick, s.samplePopulation(), telemetry.CacheCounters{
		Hits:          cs.Hits,
		Misses:        cs.Misses,
		Solves:        cs.Solves,
		Evictions:     cs.Evictions,
		Invalidations: cs.Invalidations,
		Len:           s.cache.Len(),
	})
	perfStats := s.perf.Stats()

	if s.opts.StatsCallback != nil {
		s.opts.StatsCallback(stats)
	}

	if s.opts.LogStats {
		stats.LogStats()
		perfStats.LogStats()
	}

	if s.opts.Output != nil {
		if err := s.opts.Output.WriteTelemetry(stats); err != nil {
			slog.Error("failed to write telemetry", "error", err)
		}
		if err := s.opts.Output.WritePerf(perfStats, stats.WindowEndTick); err != nil {
			slog.Error("failed to write perf", "error", err)
		}
	}

	for _, bm := range s.bookmarks.Check(stats) {
		if s.opts.LogStats {
			bm.LogBookmark()
		}
		if s.opts.Output != nil {
			if err := s.opts.Output.WriteBookmark(bm); err != nil {
				slog.Error("failed to write bookmark", "error", err)
			}
		}
	}
}

// samplePopulation counts agent states and collects speeds of agents with a destination.
func (s *Sim) samplePopulation() telemetry.Population {
	var pop telemetry.Population

	query := s.agentFilter.Query()
	for query.Next() {
		_, _, vel, _, st, nav, _ := query.Get()
		pop.Agents++
		if !nav.Active() {
			continue
		}
		pop.Active++
		pop.Speeds = append(pop.Speeds, r2.Norm(vel.Vec()))
		if st.Arrived {
			pop.Arrived++
		}
		if st.Blocked {
			pop.Blocked++
		}
	}
	return pop
}
