package systems

import (
	"github.com/pthm-cable/crowdflow/config"
)

// Tier is an agent's update-frequency class.
type Tier uint8

const (
	TierNear Tier = iota // Every tick, full avoidance
	TierMid              // Every MidDivisor ticks, full avoidance
	TierFar              // Every FarDivisor ticks, flow only
)

func (t Tier) String() string {
	switch t {
	case TierNear:
		return "near"
	case TierMid:
		return "mid"
	}
	return "far"
}

// ScalingParams configures batching and tiers.
type ScalingParams struct {
	BatchLimit   int // Max agents updated per tick; 0 means unbounded
	NearDistance float64
	MidDistance  float64
	MidDivisor   int
	FarDivisor   int
}

// ScalingParamsFromConfig converts config values.
func ScalingParamsFromConfig(cfg *config.Config) ScalingParams {
	return ScalingParams{
		BatchLimit:   cfg.Derived.BatchLimit,
		NearDistance: cfg.Scaling.NearDistance,
		MidDistance:  cfg.Scaling.MidDistance,
		MidDivisor:   max(cfg.Scaling.MidDivisor, 1),
		FarDivisor:   max(cfg.Scaling.FarDivisor, 1),
	}
}

// LODInput is one agent's scheduling state.
type LODInput struct {
	Distance   float64 // Distance to the viewer focus
	LastUpdate int64   // Tick of the last update; negative if never updated
}

// Selection is an agent chosen for update this tick.
type Selection struct {
	Index   int   // Slot in the input slice
	Tier    Tier
	Elapsed int64 // Ticks since the agent's last update
	Avoid   bool  // Whether to run local avoidance
}

// ScalingController picks which agents update each tick.
// It only amortizes cost; agents not selected keep their last velocity.
type ScalingController struct {
	params ScalingParams
	cursor int
}

// NewScalingController creates a controller.
func NewScalingController(params ScalingParams) *ScalingController {
	return &ScalingController{params: params}
}

// SetParams replaces the tier and batch settings, keeping the round-robin cursor.
func (s *ScalingController) SetParams(params ScalingParams) {
	s.params = params
}

// TierFor classifies a distance to the viewer focus.
func (s *ScalingController) TierFor(dist float64) Tier {
	switch {
	case dist <= s.params.NearDistance:
		return TierNear
	case dist <= s.params.MidDistance:
		return TierMid
	}
	return TierFar
}

// Divisor returns how many ticks apart a tier updates.
func (s *ScalingController) Divisor(t Tier) int64 {
	switch t {
	case TierNear:
		return 1
	case TierMid:
		return int64(s.params.MidDivisor)
	}
	return int64(s.params.FarDivisor)
}

// Select appends the agents due this tick to dst, walking round-robin from
// where the previous tick stopped and stopping at the batch limit.
func (s *ScalingController) Select(tick int64, agents []LODInput, dst []Selection) []Selection {
	n := len(agents)
	if n == 0 {
		return dst
	}
	limit := s.params.BatchLimit
	if limit <= 0 {
		limit = n
	}
	if s.cursor >= n {
		s.cursor = 0
	}
	maxElapsed := 2 * int64(s.params.FarDivisor)

	picked := 0
	i := s.cursor
	for range n {
		a := agents[i]
		tier := s.TierFor(a.Distance)
		elapsed := tick - a.LastUpdate
		if a.LastUpdate < 0 {
			elapsed = 1
		}
		if a.LastUpdate < 0 || elapsed >= s.Divisor(tier) {
			dst = append(dst, Selection{
				Index:   i,
				Tier:    tier,
				Elapsed: min(max(elapsed, 1), maxElapsed),
				Avoid:   tier != TierFar,
			})
			picked++
		}
		i++
		if i == n {
			i = 0
		}
		if picked >= limit {
			break
		}
	}
	s.cursor = i
	return dst
}
