package components

import "github.com/pthm-cable/crowdflow/config"

// Body holds the physical limits of an agent.
type Body struct {
	Radius   float64 // Avoidance radius
	MaxSpeed float64 // Output velocity clamp
}

// BodyFromConfig returns the default body for new agents.
func BodyFromConfig(cfg config.SteeringConfig) Body {
	return Body{
		Radius:   cfg.Radius,
		MaxSpeed: cfg.MaxSpeed,
	}
}
