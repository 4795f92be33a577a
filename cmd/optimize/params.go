package main

import (
	"github.com/pthm-cable/crowdflow/config"
)

// ParamSpec defines a single optimizable parameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Path    string  // Config path for logging
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Default value
}

// ParamVector holds the set of all optimizable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the standard set of steering and avoidance parameters.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			// Steering (max_speed and dt locked)
			{Name: "damping_time", Path: "steering.damping_time", Min: 0.05, Max: 1.0, Default: 0.25},
			{Name: "slowdown_radius", Path: "steering.slowdown_radius", Min: 1.0, Max: 12.0, Default: 6.0},
			{Name: "formation_blend_radius", Path: "steering.formation_blend_radius", Min: 2.0, Max: 16.0, Default: 8.0},
			// Avoidance
			{Name: "detection_radius", Path: "avoidance.detection_radius", Min: 1.0, Max: 8.0, Default: 4.0},
			{Name: "separation_weight", Path: "avoidance.separation_weight", Min: 0.0, Max: 6.0, Default: 2.0},
			{Name: "horizon", Path: "avoidance.horizon", Min: 0.5, Max: 5.0, Default: 2.5},
			{Name: "padding", Path: "avoidance.padding", Min: 0.0, Max: 0.5, Default: 0.1},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = min(max(v[i], spec.Min), spec.Max)
	}
	return clamped
}

// ApplyToConfig applies parameter values to a Config struct.
// Order must match Specs order.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	c := pv.Clamp(values)

	cfg.Steering.DampingTime = c[0]
	cfg.Steering.SlowdownRadius = max(c[1], cfg.Steering.StoppingDistance+0.1)
	cfg.Steering.FormationBlendRadius = c[2]

	cfg.Avoidance.DetectionRadius = c[3]
	cfg.Avoidance.SeparationWeight = c[4]
	cfg.Avoidance.Horizon = c[5]
	cfg.Avoidance.Padding = c[6]
}

// ExtractFromConfig extracts current parameter values from a Config struct.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	return []float64{
		cfg.Steering.DampingTime,
		cfg.Steering.SlowdownRadius,
		cfg.Steering.FormationBlendRadius,
		cfg.Avoidance.DetectionRadius,
		cfg.Avoidance.SeparationWeight,
		cfg.Avoidance.Horizon,
		cfg.Avoidance.Padding,
	}
}
