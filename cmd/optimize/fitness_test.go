package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/crowdflow/config"
	"github.com/pthm-cable/crowdflow/telemetry"
)

func TestParamVectorBounds(t *testing.T) {
	pv := NewParamVector()
	cfg := config.Default()

	extracted := pv.ExtractFromConfig(cfg)
	require.Len(t, extracted, pv.Dim())
	assert.InDeltaSlice(t, pv.DefaultVector(), extracted, 1e-9, "defaults match the embedded config")

	norm := pv.Normalize(extracted)
	assert.InDeltaSlice(t, extracted, pv.Denormalize(norm), 1e-9)

	// Out-of-range values are clamped before they reach the config.
	wild := make([]float64, pv.Dim())
	for i := range wild {
		wild[i] = -100
	}
	pv.ApplyToConfig(cfg, wild)
	require.NoError(t, cfg.Refresh())
	assert.Equal(t, pv.Specs[0].Min, cfg.Steering.DampingTime)
	assert.Greater(t, cfg.Steering.SlowdownRadius, cfg.Steering.StoppingDistance)
}

func TestComputeQuality(t *testing.T) {
	fe := NewFitnessEvaluator(NewParamVector(), 10, 4, []int64{1}, config.Default())
	maxSpeed := fe.baseConfig.Steering.MaxSpeed

	assert.Zero(t, fe.computeQuality(nil))

	good := []telemetry.WindowStats{
		{Agents: 10, Active: 10},
		{Agents: 10, Active: 10, SpeedP10: maxSpeed, SpeedP50: maxSpeed},
		{Agents: 10, Active: 10, SpeedP10: maxSpeed, SpeedP50: maxSpeed},
	}
	assert.InDelta(t, 1.0, fe.computeQuality(good), 1e-9)

	jammed := []telemetry.WindowStats{
		{Agents: 10, Active: 10},
		{Agents: 10, Active: 10, Blocked: 10},
	}
	assert.Zero(t, fe.computeQuality(jammed))

	slow := []telemetry.WindowStats{
		{Agents: 10, Active: 10},
		{Agents: 10, Active: 10, SpeedP10: 0.1 * maxSpeed, SpeedP50: 0.5 * maxSpeed},
	}
	q := fe.computeQuality(slow)
	assert.Greater(t, q, 0.0)
	assert.Less(t, q, fe.computeQuality(good))
}

func TestComputeFitness(t *testing.T) {
	assert.Zero(t, computeFitness(runResult{failed: true, arrivedFrac: 1}, 1))
	assert.InDelta(t, -1.2, computeFitness(runResult{arrivedFrac: 1}, 1), 1e-9)
	assert.Less(t, computeFitness(runResult{arrivedFrac: 0.8}, 0.5), computeFitness(runResult{arrivedFrac: 0.5}, 0.5))
}

func TestRunSimulationSmoke(t *testing.T) {
	cfg := config.Default()
	cfg.Grid.Width = 32
	cfg.Grid.Height = 32
	cfg.Telemetry.PerfWindow = 20
	require.NoError(t, cfg.Refresh())

	pv := NewParamVector()
	fe := NewFitnessEvaluator(pv, 60, 8, []int64{7}, cfg)
	fitness := fe.Evaluate(pv.DefaultVector())

	assert.LessOrEqual(t, fitness, 0.0)
	assert.GreaterOrEqual(t, fe.LastArrived(), 0.0)
	assert.LessOrEqual(t, fe.LastArrived(), 1.0)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0m05s", formatDuration(5*time.Second))
	assert.Equal(t, "2m03s", formatDuration(2*time.Minute+3400*time.Millisecond))
	assert.Equal(t, "1h02m03s", formatDuration(time.Hour+2*time.Minute+3*time.Second))
}
