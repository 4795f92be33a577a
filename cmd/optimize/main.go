// Package main provides CMA-ES optimization of steering and avoidance
// parameters for crowd throughput on crossing-crowd scenarios.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gonum.org/v1/gonum/optimize"

	"github.com/pthm-cable/crowdflow/config"
)

// formatDuration formats a duration as 1h02m03s, or 2m03s below an hour.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h, m, s := d/time.Hour, (d%time.Hour)/time.Minute, (d%time.Minute)/time.Second
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

// tracker records every evaluation to optimize_log.csv and keeps the best
// clamped parameters seen, since CMA-ES reports only its final mean.
type tracker struct {
	params    *ParamVector
	evaluator *FitnessEvaluator
	out       *csv.Writer
	maxEvals  int
	start     time.Time

	evals       int
	bestFitness float64
	bestParams  []float64
}

func newTracker(params *ParamVector, evaluator *FitnessEvaluator, out *csv.Writer, maxEvals int) *tracker {
	header := []string{"eval", "fitness", "arrived", "quality"}
	for _, spec := range params.Specs {
		header = append(header, spec.Name)
	}
	out.Write(header)
	return &tracker{
		params:      params,
		evaluator:   evaluator,
		out:         out,
		maxEvals:    maxEvals,
		start:       time.Now(),
		bestFitness: 1e9,
	}
}

// evaluate is the optimize.Problem objective over normalized parameters.
func (t *tracker) evaluate(x []float64) float64 {
	raw := t.params.Denormalize(x)
	fitness := t.evaluator.Evaluate(raw)
	t.evals++

	used := t.params.Clamp(raw)
	if fitness < t.bestFitness {
		t.bestFitness = fitness
		t.bestParams = used
	}

	arrived, quality := t.evaluator.LastArrived(), t.evaluator.LastQuality()
	row := []string{
		strconv.Itoa(t.evals),
		strconv.FormatFloat(fitness, 'f', 6, 64),
		strconv.FormatFloat(arrived, 'f', 4, 64),
		strconv.FormatFloat(quality, 'f', 4, 64),
	}
	for _, v := range used {
		row = append(row, strconv.FormatFloat(v, 'f', 6, 64))
	}
	t.out.Write(row)
	t.out.Flush()

	elapsed := time.Since(t.start)
	remaining := time.Duration(t.maxEvals-t.evals) * (elapsed / time.Duration(t.evals))
	fmt.Printf("Eval %d/%d: arrived=%.1f%% quality=%.2f (best=%.4f) | elapsed: %s, ETA: %s\n",
		t.evals, t.maxEvals, arrived*100, quality, t.bestFitness,
		formatDuration(elapsed), formatDuration(remaining))
	return fitness
}

func main() {
	configPath := flag.String("config", "", "Base config YAML file (empty = use defaults)")
	maxTicks := flag.Int64("max-ticks", 1200, "Simulation ticks per evaluation run")
	agents := flag.Int("agents", 400, "Agents per evaluation run")
	seeds := flag.Int("seeds", 3, "Number of seeds per evaluation")
	maxEvals := flag.Int("max-evals", 100, "Maximum number of evaluations")
	population := flag.Int("population", 0, "CMA-ES population size (0 = auto)")
	outputDir := flag.String("output", "", "Output directory for results")
	flag.Parse()

	if *outputDir == "" {
		log.Fatal("--output is required")
	}
	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	baseCfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	params := NewParamVector()
	evalSeeds := make([]int64, *seeds)
	for i := range evalSeeds {
		evalSeeds[i] = int64(i*1000 + 42)
	}
	evaluator := NewFitnessEvaluator(params, *maxTicks, *agents, evalSeeds, baseCfg)

	logFile, err := os.Create(filepath.Join(*outputDir, "optimize_log.csv"))
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()
	logWriter := csv.NewWriter(logFile)
	defer logWriter.Flush()

	track := newTracker(params, evaluator, logWriter, *maxEvals)

	dim := params.Dim()
	popSize := *population
	if popSize == 0 {
		popSize = 4 + 3*dim/2
	}
	method := &optimize.CmaEsChol{
		InitStepSize: 0.3,
		Population:   popSize,
	}
	// Seeds already run in parallel inside each evaluation.
	settings := &optimize.Settings{FuncEvaluations: *maxEvals}

	fmt.Printf("Starting CMA-ES optimization with %d parameters, population=%d, max_evals=%d\n",
		dim, popSize, *maxEvals)
	fmt.Printf("Seeds per evaluation: %d, agents: %d, ticks per run: %d\n", *seeds, *agents, *maxTicks)

	initX := params.Normalize(params.Clamp(params.ExtractFromConfig(baseCfg)))
	result, err := optimize.Minimize(optimize.Problem{Func: track.evaluate}, initX, settings, method)
	if err != nil {
		log.Printf("optimization ended: %v", err)
	}

	best := track.bestParams
	if best == nil && result != nil {
		best = params.Clamp(params.Denormalize(result.X))
	}
	if best == nil {
		log.Fatal("no evaluations completed")
	}

	fmt.Printf("\nOptimization complete after %d evaluations in %s\n", track.evals, formatDuration(time.Since(track.start)))
	fmt.Printf("Best fitness: %.4f\n", track.bestFitness)
	fmt.Println("\nBest parameters:")
	for i, spec := range params.Specs {
		fmt.Printf("  %s (%s): %.6f\n", spec.Name, spec.Path, best[i])
	}

	bestCfg := baseCfg.Clone()
	params.ApplyToConfig(bestCfg, best)
	if err := bestCfg.Refresh(); err != nil {
		log.Fatalf("best config is invalid: %v", err)
	}
	configOutPath := filepath.Join(*outputDir, "best_config.yaml")
	if err := bestCfg.WriteYAML(configOutPath); err != nil {
		log.Printf("failed to write best config: %v", err)
		return
	}
	fmt.Printf("\nBest config saved to: %s\n", configOutPath)
}
