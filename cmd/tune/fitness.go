package main

import (
	"math"
	"sync"

	"github.com/pthm-cable/flux/config"
	"github.com/pthm-cable/flux/gpu/cpu"
	"github.com/pthm-cable/flux/sim"
	"github.com/pthm-cable/flux/telemetry"
)

// Penalty for runs that fail outright, well above any reachable score.
const failedFitness = 1e6

// divergenceWeight scales residual divergence against the speed error.
const divergenceWeight = 0.5

// FitnessEvaluator runs headless simulations and scores how closely the
// field holds the target mean speed.
type FitnessEvaluator struct {
	params      *ParamVector
	baseConfig  *config.Config
	ticks       int
	seeds       []int64
	targetSpeed float64

	mu          sync.Mutex
	lastSpeed   float64 // mean speed from the most recent Evaluate call
	bestFitness float64
	bestWindows []telemetry.WindowStats
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, base *config.Config, ticks int, seeds []int64) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:      params,
		baseConfig:  base,
		ticks:       ticks,
		seeds:       seeds,
		targetSpeed: base.Tune.TargetSpeed,
		bestFitness: math.Inf(1),
	}
}

// LastSpeed returns the mean speed measured by the most recent evaluation.
func (fe *FitnessEvaluator) LastSpeed() float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastSpeed
}

// BestWindows returns the window stats of the best seed run so far.
func (fe *FitnessEvaluator) BestWindows() []telemetry.WindowStats {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.bestWindows
}

type seedResult struct {
	fitness   float64
	meanSpeed float64
	windows   []telemetry.WindowStats
}

// Evaluate computes fitness for raw parameter values (lower = better),
// averaged over seeds run in parallel.
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	cfg, err := fe.params.Apply(fe.baseConfig, x)
	if err != nil {
		return failedFitness
	}

	results := make([]seedResult, len(fe.seeds))
	var wg sync.WaitGroup
	for i, seed := range fe.seeds {
		wg.Add(1)
		go func(idx int, s int64) {
			defer wg.Done()
			results[idx] = fe.runSeed(cfg, s)
		}(i, seed)
	}
	wg.Wait()

	var total, speed float64
	best := results[0]
	for _, r := range results {
		total += r.fitness
		speed += r.meanSpeed
		if r.fitness < best.fitness {
			best = r
		}
	}
	n := float64(len(results))
	avg := total / n

	fe.mu.Lock()
	fe.lastSpeed = speed / n
	if avg < fe.bestFitness {
		fe.bestFitness = avg
		fe.bestWindows = best.windows
	}
	fe.mu.Unlock()
	return avg
}

// runSeed runs one simulation on its own software device.
func (fe *FitnessEvaluator) runSeed(base *config.Config, seed int64) seedResult {
	cfg := base.Clone()
	cfg.Device.Seed = seed

	dev := cpu.New(cpu.Options{Workers: 1, Seed: seed})
	defer dev.Release()

	var windows []telemetry.WindowStats
	s, err := sim.New(sim.Options{
		Config:        cfg,
		Device:        dev,
		StatsCallback: func(ws telemetry.WindowStats) { windows = append(windows, ws) },
	})
	if err != nil {
		return seedResult{fitness: failedFitness}
	}
	defer s.Unload()

	for i := 0; i < fe.ticks; i++ {
		if err := s.Step(); err != nil {
			return seedResult{fitness: failedFitness}
		}
	}
	fitness, speed := fe.score(windows)
	return seedResult{fitness: fitness, meanSpeed: speed, windows: windows}
}

// score is the mean squared relative speed error over every window but the
// first, which still holds the spin-up from rest, plus a divergence term.
func (fe *FitnessEvaluator) score(windows []telemetry.WindowStats) (fitness, meanSpeed float64) {
	if len(windows) > 1 {
		windows = windows[1:]
	}
	if len(windows) == 0 {
		return failedFitness, 0
	}

	var errSum, divSum, speedSum float64
	for _, ws := range windows {
		if math.IsNaN(ws.MeanSpeed) || math.IsInf(ws.MeanSpeed, 0) {
			return failedFitness, 0
		}
		rel := (ws.MeanSpeed - fe.targetSpeed) / fe.targetSpeed
		errSum += rel * rel
		divSum += ws.DivergenceRMS
		speedSum += ws.MeanSpeed
	}
	n := float64(len(windows))
	return errSum/n + divergenceWeight*divSum/n, speedSum / n
}
