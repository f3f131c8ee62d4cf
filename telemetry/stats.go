package telemetry

import (
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated statistics for a time window.
type WindowStats struct {
	WindowStartTick int32   `csv:"-" json:"window_start"`
	WindowEndTick   int32   `csv:"window_end" json:"window_end"`
	SimTimeSec      float64 `csv:"sim_time" json:"sim_time"`

	// Velocity field at window end
	KineticEnergy float64 `csv:"kinetic_energy" json:"kinetic_energy"`
	MeanSpeed     float64 `csv:"mean_speed" json:"mean_speed"`
	SpeedStd      float64 `csv:"speed_std" json:"speed_std"`
	MaxSpeed      float64 `csv:"max_speed" json:"max_speed"`
	SpeedP50      float64 `csv:"speed_p50" json:"speed_p50"`
	SpeedP90      float64 `csv:"speed_p90" json:"speed_p90"`

	// Residual divergence after projection
	DivergenceRMS float64 `csv:"divergence_rms" json:"divergence_rms"`
	DivergenceMax float64 `csv:"divergence_max" json:"divergence_max"`

	// Noise activity during window
	Regenerations int `csv:"regenerations" json:"regenerations"`
	BlendPasses   int `csv:"blend_passes" json:"blend_passes"`
}

// VelocityStats summarizes a velocity field.
type VelocityStats struct {
	KineticEnergy float64 // Mean of |v|^2 / 2 per cell
	MeanSpeed     float64
	SpeedStd      float64
	MaxSpeed      float64
	SpeedP10      float64
	SpeedP50      float64
	SpeedP90      float64
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Summarize calculates the population mean, standard deviation and
// percentiles of values.
func Summarize(values []float64) (mean, std, p10, p50, p90 float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0, 0
	}

	mean, std = stat.PopMeanStdDev(values, nil)

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	p10 = Percentile(sorted, 0.10)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)

	return mean, std, p10, p50, p90
}

// ComputeVelocityStats summarizes an interleaved (x, y) velocity field.
func ComputeVelocityStats(velocity []float32) VelocityStats {
	cells := len(velocity) / 2
	if cells == 0 {
		return VelocityStats{}
	}

	v := blas32.Vector{N: cells * 2, Inc: 1, Data: velocity[:cells*2]}
	sumSq := float64(blas32.Dot(v, v))

	speeds := make([]float64, cells)
	for i := range speeds {
		x, y := float64(velocity[2*i]), float64(velocity[2*i+1])
		speeds[i] = math.Hypot(x, y)
	}

	var s VelocityStats
	s.KineticEnergy = 0.5 * sumSq / float64(cells)
	s.MaxSpeed = floats.Max(speeds)
	s.MeanSpeed, s.SpeedStd, s.SpeedP10, s.SpeedP50, s.SpeedP90 = Summarize(speeds)
	return s
}

// ComputeDivergenceStats returns the RMS and the largest magnitude of a
// divergence field.
func ComputeDivergenceStats(divergence []float32) (rms, maxAbs float64) {
	n := len(divergence)
	if n == 0 {
		return 0, 0
	}
	v := blas32.Vector{N: n, Inc: 1, Data: divergence}
	rms = float64(blas32.Nrm2(v)) / math.Sqrt(float64(n))
	maxAbs = math.Abs(float64(divergence[blas32.Iamax(v)]))
	return rms, maxAbs
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("window_start", int(s.WindowStartTick)),
		slog.Int("window_end", int(s.WindowEndTick)),
		slog.Float64("sim_time", s.SimTimeSec),
		slog.Float64("kinetic_energy", s.KineticEnergy),
		slog.Float64("mean_speed", s.MeanSpeed),
		slog.Float64("speed_std", s.SpeedStd),
		slog.Float64("max_speed", s.MaxSpeed),
		slog.Float64("speed_p50", s.SpeedP50),
		slog.Float64("speed_p90", s.SpeedP90),
		slog.Float64("divergence_rms", s.DivergenceRMS),
		slog.Float64("divergence_max", s.DivergenceMax),
		slog.Int("regenerations", s.Regenerations),
		slog.Int("blend_passes", s.BlendPasses),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats",
		"window_end", s.WindowEndTick,
		"sim_time", s.SimTimeSec,
		"kinetic_energy", s.KineticEnergy,
		"mean_speed", s.MeanSpeed,
		"max_speed", s.MaxSpeed,
		"speed_p90", s.SpeedP90,
		"divergence_rms", s.DivergenceRMS,
		"regenerations", s.Regenerations,
		"blend_passes", s.BlendPasses,
	)
}
