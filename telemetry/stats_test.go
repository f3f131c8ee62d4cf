package telemetry

import (
	"math"
	"testing"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty slice", []float64{}, 0.5, 0},
		{"single element", []float64{5.0}, 0.5, 5.0},
		{"p0", []float64{1, 2, 3, 4, 5}, 0.0, 1.0},
		{"p100", []float64{1, 2, 3, 4, 5}, 1.0, 5.0},
		{"p50 odd", []float64{1, 2, 3, 4, 5}, 0.5, 3.0},
		{"p50 even", []float64{1, 2, 3, 4}, 0.5, 2.5},
		{"p10", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.1, 1.9},
		{"p90", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.9, 9.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Percentile(tt.sorted, tt.p)
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("Percentile(%v, %v) = %v, want %v", tt.sorted, tt.p, got, tt.want)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	values := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0}
	mean, std, p10, p50, p90 := Summarize(values)

	if math.Abs(mean-0.55) > 0.001 {
		t.Errorf("mean = %v, want 0.55", mean)
	}
	// Population standard deviation of 0.1..1.0
	if math.Abs(std-0.2872) > 0.001 {
		t.Errorf("std = %v, want ~0.287", std)
	}
	if math.Abs(p10-0.19) > 0.01 {
		t.Errorf("p10 = %v, want ~0.19", p10)
	}
	if math.Abs(p50-0.55) > 0.01 {
		t.Errorf("p50 = %v, want ~0.55", p50)
	}
	if math.Abs(p90-0.91) > 0.01 {
		t.Errorf("p90 = %v, want ~0.91", p90)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	mean, std, p10, p50, p90 := Summarize([]float64{})

	if mean != 0 || std != 0 || p10 != 0 || p50 != 0 || p90 != 0 {
		t.Error("empty slice should return all zeros")
	}
}

func TestSummarizeDoesNotReorderInput(t *testing.T) {
	values := []float64{3, 1, 2}
	Summarize(values)
	if values[0] != 3 || values[1] != 1 || values[2] != 2 {
		t.Errorf("input reordered: %v", values)
	}
}

func TestComputeVelocityStats(t *testing.T) {
	tests := []struct {
		name     string
		velocity []float32
		want     VelocityStats
	}{
		{
			name:     "empty",
			velocity: nil,
			want:     VelocityStats{},
		},
		{
			name:     "at rest",
			velocity: []float32{0, 0, 0, 0},
			want:     VelocityStats{},
		},
		{
			name:     "one moving cell",
			velocity: []float32{3, 4, 0, 0},
			want: VelocityStats{
				KineticEnergy: 6.25,
				MeanSpeed:     2.5,
				SpeedStd:      2.5,
				MaxSpeed:      5,
				SpeedP10:      0.5,
				SpeedP50:      2.5,
				SpeedP90:      4.5,
			},
		},
		{
			name:     "uniform flow",
			velocity: []float32{-1, 0, 0, 1, 1, 0, 0, -1},
			want: VelocityStats{
				KineticEnergy: 0.5,
				MeanSpeed:     1,
				MaxSpeed:      1,
				SpeedP10:      1,
				SpeedP50:      1,
				SpeedP90:      1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeVelocityStats(tt.velocity)
			check := func(field string, got, want float64) {
				if math.Abs(got-want) > 1e-6 {
					t.Errorf("%s = %v, want %v", field, got, want)
				}
			}
			check("KineticEnergy", got.KineticEnergy, tt.want.KineticEnergy)
			check("MeanSpeed", got.MeanSpeed, tt.want.MeanSpeed)
			check("SpeedStd", got.SpeedStd, tt.want.SpeedStd)
			check("MaxSpeed", got.MaxSpeed, tt.want.MaxSpeed)
			check("SpeedP10", got.SpeedP10, tt.want.SpeedP10)
			check("SpeedP50", got.SpeedP50, tt.want.SpeedP50)
			check("SpeedP90", got.SpeedP90, tt.want.SpeedP90)
		})
	}
}

func TestComputeDivergenceStats(t *testing.T) {
	rms, maxAbs := ComputeDivergenceStats([]float32{3, -4, 0, 0})
	if math.Abs(rms-2.5) > 1e-6 {
		t.Errorf("rms = %v, want 2.5", rms)
	}
	if maxAbs != 4 {
		t.Errorf("maxAbs = %v, want 4", maxAbs)
	}

	rms, maxAbs = ComputeDivergenceStats(nil)
	if rms != 0 || maxAbs != 0 {
		t.Errorf("empty field gave rms=%v max=%v", rms, maxAbs)
	}
}
