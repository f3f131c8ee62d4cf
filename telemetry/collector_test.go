package telemetry

import (
	"math"
	"testing"
)

func TestCollectorWindowTicks(t *testing.T) {
	tests := []struct {
		name   string
		window float64
		dt     float32
		want   int32
	}{
		{"two seconds at 50Hz", 2, 0.02, 100},
		{"window shorter than a tick", 0.001, 0.016, 1},
		{"quarter second at 4Hz", 0.25, 0.25, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCollector(tt.window, tt.dt)
			if got := c.WindowDurationTicks(); got != tt.want {
				t.Errorf("WindowDurationTicks() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCollectorFlushReportsPerWindowCounts(t *testing.T) {
	c := NewCollector(1, 0.25) // 4 ticks per window

	if c.ShouldFlush(3) {
		t.Error("flushed before the window was full")
	}
	if !c.ShouldFlush(4) {
		t.Fatal("expected flush after 4 ticks")
	}

	first := c.Flush(4, FieldSample{
		SimTime:       1,
		Velocity:      []float32{3, 4, 0, 0},
		Divergence:    []float32{0.5, -0.5},
		Regenerations: 3,
		BlendPasses:   10,
	})
	if first.WindowStartTick != 0 || first.WindowEndTick != 4 {
		t.Errorf("window = [%d, %d], want [0, 4]", first.WindowStartTick, first.WindowEndTick)
	}
	if first.Regenerations != 3 || first.BlendPasses != 10 {
		t.Errorf("counts = %d/%d, want 3/10", first.Regenerations, first.BlendPasses)
	}
	if first.MaxSpeed != 5 || math.Abs(first.KineticEnergy-6.25) > 1e-9 {
		t.Errorf("velocity stats not computed: %+v", first)
	}
	if math.Abs(first.DivergenceRMS-0.5) > 1e-6 || first.DivergenceMax != 0.5 {
		t.Errorf("divergence stats = %v/%v, want 0.5/0.5", first.DivergenceRMS, first.DivergenceMax)
	}

	if c.ShouldFlush(7) {
		t.Error("window did not restart at the flush tick")
	}
	second := c.Flush(8, FieldSample{SimTime: 2, Regenerations: 5, BlendPasses: 18})
	if second.WindowStartTick != 4 {
		t.Errorf("second window starts at %d, want 4", second.WindowStartTick)
	}
	if second.Regenerations != 2 || second.BlendPasses != 8 {
		t.Errorf("second window counts = %d/%d, want 2/8", second.Regenerations, second.BlendPasses)
	}
	if second.SimTimeSec != 2 {
		t.Errorf("sim time = %v, want 2", second.SimTimeSec)
	}
}

func TestCollectorReset(t *testing.T) {
	c := NewCollector(1, 0.5)
	c.Reset(100, 40, 400)

	if c.ShouldFlush(101) {
		t.Error("flush due one tick after reset")
	}
	stats := c.Flush(102, FieldSample{Regenerations: 41, BlendPasses: 402})
	if stats.WindowStartTick != 100 || stats.Regenerations != 1 || stats.BlendPasses != 2 {
		t.Errorf("stats after reset = %+v", stats)
	}
}
