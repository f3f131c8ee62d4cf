// Package telemetry provides run statistics, performance timing, CSV output
// and snapshots.
package telemetry

// FieldSample is the state handed to Flush at a window boundary.
type FieldSample struct {
	SimTime    float64
	Velocity   []float32 // Interleaved (x, y) per cell
	Divergence []float32 // One value per cell

	// Running totals from the injector; Flush reports the change per window.
	Regenerations int
	BlendPasses   int
}

// Collector splits a run into fixed windows and produces WindowStats.
type Collector struct {
	windowDurationSec   float64
	windowDurationTicks int32
	dt                  float32

	windowStartTick int32

	// Injector totals at the start of the current window
	regenerationsAtStart int
	blendPassesAtStart   int
}

// NewCollector creates a new stats collector.
// windowDurationSec: how long each stats window lasts in simulation seconds
// dt: seconds per tick (used for tick-to-time conversion)
func NewCollector(windowDurationSec float64, dt float32) *Collector {
	ticksPerWindow := int32(windowDurationSec / float64(dt))
	if ticksPerWindow < 1 {
		ticksPerWindow = 1
	}

	return &Collector{
		windowDurationSec:   windowDurationSec,
		windowDurationTicks: ticksPerWindow,
		dt:                  dt,
	}
}

// ShouldFlush returns true if enough ticks have passed to flush the window.
func (c *Collector) ShouldFlush(currentTick int32) bool {
	return currentTick-c.windowStartTick >= c.windowDurationTicks
}

// Flush produces a WindowStats and starts the next window at currentTick.
func (c *Collector) Flush(currentTick int32, sample FieldSample) WindowStats {
	velocity := ComputeVelocityStats(sample.Velocity)
	divRMS, divMax := ComputeDivergenceStats(sample.Divergence)

	stats := WindowStats{
		WindowStartTick: c.windowStartTick,
		WindowEndTick:   currentTick,
		SimTimeSec:      sample.SimTime,

		KineticEnergy: velocity.KineticEnergy,
		MeanSpeed:     velocity.MeanSpeed,
		SpeedStd:      velocity.SpeedStd,
		MaxSpeed:      velocity.MaxSpeed,
		SpeedP50:      velocity.SpeedP50,
		SpeedP90:      velocity.SpeedP90,

		DivergenceRMS: divRMS,
		DivergenceMax: divMax,

		Regenerations: sample.Regenerations - c.regenerationsAtStart,
		BlendPasses:   sample.BlendPasses - c.blendPassesAtStart,
	}

	c.windowStartTick = currentTick
	c.regenerationsAtStart = sample.Regenerations
	c.blendPassesAtStart = sample.BlendPasses

	return stats
}

// Reset starts a fresh window at tick, e.g. after a snapshot restore.
func (c *Collector) Reset(tick int32, regenerations, blendPasses int) {
	c.windowStartTick = tick
	c.regenerationsAtStart = regenerations
	c.blendPassesAtStart = blendPasses
}

// WindowDurationTicks returns the number of ticks per window.
func (c *Collector) WindowDurationTicks() int32 {
	return c.windowDurationTicks
}
