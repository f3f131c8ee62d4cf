// Package sim drives one fluid run: noise regeneration, noise blending and
// the solver step, plus the telemetry around them.
package sim

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pthm-cable/flux/config"
	"github.com/pthm-cable/flux/fluid"
	"github.com/pthm-cable/flux/gpu"
	"github.com/pthm-cable/flux/noise"
	"github.com/pthm-cable/flux/stream"
	"github.com/pthm-cable/flux/telemetry"
)

// Options configures a simulation run.
type Options struct {
	Config         *config.Config // nil = config.Cfg()
	Device         gpu.Device
	LogStats       bool   // Log window and perf stats via slog
	SnapshotDir    string // Directory for periodic snapshots
	OutputDir      string // Directory for CSV logs and config snapshot
	StepsPerUpdate int    // Ticks per Update call (default 1)

	// Hub, when set, receives every window's stats and supplies client
	// commands, which are applied between ticks.
	Hub *stream.Hub

	// StatsCallback is called with each window's stats.
	StatsCallback func(telemetry.WindowStats)
}

// Sim owns the stepper, the injector and the telemetry of one run.
type Sim struct {
	cfg    *config.Config
	device gpu.Device

	stepper  *fluid.Stepper
	injector *noise.Injector

	tick    int32
	elapsed float64
	paused  bool

	stepsPerUpdate int

	// Telemetry
	perf          *telemetry.PerfCollector
	collector     *telemetry.Collector
	outputManager *telemetry.OutputManager
	logStats      bool
	snapshotDir   string
	statsCallback func(telemetry.WindowStats)
	hub           *stream.Hub
	windows       int
	lastStats     *telemetry.WindowStats

	// Readback scratch
	velocity   []float32
	divergence []float32
}

// New builds a run from opts. The velocity starts at rest and every noise
// channel is registered in config order.
func New(opts Options) (_ *Sim, err error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Cfg()
	}
	// Panel edits write into the run's config, never the caller's.
	cfg = cfg.Clone()
	if opts.Device == nil {
		return nil, fmt.Errorf("sim: no device")
	}

	steps := opts.StepsPerUpdate
	if steps < 1 {
		steps = 1
	}

	s := &Sim{
		cfg:            cfg,
		device:         opts.Device,
		stepsPerUpdate: steps,
		perf:           telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow),
		collector:      telemetry.NewCollector(cfg.Telemetry.StatsWindow, cfg.Derived.DT32),
		logStats:       opts.LogStats,
		snapshotDir:    opts.SnapshotDir,
		statsCallback:  opts.StatsCallback,
		hub:            opts.Hub,
	}
	defer func() {
		if err != nil {
			s.Unload()
		}
	}()

	w, h := cfg.Fluid.Width, cfg.Fluid.Height
	if s.stepper, err = fluid.New(opts.Device, w, h, cfg.Derived.Fluid); err != nil {
		return nil, fmt.Errorf("creating stepper: %w", err)
	}
	s.stepper.OnStage(func(stage fluid.Stage) { s.perf.StartPhase(string(stage)) })

	if s.injector, err = noise.NewInjector(opts.Device, w, h); err != nil {
		return nil, fmt.Errorf("creating injector: %w", err)
	}
	for i, p := range cfg.Derived.Channels {
		if _, err := s.injector.AddChannel(p); err != nil {
			return nil, fmt.Errorf("noise channel %q: %w", cfg.Noise[i].Name, err)
		}
	}

	if s.outputManager, err = telemetry.NewOutputManager(opts.OutputDir); err != nil {
		return nil, err
	}
	if err := s.outputManager.WriteConfig(cfg); err != nil {
		slog.Error("failed to write config", "error", err)
	}

	s.velocity = make([]float32, w*h*2)
	s.divergence = make([]float32, w*h)

	slog.Info("simulation created",
		"grid", fmt.Sprintf("%dx%d", w, h),
		"channels", s.injector.Len(),
		"dt", cfg.Fluid.DT,
		"output_dir", s.outputManager.Dir(),
	)
	return s, nil
}

// Step runs a single tick: due noise regenerations, noise blending, the
// solver step, then telemetry at window boundaries.
func (s *Sim) Step() error {
	dt := s.cfg.Derived.DT32
	elapsed := float32(s.elapsed)

	s.perf.StartTick()

	s.perf.StartPhase(telemetry.PhaseNoiseGenerate)
	if err := s.injector.GenerateAll(elapsed); err != nil {
		return fmt.Errorf("tick %d: %w", s.tick, err)
	}

	s.perf.StartPhase(telemetry.PhaseNoiseBlend)
	if err := s.injector.BlendInto(s.stepper.Velocity(), elapsed); err != nil {
		return fmt.Errorf("tick %d: %w", s.tick, err)
	}

	if err := s.stepper.Step(dt, s.cfg.Derived.Fluid); err != nil {
		return fmt.Errorf("tick %d: %w", s.tick, err)
	}

	s.elapsed += float64(dt)
	s.tick++

	s.perf.StartPhase(telemetry.PhaseTelemetry)
	err := s.flushTelemetry()
	s.perf.EndTick()
	return err
}

// Update applies pending stream commands and runs StepsPerUpdate ticks
// unless paused.
func (s *Sim) Update() error {
	if err := s.drainCommands(); err != nil {
		return err
	}
	if s.paused {
		return nil
	}
	for i := 0; i < s.stepsPerUpdate; i++ {
		if err := s.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Run updates until ctx is cancelled, maxTicks is reached (0 = unlimited)
// or a tick fails.
func (s *Sim) Run(ctx context.Context, maxTicks int) error {
	slog.Info("simulation started", "max_ticks", maxTicks, "steps_per_update", s.stepsPerUpdate)
	for {
		select {
		case <-ctx.Done():
			slog.Info("simulation stopped", "tick", s.tick)
			return nil
		default:
		}

		if err := s.Update(); err != nil {
			return err
		}

		if maxTicks > 0 && int(s.tick) >= maxTicks {
			slog.Info("max ticks reached", "tick", s.tick)
			return nil
		}
	}
}

// drainCommands applies every queued client command without blocking.
func (s *Sim) drainCommands() error {
	if s.hub == nil {
		return nil
	}
	for {
		select {
		case cmd := <-s.hub.Commands():
			if cmd.Regenerate != nil {
				if err := s.RegenerateChannel(*cmd.Regenerate); err != nil {
					return err
				}
			}
		default:
			return nil
		}
	}
}

// ApplyConfig switches to cfg's solver and noise settings without touching
// the fields, the channel phases or the blend timing. Channels are matched
// by position; cfg must describe the same grid and channel count.
func (s *Sim) ApplyConfig(cfg *config.Config) error {
	if cfg.Fluid.Width != s.cfg.Fluid.Width || cfg.Fluid.Height != s.cfg.Fluid.Height {
		return fmt.Errorf("grid %dx%d cannot change to %dx%d",
			s.cfg.Fluid.Width, s.cfg.Fluid.Height, cfg.Fluid.Width, cfg.Fluid.Height)
	}
	if len(cfg.Derived.Channels) != s.injector.Len() {
		return fmt.Errorf("config has %d noise channels, run has %d", len(cfg.Derived.Channels), s.injector.Len())
	}
	if err := cfg.Derived.Fluid.Validate(); err != nil {
		return err
	}
	for i, p := range cfg.Derived.Channels {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("noise channel %q: %w", cfg.Noise[i].Name, err)
		}
	}

	if err := s.stepper.Update(cfg.Derived.Fluid); err != nil {
		return err
	}
	for i, p := range cfg.Derived.Channels {
		if err := s.injector.UpdateChannel(i, p); err != nil {
			return fmt.Errorf("noise channel %q: %w", cfg.Noise[i].Name, err)
		}
	}
	s.cfg = cfg.Clone()
	return nil
}

// UpdateChannel replaces one channel's settings, e.g. from the tuning panel.
func (s *Sim) UpdateChannel(index int, ch config.NoiseChannelConfig) error {
	if index < 0 || index >= len(s.cfg.Noise) {
		return nil
	}
	p := ch.Params()
	if err := s.injector.UpdateChannel(index, p); err != nil {
		return err
	}
	s.cfg.Noise[index] = ch
	s.cfg.Derived.Channels[index] = p
	return nil
}

// RegenerateChannel draws a fresh noise field for one channel now and
// restarts its blend. Out-of-range indices are ignored.
func (s *Sim) RegenerateChannel(index int) error {
	if err := s.injector.Generate(index, float32(s.elapsed)); err != nil {
		return err
	}
	slog.Debug("noise channel regenerated", "channel", index, "sim_time", s.elapsed)
	return nil
}

// SetPaused stops or resumes Update.
func (s *Sim) SetPaused(paused bool) { s.paused = paused }

// Paused reports whether Update is paused.
func (s *Sim) Paused() bool { return s.paused }

// SetStepsPerUpdate sets the ticks per Update call.
func (s *Sim) SetStepsPerUpdate(n int) {
	if n < 1 {
		n = 1
	}
	s.stepsPerUpdate = n
}

// StepsPerUpdate returns the ticks per Update call.
func (s *Sim) StepsPerUpdate() int { return s.stepsPerUpdate }

// ReadVelocity copies the current velocity into dst, two floats per cell.
func (s *Sim) ReadVelocity(dst []float32) error {
	return s.stepper.Velocity().Read(dst)
}

// Tick returns the number of ticks run.
func (s *Sim) Tick() int32 { return s.tick }

// Elapsed returns the simulated seconds.
func (s *Sim) Elapsed() float64 { return s.elapsed }

// Config returns the settings in effect.
func (s *Sim) Config() *config.Config { return s.cfg }

// Stepper returns the solver.
func (s *Sim) Stepper() *fluid.Stepper { return s.stepper }

// Injector returns the noise injector.
func (s *Sim) Injector() *noise.Injector { return s.injector }

// Perf returns the tick timing collector.
func (s *Sim) Perf() *telemetry.PerfCollector { return s.perf }

// LastStats returns the most recent window's stats.
func (s *Sim) LastStats() (telemetry.WindowStats, bool) {
	if s.lastStats == nil {
		return telemetry.WindowStats{}, false
	}
	return *s.lastStats, true
}

// Unload releases every resource the run owns. The device is left to the
// caller.
func (s *Sim) Unload() {
	if s == nil {
		return
	}
	if s.outputManager != nil {
		if err := s.outputManager.Close(); err != nil {
			slog.Error("failed to close output", "error", err)
		}
		s.outputManager = nil
	}
	if s.injector != nil {
		s.injector.Release()
		s.injector = nil
	}
	if s.stepper != nil {
		s.stepper.Release()
		s.stepper = nil
	}
}
