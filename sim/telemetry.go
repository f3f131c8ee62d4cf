package sim

import (
	"fmt"
	"log/slog"

	"github.com/pthm-cable/flux/config"
	"github.com/pthm-cable/flux/telemetry"
)

// flushTelemetry closes the stats window when it is due and fans the stats
// out to the log, the CSV output, the stream and the callback.
func (s *Sim) flushTelemetry() error {
	if !s.collector.ShouldFlush(s.tick) {
		return nil
	}

	sample, err := s.sampleField()
	if err != nil {
		return fmt.Errorf("tick %d: sampling field: %w", s.tick, err)
	}

	stats := s.collector.Flush(s.tick, sample)
	perfStats := s.perf.Stats()
	s.lastStats = &stats
	s.windows++

	if s.statsCallback != nil {
		s.statsCallback(stats)
	}
	if s.hub != nil {
		s.hub.BroadcastStats(stats)
	}

	if s.logStats {
		stats.LogStats()
		perfStats.LogStats()
	}

	if s.outputManager != nil {
		if err := s.outputManager.WriteTelemetry(stats); err != nil {
			slog.Error("failed to write telemetry", "error", err)
		}
		if err := s.outputManager.WritePerf(perfStats, stats.WindowEndTick); err != nil {
			slog.Error("failed to write perf", "error", err)
		}
	}

	if every := s.cfg.Telemetry.SnapshotEvery; every > 0 && s.windows%every == 0 {
		s.saveSnapshot()
	}
	return nil
}

// sampleField reads back the velocity and its residual divergence.
func (s *Sim) sampleField() (telemetry.FieldSample, error) {
	if err := s.stepper.Velocity().Read(s.velocity); err != nil {
		return telemetry.FieldSample{}, err
	}
	if err := s.stepper.CalculateDivergence(); err != nil {
		return telemetry.FieldSample{}, err
	}
	if err := s.stepper.Divergence().Read(s.divergence); err != nil {
		return telemetry.FieldSample{}, err
	}

	regenerations, blends := s.injector.Counters()
	return telemetry.FieldSample{
		SimTime:       s.elapsed,
		Velocity:      s.velocity,
		Divergence:    s.divergence,
		Regenerations: regenerations,
		BlendPasses:   blends,
	}, nil
}

// saveSnapshot writes a snapshot to the snapshot dir, or under the output
// dir when no snapshot dir is set.
func (s *Sim) saveSnapshot() {
	snapshot, err := s.Snapshot()
	if err != nil {
		slog.Error("failed to create snapshot", "error", err)
		return
	}

	var path string
	if s.snapshotDir != "" {
		path, err = telemetry.SaveSnapshot(snapshot, s.snapshotDir)
	} else {
		path, err = s.outputManager.WriteSnapshot(snapshot)
	}
	if err != nil {
		slog.Error("failed to save snapshot", "error", err)
		return
	}
	if path != "" {
		slog.Info("snapshot saved", "path", path, "tick", s.tick)
	}
}

// Snapshot captures the velocity and every channel's state and noise field.
func (s *Sim) Snapshot() (*telemetry.Snapshot, error) {
	w, h := s.stepper.Size()
	snapshot := &telemetry.Snapshot{
		Version:  telemetry.SnapshotVersion,
		Tick:     s.tick,
		SimTime:  s.elapsed,
		Width:    w,
		Height:   h,
		Velocity: make([]float32, w*h*2),
	}
	if err := s.stepper.Velocity().Read(snapshot.Velocity); err != nil {
		return nil, fmt.Errorf("reading velocity: %w", err)
	}

	for i := 0; i < s.injector.Len(); i++ {
		state, _ := s.injector.Channel(i)
		field, _ := s.injector.Field(i)
		data := make([]float32, w*h*2)
		if err := field.Read(data); err != nil {
			return nil, fmt.Errorf("reading noise channel %d: %w", i, err)
		}
		name := ""
		if i < len(s.cfg.Noise) {
			name = s.cfg.Noise[i].Name
		}
		snapshot.Channels = append(snapshot.Channels, telemetry.NewChannelSnapshot(name, state, data))
	}
	return snapshot, nil
}

// Restore resumes from a snapshot taken on a run with the same grid and
// channel count. Stats windows restart at the snapshot's tick.
func (s *Sim) Restore(snapshot *telemetry.Snapshot) error {
	w, h := s.stepper.Size()
	if err := snapshot.Validate(w, h); err != nil {
		return err
	}
	if len(snapshot.Channels) != s.injector.Len() {
		return fmt.Errorf("snapshot has %d noise channels, run has %d", len(snapshot.Channels), s.injector.Len())
	}

	if err := s.stepper.SetVelocity(snapshot.Velocity); err != nil {
		return err
	}
	for i, ch := range snapshot.Channels {
		if err := s.injector.RestoreChannel(i, ch.State(), ch.Field); err != nil {
			return err
		}
		s.cfg.Noise[i] = config.NoiseChannelFromParams(s.cfg.Noise[i].Name, ch.Params)
		s.cfg.Derived.Channels[i] = ch.Params
	}

	s.tick = snapshot.Tick
	s.elapsed = snapshot.SimTime
	regenerations, blends := s.injector.Counters()
	s.collector.Reset(s.tick, regenerations, blends)
	s.lastStats = nil

	slog.Info("snapshot restored", "tick", s.tick, "sim_time", s.elapsed)
	return nil
}
