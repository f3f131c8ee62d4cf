package sim

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/flux/config"
	"github.com/pthm-cable/flux/gpu"
	"github.com/pthm-cable/flux/gpu/cpu"
	"github.com/pthm-cable/flux/noise"
	"github.com/pthm-cable/flux/shaders"
	"github.com/pthm-cable/flux/stream"
	"github.com/pthm-cable/flux/telemetry"
)

// 16x16 grid, 8 ticks per window, one channel that regenerates every 4 ticks
// and blends over 2.
const testOverlay = `
fluid:
  width: 16
  height: 16
  dt: 0.0625
noise:
  - name: only
    scale: 3
    multiplier: 2
    offset_1: 0
    offset_2: 7
    offset_increment: 0.1
    delay: %v
    blend_duration: 0.125
    blend_method: curl
telemetry:
  stats_window: 0.5
  snapshot_every: %d
`

func testConfig(t *testing.T, delay float64, snapshotEvery int) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(testOverlay, delay, snapshotEvery)), 0644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func newSim(t *testing.T, opts Options) *Sim {
	t.Helper()
	if opts.Config == nil {
		opts.Config = testConfig(t, 0.25, 0)
	}
	if opts.Device == nil {
		dev := cpu.New(cpu.Options{Workers: 2, Seed: 1})
		t.Cleanup(dev.Release)
		opts.Device = dev
	}
	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(s.Unload)
	return s
}

func steps(t *testing.T, s *Sim, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.Step())
	}
}

func velocity(t *testing.T, s *Sim) []float32 {
	t.Helper()
	w, h := s.Stepper().Size()
	out := make([]float32, w*h*2)
	require.NoError(t, s.ReadVelocity(out))
	return out
}

func TestNewRequiresDevice(t *testing.T) {
	_, err := New(Options{Config: testConfig(t, 0.25, 0)})
	assert.Error(t, err)
}

func TestNewPropagatesAllocationFailure(t *testing.T) {
	dev := cpu.New(cpu.Options{Workers: 1, MaxTextureSize: 2})
	t.Cleanup(dev.Release)

	var s *Sim
	var err error
	require.NotPanics(t, func() { s, err = New(Options{Config: testConfig(t, 0.25, 0), Device: dev}) })
	assert.Nil(t, s)
	var allocErr *gpu.ResourceAllocationError
	assert.True(t, errors.As(err, &allocErr), "got %v", err)
}

// failingNoise rejects the noise program, so the stepper is built before
// construction fails.
type failingNoise struct {
	*cpu.Device
}

func (f failingNoise) CompileProgram(src gpu.ProgramSource) (gpu.Program, error) {
	if src.Name == shaders.SimplexNoise {
		return nil, &gpu.ShaderCompileError{Program: src.Name, Stage: "fragment", Log: "syntax error"}
	}
	return f.Device.CompileProgram(src)
}

func TestNewPropagatesCompileFailure(t *testing.T) {
	dev := cpu.New(cpu.Options{Workers: 1})
	t.Cleanup(dev.Release)

	var s *Sim
	var err error
	require.NotPanics(t, func() { s, err = New(Options{Config: testConfig(t, 0.25, 0), Device: failingNoise{dev}}) })
	assert.Nil(t, s)
	var compileErr *gpu.ShaderCompileError
	require.True(t, errors.As(err, &compileErr), "got %v", err)
	assert.Equal(t, shaders.SimplexNoise, compileErr.Program)
}

func TestUnloadNilSim(t *testing.T) {
	var s *Sim
	assert.NotPanics(t, s.Unload)
}

func TestUpdateChannelLeavesCallerConfig(t *testing.T) {
	cfg := testConfig(t, 0.25, 0)
	s := newSim(t, Options{Config: cfg})

	ch := s.Config().Noise[0]
	ch.Multiplier = 11
	require.NoError(t, s.UpdateChannel(0, ch))

	assert.Equal(t, 11.0, s.Config().Noise[0].Multiplier)
	assert.Equal(t, 2.0, cfg.Noise[0].Multiplier)
	assert.Equal(t, float32(2), cfg.Derived.Channels[0].Multiplier)
}

func TestNewRegistersChannels(t *testing.T) {
	s := newSim(t, Options{})
	require.Equal(t, 1, s.Injector().Len())
	state, ok := s.Injector().Channel(0)
	require.True(t, ok)
	assert.Equal(t, float32(7), state.Offset2)
	assert.Equal(t, noise.Curl, state.Params.BlendMethod)
}

func TestWindowStats(t *testing.T) {
	var windows []telemetry.WindowStats
	s := newSim(t, Options{StatsCallback: func(ws telemetry.WindowStats) { windows = append(windows, ws) }})

	steps(t, s, 7)
	assert.Empty(t, windows)
	steps(t, s, 1)
	require.Len(t, windows, 1)

	ws := windows[0]
	assert.Equal(t, int32(0), ws.WindowStartTick)
	assert.Equal(t, int32(8), ws.WindowEndTick)
	assert.InDelta(t, 0.5, ws.SimTimeSec, 1e-9)
	// Regenerated at tick 4; blended at ticks 0, 1, 4 and 5.
	assert.Equal(t, 1, ws.Regenerations)
	assert.Equal(t, 4, ws.BlendPasses)
	assert.Greater(t, ws.KineticEnergy, 0.0)
	assert.Greater(t, ws.MaxSpeed, 0.0)

	last, ok := s.LastStats()
	require.True(t, ok)
	assert.Equal(t, ws, last)

	// The next window counts only its own activity.
	steps(t, s, 8)
	require.Len(t, windows, 2)
	assert.Equal(t, 2, windows[1].Regenerations)
	assert.Equal(t, 4, windows[1].BlendPasses)
}

func TestVelocityStaysAtRestWithoutNoise(t *testing.T) {
	s := newSim(t, Options{})
	steps(t, s, 3)
	for _, v := range velocity(t, s) {
		require.Zero(t, v)
	}
}

func TestRunStopsAtMaxTicks(t *testing.T) {
	s := newSim(t, Options{StepsPerUpdate: 2})
	require.NoError(t, s.Run(context.Background(), 5))
	assert.Equal(t, int32(6), s.Tick())
	assert.InDelta(t, 6*0.0625, s.Elapsed(), 1e-9)
}

func TestRunStopsWhenCancelled(t *testing.T) {
	s := newSim(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx, 0))
	assert.Equal(t, int32(0), s.Tick())
}

func TestPausedUpdateDoesNotStep(t *testing.T) {
	s := newSim(t, Options{})
	s.SetPaused(true)
	require.NoError(t, s.Update())
	assert.Equal(t, int32(0), s.Tick())

	s.SetPaused(false)
	s.SetStepsPerUpdate(3)
	require.NoError(t, s.Update())
	assert.Equal(t, int32(3), s.Tick())
}

func TestRegenerateChannel(t *testing.T) {
	s := newSim(t, Options{})
	steps(t, s, 2)

	require.NoError(t, s.RegenerateChannel(0))
	state, _ := s.Injector().Channel(0)
	assert.Equal(t, float32(0.125), state.BlendBeginTime)
	assert.Zero(t, state.LastBlendProgress)
	assert.InDelta(t, 0.1, state.Offset1, 1e-6)
	regenerations, _ := s.Injector().Counters()
	assert.Equal(t, 1, regenerations)

	require.NoError(t, s.RegenerateChannel(5))
	regenerations, _ = s.Injector().Counters()
	assert.Equal(t, 1, regenerations)
}

func TestApplyConfigKeepsChannelState(t *testing.T) {
	s := newSim(t, Options{})
	steps(t, s, 5)
	before, _ := s.Injector().Channel(0)

	cfg := testConfig(t, 0.25, 0)
	cfg.Noise[0].Multiplier = 9
	cfg.Derived.Channels[0].Multiplier = 9
	cfg.Derived.Fluid.PressureIterations = 30
	require.NoError(t, s.ApplyConfig(cfg))

	after, _ := s.Injector().Channel(0)
	assert.Equal(t, float32(9), after.Params.Multiplier)
	assert.Equal(t, before.Offset1, after.Offset1)
	assert.Equal(t, before.BlendBeginTime, after.BlendBeginTime)
	assert.Equal(t, before.LastBlendProgress, after.LastBlendProgress)
	assert.Equal(t, 30, s.Stepper().Params().PressureIterations)
	assert.Equal(t, int32(5), s.Tick())
}

func TestApplyConfigInvalidChannelChangesNothing(t *testing.T) {
	s := newSim(t, Options{})
	fluidBefore := s.Stepper().Params()
	channelBefore, _ := s.Injector().Channel(0)

	cfg := testConfig(t, 0.25, 0)
	cfg.Derived.Fluid.PressureIterations = 30
	cfg.Derived.Channels[0].BlendDuration = 0
	assert.ErrorIs(t, s.ApplyConfig(cfg), noise.ErrInvalidParams)

	channelAfter, _ := s.Injector().Channel(0)
	assert.Equal(t, fluidBefore, s.Stepper().Params())
	assert.Equal(t, channelBefore, channelAfter)
	assert.Equal(t, fluidBefore, s.Config().Derived.Fluid)
}

func TestApplyConfigRejectsShapeChange(t *testing.T) {
	s := newSim(t, Options{})

	cfg := testConfig(t, 0.25, 0)
	cfg.Noise = append(cfg.Noise, cfg.Noise[0])
	cfg.Derived.Channels = append(cfg.Derived.Channels, cfg.Derived.Channels[0])
	assert.Error(t, s.ApplyConfig(cfg))

	cfg = testConfig(t, 0.25, 0)
	cfg.Fluid.Width = 32
	assert.Error(t, s.ApplyConfig(cfg))
}

func TestUpdateChannel(t *testing.T) {
	s := newSim(t, Options{})
	ch := s.Config().Noise[0]
	ch.BlendMethod = noise.Wiggle
	require.NoError(t, s.UpdateChannel(0, ch))

	state, _ := s.Injector().Channel(0)
	assert.Equal(t, noise.Wiggle, state.Params.BlendMethod)
	assert.Equal(t, noise.Wiggle, s.Config().Noise[0].BlendMethod)

	ch.BlendDuration = 0
	assert.ErrorIs(t, s.UpdateChannel(0, ch), noise.ErrInvalidParams)
}

func TestSnapshotRestoreResumesExactly(t *testing.T) {
	original := newSim(t, Options{})
	steps(t, original, 6)
	snapshot, err := original.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, int32(6), snapshot.Tick)
	require.Len(t, snapshot.Channels, 1)
	assert.Equal(t, "only", snapshot.Channels[0].Name)

	steps(t, original, 6)

	resumed := newSim(t, Options{})
	require.NoError(t, resumed.Restore(snapshot))
	assert.Equal(t, int32(6), resumed.Tick())
	steps(t, resumed, 6)

	assert.Equal(t, velocity(t, original), velocity(t, resumed))
	a, _ := original.Injector().Channel(0)
	b, _ := resumed.Injector().Channel(0)
	assert.Equal(t, a, b)
}

func TestRestoreRejectsMismatchedSnapshot(t *testing.T) {
	s := newSim(t, Options{})
	snapshot, err := s.Snapshot()
	require.NoError(t, err)

	snapshot.Channels = nil
	assert.Error(t, s.Restore(snapshot))

	snapshot.Width = 8
	assert.Error(t, s.Restore(snapshot))
}

func TestOutputDir(t *testing.T) {
	dir := t.TempDir()
	s := newSim(t, Options{OutputDir: dir, Config: testConfig(t, 0.25, 1)})
	steps(t, s, 16)
	s.Unload()

	data, err := os.ReadFile(filepath.Join(dir, "telemetry.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "window_end,"))

	data, err = os.ReadFile(filepath.Join(dir, "perf.csv"))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 3)

	_, err = os.Stat(filepath.Join(dir, "config.yaml"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "snapshots", "snapshot_16.json"))
	assert.NoError(t, err)
}

func TestSnapshotDir(t *testing.T) {
	dir := t.TempDir()
	s := newSim(t, Options{SnapshotDir: dir, Config: testConfig(t, 0.25, 2)})
	steps(t, s, 16)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "snapshot_16.json", entries[0].Name())

	loaded, err := telemetry.LoadSnapshot(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, int32(16), loaded.Tick)
}

func TestStreamCommandRegenerates(t *testing.T) {
	hub := stream.NewHub(4)
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// A long delay keeps GenerateAll from regenerating on its own.
	s := newSim(t, Options{Hub: hub, Config: testConfig(t, 100, 0)})
	require.NoError(t, conn.WriteJSON(stream.Command{Regenerate: new(int)}))

	require.Eventually(t, func() bool {
		if err := s.Update(); err != nil {
			return false
		}
		regenerations, _ := s.Injector().Counters()
		return regenerations == 1
	}, 2*time.Second, 5*time.Millisecond)
}
