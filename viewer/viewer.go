// Package viewer runs a simulation in a raylib window: the velocity field,
// tracer particles, stats panels and the noise channel editor.
package viewer

import (
	"fmt"
	"log/slog"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/flux/camera"
	"github.com/pthm-cable/flux/noise"
	"github.com/pthm-cable/flux/renderer"
	"github.com/pthm-cable/flux/renderer/flowview"
	"github.com/pthm-cable/flux/sim"
	"github.com/pthm-cable/flux/telemetry"
	"github.com/pthm-cable/flux/ui"
)

const controlsLegend = "[Space] pause  [,/.] speed  [R] regenerate  [Arrows/RMB] pan  [Wheel] zoom  [Home] reset view  [O] overlays"

// Viewer draws a running simulation. The raylib window must exist before New.
type Viewer struct {
	sim     *sim.Sim
	backend string

	screenWidth  float32
	screenHeight float32
	camera       *camera.Camera

	fieldRenderer  *renderer.FieldRenderer
	tracerRenderer *renderer.TracerRenderer
	tracers        *flowview.Tracers
	grid           flowview.Grid
	speedScale     float32

	overlays      *ui.OverlayRegistry
	hud           *ui.HUD
	statsPanel    *ui.StatsPanel
	perfPanel     *ui.PerfPanel
	channelPanel  *ui.ChannelPanel
	controlsPanel *ui.ControlsPanel

	states []noise.ChannelState
}

// New creates a viewer for s. backend is shown in the HUD.
func New(s *sim.Sim, backend string) *Viewer {
	cfg := s.Config()
	w, h := s.Stepper().Size()
	screenW := float32(rl.GetScreenWidth())
	screenH := float32(rl.GetScreenHeight())

	v := &Viewer{
		sim:            s,
		backend:        backend,
		screenWidth:    screenW,
		screenHeight:   screenH,
		camera:         camera.New(screenW, screenH, float32(w), float32(h)),
		fieldRenderer:  renderer.NewFieldRenderer(),
		tracerRenderer: renderer.NewTracerRenderer(int32(screenW), int32(screenH), float32(cfg.Viewer.TrailFade)),
		tracers:        flowview.NewTracers(float32(w), float32(h), cfg.Viewer.Particles, cfg.Device.Seed),
		grid:           flowview.Grid{Data: make([]float32, w*h*2), Width: w, Height: h},
		speedScale:     float32(cfg.Viewer.SpeedScale),
		overlays:       ui.NewOverlayRegistry(),
		hud:            ui.NewHUD(),
		statsPanel:     ui.NewStatsPanel(10, 100, 220),
		perfPanel:      ui.NewPerfPanel(10, 0),
		channelPanel:   ui.NewChannelPanel(int32(screenW)-270, 10, 260),
		controlsPanel:  ui.NewControlsPanel(240, 100, 200),
	}
	v.overlays.SetEnabled(ui.OverlayChannels, cfg.Viewer.ShowPanel)
	return v
}

// Update handles input, advances the simulation and refreshes the field
// and tracers from a velocity readback.
func (v *Viewer) Update() error {
	v.handleInput()

	if err := v.sim.Update(); err != nil {
		return err
	}
	v.sim.Perf().RecordFrame()

	if err := v.sim.ReadVelocity(v.grid.Data); err != nil {
		return fmt.Errorf("reading velocity: %w", err)
	}
	if v.overlays.IsEnabled(ui.OverlayField) {
		v.fieldRenderer.Update(v.grid, v.speedScale)
	}
	if v.overlays.IsEnabled(ui.OverlayTracers) && !v.sim.Paused() {
		dt := v.sim.Config().Derived.DT32 * float32(v.sim.StepsPerUpdate())
		v.tracers.Update(v.grid, dt)
		v.tracerRenderer.Update(v.tracers.Particles, v.camera, v.sim.Tick())
	}
	return nil
}

// Draw renders one frame.
func (v *Viewer) Draw() {
	rl.BeginDrawing()
	rl.ClearBackground(rl.Black)

	if v.overlays.IsEnabled(ui.OverlayField) {
		v.fieldRenderer.Draw(v.camera)
	}
	if v.overlays.IsEnabled(ui.OverlayTracers) {
		v.tracerRenderer.Draw()
	}

	v.drawUI()

	rl.EndDrawing()
}

func (v *Viewer) drawUI() {
	w, h := v.sim.Stepper().Size()
	v.hud.Draw(ui.HUDData{
		Title:   "flux",
		Grid:    fmt.Sprintf("%dx%d", w, h),
		Backend: v.backend,
		Tick:    v.sim.Tick(),
		SimTime: v.sim.Elapsed(),
		Speed:   v.sim.StepsPerUpdate(),
		FPS:     rl.GetFPS(),
		Paused:  v.sim.Paused(),
	})
	v.hud.DrawControls(int32(v.screenHeight), controlsLegend)

	y := int32(100)
	if v.overlays.IsEnabled(ui.OverlayStats) {
		var stats *telemetry.WindowStats
		if ws, ok := v.sim.LastStats(); ok {
			stats = &ws
		}
		v.statsPanel.SetPosition(10, y)
		y = v.statsPanel.Draw(stats) + 10
	}
	if v.overlays.IsEnabled(ui.OverlayPerf) {
		v.perfPanel.SetPosition(10, y)
		v.perfPanel.Draw(v.sim.Perf().Stats())
	}
	if v.overlays.IsEnabled(ui.OverlayControls) {
		v.controlsPanel.Draw(v.overlays)
	}
	if v.overlays.IsEnabled(ui.OverlayChannels) {
		v.drawChannelPanel()
	}
}

// drawChannelPanel shows the channel editor and applies its edits.
func (v *Viewer) drawChannelPanel() {
	inj := v.sim.Injector()
	v.states = v.states[:0]
	for i := 0; i < inj.Len(); i++ {
		state, _ := inj.Channel(i)
		v.states = append(v.states, state)
	}

	edit := v.channelPanel.Draw(v.sim.Config().Noise, v.states, float32(v.sim.Elapsed()))
	if edit.Changed {
		if err := v.sim.UpdateChannel(edit.Index, edit.Channel); err != nil {
			slog.Warn("rejected channel edit", "channel", edit.Channel.Name, "error", err)
		}
	}
	if edit.Regenerate {
		if err := v.sim.RegenerateChannel(edit.Index); err != nil {
			slog.Error("failed to regenerate channel", "channel", edit.Index, "error", err)
		}
	}
}

// Unload frees GPU resources owned by the viewer.
func (v *Viewer) Unload() {
	v.fieldRenderer.Unload()
	v.tracerRenderer.Unload()
}
