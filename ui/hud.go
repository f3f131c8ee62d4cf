package ui

import (
	"fmt"
	"time"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/flux/telemetry"
)

// HUDData holds all the data needed to render the main HUD.
type HUDData struct {
	Title   string
	Grid    string
	Backend string
	Tick    int32
	SimTime float64
	Speed   int
	FPS     int32
	Paused  bool
}

// HUD renders the main heads-up display.
type HUD struct{}

// NewHUD creates a new HUD renderer.
func NewHUD() *HUD {
	return &HUD{}
}

// Draw renders the HUD.
func (h *HUD) Draw(data HUDData) {
	rl.DrawText(data.Title, 10, 10, 20, rl.White)

	rl.DrawText(
		fmt.Sprintf("Grid: %s | Backend: %s", data.Grid, data.Backend),
		10, 35, 16, rl.LightGray,
	)
	rl.DrawText(
		fmt.Sprintf("Tick: %d | Time: %.1fs | Speed: %dx | FPS: %d", data.Tick, data.SimTime, data.Speed, data.FPS),
		10, 55, 16, rl.LightGray,
	)

	statusText := "Running"
	if data.Paused {
		statusText = "PAUSED"
	}
	rl.DrawText(statusText, 10, 75, 16, rl.Yellow)
}

// DrawControls renders the control legend at the bottom of the screen.
func (h *HUD) DrawControls(screenHeight int32, controls string) {
	rl.DrawText(controls, 10, screenHeight-25, 14, rl.Gray)
}

// statsSections describes the field stats panel.
var statsSections = []SectionDescriptor{
	{
		Title: "Velocity",
		Fields: []FieldDescriptor{
			{Label: "Energy", Widget: WidgetText, Format: "%.4f", Getter: statsGetter(func(s *telemetry.WindowStats) float64 { return s.KineticEnergy })},
			{Label: "Mean speed", Widget: WidgetText, Format: "%.3f", Getter: statsGetter(func(s *telemetry.WindowStats) float64 { return s.MeanSpeed })},
			{Label: "Speed p90", Widget: WidgetText, Format: "%.3f", Getter: statsGetter(func(s *telemetry.WindowStats) float64 { return s.SpeedP90 })},
			{Label: "Max speed", Widget: WidgetText, Format: "%.3f", Getter: statsGetter(func(s *telemetry.WindowStats) float64 { return s.MaxSpeed })},
		},
	},
	{
		Title: "Projection",
		Fields: []FieldDescriptor{
			{Label: "Div RMS", Widget: WidgetText, Format: "%.2e", Getter: statsGetter(func(s *telemetry.WindowStats) float64 { return s.DivergenceRMS })},
			{Label: "Div max", Widget: WidgetText, Format: "%.2e", Getter: statsGetter(func(s *telemetry.WindowStats) float64 { return s.DivergenceMax })},
		},
	},
	{
		Title: "Noise",
		Fields: []FieldDescriptor{
			{Label: "Regenerated", Widget: WidgetText, Format: "%.0f", Getter: statsGetter(func(s *telemetry.WindowStats) float64 { return float64(s.Regenerations) })},
			{Label: "Blend passes", Widget: WidgetText, Format: "%.0f", Getter: statsGetter(func(s *telemetry.WindowStats) float64 { return float64(s.BlendPasses) })},
		},
	},
}

func statsGetter(f func(*telemetry.WindowStats) float64) func(any) float32 {
	return func(data any) float32 {
		s, ok := data.(*telemetry.WindowStats)
		if !ok || s == nil {
			return 0
		}
		return float32(f(s))
	}
}

// StatsPanel renders the latest window's field statistics.
type StatsPanel struct {
	renderer *Renderer
	x, y     int32
	width    int32
}

// NewStatsPanel creates a new stats panel.
func NewStatsPanel(x, y, width int32) *StatsPanel {
	return &StatsPanel{
		renderer: NewRenderer(),
		x:        x,
		y:        y,
		width:    width,
	}
}

// SetPosition updates the panel position.
func (p *StatsPanel) SetPosition(x, y int32) {
	p.x = x
	p.y = y
}

// Draw renders the panel and returns the Y below it.
func (p *StatsPanel) Draw(stats *telemetry.WindowStats) int32 {
	r := p.renderer
	padding := r.Theme.Padding

	height := padding*2 + r.Theme.LineHeight + 4
	for _, sd := range statsSections {
		height += r.SectionHeight(sd, stats)
	}
	r.DrawPanel(p.x, p.y, p.width, height)

	y := p.y + padding
	title := "Field Stats"
	if stats != nil {
		title = fmt.Sprintf("Field Stats @ %d", stats.WindowEndTick)
	}
	rl.DrawText(title, p.x+padding, y, 16, rl.White)
	y += r.Theme.LineHeight + 4

	for _, sd := range statsSections {
		y = r.DrawSection(p.x+padding, y, sd, stats, p.width-padding*2)
	}
	return p.y + height
}

// PerfPanel renders the per-phase tick timings.
type PerfPanel struct {
	x, y int32
}

// NewPerfPanel creates a new performance panel.
func NewPerfPanel(x, y int32) *PerfPanel {
	return &PerfPanel{x: x, y: y}
}

// SetPosition updates the panel position.
func (p *PerfPanel) SetPosition(x, y int32) {
	p.x = x
	p.y = y
}

// Draw renders the performance panel.
func (p *PerfPanel) Draw(stats telemetry.PerfStats) {
	x := p.x
	y := p.y

	rl.DrawText("Tick Performance", x, y, 16, rl.White)
	y += 20

	rl.DrawText(fmt.Sprintf("Avg: %s | %.0f ticks/s", stats.AvgTickDuration.Round(time.Microsecond), stats.TicksPerSecond), x, y, 14, rl.Yellow)
	y += 16

	for _, phase := range telemetry.Phases {
		avg := stats.PhaseAvg[phase]
		pct := stats.PhasePct[phase]

		color := rl.LightGray
		if pct > 40 {
			color = rl.Red
		} else if pct > 20 {
			color = rl.Orange
		}

		rl.DrawText(
			fmt.Sprintf("%-16s %8s %5.1f%%", phase, avg.Round(time.Microsecond), pct),
			x, y, 12, color,
		)
		y += 14
	}
}
