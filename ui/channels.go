package ui

import (
	"fmt"

	gui "github.com/gen2brain/raylib-go/raygui"
	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/flux/config"
	"github.com/pthm-cable/flux/noise"
)

// channelSlider binds a slider to one tunable of a noise channel. Minimums
// keep the edited channel valid.
type channelSlider struct {
	label    string
	min, max float32
	field    func(*config.NoiseChannelConfig) *float64
}

var channelSliders = []channelSlider{
	{"Scale", 0.5, 30, func(c *config.NoiseChannelConfig) *float64 { return &c.Scale }},
	{"Multiplier", 0, 10, func(c *config.NoiseChannelConfig) *float64 { return &c.Multiplier }},
	{"Phase step", 0.01, 1, func(c *config.NoiseChannelConfig) *float64 { return &c.OffsetIncrement }},
	{"Delay", 0, 10, func(c *config.NoiseChannelConfig) *float64 { return &c.Delay }},
	{"Blend time", 0.05, 10, func(c *config.NoiseChannelConfig) *float64 { return &c.BlendDuration }},
}

// ChannelEdit is the outcome of one frame of the channel panel.
type ChannelEdit struct {
	Index      int
	Channel    config.NoiseChannelConfig // Edited settings, valid when Changed
	Changed    bool
	Regenerate bool
}

// ChannelPanel edits one noise channel at a time with raygui sliders.
type ChannelPanel struct {
	renderer *Renderer
	x, y     int32
	width    int32
	selected int
}

// NewChannelPanel creates a new channel panel.
func NewChannelPanel(x, y, width int32) *ChannelPanel {
	return &ChannelPanel{
		renderer: NewRenderer(),
		x:        x,
		y:        y,
		width:    width,
	}
}

// SetPosition updates the panel position.
func (c *ChannelPanel) SetPosition(x, y int32) {
	c.x = x
	c.y = y
}

// Selected returns the index of the channel being edited.
func (c *ChannelPanel) Selected() int { return c.selected }

// Draw renders the panel for the selected channel. states holds the
// injector's view of each channel and elapsed the current sim time.
func (c *ChannelPanel) Draw(channels []config.NoiseChannelConfig, states []noise.ChannelState, elapsed float32) ChannelEdit {
	if len(channels) == 0 {
		return ChannelEdit{Index: -1}
	}
	if c.selected >= len(channels) {
		c.selected = 0
	}

	r := c.renderer
	padding := r.Theme.Padding
	lineHeight := r.Theme.LineHeight
	sliderWidth := float32(c.width - padding*2 - 50)

	height := padding*2 + lineHeight*3 + 30 + int32(len(channelSliders))*(lineHeight+24) + 40
	r.DrawPanel(c.x, c.y, c.width, height)

	edit := ChannelEdit{Index: c.selected, Channel: channels[c.selected]}
	ch := &edit.Channel

	x := float32(c.x + padding)
	y := float32(c.y + padding)

	// Channel selector
	if gui.Button(rl.Rectangle{X: x, Y: y, Width: 24, Height: 20}, "<") {
		c.selected = (c.selected + len(channels) - 1) % len(channels)
		return ChannelEdit{Index: c.selected, Channel: channels[c.selected]}
	}
	title := fmt.Sprintf("%s (%d/%d)", ch.Name, c.selected+1, len(channels))
	rl.DrawText(title, int32(x)+32, int32(y)+3, 16, rl.White)
	if gui.Button(rl.Rectangle{X: float32(c.x+c.width-padding) - 24, Y: y, Width: 24, Height: 20}, ">") {
		c.selected = (c.selected + 1) % len(channels)
		return ChannelEdit{Index: c.selected, Channel: channels[c.selected]}
	}
	y += 28

	// Blend progress
	if c.selected < len(states) {
		state := states[c.selected]
		progress := float32(1)
		if state.Params.BlendDuration > 0 {
			progress = (elapsed - state.BlendBeginTime) / state.Params.BlendDuration
		}
		r.DrawBar(int32(x), int32(y), "Blend", progress, DefaultRange(), c.width-padding*2)
		y += float32(lineHeight + 4)
	}

	for _, s := range channelSliders {
		v := s.field(ch)
		rl.DrawText(s.label, int32(x), int32(y), r.Theme.FontSize, r.Theme.LabelColor)
		y += float32(lineHeight)
		next := gui.SliderBar(
			rl.Rectangle{X: x, Y: y, Width: sliderWidth, Height: 16},
			"", "",
			float32(*v), s.min, s.max,
		)
		rl.DrawText(fmt.Sprintf("%.2f", *v), int32(x+sliderWidth)+8, int32(y)+2, r.Theme.FontSize, r.Theme.ValueColor)
		if next != float32(*v) {
			*v = float64(next)
			edit.Changed = true
		}
		y += 24
	}

	// Blend method cycles between the known methods
	if gui.Button(rl.Rectangle{X: x, Y: y, Width: 120, Height: 24}, "Method: "+ch.BlendMethod.String()) {
		if ch.BlendMethod == noise.Curl {
			ch.BlendMethod = noise.Wiggle
		} else {
			ch.BlendMethod = noise.Curl
		}
		edit.Changed = true
	}
	if gui.Button(rl.Rectangle{X: x + 130, Y: y, Width: 100, Height: 24}, "Regenerate") {
		edit.Regenerate = true
	}

	return edit
}
