// Package noise perturbs a velocity field with procedurally generated noise.
//
// Each channel regenerates its noise field on its own timer and blends it into
// the velocity gradually: every BlendInto call applies only the share of the
// blend that accrued since the previous call, so the total contribution of one
// regeneration is the same regardless of how often BlendInto runs.
package noise

import (
	"errors"
	"fmt"
	"math"

	"github.com/pthm-cable/flux/gpu"
	"github.com/pthm-cable/flux/shaders"
)

// ErrInvalidParams is wrapped by every channel validation failure.
var ErrInvalidParams = errors.New("invalid noise parameters")

// blendEpsilon is how close to complete a blend must be to count as done.
const blendEpsilon = 1e-4

var fieldOptions = gpu.TextureOptions{Format: gpu.FormatRG32F, Filter: gpu.FilterLinear, Wrap: gpu.WrapRepeat}

// Params are a channel's settings.
type Params struct {
	Scale           float32     `yaml:"scale" json:"scale"`
	Multiplier      float32     `yaml:"multiplier" json:"multiplier"`
	Offset1         float32     `yaml:"offset_1" json:"offset_1"`
	Offset2         float32     `yaml:"offset_2" json:"offset_2"`
	OffsetIncrement float32     `yaml:"offset_increment" json:"offset_increment"`
	Delay           float32     `yaml:"delay" json:"delay"`
	BlendDuration   float32     `yaml:"blend_duration" json:"blend_duration"`
	BlendMethod     BlendMethod `yaml:"blend_method" json:"blend_method"`
}

// Validate reports settings a channel cannot run with.
func (p Params) Validate() error {
	for name, v := range map[string]float32{
		"scale":            p.Scale,
		"multiplier":       p.Multiplier,
		"offset_1":         p.Offset1,
		"offset_2":         p.Offset2,
		"offset_increment": p.OffsetIncrement,
		"delay":            p.Delay,
		"blend_duration":   p.BlendDuration,
	} {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: %s is %v", ErrInvalidParams, name, v)
		}
	}
	switch {
	case p.BlendDuration <= 0:
		return fmt.Errorf("%w: blend_duration %v must be positive", ErrInvalidParams, p.BlendDuration)
	case p.OffsetIncrement <= 0:
		return fmt.Errorf("%w: offset_increment %v must be positive", ErrInvalidParams, p.OffsetIncrement)
	case p.Delay < 0:
		return fmt.Errorf("%w: delay %v", ErrInvalidParams, p.Delay)
	case !p.BlendMethod.Valid():
		return fmt.Errorf("%w: blend method %v", ErrInvalidParams, p.BlendMethod)
	}
	return nil
}

// Channel is one perturbation source with its own timing and phase.
type Channel struct {
	params            Params
	field             *gpu.Framebuffer
	blendBeginTime    float32
	lastBlendProgress float32
	offset1           float32
	offset2           float32
}

// ChannelState is a read-only view of a channel.
type ChannelState struct {
	Params            Params
	Offset1           float32
	Offset2           float32
	BlendBeginTime    float32
	LastBlendProgress float32
}

func (c *Channel) state() ChannelState {
	return ChannelState{
		Params:            c.params,
		Offset1:           c.offset1,
		Offset2:           c.offset2,
		BlendBeginTime:    c.blendBeginTime,
		LastBlendProgress: c.lastBlendProgress,
	}
}

// progress is the blend fraction reached at elapsed, clamped to [0, 1].
func (c *Channel) progress(elapsed float32) float32 {
	p := (elapsed - c.blendBeginTime) / c.params.BlendDuration
	return min(max(p, 0), 1)
}

// Injector owns the channels and the generation and blend passes.
type Injector struct {
	device    gpu.Device
	width     int
	height    int
	texelSize [2]float32

	geometry     *gpu.Geometry
	generatePass *gpu.RenderPass
	blendPasses  map[BlendMethod]*gpu.RenderPass
	channels     []*Channel

	regenerations int
	blends        int
}

// NewInjector compiles the noise passes for a width x height domain.
func NewInjector(dev gpu.Device, width, height int) (_ *Injector, err error) {
	inj := &Injector{
		device:      dev,
		width:       width,
		height:      height,
		texelSize:   [2]float32{1 / float32(width), 1 / float32(height)},
		blendPasses: make(map[BlendMethod]*gpu.RenderPass, 2),
	}
	defer func() {
		if err != nil {
			inj.Release()
		}
	}()

	if inj.geometry, err = gpu.NewPlane(dev); err != nil {
		return nil, err
	}

	src, err := shaders.Source(shaders.SimplexNoise)
	if err != nil {
		return nil, err
	}
	if inj.generatePass, err = gpu.NewRenderPass(dev, src, inj.geometry); err != nil {
		return nil, err
	}

	for _, method := range []BlendMethod{Curl, Wiggle} {
		src, err := shaders.Source(method.program())
		if err != nil {
			return nil, err
		}
		pass, err := gpu.NewRenderPass(dev, src, inj.geometry)
		if err != nil {
			return nil, err
		}
		inj.blendPasses[method] = pass

		if err := pass.Program().SetUniform("inputTexture", gpu.Sampler(0)); err != nil {
			return nil, err
		}
		if err := pass.Program().SetUniform("noiseTexture", gpu.Sampler(1)); err != nil {
			return nil, err
		}
	}

	return inj, nil
}

// AddChannel registers a channel with a zeroed noise field and returns its
// index.
func (inj *Injector) AddChannel(params Params) (int, error) {
	if err := params.Validate(); err != nil {
		return 0, err
	}
	field, err := gpu.NewFramebuffer(inj.device, inj.width, inj.height, fieldOptions, nil)
	if err != nil {
		return 0, fmt.Errorf("noise channel %d: %w", len(inj.channels), err)
	}
	inj.channels = append(inj.channels, &Channel{
		params:  params,
		field:   field,
		offset1: params.Offset1,
		offset2: params.Offset2,
	})
	return len(inj.channels) - 1, nil
}

// GenerateAll regenerates every channel whose delay has passed since its
// last regeneration.
func (inj *Injector) GenerateAll(elapsed float32) error {
	for i, ch := range inj.channels {
		if elapsed-ch.blendBeginTime < ch.params.Delay {
			continue
		}
		if err := inj.generate(ch, elapsed); err != nil {
			return fmt.Errorf("noise channel %d: %w", i, err)
		}
	}
	return nil
}

// Generate regenerates one channel regardless of its delay. Out-of-range
// indices are ignored.
func (inj *Injector) Generate(index int, elapsed float32) error {
	if index < 0 || index >= len(inj.channels) {
		return nil
	}
	if err := inj.generate(inj.channels[index], elapsed); err != nil {
		return fmt.Errorf("noise channel %d: %w", index, err)
	}
	return nil
}

func (inj *Injector) generate(ch *Channel, elapsed float32) error {
	err := ch.field.WriteFullGrid(func() error {
		return inj.generatePass.Draw(nil,
			gpu.Uniform{Name: "resolution", Value: gpu.Vec2{float32(inj.width), float32(inj.height)}},
			gpu.Uniform{Name: "offset1", Value: gpu.Float(ch.offset1)},
			gpu.Uniform{Name: "offset2", Value: gpu.Float(ch.offset2)},
			gpu.Uniform{Name: "offsetIncrement", Value: gpu.Float(ch.params.OffsetIncrement)},
			gpu.Uniform{Name: "frequency", Value: gpu.Float(ch.params.Scale)},
		)
	})
	if err != nil {
		return fmt.Errorf("generating: %w", err)
	}

	ch.blendBeginTime = elapsed
	ch.lastBlendProgress = 0
	ch.offset1 += ch.params.OffsetIncrement
	ch.offset2 += ch.params.OffsetIncrement
	inj.regenerations++
	return nil
}

// BlendInto applies each channel's not-yet-applied share of its current blend
// to velocity. Channels whose blend is complete issue no pass.
func (inj *Injector) BlendInto(velocity *gpu.DoubleFramebuffer, elapsed float32) error {
	for i, ch := range inj.channels {
		progress := ch.progress(elapsed)
		if progress >= 1-blendEpsilon {
			continue
		}
		delta := progress - ch.lastBlendProgress

		pass := inj.blendPasses[ch.params.BlendMethod]
		err := velocity.WriteFullGrid(func(current gpu.Texture) error {
			return pass.Draw([]gpu.Texture{current, ch.field.Current()},
				gpu.Uniform{Name: "texelSize", Value: gpu.Vec2(inj.texelSize)},
				gpu.Uniform{Name: "multiplier", Value: gpu.Float(ch.params.Multiplier)},
				gpu.Uniform{Name: "blendProgress", Value: gpu.Float(delta)},
			)
		})
		if err != nil {
			return fmt.Errorf("noise channel %d: blending: %w", i, err)
		}

		ch.lastBlendProgress = progress
		inj.blends++
	}
	return nil
}

// UpdateChannel replaces a channel's settings, keeping its timing and phase.
// Out-of-range indices are ignored.
func (inj *Injector) UpdateChannel(index int, params Params) error {
	if index < 0 || index >= len(inj.channels) {
		return nil
	}
	if err := params.Validate(); err != nil {
		return err
	}
	inj.channels[index].params = params
	return nil
}

// RestoreChannel overwrites a channel's settings, timing, phase and noise
// field, e.g. when resuming from a snapshot.
func (inj *Injector) RestoreChannel(index int, state ChannelState, field []float32) error {
	if index < 0 || index >= len(inj.channels) {
		return fmt.Errorf("noise channel %d: out of range", index)
	}
	if err := state.Params.Validate(); err != nil {
		return err
	}
	ch := inj.channels[index]
	if err := ch.field.Upload(field); err != nil {
		return fmt.Errorf("noise channel %d: restoring field: %w", index, err)
	}
	ch.params = state.Params
	ch.offset1 = state.Offset1
	ch.offset2 = state.Offset2
	ch.blendBeginTime = state.BlendBeginTime
	ch.lastBlendProgress = state.LastBlendProgress
	return nil
}

// Channel returns the state of the channel at index.
func (inj *Injector) Channel(index int) (ChannelState, bool) {
	if index < 0 || index >= len(inj.channels) {
		return ChannelState{}, false
	}
	return inj.channels[index].state(), true
}

// Field returns the noise field of the channel at index.
func (inj *Injector) Field(index int) (*gpu.Framebuffer, bool) {
	if index < 0 || index >= len(inj.channels) {
		return nil, false
	}
	return inj.channels[index].field, true
}

// Len returns the number of channels.
func (inj *Injector) Len() int { return len(inj.channels) }

// Counters returns how many regenerations and blend passes have run.
func (inj *Injector) Counters() (regenerations, blends int) {
	return inj.regenerations, inj.blends
}

// Release frees the channel fields and passes.
func (inj *Injector) Release() {
	if inj == nil {
		return
	}
	for _, ch := range inj.channels {
		ch.field.Release()
	}
	inj.channels = nil
	if inj.generatePass != nil {
		inj.generatePass.Release()
		inj.generatePass = nil
	}
	for method, pass := range inj.blendPasses {
		pass.Release()
		delete(inj.blendPasses, method)
	}
	if inj.geometry != nil {
		inj.geometry.Release()
		inj.geometry = nil
	}
}
