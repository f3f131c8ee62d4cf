package noise

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/flux/gpu"
	"github.com/pthm-cable/flux/gpu/cpu"
	"github.com/pthm-cable/flux/shaders"
)

const size = 4

func newInjector(t *testing.T) (*cpu.Device, *Injector) {
	t.Helper()
	dev := cpu.New(cpu.Options{Workers: 1})
	t.Cleanup(dev.Release)
	inj, err := NewInjector(dev, size, size)
	require.NoError(t, err)
	t.Cleanup(inj.Release)
	return dev, inj
}

func newVelocity(t *testing.T, dev gpu.Device, vx, vy float32) *gpu.DoubleFramebuffer {
	t.Helper()
	data := make([]float32, size*size*2)
	for i := 0; i < len(data); i += 2 {
		data[i] = vx
		data[i+1] = vy
	}
	opts := gpu.TextureOptions{Format: gpu.FormatRG32F, Filter: gpu.FilterLinear, Wrap: gpu.WrapRepeat}
	v, err := gpu.NewDoubleFramebuffer(dev, size, size, opts, data)
	require.NoError(t, err)
	t.Cleanup(v.Release)
	return v
}

// setUniformNoise overwrites a channel's noise field with a constant vector.
func setUniformNoise(t *testing.T, inj *Injector, index int, nx, ny float32) {
	t.Helper()
	field, ok := inj.Field(index)
	require.True(t, ok)
	data := make([]float32, size*size*2)
	for i := 0; i < len(data); i += 2 {
		data[i] = nx
		data[i+1] = ny
	}
	require.NoError(t, field.Upload(data))
}

func read(t *testing.T, v *gpu.DoubleFramebuffer) []float32 {
	t.Helper()
	out := make([]float32, size*size*2)
	require.NoError(t, v.Read(out))
	return out
}

func defaultParams() Params {
	return Params{
		Scale:           2,
		Multiplier:      1,
		Offset1:         3,
		Offset2:         7,
		OffsetIncrement: 0.25,
		Delay:           1,
		BlendDuration:   1,
		BlendMethod:     Wiggle,
	}
}

func TestAddChannelRejectsInvalidParams(t *testing.T) {
	_, inj := newInjector(t)

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero blend duration", func(p *Params) { p.BlendDuration = 0 }},
		{"negative blend duration", func(p *Params) { p.BlendDuration = -1 }},
		{"zero offset increment", func(p *Params) { p.OffsetIncrement = 0 }},
		{"negative delay", func(p *Params) { p.Delay = -0.5 }},
		{"unknown method", func(p *Params) { p.BlendMethod = BlendMethod(9) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := defaultParams()
			tt.mutate(&p)
			_, err := inj.AddChannel(p)
			assert.ErrorIs(t, err, ErrInvalidParams)
		})
	}
	assert.Equal(t, 0, inj.Len())
}

func TestBlendAppliesOnlyNewProgress(t *testing.T) {
	dev, inj := newInjector(t)
	idx, err := inj.AddChannel(defaultParams())
	require.NoError(t, err)
	setUniformNoise(t, inj, idx, 0, 1)
	velocity := newVelocity(t, dev, 0, 0)

	for _, elapsed := range []float32{0, 0.25, 0.5, 0.75} {
		require.NoError(t, inj.BlendInto(velocity, elapsed))

		state, ok := inj.Channel(idx)
		require.True(t, ok)
		assert.Equal(t, elapsed, state.LastBlendProgress)

		out := read(t, velocity)
		for i := 0; i < len(out); i += 2 {
			assert.InDelta(t, 0, out[i], 1e-6)
			assert.InDelta(t, elapsed, out[i+1], 1e-6, "after blending at %v", elapsed)
		}
	}

	// A finished blend issues no pass and keeps its progress.
	draws := dev.Draws()
	require.NoError(t, inj.BlendInto(velocity, 1))
	assert.Equal(t, draws, dev.Draws())
	state, _ := inj.Channel(idx)
	assert.Equal(t, float32(0.75), state.LastBlendProgress)

	_, blends := inj.Counters()
	assert.Equal(t, 4, blends)
}

func TestBlendTotalIndependentOfCallRate(t *testing.T) {
	final := func(steps []float32) []float32 {
		dev, inj := newInjector(t)
		_, err := inj.AddChannel(defaultParams())
		require.NoError(t, err)
		setUniformNoise(t, inj, 0, 0.5, -1)
		velocity := newVelocity(t, dev, 1, 1)
		for _, elapsed := range steps {
			require.NoError(t, inj.BlendInto(velocity, elapsed))
		}
		return read(t, velocity)
	}

	coarse := final([]float32{0, 0.5, 0.9})
	fine := final([]float32{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9})
	assert.InDeltaSlice(t, coarse, fine, 1e-5)
}

func TestBlendTwiceAtSameTimeLeavesVelocity(t *testing.T) {
	dev, inj := newInjector(t)
	_, err := inj.AddChannel(defaultParams())
	require.NoError(t, err)
	setUniformNoise(t, inj, 0, 1, 1)
	velocity := newVelocity(t, dev, 0.3, -0.2)

	require.NoError(t, inj.BlendInto(velocity, 0.4))
	first := read(t, velocity)
	require.NoError(t, inj.BlendInto(velocity, 0.4))
	assert.Equal(t, first, read(t, velocity))
}

func TestCurlOfUniformNoiseIsZero(t *testing.T) {
	dev, inj := newInjector(t)
	p := defaultParams()
	p.BlendMethod = Curl
	_, err := inj.AddChannel(p)
	require.NoError(t, err)
	p.BlendMethod = Wiggle
	_, err = inj.AddChannel(p)
	require.NoError(t, err)

	setUniformNoise(t, inj, 0, 1, 1)
	setUniformNoise(t, inj, 1, 0, 0)
	velocity := newVelocity(t, dev, 0.5, 0.5)

	require.NoError(t, inj.BlendInto(velocity, 0))
	require.NoError(t, inj.BlendInto(velocity, 0.5))
	out := read(t, velocity)
	for _, v := range out {
		assert.InDelta(t, 0.5, v, 1e-6)
	}

	// Swapping the methods makes the constant field visible.
	p.BlendMethod = Wiggle
	require.NoError(t, inj.UpdateChannel(0, p))
	require.NoError(t, inj.BlendInto(velocity, 0.75))
	out = read(t, velocity)
	for _, v := range out {
		assert.InDelta(t, 0.75, v, 1e-6)
	}
}

func TestGenerateAdvancesPhase(t *testing.T) {
	_, inj := newInjector(t)
	p := defaultParams()
	idx, err := inj.AddChannel(p)
	require.NoError(t, err)

	field, _ := inj.Field(idx)
	snapshot := func() []float32 {
		out := make([]float32, size*size*2)
		require.NoError(t, field.Read(out))
		return out
	}

	require.NoError(t, inj.Generate(idx, 2))
	first := snapshot()
	state, _ := inj.Channel(idx)
	assert.Equal(t, p.Offset1+p.OffsetIncrement, state.Offset1)
	assert.Equal(t, p.Offset2+p.OffsetIncrement, state.Offset2)
	assert.Equal(t, float32(2), state.BlendBeginTime)
	assert.Equal(t, float32(0), state.LastBlendProgress)

	require.NoError(t, inj.Generate(idx, 2.5))
	second := snapshot()
	state, _ = inj.Channel(idx)
	assert.Equal(t, p.Offset1+p.OffsetIncrement+p.OffsetIncrement, state.Offset1)
	assert.Equal(t, p.Offset2+p.OffsetIncrement+p.OffsetIncrement, state.Offset2)
	assert.NotEqual(t, first, second)

	regenerations, _ := inj.Counters()
	assert.Equal(t, 2, regenerations)
}

func TestGenerateResetsBlend(t *testing.T) {
	dev, inj := newInjector(t)
	_, err := inj.AddChannel(defaultParams())
	require.NoError(t, err)
	velocity := newVelocity(t, dev, 0, 0)

	require.NoError(t, inj.BlendInto(velocity, 0.6))
	require.NoError(t, inj.Generate(0, 0.6))
	state, _ := inj.Channel(0)
	assert.Equal(t, float32(0), state.LastBlendProgress)

	require.NoError(t, inj.BlendInto(velocity, 1.1))
	state, _ = inj.Channel(0)
	assert.InDelta(t, 0.5, state.LastBlendProgress, 1e-6)
}

func TestGenerateAllHonoursDelay(t *testing.T) {
	_, inj := newInjector(t)
	_, err := inj.AddChannel(defaultParams())
	require.NoError(t, err)
	p := defaultParams()
	p.Delay = 0
	_, err = inj.AddChannel(p)
	require.NoError(t, err)

	steps := []struct {
		elapsed float32
		begins  [2]float32
	}{
		{0.5, [2]float32{0, 0.5}},
		{1, [2]float32{1, 1}},
		{1.5, [2]float32{1, 1.5}},
		{2, [2]float32{2, 2}},
	}
	for _, step := range steps {
		require.NoError(t, inj.GenerateAll(step.elapsed))
		for i, want := range step.begins {
			state, ok := inj.Channel(i)
			require.True(t, ok)
			assert.Equal(t, want, state.BlendBeginTime, "channel %d at %v", i, step.elapsed)
		}
	}

	regenerations, _ := inj.Counters()
	assert.Equal(t, 6, regenerations)
}

func TestGenerateIgnoresDelay(t *testing.T) {
	_, inj := newInjector(t)
	p := defaultParams()
	p.Delay = 100
	_, err := inj.AddChannel(p)
	require.NoError(t, err)

	require.NoError(t, inj.Generate(0, 0.1))
	state, _ := inj.Channel(0)
	assert.Equal(t, float32(0.1), state.BlendBeginTime)
}

func TestOutOfRangeIndicesAreIgnored(t *testing.T) {
	dev, inj := newInjector(t)
	_, err := inj.AddChannel(defaultParams())
	require.NoError(t, err)

	draws := dev.Draws()
	assert.NoError(t, inj.Generate(1, 0))
	assert.NoError(t, inj.Generate(-1, 0))
	assert.NoError(t, inj.UpdateChannel(5, Params{}))
	assert.Equal(t, draws, dev.Draws())

	_, ok := inj.Channel(1)
	assert.False(t, ok)
	_, ok = inj.Field(-1)
	assert.False(t, ok)

	regenerations, _ := inj.Counters()
	assert.Equal(t, 0, regenerations)
}

func TestUpdateChannelKeepsTimingAndPhase(t *testing.T) {
	dev, inj := newInjector(t)
	_, err := inj.AddChannel(defaultParams())
	require.NoError(t, err)
	velocity := newVelocity(t, dev, 0, 0)

	require.NoError(t, inj.Generate(0, 1))
	require.NoError(t, inj.BlendInto(velocity, 1.25))
	before, _ := inj.Channel(0)

	updated := defaultParams()
	updated.Multiplier = 4
	updated.Scale = 8
	updated.Offset1 = 100
	updated.BlendMethod = Curl
	require.NoError(t, inj.UpdateChannel(0, updated))

	after, _ := inj.Channel(0)
	assert.Equal(t, updated, after.Params)
	assert.Equal(t, before.Offset1, after.Offset1)
	assert.Equal(t, before.Offset2, after.Offset2)
	assert.Equal(t, before.BlendBeginTime, after.BlendBeginTime)
	assert.Equal(t, before.LastBlendProgress, after.LastBlendProgress)

	bad := updated
	bad.BlendDuration = 0
	assert.ErrorIs(t, inj.UpdateChannel(0, bad), ErrInvalidParams)
	after, _ = inj.Channel(0)
	assert.Equal(t, updated, after.Params)
}

func TestBlendMethodYAML(t *testing.T) {
	var p Params
	require.NoError(t, yaml.Unmarshal([]byte("blend_duration: 2\nblend_method: Wiggle\n"), &p))
	assert.Equal(t, Wiggle, p.BlendMethod)
	assert.Equal(t, float32(2), p.BlendDuration)

	out, err := yaml.Marshal(Params{BlendMethod: Curl})
	require.NoError(t, err)
	assert.Contains(t, string(out), "blend_method: curl")

	err = yaml.Unmarshal([]byte("blend_method: swirl\n"), &p)
	assert.ErrorContains(t, err, "swirl")

	_, err = ParseBlendMethod("")
	assert.Error(t, err)
}

func TestRestoreChannel(t *testing.T) {
	dev, inj := newInjector(t)
	_, err := inj.AddChannel(defaultParams())
	require.NoError(t, err)

	state := ChannelState{
		Params:            defaultParams(),
		Offset1:           12,
		Offset2:           -3,
		BlendBeginTime:    5,
		LastBlendProgress: 0.5,
	}
	state.Params.Multiplier = 2
	field := make([]float32, size*size*2)
	for i := 1; i < len(field); i += 2 {
		field[i] = 1
	}
	require.NoError(t, inj.RestoreChannel(0, state, field))

	got, _ := inj.Channel(0)
	assert.Equal(t, state, got)

	// The rest of the blend applies the restored field with the restored weight.
	velocity := newVelocity(t, dev, 0, 0)
	require.NoError(t, inj.BlendInto(velocity, 5.75))
	out := read(t, velocity)
	for i := 0; i < len(out); i += 2 {
		assert.InDelta(t, 0, out[i], 1e-6)
		assert.InDelta(t, 0.5, out[i+1], 1e-6)
	}

	assert.Error(t, inj.RestoreChannel(1, state, field))
	assert.Error(t, inj.RestoreChannel(0, state, field[:4]))
	state.Params.BlendDuration = 0
	assert.ErrorIs(t, inj.RestoreChannel(0, state, field), ErrInvalidParams)
}

// failingCompile rejects one named program and compiles the rest.
type failingCompile struct {
	*cpu.Device
	program string
}

func (f failingCompile) CompileProgram(src gpu.ProgramSource) (gpu.Program, error) {
	if src.Name == f.program {
		return nil, &gpu.ShaderCompileError{Program: src.Name, Stage: "fragment", Log: "syntax error"}
	}
	return f.Device.CompileProgram(src)
}

func TestNewInjectorPropagatesCompileFailure(t *testing.T) {
	for _, program := range []string{shaders.SimplexNoise, shaders.BlendWithWiggle} {
		t.Run(program, func(t *testing.T) {
			dev := cpu.New(cpu.Options{Workers: 1})
			t.Cleanup(dev.Release)

			var inj *Injector
			var err error
			require.NotPanics(t, func() { inj, err = NewInjector(failingCompile{dev, program}, size, size) })
			assert.Nil(t, inj)
			var target *gpu.ShaderCompileError
			require.True(t, errors.As(err, &target), "got %v", err)
			assert.Equal(t, program, target.Program)
		})
	}
}

func TestReleaseNilInjector(t *testing.T) {
	var inj *Injector
	assert.NotPanics(t, inj.Release)
}
