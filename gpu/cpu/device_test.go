package cpu

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/flux/gpu"
	"github.com/pthm-cable/flux/shaders"
)

func newDevice(t *testing.T, workers int) *Device {
	t.Helper()
	dev := New(Options{Workers: workers, MaxTextureSize: 1024, Seed: 7})
	t.Cleanup(dev.Release)
	return dev
}

func newPass(t *testing.T, dev *Device, name string) *gpu.RenderPass {
	t.Helper()
	geo, err := gpu.NewPlane(dev)
	require.NoError(t, err)
	pass, err := gpu.NewRenderPass(dev, shaders.MustSource(name), geo)
	require.NoError(t, err)
	return pass
}

func TestCreateTextureRejectsBadSize(t *testing.T) {
	dev := newDevice(t, 1)

	tests := []struct {
		name          string
		width, height int
		data          []float32
	}{
		{"zero width", 0, 4, nil},
		{"negative height", 4, -1, nil},
		{"over max", 2048, 4, nil},
		{"short data", 2, 2, []float32{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dev.CreateTexture(tt.width, tt.height, gpu.TextureOptions{Format: gpu.FormatR32F}, tt.data)
			var allocErr *gpu.ResourceAllocationError
			assert.True(t, errors.As(err, &allocErr), "got %v", err)
		})
	}
}

func TestSampleLinearWrapModes(t *testing.T) {
	dev := newDevice(t, 1)
	data := []float32{0, 1, 2, 3}

	repeat, err := dev.CreateTexture(4, 1, gpu.TextureOptions{Format: gpu.FormatR32F, Filter: gpu.FilterLinear, Wrap: gpu.WrapRepeat}, data)
	require.NoError(t, err)
	clamp, err := dev.CreateTexture(4, 1, gpu.TextureOptions{Format: gpu.FormatR32F, Filter: gpu.FilterLinear, Wrap: gpu.WrapClampToEdge}, data)
	require.NoError(t, err)

	r := repeat.(*texture)
	c := clamp.(*texture)

	tests := []struct {
		name        string
		u           float32
		repeat, clp float32
	}{
		{"texel centre", 0.125, 0, 0},
		{"between texels", 0.5, 1.5, 1.5},
		{"left edge", 0, 1.5, 0},
		{"right edge", 1, 1.5, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uv := mgl32.Vec2{tt.u, 0.5}
			assert.InDelta(t, tt.repeat, r.sample(uv)[0], 1e-6)
			assert.InDelta(t, tt.clp, c.sample(uv)[0], 1e-6)
		})
	}
}

func TestSampleNearest(t *testing.T) {
	dev := newDevice(t, 1)
	tex, err := dev.CreateTexture(2, 2, gpu.TextureOptions{Format: gpu.FormatRG32F, Filter: gpu.FilterNearest}, []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
	})
	require.NoError(t, err)

	v := tex.(*texture).sample(mgl32.Vec2{0.9, 0.9})
	assert.Equal(t, mgl32.Vec4{7, 8, 0, 1}, v)
}

func TestCompileProgramErrors(t *testing.T) {
	dev := newDevice(t, 1)
	good := shaders.MustSource(shaders.Divergence)

	tests := []struct {
		name  string
		src   gpu.ProgramSource
		stage string
	}{
		{"unknown program", gpu.ProgramSource{Name: "mystery", Vertex: good.Vertex, Fragment: good.Fragment}, "link"},
		{"empty fragment", gpu.ProgramSource{Name: shaders.Divergence, Vertex: good.Vertex}, "fragment"},
		{"empty vertex", gpu.ProgramSource{Name: shaders.Divergence, Fragment: good.Fragment}, "vertex"},
		{"undeclared sampler", gpu.ProgramSource{Name: shaders.Divergence, Vertex: good.Vertex, Fragment: "void main() {}"}, "link"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dev.CompileProgram(tt.src)
			var compileErr *gpu.ShaderCompileError
			require.True(t, errors.As(err, &compileErr), "got %v", err)
			assert.Equal(t, tt.stage, compileErr.Stage)
		})
	}
}

func TestSetUniformBindingErrors(t *testing.T) {
	dev := newDevice(t, 1)
	prog, err := dev.CompileProgram(shaders.MustSource(shaders.Jacobi))
	require.NoError(t, err)

	var bindErr *gpu.BindingError
	assert.True(t, errors.As(prog.SetUniform("missing", gpu.Float(1)), &bindErr))
	assert.True(t, errors.As(prog.SetUniform("solutionTexture", gpu.Float(1)), &bindErr))
	assert.True(t, errors.As(prog.SetUniform("alpha", gpu.Sampler(0)), &bindErr))
	assert.True(t, errors.As(prog.SetUniformBlock("OtherBlock", 0), &bindErr))

	assert.NoError(t, prog.SetUniform("alpha", gpu.Float(-1)))
	assert.NoError(t, prog.SetUniform("solutionTexture", gpu.Sampler(0)))
	assert.NoError(t, prog.SetUniformBlock(shaders.FluidParamsBlock, shaders.FluidParamsSlot))
}

func TestVertexArrayNeedsPositionAttribute(t *testing.T) {
	dev := newDevice(t, 1)
	geo, err := gpu.NewPlane(dev)
	require.NoError(t, err)
	prog, err := dev.CompileProgram(shaders.MustSource(shaders.Divergence))
	require.NoError(t, err)

	_, err = dev.CreateVertexArray(prog, "normal", geo.Vertices, geo.Indices)
	var bindErr *gpu.BindingError
	assert.True(t, errors.As(err, &bindErr))
}

func TestDrawRejectsFeedbackLoop(t *testing.T) {
	dev := newDevice(t, 1)
	pass := newPass(t, dev, shaders.BlendWithWiggle)

	opts := gpu.TextureOptions{Format: gpu.FormatRG32F, Filter: gpu.FilterLinear, Wrap: gpu.WrapRepeat}
	velocity, err := dev.CreateTexture(4, 4, opts, nil)
	require.NoError(t, err)
	noise, err := dev.CreateTexture(4, 4, opts, nil)
	require.NoError(t, err)

	require.NoError(t, pass.Program().SetUniform("inputTexture", gpu.Sampler(0)))
	require.NoError(t, pass.Program().SetUniform("noiseTexture", gpu.Sampler(1)))
	require.NoError(t, dev.BindTarget(velocity))

	err = pass.Draw([]gpu.Texture{velocity, noise})
	assert.ErrorIs(t, err, gpu.ErrFeedbackLoop)
	assert.Equal(t, 0, dev.Draws())
}

func TestDrawWithoutTarget(t *testing.T) {
	dev := newDevice(t, 1)
	pass := newPass(t, dev, shaders.SimplexNoise)

	err := pass.Draw(nil)
	var bindErr *gpu.BindingError
	assert.True(t, errors.As(err, &bindErr))
}

func TestWiggleBlendAddsWeightedNoise(t *testing.T) {
	dev := newDevice(t, 1)
	pass := newPass(t, dev, shaders.BlendWithWiggle)

	opts := gpu.TextureOptions{Format: gpu.FormatRG32F, Filter: gpu.FilterLinear, Wrap: gpu.WrapRepeat}
	n := 4 * 4 * 2
	input := make([]float32, n)
	noise := make([]float32, n)
	for i := 0; i < n; i += 2 {
		input[i] = 1
		noise[i+1] = 2
	}
	src, err := dev.CreateTexture(4, 4, opts, input)
	require.NoError(t, err)
	field, err := dev.CreateTexture(4, 4, opts, noise)
	require.NoError(t, err)
	dst, err := dev.CreateTexture(4, 4, opts, nil)
	require.NoError(t, err)

	prog := pass.Program()
	require.NoError(t, prog.SetUniform("inputTexture", gpu.Sampler(0)))
	require.NoError(t, prog.SetUniform("noiseTexture", gpu.Sampler(1)))
	require.NoError(t, dev.BindTarget(dst))
	require.NoError(t, pass.Draw([]gpu.Texture{src, field},
		gpu.Uniform{Name: "texelSize", Value: gpu.Vec2{0.25, 0.25}},
		gpu.Uniform{Name: "multiplier", Value: gpu.Float(0.5)},
		gpu.Uniform{Name: "blendProgress", Value: gpu.Float(0.25)},
	))
	require.NoError(t, dev.BindTarget(nil))

	out := make([]float32, n)
	require.NoError(t, dev.ReadTexture(dst, out))
	for i := 0; i < n; i += 2 {
		assert.InDelta(t, 1, out[i], 1e-6)
		assert.InDelta(t, 0.25, out[i+1], 1e-6)
	}
}

func TestParallelDrawMatchesInline(t *testing.T) {
	render := func(workers int) []float32 {
		dev := newDevice(t, workers)
		pass := newPass(t, dev, shaders.SimplexNoise)
		tex, err := dev.CreateTexture(64, 64, gpu.TextureOptions{Format: gpu.FormatRG32F}, nil)
		require.NoError(t, err)
		require.NoError(t, dev.BindTarget(tex))
		require.NoError(t, pass.Draw(nil,
			gpu.Uniform{Name: "resolution", Value: gpu.Vec2{64, 64}},
			gpu.Uniform{Name: "offset1", Value: gpu.Float(2)},
			gpu.Uniform{Name: "offset2", Value: gpu.Float(0)},
			gpu.Uniform{Name: "offsetIncrement", Value: gpu.Float(0.1)},
			gpu.Uniform{Name: "frequency", Value: gpu.Float(3)},
		))
		out := make([]float32, 64*64*2)
		require.NoError(t, dev.ReadTexture(tex, out))
		return out
	}

	inline := render(1)
	parallel := render(4)
	assert.Equal(t, inline, parallel)

	var nonZero bool
	for _, v := range inline {
		if v != 0 {
			nonZero = true
			break
		}
	}
	assert.True(t, nonZero, "noise kernel produced an all-zero field")
}

func TestBufferUpdateSubRange(t *testing.T) {
	dev := newDevice(t, 1)
	buf, err := dev.CreateBuffer(gpu.UniformBuffer, make([]byte, shaders.FluidParamsSize))
	require.NoError(t, err)

	assert.NoError(t, buf.UpdateSubRange(shaders.TimestepOffset, shaders.TimestepBytes(0.5)))

	var allocErr *gpu.ResourceAllocationError
	assert.True(t, errors.As(buf.UpdateSubRange(30, []byte{1, 2, 3, 4}), &allocErr))
}
