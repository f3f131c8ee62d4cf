package shaders

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceLoadsEveryProgram(t *testing.T) {
	for _, name := range Names {
		t.Run(name, func(t *testing.T) {
			src, err := Source(name)
			require.NoError(t, err)
			assert.Equal(t, name, src.Name)
			assert.Contains(t, src.Vertex, "in vec3 position")
			assert.True(t, strings.HasPrefix(src.Fragment, "#version 330 core"))
		})
	}
}

func TestSourceUnknownProgram(t *testing.T) {
	_, err := Source("does_not_exist")
	assert.Error(t, err)
}

func TestFluidProgramsDeclareParamsBlock(t *testing.T) {
	for _, name := range []string{Advection, Jacobi, Divergence, SubtractGradient} {
		src := MustSource(name)
		assert.Contains(t, src.Fragment, "uniform "+FluidParamsBlock, name)
	}
}

func TestFluidParamsLayout(t *testing.T) {
	p := FluidParams{
		Timestep:    0.016,
		Epsilon:     1,
		HalfEpsilon: 0.5,
		Dissipation: 0.25,
		TexelSize:   [2]float32{1.0 / 128, 1.0 / 64},
	}
	data := p.Bytes()
	require.Len(t, data, FluidParamsSize)

	assert.Equal(t, TimestepBytes(0.016), data[TimestepOffset:TimestepOffset+4])

	got, err := DecodeFluidParams(data)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = DecodeFluidParams(data[:16])
	assert.Error(t, err)
}
