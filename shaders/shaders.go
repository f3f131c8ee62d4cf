// Package shaders embeds the GLSL programs the fluid and noise passes run and
// defines the uniform contract shared between host code and programs.
package shaders

import (
	"embed"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pthm-cable/flux/gpu"
)

//go:embed *.vert *.frag
var files embed.FS

// Program names. Each is also the base name of its fragment shader.
const (
	Advection        = "advection"
	Jacobi           = "jacobi"
	Divergence       = "divergence"
	SubtractGradient = "subtract_gradient"
	SimplexNoise     = "simplex_noise"
	BlendWithCurl    = "blend_with_curl"
	BlendWithWiggle  = "blend_with_wiggle"
)

// Names lists every program in the package.
var Names = []string{
	Advection, Jacobi, Divergence, SubtractGradient,
	SimplexNoise, BlendWithCurl, BlendWithWiggle,
}

const vertexFile = "fluid.vert"

// Source loads the named program.
func Source(name string) (gpu.ProgramSource, error) {
	vertex, err := files.ReadFile(vertexFile)
	if err != nil {
		return gpu.ProgramSource{}, fmt.Errorf("reading %s: %w", vertexFile, err)
	}
	fragment, err := files.ReadFile(name + ".frag")
	if err != nil {
		return gpu.ProgramSource{}, fmt.Errorf("unknown program %q: %w", name, err)
	}
	return gpu.ProgramSource{
		Name:     name,
		Vertex:   string(vertex),
		Fragment: string(fragment),
	}, nil
}

// MustSource is like Source but panics on error.
func MustSource(name string) gpu.ProgramSource {
	src, err := Source(name)
	if err != nil {
		panic(err)
	}
	return src
}

// FluidParams block layout (std140).
const (
	FluidParamsBlock = "FluidParams"
	FluidParamsSlot  = 0
	FluidParamsSize  = 32

	// TimestepOffset is the byte offset of the only per-tick field.
	TimestepOffset = 0
)

// FluidParams is the parameter block read by every fluid pass.
type FluidParams struct {
	Timestep    float32
	Epsilon     float32
	HalfEpsilon float32
	Dissipation float32
	TexelSize   [2]float32
}

// Bytes encodes the block in std140 layout.
func (p FluidParams) Bytes() []byte {
	out := make([]byte, FluidParamsSize)
	put := func(offset int, v float32) {
		binary.LittleEndian.PutUint32(out[offset:], math.Float32bits(v))
	}
	put(0, p.Timestep)
	put(4, p.Epsilon)
	put(8, p.HalfEpsilon)
	put(12, p.Dissipation)
	put(16, p.TexelSize[0])
	put(20, p.TexelSize[1])
	return out
}

// TimestepBytes encodes just the timestep field for a partial update.
func TimestepBytes(dt float32) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, math.Float32bits(dt))
	return out
}

// DecodeFluidParams reads a block previously written with Bytes.
func DecodeFluidParams(data []byte) (FluidParams, error) {
	if len(data) < FluidParamsSize {
		return FluidParams{}, fmt.Errorf("fluid params block: %d bytes, want %d", len(data), FluidParamsSize)
	}
	get := func(offset int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(data[offset:]))
	}
	return FluidParams{
		Timestep:    get(0),
		Epsilon:     get(4),
		HalfEpsilon: get(8),
		Dissipation: get(12),
		TexelSize:   [2]float32{get(16), get(20)},
	}, nil
}
