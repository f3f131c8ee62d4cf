package cpu

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/pthm-cable/flux/shaders"
)

// shadeFunc computes one output texel from its normalised centre.
type shadeFunc func(uv mgl32.Vec2) mgl32.Vec4

// kernel is the software rendition of one named program. Sampler and uniform
// names match the GLSL declarations.
type kernel struct {
	samplers []string
	uniforms []string
	block    string
	build    func(s *drawState) shadeFunc
}

func (k *kernel) isSampler(name string) bool {
	for _, s := range k.samplers {
		if s == name {
			return true
		}
	}
	return false
}

func (k *kernel) isUniform(name string) bool {
	for _, u := range k.uniforms {
		if u == name {
			return true
		}
	}
	return false
}

var kernels = map[string]*kernel{
	shaders.Advection: {
		samplers: []string{"velocityTexture"},
		block:    shaders.FluidParamsBlock,
		build:    buildAdvection,
	},
	shaders.Jacobi: {
		samplers: []string{"solutionTexture", "sourceTexture"},
		uniforms: []string{"alpha", "rBeta"},
		block:    shaders.FluidParamsBlock,
		build:    buildJacobi,
	},
	shaders.Divergence: {
		samplers: []string{"velocityTexture"},
		block:    shaders.FluidParamsBlock,
		build:    buildDivergence,
	},
	shaders.SubtractGradient: {
		samplers: []string{"velocityTexture", "pressureTexture"},
		block:    shaders.FluidParamsBlock,
		build:    buildSubtractGradient,
	},
	shaders.SimplexNoise: {
		uniforms: []string{"resolution", "offset1", "offset2", "offsetIncrement", "frequency"},
		build:    buildSimplexNoise,
	},
	shaders.BlendWithCurl: {
		samplers: []string{"inputTexture", "noiseTexture"},
		uniforms: []string{"texelSize", "multiplier", "blendProgress"},
		build:    buildBlendWithCurl,
	},
	shaders.BlendWithWiggle: {
		samplers: []string{"inputTexture", "noiseTexture"},
		uniforms: []string{"texelSize", "multiplier", "blendProgress"},
		build:    buildBlendWithWiggle,
	},
}

func xy(v mgl32.Vec4) mgl32.Vec2 { return mgl32.Vec2{v[0], v[1]} }

func vec4(v mgl32.Vec2) mgl32.Vec4 { return mgl32.Vec4{v[0], v[1], 0, 1} }

func buildAdvection(s *drawState) shadeFunc {
	velocity := s.sampler("velocityTexture")
	p := s.params
	step := p.Timestep / p.Epsilon
	decay := 1 + p.Dissipation*p.Timestep
	texel := mgl32.Vec2(p.TexelSize)

	return func(uv mgl32.Vec2) mgl32.Vec4 {
		v := xy(velocity.sample(uv))
		back := mgl32.Vec2{v[0] * texel[0], v[1] * texel[1]}.Mul(step)
		return vec4(xy(velocity.sample(uv.Sub(back))).Mul(1 / decay))
	}
}

func buildJacobi(s *drawState) shadeFunc {
	solution := s.sampler("solutionTexture")
	source := s.sampler("sourceTexture")
	alpha := s.float("alpha")
	rBeta := s.float("rBeta")
	dx := mgl32.Vec2{s.params.TexelSize[0], 0}
	dy := mgl32.Vec2{0, s.params.TexelSize[1]}

	return func(uv mgl32.Vec2) mgl32.Vec4 {
		sum := solution.sample(uv.Sub(dx)).
			Add(solution.sample(uv.Add(dx))).
			Add(solution.sample(uv.Sub(dy))).
			Add(solution.sample(uv.Add(dy)))
		return sum.Add(source.sample(uv).Mul(alpha)).Mul(rBeta)
	}
}

func buildDivergence(s *drawState) shadeFunc {
	velocity := s.sampler("velocityTexture")
	epsilon := s.params.Epsilon
	dx := mgl32.Vec2{s.params.TexelSize[0], 0}
	dy := mgl32.Vec2{0, s.params.TexelSize[1]}

	return func(uv mgl32.Vec2) mgl32.Vec4 {
		center := velocity.sample(uv)
		left := velocity.sample(uv.Sub(dx))[0]
		bottom := velocity.sample(uv.Sub(dy))[1]
		div := (center[0] - left + center[1] - bottom) / epsilon
		return mgl32.Vec4{div, 0, 0, 1}
	}
}

func buildSubtractGradient(s *drawState) shadeFunc {
	velocity := s.sampler("velocityTexture")
	pressure := s.sampler("pressureTexture")
	epsilon := s.params.Epsilon
	dx := mgl32.Vec2{s.params.TexelSize[0], 0}
	dy := mgl32.Vec2{0, s.params.TexelSize[1]}

	return func(uv mgl32.Vec2) mgl32.Vec4 {
		p := pressure.sample(uv)[0]
		right := pressure.sample(uv.Add(dx))[0]
		top := pressure.sample(uv.Add(dy))[0]
		gradient := mgl32.Vec2{right - p, top - p}.Mul(1 / epsilon)
		return vec4(xy(velocity.sample(uv)).Sub(gradient))
	}
}

func buildSimplexNoise(s *drawState) shadeFunc {
	resolution := s.vec2("resolution")
	offset1 := s.float("offset1")
	offset2 := s.float("offset2")
	phase := 0.5 * s.float("offsetIncrement")
	frequency := s.float("frequency")
	aspect := float32(1)
	if resolution[1] != 0 {
		aspect = resolution[0] / resolution[1]
	}
	noise := s.noise

	return func(uv mgl32.Vec2) mgl32.Vec4 {
		x := (uv[0] - 0.5) * aspect * frequency
		y := (uv[1] - 0.5) * frequency
		return mgl32.Vec4{
			noise.Eval3(x, y, offset1+phase),
			noise.Eval3(x, y, offset2+phase),
			0, 1,
		}
	}
}

func buildBlendWithCurl(s *drawState) shadeFunc {
	input := s.sampler("inputTexture")
	field := s.sampler("noiseTexture")
	texel := s.vec2("texelSize")
	weight := s.float("blendProgress") * s.float("multiplier")
	dx := mgl32.Vec2{texel[0], 0}
	dy := mgl32.Vec2{0, texel[1]}

	return func(uv mgl32.Vec2) mgl32.Vec4 {
		left := field.sample(uv.Sub(dx))[0]
		right := field.sample(uv.Add(dx))[0]
		bottom := field.sample(uv.Sub(dy))[0]
		top := field.sample(uv.Add(dy))[0]
		curl := mgl32.Vec2{
			(top - bottom) / (2 * texel[1]),
			-(right - left) / (2 * texel[0]),
		}
		return vec4(xy(input.sample(uv)).Add(curl.Mul(weight)))
	}
}

func buildBlendWithWiggle(s *drawState) shadeFunc {
	input := s.sampler("inputTexture")
	field := s.sampler("noiseTexture")
	texel := s.vec2("texelSize")
	weight := s.float("blendProgress") * s.float("multiplier")
	dx := mgl32.Vec2{texel[0], 0}
	dy := mgl32.Vec2{0, texel[1]}

	return func(uv mgl32.Vec2) mgl32.Vec4 {
		wiggle := xy(field.sample(uv)).Mul(4).
			Add(xy(field.sample(uv.Sub(dx)))).
			Add(xy(field.sample(uv.Add(dx)))).
			Add(xy(field.sample(uv.Sub(dy)))).
			Add(xy(field.sample(uv.Add(dy)))).
			Mul(1.0 / 8)
		return vec4(xy(input.sample(uv)).Add(wiggle.Mul(weight)))
	}
}
