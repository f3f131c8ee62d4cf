// Package fluid advances a 2D incompressible velocity field with the Stable
// Fluids scheme. Every stage is a full-grid pass on a gpu.Device.
//
// Velocity samples wrap at the edges; pressure and divergence clamp. The
// divergence reads each cell's left and lower faces and the gradient its right
// and upper faces, so a converged pressure solve leaves zero divergence.
package fluid

import (
	"fmt"

	"github.com/pthm-cable/flux/gpu"
	"github.com/pthm-cable/flux/shaders"
)

// Stage names one step of the tick pipeline.
type Stage string

const (
	StageAdvect     Stage = "advect"
	StageDiffuse    Stage = "diffuse"
	StageDivergence Stage = "divergence"
	StagePressure   Stage = "pressure"
	StageProject    Stage = "project"
)

var (
	velocityOptions = gpu.TextureOptions{Format: gpu.FormatRG32F, Filter: gpu.FilterLinear, Wrap: gpu.WrapRepeat}
	scalarOptions   = gpu.TextureOptions{Format: gpu.FormatR32F, Filter: gpu.FilterNearest, Wrap: gpu.WrapClampToEdge}
)

// Stepper owns the velocity, divergence and pressure fields and the passes
// that advance them.
type Stepper struct {
	device    gpu.Device
	width     int
	height    int
	texelSize [2]float32
	params    Params
	timestep  float32

	geometry      *gpu.Geometry
	uniformBuffer gpu.Buffer

	velocity   *gpu.DoubleFramebuffer
	divergence *gpu.Framebuffer
	pressure   *gpu.DoubleFramebuffer

	advectionPass        *gpu.RenderPass
	diffusionPass        *gpu.RenderPass
	divergencePass       *gpu.RenderPass
	pressurePass         *gpu.RenderPass
	subtractGradientPass *gpu.RenderPass

	onStage func(Stage)
}

// New allocates the fields and compiles the passes for a width x height grid.
// Velocity starts at rest.
func New(dev gpu.Device, width, height int, params Params) (_ *Stepper, err error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	s := &Stepper{
		device:    dev,
		width:     width,
		height:    height,
		texelSize: [2]float32{1 / float32(width), 1 / float32(height)},
		params:    params,
	}
	defer func() {
		if err != nil {
			s.Release()
		}
	}()

	if s.geometry, err = gpu.NewPlane(dev); err != nil {
		return nil, err
	}
	if s.uniformBuffer, err = dev.CreateBuffer(gpu.UniformBuffer, s.block().Bytes()); err != nil {
		return nil, fmt.Errorf("creating parameter block: %w", err)
	}

	if s.velocity, err = gpu.NewDoubleFramebuffer(dev, width, height, velocityOptions, nil); err != nil {
		return nil, fmt.Errorf("velocity: %w", err)
	}
	if s.divergence, err = gpu.NewFramebuffer(dev, width, height, scalarOptions, nil); err != nil {
		return nil, fmt.Errorf("divergence: %w", err)
	}
	if s.pressure, err = gpu.NewDoubleFramebuffer(dev, width, height, scalarOptions, nil); err != nil {
		return nil, fmt.Errorf("pressure: %w", err)
	}

	passes := []struct {
		pass     **gpu.RenderPass
		program  string
		samplers []string
	}{
		{&s.advectionPass, shaders.Advection, []string{"velocityTexture"}},
		{&s.diffusionPass, shaders.Jacobi, []string{"solutionTexture", "sourceTexture"}},
		{&s.divergencePass, shaders.Divergence, []string{"velocityTexture"}},
		{&s.pressurePass, shaders.Jacobi, []string{"solutionTexture", "sourceTexture"}},
		{&s.subtractGradientPass, shaders.SubtractGradient, []string{"velocityTexture", "pressureTexture"}},
	}
	for _, p := range passes {
		src, err := shaders.Source(p.program)
		if err != nil {
			return nil, err
		}
		pass, err := gpu.NewRenderPass(dev, src, s.geometry)
		if err != nil {
			return nil, err
		}
		*p.pass = pass

		prog := pass.Program()
		if err := prog.SetUniformBlock(shaders.FluidParamsBlock, shaders.FluidParamsSlot); err != nil {
			return nil, err
		}
		for unit, name := range p.samplers {
			if err := prog.SetUniform(name, gpu.Sampler(unit)); err != nil {
				return nil, err
			}
		}
	}

	return s, nil
}

// block builds the full parameter block from the current settings.
func (s *Stepper) block() shaders.FluidParams {
	return shaders.FluidParams{
		Timestep:    s.timestep,
		Epsilon:     DomainScale,
		HalfEpsilon: 0.5 * DomainScale,
		Dissipation: s.params.VelocityDissipation,
		TexelSize:   s.texelSize,
	}
}

// OnStage registers a callback invoked as Step enters each stage.
func (s *Stepper) OnStage(fn func(Stage)) { s.onStage = fn }

func (s *Stepper) enter(stage Stage) {
	if s.onStage != nil {
		s.onStage(stage)
	}
}

// Update replaces the solver settings and rewrites the whole parameter block.
func (s *Stepper) Update(params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	s.params = params
	if err := s.uniformBuffer.UpdateSubRange(0, s.block().Bytes()); err != nil {
		return fmt.Errorf("updating parameter block: %w", err)
	}
	return nil
}

// Step runs one tick: parameter update, advect, diffuse, divergence, pressure
// solve and projection. Invalid settings are rejected before any pass runs;
// a device failure part way through is fatal to the run.
func (s *Stepper) Step(dt float32, params Params) error {
	if err := validateTimestep(dt); err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if params != s.params {
		if err := s.Update(params); err != nil {
			return err
		}
	}

	if err := s.PreparePass(dt); err != nil {
		return err
	}
	s.enter(StageAdvect)
	if err := s.Advect(); err != nil {
		return fmt.Errorf("advect: %w", err)
	}
	s.enter(StageDiffuse)
	if err := s.Diffuse(dt); err != nil {
		return fmt.Errorf("diffuse: %w", err)
	}
	s.enter(StageDivergence)
	if err := s.CalculateDivergence(); err != nil {
		return fmt.Errorf("divergence: %w", err)
	}
	s.enter(StagePressure)
	if err := s.SolvePressure(); err != nil {
		return fmt.Errorf("pressure: %w", err)
	}
	s.enter(StageProject)
	if err := s.SubtractGradient(); err != nil {
		return fmt.Errorf("project: %w", err)
	}
	return nil
}

// PreparePass writes the timestep into the parameter block and binds the
// block for the passes that follow.
func (s *Stepper) PreparePass(dt float32) error {
	if err := s.uniformBuffer.UpdateSubRange(shaders.TimestepOffset, shaders.TimestepBytes(dt)); err != nil {
		return fmt.Errorf("updating timestep: %w", err)
	}
	s.timestep = dt
	s.device.BindUniformBuffer(shaders.FluidParamsSlot, s.uniformBuffer)
	return nil
}

// Advect moves the velocity field along itself.
func (s *Stepper) Advect() error {
	return s.velocity.WriteFullGrid(func(current gpu.Texture) error {
		return s.advectionPass.Draw([]gpu.Texture{current})
	})
}

// Diffuse applies viscosity with Jacobi iterations. It is skipped when there
// are no iterations or no viscosity.
func (s *Stepper) Diffuse(dt float32) error {
	if s.params.DiffusionIterations == 0 || s.params.Viscosity <= 0 {
		return nil
	}
	centerFactor := DomainScale * DomainScale / (s.params.Viscosity * dt)
	stencilFactor := 1 / (4 + centerFactor)

	for i := 0; i < s.params.DiffusionIterations; i++ {
		err := s.velocity.WriteFullGrid(func(current gpu.Texture) error {
			return s.diffusionPass.Draw([]gpu.Texture{current, current},
				gpu.Uniform{Name: "alpha", Value: gpu.Float(centerFactor)},
				gpu.Uniform{Name: "rBeta", Value: gpu.Float(stencilFactor)},
			)
		})
		if err != nil {
			return fmt.Errorf("iteration %d: %w", i, err)
		}
	}
	return nil
}

// CalculateDivergence writes the divergence of the current velocity.
func (s *Stepper) CalculateDivergence() error {
	return s.divergence.WriteFullGrid(func() error {
		return s.divergencePass.Draw([]gpu.Texture{s.velocity.Current()})
	})
}

// SolvePressure zeroes the pressure field and relaxes it towards the solution
// of laplacian(p) = divergence.
func (s *Stepper) SolvePressure() error {
	if err := s.ResetPressure(); err != nil {
		return fmt.Errorf("clearing pressure: %w", err)
	}

	alpha := gpu.Float(-DomainScale * DomainScale)
	for i := 0; i < s.params.PressureIterations; i++ {
		err := s.pressure.WriteFullGrid(func(current gpu.Texture) error {
			return s.pressurePass.Draw([]gpu.Texture{current, s.divergence.Current()},
				gpu.Uniform{Name: "alpha", Value: alpha},
				gpu.Uniform{Name: "rBeta", Value: gpu.Float(0.25)},
			)
		})
		if err != nil {
			return fmt.Errorf("iteration %d: %w", i, err)
		}
	}
	return nil
}

// ResetPressure zero-fills the current pressure buffer.
func (s *Stepper) ResetPressure() error {
	return s.pressure.ZeroFill()
}

// SubtractGradient removes the pressure gradient from the velocity.
func (s *Stepper) SubtractGradient() error {
	return s.velocity.WriteFullGrid(func(current gpu.Texture) error {
		return s.subtractGradientPass.Draw([]gpu.Texture{current, s.pressure.Current()})
	})
}

// SetVelocity replaces the current velocity, two floats per cell.
func (s *Stepper) SetVelocity(data []float32) error {
	if len(data) != s.width*s.height*2 {
		return fmt.Errorf("%w: velocity has %d floats, want %d", ErrInvalidParams, len(data), s.width*s.height*2)
	}
	return s.velocity.Upload(data)
}

// Velocity returns the velocity field.
func (s *Stepper) Velocity() *gpu.DoubleFramebuffer { return s.velocity }

// Pressure returns the pressure field.
func (s *Stepper) Pressure() *gpu.DoubleFramebuffer { return s.pressure }

// Divergence returns the divergence field.
func (s *Stepper) Divergence() *gpu.Framebuffer { return s.divergence }

// Size returns the grid dimensions.
func (s *Stepper) Size() (width, height int) { return s.width, s.height }

// TexelSize returns (1/width, 1/height).
func (s *Stepper) TexelSize() [2]float32 { return s.texelSize }

// Params returns the settings in effect.
func (s *Stepper) Params() Params { return s.params }

// Release frees every resource the stepper owns.
func (s *Stepper) Release() {
	if s == nil {
		return
	}
	for _, p := range []*gpu.RenderPass{
		s.advectionPass, s.diffusionPass, s.divergencePass,
		s.pressurePass, s.subtractGradientPass,
	} {
		if p != nil {
			p.Release()
		}
	}
	if s.velocity != nil {
		s.velocity.Release()
	}
	if s.divergence != nil {
		s.divergence.Release()
	}
	if s.pressure != nil {
		s.pressure.Release()
	}
	if s.uniformBuffer != nil {
		s.device.DeleteBuffer(s.uniformBuffer)
		s.uniformBuffer = nil
	}
	if s.geometry != nil {
		s.geometry.Release()
	}
}
