package gpu

import "fmt"

// RenderPass is a compiled program drawn over the shared quad.
type RenderPass struct {
	device      Device
	program     Program
	vertexArray VertexArray
	count       int
}

// NewRenderPass compiles src and binds it to geo.
func NewRenderPass(dev Device, src ProgramSource, geo *Geometry) (*RenderPass, error) {
	program, err := dev.CompileProgram(src)
	if err != nil {
		return nil, err
	}
	va, err := dev.CreateVertexArray(program, PositionAttribute, geo.Vertices, geo.Indices)
	if err != nil {
		dev.DeleteProgram(program)
		return nil, fmt.Errorf("creating vertex array for %s: %w", src.Name, err)
	}
	return &RenderPass{
		device:      dev,
		program:     program,
		vertexArray: va,
		count:       geo.Count,
	}, nil
}

// Program returns the pass's compiled program.
func (p *RenderPass) Program() Program { return p.program }

// Use makes the pass's program and geometry current.
func (p *RenderPass) Use() {
	p.device.UseProgram(p.program)
	p.device.BindVertexArray(p.vertexArray)
}

// Draw makes the pass current, binds textures to units 0..n-1, applies the
// uniforms and draws. The caller binds the target.
func (p *RenderPass) Draw(textures []Texture, uniforms ...Uniform) error {
	p.Use()
	for unit, tex := range textures {
		p.device.BindTexture(unit, tex)
	}
	for _, u := range uniforms {
		if err := p.program.SetUniform(u.Name, u.Value); err != nil {
			return err
		}
	}
	return p.device.DrawIndexed(p.count)
}

// Release deletes the vertex array and program.
func (p *RenderPass) Release() {
	if p.vertexArray != nil {
		p.device.DeleteVertexArray(p.vertexArray)
		p.vertexArray = nil
	}
	if p.program != nil {
		p.device.DeleteProgram(p.program)
		p.program = nil
	}
}
