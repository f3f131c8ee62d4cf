package opengl

import (
	"fmt"

	"github.com/go-gl/gl/v3.3-core/gl"

	"github.com/pthm-cable/flux/gpu"
)

type program struct {
	id        uint32
	name      string
	device    *Device
	locations map[string]int32
	samplers  map[string]int // sampler uniform -> texture unit
	deleted   bool
}

func (p *program) Name() string { return p.name }

func (p *program) location(name string) int32 {
	if loc, ok := p.locations[name]; ok {
		return loc
	}
	loc := gl.GetUniformLocation(p.id, gl.Str(name+"\x00"))
	p.locations[name] = loc
	return loc
}

// SetUniform makes p current for the assignment and puts the device's
// program back afterwards.
func (p *program) SetUniform(name string, value gpu.UniformValue) error {
	if p.deleted {
		return &gpu.BindingError{Program: p.name, Name: name, Err: gpu.ErrReleased}
	}
	loc := p.location(name)
	if loc < 0 {
		return &gpu.BindingError{Program: p.name, Name: name}
	}

	gl.UseProgram(p.id)
	switch v := value.(type) {
	case gpu.Float:
		gl.Uniform1f(loc, float32(v))
	case gpu.Int:
		gl.Uniform1i(loc, int32(v))
	case gpu.Vec2:
		gl.Uniform2f(loc, v[0], v[1])
	case gpu.Sampler:
		gl.Uniform1i(loc, int32(v))
		p.samplers[name] = int(v)
	default:
		p.restore()
		return &gpu.BindingError{Program: p.name, Name: name, Err: fmt.Errorf("unsupported uniform type %T", value)}
	}
	p.restore()
	return nil
}

func (p *program) restore() {
	if cur := p.device.program; cur != nil && cur != p && !cur.deleted {
		gl.UseProgram(cur.id)
	}
}

func (p *program) SetUniformBlock(name string, slot int) error {
	if p.deleted {
		return &gpu.BindingError{Program: p.name, Name: name, Err: gpu.ErrReleased}
	}
	index := gl.GetUniformBlockIndex(p.id, gl.Str(name+"\x00"))
	if index == gl.INVALID_INDEX {
		return &gpu.BindingError{Program: p.name, Name: name}
	}
	gl.UniformBlockBinding(p.id, index, uint32(slot))
	return nil
}

func compileShader(source string, shaderType uint32) (uint32, string) {
	shader := gl.CreateShader(shaderType)
	csources, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, csources, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLength)
		log := make([]byte, logLength+1)
		gl.GetShaderInfoLog(shader, logLength, nil, &log[0])
		gl.DeleteShader(shader)
		return 0, infoLog(log)
	}
	return shader, ""
}

func (d *Device) CompileProgram(src gpu.ProgramSource) (gpu.Program, error) {
	if d.released {
		return nil, &gpu.ResourceAllocationError{Resource: "program", Err: gpu.ErrReleased}
	}
	vertex, log := compileShader(src.Vertex, gl.VERTEX_SHADER)
	if log != "" || vertex == 0 {
		return nil, &gpu.ShaderCompileError{Program: src.Name, Stage: "vertex", Log: log}
	}
	defer gl.DeleteShader(vertex)
	fragment, log := compileShader(src.Fragment, gl.FRAGMENT_SHADER)
	if log != "" || fragment == 0 {
		return nil, &gpu.ShaderCompileError{Program: src.Name, Stage: "fragment", Log: log}
	}
	defer gl.DeleteShader(fragment)

	id := gl.CreateProgram()
	gl.AttachShader(id, vertex)
	gl.AttachShader(id, fragment)
	gl.LinkProgram(id)
	gl.DetachShader(id, vertex)
	gl.DetachShader(id, fragment)

	var status int32
	gl.GetProgramiv(id, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetProgramiv(id, gl.INFO_LOG_LENGTH, &logLength)
		buf := make([]byte, logLength+1)
		gl.GetProgramInfoLog(id, logLength, nil, &buf[0])
		gl.DeleteProgram(id)
		return nil, &gpu.ShaderCompileError{Program: src.Name, Stage: "link", Log: infoLog(buf)}
	}

	return &program{
		id:        id,
		name:      src.Name,
		device:    d,
		locations: make(map[string]int32),
		samplers:  make(map[string]int),
	}, nil
}

func (d *Device) DeleteProgram(p gpu.Program) {
	prog, ok := p.(*program)
	if !ok || prog == nil || prog.deleted {
		return
	}
	if d.program == prog {
		gl.UseProgram(0)
		d.program = nil
	}
	gl.DeleteProgram(prog.id)
	prog.deleted = true
}
