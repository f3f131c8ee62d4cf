// Package cpu implements gpu.Device in software. Each named program from the
// shaders package has a Go kernel with the same sampler, uniform and block
// contract as its GLSL source, and draws are shaded row-parallel.
package cpu

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/ojrac/opensimplex-go"

	"github.com/pthm-cable/flux/gpu"
	"github.com/pthm-cable/flux/shaders"
)

const (
	maxTextureUnits   = 16
	maxUniformSlots   = 16
	defaultMaxTexture = 8192
)

// Options configures a software device.
type Options struct {
	Workers        int   // 0 = GOMAXPROCS
	MaxTextureSize int   // 0 = 8192
	Seed           int64 // seed for the simplex noise kernel
}

// Device is a software gpu.Device.
type Device struct {
	maxTexture int
	noise      opensimplex.Noise32
	pool       *workerPool

	target       *texture
	units        [maxTextureUnits]*texture
	uniformSlots [maxUniformSlots]*buffer
	program      *program
	vertexArray  *vertexArray
	released     bool

	draws int
}

// New creates a software device.
func New(opts Options) *Device {
	maxTexture := opts.MaxTextureSize
	if maxTexture <= 0 {
		maxTexture = defaultMaxTexture
	}
	return &Device{
		maxTexture: maxTexture,
		noise:      opensimplex.New32(opts.Seed),
		pool:       newWorkerPool(opts.Workers),
	}
}

var _ gpu.Device = (*Device)(nil)

// Draws returns the number of draws executed so far.
func (d *Device) Draws() int { return d.draws }

// Release stops the worker pool. The device must not be used afterwards.
func (d *Device) Release() {
	d.pool.stop()
	d.released = true
}

func (d *Device) texture(tex gpu.Texture) (*texture, error) {
	if d.released {
		return nil, gpu.ErrReleased
	}
	t, ok := tex.(*texture)
	if !ok || t == nil {
		return nil, fmt.Errorf("texture %T not created by this device", tex)
	}
	if t.deleted {
		return nil, gpu.ErrReleased
	}
	return t, nil
}

func (d *Device) CreateTexture(width, height int, opts gpu.TextureOptions, data []float32) (gpu.Texture, error) {
	if d.released {
		return nil, &gpu.ResourceAllocationError{Resource: "texture", Err: gpu.ErrReleased}
	}
	if width <= 0 || height <= 0 || width > d.maxTexture || height > d.maxTexture {
		return nil, &gpu.ResourceAllocationError{
			Resource: "texture",
			Err:      fmt.Errorf("size %dx%d outside 1..%d", width, height, d.maxTexture),
		}
	}
	comps := opts.Format.Components()
	t := &texture{
		width:  width,
		height: height,
		opts:   opts,
		comps:  comps,
		data:   make([]float32, width*height*comps),
	}
	if data != nil {
		if len(data) != len(t.data) {
			return nil, &gpu.ResourceAllocationError{
				Resource: "texture",
				Err:      fmt.Errorf("initial data has %d floats, want %d", len(data), len(t.data)),
			}
		}
		copy(t.data, data)
	}
	return t, nil
}

func (d *Device) UploadTexture(tex gpu.Texture, data []float32) error {
	t, err := d.texture(tex)
	if err != nil {
		return &gpu.ResourceAllocationError{Resource: "texture upload", Err: err}
	}
	if len(data) != len(t.data) {
		return &gpu.ResourceAllocationError{
			Resource: "texture upload",
			Err:      fmt.Errorf("got %d floats, want %d", len(data), len(t.data)),
		}
	}
	copy(t.data, data)
	return nil
}

func (d *Device) ClearTexture(tex gpu.Texture) error {
	t, err := d.texture(tex)
	if err != nil {
		return &gpu.ResourceAllocationError{Resource: "texture clear", Err: err}
	}
	clear(t.data)
	return nil
}

func (d *Device) ReadTexture(tex gpu.Texture, dst []float32) error {
	t, err := d.texture(tex)
	if err != nil {
		return &gpu.ResourceAllocationError{Resource: "texture read", Err: err}
	}
	if len(dst) < len(t.data) {
		return &gpu.ResourceAllocationError{
			Resource: "texture read",
			Err:      fmt.Errorf("destination holds %d floats, want %d", len(dst), len(t.data)),
		}
	}
	copy(dst, t.data)
	return nil
}

func (d *Device) DeleteTexture(tex gpu.Texture) {
	if t, ok := tex.(*texture); ok && t != nil {
		t.deleted = true
		t.data = nil
	}
}

func (d *Device) CompileProgram(src gpu.ProgramSource) (gpu.Program, error) {
	if strings.TrimSpace(src.Vertex) == "" {
		return nil, &gpu.ShaderCompileError{Program: src.Name, Stage: "vertex", Log: "empty source"}
	}
	if !strings.Contains(src.Vertex, gpu.PositionAttribute) {
		return nil, &gpu.ShaderCompileError{Program: src.Name, Stage: "vertex", Log: "no position attribute"}
	}
	if strings.TrimSpace(src.Fragment) == "" {
		return nil, &gpu.ShaderCompileError{Program: src.Name, Stage: "fragment", Log: "empty source"}
	}
	k, ok := kernels[src.Name]
	if !ok {
		return nil, &gpu.ShaderCompileError{Program: src.Name, Stage: "link", Log: "no software kernel for program"}
	}
	names := append(append([]string{}, k.samplers...), k.uniforms...)
	if k.block != "" {
		names = append(names, k.block)
	}
	for _, name := range names {
		if !strings.Contains(src.Fragment, name) {
			return nil, &gpu.ShaderCompileError{
				Program: src.Name,
				Stage:   "link",
				Log:     fmt.Sprintf("fragment source does not declare %q", name),
			}
		}
	}
	return &program{
		name:     src.Name,
		kernel:   k,
		uniforms: make(map[string]gpu.UniformValue),
		blocks:   make(map[string]int),
	}, nil
}

func (d *Device) DeleteProgram(p gpu.Program) {
	if prog, ok := p.(*program); ok && prog != nil {
		prog.deleted = true
		if d.program == prog {
			d.program = nil
		}
	}
}

func (d *Device) CreateBuffer(kind gpu.BufferKind, data []byte) (gpu.Buffer, error) {
	if d.released {
		return nil, &gpu.ResourceAllocationError{Resource: "buffer", Err: gpu.ErrReleased}
	}
	if len(data) == 0 {
		return nil, &gpu.ResourceAllocationError{Resource: "buffer", Err: errors.New("empty buffer")}
	}
	return &buffer{kind: kind, data: append([]byte(nil), data...)}, nil
}

func (d *Device) DeleteBuffer(b gpu.Buffer) {
	if buf, ok := b.(*buffer); ok && buf != nil {
		buf.deleted = true
	}
}

func (d *Device) CreateVertexArray(p gpu.Program, attribute string, vertices, indices gpu.Buffer) (gpu.VertexArray, error) {
	prog, ok := p.(*program)
	if !ok || prog == nil {
		return nil, &gpu.BindingError{Name: attribute, Err: errors.New("program not created by this device")}
	}
	if attribute != gpu.PositionAttribute {
		return nil, &gpu.BindingError{Program: prog.name, Name: attribute}
	}
	vb, vok := vertices.(*buffer)
	ib, iok := indices.(*buffer)
	if !vok || !iok || vb.kind != gpu.VertexBuffer || ib.kind != gpu.IndexBuffer {
		return nil, &gpu.BindingError{Program: prog.name, Name: attribute, Err: errors.New("vertex array needs a vertex and an index buffer")}
	}
	return &vertexArray{program: prog, vertices: vb, indices: ib}, nil
}

func (d *Device) DeleteVertexArray(va gpu.VertexArray) {
	if v, ok := va.(*vertexArray); ok && v != nil {
		v.deleted = true
		if d.vertexArray == v {
			d.vertexArray = nil
		}
	}
}

func (d *Device) BindTarget(tex gpu.Texture) error {
	if tex == nil {
		d.target = nil
		return nil
	}
	t, err := d.texture(tex)
	if err != nil {
		return &gpu.ResourceAllocationError{Resource: "render target", Err: err}
	}
	d.target = t
	return nil
}

func (d *Device) BindTexture(unit int, tex gpu.Texture) {
	if unit < 0 || unit >= maxTextureUnits {
		return
	}
	t, _ := tex.(*texture)
	d.units[unit] = t
}

func (d *Device) BindUniformBuffer(slot int, b gpu.Buffer) {
	if slot < 0 || slot >= maxUniformSlots {
		return
	}
	buf, _ := b.(*buffer)
	d.uniformSlots[slot] = buf
}

func (d *Device) UseProgram(p gpu.Program) {
	prog, _ := p.(*program)
	d.program = prog
}

func (d *Device) BindVertexArray(va gpu.VertexArray) {
	v, _ := va.(*vertexArray)
	d.vertexArray = v
}

// DrawIndexed shades every texel of the bound target with the current program.
func (d *Device) DrawIndexed(count int) error {
	if d.released {
		return gpu.ErrReleased
	}
	prog := d.program
	if prog == nil || prog.deleted {
		return &gpu.BindingError{Name: "program", Err: errors.New("no program in use")}
	}
	if d.vertexArray == nil || d.vertexArray.deleted {
		return &gpu.BindingError{Program: prog.name, Name: gpu.PositionAttribute, Err: errors.New("no vertex array bound")}
	}
	if count < len(gpu.PlaneIndices) {
		return fmt.Errorf("cpu: draw of %d indices does not cover the grid", count)
	}
	if d.target == nil || d.target.deleted {
		return &gpu.BindingError{Program: prog.name, Name: "target", Err: errors.New("no render target bound")}
	}

	state, err := d.resolve(prog)
	if err != nil {
		return err
	}

	d.pool.run(&drawJob{target: d.target, shade: prog.kernel.build(state)})
	d.draws++
	return nil
}

// resolve gathers the samplers, uniforms and block the current program reads.
func (d *Device) resolve(prog *program) (*drawState, error) {
	state := &drawState{
		samplers: make(map[string]*texture, len(prog.kernel.samplers)),
		uniforms: prog.uniforms,
		noise:    d.noise,
	}
	for _, name := range prog.kernel.samplers {
		unit := 0
		if v, ok := prog.uniforms[name].(gpu.Sampler); ok {
			unit = int(v)
		}
		if unit < 0 || unit >= maxTextureUnits {
			return nil, &gpu.BindingError{Program: prog.name, Name: name, Err: fmt.Errorf("texture unit %d out of range", unit)}
		}
		tex := d.units[unit]
		if tex == nil || tex.deleted {
			return nil, &gpu.BindingError{Program: prog.name, Name: name, Err: fmt.Errorf("no texture bound to unit %d", unit)}
		}
		if tex == d.target {
			return nil, &gpu.BindingError{Program: prog.name, Name: name, Err: gpu.ErrFeedbackLoop}
		}
		state.samplers[name] = tex
	}
	if prog.kernel.block != "" {
		slot, ok := prog.blocks[prog.kernel.block]
		if !ok {
			return nil, &gpu.BindingError{Program: prog.name, Name: prog.kernel.block, Err: errors.New("block not assigned a slot")}
		}
		buf := d.uniformSlots[slot]
		if buf == nil || buf.deleted {
			return nil, &gpu.BindingError{Program: prog.name, Name: prog.kernel.block, Err: fmt.Errorf("no buffer bound to slot %d", slot)}
		}
		params, err := shaders.DecodeFluidParams(buf.data)
		if err != nil {
			return nil, &gpu.BindingError{Program: prog.name, Name: prog.kernel.block, Err: err}
		}
		state.params = params
	}
	return state, nil
}

// drawState is everything a kernel may read during one draw.
type drawState struct {
	samplers map[string]*texture
	uniforms map[string]gpu.UniformValue
	params   shaders.FluidParams
	noise    opensimplex.Noise32
}

func (s *drawState) sampler(name string) *texture { return s.samplers[name] }

// float reads a float uniform. Unset uniforms read as zero, as in GLSL.
func (s *drawState) float(name string) float32 {
	if v, ok := s.uniforms[name].(gpu.Float); ok {
		return float32(v)
	}
	return 0
}

func (s *drawState) vec2(name string) mgl32.Vec2 {
	if v, ok := s.uniforms[name].(gpu.Vec2); ok {
		return mgl32.Vec2(v)
	}
	return mgl32.Vec2{}
}

type program struct {
	name     string
	kernel   *kernel
	uniforms map[string]gpu.UniformValue
	blocks   map[string]int
	deleted  bool
}

func (p *program) Name() string { return p.name }

func (p *program) SetUniform(name string, value gpu.UniformValue) error {
	switch {
	case p.kernel.isSampler(name):
		if _, ok := value.(gpu.Sampler); !ok {
			return &gpu.BindingError{Program: p.name, Name: name, Err: fmt.Errorf("sampler assigned %T", value)}
		}
	case p.kernel.isUniform(name):
		if _, ok := value.(gpu.Sampler); ok {
			return &gpu.BindingError{Program: p.name, Name: name, Err: errors.New("texture unit assigned to a non-sampler uniform")}
		}
	default:
		return &gpu.BindingError{Program: p.name, Name: name}
	}
	p.uniforms[name] = value
	return nil
}

func (p *program) SetUniformBlock(name string, slot int) error {
	if name != p.kernel.block || name == "" {
		return &gpu.BindingError{Program: p.name, Name: name}
	}
	if slot < 0 || slot >= maxUniformSlots {
		return &gpu.BindingError{Program: p.name, Name: name, Err: fmt.Errorf("slot %d out of range", slot)}
	}
	p.blocks[name] = slot
	return nil
}

type buffer struct {
	kind    gpu.BufferKind
	data    []byte
	deleted bool
}

func (b *buffer) Len() int { return len(b.data) }

func (b *buffer) UpdateSubRange(offset int, data []byte) error {
	if b.deleted {
		return &gpu.ResourceAllocationError{Resource: "buffer update", Err: gpu.ErrReleased}
	}
	if offset < 0 || offset+len(data) > len(b.data) {
		return &gpu.ResourceAllocationError{
			Resource: "buffer update",
			Err:      fmt.Errorf("range [%d,%d) outside %d bytes", offset, offset+len(data), len(b.data)),
		}
	}
	copy(b.data[offset:], data)
	return nil
}

type vertexArray struct {
	program  *program
	vertices *buffer
	indices  *buffer
	deleted  bool
}
