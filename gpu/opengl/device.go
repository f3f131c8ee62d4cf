// Package opengl implements gpu.Device on an OpenGL 3.3 core context. Every
// call must come from the thread the context is current on.
package opengl

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-gl/gl/v3.3-core/gl"

	"github.com/pthm-cable/flux/gpu"
)

const (
	maxTextureUnits = 16
	maxUniformSlots = 16
)

type texture struct {
	id      uint32
	width   int
	height  int
	opts    gpu.TextureOptions
	deleted bool
}

func (t *texture) Width() int                  { return t.width }
func (t *texture) Height() int                 { return t.height }
func (t *texture) Options() gpu.TextureOptions { return t.opts }

func (t *texture) floats() int { return t.width * t.height * t.opts.Format.Components() }

type buffer struct {
	id      uint32
	kind    gpu.BufferKind
	size    int
	deleted bool
}

func (b *buffer) Len() int { return b.size }

func (b *buffer) UpdateSubRange(offset int, data []byte) error {
	if b.deleted {
		return &gpu.ResourceAllocationError{Resource: "buffer update", Err: gpu.ErrReleased}
	}
	if offset < 0 || offset+len(data) > b.size {
		return &gpu.ResourceAllocationError{
			Resource: "buffer update",
			Err:      fmt.Errorf("range [%d,%d) outside %d bytes", offset, offset+len(data), b.size),
		}
	}
	if len(data) == 0 {
		return nil
	}
	gl.BindBuffer(gl.COPY_WRITE_BUFFER, b.id)
	gl.BufferSubData(gl.COPY_WRITE_BUFFER, offset, len(data), gl.Ptr(data))
	gl.BindBuffer(gl.COPY_WRITE_BUFFER, 0)
	return nil
}

type vertexArray struct {
	id      uint32
	deleted bool
}

// Device is a gpu.Device backed by the current OpenGL context.
type Device struct {
	maxTexture int
	viewport   [4]int32
	fbo        uint32

	target      *texture
	units       [maxTextureUnits]*texture
	program     *program
	vertexArray *vertexArray
	released    bool
}

var _ gpu.Device = (*Device)(nil)

// New loads the GL entry points for the current context and creates the
// framebuffer passes render through.
func New() (*Device, error) {
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("initializing opengl: %w", err)
	}

	d := &Device{}
	var maxTexture int32
	gl.GetIntegerv(gl.MAX_TEXTURE_SIZE, &maxTexture)
	d.maxTexture = int(maxTexture)
	gl.GetIntegerv(gl.VIEWPORT, &d.viewport[0])
	gl.GenFramebuffers(1, &d.fbo)
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)

	slog.Info("opengl device",
		"version", gl.GoStr(gl.GetString(gl.VERSION)),
		"renderer", gl.GoStr(gl.GetString(gl.RENDERER)),
		"max_texture", d.maxTexture,
	)
	return d, nil
}

// Release deletes the pass framebuffer. Resources created by the device are
// left to their owners.
func (d *Device) Release() {
	if d.released {
		return
	}
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	gl.DeleteFramebuffers(1, &d.fbo)
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

func formatEnums(f gpu.Format) (internal int32, format uint32) {
	switch f {
	case gpu.FormatR32F:
		return gl.R32F, gl.RED
	case gpu.FormatRG32F:
		return gl.RG32F, gl.RG
	default:
		return gl.RGBA32F, gl.RGBA
	}
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
	t := &texture{width: width, height: height, opts: opts}
	if data != nil && len(data) != t.floats() {
		return nil, &gpu.ResourceAllocationError{
			Resource: "texture",
			Err:      fmt.Errorf("initial data has %d floats, want %d", len(data), t.floats()),
		}
	}
	if data == nil {
		data = make([]float32, t.floats())
	}

	filter := int32(gl.NEAREST)
	if opts.Filter == gpu.FilterLinear {
		filter = gl.LINEAR
	}
	wrap := int32(gl.CLAMP_TO_EDGE)
	if opts.Wrap == gpu.WrapRepeat {
		wrap = gl.REPEAT
	}

	gl.GenTextures(1, &t.id)
	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gl.TEXTURE_2D, t.id)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, filter)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, filter)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, wrap)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, wrap)
	internal, format := formatEnums(opts.Format)
	gl.TexImage2D(gl.TEXTURE_2D, 0, internal, int32(width), int32(height), 0, format, gl.FLOAT, gl.Ptr(data))
	d.restoreUnit(0)

	if code := gl.GetError(); code != gl.NO_ERROR {
		gl.DeleteTextures(1, &t.id)
		return nil, &gpu.ResourceAllocationError{
			Resource: "texture",
			Err:      fmt.Errorf("%s %dx%d: gl error 0x%x", opts.Format, width, height, code),
		}
	}
	return t, nil
}

// restoreUnit rebinds whatever the device last bound on unit.
func (d *Device) restoreUnit(unit int) {
	gl.ActiveTexture(gl.TEXTURE0 + uint32(unit))
	var id uint32
	if t := d.units[unit]; t != nil && !t.deleted {
		id = t.id
	}
	gl.BindTexture(gl.TEXTURE_2D, id)
}

func (d *Device) UploadTexture(tex gpu.Texture, data []float32) error {
	t, err := d.texture(tex)
	if err != nil {
		return &gpu.ResourceAllocationError{Resource: "texture upload", Err: err}
	}
	if len(data) != t.floats() {
		return &gpu.ResourceAllocationError{
			Resource: "texture upload",
			Err:      fmt.Errorf("got %d floats, want %d", len(data), t.floats()),
		}
	}
	_, format := formatEnums(t.opts.Format)
	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gl.TEXTURE_2D, t.id)
	gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(t.width), int32(t.height), format, gl.FLOAT, gl.Ptr(data))
	d.restoreUnit(0)
	return nil
}

func (d *Device) ClearTexture(tex gpu.Texture) error {
	t, err := d.texture(tex)
	if err != nil {
		return &gpu.ResourceAllocationError{Resource: "texture clear", Err: err}
	}
	return d.withAttachment(t, func() {
		gl.ClearColor(0, 0, 0, 0)
		gl.Clear(gl.COLOR_BUFFER_BIT)
	})
}

func (d *Device) ReadTexture(tex gpu.Texture, dst []float32) error {
	t, err := d.texture(tex)
	if err != nil {
		return &gpu.ResourceAllocationError{Resource: "texture read", Err: err}
	}
	if len(dst) < t.floats() {
		return &gpu.ResourceAllocationError{
			Resource: "texture read",
			Err:      fmt.Errorf("destination holds %d floats, want %d", len(dst), t.floats()),
		}
	}
	_, format := formatEnums(t.opts.Format)
	return d.withAttachment(t, func() {
		gl.ReadPixels(0, 0, int32(t.width), int32(t.height), format, gl.FLOAT, gl.Ptr(dst))
	})
}

// withAttachment runs fn with t attached to the pass framebuffer, then puts
// the bound target back.
func (d *Device) withAttachment(t *texture, fn func()) error {
	if err := d.attach(t); err != nil {
		return err
	}
	fn()
	prev := d.target
	d.target = nil
	if err := d.BindTarget(targetOrNil(prev)); err != nil {
		return err
	}
	if code := gl.GetError(); code != gl.NO_ERROR {
		return fmt.Errorf("opengl: gl error 0x%x", code)
	}
	return nil
}

func targetOrNil(t *texture) gpu.Texture {
	if t == nil {
		return nil
	}
	return t
}

func (d *Device) attach(t *texture) error {
	gl.BindFramebuffer(gl.FRAMEBUFFER, d.fbo)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, t.id, 0)
	if status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER); status != gl.FRAMEBUFFER_COMPLETE {
		return &gpu.ResourceAllocationError{
			Resource: "render target",
			Err:      fmt.Errorf("framebuffer incomplete: 0x%x", status),
		}
	}
	gl.Viewport(0, 0, int32(t.width), int32(t.height))
	return nil
}

func (d *Device) DeleteTexture(tex gpu.Texture) {
	t, ok := tex.(*texture)
	if !ok || t == nil || t.deleted {
		return
	}
	gl.DeleteTextures(1, &t.id)
	t.deleted = true
	if d.target == t {
		d.target = nil
	}
	for i := range d.units {
		if d.units[i] == t {
			d.units[i] = nil
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
	usage := uint32(gl.STATIC_DRAW)
	if kind == gpu.UniformBuffer {
		usage = gl.DYNAMIC_DRAW
	}
	b := &buffer{kind: kind, size: len(data)}
	gl.GenBuffers(1, &b.id)
	gl.BindBuffer(gl.COPY_WRITE_BUFFER, b.id)
	gl.BufferData(gl.COPY_WRITE_BUFFER, len(data), gl.Ptr(data), usage)
	gl.BindBuffer(gl.COPY_WRITE_BUFFER, 0)
	if code := gl.GetError(); code != gl.NO_ERROR {
		gl.DeleteBuffers(1, &b.id)
		return nil, &gpu.ResourceAllocationError{Resource: "buffer", Err: fmt.Errorf("gl error 0x%x", code)}
	}
	return b, nil
}

func (d *Device) DeleteBuffer(b gpu.Buffer) {
	buf, ok := b.(*buffer)
	if !ok || buf == nil || buf.deleted {
		return
	}
	gl.DeleteBuffers(1, &buf.id)
	buf.deleted = true
}

func (d *Device) CreateVertexArray(p gpu.Program, attribute string, vertices, indices gpu.Buffer) (gpu.VertexArray, error) {
	prog, ok := p.(*program)
	if !ok || prog == nil {
		return nil, &gpu.BindingError{Name: attribute, Err: errors.New("program not created by this device")}
	}
	vb, vok := vertices.(*buffer)
	ib, iok := indices.(*buffer)
	if !vok || !iok || vb.kind != gpu.VertexBuffer || ib.kind != gpu.IndexBuffer {
		return nil, &gpu.BindingError{Program: prog.name, Name: attribute, Err: errors.New("vertex array needs a vertex and an index buffer")}
	}
	loc := gl.GetAttribLocation(prog.id, gl.Str(attribute+"\x00"))
	if loc < 0 {
		return nil, &gpu.BindingError{Program: prog.name, Name: attribute}
	}

	va := &vertexArray{}
	gl.GenVertexArrays(1, &va.id)
	gl.BindVertexArray(va.id)
	gl.BindBuffer(gl.ARRAY_BUFFER, vb.id)
	gl.EnableVertexAttribArray(uint32(loc))
	gl.VertexAttribPointerWithOffset(uint32(loc), 3, gl.FLOAT, false, 3*4, 0)
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, ib.id)
	gl.BindBuffer(gl.ARRAY_BUFFER, 0)

	var current uint32
	if d.vertexArray != nil && !d.vertexArray.deleted {
		current = d.vertexArray.id
	}
	gl.BindVertexArray(current)
	return va, nil
}

func (d *Device) DeleteVertexArray(va gpu.VertexArray) {
	v, ok := va.(*vertexArray)
	if !ok || v == nil || v.deleted {
		return
	}
	gl.DeleteVertexArrays(1, &v.id)
	v.deleted = true
	if d.vertexArray == v {
		d.vertexArray = nil
	}
}

func (d *Device) BindTarget(tex gpu.Texture) error {
	if tex == nil {
		d.target = nil
		gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
		gl.Viewport(d.viewport[0], d.viewport[1], d.viewport[2], d.viewport[3])
		return nil
	}
	t, err := d.texture(tex)
	if err != nil {
		return &gpu.ResourceAllocationError{Resource: "render target", Err: err}
	}
	if err := d.attach(t); err != nil {
		return err
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
	d.restoreUnit(unit)
}

func (d *Device) BindUniformBuffer(slot int, b gpu.Buffer) {
	if slot < 0 || slot >= maxUniformSlots {
		return
	}
	var id uint32
	if buf, ok := b.(*buffer); ok && buf != nil && !buf.deleted {
		id = buf.id
	}
	gl.BindBufferBase(gl.UNIFORM_BUFFER, uint32(slot), id)
}

func (d *Device) UseProgram(p gpu.Program) {
	prog, _ := p.(*program)
	d.program = prog
	var id uint32
	if prog != nil && !prog.deleted {
		id = prog.id
	}
	gl.UseProgram(id)
}

func (d *Device) BindVertexArray(va gpu.VertexArray) {
	v, _ := va.(*vertexArray)
	d.vertexArray = v
	var id uint32
	if v != nil && !v.deleted {
		id = v.id
	}
	gl.BindVertexArray(id)
}

// DrawIndexed rasterises the bound quad into the target with the current
// program.
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
	if d.target == nil || d.target.deleted {
		return &gpu.BindingError{Program: prog.name, Name: "target", Err: errors.New("no render target bound")}
	}
	for name, unit := range prog.samplers {
		if d.units[unit] == d.target {
			return fmt.Errorf("%s sampler %s: %w", prog.name, name, gpu.ErrFeedbackLoop)
		}
	}

	gl.DrawElements(gl.TRIANGLES, int32(count), gl.UNSIGNED_SHORT, gl.PtrOffset(0))
	if code := gl.GetError(); code != gl.NO_ERROR {
		return fmt.Errorf("opengl: drawing %s: gl error 0x%x", prog.name, code)
	}
	return nil
}

// infoLog trims the driver's NUL-terminated log.
func infoLog(buf []byte) string {
	return strings.TrimSpace(strings.TrimRight(string(buf), "\x00"))
}
