// Package gpu defines the device contract the fluid and noise passes run on,
// plus the grid-field storage built on top of it.
//
// A Device behaves like a GL context: binding calls change state and a draw
// executes the current program over the whole bound target. Implementations
// live in gpu/cpu (software) and gpu/opengl.
package gpu

// Format is the per-texel storage layout of a texture.
type Format int

const (
	FormatR32F Format = iota
	FormatRG32F
	FormatRGBA32F
)

// Components returns the number of float channels per texel.
func (f Format) Components() int {
	switch f {
	case FormatR32F:
		return 1
	case FormatRG32F:
		return 2
	default:
		return 4
	}
}

func (f Format) String() string {
	switch f {
	case FormatR32F:
		return "R32F"
	case FormatRG32F:
		return "RG32F"
	case FormatRGBA32F:
		return "RGBA32F"
	default:
		return "unknown"
	}
}

// Filter selects how off-texel sample positions are resolved.
type Filter int

const (
	FilterNearest Filter = iota
	FilterLinear
)

// Wrap selects how sample positions outside [0,1] are resolved.
type Wrap int

const (
	WrapClampToEdge Wrap = iota
	WrapRepeat
)

// TextureOptions describes the storage and sampling state of a texture.
type TextureOptions struct {
	Format Format
	Filter Filter
	Wrap   Wrap
}

// BufferKind is the binding target of a buffer.
type BufferKind int

const (
	VertexBuffer BufferKind = iota
	IndexBuffer
	UniformBuffer
)

// Texture is a width x height grid of float texels owned by a device.
type Texture interface {
	Width() int
	Height() int
	Options() TextureOptions
}

// Program is a compiled vertex/fragment pair.
type Program interface {
	Name() string
	// SetUniform assigns a uniform by name. Unknown names are a *BindingError.
	SetUniform(name string, value UniformValue) error
	// SetUniformBlock connects the named uniform block to a buffer slot.
	SetUniformBlock(name string, slot int) error
}

// Buffer is device memory holding vertex, index or uniform data.
type Buffer interface {
	Len() int
	// UpdateSubRange overwrites len(data) bytes starting at offset.
	UpdateSubRange(offset int, data []byte) error
}

// VertexArray binds geometry buffers to a program's vertex attribute.
type VertexArray interface{}

// Device creates resources and executes draws. A Device is not safe for
// concurrent use; all calls come from the thread that owns it.
type Device interface {
	CreateTexture(width, height int, opts TextureOptions, data []float32) (Texture, error)
	UploadTexture(tex Texture, data []float32) error
	ClearTexture(tex Texture) error
	ReadTexture(tex Texture, dst []float32) error
	DeleteTexture(tex Texture)

	CompileProgram(src ProgramSource) (Program, error)
	DeleteProgram(p Program)

	CreateBuffer(kind BufferKind, data []byte) (Buffer, error)
	DeleteBuffer(b Buffer)

	CreateVertexArray(p Program, attribute string, vertices, indices Buffer) (VertexArray, error)
	DeleteVertexArray(va VertexArray)

	// BindTarget selects the texture draws write to. nil restores the
	// default target.
	BindTarget(tex Texture) error
	BindTexture(unit int, tex Texture)
	BindUniformBuffer(slot int, b Buffer)
	UseProgram(p Program)
	BindVertexArray(va VertexArray)
	// DrawIndexed runs the current program over every texel of the target.
	DrawIndexed(count int) error

	Release()
}

// ProgramSource names a program and carries its shader text.
type ProgramSource struct {
	Name     string
	Vertex   string
	Fragment string
}
