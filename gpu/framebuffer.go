package gpu

import "fmt"

// Framebuffer is a single-buffered grid field. Passes writing it must not
// sample it.
type Framebuffer struct {
	device    Device
	texture   Texture
	width     int
	height    int
	texelSize [2]float32
}

// NewFramebuffer allocates a single-buffered field. data may be nil for a
// zero-initialised field.
func NewFramebuffer(dev Device, width, height int, opts TextureOptions, data []float32) (*Framebuffer, error) {
	tex, err := dev.CreateTexture(width, height, opts, data)
	if err != nil {
		return nil, fmt.Errorf("creating framebuffer: %w", err)
	}
	return &Framebuffer{
		device:    dev,
		texture:   tex,
		width:     width,
		height:    height,
		texelSize: [2]float32{1 / float32(width), 1 / float32(height)},
	}, nil
}

// Current returns the field's texture.
func (f *Framebuffer) Current() Texture { return f.texture }

// Width returns the grid width in texels.
func (f *Framebuffer) Width() int { return f.width }

// Height returns the grid height in texels.
func (f *Framebuffer) Height() int { return f.height }

// TexelSize returns (1/width, 1/height).
func (f *Framebuffer) TexelSize() [2]float32 { return f.texelSize }

// WriteFullGrid binds the field as the draw target and runs body. The default
// target is restored on every exit path.
func (f *Framebuffer) WriteFullGrid(body func() error) (err error) {
	if err := f.device.BindTarget(f.texture); err != nil {
		return err
	}
	defer func() {
		if uerr := f.device.BindTarget(nil); uerr != nil && err == nil {
			err = uerr
		}
	}()
	return body()
}

// ZeroFill clears the field to zero.
func (f *Framebuffer) ZeroFill() error {
	return f.device.ClearTexture(f.texture)
}

// Read copies the field into dst, which must hold width*height*components floats.
func (f *Framebuffer) Read(dst []float32) error {
	return f.device.ReadTexture(f.texture, dst)
}

// Upload replaces the field's contents.
func (f *Framebuffer) Upload(data []float32) error {
	return f.device.UploadTexture(f.texture, data)
}

// Release deletes the underlying texture.
func (f *Framebuffer) Release() {
	if f.texture != nil {
		f.device.DeleteTexture(f.texture)
		f.texture = nil
	}
}

// DoubleFramebuffer is a double-buffered grid field. Reads go through Current,
// writes go to Next, and the roles swap after each completed write.
type DoubleFramebuffer struct {
	device    Device
	buffers   [2]Texture
	current   int
	width     int
	height    int
	texelSize [2]float32
}

// NewDoubleFramebuffer allocates both buffers. data, when non-nil, seeds the
// current buffer; the next buffer starts zeroed.
func NewDoubleFramebuffer(dev Device, width, height int, opts TextureOptions, data []float32) (*DoubleFramebuffer, error) {
	first, err := dev.CreateTexture(width, height, opts, data)
	if err != nil {
		return nil, fmt.Errorf("creating framebuffer 0: %w", err)
	}
	second, err := dev.CreateTexture(width, height, opts, nil)
	if err != nil {
		dev.DeleteTexture(first)
		return nil, fmt.Errorf("creating framebuffer 1: %w", err)
	}
	return &DoubleFramebuffer{
		device:    dev,
		buffers:   [2]Texture{first, second},
		width:     width,
		height:    height,
		texelSize: [2]float32{1 / float32(width), 1 / float32(height)},
	}, nil
}

// Current returns the latest committed buffer.
func (d *DoubleFramebuffer) Current() Texture { return d.buffers[d.current] }

// Next returns the buffer the next write targets.
func (d *DoubleFramebuffer) Next() Texture { return d.buffers[1-d.current] }

// Width returns the grid width in texels.
func (d *DoubleFramebuffer) Width() int { return d.width }

// Height returns the grid height in texels.
func (d *DoubleFramebuffer) Height() int { return d.height }

// TexelSize returns (1/width, 1/height).
func (d *DoubleFramebuffer) TexelSize() [2]float32 { return d.texelSize }

// Swap exchanges the current and next roles.
func (d *DoubleFramebuffer) Swap() { d.current = 1 - d.current }

// WriteFullGrid binds Next as the draw target and runs body with Current as
// the readable input. The default target is always restored; roles swap only
// when body succeeds.
func (d *DoubleFramebuffer) WriteFullGrid(body func(current Texture) error) (err error) {
	if err := d.device.BindTarget(d.Next()); err != nil {
		return err
	}
	defer func() {
		if uerr := d.device.BindTarget(nil); uerr != nil && err == nil {
			err = uerr
		}
		if err == nil {
			d.Swap()
		}
	}()
	return body(d.Current())
}

// ZeroFill clears the current buffer to zero.
func (d *DoubleFramebuffer) ZeroFill() error {
	return d.device.ClearTexture(d.Current())
}

// Read copies the current buffer into dst.
func (d *DoubleFramebuffer) Read(dst []float32) error {
	return d.device.ReadTexture(d.Current(), dst)
}

// Upload replaces the current buffer's contents.
func (d *DoubleFramebuffer) Upload(data []float32) error {
	return d.device.UploadTexture(d.Current(), data)
}

// Release deletes both buffers.
func (d *DoubleFramebuffer) Release() {
	for i, tex := range d.buffers {
		if tex != nil {
			d.device.DeleteTexture(tex)
			d.buffers[i] = nil
		}
	}
}
