// Package renderer draws the velocity field and its tracers with raylib.
package renderer

import (
	"image/color"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/flux/camera"
	"github.com/pthm-cable/flux/renderer/flowview"
)

// FieldRenderer draws the velocity field as a colour texture through the
// camera: hue is direction, brightness is speed.
type FieldRenderer struct {
	texture rl.Texture2D
	pixels  []color.RGBA
	texW    int
	texH    int

	initialized bool
}

// NewFieldRenderer creates a field renderer. The texture is allocated on the
// first Update, after the raylib window exists.
func NewFieldRenderer() *FieldRenderer {
	return &FieldRenderer{}
}

// Init allocates the texture for a gridW x gridH field.
func (r *FieldRenderer) Init(gridW, gridH int) {
	if r.initialized && r.texW == gridW && r.texH == gridH {
		return
	}
	r.Unload()

	r.texW = gridW
	r.texH = gridH
	r.pixels = make([]color.RGBA, gridW*gridH)

	img := rl.GenImageColor(gridW, gridH, rl.Black)
	r.texture = rl.LoadTextureFromImage(img)
	rl.SetTextureFilter(r.texture, rl.FilterBilinear)
	rl.SetTextureWrap(r.texture, rl.WrapRepeat)
	rl.UnloadImage(img)

	r.initialized = true
}

// Update recolours the texture from a read-back velocity field.
func (r *FieldRenderer) Update(grid flowview.Grid, speedScale float32) {
	if !grid.Valid() {
		return
	}
	r.Init(grid.Width, grid.Height)
	flowview.VelocityColors(grid, speedScale, r.pixels)
	rl.UpdateTexture(r.texture, r.pixels)
}

// Draw fills the viewport with the camera's view of the field. The texture
// repeats, so a view across the field edge samples the wrapped cells.
func (r *FieldRenderer) Draw(cam *camera.Camera) {
	if !r.initialized {
		return
	}
	minX, minY, maxX, maxY := cam.VisibleWorldBounds()
	src := rl.Rectangle{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
	dst := rl.Rectangle{X: 0, Y: 0, Width: cam.ViewportW, Height: cam.ViewportH}
	rl.DrawTexturePro(r.texture, src, dst, rl.Vector2{}, 0, rl.White)
}

// Unload frees GPU resources.
func (r *FieldRenderer) Unload() {
	if !r.initialized {
		return
	}
	rl.UnloadTexture(r.texture)
	r.initialized = false
}
