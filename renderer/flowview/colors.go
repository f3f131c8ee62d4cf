// Package flowview turns a read-back velocity field into pixels and tracer
// particles. It has no graphics dependency; package renderer draws the
// results with raylib.
package flowview

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// Grid is a read-back velocity field: interleaved (x, y) per cell, row-major
// from the bottom row, in cells per second.
type Grid struct {
	Data          []float32
	Width, Height int
}

// Valid reports whether Data matches the dimensions.
func (g Grid) Valid() bool {
	return g.Width > 0 && g.Height > 0 && len(g.Data) == g.Width*g.Height*2
}

// at returns the velocity of the cell at (x, y), wrapping out-of-range
// coordinates.
func (g Grid) at(x, y int) (float32, float32) {
	x = ((x % g.Width) + g.Width) % g.Width
	y = ((y % g.Height) + g.Height) % g.Height
	i := (y*g.Width + x) * 2
	return g.Data[i], g.Data[i+1]
}

// Sample bilinearly interpolates the velocity at grid coordinates (gx, gy),
// where cell centres sit at integer + 0.5. The field wraps.
func (g Grid) Sample(gx, gy float32) (vx, vy float32) {
	fx := gx - 0.5
	fy := gy - 0.5
	x0 := int(math.Floor(float64(fx)))
	y0 := int(math.Floor(float64(fy)))
	tx := fx - float32(x0)
	ty := fy - float32(y0)

	ax, ay := g.at(x0, y0)
	bx, by := g.at(x0+1, y0)
	cx, cy := g.at(x0, y0+1)
	dx, dy := g.at(x0+1, y0+1)

	lerp := func(a, b, t float32) float32 { return a + (b-a)*t }
	vx = lerp(lerp(ax, bx, tx), lerp(cx, dx, tx), ty)
	vy = lerp(lerp(ay, by, tx), lerp(cy, dy, tx), ty)
	return vx, vy
}

// VelocityColor maps a velocity to a colour: hue from direction, value from
// speed relative to speedScale.
func VelocityColor(vx, vy, speedScale float32) color.RGBA {
	speed := math.Hypot(float64(vx), float64(vy))
	value := 0.0
	if speedScale > 0 {
		value = math.Min(speed/float64(speedScale), 1)
	}
	hue := math.Atan2(float64(vy), float64(vx)) * 180 / math.Pi
	if hue < 0 {
		hue += 360
	}
	r, g, b := colorful.Hsv(hue, 0.85, value).Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// VelocityColors fills dst with one colour per cell, top row first so it can
// be uploaded as an image.
func VelocityColors(grid Grid, speedScale float32, dst []color.RGBA) {
	if !grid.Valid() || len(dst) < grid.Width*grid.Height {
		return
	}
	for y := 0; y < grid.Height; y++ {
		row := (grid.Height - 1 - y) * grid.Width
		for x := 0; x < grid.Width; x++ {
			vx, vy := grid.at(x, y)
			dst[row+x] = VelocityColor(vx, vy, speedScale)
		}
	}
}
