// Package camera is a pan/zoom view onto the periodic velocity field. World
// coordinates are grid cells with y growing down the screen; the field
// repeats in both directions, so the view never runs off an edge.
package camera

import "math"

// Camera maps field cells to screen pixels.
type Camera struct {
	// View centre in cells
	X, Y float32

	// Pixels per cell
	Zoom float32

	ViewportW, ViewportH float32
	WorldW, WorldH       float32

	// MinZoom fits the whole field; MaxZoom is maxMagnify times that.
	MinZoom, MaxZoom float32
}

const maxMagnify = 8

// New creates a camera centred on a worldW x worldH field, zoomed to fill
// the viewport.
func New(viewportW, viewportH, worldW, worldH float32) *Camera {
	c := &Camera{WorldW: worldW, WorldH: worldH}
	c.Resize(viewportW, viewportH)
	c.Reset()
	return c
}

// fitZoom is the zoom at which the field covers the whole viewport.
func (c *Camera) fitZoom() float32 {
	return max(c.ViewportW/c.WorldW, c.ViewportH/c.WorldH)
}

// WorldToScreen converts a cell position to screen pixels, taking the
// shortest way round the wrapped field from the view centre.
func (c *Camera) WorldToScreen(wx, wy float32) (sx, sy float32) {
	dx := toroidalDelta(wx, c.X, c.WorldW)
	dy := toroidalDelta(wy, c.Y, c.WorldH)
	return c.ViewportW/2 + dx*c.Zoom, c.ViewportH/2 + dy*c.Zoom
}

// ScreenToWorld converts screen pixels to a cell position inside the field.
func (c *Camera) ScreenToWorld(sx, sy float32) (wx, wy float32) {
	dx := (sx - c.ViewportW/2) / c.Zoom
	dy := (sy - c.ViewportH/2) / c.Zoom
	return mod(c.X+dx, c.WorldW), mod(c.Y+dy, c.WorldH)
}

// Resize updates the viewport and the zoom limits that depend on it.
func (c *Camera) Resize(viewportW, viewportH float32) {
	c.ViewportW = viewportW
	c.ViewportH = viewportH
	c.MinZoom = c.fitZoom()
	c.MaxZoom = c.MinZoom * maxMagnify
	c.SetZoom(c.Zoom)
}

// Pan moves the view by a screen-pixel delta.
func (c *Camera) Pan(dx, dy float32) {
	c.X = mod(c.X+dx/c.Zoom, c.WorldW)
	c.Y = mod(c.Y+dy/c.Zoom, c.WorldH)
}

// SetZoom sets the zoom level, clamped to min/max.
func (c *Camera) SetZoom(zoom float32) {
	c.Zoom = clamp(zoom, c.MinZoom, c.MaxZoom)
}

// ZoomBy multiplies the current zoom by the given factor.
func (c *Camera) ZoomBy(factor float32) {
	c.SetZoom(c.Zoom * factor)
}

// ZoomAt zooms by factor while keeping the cell under (sx, sy) in place.
func (c *Camera) ZoomAt(sx, sy, factor float32) {
	wx, wy := c.ScreenToWorld(sx, sy)
	c.ZoomBy(factor)
	nx, ny := c.ScreenToWorld(sx, sy)
	c.X = mod(c.X+toroidalDelta(wx, nx, c.WorldW), c.WorldW)
	c.Y = mod(c.Y+toroidalDelta(wy, ny, c.WorldH), c.WorldH)
}

// Reset centres the view and fits the field to the viewport.
func (c *Camera) Reset() {
	c.X = c.WorldW / 2
	c.Y = c.WorldH / 2
	c.Zoom = c.MinZoom
}

// VisibleWorldBounds returns the visible area in cells. The bounds are not
// wrapped, so min may be negative or max past the field size; sampling a
// repeating texture over them draws the wrapped view.
func (c *Camera) VisibleWorldBounds() (minX, minY, maxX, maxY float32) {
	halfW := c.ViewportW / (2 * c.Zoom)
	halfH := c.ViewportH / (2 * c.Zoom)
	return c.X - halfW, c.Y - halfH, c.X + halfW, c.Y + halfH
}

// toroidalDelta computes the shortest signed distance from 'from' to 'to'
// in a toroidal space of the given size.
func toroidalDelta(to, from, size float32) float32 {
	d := to - from
	if d > size/2 {
		d -= size
	} else if d < -size/2 {
		d += size
	}
	return d
}

// mod computes the positive modulo (Go's % can return negative).
func mod(x, m float32) float32 {
	r := float32(math.Mod(float64(x), float64(m)))
	if r < 0 {
		r += m
	}
	return r
}

func clamp(x, lo, hi float32) float32 {
	return min(max(x, lo), hi)
}
