package renderer

import (
	"math"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/flux/camera"
	"github.com/pthm-cable/flux/renderer/flowview"
)

// TracerRenderer draws tracer particles with trails into a layer that fades
// a little every frame, leaving streaks along the flow.
type TracerRenderer struct {
	width  int32
	height int32
	fade   float32

	layer       rl.RenderTexture2D
	initialized bool
}

// NewTracerRenderer creates a tracer renderer. fade is the alpha of the black
// wash applied to the trail layer per frame; 1 leaves no streaks.
func NewTracerRenderer(width, height int32, fade float32) *TracerRenderer {
	return &TracerRenderer{
		width:  width,
		height: height,
		fade:   fade,
	}
}

// Init allocates the trail layer (must be called after raylib window is created).
func (r *TracerRenderer) Init() {
	if r.initialized {
		return
	}
	r.layer = rl.LoadRenderTexture(r.width, r.height)
	rl.BeginTextureMode(r.layer)
	rl.ClearBackground(rl.Blank)
	rl.EndTextureMode()
	r.initialized = true
}

// Resize reallocates the trail layer for a new screen size.
func (r *TracerRenderer) Resize(width, height int32) {
	if width == r.width && height == r.height {
		return
	}
	r.Unload()
	r.width, r.height = width, height
}

// SetFade changes the per-frame fade alpha.
func (r *TracerRenderer) SetFade(fade float32) { r.fade = fade }

// Update fades the trail layer and draws the particles' latest segments into
// it. Particle positions are in cells and go through cam.
func (r *TracerRenderer) Update(particles []flowview.Particle, cam *camera.Camera, tick int32) {
	if !r.initialized {
		r.Init()
	}

	rl.BeginTextureMode(r.layer)
	rl.DrawRectangle(0, 0, r.width, r.height, rl.Fade(rl.Black, r.fade))

	// Segments longer than this cross the view seam of the wrapped field.
	maxSegment := min(cam.ViewportW, cam.ViewportH) / 2

	rl.BeginBlendMode(rl.BlendAdditive)
	for i := range particles {
		p := &particles[i]
		if p.TrailLen < 1 {
			continue
		}

		lifeRatio := float32(p.Lifespan) / float32(p.MaxLifespan)

		// Fade in over first 20% of life (quadratic)
		fadeIn := float32(math.Min(float64(1-lifeRatio)*5, 1))
		fadeIn *= fadeIn
		// Fade out over the last third
		fadeOut := float32(math.Min(float64(lifeRatio)*3, 1))

		// Shimmer
		pulse := float32(math.Sin(float64(tick)*0.05+float64(p.X+p.Y)*0.01)*0.5 + 0.5)
		alpha := p.Opacity * fadeIn * fadeOut * (0.6 + 0.4*pulse) * 255
		if alpha < 2 {
			continue
		}

		x0, y0 := cam.WorldToScreen(p.X, p.Y)
		x1, y1 := cam.WorldToScreen(p.TrailX[0], p.TrailY[0])
		if math.Abs(float64(x1-x0)) > float64(maxSegment) || math.Abs(float64(y1-y0)) > float64(maxSegment) {
			continue
		}

		// Render texture rows run bottom-up; flip y when drawing into it.
		rl.DrawLineEx(
			rl.Vector2{X: x0, Y: float32(r.height) - y0},
			rl.Vector2{X: x1, Y: float32(r.height) - y1},
			p.Size*2,
			rl.Color{R: 230, G: 240, B: 255, A: uint8(alpha)},
		)
	}
	rl.EndBlendMode()
	rl.EndTextureMode()
}

// Draw composites the trail layer over the screen.
func (r *TracerRenderer) Draw() {
	if !r.initialized {
		return
	}
	src := rl.Rectangle{X: 0, Y: 0, Width: float32(r.width), Height: -float32(r.height)}
	rl.BeginBlendMode(rl.BlendAdditive)
	rl.DrawTextureRec(r.layer.Texture, src, rl.Vector2{}, rl.White)
	rl.EndBlendMode()
}

// Unload frees GPU resources.
func (r *TracerRenderer) Unload() {
	if !r.initialized {
		return
	}
	rl.UnloadRenderTexture(r.layer)
	r.initialized = false
}
