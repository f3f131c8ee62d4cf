package cpu

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/pthm-cable/flux/gpu"
)

type texture struct {
	width   int
	height  int
	opts    gpu.TextureOptions
	comps   int
	data    []float32
	deleted bool
}

func (t *texture) Width() int                  { return t.width }
func (t *texture) Height() int                 { return t.height }
func (t *texture) Options() gpu.TextureOptions { return t.opts }

// texel returns the stored value at integer coordinates already resolved by
// the wrap mode. Missing channels read as zero, alpha as one.
func (t *texture) texel(x, y int) mgl32.Vec4 {
	base := (y*t.width + x) * t.comps
	v := mgl32.Vec4{0, 0, 0, 1}
	for c := 0; c < t.comps; c++ {
		v[c] = t.data[base+c]
	}
	return v
}

func (t *texture) store(x, y int, v mgl32.Vec4) {
	base := (y*t.width + x) * t.comps
	for c := 0; c < t.comps; c++ {
		t.data[base+c] = v[c]
	}
}

// resolve maps a possibly out-of-range texel index onto the grid.
func resolve(i, n int, wrap gpu.Wrap) int {
	if wrap == gpu.WrapRepeat {
		return ((i % n) + n) % n
	}
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// sample reads the texture at normalised coordinates with its filter and wrap
// state. Texel centres sit at (i+0.5)/size.
func (t *texture) sample(uv mgl32.Vec2) mgl32.Vec4 {
	fx := uv[0] * float32(t.width)
	fy := uv[1] * float32(t.height)

	if t.opts.Filter == gpu.FilterNearest {
		x := resolve(int(math.Floor(float64(fx))), t.width, t.opts.Wrap)
		y := resolve(int(math.Floor(float64(fy))), t.height, t.opts.Wrap)
		return t.texel(x, y)
	}

	fx -= 0.5
	fy -= 0.5
	x0f := float32(math.Floor(float64(fx)))
	y0f := float32(math.Floor(float64(fy)))
	tx := fx - x0f
	ty := fy - y0f
	x0, y0 := int(x0f), int(y0f)

	ax := resolve(x0, t.width, t.opts.Wrap)
	bx := resolve(x0+1, t.width, t.opts.Wrap)
	ay := resolve(y0, t.height, t.opts.Wrap)
	by := resolve(y0+1, t.height, t.opts.Wrap)

	bottom := t.texel(ax, ay).Mul(1 - tx).Add(t.texel(bx, ay).Mul(tx))
	top := t.texel(ax, by).Mul(1 - tx).Add(t.texel(bx, by).Mul(tx))
	return bottom.Mul(1 - ty).Add(top.Mul(ty))
}
