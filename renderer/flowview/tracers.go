package flowview

import "math/rand"

const trailLength = 8

// Particle is a tracer carried by the flow. Positions are in cells with y
// growing down the screen.
type Particle struct {
	X, Y        float32
	Lifespan    int32
	MaxLifespan int32
	Opacity     float32
	Size        float32
	// Trail history (most recent first)
	TrailX   [trailLength]float32
	TrailY   [trailLength]float32
	TrailLen uint8
}

// Tracers keeps a population of particles moving with a velocity grid laid
// out over a width x height area.
type Tracers struct {
	Particles   []Particle
	width       float32
	height      float32
	targetCount int
	spawnRate   int
	rng         *rand.Rand
}

// NewTracers creates an empty population that grows to targetCount.
func NewTracers(width, height float32, targetCount int, seed int64) *Tracers {
	return &Tracers{
		Particles:   make([]Particle, 0, targetCount),
		width:       width,
		height:      height,
		targetCount: targetCount,
		spawnRate:   50,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Resize changes the area. Existing particles are dropped.
func (t *Tracers) Resize(width, height float32) {
	if width == t.width && height == t.height {
		return
	}
	t.width, t.height = width, height
	t.Particles = t.Particles[:0]
}

// SetTarget changes the population size.
func (t *Tracers) SetTarget(n int) {
	t.targetCount = n
	if len(t.Particles) > n {
		t.Particles = t.Particles[:n]
	}
}

// Update spawns particles up to the target and moves each one by dt seconds
// through grid.
func (t *Tracers) Update(grid Grid, dt float32) {
	if !grid.Valid() {
		return
	}

	for i := 0; i < t.spawnRate && len(t.Particles) < t.targetCount; i++ {
		lifespan := int32(240 + t.rng.Intn(360))
		t.Particles = append(t.Particles, Particle{
			X:           t.rng.Float32() * t.width,
			Y:           t.rng.Float32() * t.height,
			Lifespan:    lifespan,
			MaxLifespan: lifespan,
			Opacity:     0.4 + t.rng.Float32()*0.4,
			Size:        0.6 + t.rng.Float32()*0.4,
		})
	}

	// Units per cell; particle y grows downward, grid y upward.
	cellW := t.width / float32(grid.Width)
	cellH := t.height / float32(grid.Height)

	alive := 0
	for i := range t.Particles {
		p := &t.Particles[i]

		p.Lifespan--
		if p.Lifespan <= 0 {
			continue
		}

		for j := len(p.TrailX) - 1; j > 0; j-- {
			p.TrailX[j] = p.TrailX[j-1]
			p.TrailY[j] = p.TrailY[j-1]
		}
		p.TrailX[0] = p.X
		p.TrailY[0] = p.Y
		if p.TrailLen < uint8(len(p.TrailX)) {
			p.TrailLen++
		}

		vx, vy := grid.Sample(p.X/cellW, (t.height-p.Y)/cellH)
		p.X += vx * dt * cellW
		p.Y -= vy * dt * cellH

		// Wrap at edges, clearing the trail so it does not cross the area
		wrapped := false
		if p.X < 0 {
			p.X += t.width
			wrapped = true
		}
		if p.X >= t.width {
			p.X -= t.width
			wrapped = true
		}
		if p.Y < 0 {
			p.Y += t.height
			wrapped = true
		}
		if p.Y >= t.height {
			p.Y -= t.height
			wrapped = true
		}
		if wrapped {
			p.TrailLen = 0
		}

		t.Particles[alive] = t.Particles[i]
		alive++
	}
	t.Particles = t.Particles[:alive]
}
