package fluid

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidParams is wrapped by every parameter validation failure.
var ErrInvalidParams = errors.New("invalid fluid parameters")

// DomainScale is the physical size of one grid cell.
const DomainScale = 1.0

// Params holds the tunable solver settings for a tick.
type Params struct {
	Viscosity           float32
	VelocityDissipation float32 // fractional velocity loss per second
	DiffusionIterations int
	PressureIterations  int
}

// Validate reports settings the passes cannot run with.
func (p Params) Validate() error {
	switch {
	case !finite(p.Viscosity) || p.Viscosity < 0:
		return fmt.Errorf("%w: viscosity %v", ErrInvalidParams, p.Viscosity)
	case !finite(p.VelocityDissipation) || p.VelocityDissipation < 0:
		return fmt.Errorf("%w: velocity dissipation %v", ErrInvalidParams, p.VelocityDissipation)
	case p.DiffusionIterations < 0:
		return fmt.Errorf("%w: diffusion iterations %d", ErrInvalidParams, p.DiffusionIterations)
	case p.PressureIterations < 0:
		return fmt.Errorf("%w: pressure iterations %d", ErrInvalidParams, p.PressureIterations)
	}
	return nil
}

func validateTimestep(dt float32) error {
	if !finite(dt) || dt <= 0 {
		return fmt.Errorf("%w: timestep %v", ErrInvalidParams, dt)
	}
	return nil
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
