package main

import (
	"fmt"

	"github.com/pthm-cable/flux/config"
)

// ParamSpec defines a single tunable parameter.
type ParamSpec struct {
	Name    string  // Config path for logging
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Starting value
	get     func(*config.Config) *float64
}

// ParamVector holds the set of tunable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector tunes each noise channel's scale and multiplier plus the
// velocity dissipation, starting from the values in base.
func NewParamVector(base *config.Config) *ParamVector {
	pv := &ParamVector{}
	for i, ch := range base.Noise {
		i := i
		pv.Specs = append(pv.Specs,
			ParamSpec{
				Name: fmt.Sprintf("noise.%s.scale", ch.Name), Min: 0.5, Max: 32, Default: ch.Scale,
				get: func(c *config.Config) *float64 { return &c.Noise[i].Scale },
			},
			ParamSpec{
				Name: fmt.Sprintf("noise.%s.multiplier", ch.Name), Min: 0, Max: 20, Default: ch.Multiplier,
				get: func(c *config.Config) *float64 { return &c.Noise[i].Multiplier },
			},
		)
	}
	pv.Specs = append(pv.Specs, ParamSpec{
		Name: "fluid.velocity_dissipation", Min: 0, Max: 2, Default: base.Fluid.VelocityDissipation,
		get: func(c *config.Config) *float64 { return &c.Fluid.VelocityDissipation },
	})
	return pv
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the starting values, clamped into bounds.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return pv.Clamp(v)
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = min(max(v[i], spec.Min), spec.Max)
	}
	return clamped
}

// Apply returns a copy of base with the clamped values written in.
func (pv *ParamVector) Apply(base *config.Config, values []float64) (*config.Config, error) {
	cfg := base.Clone()
	for i, v := range pv.Clamp(values) {
		*pv.Specs[i].get(cfg) = v
	}
	if err := cfg.Refresh(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Extract reads the current parameter values from cfg.
func (pv *ParamVector) Extract(cfg *config.Config) []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = *spec.get(cfg)
	}
	return v
}
