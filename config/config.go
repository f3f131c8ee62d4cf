// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/flux/fluid"
	"github.com/pthm-cable/flux/noise"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulation configuration parameters.
type Config struct {
	Screen    ScreenConfig         `yaml:"screen"`
	Fluid     FluidConfig          `yaml:"fluid"`
	Device    DeviceConfig         `yaml:"device"`
	Noise     []NoiseChannelConfig `yaml:"noise"`
	Telemetry TelemetryConfig      `yaml:"telemetry"`
	Stream    StreamConfig         `yaml:"stream"`
	Viewer    ViewerConfig         `yaml:"viewer"`
	Tune      TuneConfig           `yaml:"tune"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// ScreenConfig holds display settings.
type ScreenConfig struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	TargetFPS int `yaml:"target_fps"`
}

// FluidConfig holds the solver grid and its settings.
type FluidConfig struct {
	Width               int     `yaml:"width"`  // Grid cells across
	Height              int     `yaml:"height"` // Grid cells down
	Viscosity           float64 `yaml:"viscosity"`
	VelocityDissipation float64 `yaml:"velocity_dissipation"` // Fractional velocity loss per second
	DiffusionIterations int     `yaml:"diffusion_iterations"`
	PressureIterations  int     `yaml:"pressure_iterations"`
	DT                  float64 `yaml:"dt"`
}

// DeviceConfig selects the compute backend.
type DeviceConfig struct {
	Backend string `yaml:"backend"` // "cpu" or "gl"
	Workers int    `yaml:"workers"` // CPU backend worker count (0 = GOMAXPROCS)
	Seed    int64  `yaml:"seed"`    // CPU backend simplex seed
}

// NoiseChannelConfig holds one noise channel's settings.
type NoiseChannelConfig struct {
	Name            string            `yaml:"name"`
	Scale           float64           `yaml:"scale"`      // Noise frequency across the domain
	Multiplier      float64           `yaml:"multiplier"` // Blend strength
	Offset1         float64           `yaml:"offset_1"`   // Phase of the x component
	Offset2         float64           `yaml:"offset_2"`   // Phase of the y component
	OffsetIncrement float64           `yaml:"offset_increment"`
	Delay           float64           `yaml:"delay"`          // Seconds between regenerations
	BlendDuration   float64           `yaml:"blend_duration"` // Seconds to apply one regeneration
	BlendMethod     noise.BlendMethod `yaml:"blend_method"`
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow         float64 `yaml:"stats_window"`          // Sim seconds per stats window
	PerfCollectorWindow int     `yaml:"perf_collector_window"` // Ticks averaged by the perf collector
	SnapshotEvery       int     `yaml:"snapshot_every"`        // Windows between snapshots (0 = never)
}

// StreamConfig holds the websocket stats stream settings.
type StreamConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// ViewerConfig holds graphical mode settings.
type ViewerConfig struct {
	Particles  int     `yaml:"particles"`   // Tracer particle count
	TrailFade  float64 `yaml:"trail_fade"`  // Alpha of the fade overlay per frame
	SpeedScale float64 `yaml:"speed_scale"` // Speed that maps to full brightness
	ShowPanel  bool    `yaml:"show_panel"`
}

// TuneConfig holds parameters for cmd/tune.
type TuneConfig struct {
	TargetSpeed float64 `yaml:"target_speed"` // Mean speed the tuner aims for
	Ticks       int     `yaml:"ticks"`        // Ticks per evaluation
	MaxEvals    int     `yaml:"max_evals"`
	Seed        int64   `yaml:"seed"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	DT32      float32        // Fluid.DT as float32
	TexelSize [2]float32     // (1/width, 1/height) of the fluid grid
	ScreenW32 float32        // Screen.Width as float32
	ScreenH32 float32        // Screen.Height as float32
	Fluid     fluid.Params   // Solver settings for Stepper.Step
	Channels  []noise.Params // One entry per noise channel, in order
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Maps and structs merge; a noise list in the file replaces the default list.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.computeDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.DT32 = float32(c.Fluid.DT)
	c.Derived.ScreenW32 = float32(c.Screen.Width)
	c.Derived.ScreenH32 = float32(c.Screen.Height)
	if c.Fluid.Width > 0 && c.Fluid.Height > 0 {
		c.Derived.TexelSize = [2]float32{1 / float32(c.Fluid.Width), 1 / float32(c.Fluid.Height)}
	}

	c.Derived.Fluid = fluid.Params{
		Viscosity:           float32(c.Fluid.Viscosity),
		VelocityDissipation: float32(c.Fluid.VelocityDissipation),
		DiffusionIterations: c.Fluid.DiffusionIterations,
		PressureIterations:  c.Fluid.PressureIterations,
	}

	c.Derived.Channels = make([]noise.Params, len(c.Noise))
	for i, ch := range c.Noise {
		c.Derived.Channels[i] = ch.Params()
	}
}

// Refresh recomputes Derived after fields were edited in place and validates
// the result.
func (c *Config) Refresh() error {
	c.computeDerived()
	return c.Validate()
}

// Clone returns a copy that shares nothing with c. Derived values are
// copied as they are; call Refresh after editing the copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Noise = append([]NoiseChannelConfig(nil), c.Noise...)
	out.Derived.Channels = append([]noise.Params(nil), c.Derived.Channels...)
	return &out
}

// Params converts the channel settings for the injector.
func (n NoiseChannelConfig) Params() noise.Params {
	return noise.Params{
		Scale:           float32(n.Scale),
		Multiplier:      float32(n.Multiplier),
		Offset1:         float32(n.Offset1),
		Offset2:         float32(n.Offset2),
		OffsetIncrement: float32(n.OffsetIncrement),
		Delay:           float32(n.Delay),
		BlendDuration:   float32(n.BlendDuration),
		BlendMethod:     n.BlendMethod,
	}
}

// NoiseChannelFromParams is the inverse of NoiseChannelConfig.Params.
func NoiseChannelFromParams(name string, p noise.Params) NoiseChannelConfig {
	return NoiseChannelConfig{
		Name:            name,
		Scale:           float64(p.Scale),
		Multiplier:      float64(p.Multiplier),
		Offset1:         float64(p.Offset1),
		Offset2:         float64(p.Offset2),
		OffsetIncrement: float64(p.OffsetIncrement),
		Delay:           float64(p.Delay),
		BlendDuration:   float64(p.BlendDuration),
		BlendMethod:     p.BlendMethod,
	}
}

// Validate reports every setting the simulation cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Fluid.Width <= 0 || c.Fluid.Height <= 0 {
		errs = append(errs, fmt.Errorf("fluid: grid %dx%d", c.Fluid.Width, c.Fluid.Height))
	}
	if c.Fluid.DT <= 0 {
		errs = append(errs, fmt.Errorf("fluid: dt %v must be positive", c.Fluid.DT))
	}
	if err := c.Derived.Fluid.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("fluid: %w", err))
	}
	switch c.Device.Backend {
	case "cpu", "gl":
	default:
		errs = append(errs, fmt.Errorf("device: unknown backend %q", c.Device.Backend))
	}
	if c.Device.Workers < 0 {
		errs = append(errs, fmt.Errorf("device: workers %d", c.Device.Workers))
	}
	for i, p := range c.Derived.Channels {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("noise[%d] %s: %w", i, c.Noise[i].Name, err))
		}
	}
	if c.Telemetry.StatsWindow <= 0 {
		errs = append(errs, fmt.Errorf("telemetry: stats_window %v must be positive", c.Telemetry.StatsWindow))
	}
	if c.Stream.Enabled && c.Stream.Addr == "" {
		errs = append(errs, errors.New("stream: enabled without addr"))
	}
	return errors.Join(errs...)
}

// ChannelIndex returns the index of the named noise channel, or -1.
func (c *Config) ChannelIndex(name string) int {
	for i, ch := range c.Noise {
		if ch.Name == name {
			return i
		}
	}
	return -1
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
