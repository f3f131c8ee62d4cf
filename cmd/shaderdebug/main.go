// Shader debug tool - runs the passes for a number of ticks and writes the
// velocity or a noise channel's field to a PNG for inspection.
//
// Usage: go run ./cmd/shaderdebug -field noise -channel 0 -ticks 120 -out debug.png
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"os"
	"runtime"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/flux/backend"
	"github.com/pthm-cable/flux/config"
	"github.com/pthm-cable/flux/renderer/flowview"
	"github.com/pthm-cable/flux/sim"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	backendName := flag.String("backend", backend.CPU, "Device backend: cpu or gl")
	field := flag.String("field", "velocity", "Field to export: velocity or noise")
	channel := flag.Int("channel", 0, "Noise channel index for -field noise")
	ticks := flag.Int("ticks", 60, "Ticks to run before export")
	speedScale := flag.Float64("speed-scale", 0, "Speed mapped to full brightness (0 = use config)")
	outPath := flag.String("out", "debug.png", "Output PNG path")
	flag.Parse()

	if err := run(*configPath, *backendName, *field, *channel, *ticks, *speedScale, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "shaderdebug: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, backendName, field string, channel, ticks int, speedScale float64, outPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Device.Backend = backendName
	if speedScale <= 0 {
		speedScale = cfg.Viewer.SpeedScale
	}

	dev, closeDevice, err := backend.Open(cfg.Device, true)
	if err != nil {
		return err
	}
	defer closeDevice()

	s, err := sim.New(sim.Options{Config: cfg, Device: dev})
	if err != nil {
		return err
	}
	defer s.Unload()

	for i := 0; i < ticks; i++ {
		if err := s.Step(); err != nil {
			return err
		}
	}

	w, h := s.Stepper().Size()
	data := make([]float32, w*h*2)
	switch field {
	case "velocity":
		err = s.ReadVelocity(data)
	case "noise":
		fb, ok := s.Injector().Field(channel)
		if !ok {
			return fmt.Errorf("no noise channel %d", channel)
		}
		err = fb.Read(data)
	default:
		return fmt.Errorf("unknown field %q", field)
	}
	if err != nil {
		return err
	}

	pixels := make([]color.RGBA, w*h)
	flowview.VelocityColors(flowview.Grid{Data: data, Width: w, Height: h}, float32(speedScale), pixels)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, c := range pixels {
		img.SetRGBA(i%w, i/w, c)
	}

	rlImg := rl.NewImageFromImage(img)
	defer rl.UnloadImage(rlImg)
	if !rl.ExportImage(*rlImg, outPath) {
		return fmt.Errorf("exporting %s", outPath)
	}
	fmt.Printf("%s after %d ticks rendered to: %s (%dx%d)\n", field, ticks, outPath, w, h)
	return nil
}
