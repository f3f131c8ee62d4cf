// Command glbench times the solver and noise passes on a chosen backend
// without opening a visible window.
//
// Usage: go run ./cmd/glbench -backend gl -ticks 600
package main

import (
	"flag"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/pthm-cable/flux/backend"
	"github.com/pthm-cable/flux/config"
	"github.com/pthm-cable/flux/sim"
)

func init() {
	// GL calls must stay on the thread the context was made current on.
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	backendName := flag.String("backend", backend.GL, "Device backend: cpu or gl")
	ticks := flag.Int("ticks", 600, "Ticks to run")
	width := flag.Int("width", 0, "Grid width override (0 = use config)")
	height := flag.Int("height", 0, "Grid height override (0 = use config)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg.Device.Backend = *backendName
	if *width > 0 {
		cfg.Fluid.Width = *width
	}
	if *height > 0 {
		cfg.Fluid.Height = *height
	}
	if err := cfg.Refresh(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	dev, closeDevice, err := backend.Open(cfg.Device, true)
	if err != nil {
		slog.Error("failed to open device", "error", err)
		os.Exit(1)
	}
	defer closeDevice()

	s, err := sim.New(sim.Options{Config: cfg, Device: dev})
	if err != nil {
		slog.Error("failed to create simulation", "error", err)
		os.Exit(1)
	}
	defer s.Unload()

	start := time.Now()
	for i := 0; i < *ticks; i++ {
		if err := s.Step(); err != nil {
			slog.Error("tick failed", "error", err)
			os.Exit(1)
		}
	}
	elapsed := time.Since(start)

	slog.Info("benchmark complete",
		"backend", cfg.Device.Backend,
		"grid_w", cfg.Fluid.Width,
		"grid_h", cfg.Fluid.Height,
		"ticks", *ticks,
		"elapsed", elapsed.String(),
		"ticks_per_sec", float64(*ticks)/elapsed.Seconds(),
	)
	s.Perf().Stats().LogStats()
}
