package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/flux/backend"
	"github.com/pthm-cable/flux/config"
	"github.com/pthm-cable/flux/sim"
	"github.com/pthm-cable/flux/stream"
	"github.com/pthm-cable/flux/telemetry"
	"github.com/pthm-cable/flux/viewer"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	headless := flag.Bool("headless", false, "Run without graphics")
	logStats := flag.Bool("log-stats", false, "Output stats via slog")
	statsWindow := flag.Float64("stats-window", 0, "Stats window size in seconds (0 = use config)")
	snapshotDir := flag.String("snapshot-dir", "", "Directory for snapshot files")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	restorePath := flag.String("restore", "", "Snapshot file to resume from")
	maxTicks := flag.Int("max-ticks", 0, "Stop after N ticks (0 = unlimited)")
	stepsPerUpdate := flag.Int("steps-per-update", 1, "Simulation ticks per update call (higher = faster headless runs)")
	backendName := flag.String("backend", "", "Device backend: cpu or gl (empty = use config)")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	if *statsWindow > 0 {
		cfg.Telemetry.StatsWindow = *statsWindow
	}
	if *backendName != "" {
		cfg.Device.Backend = *backendName
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var hub *stream.Hub
	if cfg.Stream.Enabled {
		hub = stream.NewHub(64)
		go func() {
			if err := hub.ListenAndServe(ctx, cfg.Stream.Addr, cfg.Stream.Path); err != nil {
				slog.Error("stream server stopped", "error", err)
			}
		}()
		slog.Info("streaming stats", "addr", cfg.Stream.Addr, "path", cfg.Stream.Path)
	}

	opts := sim.Options{
		Config:         cfg,
		LogStats:       *logStats,
		SnapshotDir:    *snapshotDir,
		OutputDir:      *outputDir,
		StepsPerUpdate: *stepsPerUpdate,
		Hub:            hub,
	}

	var err error
	if *headless {
		err = runHeadless(ctx, opts, *restorePath, *maxTicks)
	} else {
		err = runWindowed(opts, *restorePath, *maxTicks)
	}
	if err != nil {
		slog.Error("simulation failed", "error", err)
		os.Exit(1)
	}
}

// newSim creates the run and resumes it from restorePath when set.
func newSim(opts sim.Options, restorePath string) (*sim.Sim, error) {
	s, err := sim.New(opts)
	if err != nil {
		return nil, err
	}
	if restorePath == "" {
		return s, nil
	}
	snapshot, err := telemetry.LoadSnapshot(restorePath)
	if err == nil {
		err = s.Restore(snapshot)
	}
	if err != nil {
		s.Unload()
		return nil, err
	}
	return s, nil
}

func runHeadless(ctx context.Context, opts sim.Options, restorePath string, maxTicks int) error {
	dev, closeDevice, err := backend.Open(opts.Config.Device, true)
	if err != nil {
		return err
	}
	defer closeDevice()
	opts.Device = dev

	s, err := newSim(opts, restorePath)
	if err != nil {
		return err
	}
	defer s.Unload()

	slog.Info("starting headless simulation",
		"backend", opts.Config.Device.Backend,
		"stats_window", opts.Config.Telemetry.StatsWindow,
		"max_ticks", maxTicks,
		"steps_per_update", opts.StepsPerUpdate,
	)
	return s.Run(ctx, maxTicks)
}

func runWindowed(opts sim.Options, restorePath string, maxTicks int) error {
	cfg := opts.Config
	rl.SetConfigFlags(rl.FlagWindowResizable)
	rl.InitWindow(int32(cfg.Screen.Width), int32(cfg.Screen.Height), "Flux")
	defer rl.CloseWindow()
	rl.SetTargetFPS(int32(cfg.Screen.TargetFPS))

	// The gl backend shares the window's context.
	dev, closeDevice, err := backend.Open(cfg.Device, false)
	if err != nil {
		return err
	}
	defer closeDevice()
	opts.Device = dev

	s, err := newSim(opts, restorePath)
	if err != nil {
		return err
	}
	defer s.Unload()

	v := viewer.New(s, cfg.Device.Backend)
	defer v.Unload()

	for !rl.WindowShouldClose() {
		if err := v.Update(); err != nil {
			return err
		}
		v.Draw()

		if maxTicks > 0 && int(s.Tick()) >= maxTicks {
			break
		}
	}
	return nil
}
