// Package backend opens the gpu.Device named in the config.
package backend

import (
	"fmt"
	"log/slog"

	"github.com/pthm-cable/flux/config"
	"github.com/pthm-cable/flux/gpu"
	"github.com/pthm-cable/flux/gpu/cpu"
	"github.com/pthm-cable/flux/gpu/opengl"
)

// Backend names.
const (
	CPU = "cpu"
	GL  = "gl"
)

// Open creates the device for cfg.Backend. With ownContext the gl backend
// creates a hidden window for its context; otherwise it draws with the
// context already current (the viewer's window). The returned close func
// releases the device and anything opened for it.
func Open(cfg config.DeviceConfig, ownContext bool) (gpu.Device, func(), error) {
	switch cfg.Backend {
	case "", CPU:
		dev := cpu.New(cpu.Options{Workers: cfg.Workers, Seed: cfg.Seed})
		slog.Info("device opened", "backend", CPU, "workers", cfg.Workers)
		return dev, dev.Release, nil

	case GL:
		var ctx *opengl.Context
		if ownContext {
			var err error
			if ctx, err = opengl.NewContext(); err != nil {
				return nil, nil, err
			}
		}
		dev, err := opengl.New()
		if err != nil {
			if ctx != nil {
				ctx.Close()
			}
			return nil, nil, err
		}
		slog.Info("device opened", "backend", GL, "own_context", ownContext)
		return dev, func() {
			dev.Release()
			if ctx != nil {
				ctx.Close()
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q (want %q or %q)", cfg.Backend, CPU, GL)
	}
}
