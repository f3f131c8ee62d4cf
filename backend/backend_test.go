package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/flux/config"
	"github.com/pthm-cable/flux/gpu/cpu"
)

func TestOpenCPU(t *testing.T) {
	for _, name := range []string{"", CPU} {
		dev, closeFn, err := Open(config.DeviceConfig{Backend: name, Workers: 2}, true)
		require.NoError(t, err)
		_, ok := dev.(*cpu.Device)
		assert.True(t, ok, "backend %q opened %T", name, dev)
		closeFn()
	}
}

func TestOpenUnknown(t *testing.T) {
	_, _, err := Open(config.DeviceConfig{Backend: "vulkan"}, true)
	assert.ErrorContains(t, err, "vulkan")
}
