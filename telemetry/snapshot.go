package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pthm-cable/flux/noise"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// Snapshot holds the simulation state needed to resume a run.
type Snapshot struct {
	Version int `json:"version"`

	Tick    int32   `json:"tick"`
	SimTime float64 `json:"sim_time"`

	Width  int `json:"width"`
	Height int `json:"height"`

	// Interleaved (x, y) per cell, row-major from the bottom row
	Velocity []float32 `json:"velocity"`

	Channels []ChannelSnapshot `json:"channels"`
}

// ChannelSnapshot holds one noise channel's state and field.
type ChannelSnapshot struct {
	Name              string       `json:"name"`
	Params            noise.Params `json:"params"`
	Offset1           float32      `json:"offset_1"`
	Offset2           float32      `json:"offset_2"`
	BlendBeginTime    float32      `json:"blend_begin_time"`
	LastBlendProgress float32      `json:"last_blend_progress"`
	Field             []float32    `json:"field"`
}

// NewChannelSnapshot captures a channel's state and its noise field.
func NewChannelSnapshot(name string, state noise.ChannelState, field []float32) ChannelSnapshot {
	return ChannelSnapshot{
		Name:              name,
		Params:            state.Params,
		Offset1:           state.Offset1,
		Offset2:           state.Offset2,
		BlendBeginTime:    state.BlendBeginTime,
		LastBlendProgress: state.LastBlendProgress,
		Field:             field,
	}
}

// State converts the snapshot back into injector state.
func (c ChannelSnapshot) State() noise.ChannelState {
	return noise.ChannelState{
		Params:            c.Params,
		Offset1:           c.Offset1,
		Offset2:           c.Offset2,
		BlendBeginTime:    c.BlendBeginTime,
		LastBlendProgress: c.LastBlendProgress,
	}
}

// Validate checks the snapshot can be restored onto a width x height grid.
func (s *Snapshot) Validate(width, height int) error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("snapshot version %d, want %d", s.Version, SnapshotVersion)
	}
	if s.Width != width || s.Height != height {
		return fmt.Errorf("snapshot grid %dx%d, want %dx%d", s.Width, s.Height, width, height)
	}
	cells := width * height * 2
	if len(s.Velocity) != cells {
		return fmt.Errorf("snapshot velocity has %d floats, want %d", len(s.Velocity), cells)
	}
	for i, ch := range s.Channels {
		if len(ch.Field) != cells {
			return fmt.Errorf("snapshot channel %d field has %d floats, want %d", i, len(ch.Field), cells)
		}
	}
	return nil
}

// SaveSnapshot writes a snapshot to disk.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("snapshot_%d.json", snapshot.Tick))

	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snapshot, nil
}
