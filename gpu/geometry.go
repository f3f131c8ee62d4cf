package gpu

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PositionAttribute is the vertex attribute every pass program declares.
const PositionAttribute = "position"

// PlaneVertices is a full-grid quad in clip space, three floats per vertex.
var PlaneVertices = []float32{
	-1, -1, 0,
	1, -1, 0,
	1, 1, 0,
	-1, 1, 0,
}

// PlaneIndices splits the quad into two triangles.
var PlaneIndices = []uint16{0, 1, 2, 0, 2, 3}

// Geometry holds the shared quad uploaded once per device.
type Geometry struct {
	device   Device
	Vertices Buffer
	Indices  Buffer
	Count    int
}

// NewPlane uploads the full-grid quad.
func NewPlane(dev Device) (*Geometry, error) {
	vertices, err := dev.CreateBuffer(VertexBuffer, Float32Bytes(PlaneVertices))
	if err != nil {
		return nil, fmt.Errorf("creating plane vertices: %w", err)
	}
	indexData := make([]byte, 2*len(PlaneIndices))
	for i, idx := range PlaneIndices {
		binary.LittleEndian.PutUint16(indexData[2*i:], idx)
	}
	indices, err := dev.CreateBuffer(IndexBuffer, indexData)
	if err != nil {
		dev.DeleteBuffer(vertices)
		return nil, fmt.Errorf("creating plane indices: %w", err)
	}
	return &Geometry{
		device:   dev,
		Vertices: vertices,
		Indices:  indices,
		Count:    len(PlaneIndices),
	}, nil
}

// Release deletes both buffers.
func (g *Geometry) Release() {
	if g.Vertices != nil {
		g.device.DeleteBuffer(g.Vertices)
		g.Vertices = nil
	}
	if g.Indices != nil {
		g.device.DeleteBuffer(g.Indices)
		g.Indices = nil
	}
}

// Float32Bytes encodes floats as little-endian bytes, the layout both vertex
// and uniform buffers expect.
func Float32Bytes(values []float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}
