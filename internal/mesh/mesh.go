// Package mesh is the boundary to the section mesh baker.
//
// The baker turns a section's block snapshot into per-layer vertex data.
// This package does not bake geometry itself; it schedules bakes on a
// worker pool, caches their output, hands completed results back to the
// render goroutine and decides which sections are important enough to
// bake synchronously.
package mesh

import (
	"context"
	"fmt"

	"github.com/gogpu/voxelframe/internal/gpucore"
	"github.com/gogpu/voxelframe/world"
)

// Layer is a render layer of a section mesh.
type Layer uint8

const (
	Solid Layer = iota
	Cutout
	Translucent

	layerCount
)

// Layers lists every layer in draw order.
var Layers = [layerCount]Layer{Solid, Cutout, Translucent}

func (l Layer) String() string {
	switch l {
	case Solid:
		return "solid"
	case Cutout:
		return "cutout"
	case Translucent:
		return "translucent"
	}
	return fmt.Sprintf("Layer(%d)", uint8(l))
}

// LayerData is the geometry of one layer. Buffers are owned by the baker.
type LayerData struct {
	Vertex      gpucore.BufferID
	Index       gpucore.BufferID
	VertexCount uint32
	IndexCount  uint32
}

// Empty reports whether the layer draws nothing.
func (d LayerData) Empty() bool { return d.IndexCount == 0 }

// Mesh is a baked section.
type Mesh struct {
	Pos world.SectionPos

	// Version is the section content version the mesh was baked from.
	Version uint64

	// OpaqueFaces lists the section faces that are fully opaque, for
	// visibility pruning.
	OpaqueFaces world.FaceMask

	Layers [layerCount]LayerData

	// Quads is the number of faces the mesh draws.
	Quads int
}

// Empty reports whether no layer draws anything.
func (m *Mesh) Empty() bool {
	for _, l := range m.Layers {
		if !l.Empty() {
			return false
		}
	}
	return true
}

// HasTranslucent reports whether the mesh has translucent geometry that
// needs depth sorting.
func (m *Mesh) HasTranslucent() bool {
	return !m.Layers[Translucent].Empty()
}

// Baker bakes one section snapshot. Implementations are called from
// worker goroutines and must not touch the world.Store.
type Baker interface {
	Bake(ctx context.Context, pos world.SectionPos, vol *world.Volume) (*Mesh, error)
}

// BakerFunc adapts a function to Baker.
type BakerFunc func(ctx context.Context, pos world.SectionPos, vol *world.Volume) (*Mesh, error)

// Bake implements Baker.
func (f BakerFunc) Bake(ctx context.Context, pos world.SectionPos, vol *world.Volume) (*Mesh, error) {
	return f(ctx, pos, vol)
}

// OcclusionBaker is a reference Baker that derives the data visibility
// needs without producing GPU geometry: the opaque face mask and the
// number of exposed block faces, counted as solid-layer quads.
type OcclusionBaker struct{}

// Bake implements Baker.
func (OcclusionBaker) Bake(ctx context.Context, pos world.SectionPos, vol *world.Volume) (*Mesh, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := &Mesh{Pos: pos, OpaqueFaces: vol.OpaqueFaces()}
	if vol.Empty() {
		return m, nil
	}

	quads := 0
	const n = world.SectionSize
	for y := range n {
		for z := range n {
			for x := range n {
				if !vol.Opaque(x, y, z) {
					continue
				}
				for _, d := range world.Directions {
					o := d.Offset()
					nx, ny, nz := x+int(o[0]), y+int(o[1]), z+int(o[2])
					if nx < 0 || ny < 0 || nz < 0 || nx >= n || ny >= n || nz >= n || !vol.Opaque(nx, ny, nz) {
						quads++
					}
				}
			}
		}
	}
	m.Quads = quads
	m.Layers[Solid] = LayerData{VertexCount: uint32(quads * 4), IndexCount: uint32(quads * 6)}
	return m, nil
}
