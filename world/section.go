// Package world holds the section lattice the renderer draws: sections,
// their block occupancy and the spatial index linking neighbors.
//
// Everything in this package is owned by the render goroutine except
// Volume values, which are immutable once attached to a section and may be
// read by bake workers.
package world

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// SectionSize is the edge length of a section in blocks.
const SectionSize = 16

// SectionPos identifies a section on the lattice.
type SectionPos struct {
	X, Y, Z int32
}

// SectionPosAt returns the section containing the world-space point p.
func SectionPosAt(p mgl32.Vec3) SectionPos {
	return SectionPos{
		X: floorDiv(p.X()),
		Y: floorDiv(p.Y()),
		Z: floorDiv(p.Z()),
	}
}

func floorDiv(v float32) int32 {
	return int32(math.Floor(float64(v) / SectionSize))
}

// Step returns the neighboring position in direction d.
func (p SectionPos) Step(d Direction) SectionPos {
	o := d.Offset()
	return SectionPos{p.X + o[0], p.Y + o[1], p.Z + o[2]}
}

// Min returns the world-space corner with the smallest coordinates.
func (p SectionPos) Min() mgl32.Vec3 {
	return mgl32.Vec3{float32(p.X * SectionSize), float32(p.Y * SectionSize), float32(p.Z * SectionSize)}
}

// Max returns the world-space corner with the largest coordinates.
func (p SectionPos) Max() mgl32.Vec3 {
	return p.Min().Add(mgl32.Vec3{SectionSize, SectionSize, SectionSize})
}

// Center returns the world-space center of the section.
func (p SectionPos) Center() mgl32.Vec3 {
	return p.Min().Add(mgl32.Vec3{SectionSize / 2, SectionSize / 2, SectionSize / 2})
}

// HorizontalDistance returns the Chebyshev distance between p and q in
// the X/Z plane.
func (p SectionPos) HorizontalDistance(q SectionPos) int32 {
	return max(abs32(p.X-q.X), abs32(p.Z-q.Z))
}

// Distance returns the Chebyshev distance between p and q.
func (p SectionPos) Distance(q SectionPos) int32 {
	return max(p.HorizontalDistance(q), abs32(p.Y-q.Y))
}

func (p SectionPos) String() string {
	return fmt.Sprintf("[%d %d %d]", p.X, p.Y, p.Z)
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// Direction is one of the six axis directions between neighboring sections.
type Direction uint8

const (
	Down Direction = iota
	Up
	North
	South
	West
	East
)

// Directions lists every direction in index order.
var Directions = [6]Direction{Down, Up, North, South, West, East}

var directionOffsets = [6][3]int32{
	Down:  {0, -1, 0},
	Up:    {0, 1, 0},
	North: {0, 0, -1},
	South: {0, 0, 1},
	West:  {-1, 0, 0},
	East:  {1, 0, 0},
}

// Offset returns the lattice offset of one step in d.
func (d Direction) Offset() [3]int32 { return directionOffsets[d] }

// Opposite returns the direction pointing the other way.
func (d Direction) Opposite() Direction { return d ^ 1 }

// Bit returns the FaceMask bit for d.
func (d Direction) Bit() FaceMask { return 1 << d }

func (d Direction) String() string {
	switch d {
	case Down:
		return "down"
	case Up:
		return "up"
	case North:
		return "north"
	case South:
		return "south"
	case West:
		return "west"
	case East:
		return "east"
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

// FaceMask is a set of directions, one bit per face.
type FaceMask uint8

// AllFaces has every direction set.
const AllFaces FaceMask = 1<<6 - 1

// Has reports whether d is in the mask.
func (m FaceMask) Has(d Direction) bool { return m&d.Bit() != 0 }

// With returns m with d added.
func (m FaceMask) With(d Direction) FaceMask { return m | d.Bit() }

// MeshState is the compile state of a section's mesh.
type MeshState uint8

const (
	Uncompiled MeshState = iota
	Compiling
	Compiled
)

func (s MeshState) String() string {
	switch s {
	case Uncompiled:
		return "uncompiled"
	case Compiling:
		return "compiling"
	case Compiled:
		return "compiled"
	}
	return fmt.Sprintf("MeshState(%d)", uint8(s))
}

// Section is one cubic partition of the world.
//
// A section's opaque faces are known only while it is compiled and clean.
// Edits replace the volume with a new snapshot and bump the version, so a
// bake started from an older snapshot can be told apart when it finishes.
type Section struct {
	pos       SectionPos
	state     MeshState
	dirty     bool
	neighbors [6]*Section

	volume  *Volume
	version uint64

	faces  FaceMask
	loaded bool
}

func newSection(pos SectionPos, vol *Volume) *Section {
	if vol == nil {
		vol = NewVolume()
	}
	return &Section{pos: pos, volume: vol, version: 1, loaded: true}
}

// Pos returns the section's lattice position.
func (s *Section) Pos() SectionPos { return s.pos }

// State returns the mesh state.
func (s *Section) State() MeshState { return s.state }

// Dirty reports whether the content changed since the mesh was compiled.
func (s *Section) Dirty() bool { return s.dirty }

// Loaded reports whether the section is still part of its store.
func (s *Section) Loaded() bool { return s.loaded }

// Neighbor returns the loaded neighbor in direction d, or nil.
func (s *Section) Neighbor(d Direction) *Section { return s.neighbors[d] }

// Volume returns the current block snapshot and its version.
func (s *Section) Volume() (*Volume, uint64) { return s.volume, s.version }

// Version returns the content version.
func (s *Section) Version() uint64 { return s.version }

// NeedsCompile reports whether the section has no mesh or a stale one.
func (s *Section) NeedsCompile() bool {
	return s.state == Uncompiled || (s.state == Compiled && s.dirty)
}

// OpaqueFaces returns the faces that are fully opaque and whether that
// information is current.
func (s *Section) OpaqueFaces() (FaceMask, bool) {
	if s.state != Compiled || s.dirty {
		return 0, false
	}
	return s.faces, true
}

// SetBlock changes one block's opacity. The volume is copied, so bakes
// holding the previous snapshot are unaffected.
func (s *Section) SetBlock(x, y, z int, opaque bool) {
	if s.volume.Opaque(x, y, z) == opaque {
		return
	}
	v := s.volume.Clone()
	v.Set(x, y, z, opaque)
	s.replaceVolume(v)
}

func (s *Section) replaceVolume(v *Volume) {
	s.volume = v
	s.version++
	s.MarkDirty()
}

// MarkDirty flags the compiled mesh as stale.
func (s *Section) MarkDirty() {
	if s.state != Uncompiled {
		s.dirty = true
	}
}

// BeginCompile moves the section into the compiling state. A compiled
// section keeps drawing its old mesh while it recompiles, so only
// uncompiled sections change state.
func (s *Section) BeginCompile() {
	if s.state == Uncompiled {
		s.state = Compiling
	}
}

// CancelCompile returns a section that failed to compile to its previous
// state.
func (s *Section) CancelCompile() {
	if s.state == Compiling {
		s.state = Uncompiled
	}
}

// FinishCompile records a compiled mesh built from the given content
// version. It reports whether the mesh matches the current content; when
// it does not, the section stays dirty.
func (s *Section) FinishCompile(faces FaceMask, version uint64) bool {
	s.state = Compiled
	s.faces = faces
	if version == s.version {
		s.dirty = false
		return true
	}
	s.dirty = true
	return false
}
