package world

import (
	"cmp"
	"log/slog"
	"slices"

	"github.com/gogpu/voxelframe/internal/logging"
)

// Store is the spatial index of loaded sections.
//
// Store keeps neighbor links current as sections load and unload, tracks
// the section the camera is in and records edits. It is not safe for
// concurrent use; the render goroutine owns it.
type Store struct {
	sections map[SectionPos]*Section

	camera    SectionPos
	hasCamera bool

	// modified holds sections edited since the last TakeModified.
	modified map[SectionPos]struct{}
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		sections: make(map[SectionPos]*Section),
		modified: make(map[SectionPos]struct{}),
	}
}

// Load adds a section at pos with the given volume, or replaces the volume
// of an already loaded section. A nil volume means empty.
func (st *Store) Load(pos SectionPos, vol *Volume) *Section {
	if vol == nil {
		vol = NewVolume()
	}
	if s, ok := st.sections[pos]; ok {
		s.replaceVolume(vol)
		st.modified[pos] = struct{}{}
		return s
	}

	s := newSection(pos, vol)
	st.sections[pos] = s
	for _, d := range Directions {
		if n, ok := st.sections[pos.Step(d)]; ok {
			s.neighbors[d] = n
			n.neighbors[d.Opposite()] = s
		}
	}
	return s
}

// Unload removes the section at pos and reports whether it was loaded.
func (st *Store) Unload(pos SectionPos) bool {
	s, ok := st.sections[pos]
	if !ok {
		return false
	}
	for _, d := range Directions {
		if n := s.neighbors[d]; n != nil {
			n.neighbors[d.Opposite()] = nil
			s.neighbors[d] = nil
		}
	}
	s.loaded = false
	delete(st.sections, pos)
	delete(st.modified, pos)
	return true
}

// Section returns the section at pos, or nil.
func (st *Store) Section(pos SectionPos) *Section {
	return st.sections[pos]
}

// Neighbor returns the section next to pos in direction d, or nil.
func (st *Store) Neighbor(pos SectionPos, d Direction) *Section {
	return st.sections[pos.Step(d)]
}

// Len returns the number of loaded sections.
func (st *Store) Len() int { return len(st.sections) }

// Sections returns every loaded section ordered by Y, then Z, then X.
func (st *Store) Sections() []*Section {
	out := make([]*Section, 0, len(st.sections))
	for _, s := range st.sections {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *Section) int {
		return comparePos(a.pos, b.pos)
	})
	return out
}

func comparePos(a, b SectionPos) int {
	if c := cmp.Compare(a.Y, b.Y); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Z, b.Z); c != 0 {
		return c
	}
	return cmp.Compare(a.X, b.X)
}

// MarkDirty flags the section at pos as edited. It reports false when no
// section is loaded there.
func (st *Store) MarkDirty(pos SectionPos) bool {
	s, ok := st.sections[pos]
	if !ok {
		return false
	}
	s.MarkDirty()
	st.modified[pos] = struct{}{}
	return true
}

// BlockSection returns the section holding the block at world block
// coordinates x, y, z.
func BlockSection(x, y, z int) SectionPos {
	return SectionPos{
		X: int32(floorDivInt(x)),
		Y: int32(floorDivInt(y)),
		Z: int32(floorDivInt(z)),
	}
}

// SetBlock edits one block given in world block coordinates.
func (st *Store) SetBlock(x, y, z int, opaque bool) bool {
	pos := BlockSection(x, y, z)
	s, ok := st.sections[pos]
	if !ok {
		return false
	}
	s.SetBlock(x-int(pos.X)*SectionSize, y-int(pos.Y)*SectionSize, z-int(pos.Z)*SectionSize, opaque)
	st.modified[pos] = struct{}{}
	return true
}

func floorDivInt(v int) int {
	q := v / SectionSize
	if v%SectionSize != 0 && v < 0 {
		q--
	}
	return q
}

// TakeModified returns the sections edited since the previous call and
// clears the record.
func (st *Store) TakeModified() []SectionPos {
	if len(st.modified) == 0 {
		return nil
	}
	out := make([]SectionPos, 0, len(st.modified))
	for pos := range st.modified {
		out = append(out, pos)
	}
	clear(st.modified)
	slices.SortFunc(out, comparePos)
	return out
}

// SetCameraSection records the section the camera is in. It reports
// whether the camera moved to a different section.
func (st *Store) SetCameraSection(pos SectionPos) bool {
	if st.hasCamera && st.camera == pos {
		return false
	}
	if logging.Enabled(slog.LevelDebug) {
		logging.Logger().Debug("world: camera entered section",
			slog.String("section", pos.String()),
			slog.Bool("loaded", st.sections[pos] != nil))
	}
	st.camera = pos
	st.hasCamera = true
	return true
}

// CameraSection returns the camera's section, if one was recorded.
func (st *Store) CameraSection() (SectionPos, bool) {
	return st.camera, st.hasCamera
}
