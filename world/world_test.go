package world

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestSectionPosAt(t *testing.T) {
	tests := []struct {
		p    mgl32.Vec3
		want SectionPos
	}{
		{mgl32.Vec3{0, 0, 0}, SectionPos{0, 0, 0}},
		{mgl32.Vec3{15.9, 16, 31}, SectionPos{0, 1, 1}},
		{mgl32.Vec3{-0.5, -16, -16.5}, SectionPos{-1, -1, -2}},
		{mgl32.Vec3{40, -1, 8}, SectionPos{2, -1, 0}},
	}
	for _, tt := range tests {
		if got := SectionPosAt(tt.p); got != tt.want {
			t.Errorf("SectionPosAt(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestDirectionOpposite(t *testing.T) {
	for _, d := range Directions {
		o := d.Opposite()
		if o.Opposite() != d {
			t.Errorf("%v: opposite of opposite is %v", d, o.Opposite())
		}
		a, b := d.Offset(), o.Offset()
		for i := range a {
			if a[i] != -b[i] {
				t.Errorf("%v and %v offsets are not opposite: %v %v", d, o, a, b)
			}
		}
	}
}

func TestDistance(t *testing.T) {
	a := SectionPos{0, 0, 0}
	b := SectionPos{3, -7, -2}
	if got := a.HorizontalDistance(b); got != 3 {
		t.Errorf("HorizontalDistance = %d, want 3", got)
	}
	if got := a.Distance(b); got != 7 {
		t.Errorf("Distance = %d, want 7", got)
	}
}

func TestVolumeFaces(t *testing.T) {
	v := NewVolume()
	if !v.Empty() || v.OpaqueFaces() != 0 {
		t.Fatal("new volume should be empty with no opaque faces")
	}

	s := SolidVolume()
	if s.Count() != blocksPerSection {
		t.Errorf("solid Count = %d, want %d", s.Count(), blocksPerSection)
	}
	if s.OpaqueFaces() != AllFaces {
		t.Errorf("solid faces = %06b, want all", s.OpaqueFaces())
	}

	// Fill the bottom layer only.
	for x := range SectionSize {
		for z := range SectionSize {
			v.Set(x, 0, z, true)
		}
	}
	want := FaceMask(0).With(Down)
	if got := v.OpaqueFaces(); got != want {
		t.Errorf("floor faces = %06b, want %06b", got, want)
	}

	// One hole opens the face again.
	v.Set(3, 0, 9, false)
	if v.FaceOpaque(Down) {
		t.Error("floor with a hole reported opaque")
	}
}

func TestVolumeCloneIndependent(t *testing.T) {
	v := NewVolume()
	c := v.Clone()
	c.Set(1, 2, 3, true)
	if v.Opaque(1, 2, 3) {
		t.Error("clone shares storage with original")
	}
	if !c.Opaque(1, 2, 3) || c.Count() != 1 {
		t.Error("clone lost its write")
	}
	if v.Fingerprint() == c.Fingerprint() {
		t.Error("different volumes share a fingerprint")
	}
	if v.Fingerprint() != NewVolume().Fingerprint() {
		t.Error("equal volumes have different fingerprints")
	}
}

func TestStoreNeighborLinks(t *testing.T) {
	st := NewStore()
	a := st.Load(SectionPos{0, 0, 0}, nil)
	b := st.Load(SectionPos{1, 0, 0}, nil)
	c := st.Load(SectionPos{0, 1, 0}, nil)

	if a.Neighbor(East) != b || b.Neighbor(West) != a {
		t.Error("east/west link missing")
	}
	if a.Neighbor(Up) != c || c.Neighbor(Down) != a {
		t.Error("up/down link missing")
	}
	if st.Neighbor(a.Pos(), North) != nil {
		t.Error("unexpected north neighbor")
	}

	if !st.Unload(b.Pos()) {
		t.Fatal("Unload reported missing section")
	}
	if a.Neighbor(East) != nil {
		t.Error("link to unloaded section kept")
	}
	if b.Loaded() {
		t.Error("unloaded section still reports Loaded")
	}
	if st.Unload(b.Pos()) {
		t.Error("second Unload succeeded")
	}
	if st.Len() != 2 {
		t.Errorf("Len = %d, want 2", st.Len())
	}
}

func TestStoreSectionsOrdered(t *testing.T) {
	st := NewStore()
	st.Load(SectionPos{1, 1, 0}, nil)
	st.Load(SectionPos{0, 0, 1}, nil)
	st.Load(SectionPos{1, 0, 0}, nil)
	st.Load(SectionPos{0, 0, 0}, nil)

	want := []SectionPos{{0, 0, 0}, {1, 0, 0}, {0, 0, 1}, {1, 1, 0}}
	got := st.Sections()
	for i, s := range got {
		if s.Pos() != want[i] {
			t.Errorf("Sections()[%d] = %v, want %v", i, s.Pos(), want[i])
		}
	}
}

func TestSectionCompileLifecycle(t *testing.T) {
	st := NewStore()
	s := st.Load(SectionPos{}, SolidVolume())

	if !s.NeedsCompile() {
		t.Fatal("new section should need compiling")
	}
	if _, known := s.OpaqueFaces(); known {
		t.Fatal("faces known before compile")
	}

	s.BeginCompile()
	if s.State() != Compiling {
		t.Fatalf("state = %v, want compiling", s.State())
	}
	_, version := s.Volume()
	if !s.FinishCompile(AllFaces, version) {
		t.Fatal("FinishCompile with current version reported stale")
	}
	if faces, known := s.OpaqueFaces(); !known || faces != AllFaces {
		t.Errorf("OpaqueFaces = %06b, %v", faces, known)
	}
	if s.NeedsCompile() {
		t.Error("clean compiled section needs compile")
	}

	st.MarkDirty(s.Pos())
	if _, known := s.OpaqueFaces(); known {
		t.Error("faces known on a dirty section")
	}
	if !s.NeedsCompile() {
		t.Error("dirty section does not need compile")
	}
}

func TestSectionStaleCompileStaysDirty(t *testing.T) {
	st := NewStore()
	s := st.Load(SectionPos{}, nil)
	s.BeginCompile()
	vol, version := s.Volume()

	// Edit lands while the bake runs.
	s.SetBlock(0, 0, 0, true)
	if vol.Opaque(0, 0, 0) {
		t.Fatal("edit mutated the snapshot held by the bake")
	}

	if s.FinishCompile(0, version) {
		t.Error("stale compile reported current")
	}
	if s.State() != Compiled || !s.Dirty() {
		t.Errorf("state = %v dirty = %v, want compiled and dirty", s.State(), s.Dirty())
	}
}

func TestStoreSetBlockAndModified(t *testing.T) {
	st := NewStore()
	st.Load(SectionPos{-1, 0, 0}, nil)
	st.Load(SectionPos{0, 0, 0}, nil)

	if !st.SetBlock(-1, 5, 3, true) {
		t.Fatal("SetBlock in loaded section failed")
	}
	if st.SetBlock(0, 100, 0, true) {
		t.Error("SetBlock in unloaded section succeeded")
	}
	if !st.Section(SectionPos{-1, 0, 0}).volume.Opaque(15, 5, 3) {
		t.Error("block landed in the wrong cell")
	}

	mod := st.TakeModified()
	if len(mod) != 1 || mod[0] != (SectionPos{-1, 0, 0}) {
		t.Errorf("TakeModified = %v", mod)
	}
	if st.TakeModified() != nil {
		t.Error("modified set not cleared")
	}
}

func TestStoreCameraSection(t *testing.T) {
	st := NewStore()
	if _, ok := st.CameraSection(); ok {
		t.Error("camera section set on a new store")
	}
	if !st.SetCameraSection(SectionPos{1, 2, 3}) {
		t.Error("first SetCameraSection reported no change")
	}
	if st.SetCameraSection(SectionPos{1, 2, 3}) {
		t.Error("same section reported as a change")
	}
	if pos, _ := st.CameraSection(); pos != (SectionPos{1, 2, 3}) {
		t.Errorf("CameraSection = %v", pos)
	}
}
