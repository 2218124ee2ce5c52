package voxelframe

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/voxelframe/framegraph"
	"github.com/gogpu/voxelframe/internal/mesh"
	"github.com/gogpu/voxelframe/stream"
	"github.com/gogpu/voxelframe/visibility"
	"github.com/gogpu/voxelframe/world"
)

// Stage is one step of the fixed frame pipeline.
type Stage uint8

const (
	StageClear Stage = iota
	StageSky
	StageTerrain
	StageOutline
	StageOutlineComposite
	StageParticles
	StageClouds
	StageTranslucent
	StageTransparencyComposite
	StageDebug

	stageCount
)

var stageNames = [stageCount]string{
	StageClear:                 "clear",
	StageSky:                   "sky",
	StageTerrain:               "terrain",
	StageOutline:               "outline",
	StageOutlineComposite:      "outline_composite",
	StageParticles:             "particles",
	StageClouds:                "clouds",
	StageTranslucent:           "translucent",
	StageTransparencyComposite: "transparency_composite",
	StageDebug:                 "debug",
}

// String returns the pass name of the stage.
func (s Stage) String() string {
	if s < stageCount {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

// Optional reports whether the stage may be skipped when its drawer is
// unavailable. Skipping an optional stage degrades the frame instead of
// failing it.
func (s Stage) Optional() bool {
	switch s {
	case StageOutline, StageOutlineComposite, StageClouds,
		StageTransparencyComposite, StageDebug:
		return true
	}
	return false
}

// SectionDraw is one section layer a stage draws.
type SectionDraw struct {
	Section *world.Section
	Mesh    *mesh.Mesh
	Layer   mesh.Layer

	// Transform is the section's model matrix in the uniform arena.
	Transform stream.Slice

	// Tint is set by the debug stage.
	Tint gputypes.Color
}

// StageContext is what a stage body gets to draw with.
type StageContext struct {
	Stage  Stage
	Frame  uint64
	Camera visibility.Camera

	// Target is the physical target the stage renders into. Source is
	// the target it samples, for composite stages.
	Target *framegraph.Target
	Source *framegraph.Target

	// CameraUniform holds the view-projection matrix for this frame.
	CameraUniform stream.Slice

	// Draws lists section layers for terrain, translucent and debug
	// stages, in draw order.
	Draws []SectionDraw
}

// StageDrawer records the GPU work of stage bodies. The renderer owns
// ordering, targets and uniforms; the drawer owns pipelines.
type StageDrawer interface {
	DrawStage(sc *StageContext) error
}

// StageDrawerFunc adapts a function to StageDrawer.
type StageDrawerFunc func(sc *StageContext) error

// DrawStage implements StageDrawer.
func (f StageDrawerFunc) DrawStage(sc *StageContext) error { return f(sc) }

// StageAvailability is implemented by drawers that cannot serve every
// stage, for example when an optional post-processing pipeline failed to
// load. Unavailable optional stages are left out of the frame.
type StageAvailability interface {
	Available(s Stage) bool
}

// nopDrawer draws nothing.
type nopDrawer struct{}

func (nopDrawer) DrawStage(*StageContext) error { return nil }
