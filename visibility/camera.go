package visibility

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/voxelframe/world"
)

// Projection defaults applied when a Camera field is zero.
const (
	DefaultFOV    = 70
	DefaultAspect = 16.0 / 9.0
	DefaultNear   = 0.05
	DefaultFar    = 1024
)

// Camera is the viewer for one frame. Angles are in degrees; yaw 0 looks
// toward -Z and positive pitch looks up.
type Camera struct {
	Position   mgl32.Vec3
	Yaw, Pitch float32

	FOV, Aspect, Near, Far float32

	// InsideSolid is set when the eye is inside an opaque block. Occlusion
	// pruning is skipped for such frames because every wall around the
	// camera would otherwise hide the whole world.
	InsideSolid bool
}

// Section returns the section containing the eye.
func (c Camera) Section() world.SectionPos {
	return world.SectionPosAt(c.Position)
}

// Forward returns the unit view direction.
func (c Camera) Forward() mgl32.Vec3 {
	yaw := float64(mgl32.DegToRad(c.Yaw))
	pitch := float64(mgl32.DegToRad(clampPitch(c.Pitch)))
	return mgl32.Vec3{
		float32(math.Cos(pitch) * math.Sin(yaw)),
		float32(math.Sin(pitch)),
		float32(-math.Cos(pitch) * math.Cos(yaw)),
	}
}

func clampPitch(p float32) float32 {
	return mgl32.Clamp(p, -89.9, 89.9)
}

// View returns the world-to-view matrix.
func (c Camera) View() mgl32.Mat4 {
	return mgl32.LookAtV(c.Position, c.Position.Add(c.Forward()), mgl32.Vec3{0, 1, 0})
}

// Projection returns a GL-convention perspective matrix.
func (c Camera) Projection() mgl32.Mat4 {
	fov, aspect, near, far := c.FOV, c.Aspect, c.Near, c.Far
	if fov <= 0 {
		fov = DefaultFOV
	}
	if aspect <= 0 {
		aspect = DefaultAspect
	}
	if near <= 0 {
		near = DefaultNear
	}
	if far <= near {
		far = DefaultFar
	}
	return mgl32.Perspective(mgl32.DegToRad(fov), aspect, near, far)
}

// ViewProjection returns Projection * View.
func (c Camera) ViewProjection() mgl32.Mat4 {
	return c.Projection().Mul4(c.View())
}

// Frustum returns the camera's view frustum.
func (c Camera) Frustum() *Frustum {
	return NewFrustum(c.ViewProjection())
}

// cameraCell quantizes the camera so small movements do not force a
// rebuild: 8 blocks of position, 2 degrees of rotation.
type cameraCell struct {
	x, y, z     int32
	yaw, pitch  int32
	insideSolid bool
}

const (
	positionCell = 8
	rotationCell = 2
)

func cellOf(c Camera) cameraCell {
	q := func(v, step float32) int32 {
		return int32(math.Floor(float64(v / step)))
	}
	return cameraCell{
		x:           q(c.Position.X(), positionCell),
		y:           q(c.Position.Y(), positionCell),
		z:           q(c.Position.Z(), positionCell),
		yaw:         q(c.Yaw, rotationCell),
		pitch:       q(c.Pitch, rotationCell),
		insideSolid: c.InsideSolid,
	}
}
