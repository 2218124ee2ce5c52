package visibility

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/voxelframe/world"
)

// Frustum is a view volume bounded by six planes.
type Frustum struct {
	// planes hold (a, b, c, d) with normals pointing inward.
	planes [6]mgl32.Vec4
}

// NewFrustum extracts the planes of a view-projection matrix
// (Gribb/Hartmann). The matrix must map depth to [-1, 1] as the mgl32
// projection helpers do.
func NewFrustum(viewProj mgl32.Mat4) *Frustum {
	row := func(i int) mgl32.Vec4 {
		return mgl32.Vec4{viewProj.At(i, 0), viewProj.At(i, 1), viewProj.At(i, 2), viewProj.At(i, 3)}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)

	f := &Frustum{planes: [6]mgl32.Vec4{
		r3.Add(r0), // left
		r3.Sub(r0), // right
		r3.Add(r1), // bottom
		r3.Sub(r1), // top
		r3.Add(r2), // near
		r3.Sub(r2), // far
	}}
	for i, p := range f.planes {
		if l := p.Vec3().Len(); l > 0 {
			f.planes[i] = p.Mul(1 / l)
		}
	}
	return f
}

// IntersectsBox reports whether the axis-aligned box touches the frustum.
// The test is conservative: boxes near a frustum corner may pass.
func (f *Frustum) IntersectsBox(lo, hi mgl32.Vec3) bool {
	for _, p := range f.planes {
		// Corner furthest along the plane normal.
		x, y, z := lo.X(), lo.Y(), lo.Z()
		if p.X() >= 0 {
			x = hi.X()
		}
		if p.Y() >= 0 {
			y = hi.Y()
		}
		if p.Z() >= 0 {
			z = hi.Z()
		}
		if p.X()*x+p.Y()*y+p.Z()*z+p.W() < 0 {
			return false
		}
	}
	return true
}

// ContainsSection reports whether any part of the section is inside.
func (f *Frustum) ContainsSection(pos world.SectionPos) bool {
	return f.IntersectsBox(pos.Min(), pos.Max())
}
