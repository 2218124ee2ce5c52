package voxelframe

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"

	"github.com/gogpu/voxelframe/framegraph"
	"github.com/gogpu/voxelframe/internal/logging"
	"github.com/gogpu/voxelframe/internal/mesh"
	"github.com/gogpu/voxelframe/stream"
	"github.com/gogpu/voxelframe/visibility"
	"github.com/gogpu/voxelframe/world"
)

// frame is the state of one frame's composition. It lives for a single
// RenderFrame call.
type frame struct {
	r      *Renderer
	cam    visibility.Camera
	camBuf stream.Slice

	// drawn holds visible sections with a non-empty mesh, and transforms
	// their uniform slices once the terrain pass wrote them.
	drawn      []*world.Section
	meshes     []*mesh.Mesh
	transforms []stream.Slice
}

// available reports whether an optional stage can run this frame.
// Unavailable stages are reported once.
func (r *Renderer) available(s Stage) bool {
	a, ok := r.opts.drawer.(StageAvailability)
	if !ok || a.Available(s) {
		return true
	}
	if !r.skipped[s] {
		r.skipped[s] = true
		logging.Logger().Warn("voxelframe: optional stage unavailable, skipping",
			slog.String("stage", s.String()))
	}
	return false
}

// compose declares the frame's passes and executes them.
func (r *Renderer) compose(cam visibility.Camera, st *FrameStats) error {
	buf, err := r.cameraRing.Current()
	if err != nil {
		return err
	}
	if err := r.adapter.WriteBuffer(buf, 0, appendMat4(make([]byte, 0, mat4Size), cam.ViewProjection())); err != nil {
		return fmt.Errorf("camera uniform: %w", err)
	}

	f := &frame{r: r, cam: cam, camBuf: stream.Slice{Buffer: buf, Size: mat4Size}}
	for _, s := range r.all {
		if s.State() != world.Compiled {
			continue
		}
		if m := r.compiler.CompiledMesh(s); m != nil && !m.Empty() {
			f.drawn = append(f.drawn, s)
			f.meshes = append(f.meshes, m)
		}
	}
	st.Drawn = len(f.drawn)

	features := r.cfg.Features
	g := framegraph.New()
	main := g.Import("main", r.main)

	f.stage(g, StageClear, &main, nil, func(sc *StageContext) error {
		return r.adapter.ClearTarget(sc.Target.Color, sc.Target.Depth, sc.Target.Desc.ClearColor)
	})
	f.stage(g, StageSky, &main, nil, nil)
	f.stage(g, StageTerrain, &main, nil, f.terrain)

	if features.Outline && r.available(StageOutline) && r.available(StageOutlineComposite) {
		outline := g.Create("outline", framegraph.Descriptor{
			Width: r.main.Desc.Width, Height: r.main.Desc.Height,
		})
		f.stage(g, StageOutline, &outline, &main, nil)
		f.stage(g, StageOutlineComposite, &main, &outline, nil)
	}

	f.stage(g, StageParticles, &main, nil, nil)

	if features.Clouds && r.available(StageClouds) {
		f.stage(g, StageClouds, &main, nil, nil)
	}

	// Without the composite stage translucent layers draw straight into
	// the main target.
	if features.Transparency && r.available(StageTransparencyComposite) {
		translucent := g.Create("translucent", framegraph.Descriptor{
			Width: r.main.Desc.Width, Height: r.main.Desc.Height, HasDepth: true,
		})
		f.stage(g, StageTranslucent, &translucent, &main, f.translucent)
		f.stage(g, StageTransparencyComposite, &main, &translucent, nil)
	} else {
		f.stage(g, StageTranslucent, &main, nil, f.translucent)
	}

	if features.Debug && len(r.palette) > 0 && r.available(StageDebug) {
		f.stage(g, StageDebug, &main, nil, f.debug)
	}

	for _, p := range g.Passes() {
		st.Passes = append(st.Passes, p.Name())
	}
	return g.Execute(r.pool, r.opts.inspector)
}

// stage declares a pass that writes *target and optionally reads source.
// prepare fills the stage context before the drawer runs; it may be nil.
func (f *frame) stage(g *framegraph.Graph, s Stage, target, source *framegraph.Handle, prepare func(*StageContext) error) {
	b := g.AddPass(s.String())
	var src framegraph.Handle
	if source != nil {
		src = *source
		b.Reads(src)
	}
	b.ReadsAndWrites(target)
	dst := *target

	b.Execute(func(pc *framegraph.PassContext) error {
		sc := &StageContext{
			Stage:         s,
			Frame:         f.r.frame,
			Camera:        f.cam,
			CameraUniform: f.camBuf,
		}
		var err error
		if sc.Target, err = pc.Target(dst); err != nil {
			return err
		}
		if src.Valid() {
			if sc.Source, err = pc.Target(src); err != nil {
				return err
			}
		}
		if prepare != nil {
			if err := prepare(sc); err != nil {
				return err
			}
		}
		return f.r.opts.drawer.DrawStage(sc)
	})
}

// terrain writes one transform per drawn section in a single upload and
// lists the opaque layers.
func (f *frame) terrain(sc *StageContext) error {
	if len(f.drawn) == 0 {
		return nil
	}
	values := make([][]byte, len(f.drawn))
	buf := make([]byte, 0, len(f.drawn)*mat4Size)
	for i, s := range f.drawn {
		start := len(buf)
		buf = appendMat4(buf, sectionTransform(s.Pos()))
		values[i] = buf[start:]
	}
	written, err := f.r.arena.WriteAll(values)
	if err != nil {
		return err
	}
	f.transforms = written

	for i, s := range f.drawn {
		m := f.meshes[i]
		for _, l := range []mesh.Layer{mesh.Solid, mesh.Cutout} {
			if !m.Layers[l].Empty() {
				sc.Draws = append(sc.Draws, SectionDraw{Section: s, Mesh: m, Layer: l, Transform: written[i]})
			}
		}
	}
	return nil
}

// translucent lists translucent layers back to front.
func (f *frame) translucent(sc *StageContext) error {
	eye := f.cam.Position
	for i, s := range f.drawn {
		m := f.meshes[i]
		if !m.HasTranslucent() || i >= len(f.transforms) {
			continue
		}
		sc.Draws = append(sc.Draws, SectionDraw{Section: s, Mesh: m, Layer: mesh.Translucent, Transform: f.transforms[i]})
	}
	slices.SortStableFunc(sc.Draws, func(a, b SectionDraw) int {
		da := a.Section.Pos().Center().Sub(eye).LenSqr()
		db := b.Section.Pos().Center().Sub(eye).LenSqr()
		return cmp.Compare(db, da)
	})
	return nil
}

// debug tints every visible section, compiled or not, by its flood
// distance from the camera.
func (f *frame) debug(sc *StageContext) error {
	palette := f.r.palette
	var buf []byte
	for _, s := range f.r.all {
		step := 0
		if n := f.r.graph.Node(s.Pos()); n != nil {
			step = n.Step()
		}
		buf = appendMat4(buf[:0], sectionTransform(s.Pos()))
		slice, err := f.r.arena.Write(buf)
		if err != nil {
			return err
		}
		sc.Draws = append(sc.Draws, SectionDraw{
			Section:   s,
			Mesh:      f.r.compiler.CompiledMesh(s),
			Layer:     mesh.Solid,
			Transform: slice,
			Tint:      palette[step%len(palette)],
		})
	}
	return nil
}
