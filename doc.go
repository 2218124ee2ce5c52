// Package voxelframe renders a sectioned voxel world one frame at a time.
//
// # Overview
//
// The world is split into 16x16x16 sections held by a [world.Store]. Each
// frame, a [Renderer] decides which sections are visible, keeps their
// meshes compiled, re-sorts translucent geometry and composes the frame's
// GPU passes, streaming per-frame uniforms through fenced ring buffers.
//
// # Quick Start
//
//	adapter, err := native.NewOwned(native.BackendVulkan)
//	if err != nil {
//	    return err
//	}
//	defer adapter.Close()
//
//	store := world.NewStore()
//	if _, err := world.LoadRegion(store, "r.0.0.mca"); err != nil {
//	    return err
//	}
//
//	r, err := voxelframe.NewRenderer(adapter, store, config.Default(),
//	    voxelframe.WithDrawer(myDrawer))
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//
//	for running {
//	    stats, err := r.RenderFrame(ctx, camera)
//	    ...
//	}
//
// # Architecture
//
// The library is organized into:
//   - visibility: occlusion-aware flood fill over the section lattice
//   - internal/mesh: asynchronous and synchronous mesh compilation
//   - framegraph: per-frame pass graph with pooled render targets
//   - stream: fenced ring buffers and the per-frame uniform arena
//   - backend/native: the GPU adapter on gogpu/wgpu HAL
//   - config: HCL and YAML configuration
//
// # Frame Order
//
// RenderFrame updates visibility, applies finished compiles, schedules new
// ones, re-sorts translucency, then declares and executes the passes
// (clear, sky, terrain, optional outline, particles, clouds, translucent,
// optional transparency composite and debug). After execution it submits
// the frame and advances every ring exactly once, even when a pass failed.
//
// # Drawing
//
// The renderer does not own shaders or pipelines. Pass bodies call a
// [StageDrawer] with the stage's target, its camera uniform and the
// section draws it should issue. A drawer that also implements
// [StageAvailability] can turn optional stages off.
//
// # Logging
//
// voxelframe is silent by default. See [SetLogger].
package voxelframe
