package voxelframe

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gputypes"
	"github.com/muesli/gamut"

	"github.com/gogpu/voxelframe/config"
	"github.com/gogpu/voxelframe/framegraph"
	"github.com/gogpu/voxelframe/internal/gpucore"
	"github.com/gogpu/voxelframe/internal/logging"
	"github.com/gogpu/voxelframe/internal/mesh"
	"github.com/gogpu/voxelframe/stream"
	"github.com/gogpu/voxelframe/visibility"
	"github.com/gogpu/voxelframe/world"
)

var (
	// ErrClosed is returned by RenderFrame after Close.
	ErrClosed = errors.New("voxelframe: renderer closed")

	// ErrNilStore is returned by NewRenderer without a world store.
	ErrNilStore = errors.New("voxelframe: nil world store")
)

// DebugPaletteSize is the number of colors the debug stage cycles through.
const DebugPaletteSize = 8

const (
	mat4Size       = 64
	cameraRingSize = 256
)

// SkyColor is the color the main target is cleared to.
var SkyColor = gputypes.Color{R: 0.47, G: 0.65, B: 1, A: 1}

// TranslucencySorter re-orders the translucent geometry of a section for
// the given eye position.
type TranslucencySorter interface {
	Resort(s *world.Section, m *mesh.Mesh, eye mgl32.Vec3)
}

// Option configures a Renderer.
type Option func(*options)

type options struct {
	baker     mesh.Baker
	drawer    StageDrawer
	inspector framegraph.Inspector
	occluder  visibility.Occluder
	sorter    TranslucencySorter
}

// WithBaker sets the mesh baker. The default is mesh.OcclusionBaker.
func WithBaker(b mesh.Baker) Option {
	return func(o *options) { o.baker = b }
}

// WithDrawer sets the stage drawer. The default draws nothing.
func WithDrawer(d StageDrawer) Option {
	return func(o *options) { o.drawer = d }
}

// WithInspector observes pass execution every frame.
func WithInspector(i framegraph.Inspector) Option {
	return func(o *options) { o.inspector = i }
}

// WithOccluder replaces the face opacity predicate of the visibility flood.
func WithOccluder(occ visibility.Occluder) Option {
	return func(o *options) { o.occluder = occ }
}

// WithSorter sets the translucency sorter.
func WithSorter(s TranslucencySorter) Option {
	return func(o *options) { o.sorter = s }
}

// FrameStats describes one rendered frame.
type FrameStats struct {
	Frame uint64

	// Visible and Near are the sizes of the visible sets.
	Visible int
	Near    int

	// Drawn is the number of visible sections with a non-empty mesh.
	Drawn int

	// Compiled counts meshes applied this frame, synchronous or not.
	Compiled     int
	SyncCompiles int
	Scheduled    int

	Resorted int

	ArenaBlocks   int
	ArenaCapacity int

	Passes     []string
	Visibility visibility.Stats
	Duration   time.Duration
}

// Renderer drives one frame at a time: visibility, mesh compilation,
// translucency re-sorting, pass composition and GPU streaming.
//
// Renderer is owned by the render goroutine and is not safe for
// concurrent use.
type Renderer struct {
	adapter gpucore.GPUAdapter
	store   *world.Store
	cfg     *config.Config
	opts    options

	graph    *visibility.Graph
	compiler *mesh.Compiler
	policy   mesh.Policy
	resort   *ResortScheduler

	pool       *framegraph.TargetPool
	arena      *stream.UniformArena
	cameraRing *stream.RingBuffer
	main       *framegraph.Target
	palette    []gputypes.Color

	// skipped records optional stages already reported unavailable.
	skipped map[Stage]bool

	// Reused per-frame storage.
	all, near  []*world.Section
	candidates []*world.Section
	modified   map[world.SectionPos]struct{}

	frame  uint64
	closed bool
}

// NewRenderer creates a renderer drawing store through adapter. A nil cfg
// selects config.Default.
func NewRenderer(adapter gpucore.GPUAdapter, store *world.Store, cfg *config.Config, opts ...Option) (_ *Renderer, err error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{baker: mesh.OcclusionBaker{}, drawer: nopDrawer{}}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Renderer{
		adapter: adapter,
		store:   store,
		cfg:     cfg,
		opts:    o,
		graph: visibility.NewGraph(store, visibility.Options{
			RenderDistance: int32(cfg.RenderDistance),
			NearRadius:     int32(cfg.NearRadius),
			SmartCull:      cfg.SmartCull,
			Occluder:       o.occluder,
		}),
		policy:   mesh.Policy{Budget: cfg.SyncCompileBudget, Radius: int32(cfg.SyncCompileRadius)},
		resort:   NewResortScheduler(cfg.ResortMin, cfg.ResortDivisor),
		pool:     framegraph.NewTargetPool(adapter, cfg.PoolMaxIdleFrames),
		skipped:  make(map[Stage]bool),
		modified: make(map[world.SectionPos]struct{}),
	}
	defer func() {
		if err != nil {
			r.release()
		}
	}()

	if r.arena, err = stream.NewUniformArena(adapter, "section_transforms", mat4Size, cfg.UniformCapacity); err != nil {
		return nil, fmt.Errorf("voxelframe: %w", err)
	}
	if r.cameraRing, err = stream.NewRingBuffer(adapter, "camera", cameraRingSize,
		gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst, cfg.RingDepth); err != nil {
		return nil, fmt.Errorf("voxelframe: %w", err)
	}
	r.main, err = r.pool.Acquire(framegraph.Descriptor{
		Width:      uint32(cfg.Target.Width),
		Height:     uint32(cfg.Target.Height),
		HasDepth:   true,
		ClearColor: SkyColor,
	})
	if err != nil {
		return nil, fmt.Errorf("voxelframe: main target: %w", err)
	}
	if cfg.Features.Debug {
		if r.palette, err = debugPalette(DebugPaletteSize); err != nil {
			return nil, err
		}
	}

	r.compiler = mesh.NewCompiler(o.baker, mesh.Options{
		Workers:   cfg.MeshWorkers,
		CacheSize: cfg.MeshCacheSize,
	})
	return r, nil
}

func debugPalette(n int) ([]gputypes.Color, error) {
	colors, err := gamut.Generate(n, gamut.PastelGenerator{})
	if err != nil {
		return nil, fmt.Errorf("voxelframe: debug palette: %w", err)
	}
	out := make([]gputypes.Color, len(colors))
	for i, c := range colors {
		out[i] = toGPUColor(c)
	}
	return out, nil
}

func toGPUColor(c color.Color) gputypes.Color {
	r, g, b, a := c.RGBA()
	return gputypes.Color{
		R: float64(r) / 0xffff,
		G: float64(g) / 0xffff,
		B: float64(b) / 0xffff,
		A: float64(a) / 0xffff,
	}
}

// Store returns the world the renderer draws.
func (r *Renderer) Store() *world.Store { return r.store }

// CompilerStats returns the mesh compiler counters.
func (r *Renderer) CompilerStats() mesh.Stats { return r.compiler.Stats() }

// TargetStats returns the render target pool counters.
func (r *Renderer) TargetStats() framegraph.PoolStats { return r.pool.Stats() }

// MarkDirty flags the section at pos as edited: its mesh is recompiled,
// synchronously on the next frame if the section is visible and the sync
// budget allows. It reports false when no section is loaded at pos.
func (r *Renderer) MarkDirty(pos world.SectionPos) bool {
	if !r.store.MarkDirty(pos) {
		return false
	}
	r.graph.SchedulePropagationFrom(r.store.Section(pos))
	return true
}

// SetBlock edits one block in world block coordinates.
func (r *Renderer) SetBlock(x, y, z int, opaque bool) bool {
	if !r.store.SetBlock(x, y, z, opaque) {
		return false
	}
	if s := r.store.Section(world.BlockSection(x, y, z)); s != nil {
		r.graph.SchedulePropagationFrom(s)
	}
	return true
}

// Unload removes a section from the world and forgets its mesh. The
// visibility flood is rebuilt on the next frame.
func (r *Renderer) Unload(pos world.SectionPos) bool {
	s := r.store.Section(pos)
	if s == nil || !r.store.Unload(pos) {
		return false
	}
	r.compiler.Forget(s)
	r.graph.Invalidate()
	return true
}

// Invalidate forces a full visibility rebuild on the next frame, for
// example after a level reload.
func (r *Renderer) Invalidate() { r.graph.Invalidate() }

// RenderFrame renders one frame seen from cam.
//
// A pass failure aborts composition of the frame and is returned; the
// frame is still submitted and every streaming resource still advances
// exactly once, so the next call starts from a consistent state.
func (r *Renderer) RenderFrame(ctx context.Context, cam visibility.Camera) (FrameStats, error) {
	if r.closed {
		return FrameStats{}, ErrClosed
	}
	start := time.Now()
	r.frame++
	st := FrameStats{Frame: r.frame}

	camPos := cam.Section()
	r.store.SetCameraSection(camPos)
	frustum := cam.Frustum()
	r.graph.Update(cam, frustum)

	for _, res := range r.compiler.Poll() {
		r.applied(res, &st)
	}

	r.all, r.near = r.graph.AddSectionsInFrustum(frustum, r.all[:0], r.near[:0])
	st.Visible, st.Near = len(r.all), len(r.near)

	if err := r.compile(ctx, camPos, &st); err != nil {
		return st, err
	}

	window := r.resort.Next(r.all, r.near)
	if r.opts.sorter != nil {
		for _, s := range window {
			if m := r.compiler.CompiledMesh(s); m != nil && m.HasTranslucent() {
				r.opts.sorter.Resort(s, m, cam.Position)
			}
		}
	}
	st.Resorted = len(window)

	execErr := r.compose(cam, &st)
	st.ArenaBlocks = r.arena.NextBlock()
	st.ArenaCapacity = r.arena.Capacity()
	endErr := r.endFrame()

	st.Visibility = r.graph.Stats()
	st.Duration = time.Since(start)
	if logging.Enabled(slog.LevelDebug) {
		logging.Logger().Debug("voxelframe: frame",
			slog.Uint64("frame", st.Frame),
			slog.Int("visible", st.Visible),
			slog.Int("drawn", st.Drawn),
			slog.Int("compiled", st.Compiled),
			slog.Duration("took", st.Duration))
	}
	if err := errors.Join(execErr, endErr); err != nil {
		return st, fmt.Errorf("voxelframe: frame %d: %w", st.Frame, err)
	}
	return st, nil
}

// applied hooks a compile result into visibility.
func (r *Renderer) applied(res mesh.Result, st *FrameStats) {
	if res.Err != nil || res.Mesh == nil {
		return
	}
	st.Compiled++
	r.graph.SchedulePropagationFrom(res.Section)
}

// compile schedules visible sections that need a mesh. Sections near the
// camera or just edited compile synchronously within the budget.
func (r *Renderer) compile(ctx context.Context, camPos world.SectionPos, st *FrameStats) error {
	for _, pos := range r.store.TakeModified() {
		r.modified[pos] = struct{}{}
	}
	defer clear(r.modified)

	r.candidates = r.candidates[:0]
	for _, s := range r.all {
		if !r.compiler.Pending(s) {
			r.candidates = append(r.candidates, s)
		}
	}
	now, later := r.policy.Split(camPos, r.candidates, r.modified)

	if len(now) > 0 {
		results, err := r.compiler.CompileSync(ctx, now)
		st.SyncCompiles = len(now)
		for _, res := range results {
			r.applied(res, st)
		}
		if err != nil {
			return fmt.Errorf("voxelframe: sync compile: %w", err)
		}
	}
	for _, s := range later {
		if r.compiler.Schedule(s) {
			st.Scheduled++
		}
	}
	return nil
}

// endFrame submits the frame and advances every ring-backed resource.
func (r *Renderer) endFrame() error {
	var errs []error
	if err := r.adapter.Submit(); err != nil {
		errs = append(errs, fmt.Errorf("submit: %w", err))
	}
	if err := r.arena.EndFrame(); err != nil {
		errs = append(errs, err)
	}
	if err := r.cameraRing.Rotate(); err != nil {
		errs = append(errs, err)
	}
	r.pool.EndFrame()
	return errors.Join(errs...)
}

// Close stops the mesh workers and releases every GPU resource the
// renderer owns. Close is safe to call multiple times.
func (r *Renderer) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.release()
}

func (r *Renderer) release() {
	if r.compiler != nil {
		r.compiler.Close()
	}
	if r.main != nil {
		r.pool.Release(r.main)
		r.main = nil
	}
	r.pool.Close()
	if r.arena != nil {
		r.arena.Close()
	}
	if r.cameraRing != nil {
		r.cameraRing.Close()
	}
}

// appendMat4 appends m column-major as little-endian float32.
func appendMat4(dst []byte, m mgl32.Mat4) []byte {
	for _, f := range m {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f))
	}
	return dst
}

func sectionTransform(pos world.SectionPos) mgl32.Mat4 {
	o := pos.Min()
	return mgl32.Translate3D(o.X(), o.Y(), o.Z())
}
