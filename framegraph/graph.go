// Package framegraph composes one frame's GPU passes.
//
// A Graph is built fresh every frame. Each pass declares the render
// targets it reads and the ones it reads and writes; declaration order is
// execution order, so a pass reading a target always observes the most
// recent earlier-declared writer. Targets are either imported (owned by
// the caller, e.g. the swapchain image) or created from a Descriptor and
// allocated lazily from an Allocator, then handed back as soon as no later
// pass uses them so other targets can alias the same memory.
//
//	g := framegraph.New()
//	main := g.Import("main", mainTarget)
//	bloom := g.Create("bloom", framegraph.Descriptor{Width: w / 2, Height: h / 2})
//
//	g.AddPass("bright").ReadsAndWrites(&bloom).Reads(main).Execute(brightPass)
//	g.AddPass("composite").Reads(bloom).ReadsAndWrites(&main).Execute(compositePass)
//
//	err := g.Execute(pool, nil)
package framegraph

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/voxelframe/internal/gpucore"
)

// Graph errors.
var (
	// ErrMissingResource is returned by Execute when a target was imported
	// as nil.
	ErrMissingResource = errors.New("framegraph: missing imported resource")

	// ErrStaleHandle is returned by Execute when a pass declared access
	// through a handle that a previous pass already wrote past.
	ErrStaleHandle = errors.New("framegraph: stale resource handle")

	// ErrUnknownHandle is returned when a handle does not belong to the
	// graph, or a pass touches a target it did not declare.
	ErrUnknownHandle = errors.New("framegraph: unknown resource handle")

	// ErrPassFailed wraps the error returned by a pass body.
	ErrPassFailed = errors.New("framegraph: pass failed")

	// ErrAlreadyExecuted is returned when Execute is called twice.
	ErrAlreadyExecuted = errors.New("framegraph: graph already executed")

	// ErrImported is returned when a pass tries to reallocate an imported
	// target.
	ErrImported = errors.New("framegraph: imported target cannot be reallocated")
)

// Descriptor describes an internal render target.
type Descriptor struct {
	Width, Height uint32

	// HasDepth adds a depth-stencil attachment.
	HasDepth bool

	// ClearColor is the color the target is cleared to by passes that
	// clear it. It does not affect pooling.
	ClearColor gputypes.Color

	// Format defaults to RGBA8Unorm.
	Format gputypes.TextureFormat
}

// DefaultColorFormat is the color format of targets that do not set one.
const DefaultColorFormat = gputypes.TextureFormatRGBA8Unorm

// DepthFormat is the format of every depth attachment.
const DepthFormat = gputypes.TextureFormatDepth24PlusStencil8

func (d Descriptor) colorFormat() gputypes.TextureFormat {
	if d.Format == gputypes.TextureFormatUndefined {
		return DefaultColorFormat
	}
	return d.Format
}

// poolKey is the part of a Descriptor that decides whether two targets
// can share memory.
type poolKey struct {
	width, height uint32
	hasDepth      bool
	format        gputypes.TextureFormat
}

func (d Descriptor) key() poolKey {
	return poolKey{d.Width, d.Height, d.HasDepth, d.colorFormat()}
}

// Target is a physical render target: a color texture and an optional
// depth texture.
type Target struct {
	Label string
	Color gpucore.TextureID
	Depth gpucore.TextureID
	Desc  Descriptor
}

// Handle refers to one version of a graph resource. Writing through a
// handle produces a new version; older handles become stale.
type Handle struct {
	id      int // index+1, zero is invalid
	version int
}

// Valid reports whether h was returned by a graph.
func (h Handle) Valid() bool { return h.id > 0 }

type resource struct {
	name     string
	imported bool
	desc     Descriptor
	target   *Target
	version  int

	firstUse, lastUse int
}

// Pass is one declared unit of GPU work.
type Pass struct {
	name   string
	reads  []Handle
	writes []Handle
	fn     func(*PassContext) error
}

// Name returns the pass name.
func (p *Pass) Name() string { return p.name }

// Graph is a single-frame pass list.
type Graph struct {
	resources []*resource
	passes    []*Pass
	errs      []error
	executed  bool
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{}
}

// Import adds an externally owned target. Importing nil is a
// configuration error reported by Execute before any pass runs.
func (g *Graph) Import(name string, t *Target) Handle {
	if t == nil {
		g.errs = append(g.errs, fmt.Errorf("%w: %q", ErrMissingResource, name))
	}
	var desc Descriptor
	if t != nil {
		desc = t.Desc
	}
	return g.add(&resource{name: name, imported: true, target: t, desc: desc})
}

// Create adds an internal target allocated when first used.
func (g *Graph) Create(name string, desc Descriptor) Handle {
	return g.add(&resource{name: name, desc: desc})
}

func (g *Graph) add(r *resource) Handle {
	r.firstUse, r.lastUse = -1, -1
	g.resources = append(g.resources, r)
	return Handle{id: len(g.resources)}
}

func (g *Graph) resource(h Handle) (*resource, error) {
	if h.id <= 0 || h.id > len(g.resources) {
		return nil, fmt.Errorf("%w: %v", ErrUnknownHandle, h)
	}
	return g.resources[h.id-1], nil
}

// Name returns the name a handle was declared with.
func (g *Graph) Name(h Handle) string {
	r, err := g.resource(h)
	if err != nil {
		return ""
	}
	return r.name
}

// Passes returns the declared passes in execution order.
func (g *Graph) Passes() []*Pass {
	return g.passes
}

// AddPass declares a pass. Passes run in the order they are added.
func (g *Graph) AddPass(name string) *PassBuilder {
	p := &Pass{name: name}
	g.passes = append(g.passes, p)
	return &PassBuilder{g: g, pass: p, index: len(g.passes) - 1}
}

// PassBuilder declares a pass's resources and body.
type PassBuilder struct {
	g     *Graph
	pass  *Pass
	index int
}

// Reads declares that the pass reads h.
func (b *PassBuilder) Reads(h Handle) *PassBuilder {
	r, err := b.g.resource(h)
	if err != nil {
		b.fail(err)
		return b
	}
	if h.version != r.version {
		b.fail(fmt.Errorf("%w: pass %q reads %q version %d, current is %d",
			ErrStaleHandle, b.pass.name, r.name, h.version, r.version))
		return b
	}
	b.use(r)
	b.pass.reads = append(b.pass.reads, h)
	return b
}

// ReadsAndWrites declares that the pass reads and writes *h, and advances
// *h to the version the pass produces. Later passes must use the updated
// handle.
func (b *PassBuilder) ReadsAndWrites(h *Handle) *PassBuilder {
	r, err := b.g.resource(*h)
	if err != nil {
		b.fail(err)
		return b
	}
	if h.version != r.version {
		b.fail(fmt.Errorf("%w: pass %q writes %q version %d, current is %d",
			ErrStaleHandle, b.pass.name, r.name, h.version, r.version))
		return b
	}
	b.use(r)
	r.version++
	h.version = r.version
	b.pass.writes = append(b.pass.writes, *h)
	return b
}

// Execute sets the pass body.
func (b *PassBuilder) Execute(fn func(*PassContext) error) {
	b.pass.fn = fn
}

func (b *PassBuilder) use(r *resource) {
	if r.firstUse < 0 {
		r.firstUse = b.index
	}
	r.lastUse = b.index
}

func (b *PassBuilder) fail(err error) {
	b.g.errs = append(b.g.errs, err)
}
