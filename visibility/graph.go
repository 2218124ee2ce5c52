// Package visibility decides which sections are drawn each frame.
//
// Graph flood-fills the section lattice outward from the camera. A step
// into a neighbor is not taken when the face it crosses is known to be
// fully opaque on the near side. A neighbor whose own entry face is opaque
// is reached, and drawn, but not expanded. A section outside the view
// frustum is likewise kept as reached but never expanded. The flood is rebuilt only when the camera moves to a
// new position or rotation cell; in between, sections that finish
// compiling extend the existing flood from where they sit.
package visibility

import (
	"log/slog"

	"github.com/gogpu/voxelframe/internal/logging"
	"github.com/gogpu/voxelframe/world"
)

// NearCapacity is the initial capacity of the near-section list.
const NearCapacity = 10000

// Default option values.
const (
	DefaultRenderDistance = 12
	DefaultNearRadius     = 2
)

// Occluder reports whether the boundary face of a section toward d is
// known to be fully opaque.
type Occluder interface {
	FaceOpaque(s *world.Section, d world.Direction) bool
}

// CompiledOccluder reads the face mask of a section's compiled mesh.
// Faces of sections that are not compiled, or are dirty, are unknown and
// treated as open.
type CompiledOccluder struct{}

// FaceOpaque implements Occluder.
func (CompiledOccluder) FaceOpaque(s *world.Section, d world.Direction) bool {
	faces, ok := s.OpaqueFaces()
	return ok && faces.Has(d)
}

// Options configures a Graph.
type Options struct {
	// RenderDistance bounds the flood in sections, measured on X and Z
	// from the camera's section.
	RenderDistance int32

	// NearRadius selects the sections returned as near, measured as
	// Chebyshev distance from the camera's section. Negative values select
	// DefaultNearRadius.
	NearRadius int32

	// SmartCull enables occlusion pruning.
	SmartCull bool

	// Occluder defaults to CompiledOccluder.
	Occluder Occluder
}

// Node is the per-section flood state.
type Node struct {
	Section *world.Section

	// InFrustum is the result of the node's last frustum test.
	InFrustum bool

	// sources holds every direction stepped through to reach the node.
	// The flood never steps back against one of them.
	sources world.FaceMask
	step    int
	epoch   uint64
	seed    bool
	sealed  bool
}

// expandable reports whether the flood continues from the node.
func (n *Node) expandable() bool {
	return n.seed || (n.InFrustum && !n.sealed)
}

// Step returns the number of lattice steps from the flood's seed.
func (n *Node) Step() int { return n.step }

// Sources returns the directions travelled to reach the node.
func (n *Node) Sources() world.FaceMask { return n.sources }

// Stats counts the work done by a Graph.
type Stats struct {
	Floods       int
	Propagations int
	Reached      int
	InFrustum    int
}

// Graph is the visibility flood over a Store.
//
// Graph is owned by the render goroutine and is not safe for concurrent
// use.
type Graph struct {
	store *world.Store
	opts  Options

	nodes   map[world.SectionPos]*Node
	epoch   uint64
	reached []*Node
	queue   []*Node

	pending    []*world.Section
	pendingSet map[*world.Section]struct{}

	invalid bool
	hasCell bool
	cell    cameraCell

	origin    world.SectionPos
	frustum   *Frustum
	smartCull bool

	stats Stats
}

// NewGraph creates a Graph over store.
func NewGraph(store *world.Store, opts Options) *Graph {
	if opts.RenderDistance <= 0 {
		opts.RenderDistance = DefaultRenderDistance
	}
	if opts.NearRadius < 0 {
		opts.NearRadius = DefaultNearRadius
	}
	if opts.Occluder == nil {
		opts.Occluder = CompiledOccluder{}
	}
	return &Graph{
		store:      store,
		opts:       opts,
		nodes:      make(map[world.SectionPos]*Node),
		reached:    make([]*Node, 0, NearCapacity),
		queue:      make([]*Node, 0, NearCapacity),
		pendingSet: make(map[*world.Section]struct{}),
		invalid:    true,
	}
}

// Options returns the graph's effective options.
func (g *Graph) Options() Options { return g.opts }

// Stats returns the graph counters.
func (g *Graph) Stats() Stats { return g.stats }

// Invalidate discards every node; the next Update floods from scratch.
func (g *Graph) Invalidate() {
	g.invalid = true
	g.nodes = make(map[world.SectionPos]*Node)
	g.reached = g.reached[:0]
	g.clearPending()
}

// SchedulePropagationFrom queues a local flood from s for the next Update.
// Call it when s becomes compiled.
func (g *Graph) SchedulePropagationFrom(s *world.Section) {
	if s == nil {
		return
	}
	if _, ok := g.pendingSet[s]; ok {
		return
	}
	g.pendingSet[s] = struct{}{}
	g.pending = append(g.pending, s)
}

// Update brings the flood up to date for cam.
//
// A full flood runs after Invalidate or when cam left the previous
// position or rotation cell. Otherwise only scheduled propagations run.
func (g *Graph) Update(cam Camera, frustum *Frustum) {
	cell := cellOf(cam)
	g.frustum = frustum
	if g.invalid || !g.hasCell || cell != g.cell {
		g.cell = cell
		g.hasCell = true
		g.invalid = false
		g.flood(cam)
		return
	}
	g.propagate()
}

// AddSectionsInFrustum appends every reached section that passes a fresh
// test against frustum to all, and those within the near radius to near.
// Nil slices are allocated with room for NearCapacity sections.
func (g *Graph) AddSectionsInFrustum(frustum *Frustum, all, near []*world.Section) ([]*world.Section, []*world.Section) {
	if all == nil {
		all = make([]*world.Section, 0, max(len(g.reached), NearCapacity))
	}
	if near == nil {
		near = make([]*world.Section, 0, NearCapacity)
	}
	for _, n := range g.reached {
		if !n.InFrustum || !n.Section.Loaded() {
			continue
		}
		if frustum != nil && !frustum.ContainsSection(n.Section.Pos()) {
			continue
		}
		all = append(all, n.Section)
		if n.Section.Pos().Distance(g.origin) <= g.opts.NearRadius {
			near = append(near, n.Section)
		}
	}
	return all, near
}

// Node returns the node for pos if it was reached by the current flood.
func (g *Graph) Node(pos world.SectionPos) *Node {
	n := g.nodes[pos]
	if n == nil || n.epoch != g.epoch {
		return nil
	}
	return n
}

func (g *Graph) flood(cam Camera) {
	g.epoch++
	g.stats.Floods++
	g.reached = g.reached[:0]
	g.queue = g.queue[:0]
	g.clearPending()
	g.origin = cam.Section()
	g.smartCull = g.opts.SmartCull && !cam.InsideSolid

	for pos, n := range g.nodes {
		if !n.Section.Loaded() {
			delete(g.nodes, pos)
		}
	}

	g.seed(cam)
	g.drain()
	g.countReached()

	if logging.Enabled(slog.LevelDebug) {
		logging.Logger().Debug("visibility: flood",
			slog.String("origin", g.origin.String()),
			slog.Int("reached", g.stats.Reached),
			slog.Int("in_frustum", g.stats.InFrustum),
			slog.Bool("smart_cull", g.smartCull))
	}
}

// seed starts the flood at the camera's section. When that section is not
// loaded, the flood starts from the loaded layer nearest to the camera.
func (g *Graph) seed(cam Camera) {
	if s := g.store.Section(g.origin); s != nil {
		n := g.reach(s, 0, 0)
		n.seed = true
		n.InFrustum = g.test(s)
		g.queue = append(g.queue, n)
		return
	}

	var layer []*world.Section
	bestDY := int32(-1)
	for _, s := range g.store.Sections() {
		if !g.inRange(s.Pos()) {
			continue
		}
		dy := s.Pos().Y - g.origin.Y
		if dy < 0 {
			dy = -dy
		}
		switch {
		case bestDY < 0 || dy < bestDY:
			bestDY = dy
			layer = append(layer[:0], s)
		case dy == bestDY && s.Pos().Y == layer[0].Pos().Y:
			layer = append(layer, s)
		}
	}
	if len(layer) == 0 {
		return
	}

	// Entering from above or below counts as a step in that direction.
	var src world.FaceMask
	if layer[0].Pos().Y < g.origin.Y {
		src = world.Down.Bit()
	} else {
		src = world.Up.Bit()
	}
	for _, s := range layer {
		n := g.reach(s, src, 0)
		n.InFrustum = g.test(s)
		if n.expandable() {
			g.queue = append(g.queue, n)
		}
	}
}

// propagate extends the current flood from scheduled sections.
func (g *Graph) propagate() {
	if len(g.pending) == 0 {
		return
	}
	pending := g.pending
	g.pending = nil
	clear(g.pendingSet)

	g.queue = g.queue[:0]
	for _, s := range pending {
		if !s.Loaded() {
			continue
		}
		g.stats.Propagations++
		if n := g.Node(s.Pos()); n != nil && n.Section == s {
			if n.expandable() {
				g.queue = append(g.queue, n)
			}
			continue
		}
		if n := g.reachFromNeighbor(s); n != nil && n.expandable() {
			g.queue = append(g.queue, n)
		}
	}
	g.drain()
	g.countReached()
}

// reachFromNeighbor joins an unreached section to the flood through the
// closest expanded neighbor that may step into it.
func (g *Graph) reachFromNeighbor(s *world.Section) *Node {
	var best *Node
	var bestDir world.Direction
	for _, d := range world.Directions {
		nb := s.Neighbor(d)
		if nb == nil {
			continue
		}
		from := g.Node(nb.Pos())
		if from == nil || !from.expandable() {
			continue
		}
		toward := d.Opposite()
		if !g.canStep(from, s, toward) {
			continue
		}
		if best == nil || from.step < best.step {
			best, bestDir = from, toward
		}
	}
	if best == nil {
		return nil
	}
	return g.enter(best, s, bestDir)
}

func (g *Graph) drain() {
	for i := 0; i < len(g.queue); i++ {
		n := g.queue[i]
		for _, d := range world.Directions {
			next := n.Section.Neighbor(d)
			if next == nil || !g.canStep(n, next, d) {
				continue
			}
			if g.Node(next.Pos()) != nil {
				continue
			}
			if m := g.enter(n, next, d); m.expandable() {
				g.queue = append(g.queue, m)
			}
		}
	}
	g.queue = g.queue[:0]
}

func (g *Graph) canStep(from *Node, to *world.Section, d world.Direction) bool {
	if from.sources.Has(d.Opposite()) {
		return false
	}
	if !g.inRange(to.Pos()) {
		return false
	}
	if g.smartCull && g.opts.Occluder.FaceOpaque(from.Section, d) {
		return false
	}
	return true
}

// enter reaches to from the expanded node from, stepping in direction d.
func (g *Graph) enter(from *Node, to *world.Section, d world.Direction) *Node {
	n := g.reach(to, from.sources.With(d), from.step+1)
	n.InFrustum = g.test(to)
	n.sealed = g.smartCull && g.opts.Occluder.FaceOpaque(to, d.Opposite())
	return n
}

func (g *Graph) inRange(pos world.SectionPos) bool {
	return pos.HorizontalDistance(g.origin) <= g.opts.RenderDistance
}

func (g *Graph) test(s *world.Section) bool {
	return g.frustum == nil || g.frustum.ContainsSection(s.Pos())
}

// reach marks s reached in the current epoch, reusing its node.
func (g *Graph) reach(s *world.Section, sources world.FaceMask, step int) *Node {
	n := g.nodes[s.Pos()]
	if n == nil || n.Section != s {
		n = &Node{Section: s}
		g.nodes[s.Pos()] = n
	}
	n.epoch = g.epoch
	n.sources = sources
	n.step = step
	n.seed = false
	n.sealed = false
	n.InFrustum = false
	g.reached = append(g.reached, n)
	return n
}

func (g *Graph) countReached() {
	g.stats.Reached = len(g.reached)
	in := 0
	for _, n := range g.reached {
		if n.InFrustum {
			in++
		}
	}
	g.stats.InFrustum = in
}

func (g *Graph) clearPending() {
	g.pending = g.pending[:0]
	clear(g.pendingSet)
}
