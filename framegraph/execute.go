package framegraph

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/gogpu/voxelframe/internal/logging"
)

// Allocator supplies physical targets for internal resources.
type Allocator interface {
	// Acquire returns a target matching desc.
	Acquire(desc Descriptor) (*Target, error)

	// Release returns a target obtained from Acquire.
	Release(t *Target)
}

// Inspector observes pass execution. Either method may be a no-op.
type Inspector interface {
	BeforePass(name string, index int)
	AfterPass(name string, index int, err error)
}

// PassContext is handed to a pass body.
type PassContext struct {
	g     *Graph
	pass  *Pass
	index int
	alloc Allocator
}

// Name returns the running pass's name.
func (c *PassContext) Name() string { return c.pass.name }

// Index returns the running pass's position in the graph.
func (c *PassContext) Index() int { return c.index }

// Target returns the current physical backing of h. The pass must have
// declared h. Any version of the resource resolves to the same backing, so
// a target reallocated by an earlier pass is observed here.
func (c *PassContext) Target(h Handle) (*Target, error) {
	r, err := c.declared(h, false)
	if err != nil {
		return nil, err
	}
	return r.target, nil
}

// Reallocate replaces the backing of an internal target the pass writes.
// The old backing goes back to the allocator; later passes resolve h to
// the new one.
func (c *PassContext) Reallocate(h Handle, desc Descriptor) (*Target, error) {
	r, err := c.declared(h, true)
	if err != nil {
		return nil, err
	}
	if r.imported {
		return nil, fmt.Errorf("%w: %q", ErrImported, r.name)
	}
	t, err := c.alloc.Acquire(desc)
	if err != nil {
		return nil, fmt.Errorf("framegraph: reallocate %q: %w", r.name, err)
	}
	if r.target != nil {
		c.alloc.Release(r.target)
	}
	r.target = t
	r.desc = desc
	return t, nil
}

func (c *PassContext) declared(h Handle, write bool) (*resource, error) {
	r, err := c.g.resource(h)
	if err != nil {
		return nil, err
	}
	same := func(o Handle) bool { return o.id == h.id }
	if slices.ContainsFunc(c.pass.writes, same) {
		return r, nil
	}
	if !write && slices.ContainsFunc(c.pass.reads, same) {
		return r, nil
	}
	return nil, fmt.Errorf("%w: pass %q did not declare %s access to %q",
		ErrUnknownHandle, c.pass.name, accessName(write), r.name)
}

func accessName(write bool) string {
	if write {
		return "write"
	}
	return "read"
}

// Execute runs every pass in declaration order.
//
// Internal targets are acquired from alloc right before the first pass
// that uses them and released right after the last one. Every acquired
// target is released before Execute returns, including when a pass fails.
// A failing pass stops the frame: the remaining passes do not run and the
// error wraps ErrPassFailed. inspector may be nil.
func (g *Graph) Execute(alloc Allocator, inspector Inspector) error {
	if g.executed {
		return ErrAlreadyExecuted
	}
	g.executed = true

	if len(g.errs) > 0 {
		return errors.Join(g.errs...)
	}

	defer g.releaseAll(alloc)

	for i, p := range g.passes {
		if err := g.materialize(alloc, p); err != nil {
			return fmt.Errorf("framegraph: pass %q: %w", p.name, err)
		}

		if inspector != nil {
			inspector.BeforePass(p.name, i)
		}
		var perr error
		if p.fn != nil {
			perr = p.fn(&PassContext{g: g, pass: p, index: i, alloc: alloc})
		}
		if inspector != nil {
			inspector.AfterPass(p.name, i, perr)
		}
		if perr != nil {
			logging.Logger().Warn("framegraph: pass failed",
				slog.String("pass", p.name),
				slog.Int("index", i),
				slog.String("error", perr.Error()))
			return fmt.Errorf("%w: %q: %w", ErrPassFailed, p.name, perr)
		}

		g.releaseAfter(alloc, i)
	}
	return nil
}

// materialize acquires targets for the internal resources p touches.
func (g *Graph) materialize(alloc Allocator, p *Pass) error {
	for _, hs := range [2][]Handle{p.reads, p.writes} {
		for _, h := range hs {
			r := g.resources[h.id-1]
			if r.imported || r.target != nil {
				continue
			}
			if alloc == nil {
				return fmt.Errorf("no allocator for internal target %q", r.name)
			}
			t, err := alloc.Acquire(r.desc)
			if err != nil {
				return fmt.Errorf("acquire %q: %w", r.name, err)
			}
			r.target = t
		}
	}
	return nil
}

func (g *Graph) releaseAfter(alloc Allocator, index int) {
	for _, r := range g.resources {
		if !r.imported && r.target != nil && r.lastUse == index {
			alloc.Release(r.target)
			r.target = nil
		}
	}
}

func (g *Graph) releaseAll(alloc Allocator) {
	for _, r := range g.resources {
		if !r.imported && r.target != nil {
			alloc.Release(r.target)
			r.target = nil
		}
	}
}
