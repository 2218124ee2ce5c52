package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/voxelframe/internal/cache"
	"github.com/gogpu/voxelframe/internal/logging"
	"github.com/gogpu/voxelframe/internal/parallel"
	"github.com/gogpu/voxelframe/world"
)

var (
	// ErrCompilerClosed is returned after Close.
	ErrCompilerClosed = errors.New("mesh: compiler closed")

	// ErrBakePanicked wraps a panic recovered from a Baker.
	ErrBakePanicked = errors.New("mesh: baker panicked")
)

// Default compiler sizes.
const (
	DefaultResultQueue = 1024
	DefaultCacheSize   = 4096
)

// Options configures a Compiler.
type Options struct {
	// Workers is the bake pool size; zero means GOMAXPROCS.
	Workers int

	// ResultQueue bounds completed results waiting for Poll.
	ResultQueue int

	// CacheSize bounds the baked-mesh cache.
	CacheSize int
}

// Result is one finished bake.
type Result struct {
	Section *world.Section
	Mesh    *Mesh
	Version uint64
	Err     error
}

// Stats counts Compiler activity.
type Stats struct {
	Scheduled  int
	Rejected   int
	Completed  int
	Failed     int
	Stale      int
	Sync       int
	CacheHits  int
	InFlight   int
	CachedMesh int

	// CacheHitRate and CacheEvictions come from the baked-mesh cache.
	CacheHitRate   float64
	CacheEvictions uint64
}

type cacheKey struct {
	pos         world.SectionPos
	fingerprint uint64
}

type job struct {
	section     *world.Section
	pos         world.SectionPos
	vol         *world.Volume
	version     uint64
	fingerprint uint64
}

type outcome struct {
	job  job
	mesh *Mesh
	err  error
	hit  bool
}

// Compiler bakes sections on a worker pool and returns the results to the
// render goroutine through one queue drained by Poll.
//
// Every method except the bake itself runs on the render goroutine. Bakes
// read immutable volume snapshots, so a section edited mid-bake finishes
// compiled but dirty and is scheduled again.
type Compiler struct {
	baker   Baker
	pool    *parallel.Pool
	cache   *cache.Cache[cacheKey, *Mesh]
	results chan outcome

	ctx    context.Context
	cancel context.CancelFunc

	// pending maps sections with an async bake in flight to the version
	// being baked.
	pending  map[*world.Section]uint64
	compiled map[*world.Section]*Mesh

	closed bool
	stats  Stats
}

// NewCompiler starts a compiler around baker.
func NewCompiler(baker Baker, opts Options) *Compiler {
	if opts.ResultQueue <= 0 {
		opts.ResultQueue = DefaultResultQueue
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Compiler{
		baker:    baker,
		pool:     parallel.NewPool(opts.Workers, opts.ResultQueue/max(opts.Workers, 1)),
		cache:    cache.New[cacheKey, *Mesh](opts.CacheSize),
		results:  make(chan outcome, opts.ResultQueue),
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[*world.Section]uint64),
		compiled: make(map[*world.Section]*Mesh),
	}
}

func newJob(s *world.Section) job {
	vol, version := s.Volume()
	return job{section: s, pos: s.Pos(), vol: vol, version: version, fingerprint: vol.Fingerprint()}
}

// bake runs on a pool worker or, for sync compiles, on a goroutine of its
// own. A panicking baker becomes a failed outcome.
func (c *Compiler) bake(ctx context.Context, j job) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			o = outcome{job: j, err: fmt.Errorf("%w: %v: %v", ErrBakePanicked, j.pos, r)}
		}
	}()

	key := cacheKey{j.pos, j.fingerprint}
	if m, ok := c.cache.Get(key); ok {
		cp := *m
		cp.Version = j.version
		return outcome{job: j, mesh: &cp, hit: true}
	}
	m, err := c.baker.Bake(ctx, j.pos, j.vol)
	if err != nil {
		return outcome{job: j, err: err}
	}
	if m == nil {
		return outcome{job: j, err: fmt.Errorf("mesh: baker returned no mesh for %v", j.pos)}
	}
	m.Pos = j.pos
	m.Version = j.version
	c.cache.Set(key, m)
	return outcome{job: j, mesh: m}
}

// Schedule queues an asynchronous bake of s. It reports false when s is
// already being baked at its current version, or the pool is saturated;
// callers retry on a later frame.
func (c *Compiler) Schedule(s *world.Section) bool {
	if c.closed {
		return false
	}
	if v, ok := c.pending[s]; ok && v == s.Version() {
		return false
	}

	j := newJob(s)
	ok := c.pool.TrySubmit(func() {
		o := c.bake(c.ctx, j)
		select {
		case c.results <- o:
		case <-c.ctx.Done():
		}
	})
	if !ok {
		c.stats.Rejected++
		return false
	}
	c.pending[s] = j.version
	s.BeginCompile()
	c.stats.Scheduled++
	return true
}

// CompileSync bakes sections and waits for all of them, then applies the
// results. It is the bounded blocking path for sections that must not pop
// in late.
//
// Sync bakes run beside the pool, at most Workers at a time, so a backlog
// of async bakes waiting on Poll cannot stall them.
func (c *Compiler) CompileSync(ctx context.Context, sections []*world.Section) ([]Result, error) {
	if c.closed {
		return nil, ErrCompilerClosed
	}
	if len(sections) == 0 {
		return nil, nil
	}

	outs := make([]outcome, len(sections))
	var g errgroup.Group
	g.SetLimit(c.pool.Workers())
	for i, s := range sections {
		j := newJob(s)
		s.BeginCompile()
		g.Go(func() error {
			outs[i] = c.bake(ctx, j)
			return nil
		})
	}
	_ = g.Wait()

	results := make([]Result, 0, len(outs))
	for _, o := range outs {
		c.stats.Sync++
		if r, ok := c.apply(o); ok {
			results = append(results, r)
		}
	}
	return results, ctx.Err()
}

// Poll applies every finished async bake without blocking and returns the
// results that changed a section.
func (c *Compiler) Poll() []Result {
	var results []Result
	for {
		select {
		case o := <-c.results:
			if cur, ok := c.pending[o.job.section]; ok && cur == o.job.version {
				delete(c.pending, o.job.section)
			}
			if r, ok := c.apply(o); ok {
				results = append(results, r)
			}
		default:
			return results
		}
	}
}

// apply records an outcome on its section. Results older than the mesh a
// section already has are dropped; their meshes stay cached.
func (c *Compiler) apply(o outcome) (Result, bool) {
	s := o.job.section
	if o.hit {
		c.stats.CacheHits++
	}
	if o.err != nil {
		c.stats.Failed++
		s.CancelCompile()
		logging.Logger().Warn("mesh: bake failed",
			slog.String("section", o.job.pos.String()),
			slog.String("error", o.err.Error()))
		return Result{Section: s, Version: o.job.version, Err: o.err}, true
	}
	if !s.Loaded() {
		return Result{}, false
	}
	if prev := c.compiled[s]; prev != nil && prev.Version > o.job.version {
		c.stats.Stale++
		return Result{}, false
	}

	c.stats.Completed++
	c.compiled[s] = o.mesh
	if !s.FinishCompile(o.mesh.OpaqueFaces, o.job.version) {
		c.stats.Stale++
	}
	return Result{Section: s, Mesh: o.mesh, Version: o.job.version}, true
}

// IsCompiled reports whether s has a mesh.
func (c *Compiler) IsCompiled(s *world.Section) bool {
	_, ok := c.compiled[s]
	return ok
}

// CompiledMesh returns the mesh s draws, or nil.
func (c *Compiler) CompiledMesh(s *world.Section) *Mesh {
	return c.compiled[s]
}

// Pending reports whether an async bake of s's current content is in
// flight.
func (c *Compiler) Pending(s *world.Section) bool {
	v, ok := c.pending[s]
	return ok && v == s.Version()
}

// Forget drops everything the compiler holds for an unloaded section.
func (c *Compiler) Forget(s *world.Section) {
	delete(c.compiled, s)
	delete(c.pending, s)
}

// Stats returns the compiler counters.
func (c *Compiler) Stats() Stats {
	s := c.stats
	s.InFlight = len(c.pending)
	cs := c.cache.Stats()
	s.CachedMesh = cs.Len
	s.CacheHitRate = cs.HitRate
	s.CacheEvictions = cs.Evictions
	return s
}

// Close cancels queued bakes and stops the workers.
func (c *Compiler) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	c.pool.Close()
}
