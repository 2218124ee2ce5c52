package framegraph

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/voxelframe/internal/gpucore"
	"github.com/gogpu/voxelframe/internal/logging"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("framegraph: target pool closed")

// DefaultMaxIdleFrames is how long a released target stays pooled unused.
const DefaultMaxIdleFrames = 3

// PoolStats counts TargetPool activity.
type PoolStats struct {
	Created   int
	Reused    int
	Destroyed int

	// Live is the number of targets currently owned by the pool, free or
	// acquired.
	Live int
	Free int
}

// TargetPool allocates render targets through a GPUAdapter and keeps
// released ones for reuse by any later request with a compatible
// descriptor, in this frame or a following one.
//
// TargetPool is used from the render goroutine only.
type TargetPool struct {
	adapter       gpucore.GPUAdapter
	maxIdleFrames uint64

	free     map[poolKey][]*pooled
	acquired map[*Target]*pooled
	frame    uint64
	closed   bool

	stats PoolStats
}

type pooled struct {
	target   *Target
	lastUsed uint64
}

// NewTargetPool creates a pool. maxIdleFrames <= 0 selects
// DefaultMaxIdleFrames.
func NewTargetPool(adapter gpucore.GPUAdapter, maxIdleFrames int) *TargetPool {
	if maxIdleFrames <= 0 {
		maxIdleFrames = DefaultMaxIdleFrames
	}
	return &TargetPool{
		adapter:       adapter,
		maxIdleFrames: uint64(maxIdleFrames),
		free:          make(map[poolKey][]*pooled),
		acquired:      make(map[*Target]*pooled),
	}
}

// Acquire implements Allocator. The most recently released compatible
// target is reused first.
func (p *TargetPool) Acquire(desc Descriptor) (*Target, error) {
	if p.closed {
		return nil, ErrPoolClosed
	}
	key := desc.key()
	if list := p.free[key]; len(list) > 0 {
		e := list[len(list)-1]
		p.free[key] = list[:len(list)-1]
		e.target.Desc = desc
		p.acquired[e.target] = e
		p.stats.Reused++
		return e.target, nil
	}

	t, err := p.create(desc)
	if err != nil {
		return nil, err
	}
	p.acquired[t] = &pooled{target: t}
	p.stats.Created++
	return t, nil
}

func (p *TargetPool) create(desc Descriptor) (*Target, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("framegraph: target size %dx%d", desc.Width, desc.Height)
	}
	label := fmt.Sprintf("target-%dx%d", desc.Width, desc.Height)
	color, err := p.adapter.CreateTexture(gpucore.TextureDesc{
		Label:  label,
		Width:  desc.Width,
		Height: desc.Height,
		Format: desc.colorFormat(),
	})
	if err != nil {
		return nil, fmt.Errorf("framegraph: create color target: %w", err)
	}

	t := &Target{Label: label, Color: color, Desc: desc}
	if desc.HasDepth {
		depth, err := p.adapter.CreateTexture(gpucore.TextureDesc{
			Label:  label + "-depth",
			Width:  desc.Width,
			Height: desc.Height,
			Format: DepthFormat,
		})
		if err != nil {
			p.adapter.DestroyTexture(color)
			return nil, fmt.Errorf("framegraph: create depth target: %w", err)
		}
		t.Depth = depth
	}

	if logging.Enabled(slog.LevelDebug) {
		logging.Logger().Debug("framegraph: allocated target",
			slog.Uint64("width", uint64(desc.Width)),
			slog.Uint64("height", uint64(desc.Height)),
			slog.Bool("depth", desc.HasDepth))
	}
	return t, nil
}

// Release implements Allocator. Targets the pool did not hand out are
// ignored.
func (p *TargetPool) Release(t *Target) {
	e, ok := p.acquired[t]
	if !ok {
		return
	}
	delete(p.acquired, t)
	if p.closed {
		p.destroy(t)
		return
	}
	e.lastUsed = p.frame
	key := t.Desc.key()
	p.free[key] = append(p.free[key], e)
}

// EndFrame advances the pool's frame counter and destroys free targets
// that have gone unused for more than the idle limit.
func (p *TargetPool) EndFrame() {
	p.frame++
	for key, list := range p.free {
		kept := list[:0]
		for _, e := range list {
			if p.frame-e.lastUsed > p.maxIdleFrames {
				p.destroy(e.target)
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(p.free, key)
		} else {
			p.free[key] = kept
		}
	}
}

// Stats returns the pool counters.
func (p *TargetPool) Stats() PoolStats {
	s := p.stats
	s.Free = 0
	for _, list := range p.free {
		s.Free += len(list)
	}
	s.Live = s.Free + len(p.acquired)
	return s
}

// Close destroys every free target. Targets still acquired are destroyed
// when released.
func (p *TargetPool) Close() {
	if p.closed {
		return
	}
	p.closed = true
	for _, list := range p.free {
		for _, e := range list {
			p.destroy(e.target)
		}
	}
	p.free = nil
}

func (p *TargetPool) destroy(t *Target) {
	p.adapter.DestroyTexture(t.Color)
	if t.Depth != gpucore.InvalidID {
		p.adapter.DestroyTexture(t.Depth)
	}
	p.stats.Destroyed++
}
