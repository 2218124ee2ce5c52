package voxelframe

import "github.com/gogpu/voxelframe/world"

// Default re-sort rates.
const (
	DefaultResortMin     = 15
	DefaultResortDivisor = 8
)

// ResortScheduler amortizes translucency re-sorting over frames.
//
// Near sections are re-sorted every frame. The rest of the visible set is
// walked round-robin, max(Min, ceil(len/Divisor)) sections per frame, so a
// full sweep of an unchanged set takes at most Divisor frames.
type ResortScheduler struct {
	Min     int
	Divisor int

	cursor int
	seen   map[*world.Section]struct{}
	out    []*world.Section
}

// NewResortScheduler returns a scheduler. Non-positive arguments select
// the defaults.
func NewResortScheduler(minPerFrame, divisor int) *ResortScheduler {
	if minPerFrame <= 0 {
		minPerFrame = DefaultResortMin
	}
	if divisor <= 0 {
		divisor = DefaultResortDivisor
	}
	return &ResortScheduler{
		Min:     minPerFrame,
		Divisor: divisor,
		seen:    make(map[*world.Section]struct{}),
	}
}

// Window returns how many sections of a visible set of size n are
// re-sorted per frame besides the near ones.
func (r *ResortScheduler) Window(n int) int {
	w := max(r.Min, (n+r.Divisor-1)/r.Divisor)
	return min(w, n)
}

// Next returns the sections to re-sort this frame: every near section,
// then the next round-robin window of all, without duplicates. The
// returned slice is reused by the following call.
func (r *ResortScheduler) Next(all, near []*world.Section) []*world.Section {
	clear(r.seen)
	r.out = r.out[:0]
	add := func(s *world.Section) {
		if _, ok := r.seen[s]; ok {
			return
		}
		r.seen[s] = struct{}{}
		r.out = append(r.out, s)
	}

	for _, s := range near {
		add(s)
	}
	n := len(all)
	if n == 0 {
		r.cursor = 0
		return r.out
	}
	start := r.cursor % n
	w := r.Window(n)
	for i := range w {
		add(all[(start+i)%n])
	}
	r.cursor = (start + w) % n
	return r.out
}
