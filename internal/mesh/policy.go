package mesh

import (
	"cmp"
	"slices"

	"github.com/gogpu/voxelframe/world"
)

// Policy picks the sections compiled synchronously in a frame.
//
// A section qualifies when it needs compiling and is either within Radius
// of the camera's section or was modified since the previous frame. At
// most Budget qualifying sections are chosen, closest first; everything
// else is compiled asynchronously.
type Policy struct {
	Budget int
	Radius int32
}

// Split divides the sections that need compiling into the synchronous and
// asynchronous sets. modified holds sections edited since the last frame.
func (p Policy) Split(camera world.SectionPos, candidates []*world.Section, modified map[world.SectionPos]struct{}) (sync, async []*world.Section) {
	for _, s := range candidates {
		if !s.NeedsCompile() {
			continue
		}
		_, edited := modified[s.Pos()]
		if p.Budget > 0 && (edited || s.Pos().Distance(camera) <= p.Radius) {
			sync = append(sync, s)
		} else {
			async = append(async, s)
		}
	}

	if len(sync) > p.Budget {
		slices.SortStableFunc(sync, func(a, b *world.Section) int {
			return cmp.Compare(a.Pos().Distance(camera), b.Pos().Distance(camera))
		})
		async = append(async, sync[p.Budget:]...)
		sync = sync[:p.Budget:p.Budget]
	}
	return sync, async
}
