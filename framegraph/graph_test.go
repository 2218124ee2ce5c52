package framegraph

import (
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/gogpu/voxelframe/internal/gpucore"
	"github.com/gogpu/voxelframe/internal/gpucore/gputest"
)

// fakeAlloc hands out targets with fresh texture IDs and records traffic.
type fakeAlloc struct {
	next     gpucore.TextureID
	free     []*Target
	live     map[*Target]bool
	acquires int
	releases int
	fail     error
}

func newFakeAlloc() *fakeAlloc {
	return &fakeAlloc{live: make(map[*Target]bool)}
}

func (a *fakeAlloc) Acquire(desc Descriptor) (*Target, error) {
	if a.fail != nil {
		return nil, a.fail
	}
	a.acquires++
	for i, t := range a.free {
		if t.Desc.key() == desc.key() {
			a.free = slices.Delete(a.free, i, i+1)
			a.live[t] = true
			return t, nil
		}
	}
	a.next++
	t := &Target{Label: fmt.Sprint("t", a.next), Color: a.next, Desc: desc}
	a.live[t] = true
	return t, nil
}

func (a *fakeAlloc) Release(t *Target) {
	a.releases++
	delete(a.live, t)
	a.free = append(a.free, t)
}

// gpuMemory simulates texture contents.
type gpuMemory map[gpucore.TextureID]string

var small = Descriptor{Width: 64, Height: 64}

func TestExecuteOrderAndInspector(t *testing.T) {
	g := New()
	main := g.Import("main", &Target{Color: 100})

	var order []string
	for _, name := range []string{"clear", "sky", "opaque"} {
		g.AddPass(name).ReadsAndWrites(&main).Execute(func(pc *PassContext) error {
			order = append(order, pc.Name())
			return nil
		})
	}

	rec := &Recorder{}
	if err := g.Execute(newFakeAlloc(), rec); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := []string{"clear", "sky", "opaque"}
	if !slices.Equal(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if !slices.Equal(rec.Names(), want) {
		t.Errorf("inspector saw %v, want %v", rec.Names(), want)
	}
}

func TestReaderObservesLatestWriterAcrossReallocation(t *testing.T) {
	g := New()
	mem := gpuMemory{}
	scene := g.Create("scene", small)

	g.AddPass("draw").ReadsAndWrites(&scene).Execute(func(pc *PassContext) error {
		tgt, err := pc.Target(scene)
		if err != nil {
			return err
		}
		mem[tgt.Color] = "draw"
		return nil
	})

	var before, after gpucore.TextureID
	g.AddPass("resize").ReadsAndWrites(&scene).Execute(func(pc *PassContext) error {
		old, err := pc.Target(scene)
		if err != nil {
			return err
		}
		before = old.Color
		tgt, err := pc.Reallocate(scene, Descriptor{Width: 128, Height: 128})
		if err != nil {
			return err
		}
		after = tgt.Color
		mem[tgt.Color] = mem[old.Color] + "+resize"
		return nil
	})

	var seen string
	g.AddPass("post").Reads(scene).Execute(func(pc *PassContext) error {
		tgt, err := pc.Target(scene)
		if err != nil {
			return err
		}
		seen = mem[tgt.Color]
		return nil
	})

	if err := g.Execute(newFakeAlloc(), nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if before == after {
		t.Fatal("reallocation kept the same backing")
	}
	if seen != "draw+resize" {
		t.Errorf("reader observed %q, want the resize pass's output", seen)
	}
}

func TestInternalTargetsReleasedAfterLastUse(t *testing.T) {
	g := New()
	a := g.Create("a", small)
	b := g.Create("b", small)
	alloc := newFakeAlloc()

	var aColor, bColor gpucore.TextureID
	g.AddPass("write-a").ReadsAndWrites(&a).Execute(func(pc *PassContext) error {
		tgt, _ := pc.Target(a)
		aColor = tgt.Color
		return nil
	})
	g.AddPass("write-b").ReadsAndWrites(&b).Execute(func(pc *PassContext) error {
		tgt, _ := pc.Target(b)
		bColor = tgt.Color
		if len(alloc.live) != 1 {
			return fmt.Errorf("%d targets live during write-b, want 1", len(alloc.live))
		}
		return nil
	})

	if err := g.Execute(alloc, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if aColor != bColor {
		t.Errorf("b did not alias a's released memory: %d vs %d", aColor, bColor)
	}
	if len(alloc.live) != 0 {
		t.Errorf("%d targets still acquired after Execute", len(alloc.live))
	}
	if alloc.acquires != alloc.releases {
		t.Errorf("acquires = %d, releases = %d", alloc.acquires, alloc.releases)
	}
}

func TestUnusedInternalTargetNeverAllocated(t *testing.T) {
	g := New()
	g.Create("unused", small)
	g.AddPass("noop").Execute(func(*PassContext) error { return nil })

	alloc := newFakeAlloc()
	if err := g.Execute(alloc, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if alloc.acquires != 0 {
		t.Errorf("acquires = %d, want 0", alloc.acquires)
	}
}

func TestMissingImportFailsBeforeAnyPass(t *testing.T) {
	g := New()
	h := g.Import("shadow", nil)
	ran := false
	g.AddPass("first").Execute(func(*PassContext) error { ran = true; return nil })
	g.AddPass("uses").Reads(h).Execute(func(*PassContext) error { return nil })

	err := g.Execute(newFakeAlloc(), nil)
	if !errors.Is(err, ErrMissingResource) {
		t.Fatalf("err = %v, want ErrMissingResource", err)
	}
	if ran {
		t.Error("a pass ran despite the configuration error")
	}
}

func TestStaleHandle(t *testing.T) {
	g := New()
	main := g.Create("main", small)
	old := main
	g.AddPass("a").ReadsAndWrites(&main)
	g.AddPass("b").ReadsAndWrites(&old) // old was written past by "a"

	if err := g.Execute(newFakeAlloc(), nil); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("err = %v, want ErrStaleHandle", err)
	}

	g = New()
	main = g.Create("main", small)
	old = main
	g.AddPass("a").ReadsAndWrites(&main)
	g.AddPass("b").Reads(old)
	if err := g.Execute(newFakeAlloc(), nil); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("stale read: err = %v, want ErrStaleHandle", err)
	}
}

func TestForeignHandle(t *testing.T) {
	other := New()
	other.Create("x", small)
	other.Create("y", small)
	h2 := other.Create("z", small)

	g := New()
	g.AddPass("a").Reads(h2)
	if err := g.Execute(newFakeAlloc(), nil); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("err = %v, want ErrUnknownHandle", err)
	}
}

func TestUndeclaredAccess(t *testing.T) {
	g := New()
	a := g.Create("a", small)
	b := g.Create("b", small)
	g.AddPass("write-a").ReadsAndWrites(&a)

	var readErr, reallocErr error
	g.AddPass("read-a").Reads(a).Execute(func(pc *PassContext) error {
		_, readErr = pc.Target(b)
		_, reallocErr = pc.Reallocate(a, small)
		return nil
	})
	if err := g.Execute(newFakeAlloc(), nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !errors.Is(readErr, ErrUnknownHandle) {
		t.Errorf("undeclared read: err = %v", readErr)
	}
	if !errors.Is(reallocErr, ErrUnknownHandle) {
		t.Errorf("reallocate without write: err = %v", reallocErr)
	}
}

func TestReallocateImported(t *testing.T) {
	g := New()
	main := g.Import("main", &Target{Color: 1})
	var err error
	g.AddPass("resize").ReadsAndWrites(&main).Execute(func(pc *PassContext) error {
		_, err = pc.Reallocate(main, small)
		return nil
	})
	if e := g.Execute(newFakeAlloc(), nil); e != nil {
		t.Fatalf("Execute: %v", e)
	}
	if !errors.Is(err, ErrImported) {
		t.Errorf("err = %v, want ErrImported", err)
	}
}

func TestPassFailureAbortsFrame(t *testing.T) {
	g := New()
	scene := g.Create("scene", small)
	alloc := newFakeAlloc()
	boom := errors.New("boom")

	g.AddPass("ok").ReadsAndWrites(&scene).Execute(func(*PassContext) error { return nil })
	g.AddPass("bad").ReadsAndWrites(&scene).Execute(func(*PassContext) error { return boom })
	ranAfter := false
	g.AddPass("after").Reads(scene).Execute(func(*PassContext) error { ranAfter = true; return nil })

	rec := &Recorder{}
	err := g.Execute(alloc, rec)
	if !errors.Is(err, ErrPassFailed) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrPassFailed wrapping boom", err)
	}
	if ranAfter {
		t.Error("pass after the failure ran")
	}
	if len(alloc.live) != 0 {
		t.Errorf("%d targets leaked after failure", len(alloc.live))
	}
	if n := len(rec.Passes); n != 2 || rec.Passes[1].Err != boom {
		t.Errorf("inspector records = %+v", rec.Passes)
	}
}

func TestAllocatorFailure(t *testing.T) {
	g := New()
	a := g.Create("a", small)
	g.AddPass("a").ReadsAndWrites(&a).Execute(func(*PassContext) error { return nil })

	alloc := newFakeAlloc()
	alloc.fail = errors.New("out of memory")
	if err := g.Execute(alloc, nil); !errors.Is(err, alloc.fail) {
		t.Errorf("err = %v, want allocator error", err)
	}
}

func TestExecuteTwice(t *testing.T) {
	g := New()
	if err := g.Execute(nil, nil); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if err := g.Execute(nil, nil); !errors.Is(err, ErrAlreadyExecuted) {
		t.Errorf("err = %v, want ErrAlreadyExecuted", err)
	}
}

func TestExecuteWithTargetPool(t *testing.T) {
	adapter := gputest.New()
	pool := NewTargetPool(adapter, 2)
	defer pool.Close()

	for frame := range 3 {
		g := New()
		a := g.Create("a", Descriptor{Width: 32, Height: 32, HasDepth: true})
		g.AddPass("a").ReadsAndWrites(&a).Execute(func(pc *PassContext) error {
			tgt, err := pc.Target(a)
			if err != nil {
				return err
			}
			return adapter.ClearTarget(tgt.Color, tgt.Depth, small.ClearColor)
		})
		if err := g.Execute(pool, nil); err != nil {
			t.Fatalf("frame %d: %v", frame, err)
		}
		pool.EndFrame()
	}

	s := pool.Stats()
	if s.Created != 1 || s.Reused != 2 {
		t.Errorf("created/reused = %d/%d, want 1/2", s.Created, s.Reused)
	}
	if adapter.TexturesCreated != 2 {
		t.Errorf("TexturesCreated = %d, want color+depth", adapter.TexturesCreated)
	}
	if adapter.Clears != 3 {
		t.Errorf("Clears = %d, want 3", adapter.Clears)
	}
}
