package stream

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/voxelframe/internal/gpucore/gputest"
)

func newTestArena(t *testing.T, adapter *gputest.Adapter, valueSize uint64, capacity int) *UniformArena {
	t.Helper()
	a, err := NewUniformArena(adapter, "uniforms", valueSize, capacity)
	if err != nil {
		t.Fatalf("NewUniformArena: %v", err)
	}
	return a
}

func value(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestUniformArenaBlockSizeAligned(t *testing.T) {
	tests := []struct {
		name      string
		align     uint64
		valueSize uint64
		want      uint64
	}{
		{"exact", 64, 64, 64},
		{"round up", 256, 64, 256},
		{"two blocks", 256, 300, 512},
		{"small alignment", 16, 20, 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := gputest.New()
			adapter.Alignment = tt.align
			a := newTestArena(t, adapter, tt.valueSize, 4)
			defer a.Close()
			if a.BlockSize() != tt.want {
				t.Errorf("BlockSize = %d, want %d", a.BlockSize(), tt.want)
			}
		})
	}
}

func TestUniformArenaCapacityRoundedToPowerOfTwo(t *testing.T) {
	a := newTestArena(t, gputest.New(), 64, 5)
	defer a.Close()
	if a.Capacity() != 8 {
		t.Errorf("Capacity = %d, want 8", a.Capacity())
	}
}

func TestUniformArenaDedupConsecutive(t *testing.T) {
	adapter := gputest.New()
	a := newTestArena(t, adapter, 64, 4)
	defer a.Close()

	s1, err := a.Write(value(1, 64))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	writes := adapter.Writes
	s2, err := a.Write(value(1, 64))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if s1 != s2 {
		t.Errorf("equal consecutive writes returned %+v and %+v", s1, s2)
	}
	if adapter.Writes != writes {
		t.Errorf("duplicate write reached the GPU")
	}
	if a.NextBlock() != 1 {
		t.Errorf("NextBlock = %d, want 1", a.NextBlock())
	}

	s3, _ := a.Write(value(2, 64))
	s4, _ := a.Write(value(1, 64))
	if s3 == s1 || s4 == s1 {
		t.Error("non-consecutive equal value must get a new block")
	}
	if a.NextBlock() != 3 {
		t.Errorf("NextBlock = %d, want 3", a.NextBlock())
	}
}

func TestUniformArenaDedupComparesBytes(t *testing.T) {
	adapter := gputest.New()
	a := newTestArena(t, adapter, 64, 8)
	defer a.Close()

	buf := value(1, 64)
	s1, _ := a.Write(buf)

	// The arena keeps its own copy; reusing the caller's buffer is safe.
	buf[63] ^= 0xff
	s2, _ := a.Write(buf)
	if s2 == s1 {
		t.Error("value differing in its last byte was deduplicated")
	}

	s3, _ := a.Write(buf[:32])
	if s3 == s2 {
		t.Error("shorter prefix of the last value was deduplicated")
	}
	if a.NextBlock() != 3 {
		t.Errorf("NextBlock = %d, want 3", a.NextBlock())
	}
}

func TestUniformArenaGrowthScenario(t *testing.T) {
	adapter := gputest.New()
	adapter.Alignment = 64
	a := newTestArena(t, adapter, 64, 2)
	defer a.Close()

	for i := range 3 {
		if _, err := a.Write(value(byte(i+1), 64)); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	if a.Capacity() != 4 {
		t.Errorf("Capacity = %d, want 4", a.Capacity())
	}
	if a.NextBlock() != 3 {
		t.Errorf("NextBlock = %d, want 3", a.NextBlock())
	}
}

func TestUniformArenaGrowsToSmallestPowerOfTwo(t *testing.T) {
	tests := []struct {
		capacity, writes, want int
	}{
		{2, 3, 4},
		{2, 5, 8},
		{4, 5, 8},
		{4, 9, 16},
		{1, 2, 2},
		{8, 100, 128},
	}
	for _, tt := range tests {
		adapter := gputest.New()
		adapter.Alignment = 64
		a := newTestArena(t, adapter, 64, tt.capacity)
		for i := range tt.writes {
			if _, err := a.Write(value(byte(i%250+1), 64)); err != nil {
				t.Fatalf("Write %d: %v", i, err)
			}
		}
		if a.Capacity() != tt.want {
			t.Errorf("C=%d W=%d: Capacity = %d, want %d", tt.capacity, tt.writes, a.Capacity(), tt.want)
		}
		a.Close()
	}
}

func TestUniformArenaRetiredClosedAtEndFrame(t *testing.T) {
	adapter := gputest.New()
	adapter.Alignment = 64
	adapter.AutoSignal = true
	a := newTestArena(t, adapter, 64, 2)
	defer a.Close()

	first, _ := a.Write(value(1, 64))
	_, _ = a.Write(value(2, 64))
	_, _ = a.Write(value(3, 64)) // grows

	if a.PendingRetirement() != 1 {
		t.Fatalf("PendingRetirement = %d, want 1", a.PendingRetirement())
	}
	if !adapter.BufferAlive(first.Buffer) {
		t.Fatal("retired buffer closed before EndFrame")
	}

	if err := a.EndFrame(); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
	if adapter.BufferAlive(first.Buffer) {
		t.Error("retired buffer still alive after EndFrame")
	}
	if a.PendingRetirement() != 0 {
		t.Errorf("PendingRetirement = %d, want 0", a.PendingRetirement())
	}
	if a.NextBlock() != 0 {
		t.Errorf("NextBlock = %d, want 0", a.NextBlock())
	}
	if a.Capacity() != 4 {
		t.Errorf("Capacity shrank to %d", a.Capacity())
	}
}

func TestUniformArenaEndFrameForgetsLastValue(t *testing.T) {
	adapter := gputest.New()
	adapter.AutoSignal = true
	a := newTestArena(t, adapter, 64, 4)
	defer a.Close()

	s1, _ := a.Write(value(7, 64))
	if err := a.EndFrame(); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
	s2, _ := a.Write(value(7, 64))
	if s1.Buffer == s2.Buffer {
		t.Error("write after EndFrame landed in the same physical buffer")
	}
	if a.NextBlock() != 1 {
		t.Errorf("NextBlock = %d, want 1 (no dedup across frames)", a.NextBlock())
	}
}

func TestUniformArenaWriteAll(t *testing.T) {
	adapter := gputest.New()
	adapter.Alignment = 64
	a := newTestArena(t, adapter, 64, 2)
	defer a.Close()

	_, _ = a.Write(value(9, 64))
	writes := adapter.Writes

	vals := [][]byte{value(1, 64), value(1, 64), value(2, 64), value(3, 64), value(4, 64)}
	slices, err := a.WriteAll(vals)
	if err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if adapter.Writes != writes+1 {
		t.Errorf("WriteAll issued %d uploads, want 1", adapter.Writes-writes)
	}
	if len(slices) != len(vals) {
		t.Fatalf("got %d slices, want %d", len(slices), len(vals))
	}
	if slices[0] == slices[1] {
		t.Error("WriteAll must not deduplicate")
	}
	if a.Capacity() != 8 {
		t.Errorf("Capacity = %d, want 8", a.Capacity())
	}
	if a.NextBlock() != 6 {
		t.Errorf("NextBlock = %d, want 6", a.NextBlock())
	}

	data := adapter.Bytes(slices[2].Buffer)
	if got := data[slices[2].Offset]; got != 2 {
		t.Errorf("block 2 holds %d, want 2", got)
	}

	// The final element is now the last-written value.
	s, _ := a.Write(value(4, 64))
	if s != slices[4] {
		t.Errorf("Write after WriteAll = %+v, want dedup to %+v", s, slices[4])
	}
}

func TestUniformArenaRejectsBadValues(t *testing.T) {
	a := newTestArena(t, gputest.New(), 64, 2)
	defer a.Close()

	if _, err := a.Write(nil); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("nil value: err = %v, want ErrInvalidSize", err)
	}
	if _, err := a.Write(value(1, 65)); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("oversized value: err = %v, want ErrInvalidSize", err)
	}
}

func TestUniformArenaClosed(t *testing.T) {
	adapter := gputest.New()
	a := newTestArena(t, adapter, 64, 2)
	a.Close()
	a.Close()

	if adapter.LiveBuffers() != 0 {
		t.Errorf("LiveBuffers = %d, want 0", adapter.LiveBuffers())
	}
	if _, err := a.Write(value(1, 64)); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	if err := a.EndFrame(); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}
