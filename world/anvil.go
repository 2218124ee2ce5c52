package world

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Tnze/go-mc/level"
	"github.com/Tnze/go-mc/save"
	"github.com/Tnze/go-mc/save/region"
)

// SectionData is one section read from disk, ready for Store.Load.
type SectionData struct {
	Pos    SectionPos
	Volume *Volume
}

const blocksPerSection = SectionSize * SectionSize * SectionSize

// ReadRegion decodes every generated chunk in an Anvil region file.
//
// ReadRegion touches no Store, so several regions can be read
// concurrently and loaded afterwards on the render goroutine.
func ReadRegion(path string) ([]SectionData, error) {
	reg, err := region.Open(path)
	if err != nil {
		return nil, fmt.Errorf("world: open region %s: %w", path, err)
	}
	defer reg.Close()

	var out []SectionData
	for x := range 32 {
		for z := range 32 {
			sector, err := reg.ReadSector(x, z)
			if errors.Is(err, region.ErrNoSector) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("world: read chunk %d,%d of %s: %w", x, z, path, err)
			}
			if len(sector) == 0 {
				return nil, fmt.Errorf("world: chunk %d,%d of %s: sector is out of bounds", x, z, path)
			}

			var chunk save.Chunk
			if err := chunk.Load(sector); err != nil {
				return nil, fmt.Errorf("world: decode chunk %d,%d of %s: %w", x, z, path, err)
			}
			if !chunkGenerated(chunk.Status) {
				continue
			}
			out = append(out, chunkSections(&chunk)...)
		}
	}
	return out, nil
}

// LoadRegion reads a region file and loads its sections into st.
func LoadRegion(st *Store, path string) (int, error) {
	data, err := ReadRegion(path)
	if err != nil {
		return 0, err
	}
	for _, d := range data {
		st.Load(d.Pos, d.Volume)
	}
	return len(data), nil
}

func chunkGenerated(status string) bool {
	switch status {
	case "minecraft:full", "minecraft:spawn", "minecraft:postprocessed", "minecraft:fullchunk":
		return true
	}
	return false
}

func chunkSections(chunk *save.Chunk) []SectionData {
	out := make([]SectionData, 0, len(chunk.Sections))
	for _, sec := range chunk.Sections {
		vol := sectionVolume(&sec)
		if vol == nil {
			continue
		}
		out = append(out, SectionData{
			Pos:    SectionPos{X: chunk.XPos, Y: int32(sec.Y), Z: chunk.ZPos},
			Volume: vol,
		})
	}
	return out
}

// sectionVolume converts block states to occupancy. It returns nil for a
// section without block states.
func sectionVolume(sec *save.Section) *Volume {
	palette := sec.BlockStates.Palette
	if len(palette) == 0 {
		return nil
	}

	opaque := make([]bool, len(palette))
	hasOpaque := false
	for i, state := range palette {
		opaque[i] = opaqueBlock(state.Name)
		hasOpaque = hasOpaque || opaque[i]
	}
	if !hasOpaque {
		return NewVolume()
	}
	if len(palette) == 1 || len(sec.BlockStates.Data) == 0 {
		if opaque[0] {
			return SolidVolume()
		}
		return NewVolume()
	}

	storage := level.NewBitStorage(bitsPerValue(blocksPerSection, len(sec.BlockStates.Data)), blocksPerSection, sec.BlockStates.Data)
	vol := NewVolume()
	for i := range blocksPerSection {
		idx := storage.Get(i)
		if idx < len(opaque) && opaque[idx] {
			vol.bits[i>>6] |= 1 << (i & 63)
		}
	}
	return vol
}

func bitsPerValue(length, longs int) int {
	if longs == 0 || length == 0 {
		return 0
	}
	valuesPerLong := (length + longs - 1) / longs
	return 64 / valuesPerLong
}

// opaqueBlock reports whether a block fully hides what is behind it.
// Only air, fluids and plant-like blocks are treated as see-through; the
// rest of the block shape catalog is the mesh baker's concern.
func opaqueBlock(name string) bool {
	name = strings.TrimPrefix(name, "minecraft:")
	switch name {
	case "air", "cave_air", "void_air", "water", "lava", "bubble_column",
		"grass", "short_grass", "tall_grass", "fern", "large_fern",
		"snow", "ice", "light", "barrier":
		return false
	}
	for _, suffix := range []string{"glass", "glass_pane", "leaves", "_slab", "_stairs",
		"_fence", "_fence_gate", "_door", "_trapdoor", "_sign", "_wall", "torch",
		"_flower", "_sapling", "_carpet", "_button", "_pressure_plate", "_rail", "rail"} {
		if strings.HasSuffix(name, suffix) {
			return false
		}
	}
	return true
}
