package world

import (
	"encoding/binary"
	"math/bits"

	"github.com/twmb/murmur3"
)

const volumeWords = SectionSize * SectionSize * SectionSize / 64

// Volume is the block occupancy of one section: one bit per block, set
// when the block is opaque.
//
// Blocks are indexed (y*16+z)*16+x, the order Anvil block states use.
type Volume struct {
	bits [volumeWords]uint64
}

// NewVolume returns an empty volume.
func NewVolume() *Volume { return &Volume{} }

// SolidVolume returns a volume with every block opaque.
func SolidVolume() *Volume {
	v := &Volume{}
	for i := range v.bits {
		v.bits[i] = ^uint64(0)
	}
	return v
}

func blockIndex(x, y, z int) int {
	return (y*SectionSize+z)*SectionSize + x
}

// Set marks the block at x, y, z opaque or clear.
// Coordinates are section-local and must be in [0, 16).
func (v *Volume) Set(x, y, z int, opaque bool) {
	i := blockIndex(x, y, z)
	if opaque {
		v.bits[i>>6] |= 1 << (i & 63)
	} else {
		v.bits[i>>6] &^= 1 << (i & 63)
	}
}

// Opaque reports whether the block at x, y, z is opaque.
func (v *Volume) Opaque(x, y, z int) bool {
	i := blockIndex(x, y, z)
	return v.bits[i>>6]&(1<<(i&63)) != 0
}

// Count returns the number of opaque blocks.
func (v *Volume) Count() int {
	n := 0
	for _, w := range v.bits {
		n += bits.OnesCount64(w)
	}
	return n
}

// Empty reports whether no block is opaque.
func (v *Volume) Empty() bool {
	for _, w := range v.bits {
		if w != 0 {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (v *Volume) Clone() *Volume {
	c := *v
	return &c
}

// FaceOpaque reports whether every block on the boundary layer facing d
// is opaque.
func (v *Volume) FaceOpaque(d Direction) bool {
	const last = SectionSize - 1
	for a := range SectionSize {
		for b := range SectionSize {
			var x, y, z int
			switch d {
			case Down:
				x, y, z = a, 0, b
			case Up:
				x, y, z = a, last, b
			case North:
				x, y, z = a, b, 0
			case South:
				x, y, z = a, b, last
			case West:
				x, y, z = 0, a, b
			case East:
				x, y, z = last, a, b
			}
			if !v.Opaque(x, y, z) {
				return false
			}
		}
	}
	return true
}

// OpaqueFaces returns the set of fully opaque boundary faces.
func (v *Volume) OpaqueFaces() FaceMask {
	var m FaceMask
	for _, d := range Directions {
		if v.FaceOpaque(d) {
			m = m.With(d)
		}
	}
	return m
}

// Fingerprint returns a content hash. Equal volumes have equal
// fingerprints.
func (v *Volume) Fingerprint() uint64 {
	var buf [volumeWords * 8]byte
	for i, w := range v.bits {
		binary.LittleEndian.PutUint64(buf[i*8:], w)
	}
	return murmur3.Sum64(buf[:])
}
