// Package untyped slices firmware-reported physical RAM banks, outside the
// kernel image, into maximally aligned power-of-two "untyped" regions —
// the raw material the rest of boot retypes into kernel objects.
//
// The carving algorithm (the greedy min-of-two-trailing-zero-counts slice)
// is ported from the upstream Rust kernel's init_cspace_populate_untyped
// in kernel/src/arch/arm/boot.rs, which also splits each bank into a
// below-kernel-image window and an above-kernel-image window before
// carving either one; the window bounds themselves follow this module's
// exclusion rule (strictly below/above [kernel_base, kernel_top)) rather
// than boot.rs's own bounds — see PopulateFromBank.
package untyped

import (
	"fmt"

	"github.com/michaelengel/lakeos-go/internal/addr"
	"github.com/michaelengel/lakeos-go/internal/atag"
)

// Region is one installed untyped capability's backing description.
// size_bits > 4 always holds for an installed Region (spec.md §3 invariant
// — the carver drops slivers at or below 16 bytes before ever constructing
// one of these).
type Region struct {
	Base     addr.PA
	SizeBits uint
	IsDevice bool
}

func (r Region) Size() uint64 { return 1 << r.SizeBits }

// minUntypedBits is the carver's drop threshold: blocks of size_bits <= 4
// (<=16 bytes) are discarded rather than installed. Preserved verbatim per
// the spec's "Open question — untyped threshold": the code installs blocks
// only for size_bits > 4 and that floor is kept as-is absent a documented
// rationale for 4 KiB.
const minUntypedBits = 4

// reservedLowBytes is the first-4KiB-of-RAM guard against null-pointer
// traps and firmware stubs that every bank's start is raised to at least.
const reservedLowBytes = 0x1000

// CarveRegion greedily slices [start, end) into maximally aligned
// power-of-two blocks and appends the ones with size_bits > minUntypedBits
// to out, dropping the rest. It returns the updated slice and the number
// of bytes dropped as slivers (for the partition-property test: installed
// bytes + dropped bytes == end-start).
//
// Not concurrency-safe and not meant to be: the carver runs once per bank,
// strictly sequentially, during the single-threaded boot path (spec.md §5).
func CarveRegion(out []Region, start, end uint64, isDevice bool) ([]Region, uint64, error) {
	if end < start {
		return nil, 0, fmt.Errorf("untyped: region end %#x precedes start %#x", end, start)
	}

	var dropped uint64
	cur := start
	for cur < end {
		remaining := end - cur
		// trailing_zeros(cur) models alignment of the base (infinite, i.e.
		// 64, when cur==0); the other term is the largest block that still
		// fits in what remains of the window (the largest power of two
		// <= remaining, so an exact power-of-two remainder is one block).
		fitBits := addr.TrailingZeros64(addr.NextPowerOfTwo(remaining+1) / 2)
		alignBits := addr.TrailingZeros64(cur)
		bitSz := fitBits
		if alignBits < bitSz {
			bitSz = alignBits
		}

		size := uint64(1) << bitSz
		if cur%size != 0 {
			return nil, 0, fmt.Errorf("untyped: carving produced misaligned block base=%#x size=%#x", cur, size)
		}

		if bitSz > minUntypedBits {
			out = append(out, Region{Base: addr.PA(cur), SizeBits: bitSz, IsDevice: isDevice})
		} else {
			dropped += size
		}
		cur += size
	}
	return out, dropped, nil
}

// PopulateFromBank carves one firmware-reported bank into the window
// strictly below the kernel image, [max(start,0x1000), min(end,
// kernel_base)), and the window strictly above it, [max(start,
// kernel_top), end) — the exact split spec.md §4.2 gives, which differs
// from the upstream boot.rs's own window bounds (that version ends the
// below-kernel window at kernel_top and starts the above-kernel window at
// kernel_base, which on a PHYS_BASE=0 system carves straight through the
// kernel image instead of excluding it). kernelTop is
// next_power_of_two(end of kernel image - KERNEL_OFFSET); kernelBase is
// addr.PhysBase.
func PopulateFromBank(out []Region, bank atag.MemTag, kernelBase, kernelTop uint64) ([]Region, error) {
	memStart := bank.Start
	if memStart < reservedLowBytes {
		memStart = reservedLowBytes
	}
	memEnd := bank.Start + bank.Size

	var err error
	belowStart := memStart
	belowEnd := memEnd
	if kernelBase < belowEnd {
		belowEnd = kernelBase
	}
	if belowStart < belowEnd {
		out, _, err = CarveRegion(out, belowStart, belowEnd, false)
		if err != nil {
			return nil, fmt.Errorf("untyped: below-kernel window: %w", err)
		}
	}

	aboveStart := memStart
	if kernelTop > aboveStart {
		aboveStart = kernelTop
	}
	if aboveStart < memEnd {
		out, _, err = CarveRegion(out, aboveStart, memEnd, false)
		if err != nil {
			return nil, fmt.Errorf("untyped: above-kernel window: %w", err)
		}
	}

	return out, nil
}

// PopulateFromSource enumerates every Atag::Mem bank from src, in list
// order, and carves each against the kernel image exclusion.
func PopulateFromSource(src atag.Source, kernelBase, kernelTop uint64) ([]Region, error) {
	banks, err := src.Banks()
	if err != nil {
		return nil, fmt.Errorf("untyped: enumerate memory banks: %w", err)
	}

	var regions []Region
	for _, b := range banks {
		regions, err = PopulateFromBank(regions, b, kernelBase, kernelTop)
		if err != nil {
			return nil, err
		}
	}
	return regions, nil
}
