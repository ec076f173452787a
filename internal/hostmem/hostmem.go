// Package hostmem is the hosted backing store for retyped kernel objects:
// it hands out a fresh, zeroed Go-side buffer for every Materialize call,
// the hosted-harness stand-in for "retype doesn't move bytes, it just
// changes how existing physical memory is interpreted" on real hardware.
// TCBs, VTables (translation tables), and RAM (frame) objects are all
// materialized through it, so the VSpace mapper and ELF loader can read
// and mutate their contents as plain Go values during tests and under
// cmd/bootsim, exactly like a real implementation would through an
// identity-mapped kernel VA.
package hostmem

import (
	"fmt"

	"github.com/michaelengel/lakeos-go/internal/addr"
	"github.com/michaelengel/lakeos-go/internal/cspace"
	"github.com/michaelengel/lakeos-go/internal/ptable"
)

// Pool is a cspace.ObjectAllocator that backs every retyped object with
// real host memory, addressed by a monotonically increasing fake
// kernel-virtual address. Not concurrency-safe, matching every other
// piece of single-threaded boot-time allocator state (spec.md §5).
type Pool struct {
	nextVA addr.VA
	tables map[addr.VA]*ptable.Table
	frames map[addr.VA][]byte
	tcbs   map[addr.VA]struct{}
}

// baseVA is an arbitrary but fixed fake kernel VA range for hosted
// objects, chosen well clear of addr.KernelOffset so accidental collisions
// with real kernel-mapping math stand out in test failures.
const baseVA = addr.VA(0x0000_7000_0000_0000)

func NewPool() *Pool {
	return &Pool{
		nextVA: baseVA,
		tables: make(map[addr.VA]*ptable.Table),
		frames: make(map[addr.VA][]byte),
		tcbs:   make(map[addr.VA]struct{}),
	}
}

// Materialize implements cspace.ObjectAllocator.
func (p *Pool) Materialize(kind cspace.Kind, pa addr.PA, size uint64) (addr.VA, error) {
	va := p.nextVA
	p.nextVA += addr.VA(size)

	switch kind {
	case cspace.VTable:
		t := ptable.Zero()
		p.tables[va] = &t
	case cspace.RAM:
		p.frames[va] = make([]byte, size)
	case cspace.TCB:
		// The TCB struct itself lives in trapframe.TCB, owned by the
		// caller; retyping one only needs to reserve a VA so the
		// bump-allocator bookkeeping (consumed bytes, cursor) stays
		// faithful to spec.md's "backing storage" framing.
		p.tcbs[va] = struct{}{}
	default:
		return 0, fmt.Errorf("hostmem: unsupported object kind %v", kind)
	}
	return va, nil
}

// Table returns the translation table materialized at va, or nil.
func (p *Pool) Table(va addr.VA) *ptable.Table { return p.tables[va] }

// Frame returns the 4 KiB frame buffer materialized at va, or nil.
func (p *Pool) Frame(va addr.VA) []byte { return p.frames[va] }
