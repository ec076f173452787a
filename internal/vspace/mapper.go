package vspace

import (
	"fmt"

	"github.com/michaelengel/lakeos-go/internal/addr"
	"github.com/michaelengel/lakeos-go/internal/cspace"
	"github.com/michaelengel/lakeos-go/internal/ptable"
)

// MapFrame implements map_frame (spec.md §4.4): it ensures vaddr in the
// VSpace rooted at rootVA is backed by a fresh 4 KiB RAM frame with
// permission perm, retyping any missing PUD/PD/PT table on demand out of
// untypedSlot, and returns the frame's kernel-virtual address so the
// caller (the ELF loader) can copy into it.
//
// Re-mapping a vaddr that already has a leaf is a programmer error per
// spec.md §3 and is reported as an error here rather than silently
// overwritten or reached via a panic.
func MapFrame(cnode *cspace.CNode, cur *cspace.Cursor, untypedSlot int, alloc cspace.ObjectAllocator, pool Pool, rootVA addr.VA, vaddr addr.VA, perm ptable.Permission) (addr.VA, error) {
	pgd := pool.Table(rootVA)
	if pgd == nil {
		return 0, fmt.Errorf("vspace: map_frame: root table %#x not materialized", rootVA)
	}

	pudVA, err := nextLevel(cnode, cur, untypedSlot, alloc, pool, pgd, addr.Index(vaddr, 0))
	if err != nil {
		return 0, fmt.Errorf("vspace: map_frame: walk PGD: %w", err)
	}
	pud := pool.Table(pudVA)

	pdVA, err := nextLevel(cnode, cur, untypedSlot, alloc, pool, pud, addr.Index(vaddr, 1))
	if err != nil {
		return 0, fmt.Errorf("vspace: map_frame: walk PUD: %w", err)
	}
	pd := pool.Table(pdVA)

	ptVA, err := nextLevel(cnode, cur, untypedSlot, alloc, pool, pd, addr.Index(vaddr, 2))
	if err != nil {
		return 0, fmt.Errorf("vspace: map_frame: walk PD: %w", err)
	}
	pt := pool.Table(ptVA)

	leafIdx := addr.Index(vaddr, 3)
	if pt[leafIdx].Valid() {
		return 0, fmt.Errorf("vspace: map_frame: vaddr %#x already mapped", vaddr)
	}

	frameSlot := cur.Next()
	if frameSlot >= cnode.Len() {
		return 0, fmt.Errorf("vspace: map_frame: out of slots allocating frame for %#x", vaddr)
	}
	if err := cspace.Retype(cnode, untypedSlot, frameSlot, cspace.RAM, addr.PageShift, alloc); err != nil {
		return 0, fmt.Errorf("vspace: map_frame: retype frame: %w", err)
	}

	frameVA := cnode.Slots[frameSlot].ObjectVA
	pt[leafIdx] = ptable.PageEntry(uint64(frameVA), perm)
	return frameVA, nil
}
