package cspace

import (
	"fmt"

	"github.com/michaelengel/lakeos-go/internal/addr"
	"github.com/michaelengel/lakeos-go/internal/untyped"
)

// ObjectAllocator carves storage out of host memory for a newly retyped
// kernel object, so the hosted implementation has real bytes to hand back
// as an object's kernel-virtual address. The freestanding build's
// implementation instead just returns the untyped region's own
// (identity-mapped) kernel VA, since on real hardware a retype doesn't
// move any bytes around, it only changes how the capability kernel
// interprets memory that is already there.
type ObjectAllocator interface {
	// Materialize returns a kernel-virtual address backing a freshly
	// retyped, zero-initialized object of the given kind and size at pa.
	Materialize(kind Kind, pa addr.PA, size uint64) (addr.VA, error)
}

// Retype carves a 2^sizeBits object of the given Kind out of the Untyped
// cap in slot untypedSlot, bump-allocating from whatever of that untyped
// capacity is unconsumed, and writes the resulting cap into destSlot.
// Successive calls against the same untypedSlot consume it further, as
// spec.md §4.3 describes ("the untyped cap is partially consumed;
// successive retypes bump-allocate from it").
func Retype(cnode *CNode, untypedSlot, destSlot int, kind Kind, sizeBits uint, alloc ObjectAllocator) error {
	if untypedSlot < 0 || untypedSlot >= cnode.Len() {
		return fmt.Errorf("cspace: retype: untyped slot %d out of range", untypedSlot)
	}
	if destSlot < 0 || destSlot >= cnode.Len() {
		return fmt.Errorf("cspace: retype: destination slot %d out of range", destSlot)
	}

	src := &cnode.Slots[untypedSlot]
	if src.Kind != Untyped {
		return fmt.Errorf("cspace: retype: slot %d is not Untyped", untypedSlot)
	}
	if kind == Null || kind == Untyped {
		return fmt.Errorf("cspace: retype: invalid destination kind %v", kind)
	}

	size := uint64(1) << sizeBits
	available := src.Size() - src.consumed
	if size > available {
		return fmt.Errorf("cspace: retype: untyped slot %d exhausted (need %#x, have %#x)", untypedSlot, size, available)
	}

	objPA := src.Base + addr.PA(src.consumed)
	src.consumed += size

	objVA, err := alloc.Materialize(kind, objPA, size)
	if err != nil {
		return fmt.Errorf("cspace: retype: materialize object at %#x: %w", objPA, err)
	}

	cnode.Slots[destSlot] = Entry{Kind: kind, ObjectPA: objPA, ObjectVA: objVA, SizeBits: sizeBits}
	return nil
}

// Size returns an Untyped entry's backing byte size. Meaningless for other
// Kinds.
func (e Entry) Size() uint64 { return uint64(1) << e.SizeBits }

// Populate installs the named slots spec.md §4.3 fixes: the self-
// describing CNode cap, the Monitor and InterruptController caps, and the
// init TCB and init root page table retyped out of slot[UntypedStart].
// regions must already be installed starting at UntypedStart by the
// untyped-carving phase (cspace.InstallUntypedRegions) before Populate
// runs; Populate itself only ever reads/retypes slot[UntypedStart] and
// writes the five fixed slots below it, each exactly once.
func Populate(cnode *CNode, cnodePA addr.PA, alloc ObjectAllocator) error {
	radixBits := addr.TrailingZeros64(uint64(cnode.Len()))
	cnode.Slots[InitCSpace] = Entry{
		Kind:        CNodeCap,
		CNodeBase:   cnodePA,
		RadixBits:   radixBits,
		GuardBits:   64 - radixBits,
		Guard:       0,
		CNodeLength: cnode.Len(),
	}

	cnode.Slots[MonitorSlot] = Entry{Kind: Monitor}
	cnode.Slots[IrqController] = Entry{Kind: InterruptController}

	if err := Retype(cnode, int(UntypedStart), int(InitTCB), TCB, 12, alloc); err != nil {
		return fmt.Errorf("cspace: populate InitTCB: %w", err)
	}
	if err := Retype(cnode, int(UntypedStart), int(InitL1PageTable), VTable, 12, alloc); err != nil {
		return fmt.Errorf("cspace: populate InitL1PageTable: %w", err)
	}
	return nil
}

// InstallUntypedRegions is a convenience used by boot.Run and tests: it
// writes a carved region list into cnode starting at UntypedStart via cur,
// the same Alloc call the carving phase performs one region at a time.
func InstallUntypedRegions(cnode *CNode, cur *Cursor, regions []untyped.Region) error {
	for _, r := range regions {
		if _, err := Alloc(cnode, cur, r.Base, r.SizeBits, r.IsDevice); err != nil {
			return err
		}
	}
	return nil
}
