// Package ptable implements the AArch64 translation-table entry encoding
// used by the kernel VSpace builder and the VSpace mapper: table
// descriptors, 2 MiB block descriptors, and 4 KiB page descriptors.
//
// Bit layout is grounded on the teacher pack's mazboot/golang/main/mmu.go
// PTE_* constants, narrowed to the subset the boot core actually emits
// (table descriptors, 2 MiB blocks, 4 KiB page leaves).
package ptable

// Shareability and AccessPermission model the Level/Shareability/AP
// enumerations spec.md §3 names for block and page entries.
type Shareability int

const (
	ShareabilityNone Shareability = iota
	ShareabilityOuter
	ShareabilityInner
)

type AccessPermission int

const (
	// AccessKernelOnly is AP=0b00: read/write at EL1, no EL0 access.
	AccessKernelOnly AccessPermission = iota
	// AccessUser is AP=0b01: read/write at EL1 and EL0.
	AccessUser
	// AccessKernelReadOnly is AP=0b10: read-only at EL1, no EL0 access.
	AccessKernelReadOnly
	// AccessUserReadOnly is AP=0b11: read-only at EL1 and EL0.
	AccessUserReadOnly
)

type MemoryAttr int

const (
	MemoryNormal MemoryAttr = iota
	MemoryDeviceNGnRnE
)

// Entry is a single 64-bit translation-table descriptor.
type Entry uint64

const (
	entryValid = 1 << 0
	entryTable = 1 << 1 // also the block/page "not-block" discriminator at level 3

	entryAF     = 1 << 10
	entryUXN    = uint64(1) << 54
	entryPXN    = uint64(1) << 53
	shAttrShift = 8
	apShift     = 6
	memAttrIdx0 = 0 << 2 // MAIR[0] = Normal WB cacheable
	memAttrIdx1 = 1 << 2 // MAIR[1] = Device-nGnRnE
)

// TableEntry builds a level N->N+1 table descriptor pointing at next.
func TableEntry(next uint64) Entry {
	return Entry(next | entryValid | entryTable)
}

// BlockEntry builds a 2 MiB block (leaf) descriptor at physical address pa
// with the given access flag / shareability / permission / attribute.
// Bit layout and attribute set are the ones spec.md §4.1 names explicitly:
// AF=1, shareability in {InnerShareable}, AP in {KernelOnly}, attr in
// {Normal-WB, Device-nGnRnE}.
func BlockEntry(pa uint64, af bool, sh Shareability, ap AccessPermission, attr MemoryAttr) Entry {
	e := uint64(pa) | entryValid // bit1==0 marks this a block at PGD/PUD/PD level
	if af {
		e |= entryAF
	}
	e |= shareabilityBits(sh) << shAttrShift
	e |= apBits(ap) << apShift
	e |= attrBits(attr)
	return Entry(e)
}

// PageEntry builds a 4 KiB leaf (level-3 page) descriptor. Level-3
// descriptors require bits[1:0] == 0b11, unlike block entries at the
// levels above.
func PageEntry(pa uint64, perm Permission) Entry {
	e := uint64(pa) | entryValid | entryTable | entryAF
	e |= shareabilityBits(ShareabilityInner) << shAttrShift
	e |= apBits(permToAP(perm)) << apShift
	e |= attrBits(MemoryNormal)
	if !perm.Execute {
		e |= entryUXN
	}
	e |= entryPXN // kernel never executes out of user frames
	return Entry(e)
}

// Permission is the (readable, writable, executable) triple spec.md §4.4
// names; readability is implicit in every mapped leaf so only W/X vary the
// encoding (matching the AArch64 AP/UXN/PXN bit semantics — there is no
// execute-only or write-only AArch64 leaf encoding).
type Permission struct {
	Read    bool
	Write   bool
	Execute bool
}

func permToAP(p Permission) AccessPermission {
	if p.Write {
		return AccessUser
	}
	return AccessUserReadOnly
}

func shareabilityBits(sh Shareability) uint64 {
	switch sh {
	case ShareabilityInner:
		return 3
	case ShareabilityOuter:
		return 2
	default:
		return 0
	}
}

func apBits(ap AccessPermission) uint64 {
	return uint64(ap)
}

func attrBits(attr MemoryAttr) uint64 {
	switch attr {
	case MemoryDeviceNGnRnE:
		return memAttrIdx1
	default:
		return memAttrIdx0
	}
}

// Valid reports whether e has the valid bit set.
func (e Entry) Valid() bool { return e&entryValid != 0 }

// IsTable reports whether e is a table (next-level) descriptor as opposed
// to a block/page leaf. Meaningless at level 3, where bit 1 is part of the
// mandatory 0b11 leaf encoding instead.
func (e Entry) IsTable() bool { return e&entryTable != 0 }

// NextLevelPA extracts the physical address a table or leaf entry points
// at (bits 47:12; the low 12 attribute bits and the upper attribute bits
// such as UXN/PXN are cleared).
func (e Entry) NextLevelPA() uint64 { return uint64(e) & 0x0000_FFFF_FFFF_F000 }

// PageCount is the number of 64-bit entries in one translation table.
const PageCount = 512

// TableBytes is the byte size of one translation table (one page).
const TableBytes = PageCount * 8

// Table is one aligned, zero-initialized 512-entry translation table at
// any level: PGD, PUD, PD, or the PT whose entries the VSpace mapper
// writes 4 KiB page leaves into.
type Table [PageCount]Entry

// Zero returns a freshly zeroed table. Kept as a named constructor, not a
// zero-value literal, to mirror the teacher's explicit one-shot
// initialization discipline for statically allocated arenas (spec.md §9).
func Zero() Table {
	return Table{}
}
