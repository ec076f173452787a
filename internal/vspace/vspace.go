// Package vspace builds the kernel's own page tables and turns the MMU on
// (spec.md §4.1), then provides the on-demand frame mapper every later
// boot phase uses to install new translations into either the kernel's or
// the init thread's VSpace (spec.md §4.4).
//
// The system-register writes (TTBR0_EL1, TCR_EL1, MAIR_EL1, SCTLR_EL1) are
// modeled as a Backend interface the same way internal/hv/riscv/rv64 in
// the teacher pack models CPU-register access behind an interface the MMU
// code never touches directly: the freestanding build's Backend issues the
// real MSR instructions, the hosted build's Backend just records the
// values for test assertions.
package vspace

import (
	"fmt"

	"github.com/michaelengel/lakeos-go/internal/addr"
	"github.com/michaelengel/lakeos-go/internal/cspace"
	"github.com/michaelengel/lakeos-go/internal/ptable"
)

// Backend abstracts the AArch64 system-register writes that commit a
// translation table root and enable the MMU. The freestanding build's
// Backend issues real MSR instructions to TTBR0_EL1/TCR_EL1/MAIR_EL1/
// SCTLR_EL1; Fake (below) just records them for tests.
type Backend interface {
	SetTTBR0(pa addr.PA)
	SetTCR(value uint64)
	SetMAIR(value uint64)
	EnableMMU()
}

// Fake is the hosted Backend used by every test and by cmd/bootsim: it
// never touches a real register, it only records what was written so
// tests can assert the kernel VSpace builder programmed the expected
// values before calling EnableMMU.
type Fake struct {
	TTBR0   addr.PA
	TCR     uint64
	MAIR    uint64
	MMUOn   bool
	ttbrSet bool
	tcrSet  bool
	mairSet bool
}

var _ Backend = (*Fake)(nil)

func NewFake() *Fake { return &Fake{} }

func (f *Fake) SetTTBR0(pa addr.PA) { f.TTBR0 = pa; f.ttbrSet = true }
func (f *Fake) SetTCR(v uint64)     { f.TCR = v; f.tcrSet = true }
func (f *Fake) SetMAIR(v uint64)    { f.MAIR = v; f.mairSet = true }
func (f *Fake) EnableMMU()          { f.MMUOn = true }

// Ready reports whether every register the real MMU-enable sequence
// requires was programmed before EnableMMU ran.
func (f *Fake) Ready() bool { return f.ttbrSet && f.tcrSet && f.mairSet }

// MAIR_EL1 attribute indices the ptable package's MemoryAttr encoding
// assumes: index 0 is Normal write-back cacheable, index 1 is
// Device-nGnRnE. Values are the standard MAIR attribute encodings for
// those two memory types.
const (
	mairNormalWB    = 0xFF
	mairDeviceNGnRE = 0x00
	mairValue       = uint64(mairNormalWB) | uint64(mairDeviceNGnRE)<<8
)

// tcrValue picks a 4 KiB granule, 48-bit output address size TCR_EL1
// configuration with TTBR0 covering the full address space (EPD1 set,
// TTBR1 unused) — the boot core only ever walks TTBR0.
const tcrValue = uint64(16)<<0 | uint64(0b101)<<32 | uint64(1)<<23

// Pool is the subset of hostmem.Pool the builder and mapper need: a way
// to read back the Table a VTable capability's ObjectVA refers to.
type Pool interface {
	Table(va addr.VA) *ptable.Table
}

// pdEntryBytes is the span of one PD-level block descriptor (2 MiB);
// pdSpanBytes is the full span one PD table covers (512 such entries,
// 1 GiB) — KernelBase and IOBase both fall within the first PD a PUD
// entry roots, so the RAM and IO windows below partition that one PD.
const (
	pdEntryBytes = 0x200000
	pdSpanBytes  = 512 * pdEntryBytes
)

// BuildKernelVSpace retypes a fresh root translation table (the PGD) out
// of untypedSlot, walks PGD->PUD->PD for KernelBase and IOBase, installs
// 2 MiB block mappings unconditionally covering the entire RAM window
// PD[index(KernelBase)..index(IOBase)) as Normal/kernel-only/executable
// and the entire remaining IO window PD[index(IOBase)..512) as
// Device-nGnRnE/kernel-only/non-executable, then commits the root via
// backend and calls EnableMMU. Returns the CNode slot the new root
// VTable cap was written to.
func BuildKernelVSpace(cnode *cspace.CNode, cur *cspace.Cursor, untypedSlot int, alloc cspace.ObjectAllocator, pool Pool, backend Backend) (int, error) {
	rootSlot := cur.Next()
	if rootSlot >= cnode.Len() {
		return 0, fmt.Errorf("vspace: out of slots allocating kernel root table")
	}
	if err := cspace.Retype(cnode, untypedSlot, rootSlot, cspace.VTable, addr.PageShift, alloc); err != nil {
		return 0, fmt.Errorf("vspace: retype kernel root table: %w", err)
	}
	root := &cnode.Slots[rootSlot]

	ramWindowBytes := uint64(addr.IOBase) - uint64(addr.KernelBase)
	ioWindowBytes := pdSpanBytes - ramWindowBytes

	kernelPerm := ptable.Permission{Read: true, Write: true, Execute: true}
	if err := identityMapRange(cnode, cur, untypedSlot, alloc, pool, root.ObjectVA, addr.KernelBase, addr.PA(uint64(addr.KernelBase)-uint64(addr.KernelOffset)), ramWindowBytes, kernelPerm, ptable.MemoryNormal); err != nil {
		return 0, fmt.Errorf("vspace: map kernel image: %w", err)
	}

	iomPerm := ptable.Permission{Read: true, Write: true, Execute: false}
	ioPA := addr.PA(uint64(addr.IOBase) - uint64(addr.KernelOffset))
	if err := identityMapRange(cnode, cur, untypedSlot, alloc, pool, root.ObjectVA, addr.IOBase, ioPA, ioWindowBytes, iomPerm, ptable.MemoryDeviceNGnRnE); err != nil {
		return 0, fmt.Errorf("vspace: map IO window: %w", err)
	}

	if err := mapSecondGigabyteMMIO(cnode, cur, untypedSlot, alloc, pool, root.ObjectVA); err != nil {
		return 0, fmt.Errorf("vspace: map second-gigabyte MMIO block: %w", err)
	}

	backend.SetMAIR(mairValue)
	backend.SetTCR(tcrValue)
	backend.SetTTBR0(addr.PA(root.ObjectVA))
	backend.EnableMMU()

	return rootSlot, nil
}

// identityMapRange walks/creates PGD->PUD->PD entries for each 2 MiB
// block covering [va, va+size) and installs a block descriptor at pa+off
// for each, retyping fresh PUD/PD tables out of untypedSlot on demand.
func identityMapRange(cnode *cspace.CNode, cur *cspace.Cursor, untypedSlot int, alloc cspace.ObjectAllocator, pool Pool, rootVA addr.VA, va addr.VA, pa addr.PA, size uint64, perm ptable.Permission, attr ptable.MemoryAttr) error {
	for off := uint64(0); off < size; off += pdEntryBytes {
		pd, err := walkToPD(cnode, cur, untypedSlot, alloc, pool, rootVA, va+addr.VA(off))
		if err != nil {
			return err
		}
		idx := addr.Index(va+addr.VA(off), 2)
		pd[idx] = ptable.BlockEntry(uint64(pa)+off, true, ptable.ShareabilityInner, ptable.AccessKernelOnly, attr)
		if !perm.Execute {
			pd[idx] |= 1 << 54 // UXN; PXN left clear, kernel mappings only
		}
	}
	return nil
}

// secondGigabyteMMIO is the PA of the second gigabyte of MMIO space, given
// a 1 GiB block entry at PUD[index(KERNEL_BASE)+1] instead of being
// broken down into PD-level 2 MiB blocks like the IO window above it.
const secondGigabyteMMIO = addr.PA(0x4000_0000)

// mapSecondGigabyteMMIO installs the single 1 GiB block entry spec.md
// §4.1 calls out separately from the PD-level IO window: PUD[index(
// KERNEL_BASE)+1], Device-nGnRnE, covering the second gigabyte of MMIO in
// one descriptor rather than 512 2 MiB blocks.
func mapSecondGigabyteMMIO(cnode *cspace.CNode, cur *cspace.Cursor, untypedSlot int, alloc cspace.ObjectAllocator, pool Pool, rootVA addr.VA) error {
	pgd := pool.Table(rootVA)
	if pgd == nil {
		return fmt.Errorf("root table %#x not materialized", rootVA)
	}
	pudVA, err := nextLevel(cnode, cur, untypedSlot, alloc, pool, pgd, addr.Index(addr.KernelBase, 0))
	if err != nil {
		return fmt.Errorf("walk PGD->PUD: %w", err)
	}
	pud := pool.Table(pudVA)

	idx := addr.Index(addr.KernelBase, 1) + 1
	pud[idx] = ptable.BlockEntry(uint64(secondGigabyteMMIO), true, ptable.ShareabilityInner, ptable.AccessKernelOnly, ptable.MemoryDeviceNGnRnE)
	pud[idx] |= 1 << 54 // UXN
	return nil
}

// walkToPD walks PGD->PUD->PD for va starting at root, retyping any
// missing PUD/PD table out of untypedSlot. Returns the PD table to write
// a level-2 block entry into.
func walkToPD(cnode *cspace.CNode, cur *cspace.Cursor, untypedSlot int, alloc cspace.ObjectAllocator, pool Pool, rootVA addr.VA, va addr.VA) (*ptable.Table, error) {
	pgd := pool.Table(rootVA)
	if pgd == nil {
		return nil, fmt.Errorf("vspace: root table %#x not materialized", rootVA)
	}

	pudVA, err := nextLevel(cnode, cur, untypedSlot, alloc, pool, pgd, addr.Index(va, 0))
	if err != nil {
		return nil, fmt.Errorf("vspace: walk PGD->PUD: %w", err)
	}
	pud := pool.Table(pudVA)

	pdVA, err := nextLevel(cnode, cur, untypedSlot, alloc, pool, pud, addr.Index(va, 1))
	if err != nil {
		return nil, fmt.Errorf("vspace: walk PUD->PD: %w", err)
	}
	pd := pool.Table(pdVA)
	return pd, nil
}

// nextLevel returns the VA of the table that table[idx] points at,
// retyping a fresh one out of untypedSlot and installing a table
// descriptor if the slot was empty. A slot that already holds a block
// descriptor is reported as an error.
//
// The hosted Pool has no real physical memory behind it, so table
// descriptors here store the child table's hostmem VA directly in the
// field a real implementation would use for the child's PA (the two
// coincide one-to-one under the hosted allocator, the same way the
// freestanding build's PA and kernel VA coincide up to a fixed
// KernelOffset). Either backend resolves a descriptor to a table with one
// arithmetic step, never a search.
func nextLevel(cnode *cspace.CNode, cur *cspace.Cursor, untypedSlot int, alloc cspace.ObjectAllocator, pool Pool, table *ptable.Table, idx uint) (addr.VA, error) {
	if table[idx].Valid() {
		if !table[idx].IsTable() {
			return 0, fmt.Errorf("vspace: entry %d is already a block mapping", idx)
		}
		return addr.VA(table[idx].NextLevelPA()), nil
	}

	slot := cur.Next()
	if slot >= cnode.Len() {
		return 0, fmt.Errorf("vspace: out of slots allocating translation table")
	}
	if err := cspace.Retype(cnode, untypedSlot, slot, cspace.VTable, addr.PageShift, alloc); err != nil {
		return 0, fmt.Errorf("vspace: retype translation table: %w", err)
	}
	childVA := cnode.Slots[slot].ObjectVA
	table[idx] = ptable.TableEntry(uint64(childVA))
	return childVA, nil
}
