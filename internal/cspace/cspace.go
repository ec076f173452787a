// Package cspace implements the initial capability space: a fixed-length
// array of tagged capability slots (CNodeEntry), the named slot indices
// spec.md §3 and §6 fix as a stable ABI contract with user space, and the
// bump-allocated free-slot cursor threaded through every boot-time
// allocator call.
package cspace

import (
	"fmt"

	"github.com/michaelengel/lakeos-go/internal/addr"
)

// Kind tags which variant a CNodeEntry currently holds.
type Kind int

const (
	Null Kind = iota
	Untyped
	CNodeCap
	Monitor
	InterruptController
	TCB
	VTable
	RAM
)

// Entry is a single capability slot. Only the fields relevant to its Kind
// are meaningful; this mirrors the teacher pack's tagged-capability-value
// idiom (a Kind discriminant plus a flat field set) rather than a Go
// interface, because every slot must be representable in a fixed-size
// array with no per-slot heap allocation, the same reason the original
// CNodeEntry is a plain tagged union rather than a boxed trait object.
type Entry struct {
	Kind Kind

	// Untyped fields.
	Base     addr.PA
	SizeBits uint
	IsDevice bool
	// bump offset already consumed from this Untyped by retype.
	consumed uint64

	// CNode fields.
	CNodeBase   addr.PA
	RadixBits   uint
	GuardBits   uint
	Guard       uint64
	CNodeLength int

	// TCB/VTable/RAM fields: the backing frame/table's physical and
	// kernel-virtual address.
	ObjectPA addr.PA
	ObjectVA addr.VA
}

// NamedSlot enumerates the initial CNode's stable, user-space-visible slot
// positions (spec.md §3, §6): InitCSpace, Monitor, IrqController, InitTCB,
// InitL1PageTable, then UntypedStart..cur_free_slot are the untyped caps,
// and the remainder are free.
type NamedSlot int

const (
	InitCSpace NamedSlot = iota
	MonitorSlot
	IrqController
	InitTCB
	InitL1PageTable
	UntypedStart
)

// namedSlotCount is the number of slots named below UntypedStart.
const namedSlotCount = int(UntypedStart)

// CNode is the fixed-length initial capability array (INIT_CSPACE_SIZE
// slots). Slot order is stable: UntypedStart onward is the only region
// cur_free_slot mutates; named slots below it are written exactly once,
// by Populate.
type CNode struct {
	Slots []Entry
}

// New returns a CNode of length size, every slot Null, matching the
// "zero every slot before use" step the original kmain performs before
// populating the CSpace.
func New(size int) (*CNode, error) {
	if size <= namedSlotCount {
		return nil, fmt.Errorf("cspace: size %d too small for %d named slots", size, namedSlotCount)
	}
	if size&(size-1) != 0 {
		return nil, fmt.Errorf("cspace: size %d must be a power of two (radix-addressed CNode)", size)
	}
	return &CNode{Slots: make([]Entry, size)}, nil
}

func (c *CNode) Len() int { return len(c.Slots) }

// Cursor is the explicit bump-index object spec.md §9 calls for in place
// of a hidden global: cur_free_slot, threaded by pointer through every
// allocator call (Populate, the VSpace mapper, the ELF loader) so the
// slot-monotonicity property is locally checkable instead of implicit in
// call order.
//
// Not concurrency-safe: there is exactly one Cursor for exactly one
// single-threaded boot path (spec.md §5); it is never shared across
// threads because there is, at this point in boot, only one thread.
type Cursor struct {
	next int
}

// NewCursor starts a Cursor at UntypedStart, the first slot the untyped
// carving phase is allowed to write.
func NewCursor() *Cursor { return &Cursor{next: int(UntypedStart)} }

// Next returns the next free slot index and advances the cursor. It does
// not check the index against any CNode; callers compare the returned
// index with cnode.Len().
func (c *Cursor) Next() int {
	n := c.next
	c.next++
	return n
}

// Peek returns the next free slot index without advancing.
func (c *Cursor) Peek() int { return c.next }

// Alloc writes an Untyped entry into the next free slot of c and advances
// the cursor; used by the carving phase to install each Region.
func Alloc(cnode *CNode, cur *Cursor, base addr.PA, sizeBits uint, isDevice bool) (int, error) {
	slot := cur.Peek()
	if slot >= cnode.Len() {
		return 0, fmt.Errorf("cspace: out of slots installing untyped at %#x (cnode len %d)", base, cnode.Len())
	}
	cnode.Slots[slot] = Entry{Kind: Untyped, Base: base, SizeBits: sizeBits, IsDevice: isDevice}
	cur.Next()
	return slot, nil
}
