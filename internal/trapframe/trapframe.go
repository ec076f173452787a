// Package trapframe defines the thread control block and the AArch64
// exception-return state the ELF loader programs before handoff.
//
// The ELR/SP/SPSR field set is modeled the way internal/hv/common.go in
// the teacher pack models per-architecture register sets: named fields
// instead of an untyped register-number map, because this module only
// ever needs exactly these three on entry to a freshly loaded thread.
package trapframe

import "github.com/michaelengel/lakeos-go/internal/addr"

// SPSR bit pattern for "DAIF=1111 (masked), M=EL0t, AArch64 execution
// state" — spec.md §4.5's exact constant, computed the same way:
// 0b1111<<6 | 0b00<<4 | 0b00<<2 | 0b0.
const SPSRMaskedEL0t = 0b1111<<6 | 0b00<<4 | 0b00<<2 | 0b0

// TrapFrame carries the AArch64 exception-return registers restored on
// the first (and every subsequent) return to the thread.
type TrapFrame struct {
	ELR  addr.VA // return PC
	SP   addr.VA
	SPSR uint64
}

// CSpaceRef and VSpaceRef name which CNode slot (by index into the owning
// CNode) backs a TCB's capability space root and address space root.
// Using a slot index rather than a pointer is the same (cnode, slot-index)
// addressing spec.md §9 calls for instead of capability-graph pointers.
type CSpaceRef struct{ Slot int }
type VSpaceRef struct{ Slot int }

// TCB is the thread control block: a CSpace reference, a VSpace root
// reference, and a trap frame, per spec.md §3.
type TCB struct {
	CSpace CSpaceRef
	VSpace VSpaceRef
	TF     TrapFrame

	cspaceInstalled bool
	vspaceInstalled bool
}

// InstallCSpace binds slot as the TCB's capability space root. Boot-time
// only; never reached twice for the init thread.
func (t *TCB) InstallCSpace(slot int) {
	t.CSpace = CSpaceRef{Slot: slot}
	t.cspaceInstalled = true
}

// InstallVSpace binds slot as the TCB's address space root.
func (t *TCB) InstallVSpace(slot int) {
	t.VSpace = VSpaceRef{Slot: slot}
	t.vspaceInstalled = true
}

func (t *TCB) CSpaceInstalled() bool { return t.cspaceInstalled }
func (t *TCB) VSpaceInstalled() bool { return t.vspaceInstalled }
