package cspace

import (
	"testing"

	"github.com/michaelengel/lakeos-go/internal/addr"
)

// fakeAllocator is a minimal ObjectAllocator for exercising Retype's
// bookkeeping without depending on the hostmem package (which in turn
// depends on this one).
type fakeAllocator struct {
	nextVA addr.VA
}

func (a *fakeAllocator) Materialize(kind Kind, pa addr.PA, size uint64) (addr.VA, error) {
	va := a.nextVA
	a.nextVA += addr.VA(size)
	return va, nil
}

func TestRetypeConsumesUntyped(t *testing.T) {
	cnode, err := New(64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cur := NewCursor()
	untypedSlot, err := Alloc(cnode, cur, 0x10000, 16, false) // 64 KiB untyped
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	alloc := &fakeAllocator{nextVA: 0x1000_0000}
	destSlot := cur.Next()
	if err := Retype(cnode, untypedSlot, destSlot, RAM, 12, alloc); err != nil {
		t.Fatalf("Retype: %v", err)
	}
	if cnode.Slots[untypedSlot].consumed != 0x1000 {
		t.Errorf("expected 4096 bytes consumed, got %d", cnode.Slots[untypedSlot].consumed)
	}
	if cnode.Slots[destSlot].Kind != RAM {
		t.Errorf("expected destination slot to hold a RAM cap, got %v", cnode.Slots[destSlot].Kind)
	}
}

func TestRetypeExhaustsUntyped(t *testing.T) {
	cnode, err := New(64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cur := NewCursor()
	untypedSlot, err := Alloc(cnode, cur, 0x10000, 12, false) // exactly 4 KiB
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	alloc := &fakeAllocator{}
	if err := Retype(cnode, untypedSlot, cur.Next(), RAM, 12, alloc); err != nil {
		t.Fatalf("first Retype: %v", err)
	}
	if err := Retype(cnode, untypedSlot, cur.Next(), RAM, 12, alloc); err == nil {
		t.Fatal("expected second Retype to fail, untyped is exhausted")
	}
}

func TestRetypeRejectsNonUntypedSource(t *testing.T) {
	cnode, err := New(64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cur := NewCursor()
	alloc := &fakeAllocator{}
	if err := Retype(cnode, int(InitCSpace), cur.Next(), RAM, 12, alloc); err == nil {
		t.Fatal("expected error retyping from a non-Untyped slot")
	}
}

func TestPopulateInstallsNamedSlots(t *testing.T) {
	cnode, err := New(64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cur := NewCursor()
	if _, err := Alloc(cnode, cur, 0x10000, 16, false); err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	alloc := &fakeAllocator{nextVA: 0x2000_0000}
	if err := Populate(cnode, 0x1000, alloc); err != nil {
		t.Fatalf("Populate: %v", err)
	}

	if cnode.Slots[InitCSpace].Kind != CNodeCap {
		t.Errorf("InitCSpace slot should hold a CNode cap")
	}
	if cnode.Slots[MonitorSlot].Kind != Monitor {
		t.Errorf("MonitorSlot should hold a Monitor cap")
	}
	if cnode.Slots[IrqController].Kind != InterruptController {
		t.Errorf("IrqController slot should hold an InterruptController cap")
	}
	if cnode.Slots[InitTCB].Kind != TCB {
		t.Errorf("InitTCB slot should hold a TCB cap")
	}
	if cnode.Slots[InitL1PageTable].Kind != VTable {
		t.Errorf("InitL1PageTable slot should hold a VTable cap")
	}
}
