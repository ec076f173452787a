// Package elfimage parses the embedded init ELF64 image and loads it into
// the init thread's VSpace via vspace.MapFrame, then programs the
// thread's trap frame (spec.md §4.5).
//
// Parsing goes through the standard library's debug/elf, the same package
// internal/asm/arm64/elf.go and internal/linux/boot/amd64/elf.go use in the
// teacher pack for ELF introspection; there is no ecosystem alternative
// the examples reach for instead.
package elfimage

import (
	"bytes"
	"debug/elf"
	"fmt"

	"github.com/michaelengel/lakeos-go/internal/addr"
	"github.com/michaelengel/lakeos-go/internal/cspace"
	"github.com/michaelengel/lakeos-go/internal/ptable"
	"github.com/michaelengel/lakeos-go/internal/trapframe"
	"github.com/michaelengel/lakeos-go/internal/vspace"
)

// InitStackPages and InitStackTop are the fixed init-thread stack layout
// spec.md §4.5's PT_GNU_STACK handling maps relative to.
const (
	InitStackPages = 16
	InitStackTop   = addr.VA(0x0000_0000_8000_0000)
)

// Pool is the subset of hostmem.Pool the loader needs: MapFrame's Table
// lookups plus a way to get at a mapped frame's backing bytes to copy
// file content into.
type Pool interface {
	vspace.Pool
	Frame(va addr.VA) []byte
}

// Load parses data as a statically linked ELF64 image, maps every PT_LOAD
// and PT_GNU_STACK segment into the VSpace rooted at rootVA (retyping
// intermediate page tables and frames out of untypedSlot via
// vspace.MapFrame), and programs tcb.TF with the entry point, stack top,
// and the masked-EL0t SPSR value.
func Load(data []byte, cnode *cspace.CNode, cur *cspace.Cursor, untypedSlot int, alloc cspace.ObjectAllocator, pool Pool, rootVA addr.VA, tcb *trapframe.TCB) error {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("elfimage: open: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 {
		return fmt.Errorf("elfimage: unsupported ELF class %v (want ELFCLASS64)", f.Class)
	}

	for _, prog := range f.Progs {
		switch prog.Type {
		case elf.PT_LOAD:
			if err := loadSegment(prog, cnode, cur, untypedSlot, alloc, pool, rootVA); err != nil {
				return fmt.Errorf("elfimage: PT_LOAD at %#x: %w", prog.Vaddr, err)
			}
		case elf.PT_GNU_STACK:
			if err := mapStack(prog, cnode, cur, untypedSlot, alloc, pool, rootVA); err != nil {
				return fmt.Errorf("elfimage: PT_GNU_STACK: %w", err)
			}
		case elf.PT_NOTE:
			// ignored
		default:
			return fmt.Errorf("elfimage: unsupported program header type %v", prog.Type)
		}
	}

	tcb.TF = trapframe.TrapFrame{
		ELR:  addr.VA(f.Entry),
		SP:   InitStackTop,
		SPSR: trapframe.SPSRMaskedEL0t,
	}
	return nil
}

func permFromFlags(flags elf.ProgFlag) ptable.Permission {
	return ptable.Permission{
		Read:    flags&elf.PF_R != 0,
		Write:   flags&elf.PF_W != 0,
		Execute: flags&elf.PF_X != 0,
	}
}

// loadSegment maps every page-aligned VA in [vaddr, vaddr+memsz) and
// copies the corresponding slice of file content into it, zero-padding
// once filesz is exhausted. A freshly retyped RAM frame is always
// zero-initialized, so no explicit zeroing is needed for the BSS tail or
// a partial boundary page beyond what copy() doesn't overwrite.
func loadSegment(prog *elf.Prog, cnode *cspace.CNode, cur *cspace.Cursor, untypedSlot int, alloc cspace.ObjectAllocator, pool Pool, rootVA addr.VA) error {
	if prog.Memsz == 0 {
		return nil
	}
	perm := permFromFlags(prog.Flags)

	fileBytes := make([]byte, prog.Filesz)
	if prog.Filesz > 0 {
		if _, err := prog.ReadAt(fileBytes, 0); err != nil {
			return fmt.Errorf("read segment content: %w", err)
		}
	}

	base := addr.VA(addr.AlignDown(prog.Vaddr, addr.PageSize))
	end := addr.VA(addr.AlignUp(prog.Vaddr+prog.Memsz, addr.PageSize))

	for va := base; va < end; va += addr.PageSize {
		frameVA, err := vspace.MapFrame(cnode, cur, untypedSlot, alloc, pool, rootVA, va, perm)
		if err != nil {
			return fmt.Errorf("map page %#x: %w", va, err)
		}
		frame := pool.Frame(frameVA)
		if frame == nil {
			return fmt.Errorf("mapped frame %#x has no backing storage", frameVA)
		}

		// file offset of this page within the segment, clamped to filesz;
		// this is the "zip with successive PAGE_SIZE chunks, then
		// zero-filled pages once file bytes are exhausted" loop.
		pageFileStart := int64(va) - int64(prog.Vaddr)
		if pageFileStart < 0 {
			pageFileStart = 0
		}
		if pageFileStart >= int64(len(fileBytes)) {
			continue
		}
		pageFileEnd := pageFileStart + addr.PageSize
		if pageFileEnd > int64(len(fileBytes)) {
			pageFileEnd = int64(len(fileBytes))
		}
		copy(frame, fileBytes[pageFileStart:pageFileEnd])
	}
	return nil
}

// mapStack installs InitStackPages consecutive frames immediately below
// InitStackTop, with permission derived from the PT_GNU_STACK header's
// flags. No file content is copied.
func mapStack(prog *elf.Prog, cnode *cspace.CNode, cur *cspace.Cursor, untypedSlot int, alloc cspace.ObjectAllocator, pool Pool, rootVA addr.VA) error {
	perm := permFromFlags(prog.Flags)
	for i := 0; i < InitStackPages; i++ {
		va := InitStackTop - addr.VA((i+1)*addr.PageSize)
		if _, err := vspace.MapFrame(cnode, cur, untypedSlot, alloc, pool, rootVA, va, perm); err != nil {
			return fmt.Errorf("map stack page %#x: %w", va, err)
		}
	}
	return nil
}
