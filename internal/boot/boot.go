// Package boot is the top-level orchestrator: it runs the boot phases
// spec.md §2 lists, in the order Run documents, against whichever Backend/Pool/
// Scheduler implementations the caller wires in (the freestanding build's
// real ones, or the hosted Fakes used by tests and cmd/bootsim).
package boot

import (
	"fmt"
	"log/slog"

	"github.com/michaelengel/lakeos-go/internal/addr"
	"github.com/michaelengel/lakeos-go/internal/atag"
	"github.com/michaelengel/lakeos-go/internal/console"
	"github.com/michaelengel/lakeos-go/internal/cspace"
	"github.com/michaelengel/lakeos-go/internal/elfimage"
	"github.com/michaelengel/lakeos-go/internal/mmio"
	"github.com/michaelengel/lakeos-go/internal/sched"
	"github.com/michaelengel/lakeos-go/internal/timer"
	"github.com/michaelengel/lakeos-go/internal/trapframe"
	"github.com/michaelengel/lakeos-go/internal/untyped"
	"github.com/michaelengel/lakeos-go/internal/vspace"
)

// Pool is everything the VSpace builder, mapper, and ELF loader need from
// the backing object store.
type Pool interface {
	elfimage.Pool
}

// Params bundles every input the boot core needs that isn't reachable
// through one of the hardware-abstraction interfaces below.
type Params struct {
	// Source enumerates firmware-reported memory banks.
	Source atag.Source
	// ELFImage is the embedded init ELF64 image.
	ELFImage []byte
	// CNodeSize is the initial CNode's slot count (a power of two).
	CNodeSize int
	// KernelImageEnd is the linker-provided end of the kernel image's VA
	// range (the `_end` symbol on real hardware); kernel_top is derived
	// from it per spec.md §3's invariant.
	KernelImageEnd uint64
	// TickMicros is the configured timer interval (spec.md §4.6's TICK).
	TickMicros uint32
}

// Result is everything a caller (cmd/bootsim, or a test) might want to
// inspect after a successful Run.
type Result struct {
	CNode     *cspace.CNode
	TCB       *trapframe.TCB
	Regions   []untyped.Region
	KernelPGD int // CNode slot of the kernel's own root table
	RanTCB    *trapframe.TCB
}

// Run executes the Untyped Carver, Initial CSpace Populator, Kernel VSpace
// Builder, ELF Loader, and Handoff phases, in that order (the VSpace
// Mapper runs as a subroutine of the loader). The Kernel VSpace Builder
// retypes its tables out of the first untyped region, so it does not run
// first: it runs after carving and population.
// Any failure is fatal and reported through uart before being returned,
// per spec.md §7 — there is no partial-boot recovery path.
func Run(p Params, alloc cspace.ObjectAllocator, pool Pool, backend vspace.Backend, timerReg mmio.Block, scheduler sched.Scheduler, uart *console.UART) (*Result, error) {
	uart.Banner("lakeos-go boot core starting")
	slog.Info("boot: starting", "cnode_size", p.CNodeSize, "tick_micros", p.TickMicros)

	cnode, err := cspace.New(p.CNodeSize)
	if err != nil {
		return nil, fail(uart, "allocate initial CNode", err)
	}
	cur := cspace.NewCursor()

	kernelTop := addr.NextPowerOfTwo(p.KernelImageEnd - uint64(addr.KernelOffset))
	regions, err := untyped.PopulateFromSource(p.Source, uint64(addr.PhysBase), kernelTop)
	if err != nil {
		return nil, fail(uart, "carve untyped regions", err)
	}
	if err := cspace.InstallUntypedRegions(cnode, cur, regions); err != nil {
		return nil, fail(uart, "install untyped regions", err)
	}
	for i, r := range regions {
		uart.Tracef("untyped[%d]: base=%#x size_bits=%d device=%v", i, r.Base, r.SizeBits, r.IsDevice)
	}
	slog.Info("boot: carved untyped regions", "count", len(regions))

	untypedSlot := int(cspace.UntypedStart)
	// Populate's own fixed-slot retypes (InitTCB, InitL1PageTable) all draw
	// from this same first untyped region, matching spec.md §4.3's "the
	// untyped cap is partially consumed" framing. cnodePA is 0: under the
	// hosted model nothing ever resolves InitCSpace.CNodeBase back to real
	// memory, so there is no physical address to pass here, only a
	// placeholder.
	if err := cspace.Populate(cnode, 0, alloc); err != nil {
		return nil, fail(uart, "populate initial CSpace", err)
	}

	kernelPGDSlot, err := vspace.BuildKernelVSpace(cnode, cur, untypedSlot, alloc, pool, backend)
	if err != nil {
		return nil, fail(uart, "build kernel VSpace", err)
	}
	slog.Info("boot: kernel VSpace built, MMU enabled")

	tcb := &trapframe.TCB{}
	tcb.InstallCSpace(int(cspace.InitCSpace))
	tcb.InstallVSpace(int(cspace.InitL1PageTable))

	rootVA := cnode.Slots[cspace.InitL1PageTable].ObjectVA
	if err := elfimage.Load(p.ELFImage, cnode, cur, untypedSlot, alloc, pool, rootVA, tcb); err != nil {
		return nil, fail(uart, "load init ELF image", err)
	}
	slog.Info("boot: init image loaded", "entry", fmt.Sprintf("%#x", tcb.TF.ELR))

	pit := timer.NewPiSystemTimer(timerReg)
	pit.TickIn(p.TickMicros)

	if err := scheduler.Init(); err != nil {
		return nil, fail(uart, "initialize scheduler", err)
	}
	if err := scheduler.Push(tcb); err != nil {
		return nil, fail(uart, "enqueue init TCB", err)
	}
	ranTCB, err := scheduler.Activate()
	if err != nil {
		return nil, fail(uart, "activate scheduler", err)
	}

	uart.Handoff()
	slog.Info("boot: handoff complete")

	return &Result{
		CNode:     cnode,
		TCB:       tcb,
		Regions:   regions,
		KernelPGD: kernelPGDSlot,
		RanTCB:    ranTCB,
	}, nil
}

func fail(uart *console.UART, step string, err error) error {
	wrapped := fmt.Errorf("boot: %s: %w", step, err)
	uart.Errorf("%s", wrapped)
	slog.Error("boot: fatal", "step", step, "error", err)
	return wrapped
}
