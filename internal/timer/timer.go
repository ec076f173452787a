// Package timer is the board-specific system timer the Handoff phase
// (spec.md §4.6) primes a tick on before activating the scheduler. The ARM
// generic timer is not modelled in this package.
//
// PiSystemTimer's register layout and tick_in semantics are carried
// verbatim from the upstream Rust driver (lib/pi/src/timer.rs): a CS/CLO/
// CHI/COMPARE[4] register block and a "read CLO, add us, write
// COMPARE[1], clear bit 1 of CS" tick sequence.
package timer

import "github.com/michaelengel/lakeos-go/internal/mmio"

// Register offsets within the system timer's MMIO block, matching the
// Rust driver's Registers struct field order (CS, CLO, CHI, COMPARE[4]).
const (
	offCS          = 0x00
	offCLO         = 0x04
	offCHI         = 0x08
	offCompareBase = 0x0C
)

// clearTimer1Match is the CS bit tick_in clears to acknowledge timer 1's
// match (0b0010 in the Rust source).
const clearTimer1Match = 0b0010

// PiSystemTimer is the Raspberry Pi ARM system timer: a free-running
// 64-bit microsecond counter (CLO/CHI) with four compare registers, one
// of which (COMPARE[1], "timer 1") the boot core uses for its periodic
// tick.
type PiSystemTimer struct {
	reg mmio.Block
}

// NewPiSystemTimer wraps reg as a PiSystemTimer. reg is expected to start
// at IO_BASE + 0x3000 on real hardware; the caller is responsible for
// handing in a Block already based at that offset.
func NewPiSystemTimer(reg mmio.Block) *PiSystemTimer {
	return &PiSystemTimer{reg: reg}
}

// Read returns the free-running 64-bit microsecond counter.
func (t *PiSystemTimer) Read() uint64 {
	low := t.reg.ReadAt32(offCLO)
	high := t.reg.ReadAt32(offCHI)
	return uint64(high)<<32 | uint64(low)
}

// TickIn arms timer 1 to match us microseconds from now and clears any
// pending timer 1 interrupt, exactly as the Rust driver's tick_in does.
func (t *PiSystemTimer) TickIn(us uint32) {
	currentLow := t.reg.ReadAt32(offCLO)
	compare := currentLow + us
	t.reg.WriteAt32(offCompareBase+1*4, compare)
	cs := t.reg.ReadAt32(offCS)
	t.reg.WriteAt32(offCS, cs|clearTimer1Match)
}
