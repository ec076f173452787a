//go:build unix

package mmio

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Real is a Block backed by an anonymous mmap'd region. It stands in for a
// real MMIO window when cmd/bootsim runs its "simulated hardware" mode on
// a host instead of bare metal: the same register math and volatile-style
// access pattern as a true physical window, without needing actual
// device-backed memory.
type Real struct {
	mem []byte
}

// NewReal maps a fresh, zeroed, size-byte anonymous region to stand in for
// an MMIO register window.
func NewReal(size int) (*Real, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmio: mmap %d bytes: %w", size, err)
	}
	return &Real{mem: mem}, nil
}

// Close unmaps the backing region.
func (r *Real) Close() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	if err != nil {
		return fmt.Errorf("mmio: munmap: %w", err)
	}
	return nil
}

func (r *Real) ReadAt32(off uint32) uint32 {
	r.checkBounds(off)
	return *(*uint32)(unsafe.Pointer(&r.mem[off]))
}

func (r *Real) WriteAt32(off uint32, val uint32) {
	r.checkBounds(off)
	*(*uint32)(unsafe.Pointer(&r.mem[off])) = val
}

func (r *Real) checkBounds(off uint32) {
	if int(off)+4 > len(r.mem) {
		panic(fmt.Sprintf("mmio: offset %#x out of range for %d-byte real block", off, len(r.mem)))
	}
}
