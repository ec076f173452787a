// Package sched defines the narrow scheduler ABI the boot core's Handoff
// phase calls against (spec.md §4.6): Init, Push, Activate. The real
// scheduler's internals are out of scope (spec.md §1); this package only
// carries the construction primitives the core needs to hand off to it,
// the same way internal/hv/common.go's VirtualCPU interface carries
// exactly the Run/SetRegisters surface a caller needs without exposing
// any hypervisor-internal state.
package sched

import (
	"errors"
	"fmt"

	"github.com/michaelengel/lakeos-go/internal/trapframe"
)

// ErrNoRunnableTCB is returned by Activate when Push was never called.
var ErrNoRunnableTCB = errors.New("sched: no runnable TCB")

// Scheduler is the interface boot.Run's Handoff step drives.
type Scheduler interface {
	// Init prepares scheduler state. Called exactly once, before any Push.
	Init() error
	// Push enqueues tcb as runnable.
	Push(tcb *trapframe.TCB) error
	// Activate hands control to the highest-priority runnable TCB. On real
	// hardware this never returns; the hosted InMemory implementation
	// returns the TCB it would have activated instead, so tests can assert
	// on it.
	Activate() (ranTCB *trapframe.TCB, err error)
}

// InMemory is the hosted reference Scheduler used by tests and
// cmd/bootsim. It implements a single-entry FIFO: exactly the "enqueue the
// init TCB, activate" sequence spec.md §4.6 describes, with no real
// preemption or context switch, since there is no EL0 to return to on a
// host.
type InMemory struct {
	initialized bool
	queue       []*trapframe.TCB
}

var _ Scheduler = (*InMemory)(nil)

func NewInMemory() *InMemory { return &InMemory{} }

func (s *InMemory) Init() error {
	s.initialized = true
	s.queue = s.queue[:0]
	return nil
}

func (s *InMemory) Push(tcb *trapframe.TCB) error {
	if !s.initialized {
		return fmt.Errorf("sched: push before init")
	}
	if tcb == nil {
		return fmt.Errorf("sched: push nil TCB")
	}
	s.queue = append(s.queue, tcb)
	return nil
}

func (s *InMemory) Activate() (*trapframe.TCB, error) {
	if !s.initialized {
		return nil, fmt.Errorf("sched: activate before init")
	}
	if len(s.queue) == 0 {
		return nil, ErrNoRunnableTCB
	}
	ran := s.queue[0]
	s.queue = s.queue[1:]
	return ran, nil
}
