// Package vectors holds the EL2 exception vector table and the world-switch
// entry/exit pair: RunGuest, which ERETs into a guest and resumes
// Go execution when that guest later traps back to EL2.
//
// Everything here is hand-written AArch64 assembly (vectors_arm64.s); this
// file only declares the Go-visible surface, the same .go-declares/.s-
// implements split package sysreg uses for individual registers.
package vectors

import (
	"unsafe"

	"github.com/bobuhiro11/arm64hv/sysreg"
	"github.com/bobuhiro11/arm64hv/trapframe"
)

// TrapKind mirrors exit.TrapKind's two cases and adds Fatal, returned for a
// FIQ or SError taken from the guest. It is redeclared here, rather
// than imported from package exit, so that vectors_arm64.s (which only
// knows about raw integers in X0) has a single small, self-contained
// contract with its caller.
type TrapKind uint64

const (
	Synchronous TrapKind = 0
	IRQ         TrapKind = 1
	Fatal       TrapKind = 2
)

// ExitContext is the fixed, per-physical-CPU scratch block addressed by
// TPIDR_EL2. The exit trampoline consults it before it has recovered any
// other context, since TPIDR_EL2 is the only register the architecture
// guarantees is both per-CPU and available at that point.
//
// Running is nonzero from the moment RunGuest is about to ERET until the
// guest traps back; CurrentFrame is the address of the TrapFrame RunGuest
// was called with, valid only while Running is nonzero. Both fields are
// written by assembly, so their offsets are load-bearing: see the
// compile-time assertions below.
type ExitContext struct {
	Running      uint64
	CurrentFrame uintptr

	// IRQ is the host's per-CPU IRQ-acknowledgement callback, invoked by
	// dispatchHostIRQ when a physical IRQ is taken while Running is zero.
	// Assembly never reads this field directly; only the two fields above
	// it have load-bearing offsets.
	IRQ func()
}

const (
	exitContextRunningOffset      = 0
	exitContextCurrentFrameOffset = 8
)

var (
	_ [unsafe.Offsetof(ExitContext{}.Running) - exitContextRunningOffset]byte
	_ [unsafe.Offsetof(ExitContext{}.CurrentFrame) - exitContextCurrentFrameOffset]byte
)

// RunGuest performs one host->guest->host round trip.
//
// It saves the callee-saved host registers (X19-X30, FP, LR) on the current
// Go stack, records the host stack pointer into frame's enclosing struct at
// byte offset trapframe.Size (the host_stack_top field vcpu.VCPU declares
// immediately after its embedded trapframe.TrapFrame), marks ctx.Running
// and ctx.CurrentFrame, loads X0-X30/SP_EL0/ELR_EL2/SPSR_EL2 from frame, and
// ERETs.
//
// When the guest later traps to EL2, the vector table below redirects
// control to this function's exit trampoline as if RunGuest had simply
// returned: it restores the host's saved registers and stack pointer and
// returns normally, with the trap kind (Synchronous, IRQ or Fatal) in its return
// value. The caller must re-read frame afterward to see the guest's exit
// state (the vector handler writes it there before reaching the
// trampoline).
//
// frame must be the first field of its enclosing struct, and ctx must be
// the ExitContext already installed at TPIDR_EL2 for the current physical
// core (see pcpu.HardwareEnable). RunGuest is implemented in
// vectors_arm64.s; it is NOSPLIT and must not be inlined or reordered by
// the compiler relative to the register save/restore it performs in
// assembly, which is why it takes no other Go-visible arguments.
func RunGuest(frame *trapframe.TrapFrame, ctx *ExitContext) TrapKind

// VectorTableBase returns the address of the 16-entry, 2KiB-aligned EL2
// exception vector table installed by this package, suitable for writing
// into VBAR_EL2.
func VectorTableBase() uintptr

// dispatchHostIRQ is called from the vector table's current-EL IRQ stub
// (vectors_arm64.s) when a physical IRQ fires while host code is executing
// at EL2 with no guest running. It recovers this core's ExitContext
// through TPIDR_EL2, the same way the exit trampoline does, and invokes
// the host's acknowledgement callback. Any panic here terminates the
// hypervisor; the dispatcher itself is infallible.
//
// It runs on the interrupted goroutine's stack inside an exception
// context, so it must not grow the stack.
//
//go:nosplit
func dispatchHostIRQ() {
	ctx := (*ExitContext)(unsafe.Pointer(uintptr(sysreg.ReadTPIDREL2())))
	if ctx != nil && ctx.IRQ != nil {
		ctx.IRQ()
	}
}
